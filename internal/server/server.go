package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"path"
	"strings"
	"sync"
	"time"

	"github.com/danielgtaylor/huma/v2"
	humachi "github.com/danielgtaylor/huma/v2/adapters/humachi"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"flowai/internal/domain"
	"flowai/internal/engine"
	"flowai/internal/ledger"
	"flowai/internal/logging"
	"flowai/internal/repo"
	"flowai/internal/scoring"
)

const DefaultBasePath = "/api"

// Config for the HTTP API handler.
type Config struct {
	Engine   *engine.Engine
	Repo     repo.Repo
	BasePath string
	Auth     AuthConfig
	// Locale and Fallback apply when a request carries no lang parameter.
	Locale   string
	Fallback string
	Log      logging.Logger
	Now      func() time.Time
}

func (c Config) now() time.Time {
	if c.Now != nil {
		return c.Now()
	}
	return time.Now()
}

func (c Config) lang(requested string) string {
	if strings.TrimSpace(requested) != "" {
		return requested
	}
	return c.Locale
}

type apiErrorBody struct {
	Code    string         `json:"code" example:"claim_refused"`
	Message string         `json:"message" example:"task 3 is already claimed"`
	Details map[string]any `json:"details,omitempty" jsonschema:"type=object,additionalProperties=true" example:"{\"task_id\":3}"`
}

// apiError models the required error envelope.
type apiError struct {
	status int
	Body   apiErrorBody `json:"error"`
}

func (e *apiError) GetStatus() int { return e.status }
func (e *apiError) Error() string  { return e.Body.Message }

// New returns an HTTP handler exposing the worker API.
func New(cfg Config) (http.Handler, error) {
	if cfg.Engine == nil {
		return nil, errors.New("server: engine is required")
	}
	basePath := cfg.BasePath
	if basePath == "" {
		basePath = DefaultBasePath
	}
	if !strings.HasPrefix(basePath, "/") {
		basePath = "/" + basePath
	}
	if cfg.Log == nil {
		cfg.Log = logging.Default()
	}
	if cfg.Auth.Logger == nil {
		cfg.Auth.Logger = cfg.Log
	}
	huma.DefaultArrayNullable = false
	// Override Huma errors to use the envelope.
	huma.NewError = func(status int, msg string, errs ...error) huma.StatusError {
		return newAPIError(status, "", msg, nil)
	}
	huma.NewErrorWithContext = func(_ huma.Context, status int, msg string, errs ...error) huma.StatusError {
		if status == http.StatusUnprocessableEntity && strings.Contains(strings.ToLower(msg), "validation") {
			// Schema/request validation errors should be 400 bad_request
			status = http.StatusBadRequest
		}
		var details map[string]any
		if len(errs) > 0 {
			details = map[string]any{"errors": errs}
		}
		return newAPIError(status, "", msg, details)
	}

	router := chi.NewRouter()
	router.Use(middleware.RequestID)
	router.Use(middleware.RealIP)
	router.Use(middleware.Recoverer)
	router.Use(newAuthMiddleware(basePath, cfg.Auth))
	router.Handle("/metrics", promhttp.Handler())

	hcfg := huma.DefaultConfig("FlowAI Worker API", "0.3.0")
	hcfg.OpenAPIPath = ""
	hcfg.DocsPath = "" // custom Swagger UI below
	api := humachi.New(router, hcfg)
	group := huma.NewGroup(api, basePath)

	registerDocs(router)
	registerHealth(group, cfg)
	registerTasks(group, cfg)
	registerWorker(group, cfg)
	registerAgent(group, cfg)
	registerNetwork(group, cfg)
	registerEvents(group, cfg)
	registerOpenAPI(router, api, basePath)

	return router, nil
}

func newAPIError(status int, code, message string, details map[string]any) huma.StatusError {
	if code == "" {
		code = defaultCodeForStatus(status)
	}
	return &apiError{
		status: status,
		Body: apiErrorBody{
			Code:    code,
			Message: message,
			Details: details,
		},
	}
}

func handleError(err error) huma.StatusError {
	if err == nil {
		return nil
	}
	var se huma.StatusError
	if errors.As(err, &se) {
		return se
	}
	switch {
	case errors.Is(err, ledger.ErrTaskNotFound):
		return newAPIError(http.StatusNotFound, "not_found", err.Error(), nil)
	case errors.Is(err, ledger.ErrInvalidTask):
		return newAPIError(http.StatusUnprocessableEntity, "invalid_task", err.Error(), nil)
	case errors.Is(err, repo.ErrNotFound):
		return newAPIError(http.StatusNotFound, "not_found", err.Error(), nil)
	case errors.Is(err, context.DeadlineExceeded):
		return newAPIError(http.StatusGatewayTimeout, "ledger_timeout", "ledger did not answer in time", map[string]any{"error": err.Error()})
	default:
		return newAPIError(http.StatusBadGateway, "ledger_error", "ledger request failed", map[string]any{"error": err.Error()})
	}
}

func defaultCodeForStatus(status int) string {
	switch status {
	case http.StatusBadRequest:
		return "bad_request"
	case http.StatusNotFound:
		return "not_found"
	case http.StatusConflict:
		return "conflict"
	case http.StatusUnprocessableEntity:
		return "validation_failed"
	case http.StatusUnauthorized:
		return "unauthorized"
	case http.StatusInternalServerError:
		return "internal_error"
	default:
		return strings.ToLower(strings.ReplaceAll(http.StatusText(status), " ", "_"))
	}
}

// outcomeStatus maps a cycle outcome to its HTTP status.
func outcomeStatus(s domain.OutcomeStatus) int {
	switch s {
	case domain.StatusStarted:
		return http.StatusAccepted
	case domain.StatusClaimFailed, domain.StatusBusy:
		return http.StatusConflict
	case domain.StatusExecuteFailed, domain.StatusSubmitFailed:
		return http.StatusBadGateway
	case domain.StatusError:
		return http.StatusInternalServerError
	default:
		return http.StatusOK
	}
}

func registerDocs(r chi.Router) {
	r.Get("/docs", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		io.WriteString(w, swaggerHTML())
	})
}

func registerOpenAPI(r chi.Router, api huma.API, basePath string) {
	var (
		once sync.Once
		spec []byte
	)
	r.Get("/openapi.json", func(w http.ResponseWriter, r *http.Request) {
		once.Do(func() {
			oas := api.OpenAPI()
			ensureDefaultErrorResponses(oas)
			applyAuthSecurity(oas, basePath)
			spec, _ = json.Marshal(oas)
		})
		w.Header().Set("Content-Type", "application/json")
		w.Write(spec)
	})
}

func ensureDefaultErrorResponses(oas *huma.OpenAPI) {
	if oas == nil || oas.Paths == nil {
		return
	}
	for _, item := range oas.Paths {
		for _, op := range []*huma.Operation{
			item.Get, item.Put, item.Post, item.Delete, item.Options, item.Head, item.Patch, item.Trace,
		} {
			if op == nil {
				continue
			}
			if op.Responses == nil {
				op.Responses = map[string]*huma.Response{}
			}
			op.Responses["default"] = &huma.Response{
				Description: "Error",
				Content: map[string]*huma.MediaType{
					"application/json": {
						Schema: &huma.Schema{Ref: "#/components/schemas/ApiError"},
					},
				},
			}
		}
	}
}

func applyAuthSecurity(oas *huma.OpenAPI, basePath string) {
	if oas == nil {
		return
	}
	if oas.Components == nil {
		oas.Components = &huma.Components{}
	}
	if oas.Components.SecuritySchemes == nil {
		oas.Components.SecuritySchemes = map[string]*huma.SecurityScheme{}
	}
	oas.Components.SecuritySchemes["bearerAuth"] = &huma.SecurityScheme{
		Type:         "http",
		Scheme:       "bearer",
		BearerFormat: "JWT",
	}
	oas.Components.SecuritySchemes["apiKeyAuth"] = &huma.SecurityScheme{
		Type: "apiKey",
		In:   "header",
		Name: "X-Api-Key",
	}
	security := []map[string][]string{
		{"bearerAuth": {}},
		{"apiKeyAuth": {}},
	}
	oas.Security = security
	healthPath := path.Join("/", basePath, "health")
	for route, item := range oas.Paths {
		for _, op := range []*huma.Operation{
			item.Get, item.Put, item.Post, item.Delete, item.Options, item.Head, item.Patch, item.Trace,
		} {
			if op == nil {
				continue
			}
			if route == healthPath {
				op.Security = []map[string][]string{}
				continue
			}
			op.Security = security
		}
	}
}

func swaggerHTML() string {
	return `<!doctype html>
<html lang="en">
  <head>
    <meta charset="utf-8"/>
    <meta name="viewport" content="width=device-width, initial-scale=1"/>
    <title>FlowAI Worker API Docs</title>
    <link rel="stylesheet" href="https://unpkg.com/swagger-ui-dist@5/swagger-ui.css" />
  </head>
  <body>
    <div id="swagger-ui"></div>
    <script src="https://unpkg.com/swagger-ui-dist@5/swagger-ui-bundle.js" crossorigin></script>
    <script>
      window.onload = () => {
        SwaggerUIBundle({
          url: '/openapi.json',
          dom_id: '#swagger-ui'
        });
      };
    </script>
    <p style="padding: 1rem; font-family: sans-serif; color: #444;">
      Authenticate with Authorization: Bearer &lt;token&gt; or X-Api-Key.
    </p>
  </body>
</html>`
}

func registerHealth(api huma.API, cfg Config) {
	e := cfg.Engine
	huma.Register(api, huma.Operation{
		OperationID: "health",
		Method:      http.MethodGet,
		Path:        "/health",
		Summary:     "Health check",
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body HealthResponse `json:"body"`
	}, error) {
		net, _ := e.Ledger.NetworkStatus(ctx)
		return &struct {
			Body HealthResponse `json:"body"`
		}{Body: HealthResponse{
			Status:              "ok",
			BlockchainConnected: net.Connected,
			AgentReady:          e.Oracle != nil,
			CycleInFlight:       e.Busy(),
		}}, nil
	})
}

type taskPathInput struct {
	ID   uint64 `path:"id" minimum:"1"`
	Lang string `query:"lang" doc:"Preferred locale for multi-language fields"`
}

func registerTasks(api huma.API, cfg Config) {
	e := cfg.Engine
	huma.Register(api, huma.Operation{
		OperationID: "list-available-tasks",
		Method:      http.MethodGet,
		Path:        "/tasks/available",
		Summary:     "List tasks open for claiming",
	}, func(ctx context.Context, input *struct {
		Lang string `query:"lang"`
	}) (*struct {
		Body struct {
			Items []TaskResponse `json:"items"`
			Total int            `json:"total"`
		} `json:"body"`
	}, error) {
		ids, err := e.Ledger.ListAvailable(ctx)
		if err != nil {
			return nil, handleError(err)
		}
		out := &struct {
			Body struct {
				Items []TaskResponse `json:"items"`
				Total int            `json:"total"`
			} `json:"body"`
		}{}
		out.Body.Items = []TaskResponse{}
		lang := cfg.lang(input.Lang)
		for _, id := range ids {
			t, err := e.Ledger.Task(ctx, id)
			if err != nil {
				cfg.Log.Warnf("server: skip task %d: %v", id, err)
				continue
			}
			out.Body.Items = append(out.Body.Items, taskResponse(t, lang, cfg.Fallback))
		}
		out.Body.Total = len(out.Body.Items)
		return out, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-task",
		Method:      http.MethodGet,
		Path:        "/tasks/{id}",
		Summary:     "Get a task",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *taskPathInput) (*struct {
		Body TaskResponse `json:"body"`
	}, error) {
		t, err := e.Ledger.Task(ctx, input.ID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body TaskResponse `json:"body"`
		}{Body: taskResponse(t, cfg.lang(input.Lang), cfg.Fallback)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-task-raw",
		Method:      http.MethodGet,
		Path:        "/tasks/{id}/raw",
		Summary:     "Get a task with every locale",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *taskPathInput) (*struct {
		Body RawTaskResponse `json:"body"`
	}, error) {
		t, err := e.Ledger.Task(ctx, input.ID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body RawTaskResponse `json:"body"`
		}{Body: rawTaskResponse(t)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-task-summary",
		Method:      http.MethodGet,
		Path:        "/tasks/{id}/summary",
		Summary:     "Summarize a task with score and effort estimate",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *taskPathInput) (*struct {
		Body scoring.Summary `json:"body"`
	}, error) {
		t, err := e.Ledger.Task(ctx, input.ID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body scoring.Summary `json:"body"`
		}{Body: scoring.Summarize(t, cfg.now(), cfg.lang(input.Lang), cfg.Fallback)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-task-result",
		Method:      http.MethodGet,
		Path:        "/tasks/{id}/result",
		Summary:     "Get the result submitted for a completed task",
		Errors:      []int{http.StatusNotFound, http.StatusNotImplemented},
	}, func(ctx context.Context, input *struct {
		ID uint64 `path:"id" minimum:"1"`
	}) (*struct {
		Body TaskResultResponse `json:"body"`
	}, error) {
		reader, ok := e.Ledger.(ledger.ResultReader)
		if !ok {
			return nil, newAPIError(http.StatusNotImplemented, "not_supported", "this ledger backend does not keep submitted results", nil)
		}
		result, err := reader.Result(ctx, input.ID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body TaskResultResponse `json:"body"`
		}{Body: TaskResultResponse{TaskID: input.ID, Result: result}}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "claim-task",
		Method:      http.MethodPost,
		Path:        "/tasks/{id}/claim",
		Summary:     "Claim a task for this worker",
		Errors:      []int{http.StatusNotFound, http.StatusConflict},
	}, func(ctx context.Context, input *struct {
		ID uint64 `path:"id" minimum:"1"`
	}) (*struct {
		Body TaskActionResponse `json:"body"`
	}, error) {
		ok, err := e.Ledger.Claim(ctx, input.ID)
		if err != nil {
			return nil, handleError(err)
		}
		if !ok {
			return nil, newAPIError(http.StatusConflict, "claim_refused", fmt.Sprintf("task %d cannot be claimed", input.ID), map[string]any{"task_id": input.ID})
		}
		return &struct {
			Body TaskActionResponse `json:"body"`
		}{Body: TaskActionResponse{TaskID: input.ID, Success: true, Message: "task claimed"}}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "complete-task",
		Method:      http.MethodPost,
		Path:        "/tasks/{id}/complete",
		Summary:     "Submit a result for a claimed task",
		Errors:      []int{http.StatusBadRequest, http.StatusNotFound, http.StatusConflict},
	}, func(ctx context.Context, input *struct {
		ID   uint64 `path:"id" minimum:"1"`
		Body CompleteTaskRequest
	}) (*struct {
		Body TaskActionResponse `json:"body"`
	}, error) {
		if strings.TrimSpace(input.Body.Result) == "" {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "result is required", nil)
		}
		ok, err := e.Ledger.Complete(ctx, input.ID, input.Body.Result)
		if err != nil {
			return nil, handleError(err)
		}
		if !ok {
			return nil, newAPIError(http.StatusConflict, "completion_refused", fmt.Sprintf("task %d is not claimed by this worker or already completed", input.ID), map[string]any{"task_id": input.ID})
		}
		return &struct {
			Body TaskActionResponse `json:"body"`
		}{Body: TaskActionResponse{TaskID: input.ID, Success: true, Message: "task completed"}}, nil
	})
}

func registerWorker(api huma.API, cfg Config) {
	e := cfg.Engine
	huma.Register(api, huma.Operation{
		OperationID: "worker-stats",
		Method:      http.MethodGet,
		Path:        "/worker/stats",
		Summary:     "Reputation and earnings of this worker",
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body WorkerStatsResponse `json:"body"`
	}, error) {
		stats, err := e.WorkerStats(ctx)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body WorkerStatsResponse `json:"body"`
		}{Body: statsResponse(stats)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "worker-balance",
		Method:      http.MethodGet,
		Path:        "/worker/balance",
		Summary:     "Native balance of this worker",
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body BalanceResponse `json:"body"`
	}, error) {
		bal, err := e.Balance(ctx)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body BalanceResponse `json:"body"`
		}{Body: BalanceResponse{Address: e.Ledger.Account(), Balance: weiString(bal), Ether: domain.FormatEther(bal)}}, nil
	})
}

type outcomeOutput struct {
	Status int
	Body   domain.Outcome
}

func registerAgent(api huma.API, cfg Config) {
	e := cfg.Engine
	huma.Register(api, huma.Operation{
		OperationID:   "start-work-cycle",
		Method:        http.MethodPost,
		Path:          "/agent/work",
		Summary:       "Start a work cycle in the background",
		DefaultStatus: http.StatusAccepted,
		Errors:        []int{http.StatusConflict},
	}, func(ctx context.Context, input *struct {
		Body *WorkRequest `required:"false"`
	}) (*outcomeOutput, error) {
		now := cfg.now().UTC().Format(time.RFC3339)
		if e.Busy() {
			return &outcomeOutput{Status: http.StatusConflict, Body: domain.Outcome{
				Status:     domain.StatusBusy,
				Stage:      domain.StageListing,
				Message:    engine.ErrCycleInProgress.Error(),
				StartedAt:  now,
				FinishedAt: now,
			}}, nil
		}
		req := engine.CycleRequest{}
		if input.Body != nil {
			req.AlreadyClaimed = input.Body.AlreadyClaimed
		}
		if p, ok := principalFromContext(ctx); ok {
			cfg.Log.Infof("server: work cycle requested by %s (%s)", p.Subject, p.Source)
		}
		go e.RunCycle(context.WithoutCancel(ctx), req)
		return &outcomeOutput{Status: http.StatusAccepted, Body: domain.Outcome{
			Status:    domain.StatusStarted,
			Stage:     domain.StageListing,
			Message:   "work cycle started",
			StartedAt: now,
		}}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "run-work-cycle",
		Method:      http.MethodPost,
		Path:        "/agent/work/sync",
		Summary:     "Run one work cycle and wait for its outcome",
		Errors:      []int{http.StatusConflict, http.StatusInternalServerError, http.StatusBadGateway},
	}, func(ctx context.Context, input *struct {
		Body *WorkRequest `required:"false"`
	}) (*outcomeOutput, error) {
		req := engine.CycleRequest{}
		if input.Body != nil {
			req.AlreadyClaimed = input.Body.AlreadyClaimed
		}
		out := e.RunCycle(ctx, req)
		return &outcomeOutput{Status: outcomeStatus(out.Status), Body: out}, nil
	})
}

func registerNetwork(api huma.API, cfg Config) {
	e := cfg.Engine
	huma.Register(api, huma.Operation{
		OperationID: "network-info",
		Method:      http.MethodGet,
		Path:        "/network/info",
		Summary:     "Ledger network status",
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body NetworkResponse `json:"body"`
	}, error) {
		net, err := e.Ledger.NetworkStatus(ctx)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body NetworkResponse `json:"body"`
		}{Body: networkResponse(net)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "account-address",
		Method:      http.MethodGet,
		Path:        "/account/address",
		Summary:     "Worker account address",
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body AccountResponse `json:"body"`
	}, error) {
		addr := e.Ledger.Account()
		return &struct {
			Body AccountResponse `json:"body"`
		}{Body: AccountResponse{Address: addr, Short: domain.FormatAddress(addr, 8)}}, nil
	})
}

func registerEvents(api huma.API, cfg Config) {
	huma.Register(api, huma.Operation{
		OperationID: "list-events",
		Method:      http.MethodGet,
		Path:        "/events",
		Summary:     "List recent activity",
		Errors:      []int{http.StatusBadRequest},
	}, func(ctx context.Context, input *struct {
		Type       string `query:"type"`
		EntityKind string `query:"entity_kind" enum:"task,cycle"`
		EntityID   string `query:"entity_id"`
		Limit      int    `query:"limit" default:"50"`
		Cursor     int64  `query:"cursor" doc:"Return events older than this id"`
	}) (*struct {
		Body paginatedEvents `json:"body"`
	}, error) {
		if cfg.Repo.DB == nil {
			return nil, newAPIError(http.StatusServiceUnavailable, "activity_log_unavailable", "activity log is not configured", nil)
		}
		limit := normalizeLimit(input.Limit)
		items, err := cfg.Repo.LatestEvents(ctx, repo.EventFilters{
			Type:       input.Type,
			EntityKind: input.EntityKind,
			EntityID:   input.EntityID,
			Before:     input.Cursor,
			Limit:      limit + 1,
		})
		if err != nil {
			return nil, newAPIError(http.StatusInternalServerError, "internal_error", "internal error", map[string]any{"error": err.Error()})
		}
		resp := paginatedEvents{Items: []EventResponse{}}
		if len(items) > limit {
			resp.NextCursor = fmt.Sprintf("%d", items[limit-1].ID)
			items = items[:limit]
		}
		for _, evt := range items {
			resp.Items = append(resp.Items, eventResponse(evt))
		}
		return &struct {
			Body paginatedEvents `json:"body"`
		}{Body: resp}, nil
	})
}

func normalizeLimit(in int) int {
	if in <= 0 {
		return 50
	}
	if in > 200 {
		return 200
	}
	return in
}

func decodePayload(raw string) any {
	if strings.TrimSpace(raw) == "" {
		return map[string]any{}
	}
	var v any
	if err := json.Unmarshal([]byte(raw), &v); err != nil {
		return raw
	}
	return v
}
