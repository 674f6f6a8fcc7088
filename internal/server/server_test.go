package server

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"flowai/internal/config"
	"flowai/internal/db"
	"flowai/internal/domain"
	"flowai/internal/engine"
	"flowai/internal/events"
	"flowai/internal/ledger"
	"flowai/internal/logging"
	"flowai/internal/migrate"
	"flowai/internal/oracle"
	"flowai/internal/repo"
	flowaisdk "flowai/sdk/go"
)

const (
	testWorker = "0x9f2C4e6B1a3D5f7E8c0B2a4D6f8E0c1A3b5D7f9E"
	testSecret = "test-secret"
	testAPIKey = "fk-test-123"
)

type testServer struct {
	URL    string
	Repo   repo.Repo
	Ledger *ledger.Memory
	close  func()
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	ctx := context.Background()
	conn, err := db.Open(db.Config{Workspace: t.TempDir()})
	require.NoError(t, err)
	require.NoError(t, migrate.Migrate(ctx, conn))

	mem, err := ledger.NewMemory(testWorker, ledger.DemoTasks(time.Now())...)
	require.NoError(t, err)
	adapter := oracle.NewAdapter(oracle.Canned{}, nil, "en", "zh")
	e := engine.New(mem, adapter, config.WorkerConfig{SkipExpired: true, Locale: "en", FallbackLocale: "zh"}, logging.Discard())
	e.Recorder = events.Writer{DB: conn}

	handler, err := New(Config{
		Engine:   e,
		Repo:     repo.Repo{DB: conn},
		Auth:     AuthConfig{JWTSecret: testSecret, APIKeys: []string{testAPIKey}},
		Locale:   "en",
		Fallback: "zh",
		Log:      logging.Discard(),
	})
	require.NoError(t, err)
	ln, err := net.Listen("tcp4", "127.0.0.1:0")
	require.NoError(t, err)
	srv := &http.Server{Handler: handler}
	go srv.Serve(ln)
	ts := &testServer{
		URL:    "http://" + ln.Addr().String(),
		Repo:   repo.Repo{DB: conn},
		Ledger: mem,
		close: func() {
			srv.Shutdown(context.Background())
			ln.Close()
			conn.Close()
		},
	}
	t.Cleanup(ts.close)
	return ts
}

func (s *testServer) client() *flowaisdk.Client {
	c := flowaisdk.New(s.URL)
	c.APIKey = testAPIKey
	return c
}

func statusOf(t *testing.T, err error) int {
	t.Helper()
	var apiErr *flowaisdk.APIError
	require.True(t, errors.As(err, &apiErr), "expected api error, got %v", err)
	return apiErr.StatusCode
}

func TestHealthIsPublic(t *testing.T) {
	srv := newTestServer(t)
	h, err := flowaisdk.New(srv.URL).Health(context.Background())
	require.NoError(t, err)
	require.Equal(t, "ok", h.Status)
	require.True(t, h.BlockchainConnected)
	require.True(t, h.AgentReady)
}

func TestAuthRequired(t *testing.T) {
	srv := newTestServer(t)
	ctx := context.Background()

	_, err := flowaisdk.New(srv.URL).AvailableTasks(ctx, "")
	require.Equal(t, http.StatusUnauthorized, statusOf(t, err))

	bad := flowaisdk.New(srv.URL)
	bad.APIKey = "wrong"
	_, err = bad.AvailableTasks(ctx, "")
	require.Equal(t, http.StatusUnauthorized, statusOf(t, err))

	token, err := MintToken(testSecret, "ops", time.Hour, time.Now())
	require.NoError(t, err)
	bearer := flowaisdk.New(srv.URL)
	bearer.BearerToken = token
	tasks, err := bearer.AvailableTasks(ctx, "")
	require.NoError(t, err)
	require.Len(t, tasks, 5)

	forged, err := MintToken("other-secret", "ops", time.Hour, time.Now())
	require.NoError(t, err)
	bearer.BearerToken = forged
	_, err = bearer.AvailableTasks(ctx, "")
	require.Equal(t, http.StatusUnauthorized, statusOf(t, err))
}

func TestTaskReads(t *testing.T) {
	srv := newTestServer(t)
	ctx := context.Background()
	c := srv.client()

	tasks, err := c.AvailableTasks(ctx, "zh")
	require.NoError(t, err)
	require.Len(t, tasks, 5)
	require.EqualValues(t, 1, tasks[0].ID)

	en, err := c.Task(ctx, 4, "en")
	require.NoError(t, err)
	zh, err := c.Task(ctx, 4, "zh")
	require.NoError(t, err)
	require.NotEqual(t, en.Title, zh.Title)
	require.Equal(t, "800000000000000000", en.Reward)

	raw, err := c.RawTask(ctx, 4)
	require.NoError(t, err)
	titles, ok := raw.Title.(map[string]any)
	require.True(t, ok, "raw title should keep every locale")
	require.Contains(t, titles, "en")
	require.Contains(t, titles, "zh")

	summary, err := c.TaskSummary(ctx, 5, "")
	require.NoError(t, err)
	require.Equal(t, "3.0000 ETH", summary.RewardEther)
	require.Greater(t, summary.Score, 300.0)

	_, err = c.Task(ctx, 999, "")
	require.Equal(t, http.StatusNotFound, statusOf(t, err))
}

func TestClaimAndComplete(t *testing.T) {
	srv := newTestServer(t)
	ctx := context.Background()
	c := srv.client()

	err := c.CompleteTask(ctx, 2, "too early")
	require.Equal(t, http.StatusConflict, statusOf(t, err))

	require.NoError(t, c.ClaimTask(ctx, 2))
	err = c.ClaimTask(ctx, 2)
	require.Equal(t, http.StatusConflict, statusOf(t, err))

	err = c.CompleteTask(ctx, 2, "")
	require.Equal(t, http.StatusBadRequest, statusOf(t, err))

	_, err = c.TaskResult(ctx, 2)
	require.Equal(t, http.StatusNotFound, statusOf(t, err))

	require.NoError(t, c.CompleteTask(ctx, 2, "package main"))
	err = c.CompleteTask(ctx, 2, "again")
	require.Equal(t, http.StatusConflict, statusOf(t, err))

	result, err := c.TaskResult(ctx, 2)
	require.NoError(t, err)
	require.Equal(t, "package main", result)

	err = c.ClaimTask(ctx, 999)
	require.Equal(t, http.StatusNotFound, statusOf(t, err))

	stats, err := c.WorkerStats(ctx)
	require.NoError(t, err)
	require.EqualValues(t, 1, stats.CompletedTasks)
	require.Equal(t, "2000000000000000000", stats.TotalEarnings)

	bal, err := c.Balance(ctx)
	require.NoError(t, err)
	require.Equal(t, testWorker, bal.Address)
	require.NotEqual(t, "0", bal.Balance)
}

func TestRunWorkSync(t *testing.T) {
	srv := newTestServer(t)
	ctx := context.Background()
	c := srv.client()

	out, err := c.RunWork(ctx, nil)
	require.NoError(t, err)
	require.Equal(t, "success", out.Status, out.Message)
	require.EqualValues(t, 5, out.TaskID)
	require.NotEmpty(t, out.Result)

	// Resume hint for a task we never claimed falls through to the list.
	out, err = c.RunWork(ctx, []uint64{1})
	require.NoError(t, err)
	require.Equal(t, "success", out.Status)
	require.EqualValues(t, 2, out.TaskID)

	page, err := c.EventsPage(ctx, 1, "")
	require.NoError(t, err)
	require.Len(t, page.Items, 1)
	require.Equal(t, events.CycleFinished, page.Items[0].Type)
	require.Equal(t, out.CycleID, page.Items[0].EntityID)
	require.NotEmpty(t, page.NextCursor)

	older, err := c.EventsPage(ctx, 10, page.NextCursor)
	require.NoError(t, err)
	require.Len(t, older.Items, 1)
	require.Less(t, older.Items[0].ID, page.Items[0].ID)
}

func TestStartWorkRunsInBackground(t *testing.T) {
	srv := newTestServer(t)
	ctx := context.Background()
	c := srv.client()

	out, err := c.StartWork(ctx, nil)
	require.NoError(t, err)
	require.Contains(t, []string{"started", "busy"}, out.Status)

	require.Eventually(t, func() bool {
		stats, err := c.WorkerStats(ctx)
		return err == nil && stats.CompletedTasks == 1
	}, 5*time.Second, 20*time.Millisecond)
}

func TestNetworkAndAccount(t *testing.T) {
	srv := newTestServer(t)
	ctx := context.Background()
	c := srv.client()

	info, err := c.NetworkInfo(ctx)
	require.NoError(t, err)
	require.EqualValues(t, 1337, info.ChainID)
	require.True(t, info.IsConnected)

	addr, err := c.AccountAddress(ctx)
	require.NoError(t, err)
	require.Equal(t, testWorker, addr)
}

func TestOpenAPIAndMetrics(t *testing.T) {
	srv := newTestServer(t)

	res, err := http.Get(srv.URL + "/openapi.json")
	require.NoError(t, err)
	defer res.Body.Close()
	require.Equal(t, http.StatusOK, res.StatusCode)
	var doc struct {
		Paths map[string]any `json:"paths"`
	}
	require.NoError(t, json.NewDecoder(res.Body).Decode(&doc))
	require.Contains(t, doc.Paths, "/api/tasks/{id}")
	require.Contains(t, doc.Paths, "/api/agent/work/sync")

	_, err = srv.client().RunWork(context.Background(), nil)
	require.NoError(t, err)
	mres, err := http.Get(srv.URL + "/metrics")
	require.NoError(t, err)
	defer mres.Body.Close()
	body, err := io.ReadAll(mres.Body)
	require.NoError(t, err)
	require.Contains(t, string(body), "flowai_cycles_total")
}

func TestOutcomeStatusMapping(t *testing.T) {
	cases := map[string]int{
		"success":          http.StatusOK,
		"no_tasks":         http.StatusOK,
		"no_suitable_task": http.StatusOK,
		"claim_failed":     http.StatusConflict,
		"busy":             http.StatusConflict,
		"execute_failed":   http.StatusBadGateway,
		"submit_failed":    http.StatusBadGateway,
		"error":            http.StatusInternalServerError,
		"started":          http.StatusAccepted,
	}
	for status, want := range cases {
		require.Equal(t, want, outcomeStatus(domain.OutcomeStatus(status)), status)
	}
}

func TestWebhookDispatch(t *testing.T) {
	srv := newTestServer(t)
	ctx := context.Background()

	var (
		mu       sync.Mutex
		received []webhookEvent
		headers  []http.Header
	)
	hook := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var evt webhookEvent
		_ = json.NewDecoder(r.Body).Decode(&evt)
		mu.Lock()
		received = append(received, evt)
		headers = append(headers, r.Header.Clone())
		mu.Unlock()
		w.WriteHeader(http.StatusNoContent)
	}))
	defer hook.Close()

	w := events.Writer{DB: srv.Repo.DB}
	require.NoError(t, w.Record(ctx, events.TaskClaimed, "task", "1", testWorker, nil))

	d := NewWebhookDispatcher(srv.Repo, []config.WebhookConfig{{
		URL:    hook.URL,
		Events: []string{events.CycleFinished},
		Secret: "s3cret",
	}}, testWorker, logging.Discard())
	// First pass only positions the cursor at the newest event.
	d.DispatchAll(ctx)
	require.Empty(t, received)

	require.NoError(t, w.Record(ctx, events.TaskClaimed, "task", "2", testWorker, nil))
	require.NoError(t, w.Record(ctx, events.CycleFinished, "cycle", "c-1", testWorker, events.EventPayload{"status": "success"}))
	d.DispatchAll(ctx)

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, received, 1)
	require.Equal(t, events.CycleFinished, received[0].Type)
	require.Equal(t, "c-1", received[0].EntityID)
	require.True(t, strings.Contains(string(received[0].Payload), "success"))
	require.Equal(t, "s3cret", headers[0].Get("X-Flowai-Secret"))
	require.Equal(t, events.CycleFinished, headers[0].Get("X-Flowai-Event"))
}
