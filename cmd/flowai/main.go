package main

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"flowai/internal/app"
	"flowai/internal/config"
	"flowai/internal/db"
	"flowai/internal/domain"
	"flowai/internal/engine"
	"flowai/internal/logging"
	"flowai/internal/mcpserver"
	"flowai/internal/migrate"
	"flowai/internal/repo"
	"flowai/internal/scoring"
	"flowai/internal/server"
)

var rootCmd = &cobra.Command{
	Use:   "flowai",
	Short: "FlowAI worker CLI",
	Long: `FlowAI is an autonomous worker for an on-chain task board.
- Ledger: the task board. memory and sqlite simulate it locally; chain talks to the task contract.
- Work cycle: list open tasks, pick the best one, claim it, produce a result, submit it.
- Oracle: the text generator that produces results (openai, ollama or canned).
- Resume: tasks left claimed after a failure are retried before new ones are taken.
- Event log: every finished cycle is recorded, view with 'flowai log tail'.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		workspace := viper.GetString("workspace")
		if _, err := db.EnsureWorkspace(workspace); err != nil {
			return err
		}
		return nil
	},
}

func main() {
	cobra.OnInitialize(initConfig)
	addPersistentFlags()
	registerCommands()
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Println("error:", err)
		stop()
		os.Exit(1)
	}
}

// envKeys maps config keys to the environment variables that override them,
// FLOWAI_ names first.
var envKeys = map[string][]string{
	"ledger.backend":       {"FLOWAI_LEDGER_BACKEND"},
	"ledger.rpc_url":       {"FLOWAI_LEDGER_RPC_URL", "ETHEREUM_RPC_URL"},
	"ledger.private_key":   {"FLOWAI_LEDGER_PRIVATE_KEY", "PRIVATE_KEY"},
	"ledger.account":       {"FLOWAI_LEDGER_ACCOUNT"},
	"ledger.task_contract": {"FLOWAI_LEDGER_TASK_CONTRACT", "TASK_CONTRACT_ADDRESS"},
	"ledger.dao_contract":  {"FLOWAI_LEDGER_DAO_CONTRACT", "DAO_CONTRACT_ADDRESS"},
	"oracle.backend":       {"FLOWAI_ORACLE_BACKEND"},
	"oracle.endpoint":      {"FLOWAI_ORACLE_ENDPOINT"},
	"oracle.api_key":       {"FLOWAI_ORACLE_API_KEY", "OPENAI_API_KEY"},
	"oracle.model":         {"FLOWAI_ORACLE_MODEL"},
	"server.addr":          {"FLOWAI_SERVER_ADDR"},
	"server.jwt_secret":    {"FLOWAI_JWT_SECRET"},
	"server.api_keys":      {"FLOWAI_API_KEYS"},
	"logging.level":        {"FLOWAI_LOG_LEVEL"},
}

func initConfig() {
	viper.SetEnvPrefix("FLOWAI")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_", ".", "_"))
	viper.AutomaticEnv()
	for key, names := range envKeys {
		_ = viper.BindEnv(append([]string{key}, names...)...)
	}
}

func addPersistentFlags() {
	rootCmd.PersistentFlags().StringP("workspace", "w", ".", "workspace directory")
	rootCmd.PersistentFlags().StringP("config", "c", "", "config file (default <workspace>/flowai.yml or flowai.toml)")
	rootCmd.PersistentFlags().Bool("json", false, "output JSON")
	rootCmd.PersistentFlags().String("log-level", "", "log level (debug, info, warn, error)")
	_ = viper.BindPFlag("workspace", rootCmd.PersistentFlags().Lookup("workspace"))
	_ = viper.BindPFlag("config", rootCmd.PersistentFlags().Lookup("config"))
	_ = viper.BindPFlag("json", rootCmd.PersistentFlags().Lookup("json"))
	_ = viper.BindPFlag("log-level", rootCmd.PersistentFlags().Lookup("log-level"))
}

func registerCommands() {
	rootCmd.AddCommand(serveCmd())
	rootCmd.AddCommand(runCmd())
	rootCmd.AddCommand(cycleCmd())
	rootCmd.AddCommand(taskCmd())
	rootCmd.AddCommand(workerCmd())
	rootCmd.AddCommand(networkCmd())
	rootCmd.AddCommand(logCmd())
	rootCmd.AddCommand(configCmd())
	rootCmd.AddCommand(tokenCmd())
	rootCmd.AddCommand(mcpCmd())
}

func serveCmd() *cobra.Command {
	var addr string
	var work bool
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start HTTP API server",
		Long:  "Serve the worker API. With --work the worker loop runs alongside it.",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				sc := a.Config.Server
				if addr == "" {
					addr = sc.Addr
				}
				handler, err := server.New(server.Config{
					Engine:   a.Engine,
					Repo:     a.Repo,
					BasePath: sc.BasePath,
					Auth:     server.AuthConfig{JWTSecret: sc.JWTSecret, APIKeys: sc.APIKeys},
					Locale:   a.Config.Worker.Locale,
					Fallback: a.Config.Worker.FallbackLocale,
					Log:      a.Log,
				})
				if err != nil {
					return err
				}
				hooks := server.NewWebhookDispatcher(a.Repo, a.Config.Webhooks, a.Ledger.Account(), a.Log)
				go hooks.Run(ctx)
				if work {
					go func() {
						if err := a.Engine.Run(ctx); err != nil {
							a.Log.Errorf("worker loop: %v", err)
						}
					}()
				}
				srv := &http.Server{Addr: addr, Handler: handler, ReadHeaderTimeout: 10 * time.Second}
				go func() {
					<-ctx.Done()
					sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
					defer cancel()
					srv.Shutdown(sctx)
				}()
				basePath := sc.BasePath
				if basePath == "" {
					basePath = server.DefaultBasePath
				}
				fmt.Printf("Serving FlowAI API on http://%s%s (OpenAPI at /openapi.json, Swagger UI at /docs, metrics at /metrics)\n", addr, basePath)
				if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
					return err
				}
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "", "listen address (default from config)")
	cmd.Flags().BoolVar(&work, "work", false, "also run the worker loop")
	return cmd
}

func runCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "Run the worker loop until interrupted",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				return a.Engine.Run(ctx)
			})
		},
	}
}

func cycleCmd() *cobra.Command {
	var claimed []uint
	cmd := &cobra.Command{
		Use:   "cycle",
		Short: "Run a single work cycle and print its outcome",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				req := engine.CycleRequest{}
				for _, id := range claimed {
					req.AlreadyClaimed = append(req.AlreadyClaimed, uint64(id))
				}
				out := a.Engine.RunCycle(ctx, req)
				if err := printJSONOrTable(out); err != nil {
					return err
				}
				switch out.Status {
				case domain.StatusError, domain.StatusExecuteFailed, domain.StatusSubmitFailed:
					return fmt.Errorf("cycle %s: %s", out.Status, out.Message)
				}
				return nil
			})
		},
	}
	cmd.Flags().UintSliceVar(&claimed, "already-claimed", nil, "task ids this worker already holds a claim on")
	return cmd
}

func taskCmd() *cobra.Command {
	t := &cobra.Command{
		Use:   "task",
		Short: "Inspect and act on ledger tasks",
	}
	t.AddCommand(taskListCmd())
	t.AddCommand(taskGetCmd())
	t.AddCommand(taskSummaryCmd())
	t.AddCommand(taskClaimCmd())
	t.AddCommand(taskCompleteCmd())
	return t
}

func taskListCmd() *cobra.Command {
	var lang string
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List tasks open for claiming",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				ids, err := a.Ledger.ListAvailable(ctx)
				if err != nil {
					return err
				}
				locale, fallback := locales(a, lang)
				now := time.Now()
				items := make([]scoring.Summary, 0, len(ids))
				for _, id := range ids {
					t, err := a.Ledger.Task(ctx, id)
					if err != nil {
						a.Log.Warnf("skip task %d: %v", id, err)
						continue
					}
					items = append(items, scoring.Summarize(t, now, locale, fallback))
				}
				if viper.GetBool("json") {
					return printJSON(items)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"ID", "Title", "Reward", "Type", "Difficulty", "Time left", "Score"})
				for _, s := range items {
					tw.AppendRow(table.Row{s.ID, s.Title, s.RewardEther, s.Category, s.Difficulty, s.TimeLeft, fmt.Sprintf("%.1f", s.Score)})
				}
				tw.Render()
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&lang, "lang", "", "locale for task text")
	return cmd
}

func taskGetCmd() *cobra.Command {
	var lang string
	var raw bool
	cmd := &cobra.Command{
		Use:   "get <id>",
		Short: "Show task",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseTaskID(args[0])
			if err != nil {
				return err
			}
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				t, err := a.Ledger.Task(ctx, id)
				if err != nil {
					return err
				}
				if raw {
					return printJSONOrTable(t)
				}
				locale, fallback := locales(a, lang)
				return printJSONOrTable(map[string]any{
					"id":           t.ID,
					"title":        t.Title.Resolve(locale, fallback),
					"description":  t.Description.Resolve(locale, fallback),
					"requirements": t.Requirements.Resolve(locale, fallback),
					"reward":       domain.FormatEther(t.Reward),
					"task_type":    t.Category,
					"deadline":     domain.FormatTimestamp(t.Deadline),
					"publisher":    t.Publisher,
					"worker":       domain.FormatAddress(t.Worker, 8),
					"is_claimed":   t.IsClaimed,
					"is_completed": t.IsCompleted,
				})
			})
		},
	}
	cmd.Flags().StringVar(&lang, "lang", "", "locale for task text")
	cmd.Flags().BoolVar(&raw, "raw", false, "show every locale")
	return cmd
}

func taskSummaryCmd() *cobra.Command {
	var lang string
	cmd := &cobra.Command{
		Use:   "summary <id>",
		Short: "Summarize task with score and effort estimate",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseTaskID(args[0])
			if err != nil {
				return err
			}
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				t, err := a.Ledger.Task(ctx, id)
				if err != nil {
					return err
				}
				locale, fallback := locales(a, lang)
				return printJSONOrTable(scoring.Summarize(t, time.Now(), locale, fallback))
			})
		},
	}
	cmd.Flags().StringVar(&lang, "lang", "", "locale for task text")
	return cmd
}

func taskClaimCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "claim <id>",
		Short: "Claim task for this worker",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseTaskID(args[0])
			if err != nil {
				return err
			}
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				ok, err := a.Ledger.Claim(ctx, id)
				if err != nil {
					return err
				}
				if !ok {
					return fmt.Errorf("task %d cannot be claimed", id)
				}
				return printJSONOrTable(map[string]any{"task_id": id, "success": true})
			})
		},
	}
}

func taskCompleteCmd() *cobra.Command {
	var result, resultFile string
	cmd := &cobra.Command{
		Use:   "complete <id>",
		Short: "Submit a result for a claimed task",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseTaskID(args[0])
			if err != nil {
				return err
			}
			if resultFile != "" {
				data, err := os.ReadFile(resultFile)
				if err != nil {
					return err
				}
				result = string(data)
			}
			if strings.TrimSpace(result) == "" {
				return fmt.Errorf("--result or --result-file required")
			}
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				ok, err := a.Ledger.Complete(ctx, id, result)
				if err != nil {
					return err
				}
				if !ok {
					return fmt.Errorf("task %d is not claimed by this worker or already completed", id)
				}
				return printJSONOrTable(map[string]any{"task_id": id, "success": true})
			})
		},
	}
	cmd.Flags().StringVar(&result, "result", "", "result text")
	cmd.Flags().StringVar(&resultFile, "result-file", "", "read result from file")
	return cmd
}

func workerCmd() *cobra.Command {
	w := &cobra.Command{Use: "worker", Short: "Worker reputation and funds"}
	w.AddCommand(&cobra.Command{
		Use:   "stats",
		Short: "Show reputation and earnings",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				s, err := a.Engine.WorkerStats(ctx)
				if err != nil {
					return err
				}
				return printJSONOrTable(map[string]any{
					"address":         s.Address,
					"reputation":      s.Reputation,
					"completed_tasks": s.CompletedTasks,
					"total_earnings":  domain.FormatEther(s.TotalEarnings),
					"is_active":       s.IsActive,
				})
			})
		},
	})
	w.AddCommand(&cobra.Command{
		Use:   "balance",
		Short: "Show native balance",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				bal, err := a.Engine.Balance(ctx)
				if err != nil {
					return err
				}
				return printJSONOrTable(map[string]any{
					"address": a.Ledger.Account(),
					"balance": domain.FormatEther(bal),
				})
			})
		},
	})
	return w
}

func networkCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "network",
		Short: "Show ledger network status",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				n, err := a.Ledger.NetworkStatus(ctx)
				if err != nil {
					return err
				}
				return printJSONOrTable(map[string]any{
					"chain_id":     n.ChainID,
					"block_number": n.LatestBlock,
					"gas_price":    domain.ToEther(n.FeeEstimate).Shift(9).String() + " gwei",
					"is_connected": n.Connected,
					"account":      a.Ledger.Account(),
				})
			})
		},
	}
}

func logCmd() *cobra.Command {
	log := &cobra.Command{
		Use:   "log",
		Short: "Event log",
		Long:  "Every finished work cycle, with its status, task and reward.",
	}
	log.AddCommand(logTailCmd())
	return log
}

func logTailCmd() *cobra.Command {
	var n int
	var f repo.EventFilters
	cmd := &cobra.Command{
		Use:   "tail",
		Short: "Tail events",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRepo(cmd.Context(), func(ctx context.Context, r repo.Repo) error {
				f.Limit = n
				events, err := r.LatestEvents(ctx, f)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(events)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"ID", "Time", "Type", "Entity", "Payload"})
				for _, e := range events {
					tw.AppendRow(table.Row{e.ID, e.TS, e.Type, e.EntityKind + ":" + e.EntityID, e.Payload})
				}
				tw.Render()
				return nil
			})
		},
	}
	cmd.Flags().IntVar(&n, "n", 20, "number of events")
	cmd.Flags().StringVar(&f.Type, "type", "", "event type filter")
	cmd.Flags().StringVar(&f.EntityKind, "entity-kind", "", "entity kind")
	cmd.Flags().StringVar(&f.EntityID, "entity-id", "", "entity id")
	return cmd
}

func configCmd() *cobra.Command {
	cfg := &cobra.Command{
		Use:   "config",
		Short: "Inspect worker config",
		Long:  "Config lives in flowai.yml (or flowai.toml) in the workspace. Environment variables and the workspace .env file override it.",
	}
	cfg.AddCommand(configShowCmd())
	cfg.AddCommand(configInitCmd())
	cfg.AddCommand(configValidateCmd())
	cfg.AddCommand(configSetEnvCmd())
	return cfg
}

func configShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show",
		Short: "Show effective config (secrets masked)",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			return printJSONOrTable(masked(*cfg))
		},
	}
}

func configInitCmd() *cobra.Command {
	var force bool
	cmd := &cobra.Command{
		Use:   "init",
		Short: "Write a default flowai.yml",
		RunE: func(cmd *cobra.Command, args []string) error {
			path := config.Path(viper.GetString("workspace"))
			if _, err := os.Stat(path); err == nil && !force {
				return fmt.Errorf("%s already exists (use --force to overwrite)", path)
			}
			if err := os.WriteFile(path, []byte(config.GenerateDefault()), 0o644); err != nil {
				return err
			}
			fmt.Printf("Wrote %s\n", path)
			return nil
		},
	}
	cmd.Flags().BoolVar(&force, "force", false, "overwrite an existing file")
	return cmd
}

func configValidateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "validate",
		Short: "Validate effective config",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err == nil {
				err = cfg.Validate()
			}
			if viper.GetBool("json") {
				return printJSON(map[string]any{"ok": err == nil, "error": fmt.Sprint(err)})
			}
			if err != nil {
				return err
			}
			fmt.Println("config OK")
			return nil
		},
	}
}

func configSetEnvCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "set-env <KEY> <VALUE>",
		Short: "Store a variable in the workspace .env file",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			key := strings.TrimSpace(args[0])
			if key == "" || strings.ContainsAny(key, "= \t") {
				return fmt.Errorf("invalid variable name %q", args[0])
			}
			workspace := viper.GetString("workspace")
			if err := setEnvValue(filepath.Join(workspace, ".env"), key, args[1]); err != nil {
				return err
			}
			fmt.Printf("Set %s in %s/.env\n", key, workspace)
			return nil
		},
	}
}

func tokenCmd() *cobra.Command {
	var subject string
	var ttl time.Duration
	cmd := &cobra.Command{
		Use:   "token",
		Short: "Mint a bearer token for the HTTP API",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			token, err := server.MintToken(cfg.Server.JWTSecret, subject, ttl, time.Now())
			if err != nil {
				return err
			}
			if viper.GetBool("json") {
				return printJSON(map[string]any{"token": token, "subject": subject})
			}
			fmt.Println(token)
			return nil
		},
	}
	cmd.Flags().StringVar(&subject, "subject", "operator", "token subject")
	cmd.Flags().DurationVar(&ttl, "ttl", 24*time.Hour, "token lifetime (0 for no expiry)")
	return cmd
}

func mcpCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "mcp",
		Short: "Serve worker tools over MCP on stdio",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				return mcpserver.Serve(ctx, a.Engine, mcpserver.Options{
					Locale:   a.Config.Worker.Locale,
					Fallback: a.Config.Worker.FallbackLocale,
				})
			})
		},
	}
}

// --- helpers ---

// loadConfig reads the config file and layers the workspace .env file and
// process environment on top.
func loadConfig() (*config.Config, error) {
	workspace := viper.GetString("workspace")
	var (
		cfg *config.Config
		err error
	)
	if path := viper.GetString("config"); path != "" {
		cfg, err = config.FromFile(path)
	} else {
		cfg, err = config.Load(workspace)
	}
	if err != nil {
		return nil, err
	}
	dotenv := viper.New()
	if path := filepath.Join(workspace, ".env"); fileExists(path) {
		dotenv.SetConfigFile(path)
		dotenv.SetConfigType("env")
		if err := dotenv.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read .env: %w", err)
		}
	}
	lookup := func(key string) string {
		if v := strings.TrimSpace(viper.GetString(key)); v != "" {
			return v
		}
		for _, name := range envKeys[key] {
			if v := strings.TrimSpace(dotenv.GetString(strings.ToLower(name))); v != "" {
				return v
			}
		}
		return ""
	}
	set := func(key string, dst *string) {
		if v := lookup(key); v != "" {
			*dst = v
		}
	}
	set("ledger.backend", &cfg.Ledger.Backend)
	set("ledger.rpc_url", &cfg.Ledger.RPCURL)
	set("ledger.private_key", &cfg.Ledger.PrivateKey)
	set("ledger.account", &cfg.Ledger.Account)
	set("ledger.task_contract", &cfg.Ledger.TaskContract)
	set("ledger.dao_contract", &cfg.Ledger.DAOContract)
	set("oracle.backend", &cfg.Oracle.Backend)
	set("oracle.endpoint", &cfg.Oracle.Endpoint)
	set("oracle.api_key", &cfg.Oracle.APIKey)
	set("oracle.model", &cfg.Oracle.Model)
	set("server.addr", &cfg.Server.Addr)
	set("server.jwt_secret", &cfg.Server.JWTSecret)
	set("logging.level", &cfg.Logging.Level)
	if keys := lookup("server.api_keys"); keys != "" {
		cfg.Server.APIKeys = splitList(keys)
	}
	if lvl := viper.GetString("log-level"); lvl != "" {
		cfg.Logging.Level = lvl
	}
	return cfg, nil
}

func withApp(ctx context.Context, fn func(context.Context, *app.App) error) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	log := logging.New(os.Stderr, logging.ParseLevel(cfg.Logging.Level))
	a, err := app.Open(ctx, viper.GetString("workspace"), cfg, log)
	if err != nil {
		return err
	}
	defer a.Close()
	return fn(ctx, a)
}

// withRepo opens only the activity log, so it works without ledger access.
func withRepo(ctx context.Context, fn func(context.Context, repo.Repo) error) error {
	workspace := viper.GetString("workspace")
	conn, err := db.Open(db.Config{Workspace: workspace})
	if err != nil {
		return err
	}
	defer conn.Close()
	if err := migrate.Migrate(ctx, conn); err != nil {
		return err
	}
	return fn(ctx, repo.Repo{DB: conn})
}

func locales(a *app.App, lang string) (string, string) {
	if lang == "" {
		lang = a.Config.Worker.Locale
	}
	return lang, a.Config.Worker.FallbackLocale
}

func parseTaskID(s string) (uint64, error) {
	id, err := strconv.ParseUint(strings.TrimSpace(s), 10, 64)
	if err != nil || id == 0 {
		return 0, fmt.Errorf("invalid task id %q", s)
	}
	return id, nil
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}

func masked(cfg config.Config) config.Config {
	mask := func(s string) string {
		if s == "" {
			return ""
		}
		return "****"
	}
	cfg.Ledger.PrivateKey = mask(cfg.Ledger.PrivateKey)
	cfg.Oracle.APIKey = mask(cfg.Oracle.APIKey)
	cfg.Server.JWTSecret = mask(cfg.Server.JWTSecret)
	keys := make([]string, len(cfg.Server.APIKeys))
	for i, k := range cfg.Server.APIKeys {
		keys[i] = mask(k)
	}
	cfg.Server.APIKeys = keys
	hooks := make([]config.WebhookConfig, len(cfg.Webhooks))
	copy(hooks, cfg.Webhooks)
	for i := range hooks {
		hooks[i].Secret = mask(hooks[i].Secret)
	}
	cfg.Webhooks = hooks
	return cfg
}

func fileExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}

func printJSONOrTable(v any) error {
	if viper.GetBool("json") {
		return printJSON(v)
	}
	b, _ := json.MarshalIndent(v, "", "  ")
	fmt.Println(string(b))
	return nil
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func setEnvValue(path, key, value string) error {
	var lines []string
	seen := false
	f, err := os.Open(path)
	if err == nil {
		scanner := bufio.NewScanner(f)
		for scanner.Scan() {
			line := scanner.Text()
			if strings.HasPrefix(line, key+"=") {
				lines = append(lines, fmt.Sprintf("%s=%s", key, value))
				seen = true
			} else {
				lines = append(lines, line)
			}
		}
		if err := scanner.Err(); err != nil {
			f.Close()
			return err
		}
		f.Close()
	} else if !os.IsNotExist(err) {
		return err
	}
	if !seen {
		lines = append(lines, fmt.Sprintf("%s=%s", key, value))
	}
	content := strings.Join(lines, "\n")
	if content != "" && !strings.HasSuffix(content, "\n") {
		content += "\n"
	}
	return os.WriteFile(path, []byte(content), 0o600)
}
