// Package app wires configuration into a running worker: database, ledger
// backend, generator and engine.
package app

import (
	"context"
	"database/sql"
	"fmt"
	"io"
	"time"

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
)

// App is a fully wired worker. The sqlite database is always opened: it holds
// the activity log for every backend and the task board for the sqlite one.
type App struct {
	Workspace string
	Config    *config.Config
	Log       logging.Logger
	DB        *sql.DB
	Repo      repo.Repo
	Events    events.Writer
	Ledger    ledger.Gateway
	Oracle    oracle.Adapter
	Engine    *engine.Engine

	closers []io.Closer
}

type closerFunc func() error

func (f closerFunc) Close() error { return f() }

// Open builds the worker described by cfg inside workspace.
func Open(ctx context.Context, workspace string, cfg *config.Config, log logging.Logger) (*App, error) {
	if cfg == nil {
		cfg = config.Default()
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	log = logging.OrDefault(log)
	conn, err := db.Open(db.Config{Workspace: workspace})
	if err != nil {
		return nil, err
	}
	a := &App{
		Workspace: workspace,
		Config:    cfg,
		Log:       log,
		DB:        conn,
		Repo:      repo.Repo{DB: conn},
		Events:    events.Writer{DB: conn},
		closers:   []io.Closer{conn},
	}
	if err := migrate.Migrate(ctx, conn); err != nil {
		a.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	gw, err := a.openLedger(ctx)
	if err != nil {
		a.Close()
		return nil, err
	}
	a.Ledger = gw

	gen, err := NewGenerator(cfg.Oracle)
	if err != nil {
		a.Close()
		return nil, err
	}
	templates, err := oracle.LoadTemplates(cfg.Oracle.TemplatesFile)
	if err != nil {
		a.Close()
		return nil, err
	}
	a.Oracle = oracle.NewAdapter(gen, templates, cfg.Worker.Locale, cfg.Worker.FallbackLocale)

	a.Engine = engine.New(gw, a.Oracle, cfg.Worker, log)
	a.Engine.Recorder = a.Events
	if cfg.Ledger.Backend == "chain" {
		a.Engine.CompleteGas = cfg.Ledger.CompleteGas
		if a.Engine.CompleteGas == 0 {
			a.Engine.CompleteGas = ledger.DefaultCompleteGas
		}
	}
	return a, nil
}

func (a *App) openLedger(ctx context.Context) (ledger.Gateway, error) {
	lc := a.Config.Ledger
	switch lc.Backend {
	case "chain":
		c, err := ledger.DialChain(ctx, ledger.ChainConfig{
			RPCURL:       lc.RPCURL,
			PrivateKey:   lc.PrivateKey,
			TaskContract: lc.TaskContract,
			ClaimGas:     lc.ClaimGas,
			CompleteGas:  lc.CompleteGas,
		}, a.Log)
		if err != nil {
			return nil, err
		}
		a.closers = append(a.closers, closerFunc(func() error { c.Close(); return nil }))
		return c, nil
	case "sqlite":
		s := ledger.NewStore(a.DB, lc.Account)
		if lc.SeedDemo {
			n, err := s.Seed(ctx, ledger.DemoTasks(time.Now())...)
			if err != nil {
				return nil, fmt.Errorf("seed demo tasks: %w", err)
			}
			if n > 0 {
				a.Log.Infof("ledger: seeded %d demo task(s)", n)
			}
		}
		return s, nil
	default:
		var tasks []domain.Task
		if lc.SeedDemo {
			tasks = ledger.DemoTasks(time.Now())
		}
		m, err := ledger.NewMemory(lc.Account, tasks...)
		if err != nil {
			return nil, err
		}
		return m, nil
	}
}

// NewGenerator builds the configured text generator.
func NewGenerator(oc config.OracleConfig) (oracle.Generator, error) {
	switch oc.Backend {
	case "openai":
		return oracle.OpenAI{
			Endpoint:    oc.Endpoint,
			APIKey:      oc.APIKey,
			Model:       oc.Model,
			Temperature: oc.Temperature,
		}, nil
	case "ollama":
		return oracle.NewOllama(oc.Endpoint, oc.Model, oc.Temperature, nil)
	case "canned", "":
		return oracle.Canned{}, nil
	}
	return nil, fmt.Errorf("unknown oracle backend %q", oc.Backend)
}

// Close releases the ledger connection and the database.
func (a *App) Close() error {
	var first error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i].Close(); err != nil && first == nil {
			first = err
		}
	}
	a.closers = nil
	return first
}
