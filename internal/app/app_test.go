package app

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"flowai/internal/config"
	"flowai/internal/domain"
	"flowai/internal/engine"
	"flowai/internal/events"
	"flowai/internal/ledger"
	"flowai/internal/logging"
	"flowai/internal/oracle"
	"flowai/internal/repo"
)

func TestOpenMemoryBackendRunsCycle(t *testing.T) {
	ctx := context.Background()
	a, err := Open(ctx, t.TempDir(), config.Default(), logging.Discard())
	require.NoError(t, err)
	defer a.Close()

	_, ok := a.Ledger.(*ledger.Memory)
	require.True(t, ok)

	out := a.Engine.RunCycle(ctx, engine.CycleRequest{})
	require.Equal(t, domain.StatusSuccess, out.Status, out.Message)
	require.Contains(t, out.Result, "Deliverable for")

	evts, err := a.Repo.LatestEvents(ctx, repo.EventFilters{Type: events.CycleFinished, Limit: 5})
	require.NoError(t, err)
	require.Len(t, evts, 1)
	require.Equal(t, out.CycleID, evts[0].EntityID)
}

func TestOpenSQLiteBackendSeedsOnce(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	cfg := config.Default()
	cfg.Ledger.Backend = "sqlite"

	a, err := Open(ctx, dir, cfg, logging.Discard())
	require.NoError(t, err)
	ids, err := a.Ledger.ListAvailable(ctx)
	require.NoError(t, err)
	require.Len(t, ids, 5)
	out := a.Engine.RunCycle(ctx, engine.CycleRequest{})
	require.Equal(t, domain.StatusSuccess, out.Status, out.Message)
	require.NoError(t, a.Close())

	a, err = Open(ctx, dir, cfg, logging.Discard())
	require.NoError(t, err)
	defer a.Close()
	ids, err = a.Ledger.ListAvailable(ctx)
	require.NoError(t, err)
	require.Len(t, ids, 4)

	stats, err := a.Engine.WorkerStats(ctx)
	require.NoError(t, err)
	require.EqualValues(t, 1, stats.CompletedTasks)
}

func TestOpenRejectsInvalidConfig(t *testing.T) {
	cfg := config.Default()
	cfg.Ledger.Backend = "paper"
	_, err := Open(context.Background(), t.TempDir(), cfg, logging.Discard())
	require.Error(t, err)
}

func TestNewGenerator(t *testing.T) {
	gen, err := NewGenerator(config.OracleConfig{Backend: "openai", APIKey: "k", Model: "m"})
	require.NoError(t, err)
	require.Equal(t, "openai", gen.Name())

	gen, err = NewGenerator(config.OracleConfig{Backend: "ollama", Model: "llama3"})
	require.NoError(t, err)
	require.IsType(t, &oracle.Ollama{}, gen)

	gen, err = NewGenerator(config.OracleConfig{})
	require.NoError(t, err)
	require.Equal(t, "canned", gen.Name())

	_, err = NewGenerator(config.OracleConfig{Backend: "gpt-in-a-box"})
	require.Error(t, err)
}
