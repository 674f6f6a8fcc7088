package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestDefaultIsValid(t *testing.T) {
	cfg := Default()
	require.NoError(t, cfg.Validate())
	require.Equal(t, 30*time.Second, cfg.Worker.IdleDelay)
	require.Equal(t, 10*time.Second, cfg.Worker.ErrorBackoff)
	require.True(t, cfg.Worker.SkipExpired)
	require.Equal(t, "memory", cfg.Ledger.Backend)
	require.Equal(t, "canned", cfg.Oracle.Backend)
	require.Equal(t, "/api", cfg.Server.BasePath)
	require.EqualValues(t, 200000, cfg.Ledger.ClaimGas)
}

func TestFromYAMLLayersOverDefaults(t *testing.T) {
	cfg, err := FromYAML([]byte(`
worker:
  idle_delay: 2m
oracle:
  backend: ollama
  model: llama3
webhooks:
  - url: http://127.0.0.1:9999/hook
    events: [cycle.finished]
`))
	require.NoError(t, err)
	require.Equal(t, 2*time.Minute, cfg.Worker.IdleDelay)
	require.Equal(t, 10*time.Second, cfg.Worker.ErrorBackoff)
	require.Equal(t, "ollama", cfg.Oracle.Backend)
	require.Equal(t, "llama3", cfg.Oracle.Model)
	require.Len(t, cfg.Webhooks, 1)
	require.Equal(t, []string{"cycle.finished"}, cfg.Webhooks[0].Events)
}

func TestFromTOML(t *testing.T) {
	cfg, err := FromTOML([]byte(`
[worker]
error_backoff = "45s"
locale = "zh"

[ledger]
backend = "sqlite"
`))
	require.NoError(t, err)
	require.Equal(t, 45*time.Second, cfg.Worker.ErrorBackoff)
	require.Equal(t, "zh", cfg.Worker.Locale)
	require.Equal(t, "sqlite", cfg.Ledger.Backend)
	require.Equal(t, "0.0.0.0:8000", cfg.Server.Addr)
}

func TestValidateRejects(t *testing.T) {
	cases := map[string]string{
		"backend":   "ledger:\n  backend: ipfs\n",
		"chain rpc": "ledger:\n  backend: chain\n  private_key: abc\n  task_contract: \"0x1111111111111111111111111111111111111111\"\n",
		"contract":  "ledger:\n  backend: chain\n  rpc_url: http://localhost:8545\n  private_key: abc\n",
		"openai":    "oracle:\n  backend: openai\n",
		"temp":      "oracle:\n  temperature: 3\n",
		"base path": "server:\n  base_path: api\n",
		"webhook":   "webhooks:\n  - events: [task.claimed]\n",
		"idle":      "worker:\n  idle_delay: 0s\n",
	}
	for name, doc := range cases {
		_, err := FromYAML([]byte(doc))
		require.Error(t, err, name)
	}
}

func TestLoadPrefersYAMLThenTOML(t *testing.T) {
	dir := t.TempDir()
	cfg, err := Load(dir)
	require.NoError(t, err)
	require.Equal(t, "memory", cfg.Ledger.Backend)

	require.NoError(t, os.WriteFile(filepath.Join(dir, "flowai.toml"), []byte("[ledger]\nbackend = \"sqlite\"\n"), 0o644))
	cfg, err = Load(dir)
	require.NoError(t, err)
	require.Equal(t, "sqlite", cfg.Ledger.Backend)

	require.NoError(t, os.WriteFile(Path(dir), []byte("logging:\n  level: debug\n"), 0o644))
	cfg, err = Load(dir)
	require.NoError(t, err)
	require.Equal(t, "memory", cfg.Ledger.Backend)
	require.Equal(t, "debug", cfg.Logging.Level)
}

func TestGenerateDefaultRoundTrips(t *testing.T) {
	cfg, err := FromYAML([]byte(GenerateDefault()))
	require.NoError(t, err)
	require.Equal(t, Default(), cfg)
}
