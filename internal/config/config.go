package config

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"gopkg.in/yaml.v3"

	"flowai/internal/domain"
)

// Config models flowai.yml (or flowai.toml).
type Config struct {
	Worker   WorkerConfig    `yaml:"worker" toml:"worker"`
	Ledger   LedgerConfig    `yaml:"ledger" toml:"ledger"`
	Oracle   OracleConfig    `yaml:"oracle" toml:"oracle"`
	Server   ServerConfig    `yaml:"server" toml:"server"`
	Logging  LoggingConfig   `yaml:"logging" toml:"logging"`
	Webhooks []WebhookConfig `yaml:"webhooks" toml:"webhooks"`
}

type WorkerConfig struct {
	IdleDelay      time.Duration `yaml:"idle_delay" toml:"idle_delay"`
	ErrorBackoff   time.Duration `yaml:"error_backoff" toml:"error_backoff"`
	SkipExpired    bool          `yaml:"skip_expired" toml:"skip_expired"`
	Locale         string        `yaml:"locale" toml:"locale"`
	FallbackLocale string        `yaml:"fallback_locale" toml:"fallback_locale"`
}

type LedgerConfig struct {
	// Backend is memory, sqlite or chain.
	Backend      string `yaml:"backend" toml:"backend"`
	RPCURL       string `yaml:"rpc_url" toml:"rpc_url"`
	PrivateKey   string `yaml:"private_key" toml:"private_key"`
	Account      string `yaml:"account" toml:"account"`
	TaskContract string `yaml:"task_contract" toml:"task_contract"`
	DAOContract  string `yaml:"dao_contract" toml:"dao_contract"`
	ClaimGas     uint64 `yaml:"claim_gas" toml:"claim_gas"`
	CompleteGas  uint64 `yaml:"complete_gas" toml:"complete_gas"`
	SeedDemo     bool   `yaml:"seed_demo" toml:"seed_demo"`
}

type OracleConfig struct {
	// Backend is openai, ollama or canned.
	Backend       string  `yaml:"backend" toml:"backend"`
	Endpoint      string  `yaml:"endpoint" toml:"endpoint"`
	APIKey        string  `yaml:"api_key" toml:"api_key"`
	Model         string  `yaml:"model" toml:"model"`
	Temperature   float64 `yaml:"temperature" toml:"temperature"`
	TemplatesFile string  `yaml:"templates_file" toml:"templates_file"`
}

type ServerConfig struct {
	Addr      string   `yaml:"addr" toml:"addr"`
	BasePath  string   `yaml:"base_path" toml:"base_path"`
	JWTSecret string   `yaml:"jwt_secret" toml:"jwt_secret"`
	APIKeys   []string `yaml:"api_keys" toml:"api_keys"`
}

type LoggingConfig struct {
	Level string `yaml:"level" toml:"level"`
}

type WebhookConfig struct {
	URL     string        `yaml:"url" toml:"url"`
	Events  []string      `yaml:"events" toml:"events"`
	Secret  string        `yaml:"secret" toml:"secret"`
	Timeout time.Duration `yaml:"timeout" toml:"timeout"`
	Enabled *bool         `yaml:"enabled" toml:"enabled"`
}

var (
	ledgerBackends = map[string]bool{"memory": true, "sqlite": true, "chain": true}
	oracleBackends = map[string]bool{"openai": true, "ollama": true, "canned": true}
)

// Validate ensures the config meets required structure.
func (c *Config) Validate() error {
	if c.Worker.IdleDelay <= 0 {
		return fmt.Errorf("config.worker.idle_delay must be positive")
	}
	if c.Worker.ErrorBackoff <= 0 {
		return fmt.Errorf("config.worker.error_backoff must be positive")
	}
	if !ledgerBackends[c.Ledger.Backend] {
		return fmt.Errorf("config.ledger.backend must be one of memory, sqlite, chain")
	}
	if c.Ledger.Backend == "chain" {
		if strings.TrimSpace(c.Ledger.RPCURL) == "" {
			return fmt.Errorf("config.ledger.rpc_url is required for the chain backend")
		}
		if strings.TrimSpace(c.Ledger.PrivateKey) == "" {
			return fmt.Errorf("config.ledger.private_key is required for the chain backend")
		}
		if !domain.ValidAddress(c.Ledger.TaskContract) || domain.IsZeroAddress(c.Ledger.TaskContract) {
			return fmt.Errorf("config.ledger.task_contract must be a non-zero address for the chain backend")
		}
	} else if c.Ledger.Account != "" && !domain.ValidAddress(c.Ledger.Account) {
		return fmt.Errorf("config.ledger.account %q is not a valid address", c.Ledger.Account)
	}
	if c.Ledger.DAOContract != "" && !domain.ValidAddress(c.Ledger.DAOContract) {
		return fmt.Errorf("config.ledger.dao_contract %q is not a valid address", c.Ledger.DAOContract)
	}
	if !oracleBackends[c.Oracle.Backend] {
		return fmt.Errorf("config.oracle.backend must be one of openai, ollama, canned")
	}
	if c.Oracle.Backend == "openai" && strings.TrimSpace(c.Oracle.APIKey) == "" {
		return fmt.Errorf("config.oracle.api_key is required for the openai backend")
	}
	if c.Oracle.Backend != "canned" && strings.TrimSpace(c.Oracle.Model) == "" {
		return fmt.Errorf("config.oracle.model is required")
	}
	if c.Oracle.Temperature < 0 || c.Oracle.Temperature > 2 {
		return fmt.Errorf("config.oracle.temperature must be within [0,2]")
	}
	if c.Server.BasePath != "" && !strings.HasPrefix(c.Server.BasePath, "/") {
		return fmt.Errorf("config.server.base_path must start with /")
	}
	for i, hook := range c.Webhooks {
		if strings.TrimSpace(hook.URL) == "" {
			return fmt.Errorf("webhook %d has empty url", i)
		}
	}
	return nil
}

// Path returns the YAML config path for a workspace.
func Path(workspace string) string {
	if workspace == "" {
		workspace = "."
	}
	return filepath.Join(workspace, "flowai.yml")
}

// Load reads flowai.yml or flowai.toml from the workspace, falling back to
// defaults when neither exists.
func Load(workspace string) (*Config, error) {
	yml := Path(workspace)
	tml := strings.TrimSuffix(yml, ".yml") + ".toml"
	for _, p := range []string{yml, tml} {
		if _, err := os.Stat(p); err == nil {
			return FromFile(p)
		} else if !os.IsNotExist(err) {
			return nil, err
		}
	}
	return Default(), nil
}

// GenerateDefault returns default config YAML.
func GenerateDefault() string {
	return defaultTemplate
}

// Default returns the default Config struct.
func Default() *Config {
	var cfg Config
	_ = yaml.NewDecoder(bytes.NewBufferString(defaultTemplate)).Decode(&cfg)
	return &cfg
}

// FromYAML parses and validates config from raw YAML bytes layered over defaults.
func FromYAML(data []byte) (*Config, error) {
	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("invalid config yaml: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// FromTOML parses and validates config from raw TOML bytes layered over defaults.
func FromTOML(data []byte) (*Config, error) {
	cfg := Default()
	if _, err := toml.Decode(string(data), cfg); err != nil {
		return nil, fmt.Errorf("invalid config toml: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// FromFile reads config from path, choosing the format by extension.
func FromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	if strings.EqualFold(filepath.Ext(path), ".toml") {
		return FromTOML(data)
	}
	return FromYAML(data)
}

const defaultTemplate = `worker:
  idle_delay: 30s
  error_backoff: 10s
  skip_expired: true
  locale: en
  fallback_locale: zh

ledger:
  # memory and sqlite run the built-in simulation; chain talks to the task contract.
  backend: memory
  seed_demo: true
  account: "0x9f2C4e6B1a3D5f7E8c0B2a4D6f8E0c1A3b5D7f9E"
  claim_gas: 200000
  complete_gas: 300000

oracle:
  backend: canned
  endpoint: https://ark.cn-beijing.volces.com/api/v3
  model: deepseek-v3-250324
  temperature: 0.7

server:
  addr: 0.0.0.0:8000
  base_path: /api

logging:
  level: info
`
