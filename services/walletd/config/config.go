package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"gopkg.in/yaml.v3"

	"tronnode/tron"
)

// Duration wraps time.Duration so it can be written as "30s" in YAML or TOML.
type Duration struct {
	time.Duration
}

// UnmarshalYAML parses human readable duration strings.
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	if value == nil {
		return nil
	}
	if value.Kind != yaml.ScalarNode {
		return fmt.Errorf("duration must be string")
	}
	return d.UnmarshalText([]byte(value.Value))
}

// UnmarshalText implements encoding.TextUnmarshaler for TOML.
func (d *Duration) UnmarshalText(text []byte) error {
	raw := strings.TrimSpace(string(text))
	if raw == "" {
		d.Duration = 0
		return nil
	}
	parsed, err := time.ParseDuration(raw)
	if err != nil {
		return fmt.Errorf("parse duration %q: %w", raw, err)
	}
	d.Duration = parsed
	return nil
}

// Index backends.
const (
	IndexBackendFile    = "file"
	IndexBackendSQL     = "sql"
	IndexBackendLevelDB = "leveldb"
	IndexBackendBolt    = "bolt"
)

// Database drivers.
const (
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
)

// Config captures runtime configuration for walletd.
type Config struct {
	Env           string          `yaml:"env" toml:"env"`
	Network       string          `yaml:"network" toml:"network"`
	ListenAddress string          `yaml:"listen" toml:"listen"`
	Tokens        []string        `yaml:"tokens" toml:"tokens"`
	Node          NodeConfig      `yaml:"node" toml:"node"`
	Database      DatabaseConfig  `yaml:"database" toml:"database"`
	WalletIndex   IndexConfig     `yaml:"wallet_index" toml:"wallet_index"`
	Central       CentralConfig   `yaml:"central" toml:"central"`
	Refresh       RefreshConfig   `yaml:"refresh" toml:"refresh"`
	Admin         AdminConfig     `yaml:"admin" toml:"admin"`
	Logging       LoggingConfig   `yaml:"logging" toml:"logging"`
	Telemetry     TelemetryConfig `yaml:"telemetry" toml:"telemetry"`
}

// NodeConfig points at the Tron full node.
type NodeConfig struct {
	URL               string      `yaml:"url" toml:"url"`
	APIKey            string      `yaml:"api_key" toml:"api_key"`
	Timeout           Duration    `yaml:"timeout" toml:"timeout"`
	CallTimeout       Duration    `yaml:"call_timeout" toml:"call_timeout"`
	RequestsPerSecond float64     `yaml:"requests_per_second" toml:"requests_per_second"`
	Burst             int         `yaml:"burst" toml:"burst"`
	Retry             RetryConfig `yaml:"retry" toml:"retry"`
}

// RetryConfig tunes retries of transient node failures. MaxRetries defaults to
// DefaultMaxRetries when omitted; an explicit 0 disables retries.
type RetryConfig struct {
	MaxRetries      *int     `yaml:"max_retries" toml:"max_retries"`
	InitialInterval Duration `yaml:"initial_interval" toml:"initial_interval"`
	MaxInterval     Duration `yaml:"max_interval" toml:"max_interval"`
	MaxElapsed      Duration `yaml:"max_elapsed" toml:"max_elapsed"`
}

// DatabaseConfig selects the contract metadata database. For sqlite, DSN may be
// a plain file path.
type DatabaseConfig struct {
	Driver string `yaml:"driver" toml:"driver"`
	DSN    string `yaml:"dsn" toml:"dsn"`
}

// IndexConfig selects where the wallet index counter lives.
type IndexConfig struct {
	Backend string `yaml:"backend" toml:"backend"`
	Path    string `yaml:"path" toml:"path"`
	Counter string `yaml:"counter" toml:"counter"`
}

// CentralConfig holds the custodial HD seed.
type CentralConfig struct {
	Mnemonic   string `yaml:"mnemonic" toml:"mnemonic"`
	Passphrase string `yaml:"passphrase" toml:"passphrase"`
}

// RefreshConfig controls the periodic contract registry reload.
type RefreshConfig struct {
	Interval Duration `yaml:"interval" toml:"interval"`
	Timeout  Duration `yaml:"timeout" toml:"timeout"`
}

// AdminConfig protects the admin endpoints.
type AdminConfig struct {
	BearerToken string `yaml:"bearer_token" toml:"bearer_token"`
}

// LoggingConfig tunes the structured logger.
type LoggingConfig struct {
	Level      string `yaml:"level" toml:"level"`
	File       string `yaml:"file" toml:"file"`
	MaxSizeMB  int    `yaml:"max_size_mb" toml:"max_size_mb"`
	MaxBackups int    `yaml:"max_backups" toml:"max_backups"`
}

// TelemetryConfig enables the OTLP exporters.
type TelemetryConfig struct {
	Endpoint string `yaml:"endpoint" toml:"endpoint"`
	Insecure bool   `yaml:"insecure" toml:"insecure"`
	Headers  string `yaml:"headers" toml:"headers"`
	Metrics  bool   `yaml:"metrics" toml:"metrics"`
	Traces   bool   `yaml:"traces" toml:"traces"`
}

// Option customises Load.
type Option func(*loadOptions)

type loadOptions struct {
	lookupEnv func(string) (string, bool)
}

// WithLookupEnv replaces os.LookupEnv for environment overrides.
func WithLookupEnv(lookup func(string) (string, bool)) Option {
	return func(o *loadOptions) {
		if lookup != nil {
			o.lookupEnv = lookup
		}
	}
}

// Load reads configuration from path. Files ending in .toml are decoded as
// TOML, everything else as YAML. Environment overrides are applied before
// defaults and validation.
func Load(path string, opts ...Option) (Config, error) {
	options := loadOptions{lookupEnv: os.LookupEnv}
	for _, opt := range opts {
		if opt != nil {
			opt(&options)
		}
	}
	cfg := Config{}
	if strings.TrimSpace(path) == "" {
		return cfg, fmt.Errorf("config path required")
	}
	if strings.EqualFold(filepath.Ext(path), ".toml") {
		if _, err := toml.DecodeFile(path, &cfg); err != nil {
			return Config{}, fmt.Errorf("decode config: %w", err)
		}
	} else {
		file, err := os.Open(path)
		if err != nil {
			return cfg, fmt.Errorf("open config: %w", err)
		}
		defer file.Close()
		if err := yaml.NewDecoder(file).Decode(&cfg); err != nil {
			return Config{}, fmt.Errorf("decode config: %w", err)
		}
	}
	if err := applyEnv(&cfg, options.lookupEnv); err != nil {
		return Config{}, err
	}
	applyDefaults(&cfg)
	if err := validate(cfg); err != nil {
		return cfg, err
	}
	return cfg, nil
}

func applyEnv(cfg *Config, lookup func(string) (string, bool)) error {
	overrides := map[string]*string{
		"WALLETD_ENV":                 &cfg.Env,
		"WALLETD_NETWORK":             &cfg.Network,
		"WALLETD_NODE_URL":            &cfg.Node.URL,
		"WALLETD_NODE_API_KEY":        &cfg.Node.APIKey,
		"WALLETD_DATABASE_DSN":        &cfg.Database.DSN,
		"WALLETD_CENTRAL_MNEMONIC":    &cfg.Central.Mnemonic,
		"WALLETD_CENTRAL_PASSPHRASE":  &cfg.Central.Passphrase,
		"WALLETD_ADMIN_TOKEN":         &cfg.Admin.BearerToken,
		"OTEL_EXPORTER_OTLP_ENDPOINT": &cfg.Telemetry.Endpoint,
		"OTEL_EXPORTER_OTLP_HEADERS":  &cfg.Telemetry.Headers,
	}
	for key, target := range overrides {
		if value, ok := lookup(key); ok {
			*target = value
		}
	}
	if value, ok := lookup("WALLETD_NODE_RPS"); ok {
		parsed, err := strconv.ParseFloat(value, 64)
		if err != nil {
			return fmt.Errorf("WALLETD_NODE_RPS: %w", err)
		}
		cfg.Node.RequestsPerSecond = parsed
	}
	return nil
}

// DefaultMaxRetries matches chain.DefaultRetryPolicy.
const DefaultMaxRetries = 3

// Retries returns the configured retry count, or DefaultMaxRetries when unset.
func (r RetryConfig) Retries() int {
	if r.MaxRetries == nil {
		return DefaultMaxRetries
	}
	return *r.MaxRetries
}

func applyDefaults(cfg *Config) {
	if cfg.Network == "" {
		cfg.Network = string(tron.Mainnet)
	}
	if cfg.ListenAddress == "" {
		cfg.ListenAddress = ":7080"
	}
	if cfg.Node.Timeout.Duration == 0 {
		cfg.Node.Timeout.Duration = 10 * time.Second
	}
	if cfg.Node.CallTimeout.Duration == 0 {
		cfg.Node.CallTimeout.Duration = 30 * time.Second
	}
	if cfg.Node.Retry.MaxRetries == nil {
		retries := DefaultMaxRetries
		cfg.Node.Retry.MaxRetries = &retries
	}
	if cfg.Node.Retry.InitialInterval.Duration == 0 {
		cfg.Node.Retry.InitialInterval.Duration = 200 * time.Millisecond
	}
	if cfg.Node.Retry.MaxInterval.Duration == 0 {
		cfg.Node.Retry.MaxInterval.Duration = 2 * time.Second
	}
	if cfg.Node.Retry.MaxElapsed.Duration == 0 {
		cfg.Node.Retry.MaxElapsed.Duration = 10 * time.Second
	}
	if cfg.Database.Driver == "" {
		cfg.Database.Driver = DriverSQLite
	}
	if cfg.Database.DSN == "" && cfg.Database.Driver == DriverSQLite {
		cfg.Database.DSN = "/var/data/walletd/walletd.sqlite"
	}
	if cfg.WalletIndex.Backend == "" {
		cfg.WalletIndex.Backend = IndexBackendFile
	}
	if cfg.WalletIndex.Path == "" {
		switch cfg.WalletIndex.Backend {
		case IndexBackendFile:
			cfg.WalletIndex.Path = "/var/data/walletd/wallet-index"
		case IndexBackendLevelDB:
			cfg.WalletIndex.Path = "/var/data/walletd/index.ldb"
		case IndexBackendBolt:
			cfg.WalletIndex.Path = "/var/data/walletd/wallet-index.db"
		}
	}
	if cfg.Refresh.Interval.Duration == 0 {
		cfg.Refresh.Interval.Duration = 5 * time.Minute
	}
	if cfg.Refresh.Timeout.Duration == 0 {
		cfg.Refresh.Timeout.Duration = time.Minute
	}
	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}
}

func validate(cfg Config) error {
	network, err := tron.ParseNetwork(cfg.Network)
	if err != nil {
		return err
	}
	if strings.TrimSpace(cfg.Node.URL) == "" {
		return fmt.Errorf("node.url must be configured")
	}
	if cfg.Node.RequestsPerSecond < 0 {
		return fmt.Errorf("node.requests_per_second must not be negative")
	}
	if cfg.Node.Retry.Retries() < 0 {
		return fmt.Errorf("node.retry.max_retries must not be negative")
	}
	if err := tron.ValidateTokens(network, cfg.Tokens); err != nil {
		return fmt.Errorf("tokens: %w", err)
	}
	switch cfg.Database.Driver {
	case DriverSQLite, DriverPostgres:
	default:
		return fmt.Errorf("database.driver %q not supported", cfg.Database.Driver)
	}
	if strings.TrimSpace(cfg.Database.DSN) == "" {
		return fmt.Errorf("database.dsn must be configured")
	}
	switch cfg.WalletIndex.Backend {
	case IndexBackendFile, IndexBackendLevelDB, IndexBackendBolt:
		if strings.TrimSpace(cfg.WalletIndex.Path) == "" {
			return fmt.Errorf("wallet_index.path must be configured for the %s backend", cfg.WalletIndex.Backend)
		}
	case IndexBackendSQL:
	default:
		return fmt.Errorf("wallet_index.backend %q not supported", cfg.WalletIndex.Backend)
	}
	if cfg.Refresh.Interval.Duration < time.Second {
		return fmt.Errorf("refresh.interval must be at least 1s")
	}
	return nil
}

// NetworkID returns the parsed network. Load has already validated it.
func (c Config) NetworkID() tron.Network {
	network, _ := tron.ParseNetwork(c.Network)
	return network
}
