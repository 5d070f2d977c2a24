package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"github.com/creasty/defaults"
	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"stratbench/internal/engine"
	"stratbench/internal/marketdata"
)

// ---------------------------------------------------------------------------
// Configuration structs
// ---------------------------------------------------------------------------

// Config is the top-level configuration for stratbench.
type Config struct {
	Storage  Storage       `yaml:"storage"`
	Data     Data          `yaml:"data"`
	Alpaca   Alpaca        `yaml:"alpaca"`
	CSV      CSV           `yaml:"csv"`
	Logging  Logging       `yaml:"logging"`
	Backtest engine.Config `yaml:"backtest"`
	Server   Server        `yaml:"server"`
	Workers  int           `yaml:"workers" validate:"gte=0"`
}

// Storage holds paths for data persistence.
type Storage struct {
	DataDir    string `yaml:"data_dir" default:"data" validate:"required"`
	SQLitePath string `yaml:"sqlite_path" default:"data/stratbench.db"`
	CacheBars  bool   `yaml:"cache_bars" default:"true"`
}

// Data selects where bars come from.
type Data struct {
	Source string `yaml:"source" default:"alpaca" validate:"oneof=alpaca csv"`
}

// Alpaca holds credentials and endpoints for the Alpaca market-data API.
type Alpaca struct {
	APIKey          string        `yaml:"api_key"`
	APISecret       string        `yaml:"api_secret"`
	DataURL         string        `yaml:"data_url"`
	Feed            string        `yaml:"feed" default:"iex" validate:"oneof=iex sip"`
	RateLimitPerMin int           `yaml:"rate_limit_per_min" default:"200" validate:"gt=0"`
	Retries         int           `yaml:"retries" default:"3" validate:"gt=0"`
	RetryBackoff    time.Duration `yaml:"retry_backoff" default:"1s"`
}

// CSV configures the local CSV data source.
type CSV struct {
	Dir string `yaml:"dir" default:"data/csv"`
}

// Logging configures the application logger.
type Logging struct {
	Level  string `yaml:"level" default:"info" validate:"oneof=debug info warn error"`
	Format string `yaml:"format" default:"text" validate:"oneof=json text"`
}

// Server holds network listener configuration.
type Server struct {
	Host     string `yaml:"host" default:"127.0.0.1"`
	Port     int    `yaml:"port" default:"8080" validate:"gt=0,lt=65536"`
	GRPCPort int    `yaml:"grpc_port" default:"9090" validate:"gte=0,lt=65536"`
}

// Addr returns the HTTP listen address.
func (s Server) Addr() string { return fmt.Sprintf("%s:%d", s.Host, s.Port) }

// GRPCAddr returns the gRPC listen address, or "" when gRPC is disabled.
func (s Server) GRPCAddr() string {
	if s.GRPCPort == 0 {
		return ""
	}
	return fmt.Sprintf("%s:%d", s.Host, s.GRPCPort)
}

// MarketData returns the provider options for this configuration.
func (c *Config) MarketData() marketdata.Options {
	opts := marketdata.Options{
		Source: c.Data.Source,
		Alpaca: marketdata.AlpacaOptions{
			APIKey:    c.Alpaca.APIKey,
			APISecret: c.Alpaca.APISecret,
			DataURL:   c.Alpaca.DataURL,
			Feed:      c.Alpaca.Feed,
		},
		CSVDir:       c.CSV.Dir,
		RatePerMin:   c.Alpaca.RateLimitPerMin,
		RetryCount:   c.Alpaca.Retries,
		RetryBackoff: c.Alpaca.RetryBackoff,
	}
	if c.Storage.CacheBars {
		opts.CacheDir = filepath.Join(c.Storage.DataDir, "bars")
	}
	return opts
}

// ---------------------------------------------------------------------------
// Loading
// ---------------------------------------------------------------------------

var validate = validator.New()

// Default returns the configuration with every default applied.
func Default() (*Config, error) {
	cfg := &Config{}
	if err := defaults.Set(cfg); err != nil {
		return nil, fmt.Errorf("applying defaults: %w", err)
	}
	return cfg, nil
}

// Load applies defaults, then the YAML file at path (skipped when path is
// empty), then a local .env file and environment overrides, and validates
// the result.
func Load(path string) (*Config, error) {
	cfg, err := Default()
	if err != nil {
		return nil, err
	}

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, err
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parsing %s: %w", path, err)
		}
	}

	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("loading .env: %w", err)
	}
	applyEnvOverrides(cfg)

	if err := validate.Struct(cfg); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// applyEnvOverrides checks well-known environment variables and overrides the
// corresponding configuration fields when they are set.
func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("STRATBENCH_DATA_DIR"); v != "" {
		cfg.Storage.DataDir = v
	}
	if v := os.Getenv("STRATBENCH_SQLITE_PATH"); v != "" {
		cfg.Storage.SQLitePath = v
	}
	if v := os.Getenv("STRATBENCH_DATA_SOURCE"); v != "" {
		cfg.Data.Source = v
	}
	if v := os.Getenv("STRATBENCH_CSV_DIR"); v != "" {
		cfg.CSV.Dir = v
	}
	if v := os.Getenv("LOG_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}

	// Standard Alpaca env vars, as read by the SDK.
	if v := os.Getenv("APCA_API_KEY_ID"); v != "" {
		cfg.Alpaca.APIKey = v
	}
	if v := os.Getenv("APCA_API_SECRET_KEY"); v != "" {
		cfg.Alpaca.APISecret = v
	}
	if v := os.Getenv("APCA_API_DATA_URL"); v != "" {
		cfg.Alpaca.DataURL = v
	}
}
