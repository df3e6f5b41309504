// Package config loads the tracker's deployment configuration: remote
// endpoint, local store path, billing-cycle rules, cache and outbox tuning,
// the house/room layout, and the PIN directory. Configuration comes from a
// YAML file with environment variable overrides on top; a .env file is
// honored when present.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"

	"github.com/vtpt/vtpt-meter/auth"
	"github.com/vtpt/vtpt-meter/cycle"
	"github.com/vtpt/vtpt-meter/errors"
	"github.com/vtpt/vtpt-meter/logging"
	"github.com/vtpt/vtpt-meter/meter"
	"github.com/vtpt/vtpt-meter/outbox"
	"github.com/vtpt/vtpt-meter/syncer"
)

// Duration is a time.Duration that unmarshals from YAML strings like
// "450ms" or "15m".
type Duration time.Duration

// UnmarshalYAML implements yaml.Unmarshaler.
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var raw string
	if err := value.Decode(&raw); err != nil {
		return err
	}
	parsed, err := time.ParseDuration(raw)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", raw, err)
	}
	*d = Duration(parsed)
	return nil
}

// MarshalYAML implements yaml.Marshaler.
func (d Duration) MarshalYAML() (interface{}, error) {
	return time.Duration(d).String(), nil
}

// Std returns the value as a time.Duration.
func (d Duration) Std() time.Duration {
	return time.Duration(d)
}

// RemoteConfig points at the spreadsheet script endpoint.
type RemoteConfig struct {
	BaseURL string   `yaml:"base_url"`
	Token   string   `yaml:"token"`
	Timeout Duration `yaml:"timeout"`
}

// StorageConfig locates the local SQLite store.
type StorageConfig struct {
	Path      string `yaml:"path"`
	EnableWAL bool   `yaml:"enable_wal"`
}

// CacheConfig bounds staleness on the read paths.
type CacheConfig struct {
	CycleTTL   Duration `yaml:"cycle_ttl"`
	LatestTTL  Duration `yaml:"latest_ttl"`
	HistoryTTL Duration `yaml:"history_ttl"`
}

// OutboxConfig is the retry policy for queued mutations.
type OutboxConfig struct {
	InitialBackoff Duration `yaml:"initial_backoff"`
	MaxBackoff     Duration `yaml:"max_backoff"`
	Multiplier     float64  `yaml:"multiplier"`
	MaxAge         Duration `yaml:"max_age"`
}

// SyncConfig tunes the mutation pipeline.
type SyncConfig struct {
	Debounce      Duration `yaml:"debounce"`
	FlushInterval Duration `yaml:"flush_interval"`
	HistoryLimit  int      `yaml:"history_limit"`
}

// TariffConfig is the per-unit pricing used by the usage views.
type TariffConfig struct {
	Dien float64 `yaml:"dien"`
	Nuoc float64 `yaml:"nuoc"`
}

// ServerConfig configures the API proxy.
type ServerConfig struct {
	Addr            string   `yaml:"addr"`
	AllowedOrigins  []string `yaml:"allowed_origins"`
	ShutdownTimeout Duration `yaml:"shutdown_timeout"`
}

// Config is the full application configuration.
type Config struct {
	Timezone    string `yaml:"timezone"`
	RolloverDay int    `yaml:"rollover_day"`

	Remote  RemoteConfig  `yaml:"remote"`
	Storage StorageConfig `yaml:"storage"`
	Cache   CacheConfig   `yaml:"cache"`
	Outbox  OutboxConfig  `yaml:"outbox"`
	Sync    SyncConfig    `yaml:"sync"`
	Server  ServerConfig  `yaml:"server"`
	Tariff  TariffConfig  `yaml:"tariff"`

	// Houses maps each house to its room identifiers.
	Houses map[string][]string `yaml:"houses"`

	// PINs maps sign-in PINs to identities.
	PINs map[string]auth.Identity `yaml:"pins"`

	Logging logging.Config `yaml:"logging"`
}

// Default returns the production defaults. A loaded file overrides them
// field by field.
func Default() Config {
	sc := syncer.DefaultConfig()
	fc := outbox.DefaultFlusherConfig()
	return Config{
		Timezone:    cycle.DefaultTimezone,
		RolloverDay: cycle.DefaultRolloverDay,
		Remote: RemoteConfig{
			Timeout: Duration(12 * time.Second),
		},
		Storage: StorageConfig{
			Path:      "vtpt-meter.db",
			EnableWAL: true,
		},
		Cache: CacheConfig{
			CycleTTL:   Duration(sc.CycleTTL),
			LatestTTL:  Duration(sc.LatestTTL),
			HistoryTTL: Duration(sc.HistoryTTL),
		},
		Outbox: OutboxConfig{
			InitialBackoff: Duration(fc.InitialBackoff),
			MaxBackoff:     Duration(fc.MaxBackoff),
			Multiplier:     fc.Multiplier,
			MaxAge:         Duration(fc.MaxAge),
		},
		Sync: SyncConfig{
			Debounce:      Duration(sc.Debounce),
			FlushInterval: Duration(sc.FlushInterval),
			HistoryLimit:  sc.HistoryLimit,
		},
		Server: ServerConfig{
			Addr:            ":8091",
			ShutdownTimeout: Duration(10 * time.Second),
		},
		Logging: logging.DefaultConfig,
	}
}

// Load reads configuration from path (optional), layers environment
// overrides on top of the defaults, and validates the result. An empty
// path skips the file and uses defaults plus environment only.
func Load(path string) (Config, error) {
	// Best effort: a missing .env file is not an error.
	_ = godotenv.Load()

	cfg := Default()
	if path != "" {
		raw, err := os.ReadFile(path)
		if err != nil {
			return Config{}, errors.NewConfigError(errors.OpConfig, fmt.Errorf("read %s: %w", path, err))
		}
		if err := yaml.Unmarshal(raw, &cfg); err != nil {
			return Config{}, errors.NewConfigError(errors.OpConfig, fmt.Errorf("parse %s: %w", path, err))
		}
	}

	applyEnv(&cfg)

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// applyEnv layers VTPT_* environment overrides over cfg. Only the values
// that vary between deployments are overridable; tuning knobs stay in the
// file.
func applyEnv(cfg *Config) {
	if v := os.Getenv("VTPT_REMOTE_URL"); v != "" {
		cfg.Remote.BaseURL = v
	}
	if v := os.Getenv("VTPT_REMOTE_TOKEN"); v != "" {
		cfg.Remote.Token = v
	}
	if v := os.Getenv("VTPT_DB_PATH"); v != "" {
		cfg.Storage.Path = v
	}
	if v := os.Getenv("VTPT_LISTEN_ADDR"); v != "" {
		cfg.Server.Addr = v
	}
	if v := os.Getenv("VTPT_TIMEZONE"); v != "" {
		cfg.Timezone = v
	}
	if v := os.Getenv("VTPT_ROLLOVER_DAY"); v != "" {
		if day, err := strconv.Atoi(v); err == nil {
			cfg.RolloverDay = day
		}
	}

	if v := os.Getenv("LOG_LEVEL"); v != "" {
		cfg.Logging.Level = strings.ToLower(v)
	}
	if v := os.Getenv("LOG_FORMAT"); v != "" {
		cfg.Logging.Format = strings.ToLower(v)
	}
	if v := os.Getenv("ENVIRONMENT"); v != "" {
		cfg.Logging.Environment = strings.ToLower(v)
	}
}

// Validate rejects configurations that cannot run.
func (c Config) Validate() error {
	if c.Remote.BaseURL == "" {
		return errors.NewConfigError(errors.OpConfig, fmt.Errorf("remote.base_url is required"))
	}
	if c.Storage.Path == "" {
		return errors.NewConfigError(errors.OpConfig, fmt.Errorf("storage.path is required"))
	}
	if c.RolloverDay < 1 || c.RolloverDay > 28 {
		return errors.NewConfigError(errors.OpConfig, fmt.Errorf("rollover_day must be between 1 and 28, got %d", c.RolloverDay))
	}
	if _, err := time.LoadLocation(c.Timezone); err != nil {
		return errors.NewConfigError(errors.OpConfig, fmt.Errorf("invalid timezone %q: %w", c.Timezone, err))
	}
	if c.Outbox.Multiplier < 1 {
		return errors.NewConfigError(errors.OpConfig, fmt.Errorf("outbox.multiplier must be at least 1, got %g", c.Outbox.Multiplier))
	}
	for house, rooms := range c.Houses {
		if len(rooms) == 0 {
			return errors.NewConfigError(errors.OpConfig, fmt.Errorf("house %q has no rooms", house))
		}
	}
	for pin, id := range c.PINs {
		if pin == "" {
			return errors.NewConfigError(errors.OpConfig, fmt.Errorf("empty PIN in directory"))
		}
		if id.Name == "" {
			return errors.NewConfigError(errors.OpConfig, fmt.Errorf("PIN %q has no name", pin))
		}
	}
	return nil
}

// SyncerConfig translates the file representation to the syncer's runtime
// configuration.
func (c Config) SyncerConfig() syncer.Config {
	return syncer.Config{
		Timezone:      c.Timezone,
		RolloverDay:   c.RolloverDay,
		Debounce:      c.Sync.Debounce.Std(),
		FlushInterval: c.Sync.FlushInterval.Std(),
		CycleTTL:      c.Cache.CycleTTL.Std(),
		LatestTTL:     c.Cache.LatestTTL.Std(),
		HistoryTTL:    c.Cache.HistoryTTL.Std(),
		HistoryLimit:  c.Sync.HistoryLimit,
		Rooms:         c.Houses,
		Flusher:       c.FlusherConfig(),
	}
}

// FlusherConfig translates the outbox retry policy.
func (c Config) FlusherConfig() outbox.FlusherConfig {
	return outbox.FlusherConfig{
		InitialBackoff: c.Outbox.InitialBackoff.Std(),
		MaxBackoff:     c.Outbox.MaxBackoff.Std(),
		Multiplier:     c.Outbox.Multiplier,
		MaxAge:         c.Outbox.MaxAge.Std(),
	}
}

// MeterTariff converts the configured prices to the billing representation.
func (c Config) MeterTariff() meter.Tariff {
	return meter.Tariff{
		Dien: decimal.NewFromFloat(c.Tariff.Dien),
		Nuoc: decimal.NewFromFloat(c.Tariff.Nuoc),
	}
}

// Directory builds the PIN directory from the configured entries.
func (c Config) Directory() *auth.Directory {
	return auth.NewDirectory(c.PINs)
}
