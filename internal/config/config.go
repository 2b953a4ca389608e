// Package config loads and validates stocksync configuration via Viper.
package config

import (
	"fmt"
	"strings"
	"time"
	_ "time/tzdata"

	"github.com/spf13/viper"

	"github.com/JakeFAU/stocksync/internal/dataset"
	"github.com/JakeFAU/stocksync/internal/logging"
	"github.com/JakeFAU/stocksync/internal/stock"
)

// Supported store drivers.
const (
	DriverPostgres = "postgres"
	DriverSQLite   = "sqlite"
)

// Supported notify kinds.
const (
	NotifyNone   = "none"
	NotifyLog    = "log"
	NotifyPubSub = "pubsub"
)

// Supported archive kinds.
const (
	ArchiveNone  = "none"
	ArchiveLocal = "local"
	ArchiveGCS   = "gcs"
)

// Config captures every service knob loaded via Viper.
type Config struct {
	Logging  logging.Config `mapstructure:"logging"`
	DB       DBConfig       `mapstructure:"db"`
	Provider ProviderConfig `mapstructure:"provider"`
	Sync     SyncConfig     `mapstructure:"sync"`
	Metrics  MetricsConfig  `mapstructure:"metrics"`
	Archive  ArchiveConfig  `mapstructure:"archive"`
	Notify   NotifyConfig   `mapstructure:"notify"`
	Schedule ScheduleConfig `mapstructure:"schedule"`
}

// DBConfig selects and sizes the relational store.
type DBConfig struct {
	Driver          string        `mapstructure:"driver"`
	DSN             string        `mapstructure:"dsn"`
	MaxConns        int32         `mapstructure:"max_conns"`
	MinConns        int32         `mapstructure:"min_conns"`
	MaxConnLifetime time.Duration `mapstructure:"max_conn_lifetime"`
}

// ProviderConfig configures the market data API client.
type ProviderConfig struct {
	Endpoint      string        `mapstructure:"endpoint"`
	Token         string        `mapstructure:"token"`
	Timeout       time.Duration `mapstructure:"timeout"`
	PageSize      int           `mapstructure:"page_size"`
	RatePerMinute int           `mapstructure:"rate_per_minute"`
}

// SyncConfig governs one synchronization run.
type SyncConfig struct {
	Concurrency  int            `mapstructure:"concurrency"`
	Exchange     string         `mapstructure:"exchange"`
	Datasets     string         `mapstructure:"datasets"`
	StartDate    string         `mapstructure:"start_date"`
	EndDate      string         `mapstructure:"end_date"`
	Timezone     string         `mapstructure:"timezone"`
	RetryDelay   time.Duration  `mapstructure:"retry_delay"`
	MaxAttempts  int            `mapstructure:"max_attempts"`
	LookbackDays map[string]int `mapstructure:"lookback_days"`
}

// MetricsConfig controls the Prometheus endpoint. An empty Addr disables it.
type MetricsConfig struct {
	Addr string `mapstructure:"addr"`
}

// ArchiveConfig selects where raw provider payloads are copied.
type ArchiveConfig struct {
	Kind    string `mapstructure:"kind"`
	BaseDir string `mapstructure:"base_dir"`
	Bucket  string `mapstructure:"bucket"`
	Prefix  string `mapstructure:"prefix"`
	// Gzip compresses GCS objects at rest.
	Gzip bool `mapstructure:"gzip"`
}

// NotifyConfig selects where run reports go. The log kind writes each report
// to the service log and keeps the latest Retain of them in memory.
type NotifyConfig struct {
	Kind      string `mapstructure:"kind"`
	Retain    int    `mapstructure:"retain"`
	ProjectID string `mapstructure:"project_id"`
	Topic     string `mapstructure:"topic"`
}

// ScheduleConfig is used by the schedule command.
type ScheduleConfig struct {
	Spec string `mapstructure:"spec"`
}

// Load builds a Config from disk and environment.
func Load(path string) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("STOCKSYNC")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("logging.development", false)
	v.SetDefault("logging.level", "info")
	v.SetDefault("db.driver", DriverSQLite)
	v.SetDefault("db.dsn", "stocks.db")
	v.SetDefault("db.max_conns", 8)
	v.SetDefault("db.min_conns", 0)
	v.SetDefault("db.max_conn_lifetime", time.Hour)
	v.SetDefault("provider.endpoint", "http://api.tushare.pro")
	v.SetDefault("provider.token", "")
	v.SetDefault("provider.timeout", 30*time.Second)
	v.SetDefault("provider.page_size", 5000)
	v.SetDefault("provider.rate_per_minute", 0)
	v.SetDefault("sync.concurrency", 4)
	v.SetDefault("sync.exchange", string(stock.ExchangeAll))
	v.SetDefault("sync.datasets", "all")
	v.SetDefault("sync.start_date", "")
	v.SetDefault("sync.end_date", "")
	v.SetDefault("sync.timezone", "Asia/Shanghai")
	v.SetDefault("sync.retry_delay", 20*time.Second)
	v.SetDefault("sync.max_attempts", 0)
	v.SetDefault("metrics.addr", "")
	v.SetDefault("archive.kind", ArchiveNone)
	v.SetDefault("archive.base_dir", "archive")
	v.SetDefault("archive.bucket", "")
	v.SetDefault("archive.prefix", "raw")
	v.SetDefault("archive.gzip", true)
	v.SetDefault("notify.kind", NotifyNone)
	v.SetDefault("notify.retain", 64)
	v.SetDefault("notify.project_id", "")
	v.SetDefault("notify.topic", "stocksync-runs")
	v.SetDefault("schedule.spec", "30 17 * * MON-FRI")
}

// Validate enforces required values and reasonable limits.
func (c Config) Validate() error {
	switch c.DB.Driver {
	case DriverPostgres, DriverSQLite:
	default:
		return fmt.Errorf("db.driver must be %s or %s, got %q", DriverPostgres, DriverSQLite, c.DB.Driver)
	}
	if c.DB.DSN == "" {
		return fmt.Errorf("db.dsn must be set")
	}
	if c.DB.MaxConns < 0 || c.DB.MinConns < 0 || (c.DB.MaxConns > 0 && c.DB.MinConns > c.DB.MaxConns) {
		return fmt.Errorf("db.min_conns must be between 0 and db.max_conns")
	}
	if c.Provider.PageSize <= 0 {
		return fmt.Errorf("provider.page_size must be > 0")
	}
	if c.Provider.RatePerMinute < 0 {
		return fmt.Errorf("provider.rate_per_minute must be >= 0")
	}
	if c.Provider.Timeout <= 0 {
		return fmt.Errorf("provider.timeout must be > 0")
	}
	if err := c.Sync.Validate(); err != nil {
		return err
	}
	switch c.Archive.Kind {
	case "", ArchiveNone:
	case ArchiveLocal:
		if c.Archive.BaseDir == "" {
			return fmt.Errorf("archive.base_dir must be set for the local archive")
		}
	case ArchiveGCS:
		if c.Archive.Bucket == "" {
			return fmt.Errorf("archive.bucket must be set for the gcs archive")
		}
	default:
		return fmt.Errorf("archive.kind must be none, local or gcs, got %q", c.Archive.Kind)
	}
	switch c.Notify.Kind {
	case "", NotifyNone, NotifyLog:
	case NotifyPubSub:
		if c.Notify.ProjectID == "" || c.Notify.Topic == "" {
			return fmt.Errorf("notify.project_id and notify.topic must be set for the pubsub notifier")
		}
	default:
		return fmt.Errorf("notify.kind must be none, log or pubsub, got %q", c.Notify.Kind)
	}
	return nil
}

// Validate checks the run parameters. It is re-run after CLI overrides.
func (s SyncConfig) Validate() error {
	if s.Concurrency <= 0 {
		return fmt.Errorf("sync.concurrency must be > 0")
	}
	if _, err := stock.ParseExchange(s.Exchange); err != nil {
		return fmt.Errorf("sync.exchange: %w", err)
	}
	if _, err := dataset.ParseSelection(s.Datasets); err != nil {
		return fmt.Errorf("sync.datasets: %w", err)
	}
	if _, err := s.Location(); err != nil {
		return err
	}
	start, end, err := s.Bounds()
	if err != nil {
		return err
	}
	if start != nil && end != nil && start.After(*end) {
		return fmt.Errorf("sync.start_date %s is after sync.end_date %s", s.StartDate, s.EndDate)
	}
	if s.RetryDelay < 0 {
		return fmt.Errorf("sync.retry_delay must be >= 0")
	}
	if s.MaxAttempts < 0 {
		return fmt.Errorf("sync.max_attempts must be >= 0")
	}
	if _, err := s.Lookback(); err != nil {
		return err
	}
	return nil
}

// Location loads the zone used to compute today's date.
func (s SyncConfig) Location() (*time.Location, error) {
	if s.Timezone == "" {
		return time.UTC, nil
	}
	loc, err := time.LoadLocation(s.Timezone)
	if err != nil {
		return nil, fmt.Errorf("sync.timezone: %w", err)
	}
	return loc, nil
}

// Bounds parses the optional explicit window bounds.
func (s SyncConfig) Bounds() (start, end *time.Time, err error) {
	if s.StartDate != "" {
		t, err := stock.ParseDate(s.StartDate)
		if err != nil {
			return nil, nil, fmt.Errorf("sync.start_date: %w", err)
		}
		start = &t
	}
	if s.EndDate != "" {
		t, err := stock.ParseDate(s.EndDate)
		if err != nil {
			return nil, nil, fmt.Errorf("sync.end_date: %w", err)
		}
		end = &t
	}
	return start, end, nil
}

// Lookback converts the per-dataset lookback overrides.
func (s SyncConfig) Lookback() (map[stock.Kind]int, error) {
	out := make(map[stock.Kind]int, len(s.LookbackDays))
	for name, days := range s.LookbackDays {
		kinds, err := dataset.ParseSelection(name)
		if err != nil || len(kinds) != 1 {
			return nil, fmt.Errorf("sync.lookback_days: unknown dataset %q", name)
		}
		if days <= 0 {
			return nil, fmt.Errorf("sync.lookback_days.%s must be > 0", name)
		}
		out[kinds[0]] = days
	}
	return out, nil
}
