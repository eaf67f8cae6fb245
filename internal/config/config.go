package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// Defaults applied before the file and environment layers.
const (
	DefaultStoreBackend = "sqlite"
	DefaultSQLitePath   = "minrss.db"
	DefaultTimeoutSec   = 10
	DefaultMaxRedirects = 5
	DefaultUserAgent    = "RSS Feed Reader/1.0"
	DefaultInterval     = "3m"
	DefaultWorkers      = 3
	DefaultControlAddr  = "127.0.0.1:8090"
	DefaultLogLevel     = "info"
)

var (
	ErrUnknownBackend = errors.New("store backend must be postgres or sqlite")
	ErrBadTimeout     = errors.New("fetch timeout_sec must be positive")
	ErrBadRedirects   = errors.New("fetch max_redirects must be positive")
	ErrBadInterval    = errors.New("poll interval must be a positive duration")
	ErrBadWorkers     = errors.New("poll workers must be positive")
	ErrBadLogLevel    = errors.New("logging level must be one of debug, info, warn, error")
)

type Config struct {
	Store       StoreConfig   `yaml:"store"`
	Fetch       FetchConfig   `yaml:"fetch"`
	Poll        PollConfig    `yaml:"poll"`
	Logging     LoggingConfig `yaml:"logging"`
	ControlAddr string        `yaml:"control_addr"`
}

type StoreConfig struct {
	Backend    string         `yaml:"backend"`
	SQLitePath string         `yaml:"sqlite_path"`
	Postgres   PostgresConfig `yaml:"postgres"`
}

type PostgresConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	User     string `yaml:"user"`
	Password string `yaml:"password"`
	DBName   string `yaml:"dbname"`
	SSLMode  string `yaml:"sslmode"`
}

type FetchConfig struct {
	TimeoutSec   int    `yaml:"timeout_sec"`
	MaxRedirects int    `yaml:"max_redirects"`
	UserAgent    string `yaml:"user_agent"`
}

type PollConfig struct {
	Interval string `yaml:"interval"`
	Workers  int    `yaml:"workers"`
}

type LoggingConfig struct {
	Level string `yaml:"level"`
}

// Load builds the configuration in three layers: documented defaults,
// then the YAML file when one is found, then environment overrides.
// An empty path falls back to MINRSS_CONFIG and then to minrss.yaml in
// the working directory; only an explicitly named file is required to
// exist.
func Load(path string) (Config, error) {
	cfg := defaults()

	explicit := path != ""
	if path == "" {
		path = os.Getenv("MINRSS_CONFIG")
		explicit = path != ""
	}
	if path == "" {
		path = "minrss.yaml"
	}
	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		if uerr := yaml.Unmarshal(data, &cfg); uerr != nil {
			return Config{}, fmt.Errorf("parse %s: %w", path, uerr)
		}
	case explicit:
		return Config{}, fmt.Errorf("read config: %w", err)
	}

	applyEnv(&cfg)
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func defaults() Config {
	return Config{
		Store: StoreConfig{
			Backend:    DefaultStoreBackend,
			SQLitePath: DefaultSQLitePath,
			Postgres: PostgresConfig{
				Host:     "localhost",
				Port:     5432,
				User:     "postgres",
				Password: "changeme",
				DBName:   "minrss",
				SSLMode:  "disable",
			},
		},
		Fetch: FetchConfig{
			TimeoutSec:   DefaultTimeoutSec,
			MaxRedirects: DefaultMaxRedirects,
			UserAgent:    DefaultUserAgent,
		},
		Poll:        PollConfig{Interval: DefaultInterval, Workers: DefaultWorkers},
		Logging:     LoggingConfig{Level: DefaultLogLevel},
		ControlAddr: DefaultControlAddr,
	}
}

func applyEnv(cfg *Config) {
	cfg.Store.Backend = getenv("MINRSS_STORE", cfg.Store.Backend)
	cfg.Store.SQLitePath = getenv("MINRSS_SQLITE_PATH", cfg.Store.SQLitePath)
	cfg.Store.Postgres.Host = getenv("POSTGRES_HOST", cfg.Store.Postgres.Host)
	cfg.Store.Postgres.Port = parseIntEnv("POSTGRES_PORT", cfg.Store.Postgres.Port)
	cfg.Store.Postgres.User = getenv("POSTGRES_USER", cfg.Store.Postgres.User)
	cfg.Store.Postgres.Password = getenv("POSTGRES_PASSWORD", cfg.Store.Postgres.Password)
	cfg.Store.Postgres.DBName = getenv("POSTGRES_DBNAME", cfg.Store.Postgres.DBName)
	cfg.Store.Postgres.SSLMode = getenv("POSTGRES_SSLMODE", cfg.Store.Postgres.SSLMode)
	cfg.Fetch.TimeoutSec = parseIntEnv("MINRSS_FETCH_TIMEOUT_SEC", cfg.Fetch.TimeoutSec)
	cfg.Fetch.MaxRedirects = parseIntEnv("MINRSS_FETCH_MAX_REDIRECTS", cfg.Fetch.MaxRedirects)
	cfg.Fetch.UserAgent = getenv("MINRSS_FETCH_USER_AGENT", cfg.Fetch.UserAgent)
	cfg.Poll.Interval = getenv("MINRSS_POLL_INTERVAL", cfg.Poll.Interval)
	cfg.Poll.Workers = parseIntEnv("MINRSS_POLL_WORKERS", cfg.Poll.Workers)
	cfg.Logging.Level = getenv("MINRSS_LOG_LEVEL", cfg.Logging.Level)
	cfg.ControlAddr = getenv("MINRSS_CONTROL_ADDR", cfg.ControlAddr)
}

func (c Config) Validate() error {
	if c.Store.Backend != "postgres" && c.Store.Backend != "sqlite" {
		return fmt.Errorf("%w: %q", ErrUnknownBackend, c.Store.Backend)
	}
	if c.Fetch.TimeoutSec <= 0 {
		return ErrBadTimeout
	}
	if c.Fetch.MaxRedirects <= 0 {
		return ErrBadRedirects
	}
	if d, err := time.ParseDuration(c.Poll.Interval); err != nil || d <= 0 {
		return fmt.Errorf("%w: %q", ErrBadInterval, c.Poll.Interval)
	}
	if c.Poll.Workers <= 0 {
		return ErrBadWorkers
	}
	if _, err := c.Logging.SlogLevel(); err != nil {
		return err
	}
	return nil
}

func (c FetchConfig) Timeout() time.Duration {
	return time.Duration(c.TimeoutSec) * time.Second
}

// IntervalDuration assumes Validate has run.
func (c PollConfig) IntervalDuration() time.Duration {
	d, _ := time.ParseDuration(c.Interval)
	return d
}

func (p PostgresConfig) DSN() string {
	return fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=%s",
		p.User, p.Password, p.Host, p.Port, p.DBName, p.SSLMode)
}

func (l LoggingConfig) SlogLevel() (slog.Level, error) {
	switch l.Level {
	case "debug":
		return slog.LevelDebug, nil
	case "", "info":
		return slog.LevelInfo, nil
	case "warn":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	}
	return 0, fmt.Errorf("%w: %q", ErrBadLogLevel, l.Level)
}

func getenv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func parseIntEnv(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return def
}
