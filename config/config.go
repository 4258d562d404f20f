package config

import (
	"fmt"
	"os"
	"time"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
	"gopkg.in/yaml.v3"
)

type Config struct {
	Database  DatabaseConfig
	Logging   LoggingConfig
	Telegram  TelegramConfig
	Scheduler SchedulerConfig
	Retry     RetryConfig
	Cache     CacheConfig
	HTTP      HTTPConfig
	Proxy     ProxyConfig
	Overrides SourceOverrides
	Source    SourceConfig `ignored:"true"`
}

// SourceOverrides lets the environment override the YAML source definition.
type SourceOverrides struct {
	Timeout time.Duration `envconfig:"SOURCE_TIMEOUT"`
	Retries int           `envconfig:"SOURCE_RETRIES"`
}

type DatabaseConfig struct {
	// URL selects Postgres for listings, alerts and the ledger. Empty keeps everything in SQLite.
	URL  string `envconfig:"DATABASE_URL"`
	Path string `envconfig:"DB_PATH" default:"alerts.db"`
}

type LoggingConfig struct {
	File     string `envconfig:"LOG_FILE" default:"daemon.log"`
	MaxBytes int64  `envconfig:"LOG_MAX_BYTES" default:"2097152"`
}

type TelegramConfig struct {
	Token string `envconfig:"TELEGRAM_TOKEN"`
}

type SchedulerConfig struct {
	CheckInterval time.Duration `envconfig:"CHECK_INTERVAL" default:"30m"`
	PollInterval  time.Duration `envconfig:"POLL_INTERVAL" default:"1m"`
	Cron          string        `envconfig:"SCHEDULE_CRON"`
	DispatchDelay time.Duration `envconfig:"DISPATCH_DELAY" default:"500ms"`
}

type RetryConfig struct {
	Interval  time.Duration `envconfig:"RETRY_INTERVAL" default:"10m"`
	BatchSize int           `envconfig:"RETRY_BATCH" default:"20"`
}

type CacheConfig struct {
	Type          string        `envconfig:"CACHE_TYPE" default:"memory"` // memory or redis
	TTL           time.Duration `envconfig:"CACHE_TTL" default:"5m"`
	RedisHost     string        `envconfig:"REDIS_HOST" default:"localhost"`
	RedisPort     int           `envconfig:"REDIS_PORT" default:"6379"`
	RedisPassword string        `envconfig:"REDIS_PASSWORD"`
	RedisDB       int           `envconfig:"REDIS_DB" default:"0"`
}

type HTTPConfig struct {
	Addr            string        `envconfig:"HTTP_ADDR" default:":8080"`
	APIKey          string        `envconfig:"API_KEY"`
	ShutdownTimeout time.Duration `envconfig:"HTTP_SHUTDOWN_TIMEOUT" default:"10s"`
}

type ProxyConfig struct {
	URL string `envconfig:"PROXY_URL"`
}

// SourceConfig describes the listing source endpoint. Loaded from YAML.
type SourceConfig struct {
	Name     string            `yaml:"name"`
	Endpoint string            `yaml:"endpoint"`
	Params   map[string]string `yaml:"params"`
	Timeout  time.Duration     `yaml:"timeout"`
	Retries  int               `yaml:"retries"`
}

// RedisAddress returns the Redis address in host:port format.
func (c *CacheConfig) RedisAddress() string {
	return fmt.Sprintf("%s:%d", c.RedisHost, c.RedisPort)
}

const defaultSourcePath = "config/source.yaml"

func DefaultSource() SourceConfig {
	return SourceConfig{
		Name:     "avierhomes",
		Endpoint: "https://avierhomes.co.ke/wp-json/wp/v2/property",
		Params: map[string]string{
			"_embed":   "true",
			"per_page": "100",
		},
		Timeout: 30 * time.Second,
		Retries: 2,
	}
}

func Load() (*Config, error) {
	_ = godotenv.Load()

	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, fmt.Errorf("process env: %w", err)
	}

	path := os.Getenv("SOURCE_CONFIG")
	if path == "" {
		path = defaultSourcePath
	}
	src, err := LoadSource(path)
	if err != nil {
		return nil, err
	}
	if cfg.Overrides.Timeout > 0 {
		src.Timeout = cfg.Overrides.Timeout
	}
	if cfg.Overrides.Retries > 0 {
		src.Retries = cfg.Overrides.Retries
	}
	cfg.Source = src

	if cfg.Scheduler.CheckInterval <= 0 {
		return nil, fmt.Errorf("CHECK_INTERVAL must be positive")
	}
	if cfg.Scheduler.PollInterval <= 0 && cfg.Scheduler.Cron == "" {
		return nil, fmt.Errorf("POLL_INTERVAL must be positive when SCHEDULE_CRON is unset")
	}

	return &cfg, nil
}

// LoadSource reads the source definition at path, filling unset fields from
// DefaultSource. A missing file yields the defaults.
func LoadSource(path string) (SourceConfig, error) {
	src := DefaultSource()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return src, nil
		}
		return src, err
	}

	var fromFile SourceConfig
	if err := yaml.Unmarshal(data, &fromFile); err != nil {
		return src, fmt.Errorf("parse %s: %w", path, err)
	}

	if fromFile.Name != "" {
		src.Name = fromFile.Name
	}
	if fromFile.Endpoint != "" {
		src.Endpoint = fromFile.Endpoint
	}
	if fromFile.Params != nil {
		src.Params = fromFile.Params
	}
	if fromFile.Timeout > 0 {
		src.Timeout = fromFile.Timeout
	}
	if fromFile.Retries > 0 {
		src.Retries = fromFile.Retries
	}
	return src, nil
}
