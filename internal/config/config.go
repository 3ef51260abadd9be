package config

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/joho/godotenv"
	"github.com/sethvargo/go-envconfig"
	"gopkg.in/yaml.v3"

	"CoinWatch/internal/chartcache"
	"CoinWatch/internal/collector"
	"CoinWatch/internal/fetch"
	"CoinWatch/internal/model"
	"CoinWatch/internal/pricecache"
	"CoinWatch/internal/storage"
)

// DefaultPath is used when CONFIG_PATH is unset.
const DefaultPath = "configs/config.yaml"

// Source names.
const (
	SourceCoinGecko = "coingecko"
	SourceMock      = "mock"
)

// Config holds all application configuration.
type Config struct {
	Source string `yaml:"source" env:"COINWATCH_SOURCE,overwrite"`

	API struct {
		BaseURL           string        `yaml:"base_url" env:"COINWATCH_API_BASE_URL,overwrite"`
		APIKey            string        `yaml:"api_key" env:"COINWATCH_API_KEY,overwrite"`
		Timeout           time.Duration `yaml:"timeout" env:"COINWATCH_API_TIMEOUT,overwrite"`
		MaxRetries        int           `yaml:"max_retries" env:"COINWATCH_API_MAX_RETRIES,overwrite"`
		InitialDelay      time.Duration `yaml:"initial_delay" env:"COINWATCH_API_INITIAL_DELAY,overwrite"`
		RequestsPerSecond float64       `yaml:"requests_per_second" env:"COINWATCH_API_RPS,overwrite"`
	} `yaml:"api"`

	Poll struct {
		Interval time.Duration `yaml:"interval" env:"COINWATCH_POLL_INTERVAL,overwrite"`
	} `yaml:"poll"`

	Chart struct {
		TTL      time.Duration `yaml:"ttl" env:"COINWATCH_CHART_TTL,overwrite"`
		Capacity int           `yaml:"capacity" env:"COINWATCH_CHART_CAPACITY,overwrite"`
	} `yaml:"chart"`

	Instruments []model.Instrument `yaml:"instruments"`

	Storage struct {
		Backend    string `yaml:"backend" env:"COINWATCH_STORAGE_BACKEND,overwrite"`
		Dir        string `yaml:"dir" env:"COINWATCH_STORAGE_DIR,overwrite"`
		SQLitePath string `yaml:"sqlite_path" env:"COINWATCH_SQLITE_PATH,overwrite"`
		Redis      struct {
			Addr     string `yaml:"addr" env:"COINWATCH_REDIS_ADDR,overwrite"`
			Password string `yaml:"password" env:"COINWATCH_REDIS_PASSWORD,overwrite"`
			DB       int    `yaml:"db" env:"COINWATCH_REDIS_DB,overwrite"`
		} `yaml:"redis"`
		S3 struct {
			Endpoint       string `yaml:"endpoint" env:"COINWATCH_S3_ENDPOINT,overwrite"`
			Region         string `yaml:"region" env:"COINWATCH_S3_REGION,overwrite"`
			Bucket         string `yaml:"bucket" env:"COINWATCH_S3_BUCKET,overwrite"`
			Prefix         string `yaml:"prefix" env:"COINWATCH_S3_PREFIX,overwrite"`
			AccessKey      string `yaml:"access_key" env:"COINWATCH_S3_ACCESS_KEY,overwrite"`
			SecretKey      string `yaml:"secret_key" env:"COINWATCH_S3_SECRET_KEY,overwrite"`
			ForcePathStyle bool   `yaml:"force_path_style" env:"COINWATCH_S3_FORCE_PATH_STYLE,overwrite"`
		} `yaml:"s3"`
	} `yaml:"storage"`

	Telegram struct {
		BotToken    string `yaml:"bot_token" env:"TELEGRAM_BOT_TOKEN,overwrite"`
		ChatID      string `yaml:"chat_id" env:"TELEGRAM_CHAT_ID,overwrite"`
		SendRetries int    `yaml:"send_retries" env:"COINWATCH_TELEGRAM_SEND_RETRIES,overwrite"`
	} `yaml:"telegram"`

	Proxy string `yaml:"proxy" env:"HTTPS_PROXY,overwrite"`

	Log struct {
		Level string `yaml:"level" env:"COINWATCH_LOG_LEVEL,overwrite"`
	} `yaml:"log"`
}

// Defaults returns the configuration used for anything the file and
// environment leave unset.
func Defaults() *Config {
	cfg := &Config{Source: SourceCoinGecko}
	cfg.API.BaseURL = collector.DefaultBaseURL
	cfg.API.Timeout = fetch.DefaultTimeout
	cfg.API.MaxRetries = fetch.DefaultMaxRetries
	cfg.API.InitialDelay = fetch.DefaultInitialDelay
	cfg.Poll.Interval = pricecache.DefaultPollInterval
	cfg.Chart.TTL = chartcache.DefaultTTL
	cfg.Chart.Capacity = chartcache.DefaultCapacity
	cfg.Instruments = append([]model.Instrument(nil), model.DefaultInstruments...)
	cfg.Storage.Backend = storage.BackendFile
	cfg.Storage.Dir = "data"
	cfg.Storage.SQLitePath = "data/coinwatch.db"
	cfg.Storage.S3.Region = "us-east-1"
	cfg.Storage.S3.Prefix = "coinwatch/"
	cfg.Telegram.SendRetries = 3
	cfg.Log.Level = "info"
	return cfg
}

// Load reads config from a YAML file, then .env, then environment variable
// overrides. A missing file is not an error.
func Load(ctx context.Context, path string) (*Config, error) {
	_ = godotenv.Load()
	return load(ctx, path, envconfig.OsLookuper())
}

func load(ctx context.Context, path string, lookuper envconfig.Lookuper) (*Config, error) {
	cfg := Defaults()

	data, err := os.ReadFile(path)
	if err != nil && !os.IsNotExist(err) {
		return nil, fmt.Errorf("read config: %w", err)
	}
	if len(data) > 0 {
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config: %w", err)
		}
	}

	if err := envconfig.ProcessWith(ctx, &envconfig.Config{
		Target:   cfg,
		Lookuper: lookuper,
	}); err != nil {
		return nil, fmt.Errorf("apply environment: %w", err)
	}
	return cfg, nil
}

// Validate checks that all required fields are set.
func (c *Config) Validate() error {
	switch c.Source {
	case SourceCoinGecko:
		if c.API.BaseURL == "" {
			return errors.New("api.base_url is required")
		}
	case SourceMock:
	default:
		return fmt.Errorf("unknown source %q", c.Source)
	}
	if c.API.Timeout <= 0 {
		return errors.New("api.timeout must be positive")
	}
	if c.API.MaxRetries < 0 {
		return errors.New("api.max_retries must not be negative")
	}
	if c.API.InitialDelay <= 0 {
		return errors.New("api.initial_delay must be positive")
	}
	if c.API.RequestsPerSecond < 0 {
		return errors.New("api.requests_per_second must not be negative")
	}
	if c.Poll.Interval <= 0 {
		return errors.New("poll.interval must be positive")
	}
	if c.Chart.TTL <= 0 {
		return errors.New("chart.ttl must be positive")
	}
	if c.Chart.Capacity <= 0 {
		return errors.New("chart.capacity must be positive")
	}

	if len(c.Instruments) == 0 {
		return errors.New("at least one instrument is required")
	}
	seen := make(map[string]bool, len(c.Instruments))
	for i, inst := range c.Instruments {
		if inst.ID == "" {
			return fmt.Errorf("instruments[%d].id is required", i)
		}
		if seen[inst.ID] {
			return fmt.Errorf("duplicate instrument %q", inst.ID)
		}
		seen[inst.ID] = true
	}

	switch c.Storage.Backend {
	case storage.BackendFile:
		if c.Storage.Dir == "" {
			return errors.New("storage.dir is required for the file backend")
		}
	case storage.BackendSQLite:
		if c.Storage.SQLitePath == "" {
			return errors.New("storage.sqlite_path is required for the sqlite backend")
		}
	case storage.BackendRedis:
		if c.Storage.Redis.Addr == "" {
			return errors.New("storage.redis.addr is required for the redis backend")
		}
	case storage.BackendS3:
		if c.Storage.S3.Bucket == "" {
			return errors.New("storage.s3.bucket is required for the s3 backend")
		}
	case storage.BackendMemory, storage.BackendNone, "":
	default:
		return fmt.Errorf("unknown storage backend %q", c.Storage.Backend)
	}

	if c.Telegram.BotToken != "" && c.Telegram.ChatID == "" {
		return errors.New("telegram.chat_id is required when telegram.bot_token is set")
	}
	if c.Telegram.SendRetries < 0 {
		return errors.New("telegram.send_retries must not be negative")
	}
	return nil
}

// FetchOptions returns the HTTP client settings.
func (c *Config) FetchOptions() fetch.Options {
	return fetch.Options{
		Timeout:        c.API.Timeout,
		MaxRetries:     c.API.MaxRetries,
		InitialDelay:   c.API.InitialDelay,
		APIKey:         c.API.APIKey,
		RequestsPerSec: c.API.RequestsPerSecond,
		Proxy:          c.Proxy,
	}
}

// StorageOptions returns the blob store settings.
func (c *Config) StorageOptions() storage.Options {
	s := c.Storage
	return storage.Options{
		Backend:    s.Backend,
		Dir:        s.Dir,
		SQLitePath: s.SQLitePath,
		Redis: storage.RedisConfig{
			Addr:     s.Redis.Addr,
			Password: s.Redis.Password,
			DB:       s.Redis.DB,
		},
		S3: storage.S3Config{
			Endpoint:       s.S3.Endpoint,
			Region:         s.S3.Region,
			Bucket:         s.S3.Bucket,
			Prefix:         s.S3.Prefix,
			AccessKey:      s.S3.AccessKey,
			SecretKey:      s.S3.SecretKey,
			ForcePathStyle: s.S3.ForcePathStyle,
		},
	}
}

// TelegramEnabled reports whether a bot token is configured.
func (c *Config) TelegramEnabled() bool {
	return c.Telegram.BotToken != ""
}
