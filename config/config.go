package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds all configuration for the relay
type Config struct {
	General    GeneralConfig    `mapstructure:"general"`
	Server     ServerConfig     `mapstructure:"server"`
	Extraction ExtractionConfig `mapstructure:"extraction"`
	LLM        LLMConfig        `mapstructure:"llm"`
	Storage    StorageConfig    `mapstructure:"storage"`
	Callback   CallbackConfig   `mapstructure:"callback"`
	Telemetry  TelemetryConfig  `mapstructure:"telemetry"`
}

// GeneralConfig contains general application settings
type GeneralConfig struct {
	Debug    bool   `mapstructure:"debug"`
	LogLevel string `mapstructure:"log_level"`
}

// ServerConfig contains HTTP server and auth settings
type ServerConfig struct {
	Address         string        `mapstructure:"address"`
	APIKey          string        `mapstructure:"api_key"`
	APIKeyHash      string        `mapstructure:"api_key_hash"` // bcrypt hash of the api key
	JWTSecret       string        `mapstructure:"jwt_secret"`
	AllowedOrigins  []string      `mapstructure:"allowed_origins"`
	MaxUploadMB     int           `mapstructure:"max_upload_mb"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

// AuthEnabled reports whether any credential is configured.
func (s ServerConfig) AuthEnabled() bool {
	return s.APIKey != "" || s.APIKeyHash != "" || s.JWTSecret != ""
}

// MaxUploadBytes is the body limit for uploads and downloads.
func (s ServerConfig) MaxUploadBytes() int64 {
	return int64(s.MaxUploadMB) << 20
}

// ExtractionConfig configures the Landing AI client and the batch worker pool.
type ExtractionConfig struct {
	APIKey     string        `mapstructure:"api_key"`
	Endpoint   string        `mapstructure:"endpoint"`
	Timeout    time.Duration `mapstructure:"timeout"`
	MaxRetries int           `mapstructure:"max_retries"`
	Backoff    time.Duration `mapstructure:"backoff"`
	BatchSize  int           `mapstructure:"batch_size"`
	MaxWorkers int           `mapstructure:"max_workers"`
}

// LLMConfig selects the question answering provider.
type LLMConfig struct {
	Provider    string        `mapstructure:"provider"` // openai or gemini
	APIKey      string        `mapstructure:"api_key"`
	BaseURL     string        `mapstructure:"base_url"`
	Model       string        `mapstructure:"model"`
	Temperature float64       `mapstructure:"temperature"`
	MaxTokens   int           `mapstructure:"max_tokens"`
	Timeout     time.Duration `mapstructure:"timeout"`
	TopK        int           `mapstructure:"top_k"`
}

func (l LLMConfig) Validate() error {
	switch l.Provider {
	case "openai", "gemini":
		return nil
	default:
		return fmt.Errorf("llm.provider must be openai or gemini, got %q", l.Provider)
	}
}

const (
	BackendMemory   = "memory"
	BackendRedis    = "redis"
	BackendPostgres = "postgres"
)

// StorageConfig contains batch store settings
type StorageConfig struct {
	Backend       string         `mapstructure:"backend"`
	Retention     time.Duration  `mapstructure:"retention"`
	SweepSchedule string         `mapstructure:"sweep_schedule"`
	Redis         RedisConfig    `mapstructure:"redis"`
	Postgres      PostgresConfig `mapstructure:"postgres"`
}

func (s StorageConfig) Validate() error {
	switch s.Backend {
	case BackendMemory:
		return nil
	case BackendRedis:
		return s.Redis.Validate()
	case BackendPostgres:
		return s.Postgres.Validate()
	default:
		return fmt.Errorf("storage.backend must be memory, redis or postgres, got %q", s.Backend)
	}
}

// RedisConfig contains Redis connection settings
type RedisConfig struct {
	Host     string        `mapstructure:"host"`
	Port     string        `mapstructure:"port"`
	Password string        `mapstructure:"password"`
	DB       int           `mapstructure:"db"`
	Timeout  time.Duration `mapstructure:"timeout"`
}

func (r RedisConfig) Addr() string { return r.Host + ":" + r.Port }

func (r RedisConfig) Validate() error {
	if strings.TrimSpace(r.Host) == "" {
		return fmt.Errorf("storage.redis.host required")
	}
	if strings.TrimSpace(r.Port) == "" {
		return fmt.Errorf("storage.redis.port required")
	}
	return nil
}

// PostgresConfig contains Postgres connection settings
type PostgresConfig struct {
	URL      string        `mapstructure:"url"`
	Host     string        `mapstructure:"host"`
	Port     string        `mapstructure:"port"`
	User     string        `mapstructure:"user"`
	Password string        `mapstructure:"password"`
	DBName   string        `mapstructure:"dbname"`
	SSLMode  string        `mapstructure:"sslmode"`
	Timeout  time.Duration `mapstructure:"timeout"`
}

func (p PostgresConfig) Validate() error {
	if strings.TrimSpace(p.URL) != "" {
		return nil
	}
	if strings.TrimSpace(p.Host) == "" {
		return fmt.Errorf("storage.postgres.host required when url is not provided")
	}
	if strings.TrimSpace(p.DBName) == "" {
		return fmt.Errorf("storage.postgres.dbname required when url is not provided")
	}
	return nil
}

// DSN returns the url when set, otherwise builds one from the parts.
func (p PostgresConfig) DSN() (string, error) {
	if p.URL != "" {
		return p.URL, nil
	}
	if p.Host == "" || p.DBName == "" {
		return "", fmt.Errorf("postgres configuration incomplete: host/dbname required")
	}
	port := p.Port
	if port == "" {
		port = "5432"
	}
	ssl := p.SSLMode
	if ssl == "" {
		ssl = "disable"
	}
	u := url.URL{
		Scheme:   "postgres",
		User:     url.UserPassword(p.User, p.Password),
		Host:     p.Host + ":" + port,
		Path:     "/" + p.DBName,
		RawQuery: "sslmode=" + url.QueryEscape(ssl),
	}
	return u.String(), nil
}

// CallbackConfig covers /process-document downloads and result callbacks.
type CallbackConfig struct {
	APIKey          string        `mapstructure:"api_key"`
	Timeout         time.Duration `mapstructure:"timeout"`
	MaxRetries      int           `mapstructure:"max_retries"`
	DownloadTimeout time.Duration `mapstructure:"download_timeout"`
}

// TelemetryConfig contains monitoring settings
type TelemetryConfig struct {
	MetricsEnabled bool `mapstructure:"metrics_enabled"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("general.debug", false)
	v.SetDefault("general.log_level", "info")

	v.SetDefault("server.address", ":8000")
	v.SetDefault("server.api_key", "")
	v.SetDefault("server.api_key_hash", "")
	v.SetDefault("server.jwt_secret", "")
	v.SetDefault("server.allowed_origins", []string{"*"})
	v.SetDefault("server.max_upload_mb", 25)
	v.SetDefault("server.shutdown_timeout", "30s")

	v.SetDefault("extraction.api_key", "")
	v.SetDefault("extraction.endpoint", "https://api.va.landing.ai/v1/tools/agentic-document-analysis")
	v.SetDefault("extraction.timeout", "3m")
	v.SetDefault("extraction.max_retries", 2)
	v.SetDefault("extraction.backoff", "500ms")
	v.SetDefault("extraction.batch_size", 20)
	v.SetDefault("extraction.max_workers", 4)

	v.SetDefault("llm.provider", "openai")
	v.SetDefault("llm.api_key", "")
	v.SetDefault("llm.base_url", "")
	v.SetDefault("llm.model", "")
	v.SetDefault("llm.temperature", 0.1)
	v.SetDefault("llm.max_tokens", 1024)
	v.SetDefault("llm.timeout", "60s")
	v.SetDefault("llm.top_k", 8)

	v.SetDefault("storage.backend", BackendMemory)
	v.SetDefault("storage.retention", "1h")
	v.SetDefault("storage.sweep_schedule", "* * * * *")
	v.SetDefault("storage.redis.host", "")
	v.SetDefault("storage.redis.port", "6379")
	v.SetDefault("storage.redis.password", "")
	v.SetDefault("storage.redis.db", 0)
	v.SetDefault("storage.redis.timeout", "5s")
	v.SetDefault("storage.postgres.url", "")
	v.SetDefault("storage.postgres.host", "")
	v.SetDefault("storage.postgres.port", "5432")
	v.SetDefault("storage.postgres.user", "")
	v.SetDefault("storage.postgres.password", "")
	v.SetDefault("storage.postgres.dbname", "")
	v.SetDefault("storage.postgres.sslmode", "disable")
	v.SetDefault("storage.postgres.timeout", "5s")

	v.SetDefault("callback.api_key", "")
	v.SetDefault("callback.timeout", "30s")
	v.SetDefault("callback.max_retries", 2)
	v.SetDefault("callback.download_timeout", "2m")

	v.SetDefault("telemetry.metrics_enabled", true)
}

// Normalize falls back to defaults for non-positive numbers and durations.
func (c *Config) Normalize() {
	c.General.LogLevel = strings.ToLower(strings.TrimSpace(c.General.LogLevel))
	if c.General.LogLevel == "" {
		c.General.LogLevel = "info"
	}
	if c.Server.Address == "" {
		c.Server.Address = ":8000"
	} else if !strings.Contains(c.Server.Address, ":") {
		c.Server.Address = ":" + c.Server.Address
	}
	if len(c.Server.AllowedOrigins) == 0 {
		c.Server.AllowedOrigins = []string{"*"}
	}
	if c.Server.MaxUploadMB <= 0 {
		c.Server.MaxUploadMB = 25
	}
	if c.Server.ShutdownTimeout <= 0 {
		c.Server.ShutdownTimeout = 30 * time.Second
	}
	if c.Extraction.Timeout <= 0 {
		c.Extraction.Timeout = 3 * time.Minute
	}
	if c.Extraction.MaxRetries < 0 {
		c.Extraction.MaxRetries = 0
	}
	if c.Extraction.Backoff <= 0 {
		c.Extraction.Backoff = 500 * time.Millisecond
	}
	if c.Extraction.BatchSize <= 0 {
		c.Extraction.BatchSize = 20
	}
	if c.Extraction.MaxWorkers <= 0 {
		c.Extraction.MaxWorkers = 4
	}
	c.LLM.Provider = strings.ToLower(strings.TrimSpace(c.LLM.Provider))
	if c.LLM.Provider == "" {
		c.LLM.Provider = "openai"
	}
	if c.LLM.Timeout <= 0 {
		c.LLM.Timeout = 60 * time.Second
	}
	if c.LLM.TopK <= 0 {
		c.LLM.TopK = 8
	}
	c.Storage.Backend = strings.ToLower(strings.TrimSpace(c.Storage.Backend))
	if c.Storage.Backend == "" {
		c.Storage.Backend = BackendMemory
	}
	if c.Storage.Retention <= 0 {
		c.Storage.Retention = time.Hour
	}
	if strings.TrimSpace(c.Storage.SweepSchedule) == "" {
		c.Storage.SweepSchedule = "* * * * *"
	}
	if c.Callback.Timeout <= 0 {
		c.Callback.Timeout = 30 * time.Second
	}
	if c.Callback.MaxRetries < 0 {
		c.Callback.MaxRetries = 0
	}
	if c.Callback.DownloadTimeout <= 0 {
		c.Callback.DownloadTimeout = 2 * time.Minute
	}
}

func (c *Config) Validate() error {
	if err := c.LLM.Validate(); err != nil {
		return err
	}
	return c.Storage.Validate()
}

// Load reads the config file at path, or config.json from the usual search
// paths when path is empty, and overlays DOCRELAY_* environment variables.
// A missing config file is not an error when path is empty.
func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetConfigName("config")
	setDefaults(v)

	if path == "" {
		v.AddConfigPath("./config")
		v.AddConfigPath(".")
		if exe, err := os.Executable(); err == nil {
			exeDir := filepath.Dir(exe)
			v.AddConfigPath(exeDir)
			v.AddConfigPath(filepath.Join(exeDir, "..", "config"))
		}
	} else {
		v.SetConfigFile(path)
	}

	v.SetEnvPrefix("DOCRELAY")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if path != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	cfg.Normalize()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// LoadConfig is Load for command entry points: it panics on a bad config.
func LoadConfig(path string) *Config {
	cfg, err := Load(path)
	if err != nil {
		panic(fmt.Errorf("fatal error config file: %w", err))
	}
	return cfg
}
