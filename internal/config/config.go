package config

import (
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds all configuration for the findoc gateway and worker.
type Config struct {
	Server   ServerConfig
	AI       AIConfig
	Queue    QueueConfig
	Worker   WorkerConfig
	Storage  StorageConfig
	Security SecurityConfig
}

type ServerConfig struct {
	Port            int
	Env             string
	ShutdownTimeout time.Duration
}

type AIConfig struct {
	Provider         string
	InferenceTimeout time.Duration
	Temperature      float64
	ContextChars     int
	MaxIter          int
	MaxRPM           int
	OpenAI           OpenAIConfig
	Ollama           OllamaConfig
}

type OpenAIConfig struct {
	APIKey  string
	Model   string
	BaseURL string
}

type OllamaConfig struct {
	BaseURL string
	Model   string
}

type QueueConfig struct {
	BrokerURL        string
	Name             string
	ResultBackendURL string
	ResultTTL        time.Duration
}

type WorkerConfig struct {
	Concurrency int
	Name        string
}

type StorageConfig struct {
	Driver        string
	Dir           string
	MaxBytes      int64
	SweepAge      time.Duration
	SweepInterval time.Duration
	Minio         MinioConfig
}

type MinioConfig struct {
	Endpoint  string
	AccessKey string
	SecretKey string
	Bucket    string
	UseSSL    bool
}

type SecurityConfig struct {
	APIKeyHash   string
	RateLimitRPM int
}

var validProviders = map[string]bool{
	"openai": true,
	"ollama": true,
	"mock":   true,
}

var (
	brokerSchemes  = map[string]bool{"redis": true, "rediss": true, "amqp": true, "amqps": true, "memory": true}
	backendSchemes = map[string]bool{"redis": true, "rediss": true, "postgres": true, "postgresql": true, "memory": true}
)

// envBindings maps config keys to the environment variables that set them.
var envBindings = map[string]string{
	"server.port":              "FINDOC_PORT",
	"server.env":               "FINDOC_ENV",
	"server.shutdown_timeout":  "FINDOC_SHUTDOWN_TIMEOUT",
	"ai.provider":              "AI_PROVIDER",
	"ai.inference_timeout":     "AI_INFERENCE_TIMEOUT",
	"ai.temperature":           "AI_TEMPERATURE",
	"ai.context_chars":         "AI_CONTEXT_CHARS",
	"ai.max_iter":              "AGENT_MAX_ITER",
	"ai.max_rpm":               "AGENT_MAX_RPM",
	"ai.openai.api_key":        "OPENAI_API_KEY",
	"ai.openai.model":          "OPENAI_MODEL",
	"ai.openai.base_url":       "OPENAI_BASE_URL",
	"ai.ollama.base_url":       "OLLAMA_BASE_URL",
	"ai.ollama.model":          "OLLAMA_MODEL",
	"queue.broker_url":         "BROKER_URL",
	"queue.name":               "QUEUE_NAME",
	"queue.result_backend_url": "RESULT_BACKEND_URL",
	"queue.result_ttl":         "RESULT_TTL",
	"worker.concurrency":       "WORKER_CONCURRENCY",
	"worker.name":              "WORKER_NAME",
	"storage.driver":           "UPLOAD_STORAGE",
	"storage.dir":              "UPLOAD_DIR",
	"storage.max_bytes":        "UPLOAD_MAX_BYTES",
	"storage.sweep_age":        "UPLOAD_SWEEP_AGE",
	"storage.sweep_interval":   "UPLOAD_SWEEP_INTERVAL",
	"minio.endpoint":           "MINIO_ENDPOINT",
	"minio.access_key":         "MINIO_ACCESS_KEY",
	"minio.secret_key":         "MINIO_SECRET_KEY",
	"minio.bucket":             "MINIO_BUCKET",
	"minio.use_ssl":            "MINIO_USE_SSL",
	"security.api_key_hash":    "API_KEY_HASH",
	"security.rate_limit_rpm":  "RATE_LIMIT_RPM",
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 8000)
	v.SetDefault("server.env", "development")
	v.SetDefault("server.shutdown_timeout", "30s")

	v.SetDefault("ai.provider", "openai")
	v.SetDefault("ai.inference_timeout", "0s")
	v.SetDefault("ai.temperature", 0.3)
	v.SetDefault("ai.context_chars", 48000)
	v.SetDefault("ai.max_iter", 3)
	v.SetDefault("ai.max_rpm", 5)
	v.SetDefault("ai.openai.model", "gpt-4o-mini")
	v.SetDefault("ai.ollama.base_url", "http://localhost:11434")
	v.SetDefault("ai.ollama.model", "llama3")

	v.SetDefault("queue.broker_url", "redis://localhost:6379/0")
	v.SetDefault("queue.name", "analyze_document")
	v.SetDefault("queue.result_backend_url", "redis://localhost:6379/0")
	v.SetDefault("queue.result_ttl", "24h")

	v.SetDefault("worker.concurrency", 1)

	v.SetDefault("storage.driver", "local")
	v.SetDefault("storage.dir", "data")
	v.SetDefault("storage.max_bytes", 32<<20)
	v.SetDefault("storage.sweep_age", "24h")
	v.SetDefault("storage.sweep_interval", "1h")

	v.SetDefault("minio.endpoint", "localhost:9000")
	v.SetDefault("minio.access_key", "minioadmin")
	v.SetDefault("minio.secret_key", "minioadmin")
	v.SetDefault("minio.bucket", "uploads")
	v.SetDefault("minio.use_ssl", false)

	v.SetDefault("security.rate_limit_rpm", 0)
}

// Load reads configuration from environment variables and returns a validated Config.
// Returns an error naming the offending variable if any required value is missing or invalid.
func Load() (*Config, error) {
	v := viper.New()
	for key, env := range envBindings {
		if err := v.BindEnv(key, env); err != nil {
			return nil, fmt.Errorf("bind %s: %w", env, err)
		}
	}
	setDefaults(v)

	cfg := &Config{
		Server: ServerConfig{
			Port:            v.GetInt("server.port"),
			Env:             v.GetString("server.env"),
			ShutdownTimeout: v.GetDuration("server.shutdown_timeout"),
		},
		AI: AIConfig{
			Provider:         strings.ToLower(strings.TrimSpace(v.GetString("ai.provider"))),
			InferenceTimeout: v.GetDuration("ai.inference_timeout"),
			Temperature:      v.GetFloat64("ai.temperature"),
			ContextChars:     v.GetInt("ai.context_chars"),
			MaxIter:          v.GetInt("ai.max_iter"),
			MaxRPM:           v.GetInt("ai.max_rpm"),
			OpenAI: OpenAIConfig{
				APIKey:  strings.TrimSpace(v.GetString("ai.openai.api_key")),
				Model:   v.GetString("ai.openai.model"),
				BaseURL: v.GetString("ai.openai.base_url"),
			},
			Ollama: OllamaConfig{
				BaseURL: v.GetString("ai.ollama.base_url"),
				Model:   v.GetString("ai.ollama.model"),
			},
		},
		Queue: QueueConfig{
			BrokerURL:        v.GetString("queue.broker_url"),
			Name:             v.GetString("queue.name"),
			ResultBackendURL: v.GetString("queue.result_backend_url"),
			ResultTTL:        v.GetDuration("queue.result_ttl"),
		},
		Worker: WorkerConfig{
			Concurrency: v.GetInt("worker.concurrency"),
			Name:        strings.TrimSpace(v.GetString("worker.name")),
		},
		Storage: StorageConfig{
			Driver:        strings.ToLower(v.GetString("storage.driver")),
			Dir:           v.GetString("storage.dir"),
			MaxBytes:      v.GetInt64("storage.max_bytes"),
			SweepAge:      v.GetDuration("storage.sweep_age"),
			SweepInterval: v.GetDuration("storage.sweep_interval"),
			Minio: MinioConfig{
				Endpoint:  v.GetString("minio.endpoint"),
				AccessKey: v.GetString("minio.access_key"),
				SecretKey: v.GetString("minio.secret_key"),
				Bucket:    v.GetString("minio.bucket"),
				UseSSL:    v.GetBool("minio.use_ssl"),
			},
		},
		Security: SecurityConfig{
			APIKeyHash:   v.GetString("security.api_key_hash"),
			RateLimitRPM: v.GetInt("security.rate_limit_rpm"),
		},
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

func (c *Config) validate() error {
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("FINDOC_PORT must be between 1 and 65535, got %d", c.Server.Port)
	}

	if c.AI.Provider == "" {
		return fmt.Errorf("AI_PROVIDER is required")
	}
	if !validProviders[c.AI.Provider] {
		return fmt.Errorf("AI_PROVIDER must be one of openai, ollama, mock; got %q", c.AI.Provider)
	}
	if c.AI.Provider == "openai" && c.AI.OpenAI.APIKey == "" {
		return fmt.Errorf("OPENAI_API_KEY is required when AI_PROVIDER is openai")
	}
	if c.AI.MaxIter < 1 {
		return fmt.Errorf("AGENT_MAX_ITER must be at least 1, got %d", c.AI.MaxIter)
	}
	if c.AI.MaxRPM < 0 {
		return fmt.Errorf("AGENT_MAX_RPM must not be negative, got %d", c.AI.MaxRPM)
	}
	if c.AI.ContextChars < 1000 {
		return fmt.Errorf("AI_CONTEXT_CHARS must be at least 1000, got %d", c.AI.ContextChars)
	}

	if err := checkScheme("BROKER_URL", c.Queue.BrokerURL, brokerSchemes); err != nil {
		return err
	}
	if err := checkScheme("RESULT_BACKEND_URL", c.Queue.ResultBackendURL, backendSchemes); err != nil {
		return err
	}
	if c.Queue.Name == "" {
		return fmt.Errorf("QUEUE_NAME is required")
	}
	if c.Queue.ResultTTL <= 0 {
		return fmt.Errorf("RESULT_TTL must be positive, got %s", c.Queue.ResultTTL)
	}

	if c.Worker.Concurrency < 1 {
		return fmt.Errorf("WORKER_CONCURRENCY must be at least 1, got %d", c.Worker.Concurrency)
	}

	switch c.Storage.Driver {
	case "local":
		if c.Storage.Dir == "" {
			return fmt.Errorf("UPLOAD_DIR is required when UPLOAD_STORAGE is local")
		}
	case "minio":
		if c.Storage.Minio.Endpoint == "" || c.Storage.Minio.Bucket == "" {
			return fmt.Errorf("MINIO_ENDPOINT and MINIO_BUCKET are required when UPLOAD_STORAGE is minio")
		}
	default:
		return fmt.Errorf("UPLOAD_STORAGE must be one of local, minio; got %q", c.Storage.Driver)
	}
	// Uploads of jobs still queued must outlive the sweep.
	if c.Storage.SweepAge < 0 {
		return fmt.Errorf("UPLOAD_SWEEP_AGE must not be negative, got %s", c.Storage.SweepAge)
	}
	if c.Storage.SweepAge > 0 && c.Storage.SweepAge < c.Queue.ResultTTL {
		return fmt.Errorf("UPLOAD_SWEEP_AGE (%s) must be 0 or at least RESULT_TTL (%s)", c.Storage.SweepAge, c.Queue.ResultTTL)
	}
	if c.Storage.MaxBytes <= 0 {
		return fmt.Errorf("UPLOAD_MAX_BYTES must be positive, got %d", c.Storage.MaxBytes)
	}

	if c.Security.RateLimitRPM < 0 {
		return fmt.Errorf("RATE_LIMIT_RPM must not be negative, got %d", c.Security.RateLimitRPM)
	}

	return nil
}

// checkScheme validates that raw parses as a URL whose scheme is in allowed.
func checkScheme(env, raw string, allowed map[string]bool) error {
	if raw == "" {
		return fmt.Errorf("%s is required", env)
	}
	u, err := url.Parse(raw)
	if err != nil {
		return fmt.Errorf("%s is not a valid URL: %w", env, err)
	}
	if !allowed[u.Scheme] {
		return fmt.Errorf("%s has unsupported scheme %q", env, u.Scheme)
	}
	return nil
}

// Scheme returns the URL scheme of raw, or "" if it does not parse.
func Scheme(raw string) string {
	u, err := url.Parse(raw)
	if err != nil {
		return ""
	}
	return u.Scheme
}

// IsProduction reports whether the server runs with FINDOC_ENV=production.
func (c *Config) IsProduction() bool {
	return c.Server.Env == "production"
}
