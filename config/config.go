package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/nijaru/yt-script/gemini"
	"github.com/nijaru/yt-script/pool"
	"github.com/nijaru/yt-script/retry"
	"github.com/nijaru/yt-script/script"
	"github.com/nijaru/yt-script/services/pipeline"
	"github.com/nijaru/yt-script/storage"
)

type Config struct {
	// Server settings
	ServerPort   string        `json:"server_port"`
	ReadTimeout  time.Duration `json:"read_timeout"`
	WriteTimeout time.Duration `json:"write_timeout"`
	IdleTimeout  time.Duration `json:"idle_timeout"`
	Debug        bool          `json:"debug"`
	Environment  string        `json:"environment"`

	LogDir   string `json:"log_dir"`
	LogLevel string `json:"log_level"`

	Middleware MiddlewareConfig     `json:"middleware"`
	CORS       CORSConfig           `json:"cors"`
	RateLimit  RateLimitConfig      `json:"rate_limit"`
	Database   DatabaseConfig       `json:"database"`
	Gemini     GeminiConfig         `json:"gemini"`
	Pools      PoolsConfig          `json:"pools"`
	Retry      RetryConfig          `json:"retry"`
	Script     ScriptConfig         `json:"script"`
	Pipeline   PipelineConfig       `json:"pipeline"`
	Storage    storage.SpacesConfig `json:"-"`
	NATS       NATSConfig           `json:"nats"`

	Version string `json:"version"`

	// RequestTimeout bounds synchronous requests; a full run can take an hour.
	RequestTimeout  time.Duration `json:"request_timeout"`
	ShutdownTimeout time.Duration `json:"shutdown_timeout"`
}

type MiddlewareConfig struct {
	EnableRecover   bool `json:"enable_recover"`
	EnableRequestID bool `json:"enable_request_id"`
	EnableLogger    bool `json:"enable_logger"`
	EnableTimeout   bool `json:"enable_timeout"`
	EnableCORS      bool `json:"enable_cors"`
	EnableRateLimit bool `json:"enable_rate_limit"`
	EnableCompress  bool `json:"enable_compress"`
	EnableETag      bool `json:"enable_etag"`
	EnableDebugMode bool `json:"enable_debug_mode"`
}

type CORSConfig struct {
	Enabled          bool     `json:"enabled"`
	AllowedOrigins   []string `json:"allowed_origins"`
	AllowedMethods   []string `json:"allowed_methods"`
	AllowedHeaders   []string `json:"allowed_headers"`
	ExposedHeaders   []string `json:"exposed_headers"`
	AllowCredentials bool     `json:"allow_credentials"`
	MaxAge           int      `json:"max_age"`
}

type RateLimitConfig struct {
	Enabled           bool `json:"enabled"`
	RequestsPerMinute int  `json:"requests_per_minute"`
	BurstSize         int  `json:"burst_size"`
}

type DatabaseConfig struct {
	Path               string        `json:"path"`
	MaxConnections     int           `json:"max_connections"`
	MaxIdleConnections int           `json:"max_idle_connections"`
	ConnMaxLifetime    time.Duration `json:"conn_max_lifetime"`
}

type GeminiConfig struct {
	Endpoint          string        `json:"endpoint"`
	VideoTimeout      time.Duration `json:"video_timeout"`
	TextTimeout       time.Duration `json:"text_timeout"`
	RequestsPerMinute int           `json:"requests_per_minute"`
	DurationModel     string        `json:"duration_model"`
	SegmentModel      string        `json:"segment_model"`
	SegmentationModel string        `json:"segmentation_model"`
	ChatModel         string        `json:"chat_model"`
}

type PoolsConfig struct {
	SeedFile             string        `json:"seed_file"`
	Keys                 []string      `json:"-"`
	Proxies              []string      `json:"-"`
	UseProxies           bool          `json:"use_proxies"`
	CredentialBaseDelay  time.Duration `json:"credential_base_delay"`
	CredentialMaxDelay   time.Duration `json:"credential_max_delay"`
	ProxyBaseDelay       time.Duration `json:"proxy_base_delay"`
	ProxyMaxDelay        time.Duration `json:"proxy_max_delay"`
	ProxyTestURL         string        `json:"proxy_test_url"`
	ProxyTestTimeout     time.Duration `json:"proxy_test_timeout"`
	ProxyCheckInterval   time.Duration `json:"proxy_check_interval"`
	ProxyTestConcurrency int           `json:"proxy_test_concurrency"`
}

type RetryConfig struct {
	MaxAttempts int           `json:"max_attempts"`
	BaseDelay   time.Duration `json:"base_delay"`
	MaxDelay    time.Duration `json:"max_delay"`
	Jitter      float64       `json:"jitter"`
}

type ScriptConfig struct {
	Models           []string      `json:"models"`
	AttemptsPerModel int           `json:"attempts_per_model"`
	AttemptDelay     time.Duration `json:"attempt_delay"`
}

type PipelineConfig struct {
	StepPause         time.Duration `json:"step_pause"`
	InterSegmentPause time.Duration `json:"inter_segment_pause"`
	PreCallPause      time.Duration `json:"pre_call_pause"`
	Workers           int           `json:"workers"`
	QueueSize         int           `json:"queue_size"`
	RunTimeout        time.Duration `json:"run_timeout"`
	HungTimeout       time.Duration `json:"hung_timeout"`
	StaleCheck        time.Duration `json:"stale_check"`
}

type NATSConfig struct {
	URL           string `json:"url"`
	SubjectPrefix string `json:"subject_prefix"`
}

func defaultDevConfig() MiddlewareConfig {
	return MiddlewareConfig{
		EnableRecover:   true,
		EnableRequestID: true,
		EnableLogger:    true,
		EnableTimeout:   false,
		EnableCORS:      true,
		EnableRateLimit: false,
		EnableCompress:  false,
		EnableETag:      false,
		EnableDebugMode: true,
	}
}

func defaultProdConfig() MiddlewareConfig {
	return MiddlewareConfig{
		EnableRecover:   true,
		EnableRequestID: true,
		EnableLogger:    true,
		EnableTimeout:   true,
		EnableCORS:      true,
		EnableRateLimit: true,
		EnableCompress:  true,
		EnableETag:      true,
		EnableDebugMode: false,
	}
}

// Load reads a .env file when present, then the environment.
func Load() (*Config, error) {
	_ = godotenv.Load()

	cfg := &Config{
		ServerPort:   getEnv("SERVER_PORT", "3004"),
		ReadTimeout:  getEnvAsDuration("READ_TIMEOUT", 30*time.Second),
		WriteTimeout: getEnvAsDuration("WRITE_TIMEOUT", 2*time.Hour),
		IdleTimeout:  getEnvAsDuration("IDLE_TIMEOUT", 120*time.Second),
		Debug:        getEnvAsBool("DEBUG", false),
		Environment:  getEnv("ENV", "development"),

		LogDir:   getEnv("LOG_DIR", "./logs"),
		LogLevel: getEnv("LOG_LEVEL", "info"),

		Version: getEnv("VERSION", "1.0.0"),

		RequestTimeout:  getEnvAsDuration("REQUEST_TIMEOUT", 2*time.Hour),
		ShutdownTimeout: getEnvAsDuration("SHUTDOWN_TIMEOUT", 30*time.Second),

		CORS: CORSConfig{
			Enabled:          getEnvAsBool("CORS_ENABLED", true),
			AllowedOrigins:   getEnvAsStringSlice("CORS_ALLOWED_ORIGINS", []string{"*"}),
			AllowedMethods:   getEnvAsStringSlice("CORS_ALLOWED_METHODS", []string{"GET", "POST", "DELETE", "OPTIONS"}),
			AllowedHeaders:   getEnvAsStringSlice("CORS_ALLOWED_HEADERS", []string{"Content-Type"}),
			ExposedHeaders:   getEnvAsStringSlice("CORS_EXPOSED_HEADERS", []string{}),
			AllowCredentials: getEnvAsBool("CORS_ALLOW_CREDENTIALS", false),
			MaxAge:           getEnvAsInt("CORS_MAX_AGE", 86400),
		},

		RateLimit: RateLimitConfig{
			Enabled:           getEnvAsBool("RATE_LIMIT_ENABLED", true),
			RequestsPerMinute: getEnvAsInt("RATE_LIMIT_RPM", 60),
			BurstSize:         getEnvAsInt("RATE_LIMIT_BURST", 10),
		},

		Database: DatabaseConfig{
			Path:               getEnv("DB_PATH", "./data/yt-script.db"),
			MaxConnections:     getEnvAsInt("DB_MAX_CONNECTIONS", 10),
			MaxIdleConnections: getEnvAsInt("DB_MAX_IDLE_CONNECTIONS", 5),
			ConnMaxLifetime:    getEnvAsDuration("DB_CONN_MAX_LIFETIME", time.Hour),
		},

		Gemini: GeminiConfig{
			Endpoint:          getEnv("GEMINI_ENDPOINT", gemini.DefaultEndpoint),
			VideoTimeout:      getEnvAsDuration("GEMINI_VIDEO_TIMEOUT", gemini.DefaultVideoTimeout),
			TextTimeout:       getEnvAsDuration("GEMINI_TEXT_TIMEOUT", gemini.DefaultTextTimeout),
			RequestsPerMinute: getEnvAsInt("GEMINI_RPM", 0),
			DurationModel:     getEnv("GEMINI_DURATION_MODEL", gemini.DefaultVideoModel),
			SegmentModel:      getEnv("GEMINI_SEGMENT_MODEL", gemini.DefaultSegmentModel),
			SegmentationModel: getEnv("GEMINI_SEGMENTATION_MODEL", gemini.DefaultTextModel),
			ChatModel:         getEnv("GEMINI_CHAT_MODEL", gemini.DefaultTextModel),
		},

		Pools: PoolsConfig{
			SeedFile:             getEnv("POOLS_FILE", ""),
			Keys:                 getEnvAsStringSlice("GEMINI_API_KEYS", nil),
			Proxies:              getEnvAsStringSlice("PROXIES", nil),
			UseProxies:           getEnvAsBool("USE_PROXIES", true),
			CredentialBaseDelay:  getEnvAsDuration("KEY_COOLDOWN_BASE", pool.DefaultCredentialBaseDelay),
			CredentialMaxDelay:   getEnvAsDuration("KEY_COOLDOWN_MAX", pool.DefaultCredentialMaxDelay),
			ProxyBaseDelay:       getEnvAsDuration("PROXY_COOLDOWN_BASE", pool.DefaultEgressBaseDelay),
			ProxyMaxDelay:        getEnvAsDuration("PROXY_COOLDOWN_MAX", pool.DefaultEgressMaxDelay),
			ProxyTestURL:         getEnv("PROXY_TEST_URL", pool.DefaultProxyTestURL),
			ProxyTestTimeout:     getEnvAsDuration("PROXY_TEST_TIMEOUT", pool.DefaultProxyTestTimeout),
			ProxyCheckInterval:   getEnvAsDuration("PROXY_CHECK_INTERVAL", 10*time.Minute),
			ProxyTestConcurrency: getEnvAsInt("PROXY_TEST_CONCURRENCY", 5),
		},

		Retry: RetryConfig{
			MaxAttempts: getEnvAsInt("RETRY_MAX_ATTEMPTS", retry.DefaultMaxAttempts),
			BaseDelay:   getEnvAsDuration("RETRY_BASE_DELAY", retry.DefaultBaseDelay),
			MaxDelay:    getEnvAsDuration("RETRY_MAX_DELAY", retry.DefaultMaxDelay),
			Jitter:      getEnvAsFloat("RETRY_JITTER", retry.DefaultJitter),
		},

		Script: ScriptConfig{
			Models:           getEnvAsStringSlice("SCRIPT_MODELS", script.DefaultModels),
			AttemptsPerModel: getEnvAsInt("SCRIPT_ATTEMPTS_PER_MODEL", script.DefaultAttemptsPerModel),
			AttemptDelay:     getEnvAsDuration("SCRIPT_ATTEMPT_DELAY", script.DefaultAttemptDelay),
		},

		Pipeline: PipelineConfig{
			StepPause:         getEnvAsDuration("PIPELINE_STEP_PAUSE", time.Minute),
			InterSegmentPause: getEnvAsDuration("PIPELINE_SEGMENT_PAUSE", time.Minute),
			PreCallPause:      getEnvAsDuration("PIPELINE_PRE_CALL_PAUSE", time.Minute),
			Workers:           getEnvAsInt("PIPELINE_WORKERS", 2),
			QueueSize:         getEnvAsInt("PIPELINE_QUEUE_SIZE", 20),
			RunTimeout:        getEnvAsDuration("PIPELINE_RUN_TIMEOUT", 3*time.Hour),
			HungTimeout:       getEnvAsDuration("PIPELINE_HUNG_TIMEOUT", 90*time.Minute),
			StaleCheck:        getEnvAsDuration("PIPELINE_STALE_CHECK", 15*time.Minute),
		},

		Storage: storage.SpacesConfig{
			AccessKey: getEnv("SPACES_ACCESS_KEY", ""),
			SecretKey: getEnv("SPACES_SECRET_KEY", ""),
			Region:    getEnv("SPACES_REGION", "us-east-1"),
			Endpoint:  getEnv("SPACES_ENDPOINT", ""),
			Bucket:    getEnv("SPACES_BUCKET", ""),
		},

		NATS: NATSConfig{
			URL:           getEnv("NATS_URL", ""),
			SubjectPrefix: getEnv("NATS_SUBJECT_PREFIX", "yt-script.progress"),
		},

		Middleware: defaultDevConfig(),
	}

	if cfg.Environment == "production" {
		cfg.Middleware = defaultProdConfig()
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

func (c *Config) Validate() error {
	if err := validatePaths(c); err != nil {
		return err
	}
	if err := validateTimeouts(c); err != nil {
		return err
	}
	return validateServices(c)
}

func validatePaths(c *Config) error {
	paths := []struct {
		path string
		name string
	}{
		{c.LogDir, "log directory"},
		{filepath.Dir(c.Database.Path), "database directory"},
	}

	for _, p := range paths {
		if err := os.MkdirAll(p.path, 0o755); err != nil {
			return fmt.Errorf("failed to create %s: %w", p.name, err)
		}
	}
	return nil
}

func validateTimeouts(c *Config) error {
	if c.ReadTimeout <= 0 {
		return fmt.Errorf("read timeout must be positive")
	}
	if c.WriteTimeout <= 0 {
		return fmt.Errorf("write timeout must be positive")
	}
	if c.Gemini.VideoTimeout <= 0 || c.Gemini.TextTimeout <= 0 {
		return fmt.Errorf("gemini timeouts must be positive")
	}
	if c.Pipeline.StepPause < 0 || c.Pipeline.InterSegmentPause < 0 || c.Pipeline.PreCallPause < 0 {
		return fmt.Errorf("pipeline pauses must not be negative")
	}
	return nil
}

func validateServices(c *Config) error {
	if c.Retry.MaxAttempts < 1 {
		return fmt.Errorf("retry max attempts must be at least 1")
	}
	if c.Retry.MaxDelay < c.Retry.BaseDelay {
		return fmt.Errorf("retry max delay must not be below base delay")
	}
	if len(c.Script.Models) == 0 {
		return fmt.Errorf("at least one script model is required")
	}
	if c.Pipeline.Workers < 1 {
		return fmt.Errorf("pipeline workers must be at least 1")
	}
	if c.Pools.ProxyTestConcurrency < 1 {
		return fmt.Errorf("proxy test concurrency must be at least 1")
	}
	return nil
}

func (c *Config) CredentialPolicy() pool.Policy {
	return pool.Policy{BaseDelay: c.Pools.CredentialBaseDelay, MaxDelay: c.Pools.CredentialMaxDelay}
}

func (c *Config) EgressConfig() pool.EgressConfig {
	return pool.EgressConfig{
		Policy:          pool.Policy{BaseDelay: c.Pools.ProxyBaseDelay, MaxDelay: c.Pools.ProxyMaxDelay},
		TestURL:         c.Pools.ProxyTestURL,
		TestTimeout:     c.Pools.ProxyTestTimeout,
		TestConcurrency: c.Pools.ProxyTestConcurrency,
	}
}

func (c *Config) RetryPolicy() retry.Policy {
	p := retry.Default()
	p.MaxAttempts = c.Retry.MaxAttempts
	p.BaseDelay = c.Retry.BaseDelay
	p.MaxDelay = c.Retry.MaxDelay
	p.Jitter = c.Retry.Jitter
	return p
}

func (c *Config) GeminiClientConfig() gemini.Config {
	return gemini.Config{
		Endpoint:          c.Gemini.Endpoint,
		VideoTimeout:      c.Gemini.VideoTimeout,
		TextTimeout:       c.Gemini.TextTimeout,
		UseProxies:        c.Pools.UseProxies,
		RequestsPerMinute: c.Gemini.RequestsPerMinute,
		Retry:             c.RetryPolicy(),
	}
}

func (c *Config) ScriptChainConfig() script.Config {
	return script.Config{
		Models:           append([]string(nil), c.Script.Models...),
		AttemptsPerModel: c.Script.AttemptsPerModel,
		AttemptDelay:     c.Script.AttemptDelay,
	}
}

func (c *Config) PipelineServiceConfig() pipeline.Config {
	return pipeline.Config{
		StepPause:         c.Pipeline.StepPause,
		InterSegmentPause: c.Pipeline.InterSegmentPause,
		PreCallPause:      c.Pipeline.PreCallPause,
		DurationModel:     c.Gemini.DurationModel,
		SegmentModel:      c.Gemini.SegmentModel,
		ChatModel:         c.Gemini.ChatModel,
	}
}

func (c *Config) RunnerConfig() pipeline.RunnerConfig {
	return pipeline.RunnerConfig{
		Workers:         c.Pipeline.Workers,
		QueueSize:       c.Pipeline.QueueSize,
		RunTimeout:      c.Pipeline.RunTimeout,
		MonitorInterval: 5 * time.Minute,
		HungTimeout:     c.Pipeline.HungTimeout,
	}
}

func getEnv(key, defaultValue string) string {
	if value, exists := os.LookupEnv(key); exists {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	if value, exists := os.LookupEnv(key); exists {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

func getEnvAsFloat(key string, defaultValue float64) float64 {
	if value, exists := os.LookupEnv(key); exists {
		if f, err := strconv.ParseFloat(value, 64); err == nil {
			return f
		}
	}
	return defaultValue
}

func getEnvAsBool(key string, defaultValue bool) bool {
	if value, exists := os.LookupEnv(key); exists {
		if boolVal, err := strconv.ParseBool(value); err == nil {
			return boolVal
		}
	}
	return defaultValue
}

func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	if value, exists := os.LookupEnv(key); exists {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	return defaultValue
}

// getEnvAsStringSlice splits a comma list, trimming blanks.
func getEnvAsStringSlice(key string, defaultValue []string) []string {
	value, exists := os.LookupEnv(key)
	if !exists || strings.TrimSpace(value) == "" {
		return defaultValue
	}

	var out []string
	for _, part := range strings.Split(value, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
