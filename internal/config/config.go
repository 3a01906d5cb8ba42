// Package config resolves runtime settings through viper: defaults, an
// optional config file or working-directory .env, then raw environment
// variables. Tunables with documented operating ranges are clamped on load.
package config

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/viper"
)

// Config is the resolved runtime configuration.
type Config struct {
	// API surface.
	ListenAddr           string `mapstructure:"listen_addr" yaml:"listen_addr"`
	ControlPassword      string `mapstructure:"control_password" yaml:"control_password,omitempty"`
	ProtectReadEndpoints bool   `mapstructure:"protect_read_endpoints" yaml:"protect_read_endpoints"`
	RateLimitPerMinute   int    `mapstructure:"rate_limit_per_minute" yaml:"rate_limit_per_minute"`
	MaxConnections       int    `mapstructure:"max_connections" yaml:"max_connections"`

	// External service credentials.
	OpenAIAPIKey    string `mapstructure:"openai_api_key" yaml:"openai_api_key,omitempty"`
	FactCheckAPIKey string `mapstructure:"factcheck_api_key" yaml:"factcheck_api_key,omitempty"`
	FredAPIKey      string `mapstructure:"fred_api_key" yaml:"fred_api_key,omitempty"`
	CongressAPIKey  string `mapstructure:"congress_api_key" yaml:"congress_api_key,omitempty"`

	// Models.
	TranscriptionModel string `mapstructure:"transcription_model" yaml:"transcription_model"`
	ReasoningModel     string `mapstructure:"reasoning_model" yaml:"reasoning_model"`

	// Pipeline tuning.
	ChunkSeconds        int     `mapstructure:"chunk_seconds" yaml:"chunk_seconds"`
	DetectionThreshold  float64 `mapstructure:"detection_threshold" yaml:"detection_threshold"`
	ResearchConcurrency int     `mapstructure:"research_concurrency" yaml:"research_concurrency"`

	// Ingest and reconnect policy.
	ReconnectEnabled     bool   `mapstructure:"reconnect_enabled" yaml:"reconnect_enabled"`
	IngestMaxRetries     int    `mapstructure:"ingest_max_retries" yaml:"ingest_max_retries"`
	IngestRetryBaseMs    int    `mapstructure:"ingest_retry_base_ms" yaml:"ingest_retry_base_ms"`
	IngestRetryMaxMs     int    `mapstructure:"ingest_retry_max_ms" yaml:"ingest_retry_max_ms"`
	IngestStallTimeoutMs int    `mapstructure:"ingest_stall_timeout_ms" yaml:"ingest_stall_timeout_ms"`
	IngestExtractorBin   string `mapstructure:"ingest_extractor_bin" yaml:"ingest_extractor_bin"`
	IngestDecoderBin     string `mapstructure:"ingest_decoder_bin" yaml:"ingest_decoder_bin"`

	// Render worker.
	RenderEndpoint  string `mapstructure:"render_endpoint" yaml:"render_endpoint,omitempty"`
	RenderTimeoutMs int    `mapstructure:"render_timeout_ms" yaml:"render_timeout_ms"`
	ArtifactsDir    string `mapstructure:"artifacts_dir" yaml:"artifacts_dir"`

	// Side channels.
	ActivityDBPath string `mapstructure:"activity_db_path" yaml:"activity_db_path"`
	CacheDir       string `mapstructure:"cache_dir" yaml:"cache_dir,omitempty"`

	// Outbound HTTP.
	HTTPProxy  string `mapstructure:"http_proxy" yaml:"http_proxy,omitempty"`
	HTTPSProxy string `mapstructure:"https_proxy" yaml:"https_proxy,omitempty"`

	// Logging.
	LogLevel  string `mapstructure:"log_level" yaml:"log_level"`
	LogFormat string `mapstructure:"log_format" yaml:"log_format"`
}

// envBindings maps config keys to their documented raw environment names.
var envBindings = map[string]string{
	"listen_addr":             "LISTEN_ADDR",
	"control_password":        "CONTROL_PASSWORD",
	"protect_read_endpoints":  "PROTECT_READ_ENDPOINTS",
	"rate_limit_per_minute":   "RATE_LIMIT_PER_MINUTE",
	"max_connections":         "MAX_CONNECTIONS",
	"openai_api_key":          "OPENAI_API_KEY",
	"factcheck_api_key":       "FACTCHECK_API_KEY",
	"fred_api_key":            "FRED_API_KEY",
	"congress_api_key":        "CONGRESS_API_KEY",
	"transcription_model":     "TRANSCRIPTION_MODEL",
	"reasoning_model":         "REASONING_MODEL",
	"chunk_seconds":           "CHUNK_SECONDS",
	"detection_threshold":     "DETECTION_THRESHOLD",
	"research_concurrency":    "MAX_RESEARCH_CONCURRENCY",
	"reconnect_enabled":       "INGEST_RECONNECT_ENABLED",
	"ingest_max_retries":      "INGEST_MAX_RETRIES",
	"ingest_retry_base_ms":    "INGEST_RETRY_BASE_MS",
	"ingest_retry_max_ms":     "INGEST_RETRY_MAX_MS",
	"ingest_stall_timeout_ms": "INGEST_STALL_TIMEOUT_MS",
	"ingest_extractor_bin":    "INGEST_EXTRACTOR_BIN",
	"ingest_decoder_bin":      "INGEST_DECODER_BIN",
	"render_endpoint":         "RENDER_ENDPOINT",
	"render_timeout_ms":       "RENDER_TIMEOUT_MS",
	"artifacts_dir":           "ARTIFACTS_DIR",
	"activity_db_path":        "ACTIVITY_DB_PATH",
	"cache_dir":               "CACHE_DIR",
	"http_proxy":              "HTTP_PROXY",
	"https_proxy":             "HTTPS_PROXY",
	"log_level":               "LOG_LEVEL",
	"log_format":              "LOG_FORMAT",
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("listen_addr", ":8787")
	v.SetDefault("rate_limit_per_minute", 120)
	v.SetDefault("max_connections", 256)
	v.SetDefault("transcription_model", "whisper-1")
	v.SetDefault("reasoning_model", "gpt-4o-mini")
	v.SetDefault("chunk_seconds", 15)
	v.SetDefault("detection_threshold", 0.62)
	v.SetDefault("research_concurrency", 3)
	v.SetDefault("reconnect_enabled", true)
	v.SetDefault("ingest_max_retries", 0)
	v.SetDefault("ingest_retry_base_ms", 1000)
	v.SetDefault("ingest_retry_max_ms", 15000)
	v.SetDefault("ingest_stall_timeout_ms", 45000)
	v.SetDefault("render_timeout_ms", 10000)
	v.SetDefault("artifacts_dir", "artifacts")
	v.SetDefault("activity_db_path", "activity.db")
	v.SetDefault("log_level", "info")
	v.SetDefault("log_format", "auto")
}

// Load resolves configuration. cfgFile may be empty; when it is, an optional
// .env in the working directory and $HOME/.sotu-factcheck/config.yaml are
// tried in that order.
func Load(cfgFile string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	if cfgFile != "" {
		v.SetConfigFile(cfgFile)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config %s: %w", cfgFile, err)
		}
	} else {
		if _, err := os.Stat(".env"); err == nil {
			v.SetConfigFile(".env")
			v.SetConfigType("env")
			_ = v.ReadInConfig()
		} else if home, err := os.UserHomeDir(); err == nil {
			v.AddConfigPath(home + "/.sotu-factcheck")
			v.SetConfigType("yaml")
			v.SetConfigName("config")
			_ = v.ReadInConfig()
		}
	}

	// Raw names, no prefix: the documented variables are e.g. FRED_API_KEY.
	for key, env := range envBindings {
		_ = v.BindEnv(key, env)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	cfg.clamp()
	return &cfg, nil
}

// clamp pulls tunables into their operating ranges.
func (c *Config) clamp() {
	c.ChunkSeconds = clampInt(c.ChunkSeconds, 5, 30)
	c.ResearchConcurrency = clampInt(c.ResearchConcurrency, 1, 10)
	c.IngestStallTimeoutMs = clampInt(c.IngestStallTimeoutMs, 1000, 300000)
	if c.DetectionThreshold != 0 {
		c.DetectionThreshold = clampFloat(c.DetectionThreshold, 0.55, 0.90)
	}
	if c.IngestRetryBaseMs <= 0 {
		c.IngestRetryBaseMs = 1000
	}
	if c.IngestRetryMaxMs <= 0 {
		c.IngestRetryMaxMs = 15000
	}
	if c.RenderTimeoutMs <= 0 {
		c.RenderTimeoutMs = 10000
	}
}

// StallTimeout returns the stall timeout as a duration.
func (c *Config) StallTimeout() time.Duration {
	return time.Duration(c.IngestStallTimeoutMs) * time.Millisecond
}

// RetryBase returns the reconnect backoff base.
func (c *Config) RetryBase() time.Duration {
	return time.Duration(c.IngestRetryBaseMs) * time.Millisecond
}

// RetryMax returns the reconnect backoff cap.
func (c *Config) RetryMax() time.Duration {
	return time.Duration(c.IngestRetryMaxMs) * time.Millisecond
}

// RenderTimeout returns the render endpoint timeout.
func (c *Config) RenderTimeout() time.Duration {
	return time.Duration(c.RenderTimeoutMs) * time.Millisecond
}

// Redacted returns a copy safe to print: secrets masked, not removed, so
// operators can see which are set.
func (c *Config) Redacted() Config {
	cp := *c
	cp.ControlPassword = mask(cp.ControlPassword)
	cp.OpenAIAPIKey = mask(cp.OpenAIAPIKey)
	cp.FactCheckAPIKey = mask(cp.FactCheckAPIKey)
	cp.FredAPIKey = mask(cp.FredAPIKey)
	cp.CongressAPIKey = mask(cp.CongressAPIKey)
	return cp
}

func mask(s string) string {
	if s == "" {
		return ""
	}
	return "********"
}

func clampInt(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

func clampFloat(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
