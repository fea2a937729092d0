package config

import (
	"errors"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// LoggingConfig holds logging-related configuration.
type LoggingConfig struct {
	Level      string
	Pretty     bool
	File       string
	MaxSizeMB  int
	MaxBackups int
	MaxAgeDays int
	Compress   bool
}

// AxiomConfig holds Axiom logging configuration.
type AxiomConfig struct {
	Send          bool
	APIKey        string
	OrgID         string
	Dataset       string
	FlushInterval time.Duration
}

// ProviderConfig holds credentials and transport settings for the recognition provider.
type ProviderConfig struct {
	APIKey         string
	BaseURL        string // override for tests and proxies; empty uses the SDK default
	RequestTimeout time.Duration
}

// SchedulerConfig defines how capture cycles are driven.
type SchedulerConfig struct {
	Mode        string // "interval"|"continuous"
	AutoStart   bool
	MaxInFlight int
	HistorySize int
}

// CameraConfig selects the frame source.
type CameraConfig struct {
	Dir         string
	Loop        bool
	JPEGQuality int
	ColorMode   string // "rgb"|"gray"
}

// RedisConfig enables the shared rate gate.
type RedisConfig struct {
	URL string // empty disables Redis
}

// MQTTConfig enables result publishing.
type MQTTConfig struct {
	Broker      string // host:port, empty disables MQTT
	ClientID    string
	TopicPrefix string
	QoS         byte
}

// HTTPConfig defines the control API listener.
type HTTPConfig struct {
	Port        string
	CORSOrigins []string
}

// Config is the top-level configuration.
type Config struct {
	Logging   LoggingConfig
	Axiom     AxiomConfig
	Provider  ProviderConfig
	Capture   CaptureConfig
	Scheduler SchedulerConfig
	Camera    CameraConfig
	Redis     RedisConfig
	MQTT      MQTTConfig
	HTTP      HTTPConfig

	// CaptureProfile is an optional YAML file overlaid on Capture at startup.
	CaptureProfile string
}

// LoadDotEnv loads .env from the working directory when present.
func LoadDotEnv() error {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return err
	}
	return nil
}

// FromEnv loads configuration from environment with sensible defaults.
func FromEnv() Config {
	cfg := Config{}

	// Logging defaults
	cfg.Logging = LoggingConfig{
		Level:      getEnv("LOG_LEVEL", "info"),
		Pretty:     parseBool(getEnv("LOG_PRETTY", devDefaultPretty())),
		File:       getEnv("LOG_FILE", "logs/liveocr.log"),
		MaxSizeMB:  parseInt(getEnv("LOG_MAX_SIZE_MB", "100"), 100),
		MaxBackups: parseInt(getEnv("LOG_MAX_BACKUPS", "10"), 10),
		MaxAgeDays: parseInt(getEnv("LOG_MAX_AGE_DAYS", "30"), 30),
		Compress:   parseBool(getEnv("LOG_COMPRESS", "true")),
	}

	// Axiom defaults
	baseDataset := getEnv("AXIOM_DATASET", "dev")
	cfg.Axiom = AxiomConfig{
		Send:          parseBool(getEnv("SEND_LOGS_TO_AXIOM", "0")),
		APIKey:        getEnv("AXIOM_API_KEY", ""),
		OrgID:         getEnv("AXIOM_ORG_ID", ""),
		Dataset:       baseDataset + "_liveocr",
		FlushInterval: parseDuration(getEnv("AXIOM_FLUSH_INTERVAL", "10s"), 10*time.Second),
	}

	cfg.Provider = ProviderConfig{
		APIKey:         getEnv("GEMINI_API_KEY", os.Getenv("GOOGLE_API_KEY")),
		BaseURL:        getEnv("GEMINI_BASE_URL", ""),
		RequestTimeout: parseDuration(getEnv("REQUEST_TIMEOUT", "30s"), 30*time.Second),
	}

	// Capture defaults, overridable field by field
	c := DefaultCapture()
	c.ModelID = getEnv("GEMINI_MODEL", c.ModelID)
	c.Temperature = float32(parseFloat(getEnv("GEMINI_TEMPERATURE", ""), float64(c.Temperature)))
	c.MaxOutputTokens = int32(parseInt(getEnv("GEMINI_MAX_OUTPUT_TOKENS", ""), int(c.MaxOutputTokens)))
	c.TopP = float32(parseFloat(getEnv("GEMINI_TOP_P", ""), float64(c.TopP)))
	c.TopK = float32(parseFloat(getEnv("GEMINI_TOP_K", ""), float64(c.TopK)))
	if v := getEnv("GEMINI_THINKING_BUDGET", ""); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			b := int32(n)
			c.ThinkingBudget = &b
		}
	}
	c.PromptText = getEnv("OCR_PROMPT", c.PromptText)
	c.Retry = RetryPolicy{
		MaxRetries:        parseInt(getEnv("RETRY_MAX", ""), c.Retry.MaxRetries),
		BaseDelay:         parseDuration(getEnv("RETRY_BASE_DELAY", ""), c.Retry.BaseDelay),
		BackoffMultiplier: parseFloat(getEnv("RETRY_BACKOFF_FACTOR", ""), c.Retry.BackoffMultiplier),
	}
	if v := getEnv("NO_TEXT_PATTERNS", ""); v != "" {
		c.NoTextPatterns = splitList(v, ",")
	}
	if v := getEnv("BOILERPLATE_PATTERNS", ""); v != "" {
		c.BoilerplatePatterns = splitList(v, ";")
	}
	cfg.Capture = c
	cfg.CaptureProfile = getEnv("CAPTURE_PROFILE", "")

	cfg.Scheduler = SchedulerConfig{
		Mode:        strings.ToLower(getEnv("CAPTURE_MODE", "interval")),
		AutoStart:   parseBool(getEnv("CAPTURE_AUTOSTART", "true")),
		MaxInFlight: parseInt(getEnv("CAPTURE_MAX_INFLIGHT", "8"), 8),
		HistorySize: parseInt(getEnv("RESULT_HISTORY_SIZE", "50"), 50),
	}

	cfg.Camera = CameraConfig{
		Dir:         getEnv("CAMERA_DIR", "frames"),
		Loop:        parseBool(getEnv("CAMERA_LOOP", "true")),
		JPEGQuality: parseInt(getEnv("CAMERA_JPEG_QUALITY", "85"), 85),
		ColorMode:   strings.ToLower(getEnv("CAMERA_COLOR", "rgb")),
	}

	cfg.Redis = RedisConfig{URL: getEnv("REDIS_URL", "")}

	cfg.MQTT = MQTTConfig{
		Broker:      getEnv("MQTT_BROKER", ""),
		ClientID:    getEnv("MQTT_CLIENT_ID", "liveocr"),
		TopicPrefix: getEnv("MQTT_TOPIC_PREFIX", "liveocr"),
		QoS:         byte(parseInt(getEnv("MQTT_QOS", "0"), 0)),
	}

	cfg.HTTP = HTTPConfig{
		Port:        getEnv("PORT", "8080"),
		CORSOrigins: splitList(getEnv("CORS_ORIGINS", "*"), ","),
	}

	return cfg
}

// Helpers
func getEnv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func parseInt(s string, def int) int {
	if s == "" {
		return def
	}
	if n, err := strconv.Atoi(s); err == nil {
		return n
	}
	return def
}

func parseFloat(s string, def float64) float64 {
	if s == "" {
		return def
	}
	if f, err := strconv.ParseFloat(s, 64); err == nil {
		return f
	}
	return def
}

func parseBool(s string) bool {
	v := strings.ToLower(strings.TrimSpace(s))
	return v == "1" || v == "true" || v == "yes" || v == "on"
}

func parseDuration(s string, def time.Duration) time.Duration {
	if s == "" {
		return def
	}
	if d, err := time.ParseDuration(s); err == nil {
		return d
	}
	return def
}

func splitList(s, sep string) []string {
	var out []string
	for _, p := range strings.Split(s, sep) {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

func devDefaultPretty() string {
	env := strings.ToLower(os.Getenv("ENVIRONMENT"))
	if env == "dev" || env == "development" || env == "local" {
		return "true"
	}
	return "false"
}
