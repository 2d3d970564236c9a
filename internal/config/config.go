package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config captures runtime settings for the dispatch service.
type Config struct {
	Addr        string
	DatabaseURL string
	Environment string
	HTTPTimeout time.Duration

	ReasoningAPIKey      string
	ReasoningBaseURL     string
	ReasoningModel       string
	ReasoningTemperature float64
	ReasoningTimeout     time.Duration
	ReasoningMaxAttempts int
	ReasoningBackoffBase time.Duration
	ReasoningReferer     string
	ReasoningTitle       string

	StagePacing      time.Duration
	ValidateDecision bool

	// RedispatchInterval enables the background re-dispatch of active
	// emergencies when positive.
	RedispatchInterval time.Duration
	RedispatchMinAge   time.Duration

	KafkaBrokers    []string
	KafkaTopic      string
	ArchiveBucket   string
	ArchivePrefix   string
	AuthKeysFile    string
	WriteScope      string
	AllowDebugToken bool
	DebugToken      string

	SeedOnStart    bool
	LogLevel       string
	LogDevelopment bool
}

const (
	defaultAddr             = ":8070"
	defaultReasoningBaseURL = "https://openrouter.ai/api/v1"
	defaultReasoningModel   = "nvidia/nemotron-nano-12b-v2-vl:free"
	defaultKafkaTopic       = "dispatch.decisions"
	defaultArchivePrefix    = "dispatch"
	defaultWriteScope       = "dispatch:write"
)

// Load reads environment variables and returns a Config.
func Load() (Config, error) {
	cfg := Config{
		Addr:        getEnv("DISPATCH_ADDR", defaultAddr),
		DatabaseURL: firstNonEmpty(os.Getenv("DISPATCH_DATABASE_URL"), os.Getenv("DATABASE_URL")),
		Environment: getEnv("NODE_ENV", "development"),
		HTTPTimeout: getDuration("DISPATCH_HTTP_TIMEOUT", 5*time.Minute),

		ReasoningAPIKey:      firstNonEmpty(os.Getenv("OPENROUTER_API_KEY"), os.Getenv("DISPATCH_REASONING_API_KEY")),
		ReasoningBaseURL:     getEnv("DISPATCH_REASONING_BASE_URL", defaultReasoningBaseURL),
		ReasoningModel:       firstNonEmpty(os.Getenv("LLM_MODEL"), os.Getenv("DISPATCH_REASONING_MODEL"), defaultReasoningModel),
		ReasoningTemperature: getFloat("DISPATCH_REASONING_TEMPERATURE", 0.2),
		ReasoningTimeout:     getDuration("DISPATCH_REASONING_TIMEOUT", 60*time.Second),
		ReasoningMaxAttempts: getInt("DISPATCH_REASONING_MAX_ATTEMPTS", 3),
		ReasoningBackoffBase: getDuration("DISPATCH_REASONING_BACKOFF_BASE", 2*time.Second),
		ReasoningReferer:     os.Getenv("DISPATCH_REASONING_REFERER"),
		ReasoningTitle:       getEnv("DISPATCH_REASONING_TITLE", "dispatch-service"),

		StagePacing:      getDuration("DISPATCH_STAGE_PACING", 2*time.Second),
		ValidateDecision: getBool("DISPATCH_VALIDATE_DECISION", true),

		RedispatchInterval: getDuration("DISPATCH_REDISPATCH_INTERVAL", 0),
		RedispatchMinAge:   getDuration("DISPATCH_REDISPATCH_MIN_AGE", time.Minute),

		KafkaBrokers:    parseCSV(os.Getenv("DISPATCH_KAFKA_BROKERS")),
		KafkaTopic:      getEnv("DISPATCH_KAFKA_TOPIC", defaultKafkaTopic),
		ArchiveBucket:   os.Getenv("DISPATCH_ARCHIVE_BUCKET"),
		ArchivePrefix:   getEnv("DISPATCH_ARCHIVE_PREFIX", defaultArchivePrefix),
		AuthKeysFile:    os.Getenv("DISPATCH_AUTH_KEYS_FILE"),
		WriteScope:      getEnv("DISPATCH_WRITE_SCOPE", defaultWriteScope),
		AllowDebugToken: getBool("DISPATCH_ALLOW_DEBUG_TOKEN", false),
		DebugToken:      os.Getenv("DISPATCH_DEBUG_TOKEN"),

		SeedOnStart:    getBool("DISPATCH_SEED_ON_START", true),
		LogLevel:       getEnv("DISPATCH_LOG_LEVEL", "info"),
		LogDevelopment: getBool("DISPATCH_LOG_DEVELOPMENT", false),
	}

	if cfg.IsProduction() && cfg.AllowDebugToken {
		return Config{}, fmt.Errorf("DISPATCH_ALLOW_DEBUG_TOKEN must not be set when NODE_ENV=production")
	}
	if cfg.AllowDebugToken && cfg.DebugToken == "" {
		return Config{}, fmt.Errorf("DISPATCH_DEBUG_TOKEN is required when DISPATCH_ALLOW_DEBUG_TOKEN is set")
	}
	if cfg.ReasoningMaxAttempts < 1 {
		return Config{}, fmt.Errorf("DISPATCH_REASONING_MAX_ATTEMPTS must be at least 1")
	}
	if cfg.StagePacing < 0 {
		return Config{}, fmt.Errorf("DISPATCH_STAGE_PACING must not be negative")
	}
	return cfg, nil
}

func (c Config) IsProduction() bool {
	return strings.EqualFold(c.Environment, "production")
}

// Offline reports whether reasoning calls degrade without network I/O.
func (c Config) Offline() bool {
	return c.ReasoningAPIKey == ""
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getBool(key string, fallback bool) bool {
	if v := os.Getenv(key); v != "" {
		ok, err := strconv.ParseBool(v)
		if err == nil {
			return ok
		}
	}
	return fallback
}

// getInt returns the parsed value even when it is out of range so Load can
// reject it.
func getInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if i, err := strconv.Atoi(strings.TrimSpace(v)); err == nil {
			return i
		}
	}
	return fallback
}

func getFloat(key string, fallback float64) float64 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(strings.TrimSpace(v), 64); err == nil {
			return f
		}
	}
	return fallback
}

// getDuration accepts Go durations ("1500ms") and bare integers as
// milliseconds.
func getDuration(key string, fallback time.Duration) time.Duration {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return fallback
	}
	if d, err := time.ParseDuration(v); err == nil {
		return d
	}
	if ms, err := strconv.Atoi(v); err == nil {
		return time.Duration(ms) * time.Millisecond
	}
	return fallback
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}

func parseCSV(v string) []string {
	var out []string
	for _, part := range strings.Split(v, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}
