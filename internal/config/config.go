// Package config loads the agent configuration from environment variables.
// Every knob the pipeline depends on lives here; nothing is hardcoded in
// pipeline logic.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	// Scanning
	Namespace        string
	PollInterval     time.Duration
	RestartThreshold int32
	DetectionWindow  time.Duration

	// Context assembly
	LogTailLines int64
	LogTailBytes int
	EventLimit   int

	// Policy
	ConfidenceThreshold float64
	MaxIncreaseFactor   float64
	DenyList            []string

	// Reasoning backend
	OllamaURL     string
	OllamaModel   string
	OllamaTimeout time.Duration

	// Pipeline
	Workers      int
	SignatureTTL time.Duration

	// Audit and HTTP surface
	AuditDBPath string
	Port        string

	LogLevel string
}

// Load reads configuration from the environment, falling back to documented
// defaults. A .env file in the working directory is honoured if present.
func Load() (*Config, error) {
	_ = godotenv.Load()

	cfg := &Config{
		Namespace:           getEnv("NAMESPACE", ""),
		PollInterval:        getEnvDuration("POLL_INTERVAL", 15*time.Second),
		RestartThreshold:    int32(getEnvInt("RESTART_THRESHOLD", 3)),
		DetectionWindow:     getEnvDuration("DETECTION_WINDOW", 10*time.Minute),
		LogTailLines:        int64(getEnvInt("LOG_TAIL_LINES", 50)),
		LogTailBytes:        getEnvInt("LOG_TAIL_BYTES", 4096),
		EventLimit:          getEnvInt("EVENT_LIMIT", 5),
		ConfidenceThreshold: getEnvFloat("CONFIDENCE_THRESHOLD", 0.6),
		MaxIncreaseFactor:   getEnvFloat("MAX_INCREASE_FACTOR", 4.0),
		DenyList:            getEnvList("DENY_LIST"),
		OllamaURL:           getEnv("OLLAMA_URL", "http://localhost:11434/api/generate"),
		OllamaModel:         getEnv("OLLAMA_MODEL", "mistral:latest"),
		OllamaTimeout:       getEnvDuration("OLLAMA_TIMEOUT", 120*time.Second),
		Workers:             getEnvInt("WORKERS", 4),
		SignatureTTL:        getEnvDuration("SIGNATURE_TTL", time.Hour),
		AuditDBPath:         getEnv("AUDIT_DB_PATH", "data/incidents.db"),
		Port:                getEnv("PORT", "8001"),
		LogLevel:            getEnv("LOG_LEVEL", "info"),
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return cfg, nil
}

func (c *Config) Validate() error {
	if c.PollInterval <= 0 {
		return fmt.Errorf("POLL_INTERVAL must be positive")
	}

	if c.RestartThreshold < 1 {
		return fmt.Errorf("RESTART_THRESHOLD must be at least 1")
	}

	if c.ConfidenceThreshold < 0 || c.ConfidenceThreshold > 1 {
		return fmt.Errorf("CONFIDENCE_THRESHOLD must be in [0,1], got %v", c.ConfidenceThreshold)
	}

	if c.MaxIncreaseFactor < 1 {
		return fmt.Errorf("MAX_INCREASE_FACTOR must be at least 1, got %v", c.MaxIncreaseFactor)
	}

	if c.LogTailBytes < 1 {
		return fmt.Errorf("LOG_TAIL_BYTES must be positive")
	}

	if c.Workers < 1 {
		return fmt.Errorf("WORKERS must be at least 1")
	}

	if c.OllamaURL == "" {
		return fmt.Errorf("OLLAMA_URL must not be empty")
	}

	if c.OllamaTimeout <= 0 {
		return fmt.Errorf("OLLAMA_TIMEOUT must be positive")
	}

	validLogLevels := map[string]bool{
		"debug": true,
		"info":  true,
		"warn":  true,
		"error": true,
	}
	if !validLogLevels[c.LogLevel] {
		return fmt.Errorf("invalid log level: %s (must be debug/info/warn/error)", c.LogLevel)
	}

	return nil
}

func getEnv(key, defaultVal string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return defaultVal
}

func getEnvInt(key string, defaultVal int) int {
	if val := os.Getenv(key); val != "" {
		i, err := strconv.Atoi(val)
		if err != nil {
			return defaultVal
		}
		return i
	}
	return defaultVal
}

func getEnvFloat(key string, defaultVal float64) float64 {
	if val := os.Getenv(key); val != "" {
		f, err := strconv.ParseFloat(val, 64)
		if err != nil {
			return defaultVal
		}
		return f
	}
	return defaultVal
}

func getEnvDuration(key string, defaultVal time.Duration) time.Duration {
	if val := os.Getenv(key); val != "" {
		d, err := time.ParseDuration(val)
		if err != nil {
			return defaultVal
		}
		return d
	}
	return defaultVal
}

func getEnvList(key string) []string {
	val := os.Getenv(key)
	if val == "" {
		return nil
	}

	parts := strings.Split(val, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if trimmed := strings.TrimSpace(p); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}
