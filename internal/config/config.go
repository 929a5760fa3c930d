// Package config provides application configuration.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds all application configuration.
type Config struct {
	Port        string
	FrontendURL string
	DBPath      string
	Timezone    *time.Location
	CLIUserKey  string
	Debug       bool
	LLM         LLMConfig
	Session     SessionConfig
	Proof       ProofConfig
	WhatsApp    WhatsAppConfig
}

// LLMConfig controls the model client.
type LLMConfig struct {
	APIKey      string
	Model       string
	VisionModel string
	Timeout     time.Duration
}

// SessionConfig controls conversation session lifetime.
type SessionConfig struct {
	TTL           time.Duration
	SweepInterval time.Duration
	MaxHistory    int
}

// ProofConfig bounds accepted proof images.
type ProofConfig struct {
	MaxImageBytes int64
}

// WhatsAppConfig holds Twilio credentials for the WhatsApp channel.
type WhatsAppConfig struct {
	AccountSID   string
	AuthToken    string
	FromNumber   string
	APIBase      string
	Workers      int
	MediaTimeout time.Duration
}

// Enabled reports whether Twilio credentials are present.
func (w WhatsAppConfig) Enabled() bool {
	return w.AccountSID != "" && w.AuthToken != ""
}

// Load reads configuration from environment variables.
func Load() (*Config, error) {
	tzName := getEnv("TIMEZONE", "America/Los_Angeles")
	loc, err := time.LoadLocation(tzName)
	if err != nil {
		return nil, fmt.Errorf("invalid TIMEZONE %q: %w", tzName, err)
	}

	cfg := &Config{
		Port:        getEnv("PORT", "8080"),
		FrontendURL: getEnv("FRONTEND_URL", ""),
		DBPath:      getEnv("DB_PATH", "./data/coach.db"),
		Timezone:    loc,
		CLIUserKey:  getEnv("CLI_USER_KEY", "cli"),
		Debug:       getEnvBool("LOG_DEBUG", false),
		LLM: LLMConfig{
			APIKey:      getEnv("GEMINI_API_KEY", ""),
			Model:       getEnv("LLM_MODEL", "gemini-2.5-flash"),
			VisionModel: getEnv("LLM_VISION_MODEL", "gemini-2.5-flash"),
			Timeout:     getEnvDuration("LLM_TIMEOUT", 45*time.Second),
		},
		Session: SessionConfig{
			TTL:           getEnvDuration("SESSION_TTL", 30*time.Minute),
			SweepInterval: getEnvDuration("SESSION_SWEEP_INTERVAL", 5*time.Minute),
			MaxHistory:    getEnvInt("SESSION_MAX_HISTORY", 200),
		},
		Proof: ProofConfig{
			MaxImageBytes: int64(getEnvInt("MAX_IMAGE_BYTES", 10<<20)),
		},
		WhatsApp: WhatsAppConfig{
			AccountSID:   getEnv("TWILIO_ACCOUNT_SID", ""),
			AuthToken:    getEnv("TWILIO_AUTH_TOKEN", ""),
			FromNumber:   getEnv("TWILIO_WHATSAPP_NUMBER", "whatsapp:+14155238886"),
			APIBase:      getEnv("TWILIO_API_BASE", "https://api.twilio.com"),
			Workers:      getEnvInt("WHATSAPP_WORKERS", 4),
			MediaTimeout: getEnvDuration("TWILIO_MEDIA_TIMEOUT", 10*time.Second),
		},
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// Validate checks that all required configuration fields are set.
func (c *Config) Validate() error {
	if c.Port == "" {
		return fmt.Errorf("PORT cannot be empty")
	}
	if c.DBPath == "" {
		return fmt.Errorf("DB_PATH cannot be empty")
	}
	if c.CLIUserKey == "" {
		return fmt.Errorf("CLI_USER_KEY cannot be empty")
	}
	if c.LLM.Timeout <= 0 {
		return fmt.Errorf("LLM_TIMEOUT must be > 0")
	}
	if c.Session.TTL <= 0 {
		return fmt.Errorf("SESSION_TTL must be > 0")
	}
	if c.Session.SweepInterval <= 0 {
		return fmt.Errorf("SESSION_SWEEP_INTERVAL must be > 0")
	}
	if c.Session.MaxHistory < 2 {
		return fmt.Errorf("SESSION_MAX_HISTORY must be >= 2")
	}
	if c.Proof.MaxImageBytes <= 0 {
		return fmt.Errorf("MAX_IMAGE_BYTES must be > 0")
	}
	if c.WhatsApp.Workers <= 0 {
		return fmt.Errorf("WHATSAPP_WORKERS must be > 0")
	}
	return nil
}

// RequireLLM returns an error when no model API key is configured.
func (c *Config) RequireLLM() error {
	if c.LLM.APIKey == "" {
		return fmt.Errorf("GEMINI_API_KEY environment variable not set")
	}
	return nil
}

// IsDevelopment returns true if running in development mode.
func (c *Config) IsDevelopment() bool {
	return c.FrontendURL == "" ||
		strings.Contains(c.FrontendURL, "localhost") ||
		strings.Contains(c.FrontendURL, "127.0.0.1")
}

func getEnv(key, fallback string) string {
	if value, ok := os.LookupEnv(key); ok {
		return value
	}
	return fallback
}

func getEnvBool(key string, fallback bool) bool {
	value, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "1", "true", "yes", "on":
		return true
	case "0", "false", "no", "off":
		return false
	default:
		return fallback
	}
}

func getEnvInt(key string, fallback int) int {
	value, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	n, err := strconv.Atoi(strings.TrimSpace(value))
	if err != nil {
		return fallback
	}
	return n
}

func getEnvDuration(key string, fallback time.Duration) time.Duration {
	value, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	d, err := time.ParseDuration(strings.TrimSpace(value))
	if err != nil {
		return fallback
	}
	return d
}
