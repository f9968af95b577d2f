package main

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/mcdev12/duelpad/go/internal/dbconfig"
)

// Config is read from an optional YAML file; environment variables win.
type Config struct {
	Server struct {
		Port           string   `yaml:"port"`
		AllowedOrigins []string `yaml:"allowed_origins"`
		Collections    []string `yaml:"collections"`
		LogLevel       string   `yaml:"log_level"`
	} `yaml:"server"`

	Store struct {
		// Backend is one of memory, postgres, nats, firestore.
		Backend          string        `yaml:"backend"`
		NotifyChannel    string        `yaml:"notify_channel"`
		FallbackInterval time.Duration `yaml:"fallback_interval"`
		BucketPrefix     string        `yaml:"bucket_prefix"`
		ProjectID        string        `yaml:"project_id"`
	} `yaml:"store"`

	Auth struct {
		Secret    string        `yaml:"secret"`
		TokenTTL  time.Duration `yaml:"token_ttl"`
		RateLimit float64       `yaml:"rate_limit"`
		Burst     int           `yaml:"burst"`
	} `yaml:"auth"`

	Cards struct {
		BaseURL   string  `yaml:"base_url"`
		RateLimit float64 `yaml:"rate_limit"`
	} `yaml:"cards"`

	History struct {
		Enabled      bool          `yaml:"enabled"`
		PollInterval time.Duration `yaml:"poll_interval"`
		Publish      bool          `yaml:"publish"`
	} `yaml:"history"`

	Database struct {
		// Enabled turns on the SQL deck repository and the history archive.
		Enabled bool `yaml:"enabled"`
		Migrate bool `yaml:"migrate"`
	} `yaml:"database"`

	NATSURL string `yaml:"nats_url"`

	DB dbconfig.Config `yaml:"-"`
}

func defaultConfig() *Config {
	cfg := &Config{}
	cfg.Server.Port = "8080"
	cfg.Server.AllowedOrigins = []string{"*"}
	cfg.Server.Collections = []string{"duels", "matchHistory"}
	cfg.Server.LogLevel = "info"
	cfg.Store.Backend = "memory"
	cfg.Store.NotifyChannel = "docstore_changes"
	cfg.Store.FallbackInterval = 30 * time.Second
	cfg.Store.BucketPrefix = "duelpad"
	cfg.Auth.TokenTTL = 7 * 24 * time.Hour
	cfg.Auth.RateLimit = 1
	cfg.Auth.Burst = 10
	cfg.Cards.RateLimit = 10
	cfg.History.PollInterval = 10 * time.Second
	cfg.NATSURL = "nats://localhost:4222"
	return cfg
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

func getEnvAsBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if b, err := strconv.ParseBool(value); err == nil {
			return b
		}
	}
	return defaultValue
}

func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}

func getEnvAsList(key string, defaultValue []string) []string {
	value := os.Getenv(key)
	if value == "" {
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

// loadConfig reads path if it exists and then applies environment overrides.
func loadConfig(path string) (*Config, error) {
	cfg := defaultConfig()

	data, err := os.ReadFile(path)
	switch {
	case errors.Is(err, fs.ErrNotExist):
	case err != nil:
		return nil, fmt.Errorf("failed to read config file: %w", err)
	default:
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config: %w", err)
		}
	}

	cfg.Server.Port = getEnv("PORT", cfg.Server.Port)
	cfg.Server.AllowedOrigins = getEnvAsList("ALLOWED_ORIGINS", cfg.Server.AllowedOrigins)
	cfg.Server.LogLevel = getEnv("LOG_LEVEL", cfg.Server.LogLevel)
	cfg.Store.Backend = getEnv("STORE_BACKEND", cfg.Store.Backend)
	cfg.Store.ProjectID = getEnv("FIRESTORE_PROJECT_ID", cfg.Store.ProjectID)
	cfg.Auth.Secret = getEnv("AUTH_SECRET", cfg.Auth.Secret)
	cfg.Auth.TokenTTL = getEnvAsDuration("AUTH_TOKEN_TTL", cfg.Auth.TokenTTL)
	cfg.Auth.Burst = getEnvAsInt("AUTH_BURST", cfg.Auth.Burst)
	cfg.Cards.BaseURL = getEnv("CARD_API_URL", cfg.Cards.BaseURL)
	cfg.History.Enabled = getEnvAsBool("HISTORY_RELAY", cfg.History.Enabled)
	cfg.History.Publish = getEnvAsBool("HISTORY_PUBLISH", cfg.History.Publish)
	cfg.Database.Enabled = getEnvAsBool("DB_ENABLED", cfg.Database.Enabled)
	cfg.Database.Migrate = getEnvAsBool("DB_MIGRATE", cfg.Database.Migrate)
	cfg.NATSURL = getEnv("NATS_URL", cfg.NATSURL)
	cfg.DB = dbconfig.NewConfigFromEnv()

	return cfg, cfg.validate()
}

func (c *Config) validate() error {
	switch c.Store.Backend {
	case "memory", "postgres", "nats", "firestore":
	default:
		return fmt.Errorf("unknown store backend %q", c.Store.Backend)
	}
	if c.Store.Backend == "firestore" && c.Store.ProjectID == "" {
		return errors.New("firestore backend needs FIRESTORE_PROJECT_ID")
	}
	if c.Auth.Secret == "" {
		return errors.New("AUTH_SECRET is required")
	}
	if c.History.Enabled && !c.Database.Enabled {
		return errors.New("history relay needs the database")
	}
	return nil
}
