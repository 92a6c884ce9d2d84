package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/joho/godotenv"

	"tasker-backend/pkg/database"
	"tasker-backend/pkg/identity"
)

const defaultJWTSecret = "your-secret-key-change-in-production"

// Config is the application configuration
type Config struct {
	// environment
	Environment string
	Port        string

	// document store
	StoreBackend   string // memory | postgres | supabase
	PostgresDSN    string
	DatabaseDriver string // postgres | pgx
	SupabaseURL    string
	SupabaseKey    string
	StorePollEvery time.Duration

	// identity
	IdentityBackend string // local | supabase
	SupabaseAnonKey string
	JWTSecret       string
	SessionTTL      time.Duration
	BcryptCost      int

	// session settling during member provisioning
	SettleMode    string // delay | poll
	SettleDelay   time.Duration
	SettleTimeout time.Duration

	// CORS
	AllowedOrigins []string

	// logging
	Debug     bool
	LogFormat string // json | text
}

// LoadConfig reads the environment, after loading the .env file for the
// current ENVIRONMENT. Variables already set are never overridden.
func LoadConfig() *Config {
	env := os.Getenv("ENVIRONMENT")
	if env == "" {
		env = "development"
	}
	switch env {
	case "production":
		loadEnvFile(".env.production")
	default:
		loadEnvFile(".env.local")
	}

	cfg := &Config{
		Environment:     getEnvWithDefault("ENVIRONMENT", "development"),
		Port:            getEnvWithDefault("PORT", "3000"),
		StoreBackend:    strings.ToLower(getEnvWithDefault("STORE_BACKEND", "")),
		DatabaseDriver:  strings.ToLower(getEnvWithDefault("DATABASE_DRIVER", "postgres")),
		StorePollEvery:  getEnvDuration("STORE_POLL_INTERVAL", 2*time.Second),
		IdentityBackend: strings.ToLower(getEnvWithDefault("IDENTITY_BACKEND", "local")),
		JWTSecret:       getEnvWithDefault("JWT_SECRET", defaultJWTSecret),
		SessionTTL:      getEnvDuration("SESSION_TTL", 24*time.Hour),
		BcryptCost:      getEnvInt("BCRYPT_COST", 0),
		SettleMode:      strings.ToLower(getEnvWithDefault("SESSION_SETTLE_MODE", "delay")),
		SettleDelay:     getEnvDuration("SESSION_SETTLE_DELAY", 500*time.Millisecond),
		SettleTimeout:   getEnvDuration("SESSION_SETTLE_TIMEOUT", 5*time.Second),
		Debug:           getEnvBool("DEBUG", false),
	}

	// Trim whitespace to avoid trailing spaces/newlines from env sources
	cfg.PostgresDSN = strings.TrimSpace(os.Getenv("POSTGRES_DSN"))
	cfg.SupabaseURL = strings.TrimSpace(os.Getenv("SUPABASE_URL"))
	cfg.SupabaseKey = strings.TrimSpace(os.Getenv("SUPABASE_SERVICE_KEY"))
	cfg.SupabaseAnonKey = strings.TrimSpace(os.Getenv("SUPABASE_ANON_KEY"))

	// pick a store from what is configured when none is named
	if cfg.StoreBackend == "" {
		switch {
		case cfg.PostgresDSN != "":
			cfg.StoreBackend = "postgres"
		case cfg.SupabaseURL != "" && cfg.SupabaseKey != "":
			cfg.StoreBackend = "supabase"
		default:
			cfg.StoreBackend = "memory"
		}
	}

	allowedOrigins := getEnvWithDefault("ALLOWED_ORIGINS", "*")
	if allowedOrigins == "*" {
		cfg.AllowedOrigins = []string{"*"}
	} else {
		for _, o := range strings.Split(allowedOrigins, ",") {
			if o = strings.TrimSpace(o); o != "" {
				cfg.AllowedOrigins = append(cfg.AllowedOrigins, o)
			}
		}
	}

	cfg.LogFormat = strings.ToLower(getEnvWithDefault("LOG_FORMAT", ""))
	if cfg.LogFormat == "" {
		cfg.LogFormat = "text"
		if cfg.IsProduction() {
			cfg.LogFormat = "json"
		}
	}

	if cfg.IsProduction() {
		cfg.Debug = false
	}
	return cfg
}

// Cached config (initialized once per cold start)
var (
	cachedConfig *Config
	configOnce   sync.Once
)

// GetCached returns the process-wide cached Config.
// On serverless it is built once per cold start and reused by warm invocations.
func GetCached() *Config {
	configOnce.Do(func() {
		cachedConfig = LoadConfig()
	})
	return cachedConfig
}

// Validate rejects incomplete backend settings and an unset JWT secret in production.
func (c *Config) Validate() error {
	var errs []error

	if c.Port == "" {
		errs = append(errs, errors.New("PORT is required"))
	}
	if c.JWTSecret == "" || c.JWTSecret == defaultJWTSecret {
		if c.IsProduction() {
			errs = append(errs, errors.New("JWT_SECRET must be set in production"))
		}
	}

	switch c.StoreBackend {
	case "memory":
		if c.IsProduction() {
			errs = append(errs, errors.New("STORE_BACKEND=memory is not allowed in production"))
		}
	case "postgres":
		if c.PostgresDSN == "" {
			errs = append(errs, errors.New("POSTGRES_DSN is required for the postgres store"))
		}
		if c.DatabaseDriver != "postgres" && c.DatabaseDriver != "pgx" {
			errs = append(errs, fmt.Errorf("unknown DATABASE_DRIVER %q", c.DatabaseDriver))
		}
	case "supabase":
		if c.SupabaseURL == "" || c.SupabaseKey == "" {
			errs = append(errs, errors.New("SUPABASE_URL and SUPABASE_SERVICE_KEY are required for the supabase store"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown STORE_BACKEND %q", c.StoreBackend))
	}

	switch c.IdentityBackend {
	case "local":
	case "supabase":
		if c.SupabaseURL == "" || c.SupabaseAnonKey == "" {
			errs = append(errs, errors.New("SUPABASE_URL and SUPABASE_ANON_KEY are required for supabase identity"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown IDENTITY_BACKEND %q", c.IdentityBackend))
	}

	if c.SettleMode != "delay" && c.SettleMode != "poll" {
		errs = append(errs, fmt.Errorf("unknown SESSION_SETTLE_MODE %q", c.SettleMode))
	}

	return errors.Join(errs...)
}

// StoreConfig is the document store part of the configuration.
func (c *Config) StoreConfig() database.StoreConfig {
	return database.StoreConfig{
		Backend:     c.StoreBackend,
		PostgresDSN: c.PostgresDSN,
		Driver:      c.DatabaseDriver,
		SupabaseURL: c.SupabaseURL,
		SupabaseKey: c.SupabaseKey,
		PollEvery:   c.StorePollEvery,
		Debug:       c.Debug,
	}
}

// IdentityConfig is the identity provider part of the configuration.
func (c *Config) IdentityConfig() identity.Config {
	return identity.Config{
		Backend:         c.IdentityBackend,
		JWTSecret:       c.JWTSecret,
		SessionTTL:      c.SessionTTL,
		SupabaseURL:     c.SupabaseURL,
		SupabaseAnonKey: c.SupabaseAnonKey,
		BcryptCost:      c.BcryptCost,
	}
}

func (c *Config) IsProduction() bool {
	return c.Environment == "production"
}

func (c *Config) IsDevelopment() bool {
	return c.Environment == "development"
}

func getEnvWithDefault(key, defaultValue string) string {
	if value := strings.TrimSpace(os.Getenv(key)); value != "" {
		return value
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if parsed, err := strconv.ParseBool(value); err == nil {
			return parsed
		}
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if parsed, err := strconv.Atoi(strings.TrimSpace(value)); err == nil {
			return parsed
		}
	}
	return defaultValue
}

// getEnvDuration accepts Go durations ("750ms") or a bare number of milliseconds.
func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return defaultValue
	}
	if d, err := time.ParseDuration(value); err == nil {
		return d
	}
	if ms, err := strconv.Atoi(value); err == nil {
		return time.Duration(ms) * time.Millisecond
	}
	return defaultValue
}

// loadEnvFile loads filename into the environment when it exists.
func loadEnvFile(filename string) {
	if _, err := os.Stat(filename); err != nil {
		return
	}
	_ = godotenv.Load(filename)
}
