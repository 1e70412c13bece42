// File: internal/config/config.go
package config

import (
	"fmt"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// Identity provider backends understood by the portal.
const (
	ProviderGoTrue = "gotrue"
	ProviderKratos = "kratos"
)

// Unknown role policies.
const (
	UnknownRoleClient = "client"
	UnknownRoleDeny   = "deny"
)

// Config holds all configuration for the portal.
type Config struct {
	// Server Configuration
	GinMode         string        `mapstructure:"GIN_MODE"`
	ServerHost      string        `mapstructure:"SERVER_HOST"`
	ServerPort      string        `mapstructure:"SERVER_PORT"`
	ServerTimeout   time.Duration `mapstructure:"SERVER_TIMEOUT_SECONDS"`
	UpstreamTimeout time.Duration `mapstructure:"UPSTREAM_TIMEOUT_SECONDS"`

	// Redirect targets and role lookup
	APIBaseURL           string `mapstructure:"API_BASE_URL"`
	InternalDashboardURL string `mapstructure:"INTERNAL_DASHBOARD_URL"`
	ClientDashboardURL   string `mapstructure:"CLIENT_DASHBOARD_URL"`
	UnknownRolePolicy    string `mapstructure:"UNKNOWN_ROLE_POLICY"`

	// Identity provider. IdentityURL and IdentityPublicKey are deliberately not
	// validated here; the acquirer reports them on first use.
	IdentityProvider  string `mapstructure:"IDENTITY_PROVIDER"`
	IdentityURL       string `mapstructure:"IDENTITY_URL"`
	IdentityPublicKey string `mapstructure:"IDENTITY_PUBLIC_KEY"`

	// Submission handling
	SubmissionGuardTTL time.Duration `mapstructure:"SUBMISSION_GUARD_TTL_SECONDS"`
	LoginRatePerSecond float64       `mapstructure:"LOGIN_RATE_PER_SECOND"`
	LoginRateBurst     int           `mapstructure:"LOGIN_RATE_BURST"`
	CORSAllowedOrigins []string      `mapstructure:"-"`

	// Logging Configuration
	LogLevel  string `mapstructure:"LOG_LEVEL"`
	LogFormat string `mapstructure:"LOG_FORMAT"`

	// Audit trail storage
	AuditDBDriver     string        `mapstructure:"AUDIT_DB_DRIVER"`
	AuditDBDSN        string        `mapstructure:"AUDIT_DB_DSN"`
	DBHost            string        `mapstructure:"DB_HOST"`
	DBPort            string        `mapstructure:"DB_PORT"`
	DBUser            string        `mapstructure:"DB_USER"`
	DBPassword        string        `mapstructure:"DB_PASSWORD"`
	DBName            string        `mapstructure:"DB_NAME"`
	DBSSLMode         string        `mapstructure:"DB_SSL_MODE"`
	DBTimezone        string        `mapstructure:"DB_TIMEZONE"`
	DBMaxIdleConns    int           `mapstructure:"DB_MAX_IDLE_CONNS"`
	DBMaxOpenConns    int           `mapstructure:"DB_MAX_OPEN_CONNS"`
	DBConnMaxLifetime time.Duration `mapstructure:"DB_CONN_MAX_LIFETIME_MINUTES"`

	// Cron Jobs
	UpstreamProbeSchedule string `mapstructure:"UPSTREAM_PROBE_SCHEDULE"`
}

// Load attempts to load configuration from a .env file (if present) and environment variables.
func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil {
		if !os.IsNotExist(err) {
			return nil, fmt.Errorf("error loading .env file: %w", err)
		}
	}

	v := viper.New()
	setDefaults(v)
	v.AutomaticEnv()

	return fromViper(v)
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("GIN_MODE", "debug")
	v.SetDefault("SERVER_HOST", "0.0.0.0")
	v.SetDefault("SERVER_PORT", "8080")
	v.SetDefault("SERVER_TIMEOUT_SECONDS", 30)
	v.SetDefault("UPSTREAM_TIMEOUT_SECONDS", 15)

	v.SetDefault("API_BASE_URL", "http://localhost:8787")
	v.SetDefault("INTERNAL_DASHBOARD_URL", "http://localhost:5173")
	v.SetDefault("CLIENT_DASHBOARD_URL", "http://localhost:5174")
	v.SetDefault("UNKNOWN_ROLE_POLICY", UnknownRoleClient)

	// No defaults: a missing value must surface on the first sign-in.
	v.SetDefault("IDENTITY_PROVIDER", ProviderGoTrue)
	v.SetDefault("IDENTITY_URL", "")
	v.SetDefault("IDENTITY_PUBLIC_KEY", "")

	v.SetDefault("SUBMISSION_GUARD_TTL_SECONDS", 120)
	v.SetDefault("LOGIN_RATE_PER_SECOND", 1.0)
	v.SetDefault("LOGIN_RATE_BURST", 5)
	v.SetDefault("CORS_ALLOWED_ORIGINS", "")

	v.SetDefault("LOG_LEVEL", "info")
	v.SetDefault("LOG_FORMAT", "console")

	v.SetDefault("AUDIT_DB_DRIVER", "sqlite")
	v.SetDefault("AUDIT_DB_DSN", "portal_audit.db")
	v.SetDefault("DB_HOST", "localhost")
	v.SetDefault("DB_PORT", "5432")
	v.SetDefault("DB_USER", "postgres")
	v.SetDefault("DB_PASSWORD", "password")
	v.SetDefault("DB_NAME", "cargo_portal")
	v.SetDefault("DB_SSL_MODE", "disable")
	v.SetDefault("DB_TIMEZONE", "UTC")
	v.SetDefault("DB_MAX_IDLE_CONNS", 2)
	v.SetDefault("DB_MAX_OPEN_CONNS", 10)
	v.SetDefault("DB_CONN_MAX_LIFETIME_MINUTES", 60)

	v.SetDefault("UPSTREAM_PROBE_SCHEDULE", "@every 1m")
}

func fromViper(v *viper.Viper) (*Config, error) {
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("error unmarshalling configuration: %w", err)
	}

	// Convert duration fields
	cfg.ServerTimeout = time.Duration(v.GetInt("SERVER_TIMEOUT_SECONDS")) * time.Second
	cfg.UpstreamTimeout = time.Duration(v.GetInt("UPSTREAM_TIMEOUT_SECONDS")) * time.Second
	cfg.SubmissionGuardTTL = time.Duration(v.GetInt("SUBMISSION_GUARD_TTL_SECONDS")) * time.Second
	cfg.DBConnMaxLifetime = time.Duration(v.GetInt("DB_CONN_MAX_LIFETIME_MINUTES")) * time.Minute

	cfg.IdentityProvider = strings.ToLower(strings.TrimSpace(cfg.IdentityProvider))
	cfg.UnknownRolePolicy = strings.ToLower(strings.TrimSpace(cfg.UnknownRolePolicy))
	cfg.AuditDBDriver = strings.ToLower(strings.TrimSpace(cfg.AuditDBDriver))

	cfg.CORSAllowedOrigins = splitList(v.GetString("CORS_ALLOWED_ORIGINS"))
	if len(cfg.CORSAllowedOrigins) == 0 {
		cfg.CORSAllowedOrigins = []string{
			originOf(cfg.InternalDashboardURL),
			originOf(cfg.ClientDashboardURL),
		}
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks the settings that must be sound before the server starts.
func (c *Config) Validate() error {
	for name, raw := range map[string]string{
		"API_BASE_URL":           c.APIBaseURL,
		"INTERNAL_DASHBOARD_URL": c.InternalDashboardURL,
		"CLIENT_DASHBOARD_URL":   c.ClientDashboardURL,
	} {
		u, err := url.Parse(raw)
		if err != nil || u.Scheme == "" || u.Host == "" {
			return fmt.Errorf("%s must be an absolute URL, got %q", name, raw)
		}
	}

	switch c.IdentityProvider {
	case ProviderGoTrue, ProviderKratos:
	default:
		return fmt.Errorf("IDENTITY_PROVIDER must be one of %q or %q, got %q", ProviderGoTrue, ProviderKratos, c.IdentityProvider)
	}

	switch c.UnknownRolePolicy {
	case UnknownRoleClient, UnknownRoleDeny:
	default:
		return fmt.Errorf("UNKNOWN_ROLE_POLICY must be one of %q or %q, got %q", UnknownRoleClient, UnknownRoleDeny, c.UnknownRolePolicy)
	}

	switch c.AuditDBDriver {
	case "sqlite", "postgres", "none":
	default:
		return fmt.Errorf("AUDIT_DB_DRIVER must be sqlite, postgres or none, got %q", c.AuditDBDriver)
	}

	if c.LoginRatePerSecond <= 0 || c.LoginRateBurst <= 0 {
		return fmt.Errorf("LOGIN_RATE_PER_SECOND and LOGIN_RATE_BURST must be positive")
	}
	return nil
}

func splitList(raw string) []string {
	var out []string
	for _, part := range strings.Split(raw, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}

// originOf strips everything after the host so the value can be used as a CORS origin.
func originOf(raw string) string {
	u, err := url.Parse(raw)
	if err != nil || u.Host == "" {
		return raw
	}
	return u.Scheme + "://" + u.Host
}
