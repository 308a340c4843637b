package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// MinSigningKeyLength mirrors the token service and audit sealer
// requirements.
const MinSigningKeyLength = 32

type Config struct {
	Port        string `mapstructure:"PORT"`
	Env         string `mapstructure:"ENV"`
	DatabaseURL string `mapstructure:"DATABASE_URL"`
	DBMaxConns  int32  `mapstructure:"DB_MAX_CONNS"`
	DBMinConns  int32  `mapstructure:"DB_MIN_CONNS"`
	RedisURL    string `mapstructure:"REDIS_URL"`

	AuthSigningKey  string        `mapstructure:"AUTH_SIGNING_KEY"`
	AuthIssuer      string        `mapstructure:"AUTH_ISSUER"`
	AccessTokenTTL  time.Duration `mapstructure:"ACCESS_TOKEN_TTL"`
	RefreshTokenTTL time.Duration `mapstructure:"REFRESH_TOKEN_TTL"`

	LoginMaxAttempts    int           `mapstructure:"LOGIN_MAX_ATTEMPTS"`
	LoginLockDuration   time.Duration `mapstructure:"LOGIN_LOCK_DURATION"`
	LoginRateLimitRPS   float64       `mapstructure:"LOGIN_RATE_LIMIT_RPS"`
	LoginRateLimitBurst int           `mapstructure:"LOGIN_RATE_LIMIT_BURST"`

	ConsentAdminBypass   bool          `mapstructure:"CONSENT_ADMIN_BYPASS"`
	ConsentSweepInterval time.Duration `mapstructure:"CONSENT_SWEEP_INTERVAL"`

	AuditHMACKey       string        `mapstructure:"AUDIT_HMAC_KEY"`
	AuditQueueSize     int           `mapstructure:"AUDIT_QUEUE_SIZE"`
	AuditWorkers       int           `mapstructure:"AUDIT_WORKERS"`
	AuditRetryAttempts int           `mapstructure:"AUDIT_RETRY_ATTEMPTS"`
	AuditRetryBackoff  time.Duration `mapstructure:"AUDIT_RETRY_BACKOFF"`
	AuditAlertChannel  string        `mapstructure:"AUDIT_ALERT_CHANNEL"`

	RequestTimeout time.Duration `mapstructure:"REQUEST_TIMEOUT"`
	BodyLimit      string        `mapstructure:"BODY_LIMIT"`
	CORSOrigins    []string      `mapstructure:"CORS_ORIGINS"`
	SentryDSN      string        `mapstructure:"SENTRY_DSN"`
	TLSEnabled     bool          `mapstructure:"TLS_ENABLED"`
	TLSCertFile    string        `mapstructure:"TLS_CERT_FILE"`
	TLSKeyFile     string        `mapstructure:"TLS_KEY_FILE"`
}

var keys = []string{
	"PORT", "ENV", "DATABASE_URL", "DB_MAX_CONNS", "DB_MIN_CONNS", "REDIS_URL",
	"AUTH_SIGNING_KEY", "AUTH_ISSUER", "ACCESS_TOKEN_TTL", "REFRESH_TOKEN_TTL",
	"LOGIN_MAX_ATTEMPTS", "LOGIN_LOCK_DURATION", "LOGIN_RATE_LIMIT_RPS", "LOGIN_RATE_LIMIT_BURST",
	"CONSENT_ADMIN_BYPASS", "CONSENT_SWEEP_INTERVAL",
	"AUDIT_HMAC_KEY", "AUDIT_QUEUE_SIZE", "AUDIT_WORKERS", "AUDIT_RETRY_ATTEMPTS", "AUDIT_RETRY_BACKOFF", "AUDIT_ALERT_CHANNEL",
	"REQUEST_TIMEOUT", "BODY_LIMIT", "CORS_ORIGINS", "SENTRY_DSN",
	"TLS_ENABLED", "TLS_CERT_FILE", "TLS_KEY_FILE",
}

// Load reads .env (optional) and the environment. It does not validate;
// call Validate before serving.
func Load() (*Config, error) {
	v := viper.New()
	v.SetConfigFile(".env")
	v.SetConfigType("env")
	v.AutomaticEnv()

	v.SetDefault("PORT", "8000")
	v.SetDefault("ENV", "development")
	v.SetDefault("DB_MAX_CONNS", 20)
	v.SetDefault("DB_MIN_CONNS", 2)
	v.SetDefault("AUTH_ISSUER", "recordguard")
	v.SetDefault("ACCESS_TOKEN_TTL", "15m")
	v.SetDefault("REFRESH_TOKEN_TTL", "168h")
	v.SetDefault("LOGIN_MAX_ATTEMPTS", 5)
	v.SetDefault("LOGIN_LOCK_DURATION", "15m")
	v.SetDefault("LOGIN_RATE_LIMIT_RPS", 1)
	v.SetDefault("LOGIN_RATE_LIMIT_BURST", 5)
	v.SetDefault("CONSENT_ADMIN_BYPASS", false)
	v.SetDefault("CONSENT_SWEEP_INTERVAL", "1m")
	v.SetDefault("AUDIT_QUEUE_SIZE", 1024)
	v.SetDefault("AUDIT_WORKERS", 2)
	v.SetDefault("AUDIT_RETRY_ATTEMPTS", 3)
	v.SetDefault("AUDIT_RETRY_BACKOFF", "100ms")
	v.SetDefault("AUDIT_ALERT_CHANNEL", "recordguard:audit-alerts")
	v.SetDefault("REQUEST_TIMEOUT", "30s")
	v.SetDefault("BODY_LIMIT", "1M")
	v.SetDefault("CORS_ORIGINS", "http://localhost:3000")

	for _, k := range keys {
		_ = v.BindEnv(k)
	}

	// .env is optional
	_ = v.ReadInConfig()

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	if len(cfg.CORSOrigins) == 1 && strings.Contains(cfg.CORSOrigins[0], ",") {
		cfg.CORSOrigins = strings.Split(cfg.CORSOrigins[0], ",")
	}
	for i, o := range cfg.CORSOrigins {
		cfg.CORSOrigins[i] = strings.TrimSpace(o)
	}

	return cfg, nil
}

func (c *Config) IsDev() bool {
	return c.Env == "development"
}

func (c *Config) IsProduction() bool {
	return c.Env == "production"
}

// UseMemoryStores reports whether the server runs without PostgreSQL. Only
// development may do so.
func (c *Config) UseMemoryStores() bool {
	return c.DatabaseURL == "" && c.IsDev()
}

// Validate reports every invalid setting at once.
func (c *Config) Validate() error {
	var errs []error
	if len(c.AuthSigningKey) < MinSigningKeyLength {
		errs = append(errs, fmt.Errorf("AUTH_SIGNING_KEY must be at least %d bytes", MinSigningKeyLength))
	}
	switch {
	case len(c.AuditHMACKey) < MinSigningKeyLength:
		errs = append(errs, fmt.Errorf("AUDIT_HMAC_KEY must be at least %d bytes", MinSigningKeyLength))
	case c.AuditHMACKey == c.AuthSigningKey:
		errs = append(errs, errors.New("AUDIT_HMAC_KEY must differ from AUTH_SIGNING_KEY"))
	}
	if c.DatabaseURL == "" && !c.IsDev() {
		errs = append(errs, errors.New("DATABASE_URL is required outside development"))
	}

	positive := []struct {
		key string
		ok  bool
	}{
		{"ACCESS_TOKEN_TTL", c.AccessTokenTTL > 0},
		{"REFRESH_TOKEN_TTL", c.RefreshTokenTTL > 0},
		{"LOGIN_MAX_ATTEMPTS", c.LoginMaxAttempts > 0},
		{"LOGIN_LOCK_DURATION", c.LoginLockDuration > 0},
		{"LOGIN_RATE_LIMIT_RPS", c.LoginRateLimitRPS > 0},
		{"LOGIN_RATE_LIMIT_BURST", c.LoginRateLimitBurst > 0},
		{"CONSENT_SWEEP_INTERVAL", c.ConsentSweepInterval > 0},
		{"AUDIT_QUEUE_SIZE", c.AuditQueueSize > 0},
		{"AUDIT_WORKERS", c.AuditWorkers > 0},
		{"AUDIT_RETRY_ATTEMPTS", c.AuditRetryAttempts > 0},
		{"AUDIT_RETRY_BACKOFF", c.AuditRetryBackoff > 0},
		{"DB_MAX_CONNS", c.DBMaxConns > 0},
	}
	for _, p := range positive {
		if !p.ok {
			errs = append(errs, fmt.Errorf("%s must be greater than zero", p.key))
		}
	}
	if c.RequestTimeout < 0 {
		errs = append(errs, errors.New("REQUEST_TIMEOUT must not be negative"))
	}
	if c.RefreshTokenTTL > 0 && c.AccessTokenTTL > c.RefreshTokenTTL {
		errs = append(errs, errors.New("ACCESS_TOKEN_TTL must not exceed REFRESH_TOKEN_TTL"))
	}

	if c.IsProduction() {
		for _, o := range c.CORSOrigins {
			if o == "*" {
				errs = append(errs, errors.New("CORS_ORIGINS must list explicit origins in production"))
				break
			}
		}
	}

	if c.TLSEnabled {
		if c.TLSCertFile == "" {
			errs = append(errs, errors.New("TLS_CERT_FILE is required when TLS_ENABLED is true"))
		}
		if c.TLSKeyFile == "" {
			errs = append(errs, errors.New("TLS_KEY_FILE is required when TLS_ENABLED is true"))
		}
	}
	return errors.Join(errs...)
}
