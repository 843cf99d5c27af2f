package authcore

import (
	"errors"
	"time"

	"github.com/caarlos0/env/v11"

	"github.com/kuzunoha/authcore/oauth"
	"github.com/kuzunoha/authcore/password"
)

// Config is assembled once at startup and treated as immutable afterward.
// Every component reads from the built engine's copy; there is no ambient
// mutable configuration.
type Config struct {
	Session  SessionConfig
	TOTP     TOTPConfig
	OAuth    OAuthConfig
	Password password.Config
	Audit    AuditConfig
	Metrics  MetricsConfig
}

// SessionConfig controls session naming and lifetimes.
type SessionConfig struct {
	RedisPrefix   string
	DefaultTTL    time.Duration // browsing-session lifetime
	RememberMeTTL time.Duration
}

// TOTPConfig controls the second-factor engine.
type TOTPConfig struct {
	Issuer           string
	Digits           int
	Period           int
	Skew             int
	BackupCodeCount  int
	BackupCodeLength int
	TempTokenTTL     time.Duration
}

// ProviderCredentials are one provider's OAuth app settings.
type ProviderCredentials struct {
	ClientID     string `env:"CLIENT_ID"`
	ClientSecret string `env:"CLIENT_SECRET"`
	RedirectURI  string `env:"REDIRECT_URI"`
}

// Configured reports whether the provider can be used for login.
func (c ProviderCredentials) Configured() bool {
	return c.ClientID != "" && c.ClientSecret != "" && c.RedirectURI != ""
}

// OAuthConfig holds provider credentials and the ephemeral-record TTLs of
// the OAuth flow. Endpoints overrides the provider defaults, which tests
// point at local servers.
type OAuthConfig struct {
	Google           ProviderCredentials
	GitHub           ProviderCredentials
	StateTTL         time.Duration
	PendingSignupTTL time.Duration
	HTTPTimeout      time.Duration
	Endpoints        map[oauth.Provider]oauth.Endpoints
}

// AuditConfig controls the asynchronous audit pipeline.
type AuditConfig struct {
	Enabled    bool
	BufferSize int
	DropIfFull bool
}

// MetricsConfig controls the in-process counters.
type MetricsConfig struct {
	Enabled bool
}

func defaultConfig() Config {
	return Config{
		Session: SessionConfig{
			RedisPrefix:   "session",
			DefaultTTL:    24 * time.Hour,
			RememberMeTTL: 30 * 24 * time.Hour,
		},
		TOTP: TOTPConfig{
			Issuer:           "authcore",
			Digits:           6,
			Period:           30,
			Skew:             1,
			BackupCodeCount:  10,
			BackupCodeLength: 8,
			TempTokenTTL:     5 * time.Minute,
		},
		OAuth: OAuthConfig{
			StateTTL:         10 * time.Minute,
			PendingSignupTTL: 15 * time.Minute,
			HTTPTimeout:      10 * time.Second,
		},
		Password: password.DefaultConfig(),
		Audit: AuditConfig{
			Enabled:    true,
			BufferSize: 256,
			DropIfFull: true,
		},
		Metrics: MetricsConfig{
			Enabled: true,
		},
	}
}

func validateConfig(cfg Config) error {
	if cfg.Session.DefaultTTL <= 0 || cfg.Session.RememberMeTTL <= 0 {
		return errors.New("session TTLs must be positive")
	}
	if cfg.TOTP.Digits < 6 || cfg.TOTP.Digits > 8 {
		return errors.New("totp digits must be 6..8")
	}
	if cfg.TOTP.Period <= 0 || cfg.TOTP.Skew < 0 {
		return errors.New("invalid totp period or skew")
	}
	if cfg.TOTP.BackupCodeCount <= 0 || cfg.TOTP.BackupCodeLength < 6 || cfg.TOTP.BackupCodeLength > 8 {
		return errors.New("backup code length must be 6..8")
	}
	if cfg.TOTP.TempTokenTTL <= 0 {
		return errors.New("totp temp token TTL must be positive")
	}
	if cfg.OAuth.StateTTL <= 0 || cfg.OAuth.PendingSignupTTL <= 0 {
		return errors.New("oauth TTLs must be positive")
	}
	return nil
}

type envConfig struct {
	SessionTTLHours   int    `env:"AUTH_SESSION_TTL_HOURS"`
	RememberMeTTLDays int    `env:"AUTH_REMEMBER_ME_TTL_DAYS"`
	StateTTLMinutes   int    `env:"AUTH_OAUTH_STATE_TTL_MINUTES"`
	PendingTTLMinutes int    `env:"AUTH_PENDING_SIGNUP_TTL_MINUTES"`
	TempTokenTTLMins  int    `env:"AUTH_TOTP_TEMP_TOKEN_TTL_MINUTES"`
	TOTPIssuer        string `env:"AUTH_TOTP_ISSUER"`

	Google ProviderCredentials `envPrefix:"AUTH_GOOGLE_"`
	GitHub ProviderCredentials `envPrefix:"AUTH_GITHUB_"`
}

// ConfigFromEnv overlays environment settings on the defaults. Provider
// credentials are only reachable through here or an explicit Config;
// nothing reads the environment after startup.
func ConfigFromEnv() (Config, error) {
	var e envConfig
	if err := env.Parse(&e); err != nil {
		return Config{}, err
	}

	cfg := defaultConfig()
	if e.SessionTTLHours > 0 {
		cfg.Session.DefaultTTL = time.Duration(e.SessionTTLHours) * time.Hour
	}
	if e.RememberMeTTLDays > 0 {
		cfg.Session.RememberMeTTL = time.Duration(e.RememberMeTTLDays) * 24 * time.Hour
	}
	if e.StateTTLMinutes > 0 {
		cfg.OAuth.StateTTL = time.Duration(e.StateTTLMinutes) * time.Minute
	}
	if e.PendingTTLMinutes > 0 {
		cfg.OAuth.PendingSignupTTL = time.Duration(e.PendingTTLMinutes) * time.Minute
	}
	if e.TempTokenTTLMins > 0 {
		cfg.TOTP.TempTokenTTL = time.Duration(e.TempTokenTTLMins) * time.Minute
	}
	if e.TOTPIssuer != "" {
		cfg.TOTP.Issuer = e.TOTPIssuer
	}
	cfg.OAuth.Google = e.Google
	cfg.OAuth.GitHub = e.GitHub

	return cfg, nil
}
