package authcore

import (
	"errors"

	"github.com/redis/go-redis/v9"

	internalaudit "github.com/kuzunoha/authcore/internal/audit"
	"github.com/kuzunoha/authcore/internal/stores"
	"github.com/kuzunoha/authcore/oauth"
	"github.com/kuzunoha/authcore/password"
	"github.com/kuzunoha/authcore/session"
)

// Builder assembles an Engine. Configure with the With methods and call
// Build once.
type Builder struct {
	config    Config
	redis     redis.UniversalClient
	users     UserStore
	auditSink AuditSink
	built     bool
}

func New() *Builder {
	return &Builder{
		config: defaultConfig(),
	}
}

func (b *Builder) WithConfig(cfg Config) *Builder {
	b.config = cfg
	return b
}

func (b *Builder) WithRedis(client redis.UniversalClient) *Builder {
	b.redis = client
	return b
}

func (b *Builder) WithUserStore(users UserStore) *Builder {
	b.users = users
	return b
}

func (b *Builder) WithAuditSink(sink AuditSink) *Builder {
	b.auditSink = sink
	return b
}

// Build validates the configuration and wires the engine. The returned
// engine owns no goroutines beyond the audit dispatcher.
func (b *Builder) Build() (*Engine, error) {
	if b.built {
		return nil, errors.New("builder already used")
	}
	if b.redis == nil {
		return nil, errors.New("redis client required")
	}
	if b.users == nil {
		return nil, errors.New("user store required")
	}
	if err := validateConfig(b.config); err != nil {
		return nil, err
	}

	hasher, err := password.NewHasher(b.config.Password)
	if err != nil {
		return nil, err
	}

	providers := make(map[oauth.Provider]oauth.ProviderConfig)
	addProvider := func(p oauth.Provider, creds ProviderCredentials) {
		if !creds.Configured() {
			return
		}
		endpoints := oauth.DefaultEndpoints(p)
		if override, ok := b.config.OAuth.Endpoints[p]; ok {
			endpoints = override
		}
		providers[p] = oauth.ProviderConfig{
			Provider: p,
			Credentials: oauth.Credentials{
				ClientID:     creds.ClientID,
				ClientSecret: creds.ClientSecret,
				RedirectURI:  creds.RedirectURI,
			},
			Endpoints: endpoints,
			Scopes:    oauth.DefaultScopes(p),
		}
	}
	addProvider(oauth.ProviderGoogle, b.config.OAuth.Google)
	addProvider(oauth.ProviderGitHub, b.config.OAuth.GitHub)

	engine := &Engine{
		config:       b.config,
		sessions:     session.NewStore(b.redis, b.config.Session.RedisPrefix),
		states:       stores.NewStore[stores.OAuthState](b.redis, stores.OAuthStatePrefix),
		pendings:     stores.NewStore[stores.PendingSignup](b.redis, stores.PendingSignupPrefix),
		challenges:   stores.NewStore[stores.TotpChallenge](b.redis, stores.TotpChallengePrefix),
		oauthClient:  oauth.NewClient(b.config.OAuth.HTTPTimeout),
		providers:    providers,
		passwordHash: hasher,
		totp:         newTOTPManager(b.config.TOTP),
		users:        b.users,
		metrics:      newMetrics(b.config.Metrics),
	}

	engine.audit = internalaudit.NewDispatcher(internalaudit.Config{
		Enabled:    b.config.Audit.Enabled,
		BufferSize: b.config.Audit.BufferSize,
		DropIfFull: b.config.Audit.DropIfFull,
	}, b.auditSink)

	b.built = true
	return engine, nil
}
