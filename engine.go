package authcore

import (
	"context"
	"errors"
	"fmt"
	"time"

	internalaudit "github.com/kuzunoha/authcore/internal/audit"
	"github.com/kuzunoha/authcore/internal/stores"
	"github.com/kuzunoha/authcore/oauth"
	"github.com/kuzunoha/authcore/password"
	"github.com/kuzunoha/authcore/session"
)

// Engine composes the login flows: password, OAuth, and the TOTP second
// factor, all terminating in an opaque server-side session. Construct it
// with [New]; a zero Engine is not usable.
type Engine struct {
	config Config

	sessions   *session.Store
	states     *stores.Store[stores.OAuthState]
	pendings   *stores.Store[stores.PendingSignup]
	challenges *stores.Store[stores.TotpChallenge]

	oauthClient *oauth.Client
	providers   map[oauth.Provider]oauth.ProviderConfig

	passwordHash *password.Hasher
	totp         *totpManager
	users        UserStore

	audit   *internalaudit.Dispatcher
	metrics *Metrics
}

// Close flushes the audit pipeline. The engine must not be used after.
func (e *Engine) Close() {
	if e == nil {
		return
	}
	e.audit.Close()
}

// MetricsSnapshot returns a point-in-time copy of the engine counters.
func (e *Engine) MetricsSnapshot() MetricsSnapshot {
	if e == nil {
		return MetricsSnapshot{Counters: map[MetricID]uint64{}}
	}
	return e.metrics.Snapshot()
}

// AuditDropped reports how many audit events were dropped under
// backpressure.
func (e *Engine) AuditDropped() uint64 {
	if e == nil {
		return 0
	}
	return e.audit.Dropped()
}

func (e *Engine) metricInc(id MetricID) {
	if e == nil {
		return
	}
	e.metrics.Inc(id)
}

func (e *Engine) sessionTTL(rememberMe bool) time.Duration {
	if rememberMe {
		return e.config.Session.RememberMeTTL
	}
	return e.config.Session.DefaultTTL
}

func (e *Engine) providerConfig(p oauth.Provider) (oauth.ProviderConfig, error) {
	cfg, ok := e.providers[p]
	if !ok {
		return oauth.ProviderConfig{}, fmt.Errorf("%w: %s", ErrProviderUnknown, p)
	}
	return cfg, nil
}

// ValidateSession resolves a session token to its user id. A miss
// returns ErrSessionNotFound and is a normal outcome; the session is
// never consumed.
func (e *Engine) ValidateSession(ctx context.Context, sessionID string) (string, error) {
	if e == nil || e.sessions == nil {
		return "", ErrEngineNotReady
	}

	sess, err := e.sessions.Get(ctx, sessionID)
	if err != nil {
		if errors.Is(err, session.ErrSessionNotFound) {
			return "", ErrSessionNotFound
		}
		return "", fmt.Errorf("%w: %v", ErrStateStoreUnavailable, err)
	}
	return sess.UserID, nil
}

// Logout destroys a session. Logging out an absent session succeeds.
func (e *Engine) Logout(ctx context.Context, sessionID string) error {
	if e == nil || e.sessions == nil {
		return ErrEngineNotReady
	}

	if err := e.sessions.Delete(ctx, sessionID); err != nil {
		return fmt.Errorf("%w: %v", ErrStateStoreUnavailable, err)
	}
	e.metricInc(MetricSessionDeleted)
	e.emitAudit(ctx, auditEventLogout, true, "", ClientInfo{}, "", nil)
	return nil
}
