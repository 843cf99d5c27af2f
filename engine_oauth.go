package authcore

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/kuzunoha/authcore/internal/stores"
	"github.com/kuzunoha/authcore/oauth"
)

// OAuthAuthorization is the output of BeginOAuthLogin: the URL to send
// the user agent to, and the state the callback must echo back.
type OAuthAuthorization struct {
	AuthorizeURL string
	State        string
}

// BeginOAuthLogin starts a federated login. It mints a CSRF state and a
// PKCE verifier, parks the verifier under the state with a bounded TTL,
// and returns the provider authorize URL.
func (e *Engine) BeginOAuthLogin(ctx context.Context, provider oauth.Provider) (*OAuthAuthorization, error) {
	if e == nil || e.states == nil {
		return nil, ErrEngineNotReady
	}

	cfg, err := e.providerConfig(provider)
	if err != nil {
		return nil, err
	}

	state, err := oauth.GenerateState()
	if err != nil {
		return nil, fmt.Errorf("mint oauth state: %w", err)
	}
	verifier, err := oauth.GenerateCodeVerifier()
	if err != nil {
		return nil, fmt.Errorf("mint pkce verifier: %w", err)
	}

	record := stores.OAuthState{PKCEVerifier: verifier}
	if err := e.states.Put(ctx, state, record, e.config.OAuth.StateTTL); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrStateStoreUnavailable, err)
	}

	e.emitAudit(ctx, auditEventOAuthAuthorizeIssued, true, "", ClientInfo{}, provider, nil)
	return &OAuthAuthorization{
		AuthorizeURL: e.oauthClient.AuthorizeURL(cfg, state, oauth.CodeChallenge(verifier)),
		State:        state,
	}, nil
}

// OAuthCallback is the input assembled from the provider redirect plus
// caller intent.
type OAuthCallback struct {
	Provider   oauth.Provider
	Code       string
	State      string
	Handle     string
	RememberMe bool
	Client     ClientInfo
}

// CompleteOAuthLogin handles the provider redirect. The state record is
// consumed atomically up front, so a replayed or forged callback fails
// with ErrAuthStateInvalid no matter how the rest of the flow goes.
// Outcomes: a session, a TOTP challenge, or a pending signup when the
// identity is new and no handle was supplied.
func (e *Engine) CompleteOAuthLogin(ctx context.Context, cb OAuthCallback) (*OAuthLoginResult, error) {
	if e == nil || e.states == nil {
		return nil, ErrEngineNotReady
	}

	cfg, err := e.providerConfig(cb.Provider)
	if err != nil {
		return nil, err
	}

	record, err := e.states.GetDel(ctx, cb.State)
	if err != nil {
		if errors.Is(err, stores.ErrNotFound) {
			e.metricInc(MetricOAuthStateInvalid)
			e.emitAudit(ctx, auditEventOAuthStateInvalid, false, "", cb.Client, cb.Provider, ErrAuthStateInvalid)
			return nil, ErrAuthStateInvalid
		}
		return nil, fmt.Errorf("%w: %v", ErrStateStoreUnavailable, err)
	}

	token, err := e.oauthClient.Exchange(ctx, cfg, cb.Code, record.PKCEVerifier)
	if err != nil {
		e.metricInc(MetricOAuthExchangeFailure)
		e.emitAudit(ctx, auditEventOAuthLoginFailure, false, "", cb.Client, cb.Provider, err)
		return nil, fmt.Errorf("%w: %v", ErrProviderExchangeFailed, err)
	}

	info, err := e.oauthClient.UserInfo(ctx, cfg, token)
	if err != nil {
		e.emitAudit(ctx, auditEventOAuthLoginFailure, false, "", cb.Client, cb.Provider, err)
		if errors.Is(err, oauth.ErrNoVerifiedEmail) {
			return nil, ErrNoVerifiedEmail
		}
		return nil, fmt.Errorf("%w: %v", ErrProviderUserInfoFailed, err)
	}

	return e.resolveOAuthUser(ctx, info, cb.Handle, cb.RememberMe, cb.Client)
}

// CompleteSignup finishes a parked federated signup with the handle the
// caller chose. The pending token is consumed atomically; a second
// completion attempt, or one after the TTL, fails with
// ErrPendingSignupExpired.
func (e *Engine) CompleteSignup(ctx context.Context, pendingToken, handle string, client ClientInfo) (*OAuthLoginResult, error) {
	if e == nil || e.pendings == nil {
		return nil, ErrEngineNotReady
	}
	if handle == "" {
		return nil, ErrHandleRequired
	}

	pending, err := e.pendings.GetDel(ctx, pendingToken)
	if err != nil {
		if errors.Is(err, stores.ErrNotFound) {
			return nil, ErrPendingSignupExpired
		}
		return nil, fmt.Errorf("%w: %v", ErrStateStoreUnavailable, err)
	}

	info := &oauth.UserInfo{
		Provider:       oauth.Provider(pending.Provider),
		ProviderUserID: pending.ProviderUserID,
		Email:          pending.Email,
		DisplayName:    pending.DisplayName,
		ProfileImage:   pending.ProfileImage,
	}
	result, err := e.resolveOAuthUser(ctx, info, handle, pending.RememberMe, client)
	if err != nil {
		return nil, err
	}
	e.metricInc(MetricPendingSignupCompleted)
	e.emitAudit(ctx, auditEventPendingSignupCompleted, true, "", client, info.Provider, nil)
	return result, nil
}

// resolveOAuthUser maps a normalized provider identity to a local user.
// Order: existing identity link, then verified-email match (which links
// the identity to the matched account), then creation when a handle is
// available, else a pending-signup record. A uniqueness conflict from a
// concurrent duplicate callback surfaces as ErrIdentityConflict and the
// caller restarts the flow.
func (e *Engine) resolveOAuthUser(ctx context.Context, info *oauth.UserInfo, handle string, rememberMe bool, client ClientInfo) (*OAuthLoginResult, error) {
	user, err := e.users.FindByProviderIdentity(ctx, info.Provider, info.ProviderUserID)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUserStoreUnavailable, err)
	}

	isNew := false
	if user == nil && info.Email != "" {
		existing, err := e.users.FindByVerifiedEmail(ctx, info.Email)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrUserStoreUnavailable, err)
		}
		if existing != nil {
			if err := e.users.LinkOAuthIdentity(ctx, existing.UserID, info.Provider, info.ProviderUserID); err != nil {
				if errors.Is(err, ErrIdentityConflict) {
					return nil, ErrIdentityConflict
				}
				return nil, fmt.Errorf("%w: %v", ErrUserStoreUnavailable, err)
			}
			e.emitAudit(ctx, auditEventIdentityLinked, true, existing.UserID, client, info.Provider, nil)
			user = existing
		}
	}

	if user == nil {
		if handle == "" {
			pending, err := e.parkPendingSignup(ctx, info, rememberMe, client)
			if err != nil {
				return nil, err
			}
			return &OAuthLoginResult{PendingSignup: pending}, nil
		}

		created, err := e.users.CreateUserWithHandle(ctx, NewOAuthUser{
			Provider:       info.Provider,
			ProviderUserID: info.ProviderUserID,
			Email:          info.Email,
			DisplayName:    info.DisplayName,
			Handle:         handle,
			ProfileImage:   info.ProfileImage,
		})
		if err != nil {
			if errors.Is(err, ErrHandleTaken) || errors.Is(err, ErrIdentityConflict) {
				return nil, err
			}
			return nil, fmt.Errorf("%w: %v", ErrUserStoreUnavailable, err)
		}
		user = &created
		isNew = true
	}

	totpState, err := e.users.GetTOTPState(ctx, user.UserID)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUserStoreUnavailable, err)
	}
	if totpState.Enabled() {
		challenge, err := e.issueTotpChallenge(ctx, user.UserID, rememberMe, client)
		if err != nil {
			return nil, err
		}
		return &OAuthLoginResult{TotpRequired: challenge, IsNewUser: isNew}, nil
	}

	issued, err := e.issueSession(ctx, user.UserID, rememberMe, client)
	if err != nil {
		return nil, err
	}
	e.metricInc(MetricOAuthLoginSuccess)
	e.emitAudit(ctx, auditEventOAuthLoginSuccess, true, user.UserID, client, info.Provider, nil)
	return &OAuthLoginResult{Session: issued, IsNewUser: isNew}, nil
}

func (e *Engine) parkPendingSignup(ctx context.Context, info *oauth.UserInfo, rememberMe bool, client ClientInfo) (*PendingSignup, error) {
	token := uuid.NewString()
	record := stores.PendingSignup{
		Provider:       string(info.Provider),
		ProviderUserID: info.ProviderUserID,
		Email:          info.Email,
		DisplayName:    info.DisplayName,
		ProfileImage:   info.ProfileImage,
		RememberMe:     rememberMe,
	}
	if err := e.pendings.Put(ctx, token, record, e.config.OAuth.PendingSignupTTL); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrStateStoreUnavailable, err)
	}

	e.metricInc(MetricPendingSignupCreated)
	e.emitAudit(ctx, auditEventPendingSignupCreated, true, "", client, info.Provider, nil)
	return &PendingSignup{
		PendingToken: token,
		Email:        info.Email,
		DisplayName:  info.DisplayName,
	}, nil
}
