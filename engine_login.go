package authcore

import (
	"context"
	"errors"
	"fmt"

	"github.com/kuzunoha/authcore/internal"
	"github.com/kuzunoha/authcore/internal/stores"
	"github.com/kuzunoha/authcore/session"
)

// Login verifies an email and password. When the account carries an
// active second factor the result holds a temp token instead of a
// session; the caller must finish with CompleteTOTPLogin. Bad email and
// bad password are indistinguishable to the caller.
func (e *Engine) Login(ctx context.Context, req LoginRequest) (*LoginResult, error) {
	if e == nil || e.users == nil {
		return nil, ErrEngineNotReady
	}

	user, err := e.users.FindByVerifiedEmail(ctx, req.Email)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUserStoreUnavailable, err)
	}
	if user == nil {
		e.metricInc(MetricLoginFailure)
		e.emitAudit(ctx, auditEventLoginFailure, false, "", req.Client, "", ErrInvalidCredentials)
		return nil, ErrInvalidCredentials
	}

	encoded, err := e.users.GetCredentialHash(ctx, user.UserID)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUserStoreUnavailable, err)
	}
	if encoded == "" {
		e.metricInc(MetricLoginFailure)
		e.emitAudit(ctx, auditEventLoginFailure, false, user.UserID, req.Client, "", ErrPasswordNotSet)
		return nil, ErrPasswordNotSet
	}

	match, err := e.passwordHash.Verify(req.Password, encoded)
	if err != nil {
		return nil, fmt.Errorf("credential hash verify: %w", err)
	}
	if !match {
		e.metricInc(MetricLoginFailure)
		e.emitAudit(ctx, auditEventLoginFailure, false, user.UserID, req.Client, "", ErrInvalidCredentials)
		return nil, ErrInvalidCredentials
	}

	totpState, err := e.users.GetTOTPState(ctx, user.UserID)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUserStoreUnavailable, err)
	}
	if totpState.Enabled() {
		challenge, err := e.issueTotpChallenge(ctx, user.UserID, req.RememberMe, req.Client)
		if err != nil {
			return nil, err
		}
		return &LoginResult{TotpRequired: challenge}, nil
	}

	issued, err := e.issueSession(ctx, user.UserID, req.RememberMe, req.Client)
	if err != nil {
		return nil, err
	}
	e.metricInc(MetricLoginSuccess)
	e.emitAudit(ctx, auditEventLoginSuccess, true, user.UserID, req.Client, "", nil)
	return &LoginResult{Session: issued}, nil
}

// CompleteTOTPLogin answers a pending second-factor challenge. The temp
// token survives failed attempts until its TTL runs out; only a correct
// code consumes it. An expired or unknown token returns
// ErrTotpTempTokenExpired and the caller must restart the login.
func (e *Engine) CompleteTOTPLogin(ctx context.Context, tempToken, code string) (*SessionIssued, error) {
	if e == nil || e.challenges == nil {
		return nil, ErrEngineNotReady
	}

	challenge, err := e.challenges.Get(ctx, tempToken)
	if err != nil {
		if errors.Is(err, stores.ErrNotFound) {
			return nil, ErrTotpTempTokenExpired
		}
		return nil, fmt.Errorf("%w: %v", ErrStateStoreUnavailable, err)
	}
	client := ClientInfo{UserAgent: challenge.UserAgent, IPAddress: challenge.IPAddress}

	if err := e.verifyTOTPForUser(ctx, challenge.UserID, code); err != nil {
		if errors.Is(err, ErrTOTPCodeInvalid) {
			e.metricInc(MetricTOTPFailure)
			e.emitAudit(ctx, auditEventTOTPLoginFailure, false, challenge.UserID, client, "", err)
		}
		return nil, err
	}

	if err := e.challenges.Delete(ctx, tempToken); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrStateStoreUnavailable, err)
	}

	issued, err := e.issueSession(ctx, challenge.UserID, challenge.RememberMe, client)
	if err != nil {
		return nil, err
	}
	e.metricInc(MetricTOTPSuccess)
	e.emitAudit(ctx, auditEventTOTPLoginSuccess, true, challenge.UserID, client, "", nil)
	return issued, nil
}

func (e *Engine) issueTotpChallenge(ctx context.Context, userID string, rememberMe bool, client ClientInfo) (*TotpRequired, error) {
	token, err := internal.NewTempToken()
	if err != nil {
		return nil, fmt.Errorf("mint temp token: %w", err)
	}

	record := stores.TotpChallenge{
		UserID:     userID,
		RememberMe: rememberMe,
		UserAgent:  client.UserAgent,
		IPAddress:  client.IPAddress,
	}
	if err := e.challenges.Put(ctx, token, record, e.config.TOTP.TempTokenTTL); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrStateStoreUnavailable, err)
	}

	e.metricInc(MetricTOTPChallengeIssued)
	e.emitAudit(ctx, auditEventTOTPChallengeIssued, true, userID, client, "", nil)
	return &TotpRequired{TempToken: token}, nil
}

func (e *Engine) issueSession(ctx context.Context, userID string, rememberMe bool, client ClientInfo) (*SessionIssued, error) {
	ttl := e.sessionTTL(rememberMe)
	sess, err := session.New(userID, ttl, rememberMe)
	if err != nil {
		return nil, fmt.Errorf("mint session: %w", err)
	}
	sess = sess.WithClientInfo(client.UserAgent, client.IPAddress)

	if err := e.sessions.Save(ctx, sess, ttl); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrStateStoreUnavailable, err)
	}

	e.metricInc(MetricSessionCreated)
	e.emitAudit(ctx, auditEventSessionCreated, true, userID, client, "", nil)
	return &SessionIssued{
		SessionID: sess.SessionID,
		ExpiresAt: sess.ExpiresAt,
	}, nil
}
