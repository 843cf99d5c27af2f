package authcore

import (
	"context"
	"time"

	"github.com/kuzunoha/authcore/oauth"
)

const (
	auditEventLoginSuccess           = "login_success"
	auditEventLoginFailure           = "login_failure"
	auditEventOAuthAuthorizeIssued   = "oauth_authorize_issued"
	auditEventOAuthLoginSuccess      = "oauth_login_success"
	auditEventOAuthLoginFailure      = "oauth_login_failure"
	auditEventOAuthStateInvalid      = "oauth_state_invalid"
	auditEventPendingSignupCreated   = "pending_signup_created"
	auditEventPendingSignupCompleted = "pending_signup_completed"
	auditEventIdentityLinked         = "oauth_identity_linked"
	auditEventTOTPChallengeIssued    = "totp_challenge_issued"
	auditEventTOTPLoginSuccess       = "totp_login_success"
	auditEventTOTPLoginFailure       = "totp_login_failure"
	auditEventTOTPSetupRequested     = "totp_setup_requested"
	auditEventTOTPEnabled            = "totp_enabled"
	auditEventTOTPDisabled           = "totp_disabled"
	auditEventBackupCodesRegenerated = "backup_codes_regenerated"
	auditEventSessionCreated         = "session_created"
	auditEventLogout                 = "logout"
)

func (e *Engine) emitAudit(ctx context.Context, eventType string, success bool, userID string, client ClientInfo, provider oauth.Provider, cause error) {
	if e == nil || e.audit == nil {
		return
	}

	event := AuditEvent{
		Timestamp: time.Now().UTC(),
		EventType: eventType,
		UserID:    userID,
		Provider:  provider.String(),
		IP:        client.IPAddress,
		UserAgent: client.UserAgent,
		Success:   success,
	}
	if cause != nil {
		event.Error = cause.Error()
	}

	e.audit.Emit(ctx, event)
}
