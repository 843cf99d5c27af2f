package authcore

import (
	"context"
	"time"

	"github.com/kuzunoha/authcore/oauth"
)

// UserRecord is the minimal account view this core needs. The backing
// store owns everything else about a user.
type UserRecord struct {
	UserID       string
	Email        string
	Handle       string
	DisplayName  string
	ProfileImage string
}

// TOTPState is the second-factor material attached to a user record,
// mutated only through the engine. A non-nil state with a nil EnabledAt
// is a provisional secret awaiting its confirming code.
type TOTPState struct {
	Secret           []byte
	EnabledAt        *time.Time
	BackupCodeHashes [][32]byte
}

// Enabled reports whether the second factor is active.
func (s *TOTPState) Enabled() bool {
	return s != nil && s.EnabledAt != nil && len(s.Secret) > 0
}

// NewOAuthUser is the input for creating a local account from a federated
// identity.
type NewOAuthUser struct {
	Provider       oauth.Provider
	ProviderUserID string
	Email          string
	DisplayName    string
	Handle         string
	ProfileImage   string
}

// UserStore is the collaborator contract the host application implements.
//
// Find methods return (nil, nil) on a miss. CreateUserWithHandle and
// LinkOAuthIdentity must be backed by unique constraints on
// (provider, provider_user_id) and handle, surfacing violations as
// ErrIdentityConflict and ErrHandleTaken respectively; the constraint is
// the final arbiter under concurrent callbacks. ConsumeBackupCode must
// remove the matching hash atomically and report whether it was present,
// so a backup code can never be accepted twice. Any other failure should
// be returned as-is and is treated as store unavailability.
type UserStore interface {
	GetUserByID(ctx context.Context, userID string) (UserRecord, error)
	FindByVerifiedEmail(ctx context.Context, email string) (*UserRecord, error)
	FindByProviderIdentity(ctx context.Context, provider oauth.Provider, providerUserID string) (*UserRecord, error)
	CreateUserWithHandle(ctx context.Context, input NewOAuthUser) (UserRecord, error)
	LinkOAuthIdentity(ctx context.Context, userID string, provider oauth.Provider, providerUserID string) error
	GetCredentialHash(ctx context.Context, userID string) (string, error)
	GetTOTPState(ctx context.Context, userID string) (*TOTPState, error)
	SetTOTPState(ctx context.Context, userID string, state *TOTPState) error
	ConsumeBackupCode(ctx context.Context, userID string, hash [32]byte) (bool, error)
}

// ClientInfo is the observed request metadata threaded into sessions,
// challenges, and audit events.
type ClientInfo struct {
	UserAgent string
	IPAddress string
}

// LoginRequest is the password login input.
type LoginRequest struct {
	Email      string
	Password   string
	RememberMe bool
	Client     ClientInfo
}

// SessionIssued is the terminal success shape of every login path.
type SessionIssued struct {
	SessionID string
	ExpiresAt time.Time
}

// TotpRequired is returned instead of a session when the resolved user
// has an active second factor. The temp token is explicitly not a
// session and authorizes nothing but the completion call.
type TotpRequired struct {
	TempToken string
}

// PendingSignup is returned when a federated identity has no local
// account and no handle was supplied.
type PendingSignup struct {
	PendingToken string
	Email        string
	DisplayName  string
}

// LoginResult is the password-path outcome: exactly one field is set.
type LoginResult struct {
	Session      *SessionIssued
	TotpRequired *TotpRequired
}

// OAuthLoginResult is the OAuth-path outcome: exactly one of Session,
// TotpRequired, PendingSignup is set.
type OAuthLoginResult struct {
	Session       *SessionIssued
	TotpRequired  *TotpRequired
	PendingSignup *PendingSignup
	IsNewUser     bool
}

// TOTPSetup is returned by SetupTOTP for provisioning an authenticator.
type TOTPSetup struct {
	SecretBase32 string
	URI          string
}

// TotpEnabled carries the plaintext backup codes. They are returned
// exactly once and are unrecoverable afterward.
type TotpEnabled struct {
	BackupCodes []string
}

// TotpStatus reports second-factor state without revealing code values.
type TotpStatus struct {
	Enabled              bool
	EnabledAt            *time.Time
	BackupCodesRemaining int
}
