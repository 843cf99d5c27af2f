package authcore

import "errors"

var (
	// ErrInvalidCredentials is returned when an email/password pair does
	// not match a stored credential.
	ErrInvalidCredentials = errors.New("invalid credentials")
	// ErrUserNotFound is returned when a referenced user does not exist.
	ErrUserNotFound = errors.New("user not found")
	// ErrPasswordNotSet is returned when a password login targets an
	// account that only has federated identities.
	ErrPasswordNotSet = errors.New("account has no password credential")

	// ErrAuthStateInvalid is returned when an OAuth callback carries a
	// state that is expired, already consumed, or never issued. The flow
	// must restart from the authorize step.
	ErrAuthStateInvalid = errors.New("oauth state invalid")
	// ErrProviderExchangeFailed is returned when the token endpoint call
	// fails or returns a malformed response.
	ErrProviderExchangeFailed = errors.New("provider code exchange failed")
	// ErrProviderUserInfoFailed is returned when the provider profile
	// cannot be retrieved or decoded.
	ErrProviderUserInfoFailed = errors.New("provider user info fetch failed")
	// ErrNoVerifiedEmail is returned when the provider account exposes no
	// verified primary email.
	ErrNoVerifiedEmail = errors.New("provider account has no verified email")
	// ErrProviderUnknown is returned for a provider outside the
	// configured set.
	ErrProviderUnknown = errors.New("unknown oauth provider")

	// ErrPendingSignupExpired is returned when a pending-signup token is
	// expired or already completed.
	ErrPendingSignupExpired = errors.New("pending signup expired or already used")
	// ErrHandleRequired is returned when signup completion is attempted
	// without a handle.
	ErrHandleRequired = errors.New("handle required to complete signup")
	// ErrHandleTaken is returned when the requested handle collides with
	// an existing user.
	ErrHandleTaken = errors.New("handle already taken")
	// ErrIdentityConflict is returned when a resolved provider identity
	// collides with a different account, typically a lost creation race.
	// Safe to retry the whole flow.
	ErrIdentityConflict = errors.New("oauth identity conflict")

	// ErrTotpTempTokenExpired is returned when a login challenge token is
	// expired or already consumed.
	ErrTotpTempTokenExpired = errors.New("totp temp token expired or already used")
	// ErrTOTPCodeInvalid is returned for a code that matches neither the
	// current time window nor a remaining backup code.
	ErrTOTPCodeInvalid = errors.New("invalid totp code")
	// ErrTOTPNotConfigured is returned when a TOTP operation targets an
	// account without a (provisional or active) secret.
	ErrTOTPNotConfigured = errors.New("totp not configured")
	// ErrTOTPAlreadyEnabled is returned when setup is requested for an
	// account that already has an active second factor.
	ErrTOTPAlreadyEnabled = errors.New("totp already enabled")

	// ErrSessionNotFound is returned on a session validation miss.
	ErrSessionNotFound = errors.New("session not found")

	// ErrStateStoreUnavailable is returned when the ephemeral state
	// backend is unreachable. Retryable by restarting the flow.
	ErrStateStoreUnavailable = errors.New("state store unavailable")
	// ErrUserStoreUnavailable is returned when the user store fails for
	// reasons other than a miss or a constraint violation.
	ErrUserStoreUnavailable = errors.New("user store unavailable")

	// ErrEngineNotReady is returned when an engine method is called on an
	// incompletely built engine.
	ErrEngineNotReady = errors.New("engine not initialized")
)
