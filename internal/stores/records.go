package stores

// Key prefixes for the ephemeral record families. Kept in one place so
// operators can reason about the Redis keyspace.
const (
	OAuthStatePrefix    = "oauth:state:"
	PendingSignupPrefix = "oauth:pending:"
	TotpChallengePrefix = "totp:temp:"
)

// OAuthState binds a CSRF state value to the PKCE verifier generated
// alongside it. Consumed exactly once during callback handling.
type OAuthState struct {
	PKCEVerifier string `json:"pkce_verifier"`
}

// PendingSignup captures a provider identity that has no local account
// yet, parked until the caller supplies a handle.
type PendingSignup struct {
	Provider       string `json:"provider"`
	ProviderUserID string `json:"provider_user_id"`
	Email          string `json:"email"`
	DisplayName    string `json:"display_name"`
	ProfileImage   string `json:"profile_image,omitempty"`
	RememberMe     bool   `json:"remember_me"`
}

// TotpChallenge represents a caller who has proven a first factor but not
// yet the second. It is deliberately not a session; the bound user stays
// unauthenticated until the challenge is answered.
type TotpChallenge struct {
	UserID     string `json:"user_id"`
	RememberMe bool   `json:"remember_me"`
	UserAgent  string `json:"user_agent,omitempty"`
	IPAddress  string `json:"ip_address,omitempty"`
}
