package oauth

// Provider is the closed set of federated login providers. Adding a
// provider means adding a constant and its default endpoints here.
type Provider string

const (
	ProviderGoogle Provider = "google"
	ProviderGitHub Provider = "github"
)

func (p Provider) Valid() bool {
	switch p {
	case ProviderGoogle, ProviderGitHub:
		return true
	}
	return false
}

func (p Provider) String() string {
	return string(p)
}

// Endpoints are the provider URLs a flow touches. EmailsURL is only set
// for providers that need a secondary call to resolve a verified address.
type Endpoints struct {
	AuthURL     string
	TokenURL    string
	UserInfoURL string
	EmailsURL   string
}

// Credentials are the per-provider OAuth app settings from process
// configuration.
type Credentials struct {
	ClientID     string
	ClientSecret string
	RedirectURI  string
}

// ProviderConfig is everything needed to run one provider's flow,
// carried as data rather than behavior.
type ProviderConfig struct {
	Provider    Provider
	Credentials Credentials
	Endpoints   Endpoints
	Scopes      []string
}

// DefaultEndpoints returns the production endpoints for a provider.
func DefaultEndpoints(p Provider) Endpoints {
	switch p {
	case ProviderGoogle:
		return Endpoints{
			AuthURL:     "https://accounts.google.com/o/oauth2/v2/auth",
			TokenURL:    "https://oauth2.googleapis.com/token",
			UserInfoURL: "https://openidconnect.googleapis.com/v1/userinfo",
		}
	case ProviderGitHub:
		return Endpoints{
			AuthURL:     "https://github.com/login/oauth/authorize",
			TokenURL:    "https://github.com/login/oauth/access_token",
			UserInfoURL: "https://api.github.com/user",
			EmailsURL:   "https://api.github.com/user/emails",
		}
	}
	return Endpoints{}
}

// DefaultScopes returns the scopes each provider flow requests.
func DefaultScopes(p Provider) []string {
	switch p {
	case ProviderGoogle:
		return []string{"openid", "email", "profile"}
	case ProviderGitHub:
		return []string{"read:user", "user:email"}
	}
	return nil
}
