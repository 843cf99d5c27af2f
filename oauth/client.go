package oauth

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"
)

// ErrExchangeFailed covers any failure turning an authorization code into
// an access token: transport errors, non-200 responses, malformed bodies.
var ErrExchangeFailed = errors.New("oauth token exchange failed")

// ErrUserInfoFailed covers failures retrieving or decoding the provider
// profile.
var ErrUserInfoFailed = errors.New("oauth user info fetch failed")

// ErrNoVerifiedEmail is returned when a provider account has no verified
// primary email to key the local identity on.
var ErrNoVerifiedEmail = errors.New("no verified primary email on provider account")

const defaultTimeout = 10 * time.Second

const userAgent = "authcore"

// UserInfo is the normalized provider profile every provider variant
// reduces to.
type UserInfo struct {
	Provider       Provider
	ProviderUserID string
	Email          string
	DisplayName    string
	ProfileImage   string
}

// Client performs the outbound provider HTTP calls. All calls are single
// attempt with a bounded timeout; retry policy belongs to the caller, who
// restarts the flow.
type Client struct {
	http *http.Client
}

func NewClient(timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	return &Client{
		http: &http.Client{Timeout: timeout},
	}
}

// AuthorizeURL builds the provider authorize URL carrying the CSRF state
// and the S256 PKCE challenge.
func (c *Client) AuthorizeURL(cfg ProviderConfig, state, challenge string) string {
	params := url.Values{}
	params.Set("client_id", cfg.Credentials.ClientID)
	params.Set("redirect_uri", cfg.Credentials.RedirectURI)
	params.Set("response_type", "code")
	params.Set("scope", strings.Join(cfg.Scopes, " "))
	params.Set("state", state)
	params.Set("code_challenge", challenge)
	params.Set("code_challenge_method", "S256")

	return cfg.Endpoints.AuthURL + "?" + params.Encode()
}

// Exchange trades an authorization code (plus the PKCE verifier stored at
// authorize time) for an access token.
func (c *Client) Exchange(ctx context.Context, cfg ProviderConfig, code, verifier string) (string, error) {
	form := url.Values{}
	form.Set("grant_type", "authorization_code")
	form.Set("code", code)
	form.Set("redirect_uri", cfg.Credentials.RedirectURI)
	form.Set("client_id", cfg.Credentials.ClientID)
	form.Set("client_secret", cfg.Credentials.ClientSecret)
	form.Set("code_verifier", verifier)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, cfg.Endpoints.TokenURL, strings.NewReader(form.Encode()))
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrExchangeFailed, err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	// GitHub answers with form-encoded data unless JSON is requested.
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrExchangeFailed, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return "", fmt.Errorf("%w: status %d: %s", ErrExchangeFailed, resp.StatusCode, string(body))
	}

	var token struct {
		AccessToken string `json:"access_token"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&token); err != nil {
		return "", fmt.Errorf("%w: %v", ErrExchangeFailed, err)
	}
	if token.AccessToken == "" {
		return "", fmt.Errorf("%w: response missing access_token", ErrExchangeFailed)
	}

	return token.AccessToken, nil
}

// UserInfo retrieves the provider profile and normalizes it. For GitHub
// accounts without a public email this includes the secondary call that
// selects the primary verified address.
func (c *Client) UserInfo(ctx context.Context, cfg ProviderConfig, accessToken string) (*UserInfo, error) {
	switch cfg.Provider {
	case ProviderGoogle:
		return c.googleUserInfo(ctx, cfg, accessToken)
	case ProviderGitHub:
		return c.githubUserInfo(ctx, cfg, accessToken)
	}
	return nil, fmt.Errorf("%w: unknown provider %q", ErrUserInfoFailed, cfg.Provider)
}

func (c *Client) googleUserInfo(ctx context.Context, cfg ProviderConfig, accessToken string) (*UserInfo, error) {
	var profile struct {
		Sub           string `json:"sub"`
		Email         string `json:"email"`
		EmailVerified bool   `json:"email_verified"`
		Name          string `json:"name"`
		Picture       string `json:"picture"`
	}
	if err := c.getJSON(ctx, cfg.Endpoints.UserInfoURL, accessToken, &profile); err != nil {
		return nil, err
	}
	if profile.Sub == "" {
		return nil, fmt.Errorf("%w: response missing sub claim", ErrUserInfoFailed)
	}
	if profile.Email == "" || !profile.EmailVerified {
		return nil, ErrNoVerifiedEmail
	}

	return &UserInfo{
		Provider:       ProviderGoogle,
		ProviderUserID: profile.Sub,
		Email:          profile.Email,
		DisplayName:    profile.Name,
		ProfileImage:   profile.Picture,
	}, nil
}

func (c *Client) githubUserInfo(ctx context.Context, cfg ProviderConfig, accessToken string) (*UserInfo, error) {
	var profile struct {
		ID        int64  `json:"id"`
		Login     string `json:"login"`
		Name      string `json:"name"`
		Email     string `json:"email"`
		AvatarURL string `json:"avatar_url"`
	}
	if err := c.getJSON(ctx, cfg.Endpoints.UserInfoURL, accessToken, &profile); err != nil {
		return nil, err
	}
	if profile.ID == 0 {
		return nil, fmt.Errorf("%w: response missing user id", ErrUserInfoFailed)
	}

	displayName := profile.Name
	if displayName == "" {
		displayName = profile.Login
	}

	email := profile.Email
	if email == "" {
		primary, err := c.githubPrimaryEmail(ctx, cfg, accessToken)
		if err != nil {
			return nil, err
		}
		email = primary
	}

	return &UserInfo{
		Provider:       ProviderGitHub,
		ProviderUserID: strconv.FormatInt(profile.ID, 10),
		Email:          email,
		DisplayName:    displayName,
		ProfileImage:   profile.AvatarURL,
	}, nil
}

func (c *Client) githubPrimaryEmail(ctx context.Context, cfg ProviderConfig, accessToken string) (string, error) {
	var emails []struct {
		Email    string `json:"email"`
		Primary  bool   `json:"primary"`
		Verified bool   `json:"verified"`
	}
	if err := c.getJSON(ctx, cfg.Endpoints.EmailsURL, accessToken, &emails); err != nil {
		return "", err
	}
	for _, e := range emails {
		if e.Primary && e.Verified {
			return e.Email, nil
		}
	}
	return "", ErrNoVerifiedEmail
}

func (c *Client) getJSON(ctx context.Context, endpoint, accessToken string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrUserInfoFailed, err)
	}
	req.Header.Set("Authorization", "Bearer "+accessToken)
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", userAgent)

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrUserInfoFailed, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("%w: status %d", ErrUserInfoFailed, resp.StatusCode)
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("%w: %v", ErrUserInfoFailed, err)
	}
	return nil
}
