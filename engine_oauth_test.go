package authcore

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sync"
	"testing"

	"github.com/kuzunoha/authcore/oauth"
)

// fakeProvider is an in-process OAuth provider covering the token and
// user-info endpoints.
type fakeProvider struct {
	server   *httptest.Server
	provider oauth.Provider

	mu             sync.Mutex
	exchangeCalls  int
	lastVerifier   string
	profile        map[string]any
	emails         []map[string]any
	rejectExchange bool
}

func newFakeProvider(t *testing.T, p oauth.Provider) *fakeProvider {
	t.Helper()

	fp := &fakeProvider{provider: p}
	mux := http.NewServeMux()
	mux.HandleFunc("/token", fp.handleToken)
	mux.HandleFunc("/userinfo", fp.handleUserInfo)
	mux.HandleFunc("/emails", fp.handleEmails)
	fp.server = httptest.NewServer(mux)
	t.Cleanup(fp.server.Close)
	return fp
}

func (fp *fakeProvider) endpoints() oauth.Endpoints {
	return oauth.Endpoints{
		AuthURL:     fp.server.URL + "/authorize",
		TokenURL:    fp.server.URL + "/token",
		UserInfoURL: fp.server.URL + "/userinfo",
		EmailsURL:   fp.server.URL + "/emails",
	}
}

func (fp *fakeProvider) handleToken(w http.ResponseWriter, r *http.Request) {
	fp.mu.Lock()
	defer fp.mu.Unlock()

	if err := r.ParseForm(); err != nil {
		http.Error(w, "bad form", http.StatusBadRequest)
		return
	}
	fp.exchangeCalls++
	fp.lastVerifier = r.PostFormValue("code_verifier")

	if fp.rejectExchange || r.PostFormValue("code") != "good-code" {
		http.Error(w, `{"error":"bad_verification_code"}`, http.StatusBadRequest)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]string{"access_token": "provider-token"})
}

func (fp *fakeProvider) handleUserInfo(w http.ResponseWriter, r *http.Request) {
	fp.mu.Lock()
	defer fp.mu.Unlock()

	if r.Header.Get("Authorization") != "Bearer provider-token" {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(fp.profile)
}

func (fp *fakeProvider) handleEmails(w http.ResponseWriter, r *http.Request) {
	fp.mu.Lock()
	defer fp.mu.Unlock()

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(fp.emails)
}

func oauthTestConfig(fp *fakeProvider) Config {
	cfg := loginTestConfig()
	creds := ProviderCredentials{
		ClientID:     "client-id",
		ClientSecret: "client-secret",
		RedirectURI:  "https://app.example.com/callback",
	}
	switch fp.provider {
	case oauth.ProviderGoogle:
		cfg.OAuth.Google = creds
	case oauth.ProviderGitHub:
		cfg.OAuth.GitHub = creds
	}
	cfg.OAuth.Endpoints = map[oauth.Provider]oauth.Endpoints{
		fp.provider: fp.endpoints(),
	}
	return cfg
}

func beginFlow(t *testing.T, engine *Engine, p oauth.Provider) string {
	t.Helper()

	auth, err := engine.BeginOAuthLogin(context.Background(), p)
	if err != nil {
		t.Fatalf("BeginOAuthLogin failed: %v", err)
	}
	parsed, err := url.Parse(auth.AuthorizeURL)
	if err != nil {
		t.Fatalf("authorize URL unparseable: %v", err)
	}
	q := parsed.Query()
	if q.Get("state") != auth.State {
		t.Fatal("state mismatch between result and authorize URL")
	}
	if q.Get("code_challenge") == "" || q.Get("code_challenge_method") != "S256" {
		t.Fatal("expected PKCE challenge in authorize URL")
	}
	return auth.State
}

func TestOAuthLoginExistingIdentity(t *testing.T) {
	fp := newFakeProvider(t, oauth.ProviderGitHub)
	fp.profile = map[string]any{"id": 9001, "login": "bob", "email": "bob@example.com"}

	users := newMockUserStore()
	seeded, err := users.CreateUserWithHandle(context.Background(), NewOAuthUser{
		Provider:       oauth.ProviderGitHub,
		ProviderUserID: "9001",
		Email:          "bob@example.com",
		Handle:         "bob",
	})
	if err != nil {
		t.Fatalf("seed user failed: %v", err)
	}

	engine, _, done := newLoginEngine(t, oauthTestConfig(fp), users)
	defer done()

	state := beginFlow(t, engine, oauth.ProviderGitHub)

	result, err := engine.CompleteOAuthLogin(context.Background(), OAuthCallback{
		Provider: oauth.ProviderGitHub,
		Code:     "good-code",
		State:    state,
	})
	if err != nil {
		t.Fatalf("CompleteOAuthLogin failed: %v", err)
	}
	if result.Session == nil || result.IsNewUser {
		t.Fatalf("expected existing-user session, got %+v", result)
	}

	resolved, err := engine.ValidateSession(context.Background(), result.Session.SessionID)
	if err != nil || resolved != seeded.UserID {
		t.Fatalf("session resolves to %s err=%v", resolved, err)
	}
}

func TestOAuthStateSingleUse(t *testing.T) {
	fp := newFakeProvider(t, oauth.ProviderGitHub)
	fp.profile = map[string]any{"id": 9001, "login": "bob", "email": "bob@example.com"}

	users := newMockUserStore()
	if _, err := users.CreateUserWithHandle(context.Background(), NewOAuthUser{
		Provider:       oauth.ProviderGitHub,
		ProviderUserID: "9001",
		Email:          "bob@example.com",
		Handle:         "bob",
	}); err != nil {
		t.Fatalf("seed user failed: %v", err)
	}

	engine, _, done := newLoginEngine(t, oauthTestConfig(fp), users)
	defer done()

	state := beginFlow(t, engine, oauth.ProviderGitHub)

	if _, err := engine.CompleteOAuthLogin(context.Background(), OAuthCallback{
		Provider: oauth.ProviderGitHub,
		Code:     "good-code",
		State:    state,
	}); err != nil {
		t.Fatalf("first callback failed: %v", err)
	}

	_, err := engine.CompleteOAuthLogin(context.Background(), OAuthCallback{
		Provider: oauth.ProviderGitHub,
		Code:     "good-code",
		State:    state,
	})
	if !errors.Is(err, ErrAuthStateInvalid) {
		t.Fatalf("expected ErrAuthStateInvalid on replay, got %v", err)
	}

	// The replay never reached the provider.
	fp.mu.Lock()
	defer fp.mu.Unlock()
	if fp.exchangeCalls != 1 {
		t.Fatalf("expected one exchange call, got %d", fp.exchangeCalls)
	}
}

func TestOAuthConcurrentCallbacksOneWinner(t *testing.T) {
	fp := newFakeProvider(t, oauth.ProviderGitHub)
	fp.profile = map[string]any{"id": 9001, "login": "bob", "email": "bob@example.com"}

	users := newMockUserStore()
	if _, err := users.CreateUserWithHandle(context.Background(), NewOAuthUser{
		Provider:       oauth.ProviderGitHub,
		ProviderUserID: "9001",
		Email:          "bob@example.com",
		Handle:         "bob",
	}); err != nil {
		t.Fatalf("seed user failed: %v", err)
	}

	engine, _, done := newLoginEngine(t, oauthTestConfig(fp), users)
	defer done()

	state := beginFlow(t, engine, oauth.ProviderGitHub)

	const racers = 8
	var wg sync.WaitGroup
	errs := make([]error, racers)
	for i := 0; i < racers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = engine.CompleteOAuthLogin(context.Background(), OAuthCallback{
				Provider: oauth.ProviderGitHub,
				Code:     "good-code",
				State:    state,
			})
		}(i)
	}
	wg.Wait()

	winners := 0
	for _, err := range errs {
		switch {
		case err == nil:
			winners++
		case errors.Is(err, ErrAuthStateInvalid):
		default:
			t.Fatalf("unexpected error: %v", err)
		}
	}
	if winners != 1 {
		t.Fatalf("expected exactly one winner, got %d", winners)
	}
}

func TestOAuthExchangeSendsStoredVerifier(t *testing.T) {
	fp := newFakeProvider(t, oauth.ProviderGitHub)
	fp.profile = map[string]any{"id": 9001, "login": "bob", "email": "bob@example.com"}

	users := newMockUserStore()
	if _, err := users.CreateUserWithHandle(context.Background(), NewOAuthUser{
		Provider:       oauth.ProviderGitHub,
		ProviderUserID: "9001",
		Email:          "bob@example.com",
		Handle:         "bob",
	}); err != nil {
		t.Fatalf("seed user failed: %v", err)
	}

	engine, _, done := newLoginEngine(t, oauthTestConfig(fp), users)
	defer done()

	state := beginFlow(t, engine, oauth.ProviderGitHub)

	if _, err := engine.CompleteOAuthLogin(context.Background(), OAuthCallback{
		Provider: oauth.ProviderGitHub,
		Code:     "good-code",
		State:    state,
	}); err != nil {
		t.Fatalf("CompleteOAuthLogin failed: %v", err)
	}

	fp.mu.Lock()
	defer fp.mu.Unlock()
	if fp.lastVerifier == "" {
		t.Fatal("expected code_verifier in token exchange")
	}
	if oauth.CodeChallenge(fp.lastVerifier) == "" {
		t.Fatal("verifier should be challengeable")
	}
}

func TestOAuthVerifiedEmailAutoLinks(t *testing.T) {
	fp := newFakeProvider(t, oauth.ProviderGoogle)
	fp.profile = map[string]any{
		"sub":            "google-sub-1",
		"email":          "alice@example.com",
		"email_verified": true,
		"name":           "Alice",
	}

	cfg := oauthTestConfig(fp)
	users := newMockUserStore()
	userID := users.addPasswordUser(t, "alice@example.com", "alice", "correct-password-123", cfg.Password)

	engine, _, done := newLoginEngine(t, cfg, users)
	defer done()

	state := beginFlow(t, engine, oauth.ProviderGoogle)

	result, err := engine.CompleteOAuthLogin(context.Background(), OAuthCallback{
		Provider: oauth.ProviderGoogle,
		Code:     "good-code",
		State:    state,
	})
	if err != nil {
		t.Fatalf("CompleteOAuthLogin failed: %v", err)
	}
	if result.Session == nil || result.IsNewUser {
		t.Fatalf("expected linked existing-user session, got %+v", result)
	}

	// The identity is now linked; a second login resolves without the
	// email fallback.
	linked, err := users.FindByProviderIdentity(context.Background(), oauth.ProviderGoogle, "google-sub-1")
	if err != nil || linked == nil || linked.UserID != userID {
		t.Fatalf("expected identity linked to %s, got %+v err=%v", userID, linked, err)
	}
}

func TestOAuthNewIdentityNoHandleParksPendingSignup(t *testing.T) {
	fp := newFakeProvider(t, oauth.ProviderGitHub)
	fp.profile = map[string]any{"id": 4242, "login": "newcomer", "name": "New Comer", "email": "new@example.com"}

	engine, mr, done := newLoginEngine(t, oauthTestConfig(fp), newMockUserStore())
	defer done()

	state := beginFlow(t, engine, oauth.ProviderGitHub)

	result, err := engine.CompleteOAuthLogin(context.Background(), OAuthCallback{
		Provider: oauth.ProviderGitHub,
		Code:     "good-code",
		State:    state,
	})
	if err != nil {
		t.Fatalf("CompleteOAuthLogin failed: %v", err)
	}
	if result.Session != nil || result.TotpRequired != nil {
		t.Fatalf("expected pending signup only, got %+v", result)
	}
	pending := result.PendingSignup
	if pending == nil || pending.PendingToken == "" {
		t.Fatal("expected a pending token")
	}
	if pending.Email != "new@example.com" || pending.DisplayName != "New Comer" {
		t.Fatalf("pending fields wrong: %+v", pending)
	}
	if !mr.Exists("oauth:pending:" + pending.PendingToken) {
		t.Fatal("expected pending record in redis")
	}
}

func TestCompleteSignupCreatesExactlyOneUser(t *testing.T) {
	fp := newFakeProvider(t, oauth.ProviderGitHub)
	fp.profile = map[string]any{"id": 4242, "login": "newcomer", "email": "new@example.com"}

	users := newMockUserStore()
	engine, _, done := newLoginEngine(t, oauthTestConfig(fp), users)
	defer done()

	state := beginFlow(t, engine, oauth.ProviderGitHub)
	result, err := engine.CompleteOAuthLogin(context.Background(), OAuthCallback{
		Provider: oauth.ProviderGitHub,
		Code:     "good-code",
		State:    state,
	})
	if err != nil {
		t.Fatalf("CompleteOAuthLogin failed: %v", err)
	}
	token := result.PendingSignup.PendingToken

	completed, err := engine.CompleteSignup(context.Background(), token, "newcomer", ClientInfo{})
	if err != nil {
		t.Fatalf("CompleteSignup failed: %v", err)
	}
	if completed.Session == nil || !completed.IsNewUser {
		t.Fatalf("expected new-user session, got %+v", completed)
	}

	// The token died with the first completion.
	_, err = engine.CompleteSignup(context.Background(), token, "newcomer2", ClientInfo{})
	if !errors.Is(err, ErrPendingSignupExpired) {
		t.Fatalf("expected ErrPendingSignupExpired on reuse, got %v", err)
	}

	users.mu.Lock()
	defer users.mu.Unlock()
	if len(users.users) != 1 {
		t.Fatalf("expected exactly one user, got %d", len(users.users))
	}
}

func TestCompleteSignupRequiresHandle(t *testing.T) {
	fp := newFakeProvider(t, oauth.ProviderGitHub)
	engine, _, done := newLoginEngine(t, oauthTestConfig(fp), newMockUserStore())
	defer done()

	_, err := engine.CompleteSignup(context.Background(), "whatever", "", ClientInfo{})
	if !errors.Is(err, ErrHandleRequired) {
		t.Fatalf("expected ErrHandleRequired, got %v", err)
	}
}

func TestCompleteSignupTakenHandle(t *testing.T) {
	fp := newFakeProvider(t, oauth.ProviderGitHub)
	fp.profile = map[string]any{"id": 4242, "login": "newcomer", "email": "new@example.com"}

	users := newMockUserStore()
	users.addPasswordUser(t, "alice@example.com", "alice", "pw-123456789", fastHashConfig())

	engine, _, done := newLoginEngine(t, oauthTestConfig(fp), users)
	defer done()

	state := beginFlow(t, engine, oauth.ProviderGitHub)
	result, err := engine.CompleteOAuthLogin(context.Background(), OAuthCallback{
		Provider: oauth.ProviderGitHub,
		Code:     "good-code",
		State:    state,
	})
	if err != nil {
		t.Fatalf("CompleteOAuthLogin failed: %v", err)
	}

	_, err = engine.CompleteSignup(context.Background(), result.PendingSignup.PendingToken, "alice", ClientInfo{})
	if !errors.Is(err, ErrHandleTaken) {
		t.Fatalf("expected ErrHandleTaken, got %v", err)
	}
}

func TestOAuthGitHubSecondaryEmailLookup(t *testing.T) {
	fp := newFakeProvider(t, oauth.ProviderGitHub)
	// Profile hides the email; the /emails endpoint carries it.
	fp.profile = map[string]any{"id": 7, "login": "ghost"}
	fp.emails = []map[string]any{
		{"email": "secondary@example.com", "primary": false, "verified": true},
		{"email": "ghost@example.com", "primary": true, "verified": true},
	}

	engine, _, done := newLoginEngine(t, oauthTestConfig(fp), newMockUserStore())
	defer done()

	state := beginFlow(t, engine, oauth.ProviderGitHub)
	result, err := engine.CompleteOAuthLogin(context.Background(), OAuthCallback{
		Provider: oauth.ProviderGitHub,
		Code:     "good-code",
		State:    state,
	})
	if err != nil {
		t.Fatalf("CompleteOAuthLogin failed: %v", err)
	}
	if result.PendingSignup == nil || result.PendingSignup.Email != "ghost@example.com" {
		t.Fatalf("expected primary verified email, got %+v", result.PendingSignup)
	}
}

func TestOAuthExchangeFailureSurfaces(t *testing.T) {
	fp := newFakeProvider(t, oauth.ProviderGitHub)
	fp.rejectExchange = true

	engine, _, done := newLoginEngine(t, oauthTestConfig(fp), newMockUserStore())
	defer done()

	state := beginFlow(t, engine, oauth.ProviderGitHub)

	_, err := engine.CompleteOAuthLogin(context.Background(), OAuthCallback{
		Provider: oauth.ProviderGitHub,
		Code:     "good-code",
		State:    state,
	})
	if !errors.Is(err, ErrProviderExchangeFailed) {
		t.Fatalf("expected ErrProviderExchangeFailed, got %v", err)
	}

	// A failed exchange still burned the state.
	_, err = engine.CompleteOAuthLogin(context.Background(), OAuthCallback{
		Provider: oauth.ProviderGitHub,
		Code:     "good-code",
		State:    state,
	})
	if !errors.Is(err, ErrAuthStateInvalid) {
		t.Fatalf("expected ErrAuthStateInvalid after burned state, got %v", err)
	}
}

func TestOAuthUnknownProvider(t *testing.T) {
	fp := newFakeProvider(t, oauth.ProviderGitHub)
	engine, _, done := newLoginEngine(t, oauthTestConfig(fp), newMockUserStore())
	defer done()

	_, err := engine.BeginOAuthLogin(context.Background(), oauth.Provider("gitlab"))
	if !errors.Is(err, ErrProviderUnknown) {
		t.Fatalf("expected ErrProviderUnknown, got %v", err)
	}
}

func TestOAuthStateExpiry(t *testing.T) {
	fp := newFakeProvider(t, oauth.ProviderGitHub)
	fp.profile = map[string]any{"id": 9001, "login": "bob", "email": "bob@example.com"}

	engine, mr, done := newLoginEngine(t, oauthTestConfig(fp), newMockUserStore())
	defer done()

	state := beginFlow(t, engine, oauth.ProviderGitHub)

	mr.FastForward(engine.config.OAuth.StateTTL * 2)

	_, err := engine.CompleteOAuthLogin(context.Background(), OAuthCallback{
		Provider: oauth.ProviderGitHub,
		Code:     "good-code",
		State:    state,
	})
	if !errors.Is(err, ErrAuthStateInvalid) {
		t.Fatalf("expected ErrAuthStateInvalid after expiry, got %v", err)
	}
}

func TestOAuthTOTPGate(t *testing.T) {
	fp := newFakeProvider(t, oauth.ProviderGitHub)
	fp.profile = map[string]any{"id": 9001, "login": "bob", "email": "bob@example.com"}

	cfg := oauthTestConfig(fp)
	users := newMockUserStore()
	userID := users.addPasswordUser(t, "bob@example.com", "bob", "pw-123456789", cfg.Password)
	if err := users.LinkOAuthIdentity(context.Background(), userID, oauth.ProviderGitHub, "9001"); err != nil {
		t.Fatalf("link failed: %v", err)
	}

	engine, _, done := newLoginEngine(t, cfg, users)
	defer done()

	secret, _ := enrollTOTP(t, engine, userID)

	state := beginFlow(t, engine, oauth.ProviderGitHub)
	result, err := engine.CompleteOAuthLogin(context.Background(), OAuthCallback{
		Provider: oauth.ProviderGitHub,
		Code:     "good-code",
		State:    state,
	})
	if err != nil {
		t.Fatalf("CompleteOAuthLogin failed: %v", err)
	}
	if result.Session != nil || result.TotpRequired == nil {
		t.Fatalf("expected totp gate, got %+v", result)
	}

	issued, err := engine.CompleteTOTPLogin(context.Background(), result.TotpRequired.TempToken, codeForNow(t, secret, cfg.TOTP))
	if err != nil {
		t.Fatalf("CompleteTOTPLogin failed: %v", err)
	}
	resolved, err := engine.ValidateSession(context.Background(), issued.SessionID)
	if err != nil || resolved != userID {
		t.Fatalf("session resolves to %s err=%v", resolved, err)
	}
}
