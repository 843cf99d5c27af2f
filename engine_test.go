package authcore

import (
	"context"
	"encoding/base32"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	"github.com/kuzunoha/authcore/oauth"
	"github.com/kuzunoha/authcore/password"
)

func newTestRedis(t *testing.T) (*miniredis.Miniredis, *redis.Client) {
	t.Helper()

	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis.Run failed: %v", err)
	}

	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	return mr, client
}

// fastHashConfig keeps argon2 cheap so login tests stay quick.
func fastHashConfig() password.Config {
	return password.Config{
		Memory:      8 * 1024,
		Time:        1,
		Parallelism: 1,
		SaltLength:  16,
		KeyLength:   32,
	}
}

func loginTestConfig() Config {
	cfg := defaultConfig()
	cfg.Password = fastHashConfig()
	cfg.Audit.Enabled = false
	return cfg
}

func newLoginEngine(t *testing.T, cfg Config, users UserStore) (*Engine, *miniredis.Miniredis, func()) {
	t.Helper()

	mr, rdb := newTestRedis(t)

	engine, err := New().
		WithConfig(cfg).
		WithRedis(rdb).
		WithUserStore(users).
		Build()
	if err != nil {
		mr.Close()
		t.Fatalf("Build failed: %v", err)
	}

	return engine, mr, func() {
		engine.Close()
		mr.Close()
	}
}

// mockUserStore is an in-memory UserStore with the same uniqueness
// guarantees a relational schema would give.
type mockUserStore struct {
	mu         sync.Mutex
	nextID     int
	users      map[string]UserRecord
	byEmail    map[string]string
	identities map[string]string
	creds      map[string]string
	totp       map[string]*TOTPState
	handles    map[string]bool
}

func newMockUserStore() *mockUserStore {
	return &mockUserStore{
		users:      map[string]UserRecord{},
		byEmail:    map[string]string{},
		identities: map[string]string{},
		creds:      map[string]string{},
		totp:       map[string]*TOTPState{},
		handles:    map[string]bool{},
	}
}

func identityKey(provider oauth.Provider, providerUserID string) string {
	return string(provider) + "/" + providerUserID
}

// addPasswordUser seeds an account with a hashed credential.
func (m *mockUserStore) addPasswordUser(t *testing.T, email, handle, plaintext string, cfg password.Config) string {
	t.Helper()

	hasher, err := password.NewHasher(cfg)
	if err != nil {
		t.Fatalf("NewHasher failed: %v", err)
	}
	encoded, err := hasher.Hash(plaintext)
	if err != nil {
		t.Fatalf("Hash failed: %v", err)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.nextID++
	id := fmt.Sprintf("u%d", m.nextID)
	m.users[id] = UserRecord{UserID: id, Email: email, Handle: handle}
	m.byEmail[email] = id
	m.handles[handle] = true
	m.creds[id] = encoded
	return id
}

func (m *mockUserStore) GetUserByID(_ context.Context, userID string) (UserRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.users[userID]
	if !ok {
		return UserRecord{}, fmt.Errorf("no such user %s", userID)
	}
	return u, nil
}

func (m *mockUserStore) FindByVerifiedEmail(_ context.Context, email string) (*UserRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	id, ok := m.byEmail[email]
	if !ok {
		return nil, nil
	}
	u := m.users[id]
	return &u, nil
}

func (m *mockUserStore) FindByProviderIdentity(_ context.Context, provider oauth.Provider, providerUserID string) (*UserRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	id, ok := m.identities[identityKey(provider, providerUserID)]
	if !ok {
		return nil, nil
	}
	u := m.users[id]
	return &u, nil
}

func (m *mockUserStore) CreateUserWithHandle(_ context.Context, input NewOAuthUser) (UserRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.handles[input.Handle] {
		return UserRecord{}, ErrHandleTaken
	}
	key := identityKey(input.Provider, input.ProviderUserID)
	if _, exists := m.identities[key]; exists {
		return UserRecord{}, ErrIdentityConflict
	}

	m.nextID++
	id := fmt.Sprintf("u%d", m.nextID)
	record := UserRecord{
		UserID:       id,
		Email:        input.Email,
		Handle:       input.Handle,
		DisplayName:  input.DisplayName,
		ProfileImage: input.ProfileImage,
	}
	m.users[id] = record
	if input.Email != "" {
		m.byEmail[input.Email] = id
	}
	m.handles[input.Handle] = true
	m.identities[key] = id
	return record, nil
}

func (m *mockUserStore) LinkOAuthIdentity(_ context.Context, userID string, provider oauth.Provider, providerUserID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	key := identityKey(provider, providerUserID)
	if existing, ok := m.identities[key]; ok && existing != userID {
		return ErrIdentityConflict
	}
	m.identities[key] = userID
	return nil
}

func (m *mockUserStore) GetCredentialHash(_ context.Context, userID string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.creds[userID], nil
}

func (m *mockUserStore) GetTOTPState(_ context.Context, userID string) (*TOTPState, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	state, ok := m.totp[userID]
	if !ok || state == nil {
		return nil, nil
	}
	clone := &TOTPState{
		Secret:           append([]byte(nil), state.Secret...),
		BackupCodeHashes: append([][32]byte(nil), state.BackupCodeHashes...),
	}
	if state.EnabledAt != nil {
		at := *state.EnabledAt
		clone.EnabledAt = &at
	}
	return clone, nil
}

func (m *mockUserStore) SetTOTPState(_ context.Context, userID string, state *TOTPState) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if state == nil {
		delete(m.totp, userID)
		return nil
	}
	m.totp[userID] = state
	return nil
}

func (m *mockUserStore) ConsumeBackupCode(_ context.Context, userID string, hash [32]byte) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	state, ok := m.totp[userID]
	if !ok || state == nil {
		return false, nil
	}
	for i, h := range state.BackupCodeHashes {
		if h == hash {
			state.BackupCodeHashes = append(state.BackupCodeHashes[:i], state.BackupCodeHashes[i+1:]...)
			return true, nil
		}
	}
	return false, nil
}

func codeForNow(t *testing.T, secretBase32 string, cfg TOTPConfig) string {
	t.Helper()
	return codeForOffset(t, secretBase32, cfg, 0)
}

func codeForOffset(t *testing.T, secretBase32 string, cfg TOTPConfig, offset int64) string {
	t.Helper()

	key, err := base32.StdEncoding.WithPadding(base32.NoPadding).DecodeString(strings.ToUpper(secretBase32))
	if err != nil {
		t.Fatalf("decode secret failed: %v", err)
	}
	counter := (time.Now().Unix() / int64(cfg.Period)) + offset
	return hotpCode(key, counter, cfg.Digits)
}

// enrollTOTP walks a user through setup and enable, returning the base32
// secret and the plaintext backup codes.
func enrollTOTP(t *testing.T, engine *Engine, userID string) (string, []string) {
	t.Helper()

	setup, err := engine.SetupTOTP(context.Background(), userID)
	if err != nil {
		t.Fatalf("SetupTOTP failed: %v", err)
	}

	enabled, err := engine.EnableTOTP(context.Background(), userID, codeForNow(t, setup.SecretBase32, engine.config.TOTP))
	if err != nil {
		t.Fatalf("EnableTOTP failed: %v", err)
	}
	return setup.SecretBase32, enabled.BackupCodes
}
