package authcore

import (
	"context"
	"crypto/sha256"
	"fmt"
	"time"

	"github.com/kuzunoha/authcore/internal"
)

// SetupTOTP provisions a fresh shared secret for a user and returns the
// otpauth URI to encode into a QR code. The secret is stored provisionally
// and does nothing until EnableTOTP confirms it with a valid code. Calling
// setup again before confirmation replaces the provisional secret; calling
// it once the factor is active returns ErrTOTPAlreadyEnabled.
func (e *Engine) SetupTOTP(ctx context.Context, userID string) (*TOTPSetup, error) {
	if e == nil || e.users == nil {
		return nil, ErrEngineNotReady
	}

	state, err := e.users.GetTOTPState(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUserStoreUnavailable, err)
	}
	if state.Enabled() {
		return nil, ErrTOTPAlreadyEnabled
	}

	user, err := e.users.GetUserByID(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUserStoreUnavailable, err)
	}

	secret, secretBase32, err := e.totp.GenerateSecret()
	if err != nil {
		return nil, fmt.Errorf("generate totp secret: %w", err)
	}

	provisional := &TOTPState{Secret: secret}
	if err := e.users.SetTOTPState(ctx, userID, provisional); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUserStoreUnavailable, err)
	}

	e.emitAudit(ctx, auditEventTOTPSetupRequested, true, userID, ClientInfo{}, "", nil)
	return &TOTPSetup{
		SecretBase32: secretBase32,
		URI:          e.totp.ProvisionURI(secretBase32, user.Email),
	}, nil
}

// EnableTOTP confirms the provisional secret with a code from the
// authenticator and activates the second factor. The returned backup
// codes are shown exactly once; only their hashes are retained. Every
// existing session for the user is revoked so current sessions cannot
// outlive the security upgrade.
func (e *Engine) EnableTOTP(ctx context.Context, userID, code string) (*TotpEnabled, error) {
	if e == nil || e.users == nil {
		return nil, ErrEngineNotReady
	}

	state, err := e.users.GetTOTPState(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUserStoreUnavailable, err)
	}
	if state.Enabled() {
		return nil, ErrTOTPAlreadyEnabled
	}
	if state == nil || len(state.Secret) == 0 {
		return nil, ErrTOTPNotConfigured
	}

	ok, err := e.totp.VerifyCode(state.Secret, code, time.Now())
	if err != nil {
		return nil, fmt.Errorf("totp verify: %w", err)
	}
	if !ok {
		return nil, ErrTOTPCodeInvalid
	}

	plaintext, hashes, err := e.generateBackupCodes()
	if err != nil {
		return nil, err
	}

	now := time.Now()
	state.EnabledAt = &now
	state.BackupCodeHashes = hashes
	if err := e.users.SetTOTPState(ctx, userID, state); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUserStoreUnavailable, err)
	}

	if _, err := e.sessions.DeleteAllForUser(ctx, userID); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrStateStoreUnavailable, err)
	}

	e.emitAudit(ctx, auditEventTOTPEnabled, true, userID, ClientInfo{}, "", nil)
	return &TotpEnabled{BackupCodes: plaintext}, nil
}

// DisableTOTP turns the second factor off. It demands a currently valid
// code or backup code first, then wipes the secret and all backup-code
// hashes and revokes the user's sessions.
func (e *Engine) DisableTOTP(ctx context.Context, userID, code string) error {
	if e == nil || e.users == nil {
		return ErrEngineNotReady
	}

	state, err := e.users.GetTOTPState(ctx, userID)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrUserStoreUnavailable, err)
	}
	if !state.Enabled() {
		return ErrTOTPNotConfigured
	}

	if err := e.verifyTOTPForUser(ctx, userID, code); err != nil {
		return err
	}

	if err := e.users.SetTOTPState(ctx, userID, nil); err != nil {
		return fmt.Errorf("%w: %v", ErrUserStoreUnavailable, err)
	}
	if _, err := e.sessions.DeleteAllForUser(ctx, userID); err != nil {
		return fmt.Errorf("%w: %v", ErrStateStoreUnavailable, err)
	}

	e.emitAudit(ctx, auditEventTOTPDisabled, true, userID, ClientInfo{}, "", nil)
	return nil
}

// RegenerateBackupCodes discards every stored backup-code hash and issues
// a fresh set. A valid time-based code is required; a backup code is not
// accepted here, so a stolen recovery code cannot mint replacements.
func (e *Engine) RegenerateBackupCodes(ctx context.Context, userID, code string) (*TotpEnabled, error) {
	if e == nil || e.users == nil {
		return nil, ErrEngineNotReady
	}

	state, err := e.users.GetTOTPState(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUserStoreUnavailable, err)
	}
	if !state.Enabled() {
		return nil, ErrTOTPNotConfigured
	}

	ok, err := e.totp.VerifyCode(state.Secret, code, time.Now())
	if err != nil {
		return nil, fmt.Errorf("totp verify: %w", err)
	}
	if !ok {
		return nil, ErrTOTPCodeInvalid
	}

	plaintext, hashes, err := e.generateBackupCodes()
	if err != nil {
		return nil, err
	}

	state.BackupCodeHashes = hashes
	if err := e.users.SetTOTPState(ctx, userID, state); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUserStoreUnavailable, err)
	}

	e.metricInc(MetricBackupCodesRegenerated)
	e.emitAudit(ctx, auditEventBackupCodesRegenerated, true, userID, ClientInfo{}, "", nil)
	return &TotpEnabled{BackupCodes: plaintext}, nil
}

// TOTPStatus reports the second-factor state without revealing any code
// material.
func (e *Engine) TOTPStatus(ctx context.Context, userID string) (*TotpStatus, error) {
	if e == nil || e.users == nil {
		return nil, ErrEngineNotReady
	}

	state, err := e.users.GetTOTPState(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUserStoreUnavailable, err)
	}
	if !state.Enabled() {
		return &TotpStatus{}, nil
	}

	return &TotpStatus{
		Enabled:              true,
		EnabledAt:            state.EnabledAt,
		BackupCodesRemaining: len(state.BackupCodeHashes),
	}, nil
}

// verifyTOTPForUser accepts either the current time-based code or one
// stored backup code. A backup code match consumes it atomically in the
// user store so the same code can never pass twice, even under
// concurrent attempts.
func (e *Engine) verifyTOTPForUser(ctx context.Context, userID, code string) error {
	state, err := e.users.GetTOTPState(ctx, userID)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrUserStoreUnavailable, err)
	}
	if !state.Enabled() {
		return ErrTOTPNotConfigured
	}

	if len(code) == e.config.TOTP.Digits && isNumericString(code) {
		ok, err := e.totp.VerifyCode(state.Secret, code, time.Now())
		if err != nil {
			return fmt.Errorf("totp verify: %w", err)
		}
		if ok {
			return nil
		}
		return ErrTOTPCodeInvalid
	}

	if len(code) >= 6 && len(code) <= 8 {
		consumed, err := e.users.ConsumeBackupCode(ctx, userID, hashBackupCode(code))
		if err != nil {
			return fmt.Errorf("%w: %v", ErrUserStoreUnavailable, err)
		}
		if consumed {
			e.metricInc(MetricBackupCodeUsed)
			return nil
		}
	}

	return ErrTOTPCodeInvalid
}

func (e *Engine) generateBackupCodes() ([]string, [][32]byte, error) {
	count := e.config.TOTP.BackupCodeCount
	plaintext := make([]string, 0, count)
	hashes := make([][32]byte, 0, count)
	for i := 0; i < count; i++ {
		c, err := internal.NewBackupCode(e.config.TOTP.BackupCodeLength)
		if err != nil {
			return nil, nil, fmt.Errorf("generate backup code: %w", err)
		}
		plaintext = append(plaintext, c)
		hashes = append(hashes, hashBackupCode(c))
	}
	return plaintext, hashes, nil
}

// hashBackupCode normalizes case before hashing so codes transcribed in
// lowercase still match.
func hashBackupCode(code string) [32]byte {
	return sha256.Sum256([]byte(normalizeBackupCode(code)))
}

func normalizeBackupCode(code string) string {
	b := make([]byte, 0, len(code))
	for i := 0; i < len(code); i++ {
		ch := code[i]
		if ch >= 'a' && ch <= 'z' {
			ch -= 'a' - 'A'
		}
		b = append(b, ch)
	}
	return string(b)
}
