package internal

import (
	"crypto/rand"
	"encoding/hex"
	"math/big"
	"strings"
)

// backupCodeCharset matches the recovery-code alphabet shown to users:
// uppercase letters and digits only, no ambiguous lowercase.
const backupCodeCharset = "ABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"

const tempTokenBytes = 32

// NewTempToken returns a 256-bit hex token for partially authenticated
// login challenges.
func NewTempToken() (string, error) {
	raw := make([]byte, tempTokenBytes)
	if _, err := rand.Read(raw); err != nil {
		return "", err
	}
	return hex.EncodeToString(raw), nil
}

// NewBackupCode returns a single recovery code of the given length drawn
// from crypto/rand.
func NewBackupCode(length int) (string, error) {
	var b strings.Builder
	b.Grow(length)

	max := big.NewInt(int64(len(backupCodeCharset)))
	for i := 0; i < length; i++ {
		n, err := rand.Int(rand.Reader, max)
		if err != nil {
			return "", err
		}
		b.WriteByte(backupCodeCharset[n.Int64()])
	}
	return b.String(), nil
}
