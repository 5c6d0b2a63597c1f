package identity

import (
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base64"
	"math/big"
	"strings"

	"github.com/google/uuid"
)

// HashPassword returns "salt:digest" where the digest is the base64-encoded
// SHA-256 of password+salt. Each call uses a fresh random salt, so two
// hashes of the same password differ.
func HashPassword(password string) string {
	salt := uuid.NewString()
	sum := sha256.Sum256([]byte(password + salt))
	return salt + ":" + base64.StdEncoding.EncodeToString(sum[:])
}

// VerifyPassword recomputes the digest for the stored salt and compares it
// in constant time.
func VerifyPassword(password, stored string) bool {
	salt, digest, ok := strings.Cut(stored, ":")
	if !ok || salt == "" || digest == "" {
		return false
	}
	sum := sha256.Sum256([]byte(password + salt))
	computed := base64.StdEncoding.EncodeToString(sum[:])
	return subtle.ConstantTimeCompare([]byte(computed), []byte(digest)) == 1
}

const tempPasswordAlphabet = "abcdefghijklmnopqrstuvwxyz0123456789"

// TemporaryPassword generates a short one-time password for admin-issued
// resets. The caller must surface it exactly once and never persist it.
func TemporaryPassword() string {
	var b strings.Builder
	b.WriteString("Temp_")
	max := big.NewInt(int64(len(tempPasswordAlphabet)))
	for i := 0; i < 8; i++ {
		n, err := rand.Int(rand.Reader, max)
		if err != nil {
			// crypto/rand only fails when the platform source is broken.
			panic(err)
		}
		b.WriteByte(tempPasswordAlphabet[n.Int64()])
	}
	return b.String()
}
