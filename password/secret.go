package password

import (
	"crypto/rand"
	"crypto/subtle"
	"encoding/hex"
	"fmt"

	"github.com/zeebo/blake3"
)

// SecretBytes is the entropy of a generated agent secret.
const SecretBytes = 32

// GenerateSecret returns a random secret and its hex form.
func GenerateSecret() ([]byte, string, error) {
	raw := make([]byte, SecretBytes)
	if _, err := rand.Read(raw); err != nil {
		return nil, "", fmt.Errorf("generate secret: %w", err)
	}
	return raw, hex.EncodeToString(raw), nil
}

// HashSecret digests a high-entropy secret. Only use it for random
// values; user passwords go through Argon2.
func HashSecret(secret []byte) []byte {
	sum := blake3.Sum256(secret)
	return sum[:]
}

// VerifySecret compares secret against digest in constant time.
func VerifySecret(secret, digest []byte) bool {
	sum := blake3.Sum256(secret)
	return subtle.ConstantTimeCompare(sum[:], digest) == 1
}

// Fingerprint returns a short printable digest prefix for logs and errors.
func Fingerprint(value string) string {
	sum := blake3.Sum256([]byte(value))
	return hex.EncodeToString(sum[:4])
}
