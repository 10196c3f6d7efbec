package encryption

import (
	"context"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"errors"
	"fmt"
	"io"
	"strings"

	"golang.org/x/crypto/chacha20poly1305"
	"golang.org/x/crypto/hkdf"

	"github.com/MrEthical07/goIdentity/eventstore"
)

// KeySize is the length of every root key.
const KeySize = 32

// blobVersion prefixes every sealed payload and is covered by the AAD.
const blobVersion byte = 0x01

var hkdfInfoPrefix = "identity.event.v1:"

var (
	// ErrMalformed is returned for truncated blobs or unknown versions.
	ErrMalformed = errors.New("encryption: malformed ciphertext")
	// ErrUnknownKey is returned when a blob names a key not in the ring.
	ErrUnknownKey = errors.New("encryption: unknown key id")
	// ErrAuthentication is returned when AEAD open fails.
	ErrAuthentication = errors.New("encryption: authentication failed")
)

// Keyring seals payloads under the active root key.
type Keyring struct {
	keys        map[string][]byte
	activeKeyID string
}

var _ eventstore.Encryptor = (*Keyring)(nil)

// NewKeyring validates keys and the active key id. Key ids are at most 255
// bytes.
func NewKeyring(keys map[string][]byte, activeKeyID string) (*Keyring, error) {
	if len(keys) == 0 {
		return nil, errors.New("encryption keys are required")
	}
	activeKeyID = strings.TrimSpace(activeKeyID)
	if activeKeyID == "" {
		return nil, errors.New("active key id is required")
	}
	owned := make(map[string][]byte, len(keys))
	for id, key := range keys {
		if strings.TrimSpace(id) == "" || len(id) > 255 {
			return nil, fmt.Errorf("invalid key id %q", id)
		}
		if len(key) != KeySize {
			return nil, fmt.Errorf("key %q must be %d bytes, got %d", id, KeySize, len(key))
		}
		owned[id] = append([]byte(nil), key...)
	}
	if _, ok := owned[activeKeyID]; !ok {
		return nil, errors.New("active key id is not configured")
	}
	return &Keyring{keys: owned, activeKeyID: activeKeyID}, nil
}

// GenerateKey returns a fresh random root key.
func GenerateKey() ([]byte, error) {
	key := make([]byte, KeySize)
	if _, err := io.ReadFull(rand.Reader, key); err != nil {
		return nil, fmt.Errorf("generate key: %w", err)
	}
	return key, nil
}

// ActiveKeyID returns the id new blobs are sealed under.
func (k *Keyring) ActiveKeyID() string { return k.activeKeyID }

// Encrypt seals plaintext for scope. Layout:
//
//	[version:1][kidLen:1][kid][nonce:24][ciphertext+tag]
func (k *Keyring) Encrypt(_ context.Context, plaintext []byte, scope string) ([]byte, error) {
	aead, err := k.aead(k.activeKeyID, scope)
	if err != nil {
		return nil, err
	}

	kid := k.activeKeyID
	header := 2 + len(kid)
	out := make([]byte, header+chacha20poly1305.NonceSizeX, header+chacha20poly1305.NonceSizeX+len(plaintext)+aead.Overhead())
	out[0] = blobVersion
	out[1] = byte(len(kid))
	copy(out[2:], kid)
	nonce := out[header : header+chacha20poly1305.NonceSizeX]
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return nil, fmt.Errorf("generate nonce: %w", err)
	}

	return aead.Seal(out, nonce, plaintext, buildAAD(kid, scope)), nil
}

// Decrypt opens a blob produced by Encrypt for the same scope.
func (k *Keyring) Decrypt(_ context.Context, ciphertext []byte, scope string) ([]byte, error) {
	if len(ciphertext) < 2 || ciphertext[0] != blobVersion {
		return nil, ErrMalformed
	}
	kidLen := int(ciphertext[1])
	header := 2 + kidLen
	if len(ciphertext) < header+chacha20poly1305.NonceSizeX+chacha20poly1305.Overhead {
		return nil, ErrMalformed
	}
	kid := string(ciphertext[2:header])

	aead, err := k.aead(kid, scope)
	if err != nil {
		return nil, err
	}
	nonce := ciphertext[header : header+chacha20poly1305.NonceSizeX]
	body := ciphertext[header+chacha20poly1305.NonceSizeX:]

	plaintext, err := aead.Open(nil, nonce, body, buildAAD(kid, scope))
	if err != nil {
		return nil, ErrAuthentication
	}
	return plaintext, nil
}

func (k *Keyring) aead(kid, scope string) (cipher.AEAD, error) {
	root, ok := k.keys[kid]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownKey, kid)
	}
	key, err := deriveScopeKey(root, scope)
	if err != nil {
		return nil, err
	}
	aead, err := chacha20poly1305.NewX(key)
	if err != nil {
		return nil, fmt.Errorf("create xchacha20-poly1305: %w", err)
	}
	return aead, nil
}

func deriveScopeKey(root []byte, scope string) ([]byte, error) {
	if scope == "" {
		return nil, errors.New("encryption scope is required")
	}
	reader := hkdf.New(sha256.New, root, nil, []byte(hkdfInfoPrefix+scope))
	key := make([]byte, KeySize)
	if _, err := io.ReadFull(reader, key); err != nil {
		return nil, fmt.Errorf("derive scope key: %w", err)
	}
	return key, nil
}

func buildAAD(kid, scope string) []byte {
	aad := make([]byte, 0, 2+len(kid)+len(scope))
	aad = append(aad, blobVersion, byte(len(kid)))
	aad = append(aad, kid...)
	return append(aad, scope...)
}
