package encryption

import (
	"bytes"
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"io"

	"filippo.io/age"

	"github.com/MrEthical07/goIdentity/eventstore"
)

// maxAgePlaintext bounds how much a single Decrypt will read.
const maxAgePlaintext = 64 << 20

// ErrScopeMismatch is returned when an age blob was sealed for another
// stream.
var ErrScopeMismatch = errors.New("encryption: scope mismatch")

// AgeSealer encrypts to age X25519 recipients. Decrypt needs at least one
// identity; a sealer built without identities is write-only.
//
// age has no associated data, so the scope is framed inside the sealed
// plaintext and compared on open.
type AgeSealer struct {
	recipients []age.Recipient
	identities []age.Identity
}

var _ eventstore.Encryptor = (*AgeSealer)(nil)

// NewAgeSealer parses age1... recipients and AGE-SECRET-KEY-1... identities.
func NewAgeSealer(recipientKeys, identityKeys []string) (*AgeSealer, error) {
	if len(recipientKeys) == 0 {
		return nil, errors.New("at least one recipient is required")
	}
	s := &AgeSealer{}
	for _, key := range recipientKeys {
		r, err := age.ParseX25519Recipient(key)
		if err != nil {
			return nil, fmt.Errorf("parse recipient: %w", err)
		}
		s.recipients = append(s.recipients, r)
	}
	for _, key := range identityKeys {
		id, err := age.ParseX25519Identity(key)
		if err != nil {
			return nil, errors.New("parse identity: invalid age secret key")
		}
		s.identities = append(s.identities, id)
	}
	return s, nil
}

// GenerateAgeIdentity returns a new identity and its recipient string.
func GenerateAgeIdentity() (identity string, recipient string, err error) {
	id, err := age.GenerateX25519Identity()
	if err != nil {
		return "", "", fmt.Errorf("generate age identity: %w", err)
	}
	return id.String(), id.Recipient().String(), nil
}

func (s *AgeSealer) Encrypt(_ context.Context, plaintext []byte, scope string) ([]byte, error) {
	if scope == "" {
		return nil, errors.New("encryption scope is required")
	}
	var out bytes.Buffer
	w, err := age.Encrypt(&out, s.recipients...)
	if err != nil {
		return nil, fmt.Errorf("create age encryptor: %w", err)
	}
	var lenBuf [binary.MaxVarintLen64]byte
	n := binary.PutUvarint(lenBuf[:], uint64(len(scope)))
	for _, chunk := range [][]byte{lenBuf[:n], []byte(scope), plaintext} {
		if _, err := w.Write(chunk); err != nil {
			return nil, fmt.Errorf("write age payload: %w", err)
		}
	}
	if err := w.Close(); err != nil {
		return nil, fmt.Errorf("finalize age payload: %w", err)
	}
	return out.Bytes(), nil
}

func (s *AgeSealer) Decrypt(_ context.Context, ciphertext []byte, scope string) ([]byte, error) {
	if len(s.identities) == 0 {
		return nil, errors.New("age sealer has no identities")
	}
	r, err := age.Decrypt(bytes.NewReader(ciphertext), s.identities...)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrAuthentication, err)
	}
	framed, err := io.ReadAll(io.LimitReader(r, maxAgePlaintext+1))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrAuthentication, err)
	}
	if len(framed) > maxAgePlaintext {
		return nil, ErrMalformed
	}

	scopeLen, n := binary.Uvarint(framed)
	if n <= 0 || uint64(len(framed)-n) < scopeLen {
		return nil, ErrMalformed
	}
	sealedScope := string(framed[n : n+int(scopeLen)])
	if sealedScope != scope {
		return nil, ErrScopeMismatch
	}
	return framed[n+int(scopeLen):], nil
}
