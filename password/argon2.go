package password

import (
	"crypto/rand"
	"crypto/subtle"
	"encoding/base64"
	"errors"
	"fmt"
	"strings"

	"golang.org/x/crypto/argon2"
)

// Cost floors. Configs and stored hashes below them are rejected.
const (
	minMemoryKB    uint32 = 8 * 1024
	minTimeCost    uint32 = 1
	minParallelism uint8  = 1
	minSaltLength  uint32 = 16
	minKeyLength   uint32 = 16
	minPassBytes          = 10

	// DefaultMaxPasswordBytes bounds hashing cost when Config leaves
	// MaxPasswordBytes zero.
	DefaultMaxPasswordBytes = 1024
)

var (
	// ErrPasswordTooShort is returned by Hash for inputs under ten bytes.
	ErrPasswordTooShort = errors.New("password must be at least 10 bytes")
	// ErrPasswordTooLong is returned by Hash and Verify for oversized input.
	ErrPasswordTooLong = errors.New("password exceeds maximum length")
	// ErrMalformedHash wraps every PHC decoding failure.
	ErrMalformedHash = errors.New("malformed password hash")
)

// Config holds argon2id cost parameters. Memory is in KiB.
type Config struct {
	Memory           uint32
	Time             uint32
	Parallelism      uint8
	SaltLength       uint32
	KeyLength        uint32
	MaxPasswordBytes int
}

// DefaultConfig returns the parameters used for user passwords.
func DefaultConfig() Config {
	return Config{
		Memory:           64 * 1024,
		Time:             3,
		Parallelism:      2,
		SaltLength:       16,
		KeyLength:        32,
		MaxPasswordBytes: DefaultMaxPasswordBytes,
	}
}

func (c Config) validate() error {
	switch {
	case c.Memory < minMemoryKB:
		return fmt.Errorf("password memory must be >= %d KiB", minMemoryKB)
	case c.Time < minTimeCost:
		return errors.New("password time must be >= 1")
	case c.Parallelism < minParallelism:
		return errors.New("password parallelism must be >= 1")
	case c.SaltLength < minSaltLength:
		return fmt.Errorf("password salt length must be >= %d", minSaltLength)
	case c.KeyLength < minKeyLength:
		return fmt.Errorf("password key length must be >= %d", minKeyLength)
	case c.MaxPasswordBytes < 0, c.MaxPasswordBytes > 0 && c.MaxPasswordBytes < minPassBytes:
		return fmt.Errorf("password max bytes must be >= %d", minPassBytes)
	}
	return nil
}

// Hasher is what the user service needs from a password primitive.
type Hasher interface {
	Hash(password string) (string, error)
	Verify(password, encodedHash string) (bool, error)
}

// Upgrader is implemented by hashers that can tell when a stored hash was
// produced with weaker parameters than they currently use.
type Upgrader interface {
	NeedsUpgrade(encodedHash string) (bool, error)
}

// Argon2 is an argon2id Hasher producing PHC strings. Safe for concurrent use.
type Argon2 struct {
	config Config
}

var (
	_ Hasher   = (*Argon2)(nil)
	_ Upgrader = (*Argon2)(nil)
)

// NewArgon2 validates cfg against minimum cost floors.
func NewArgon2(cfg Config) (*Argon2, error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	if cfg.MaxPasswordBytes == 0 {
		cfg.MaxPasswordBytes = DefaultMaxPasswordBytes
	}
	return &Argon2{config: cfg}, nil
}

// Hash returns a PHC-encoded argon2id hash with a fresh random salt. Raw
// bytes are hashed as given, without Unicode normalization.
func (a *Argon2) Hash(password string) (string, error) {
	switch {
	case len(password) < minPassBytes:
		return "", ErrPasswordTooShort
	case len(password) > a.config.MaxPasswordBytes:
		return "", ErrPasswordTooLong
	}

	h := phc{
		memory:  a.config.Memory,
		time:    a.config.Time,
		threads: a.config.Parallelism,
		salt:    make([]byte, a.config.SaltLength),
	}
	if _, err := rand.Read(h.salt); err != nil {
		return "", fmt.Errorf("password salt: %w", err)
	}
	h.digest = h.derive(password, a.config.KeyLength)
	return h.String(), nil
}

// Verify reports whether password matches encodedHash, using the cost
// parameters recorded in the hash. A malformed hash is an error wrapping
// ErrMalformedHash; a mismatch is (false, nil).
func (a *Argon2) Verify(password, encodedHash string) (bool, error) {
	if len(password) > a.config.MaxPasswordBytes {
		return false, ErrPasswordTooLong
	}
	h, err := parsePHC(encodedHash)
	if err != nil {
		return false, err
	}
	computed := h.derive(password, uint32(len(h.digest)))
	return subtle.ConstantTimeCompare(computed, h.digest) == 1, nil
}

// NeedsUpgrade reports whether encodedHash was produced with weaker
// parameters, or a different key length, than the current config.
func (a *Argon2) NeedsUpgrade(encodedHash string) (bool, error) {
	h, err := parsePHC(encodedHash)
	if err != nil {
		return false, err
	}
	return h.memory < a.config.Memory ||
		h.time < a.config.Time ||
		h.threads < a.config.Parallelism ||
		uint32(len(h.digest)) != a.config.KeyLength, nil
}

// phc is a decoded argon2id string:
//
//	$argon2id$v=19$m=<KiB>,t=<passes>,p=<lanes>$<salt>$<digest>
//
// Salt and digest use unpadded standard base64.
type phc struct {
	memory  uint32
	time    uint32
	threads uint8
	salt    []byte
	digest  []byte
}

const phcAlgorithm = "argon2id"

var b64 = base64.RawStdEncoding

func (h phc) derive(password string, keyLen uint32) []byte {
	return argon2.IDKey([]byte(password), h.salt, h.time, h.memory, h.threads, keyLen)
}

func (h phc) params() string {
	return fmt.Sprintf("m=%d,t=%d,p=%d", h.memory, h.time, h.threads)
}

func (h phc) String() string {
	return fmt.Sprintf("$%s$v=%d$%s$%s$%s",
		phcAlgorithm, argon2.Version, h.params(), b64.EncodeToString(h.salt), b64.EncodeToString(h.digest))
}

func malformed(format string, args ...any) error {
	return fmt.Errorf("%w: "+format, append([]any{ErrMalformedHash}, args...)...)
}

// parsePHC accepts only the canonical form String produces.
func parsePHC(encoded string) (phc, error) {
	fields := strings.Split(encoded, "$")
	if len(fields) != 6 || fields[0] != "" {
		return phc{}, malformed("want 5 fields")
	}
	if fields[1] != phcAlgorithm {
		return phc{}, malformed("algorithm %q", fields[1])
	}
	if fields[2] != fmt.Sprintf("v=%d", argon2.Version) {
		return phc{}, malformed("version %q", fields[2])
	}

	var h phc
	if _, err := fmt.Sscanf(fields[3], "m=%d,t=%d,p=%d", &h.memory, &h.time, &h.threads); err != nil {
		return phc{}, malformed("parameters %q", fields[3])
	}
	if h.params() != fields[3] {
		return phc{}, malformed("parameters %q not canonical", fields[3])
	}
	if h.memory < minMemoryKB || h.time < minTimeCost || h.threads < minParallelism {
		return phc{}, malformed("parameters %q below floor", fields[3])
	}

	var err error
	if h.salt, err = b64.DecodeString(fields[4]); err != nil || len(h.salt) < int(minSaltLength) {
		return phc{}, malformed("salt")
	}
	if h.digest, err = b64.DecodeString(fields[5]); err != nil || len(h.digest) < int(minKeyLength) {
		return phc{}, malformed("digest")
	}
	return h, nil
}
