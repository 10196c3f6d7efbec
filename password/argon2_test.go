package password

import (
	"errors"
	"strings"
	"sync"
	"testing"
)

// cheap keeps argon2 fast enough for unit tests while staying above the
// enforced cost floors.
func cheap() Config {
	return Config{
		Memory:      minMemoryKB,
		Time:        1,
		Parallelism: 1,
		SaltLength:  16,
		KeyLength:   32,
	}
}

func newHasher(t *testing.T, mutate ...func(*Config)) *Argon2 {
	t.Helper()
	cfg := cheap()
	for _, m := range mutate {
		m(&cfg)
	}
	h, err := NewArgon2(cfg)
	if err != nil {
		t.Fatalf("NewArgon2: %v", err)
	}
	return h
}

func TestHasherContract(t *testing.T) {
	var h Hasher = newHasher(t)
	const userPassword = "correct horse battery"

	encoded, err := h.Hash(userPassword)
	if err != nil {
		t.Fatalf("Hash: %v", err)
	}
	if !strings.HasPrefix(encoded, "$argon2id$v=19$m=8192,t=1,p=1$") {
		t.Fatalf("unexpected PHC prefix: %s", encoded)
	}
	if strings.Contains(encoded, userPassword) {
		t.Fatal("encoded hash leaks the password")
	}

	ok, err := h.Verify(userPassword, encoded)
	if err != nil || !ok {
		t.Fatalf("Verify(correct) = %v, %v", ok, err)
	}
	ok, err = h.Verify("correct horse battery!", encoded)
	if err != nil || ok {
		t.Fatalf("Verify(wrong) = %v, %v; a mismatch is (false, nil)", ok, err)
	}

	again, err := h.Hash(userPassword)
	if err != nil {
		t.Fatalf("Hash: %v", err)
	}
	if again == encoded {
		t.Fatal("two hashes of one password share a salt")
	}
}

func TestPasswordLengthLimits(t *testing.T) {
	h := newHasher(t, func(c *Config) { c.MaxPasswordBytes = 24 })
	stored, err := h.Hash(strings.Repeat("a", 24))
	if err != nil {
		t.Fatalf("Hash at limit: %v", err)
	}

	cases := []struct {
		name     string
		password string
		hashErr  error
	}{
		{"empty", "", ErrPasswordTooShort},
		{"nine bytes", "123456789", ErrPasswordTooShort},
		{"ten bytes", "1234567890", nil},
		{"at limit", strings.Repeat("a", 24), nil},
		{"one over limit", strings.Repeat("a", 25), ErrPasswordTooLong},
		// Limits count bytes: 9 runes of 3 bytes each is 27 bytes.
		{"multibyte over limit", strings.Repeat("€", 9), ErrPasswordTooLong},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := h.Hash(tc.password)
			if !errors.Is(err, tc.hashErr) {
				t.Fatalf("Hash(%d bytes) error = %v, want %v", len(tc.password), err, tc.hashErr)
			}
		})
	}

	// Verify rejects oversized input before hashing.
	if _, err := h.Verify(strings.Repeat("a", 25), stored); !errors.Is(err, ErrPasswordTooLong) {
		t.Fatalf("Verify over limit: expected ErrPasswordTooLong, got %v", err)
	}
}

func TestDefaultMaxPasswordBytes(t *testing.T) {
	h := newHasher(t)
	if h.config.MaxPasswordBytes != DefaultMaxPasswordBytes {
		t.Fatalf("MaxPasswordBytes = %d, want default %d", h.config.MaxPasswordBytes, DefaultMaxPasswordBytes)
	}
	if _, err := h.Hash(strings.Repeat("x", DefaultMaxPasswordBytes)); err != nil {
		t.Fatalf("Hash at default limit: %v", err)
	}
	if _, err := h.Hash(strings.Repeat("x", DefaultMaxPasswordBytes+1)); !errors.Is(err, ErrPasswordTooLong) {
		t.Fatalf("expected ErrPasswordTooLong above default limit, got %v", err)
	}
}

func TestNewArgon2RejectsWeakConfig(t *testing.T) {
	cases := map[string]func(*Config){
		"memory below floor":  func(c *Config) { c.Memory = minMemoryKB - 1 },
		"zero time":           func(c *Config) { c.Time = 0 },
		"zero parallelism":    func(c *Config) { c.Parallelism = 0 },
		"short salt":          func(c *Config) { c.SaltLength = 8 },
		"short key":           func(c *Config) { c.KeyLength = 8 },
		"negative max bytes":  func(c *Config) { c.MaxPasswordBytes = -1 },
		"max below min bytes": func(c *Config) { c.MaxPasswordBytes = 9 },
	}
	for name, mutate := range cases {
		cfg := cheap()
		mutate(&cfg)
		if _, err := NewArgon2(cfg); err == nil {
			t.Fatalf("%s: expected NewArgon2 to fail", name)
		}
	}
}

func TestUpgraderTracksCostChanges(t *testing.T) {
	old := newHasher(t)
	stored, err := old.Hash("correct horse battery")
	if err != nil {
		t.Fatalf("Hash: %v", err)
	}

	var up Upgrader = old
	if stale, err := up.NeedsUpgrade(stored); err != nil || stale {
		t.Fatalf("same parameters reported stale=%v err=%v", stale, err)
	}

	cases := map[string]func(*Config){
		"more memory":      func(c *Config) { c.Memory = 2 * minMemoryKB },
		"more passes":      func(c *Config) { c.Time = 2 },
		"more lanes":       func(c *Config) { c.Parallelism = 2 },
		"other key length": func(c *Config) { c.KeyLength = 64 },
	}
	for name, mutate := range cases {
		stronger := newHasher(t, mutate)
		stale, err := stronger.NeedsUpgrade(stored)
		if err != nil || !stale {
			t.Fatalf("%s: stale=%v err=%v, want true", name, stale, err)
		}
		// The old hash keeps verifying until it is replaced.
		if ok, err := stronger.Verify("correct horse battery", stored); err != nil || !ok {
			t.Fatalf("%s: old hash no longer verifies: %v %v", name, ok, err)
		}
	}

	weaker := newHasher(t, func(c *Config) { c.Memory = minMemoryKB })
	if stale, _ := weaker.NeedsUpgrade(stored); stale {
		t.Fatal("equal or weaker parameters must not trigger a rehash")
	}
}

func TestVerifyRejectsMalformedHashes(t *testing.T) {
	h := newHasher(t)
	good, err := h.Hash("correct horse battery")
	if err != nil {
		t.Fatalf("Hash: %v", err)
	}
	parts := strings.Split(good, "$")

	cases := map[string]string{
		"empty":             "",
		"bcrypt":            "$2a$10$abcdefghijklmnopqrstuu",
		"argon2i":           strings.Replace(good, "argon2id", "argon2i", 1),
		"future version":    strings.Replace(good, "v=19", "v=20", 1),
		"missing params":    strings.Join([]string{"", parts[1], parts[2], parts[4], parts[5]}, "$"),
		"unknown param":     strings.Replace(good, "p=1", "q=1", 1),
		"salt not base64":   strings.Join([]string{"", parts[1], parts[2], parts[3], "!!!", parts[5]}, "$"),
		"empty digest":      strings.Join([]string{"", parts[1], parts[2], parts[3], parts[4], ""}, "$"),
		"extra separator":   good + "$",
		"zero memory param": strings.Replace(good, "m=8192", "m=0", 1),
	}
	for name, encoded := range cases {
		if ok, err := h.Verify("correct horse battery", encoded); err == nil || ok {
			t.Fatalf("%s: Verify = %v, %v; want error", name, ok, err)
		}
		if _, err := h.NeedsUpgrade(encoded); err == nil {
			t.Fatalf("%s: NeedsUpgrade accepted malformed hash", name)
		}
	}
}

func TestHasherConcurrentUse(t *testing.T) {
	h := newHasher(t)
	var wg sync.WaitGroup
	errs := make(chan error, 8)
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			pw := strings.Repeat(string(rune('a'+i)), 12)
			encoded, err := h.Hash(pw)
			if err != nil {
				errs <- err
				return
			}
			if ok, err := h.Verify(pw, encoded); err != nil || !ok {
				errs <- errors.New("round trip failed for " + pw)
			}
		}(i)
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		t.Fatal(err)
	}
}
