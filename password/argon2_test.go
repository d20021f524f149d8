package password

import (
	"errors"
	"strings"
	"testing"

	"golang.org/x/crypto/bcrypt"
)

func testConfig() Config {
	return Config{
		Memory:      8 * 1024,
		Time:        1,
		Parallelism: 1,
		SaltLength:  16,
		KeyLength:   32,
		MinLength:   10,
	}
}

func newTestHasher(t *testing.T, cfg Config) *Hasher {
	t.Helper()
	h, err := NewHasher(cfg)
	if err != nil {
		t.Fatalf("NewHasher error: %v", err)
	}
	return h
}

func TestHashAndMatches(t *testing.T) {
	h := newTestHasher(t, testConfig())

	hash, err := h.Hash("P@ssw0rd-Ascii")
	if err != nil {
		t.Fatalf("Hash error: %v", err)
	}
	if !strings.HasPrefix(hash, "$argon2id$v=19$m=8192,t=1,p=1$") {
		t.Fatalf("unexpected PHC prefix: %s", hash)
	}

	ok, err := h.Matches("P@ssw0rd-Ascii", hash)
	if err != nil || !ok {
		t.Fatalf("expected match, ok=%v err=%v", ok, err)
	}

	ok, err = h.Matches("wrong-password", hash)
	if err != nil || ok {
		t.Fatalf("expected mismatch, ok=%v err=%v", ok, err)
	}
}

func TestHashSaltsEveryCall(t *testing.T) {
	h := newTestHasher(t, testConfig())

	a, _ := h.Hash("same-password-1")
	b, _ := h.Hash("same-password-1")
	if a == b {
		t.Fatal("expected distinct hashes for the same password")
	}
}

func TestHashRejectsShortAndLong(t *testing.T) {
	h := newTestHasher(t, testConfig())

	if _, err := h.Hash("short"); !errors.Is(err, ErrPasswordTooShort) {
		t.Fatalf("expected ErrPasswordTooShort, got %v", err)
	}
	if _, err := h.Hash(strings.Repeat("a", maxPassBytes+1)); !errors.Is(err, ErrPasswordTooLong) {
		t.Fatalf("expected ErrPasswordTooLong, got %v", err)
	}
}

func TestMatchesLegacyBcrypt(t *testing.T) {
	h := newTestHasher(t, testConfig())

	legacy, err := bcrypt.GenerateFromPassword([]byte("legacy-password"), bcrypt.MinCost)
	if err != nil {
		t.Fatalf("bcrypt: %v", err)
	}

	ok, err := h.Matches("legacy-password", string(legacy))
	if err != nil || !ok {
		t.Fatalf("expected legacy match, ok=%v err=%v", ok, err)
	}
	ok, err = h.Matches("not-the-password", string(legacy))
	if err != nil || ok {
		t.Fatalf("expected legacy mismatch, ok=%v err=%v", ok, err)
	}

	upgrade, err := h.NeedsUpgrade(string(legacy))
	if err != nil || !upgrade {
		t.Fatalf("expected bcrypt hash to need upgrade, upgrade=%v err=%v", upgrade, err)
	}
}

func TestNeedsUpgrade(t *testing.T) {
	weak := newTestHasher(t, testConfig())
	hash, err := weak.Hash("upgrade-me-please")
	if err != nil {
		t.Fatalf("Hash error: %v", err)
	}

	same, err := weak.NeedsUpgrade(hash)
	if err != nil || same {
		t.Fatalf("same params must not need upgrade, got %v err=%v", same, err)
	}

	strongCfg := testConfig()
	strongCfg.Memory = 16 * 1024
	strong := newTestHasher(t, strongCfg)
	upgrade, err := strong.NeedsUpgrade(hash)
	if err != nil || !upgrade {
		t.Fatalf("stronger params must need upgrade, got %v err=%v", upgrade, err)
	}
}

func TestMatchesMalformedHash(t *testing.T) {
	h := newTestHasher(t, testConfig())

	for _, in := range []string{
		"",
		"plaintext",
		"$argon2id$v=19$m=8192,t=1$c2FsdHNhbHRzYWx0c2FsdA$aGFzaA",
		"$argon2id$v=18$m=8192,t=1,p=1$c2FsdHNhbHRzYWx0c2FsdA$aGFzaA",
		"$argon2id$v=19$m=1,t=1,p=1$c2FsdHNhbHRzYWx0c2FsdA$aGFzaA",
	} {
		if ok, err := h.Matches("whatever-password", in); err == nil || ok {
			t.Fatalf("expected error for %q, ok=%v err=%v", in, ok, err)
		}
	}
}

func TestNewHasherValidation(t *testing.T) {
	bad := testConfig()
	bad.Memory = 1024
	if _, err := NewHasher(bad); err == nil {
		t.Fatal("expected low memory to be rejected")
	}
	bad = testConfig()
	bad.MinLength = 0
	if _, err := NewHasher(bad); err == nil {
		t.Fatal("expected zero min length to be rejected")
	}
}
