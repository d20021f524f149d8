package password

import (
	"errors"
	"strings"

	"golang.org/x/crypto/bcrypt"
)

// Hasher hashes new passwords with argon2id and verifies both argon2id and
// legacy bcrypt hashes. It is immutable and safe for concurrent use.
type Hasher struct {
	config Config
}

// NewHasher validates cfg and returns a hasher.
func NewHasher(cfg Config) (*Hasher, error) {
	if err := validateConfig(cfg); err != nil {
		return nil, err
	}
	return &Hasher{config: cfg}, nil
}

// Hash returns an argon2id PHC string for raw. Raw bytes are hashed as
// given, with no Unicode normalization.
func (a *Hasher) Hash(raw string) (string, error) {
	if len(raw) < a.config.MinLength {
		return "", ErrPasswordTooShort
	}
	if len(raw) > maxPassBytes {
		return "", ErrPasswordTooLong
	}
	return a.hashArgon2(raw)
}

// Matches reports whether raw produces encoded.
func (a *Hasher) Matches(raw, encoded string) (bool, error) {
	if len(raw) > maxPassBytes {
		return false, nil
	}
	switch {
	case isBcrypt(encoded):
		err := bcrypt.CompareHashAndPassword([]byte(encoded), []byte(raw))
		if errors.Is(err, bcrypt.ErrMismatchedHashAndPassword) {
			return false, nil
		}
		if err != nil {
			return false, err
		}
		return true, nil
	case strings.HasPrefix(encoded, "$"+algorithmID+"$"):
		return matchesArgon2(raw, encoded)
	default:
		return false, ErrUnsupportedHash
	}
}

// NeedsUpgrade reports whether encoded should be replaced by a fresh Hash
// after the next successful verification: legacy bcrypt hashes always do,
// argon2id hashes do when they were made with weaker parameters.
func (a *Hasher) NeedsUpgrade(encoded string) (bool, error) {
	if isBcrypt(encoded) {
		return true, nil
	}
	return a.argon2Weaker(encoded)
}

func isBcrypt(encoded string) bool {
	return strings.HasPrefix(encoded, "$2a$") ||
		strings.HasPrefix(encoded, "$2b$") ||
		strings.HasPrefix(encoded, "$2y$")
}
