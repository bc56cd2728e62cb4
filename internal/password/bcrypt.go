package password

import (
	"errors"

	"golang.org/x/crypto/bcrypt"
)

const (
	// MinLength is the shortest accepted plaintext, in bytes.
	MinLength = 8
	// MaxLength is the longest plaintext bcrypt can digest without truncation.
	MaxLength = 72
	// DefaultCost is the bcrypt work factor used for stored passwords.
	DefaultCost = 12
)

var (
	ErrTooShort = errors.New("password must have at least 8 characters")
	ErrTooLong  = errors.New("password must have at most 72 bytes")
)

// Hasher derives and checks bcrypt password digests.
type Hasher struct {
	cost int
}

// NewHasher returns a Hasher using the given bcrypt cost.
// Costs outside bcrypt's range fall back to DefaultCost.
func NewHasher(cost int) *Hasher {
	if cost < bcrypt.MinCost || cost > bcrypt.MaxCost {
		cost = DefaultCost
	}
	return &Hasher{cost: cost}
}

// Validate checks plaintext against the length policy.
func Validate(plaintext string) error {
	if len(plaintext) < MinLength {
		return ErrTooShort
	}
	if len(plaintext) > MaxLength {
		return ErrTooLong
	}
	return nil
}

// Hash returns the salted bcrypt digest of plaintext.
func (h *Hasher) Hash(plaintext string) (string, error) {
	if err := Validate(plaintext); err != nil {
		return "", err
	}
	hashed, err := bcrypt.GenerateFromPassword([]byte(plaintext), h.cost)
	if err != nil {
		return "", err
	}
	return string(hashed), nil
}

// Verify reports whether plaintext matches derived. Malformed digests never match.
func (h *Hasher) Verify(plaintext, derived string) bool {
	if derived == "" {
		return false
	}
	return bcrypt.CompareHashAndPassword([]byte(derived), []byte(plaintext)) == nil
}
