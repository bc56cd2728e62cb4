// Package resettoken produces one-time password reset tokens.
//
// Only the SHA-256 of a token is ever stored; the plaintext travels to the
// account holder and is presented back exactly once.
package resettoken

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"io"
	"time"
)

const (
	// TokenBytes is the amount of entropy behind each token.
	TokenBytes = 32
	// DefaultTTL is how long a reset token stays usable.
	DefaultTTL = 10 * time.Minute
)

// Token is a freshly generated reset token.
type Token struct {
	Plaintext string
	Hash      string
	ExpiresAt time.Time
}

// Generator creates reset tokens.
type Generator struct {
	ttl    time.Duration
	now    func() time.Time
	random io.Reader
}

// NewGenerator returns a Generator whose tokens live for ttl.
func NewGenerator(ttl time.Duration, now func() time.Time) *Generator {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	if now == nil {
		now = time.Now
	}
	return &Generator{ttl: ttl, now: now, random: rand.Reader}
}

// TTL returns how long generated tokens stay usable.
func (g *Generator) TTL() time.Duration {
	return g.ttl
}

// Generate draws a new token from the system CSPRNG.
func (g *Generator) Generate() (Token, error) {
	var buf [TokenBytes]byte
	if _, err := io.ReadFull(g.random, buf[:]); err != nil {
		return Token{}, err
	}
	plaintext := hex.EncodeToString(buf[:])
	return Token{
		Plaintext: plaintext,
		Hash:      Hash(plaintext),
		ExpiresAt: g.now().Add(g.ttl),
	}, nil
}

// Hash returns the hex SHA-256 of a presented plaintext token.
func Hash(plaintext string) string {
	sum := sha256.Sum256([]byte(plaintext))
	return hex.EncodeToString(sum[:])
}
