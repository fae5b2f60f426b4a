// Package auth holds the credential and token primitives of the server:
// password hashing, RSA key material, access/refresh token encoding, the
// role hierarchy with per-request access control, and signed download links.
package auth

import (
	"errors"
	"fmt"

	"github.com/dmitrijs2005/crmkeeper/internal/common"
	"golang.org/x/crypto/bcrypt"
)

// PasswordHasher turns plaintext passwords into salted one-way hashes and
// checks candidates against them.
type PasswordHasher interface {
	Hash(plaintext string) (string, error)
	// Verify reports whether plaintext matches hash. A malformed hash is a
	// mismatch, not an error.
	Verify(plaintext, hash string) bool
}

// BcryptHasher implements PasswordHasher with bcrypt.
type BcryptHasher struct {
	cost int
}

// NewBcryptHasher returns a hasher with the given work factor; values outside
// bcrypt's accepted range fall back to bcrypt.DefaultCost.
func NewBcryptHasher(cost int) *BcryptHasher {
	if cost < bcrypt.MinCost || cost > bcrypt.MaxCost {
		cost = bcrypt.DefaultCost
	}
	return &BcryptHasher{cost: cost}
}

func (h *BcryptHasher) Hash(plaintext string) (string, error) {
	b, err := bcrypt.GenerateFromPassword([]byte(plaintext), h.cost)
	if err != nil {
		if errors.Is(err, bcrypt.ErrPasswordTooLong) {
			return "", fmt.Errorf("%w: password longer than 72 bytes", common.ErrValidation)
		}
		return "", fmt.Errorf("hash password: %w", err)
	}
	return string(b), nil
}

func (h *BcryptHasher) Verify(plaintext, hash string) bool {
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(plaintext)) == nil
}
