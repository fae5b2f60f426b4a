// Package refreshtokens keeps the server-side records of issued refresh
// tokens. A record is keyed by the token's jti; the signed token itself is
// never stored.
//
// Repository is the row-level contract bound to a dbx.DBTX, Store is what
// the auth service consumes. SQLStore builds Store on top of Repository,
// RedisStore is a self-contained alternative.
package refreshtokens

import (
	"context"
	"time"

	"github.com/dmitrijs2005/crmkeeper/internal/server/models"
)

// Repository defines row operations on refresh_tokens.
type Repository interface {
	// Create inserts rt and fills in CreatedAt. A duplicate jti is
	// common.ErrAlreadyExists.
	Create(ctx context.Context, rt *models.RefreshToken) (*models.RefreshToken, error)

	// Get returns the record for jti regardless of expiry, or
	// common.ErrorNotFound.
	Get(ctx context.Context, jti string) (*models.RefreshToken, error)

	// IsValid reports whether jti exists and expires strictly after now.
	IsValid(ctx context.Context, jti string, now time.Time) (bool, error)

	// Delete removes jti. Deleting a missing record is not an error.
	Delete(ctx context.Context, jti string) error

	// Consume deletes jti only if it is still valid at now and returns the
	// deleted row; otherwise common.ErrorNotFound.
	Consume(ctx context.Context, jti string, now time.Time) (*models.RefreshToken, error)

	// DeleteExpired removes every record with expires_at <= now.
	DeleteExpired(ctx context.Context, now time.Time) (int64, error)
}

// Store is the refresh-token store used by the authentication service.
type Store interface {
	Create(ctx context.Context, userID, jti string, expiresAt time.Time) (*models.RefreshToken, error)
	Get(ctx context.Context, jti string) (*models.RefreshToken, error)
	IsValid(ctx context.Context, jti string) (bool, error)
	Delete(ctx context.Context, jti string) error

	// Rotate atomically consumes oldJTI, which must be valid and belong to
	// userID, and creates newJTI in its place. When oldJTI is gone the
	// result is common.ErrorNotFound and nothing is created, so two
	// concurrent rotations of one token cannot both succeed.
	Rotate(ctx context.Context, userID, oldJTI, newJTI string, expiresAt time.Time) (*models.RefreshToken, error)

	DeleteExpired(ctx context.Context) (int64, error)
}

// truncate brings t to the second-granular UTC clock records are compared on.
func truncate(t time.Time) time.Time {
	return t.UTC().Truncate(time.Second)
}
