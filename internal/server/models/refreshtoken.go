package models

import "time"

// RefreshToken is the server-side record of an outstanding refresh token.
// The signed token itself is never stored, only its jti.
type RefreshToken struct {
	JTI       string
	UserID    string
	ExpiresAt time.Time
	CreatedAt time.Time
}
