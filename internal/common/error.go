// Package common defines shared constants and sentinel errors used across
// the crmkeeper server layers. Callers should use errors.Is to match these
// values.
package common

import "errors"

var (
	// Repository-level errors.
	ErrorNotFound    = errors.New("not found")
	ErrAlreadyExists = errors.New("resource already exists")

	// Service-level errors (generic/internal flow control).
	ErrorInternal = errors.New("internal error")
	ErrValidation = errors.New("validation error")

	// Authentication errors.
	//
	// ErrInvalidCredentials and ErrUserNotFound are login failures,
	// ErrUnauthorized means the credential was missing or is no longer
	// honored, ErrInvalidToken covers every signature/format/expiry failure.
	ErrInvalidCredentials = errors.New("invalid credentials")
	ErrUserNotFound       = errors.New("user not found")
	ErrUnauthorized       = errors.New("unauthorized")
	ErrInvalidToken       = errors.New("invalid token")

	// Authorization errors.
	ErrInsufficientPermissions = errors.New("insufficient permissions")

	// Signed download links.
	ErrLinkExpired = errors.New("link expired or invalid")
)
