// Package models defines server-side data models persisted in the database
// or object storage.
package models

import (
	"time"

	"github.com/dmitrijs2005/crmkeeper/internal/server/auth"
)

// User is an account of the CRM. Email is stored lowercased and is unique.
type User struct {
	ID           string
	Email        string
	PasswordHash string
	IsActive     bool
	IsVerified   bool
	Role         auth.Role
	CreatedAt    time.Time
	// UpdatedAt is nil until the row is modified after creation.
	UpdatedAt *time.Time
}

// UserView is the public projection of User; it never carries the hash.
type UserView struct {
	ID         string     `json:"id"`
	Email      string     `json:"email"`
	IsActive   bool       `json:"is_active"`
	IsVerified bool       `json:"is_verified"`
	Role       auth.Role  `json:"role"`
	CreatedAt  time.Time  `json:"created_at"`
	UpdatedAt  *time.Time `json:"updated_at"`
}

func (u *User) View() UserView {
	return UserView{
		ID:         u.ID,
		Email:      u.Email,
		IsActive:   u.IsActive,
		IsVerified: u.IsVerified,
		Role:       u.Role,
		CreatedAt:  u.CreatedAt,
		UpdatedAt:  u.UpdatedAt,
	}
}
