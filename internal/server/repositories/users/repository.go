// Package users declares the repository contract for user accounts and its
// PostgreSQL implementation.
package users

import (
	"context"

	"github.com/dmitrijs2005/crmkeeper/internal/server/models"
)

type Repository interface {
	// Create inserts user and fills in ID and CreatedAt. A taken email is
	// common.ErrAlreadyExists.
	Create(ctx context.Context, user *models.User) (*models.User, error)
	GetByEmail(ctx context.Context, email string) (*models.User, error)
	GetByID(ctx context.Context, id string) (*models.User, error)
}
