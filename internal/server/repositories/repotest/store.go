package repotest

import (
	"context"
	"time"

	"github.com/dmitrijs2005/crmkeeper/internal/common"
	"github.com/dmitrijs2005/crmkeeper/internal/server/models"
)

// Store is a refreshtokens.Store over RefreshTokens. Now defaults to
// time.Now and may be replaced.
type Store struct {
	Repo *RefreshTokens
	Now  func() time.Time
}

func NewStore(repo *RefreshTokens) *Store {
	return &Store{Repo: repo, Now: time.Now}
}

func (s *Store) now() time.Time { return s.Now().UTC().Truncate(time.Second) }

func (s *Store) Create(ctx context.Context, userID, jti string, expiresAt time.Time) (*models.RefreshToken, error) {
	return s.Repo.Create(ctx, &models.RefreshToken{JTI: jti, UserID: userID, ExpiresAt: expiresAt.UTC()})
}

func (s *Store) Get(ctx context.Context, jti string) (*models.RefreshToken, error) {
	return s.Repo.Get(ctx, jti)
}

func (s *Store) IsValid(ctx context.Context, jti string) (bool, error) {
	return s.Repo.IsValid(ctx, jti, s.now())
}

func (s *Store) Delete(ctx context.Context, jti string) error {
	return s.Repo.Delete(ctx, jti)
}

func (s *Store) Rotate(ctx context.Context, userID, oldJTI, newJTI string, expiresAt time.Time) (*models.RefreshToken, error) {
	old, err := s.Repo.Consume(ctx, oldJTI, s.now())
	if err != nil {
		return nil, err
	}
	if old.UserID != userID {
		return nil, common.ErrorNotFound
	}
	return s.Create(ctx, userID, newJTI, expiresAt)
}

func (s *Store) DeleteExpired(ctx context.Context) (int64, error) {
	return s.Repo.DeleteExpired(ctx, s.now())
}
