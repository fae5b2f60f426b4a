package refreshtokens

import (
	"context"
	"database/sql"
	"time"

	"github.com/dmitrijs2005/crmkeeper/internal/common"
	"github.com/dmitrijs2005/crmkeeper/internal/dbx"
	"github.com/dmitrijs2005/crmkeeper/internal/server/models"
)

// DB is what SQLStore needs from *sql.DB.
type DB interface {
	dbx.DBTX
	dbx.TxBeginner
}

// SQLStore implements Store on a relational database. Rotation runs
// Consume and Create in one transaction.
type SQLStore struct {
	db   DB
	repo func(dbx.DBTX) Repository
	now  func() time.Time
}

// NewSQLStore binds the store to db; repo vends a Repository for either the
// pool or a transaction (repomanager's RefreshTokens fits).
func NewSQLStore(db DB, repo func(dbx.DBTX) Repository) *SQLStore {
	return &SQLStore{db: db, repo: repo, now: time.Now}
}

func (s *SQLStore) Create(ctx context.Context, userID, jti string, expiresAt time.Time) (*models.RefreshToken, error) {
	return s.repo(s.db).Create(ctx, &models.RefreshToken{JTI: jti, UserID: userID, ExpiresAt: expiresAt.UTC()})
}

func (s *SQLStore) Get(ctx context.Context, jti string) (*models.RefreshToken, error) {
	return s.repo(s.db).Get(ctx, jti)
}

func (s *SQLStore) IsValid(ctx context.Context, jti string) (bool, error) {
	return s.repo(s.db).IsValid(ctx, jti, truncate(s.now()))
}

func (s *SQLStore) Delete(ctx context.Context, jti string) error {
	return s.repo(s.db).Delete(ctx, jti)
}

func (s *SQLStore) Rotate(ctx context.Context, userID, oldJTI, newJTI string, expiresAt time.Time) (*models.RefreshToken, error) {
	var created *models.RefreshToken
	err := dbx.WithTx(ctx, s.db, &sql.TxOptions{Isolation: sql.LevelReadCommitted}, func(ctx context.Context, tx dbx.DBTX) error {
		repo := s.repo(tx)
		old, err := repo.Consume(ctx, oldJTI, truncate(s.now()))
		if err != nil {
			return err
		}
		if old.UserID != userID {
			return common.ErrorNotFound
		}
		created, err = repo.Create(ctx, &models.RefreshToken{JTI: newJTI, UserID: userID, ExpiresAt: expiresAt.UTC()})
		return err
	})
	if err != nil {
		return nil, err
	}
	return created, nil
}

func (s *SQLStore) DeleteExpired(ctx context.Context) (int64, error) {
	return s.repo(s.db).DeleteExpired(ctx, truncate(s.now()))
}
