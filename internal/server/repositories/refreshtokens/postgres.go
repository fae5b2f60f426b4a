package refreshtokens

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/dmitrijs2005/crmkeeper/internal/common"
	"github.com/dmitrijs2005/crmkeeper/internal/dbx"
	"github.com/dmitrijs2005/crmkeeper/internal/server/models"
	"github.com/jackc/pgerrcode"
	"github.com/jackc/pgx/v5/pgconn"
)

// PostgresRepository implements Repository over dbx.DBTX (satisfied by
// *sql.DB or *sql.Tx).
type PostgresRepository struct {
	db dbx.DBTX
}

// NewPostgresRepository constructs a repository bound to the given DBTX.
func NewPostgresRepository(db dbx.DBTX) *PostgresRepository {
	return &PostgresRepository{db: db}
}

func (r *PostgresRepository) Create(ctx context.Context, rt *models.RefreshToken) (*models.RefreshToken, error) {
	query := `
		INSERT INTO refresh_tokens (jti, user_id, expires_at)
		VALUES ($1, $2, $3)
		RETURNING created_at
	`
	if err := r.db.QueryRowContext(ctx, query, rt.JTI, rt.UserID, rt.ExpiresAt).Scan(&rt.CreatedAt); err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == pgerrcode.UniqueViolation {
			return nil, common.ErrAlreadyExists
		}
		return nil, fmt.Errorf("db error: %w", err)
	}
	return rt, nil
}

func (r *PostgresRepository) Get(ctx context.Context, jti string) (*models.RefreshToken, error) {
	query := `
		SELECT jti, user_id, expires_at, created_at
		FROM refresh_tokens
		WHERE jti = $1
	`
	rt := &models.RefreshToken{}
	if err := r.db.QueryRowContext(ctx, query, jti).Scan(&rt.JTI, &rt.UserID, &rt.ExpiresAt, &rt.CreatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, common.ErrorNotFound
		}
		return nil, fmt.Errorf("db error: %w", err)
	}
	return rt, nil
}

func (r *PostgresRepository) IsValid(ctx context.Context, jti string, now time.Time) (bool, error) {
	query := `
		SELECT EXISTS (
			SELECT 1 FROM refresh_tokens
			WHERE jti = $1 AND expires_at > $2
		)
	`
	var ok bool
	if err := r.db.QueryRowContext(ctx, query, jti, now).Scan(&ok); err != nil {
		return false, fmt.Errorf("db error: %w", err)
	}
	return ok, nil
}

func (r *PostgresRepository) Delete(ctx context.Context, jti string) error {
	query := `
		DELETE FROM refresh_tokens
		WHERE jti = $1
	`
	if _, err := r.db.ExecContext(ctx, query, jti); err != nil {
		return fmt.Errorf("db error: %w", err)
	}
	return nil
}

func (r *PostgresRepository) Consume(ctx context.Context, jti string, now time.Time) (*models.RefreshToken, error) {
	query := `
		DELETE FROM refresh_tokens
		WHERE jti = $1 AND expires_at > $2
		RETURNING jti, user_id, expires_at, created_at
	`
	rt := &models.RefreshToken{}
	if err := r.db.QueryRowContext(ctx, query, jti, now).Scan(&rt.JTI, &rt.UserID, &rt.ExpiresAt, &rt.CreatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, common.ErrorNotFound
		}
		return nil, fmt.Errorf("db error: %w", err)
	}
	return rt, nil
}

func (r *PostgresRepository) DeleteExpired(ctx context.Context, now time.Time) (int64, error) {
	query := `
		DELETE FROM refresh_tokens
		WHERE expires_at <= $1
	`
	res, err := r.db.ExecContext(ctx, query, now)
	if err != nil {
		return 0, fmt.Errorf("db error: %w", err)
	}
	return dbx.RowsAffected(res), nil
}
