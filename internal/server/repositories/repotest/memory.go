// Package repotest provides in-memory repositories for tests of the layers
// above storage.
package repotest

import (
	"context"
	"database/sql"
	"sync"
	"time"

	"github.com/dmitrijs2005/crmkeeper/internal/common"
	"github.com/dmitrijs2005/crmkeeper/internal/dbx"
	"github.com/dmitrijs2005/crmkeeper/internal/server/models"
	"github.com/dmitrijs2005/crmkeeper/internal/server/repositories/refreshtokens"
	"github.com/dmitrijs2005/crmkeeper/internal/server/repositories/users"
	"github.com/google/uuid"
)

// Manager implements repomanager.RepositoryManager; the DBTX argument is
// ignored.
type Manager struct {
	UsersRepo   *Users
	RefreshRepo *RefreshTokens
}

func NewManager() *Manager {
	return &Manager{UsersRepo: NewUsers(), RefreshRepo: NewRefreshTokens()}
}

func (m *Manager) RunMigrations(context.Context, *sql.DB) error { return nil }

func (m *Manager) Users(dbx.DBTX) users.Repository { return m.UsersRepo }

func (m *Manager) RefreshTokens(dbx.DBTX) refreshtokens.Repository { return m.RefreshRepo }

// Users is a users.Repository kept in a map. Err, when set, is returned by
// every call.
type Users struct {
	mu   sync.Mutex
	byID map[string]models.User
	Err  error
}

func NewUsers() *Users {
	return &Users{byID: map[string]models.User{}}
}

func (r *Users) Create(_ context.Context, u *models.User) (*models.User, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.Err != nil {
		return nil, r.Err
	}
	for _, existing := range r.byID {
		if existing.Email == u.Email {
			return nil, common.ErrAlreadyExists
		}
	}
	u.ID = uuid.NewString()
	u.CreatedAt = time.Now().UTC()
	r.byID[u.ID] = *u
	return u, nil
}

func (r *Users) GetByEmail(_ context.Context, email string) (*models.User, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.Err != nil {
		return nil, r.Err
	}
	for _, u := range r.byID {
		if u.Email == email {
			return &u, nil
		}
	}
	return nil, common.ErrorNotFound
}

func (r *Users) GetByID(_ context.Context, id string) (*models.User, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.Err != nil {
		return nil, r.Err
	}
	u, ok := r.byID[id]
	if !ok {
		return nil, common.ErrorNotFound
	}
	return &u, nil
}

// Update replaces a stored user, e.g. to change a role mid-test.
func (r *Users) Update(u models.User) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.byID[u.ID] = u
}

// Remove deletes a user.
func (r *Users) Remove(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.byID, id)
}

// RefreshTokens is a refreshtokens.Repository kept in a map.
type RefreshTokens struct {
	mu   sync.Mutex
	rows map[string]models.RefreshToken
	Err  error
}

func NewRefreshTokens() *RefreshTokens {
	return &RefreshTokens{rows: map[string]models.RefreshToken{}}
}

func (r *RefreshTokens) Create(_ context.Context, rt *models.RefreshToken) (*models.RefreshToken, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.Err != nil {
		return nil, r.Err
	}
	if _, ok := r.rows[rt.JTI]; ok {
		return nil, common.ErrAlreadyExists
	}
	rt.CreatedAt = time.Now().UTC()
	r.rows[rt.JTI] = *rt
	return rt, nil
}

func (r *RefreshTokens) Get(_ context.Context, jti string) (*models.RefreshToken, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.Err != nil {
		return nil, r.Err
	}
	rt, ok := r.rows[jti]
	if !ok {
		return nil, common.ErrorNotFound
	}
	return &rt, nil
}

func (r *RefreshTokens) IsValid(_ context.Context, jti string, now time.Time) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.Err != nil {
		return false, r.Err
	}
	rt, ok := r.rows[jti]
	return ok && rt.ExpiresAt.After(now), nil
}

func (r *RefreshTokens) Delete(_ context.Context, jti string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.Err != nil {
		return r.Err
	}
	delete(r.rows, jti)
	return nil
}

func (r *RefreshTokens) Consume(_ context.Context, jti string, now time.Time) (*models.RefreshToken, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.Err != nil {
		return nil, r.Err
	}
	rt, ok := r.rows[jti]
	if !ok || !rt.ExpiresAt.After(now) {
		return nil, common.ErrorNotFound
	}
	delete(r.rows, jti)
	return &rt, nil
}

func (r *RefreshTokens) DeleteExpired(_ context.Context, now time.Time) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.Err != nil {
		return 0, r.Err
	}
	var n int64
	for jti, rt := range r.rows {
		if !rt.ExpiresAt.After(now) {
			delete(r.rows, jti)
			n++
		}
	}
	return n, nil
}

// Len is the number of stored refresh records.
func (r *RefreshTokens) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.rows)
}
