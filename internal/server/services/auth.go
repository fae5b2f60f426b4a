// Package services contains server-side business logic. AuthService runs the
// session lifecycle (register, login, refresh rotation, logout), FileService
// fronts object storage and download links, Janitor purges expired refresh
// records on a schedule.
package services

import (
	"context"
	"errors"
	"fmt"
	"net/mail"
	"strings"
	"time"

	"github.com/dmitrijs2005/crmkeeper/internal/common"
	"github.com/dmitrijs2005/crmkeeper/internal/dbx"
	"github.com/dmitrijs2005/crmkeeper/internal/logging"
	"github.com/dmitrijs2005/crmkeeper/internal/server/auth"
	"github.com/dmitrijs2005/crmkeeper/internal/server/models"
	"github.com/dmitrijs2005/crmkeeper/internal/server/repositories/refreshtokens"
	"github.com/dmitrijs2005/crmkeeper/internal/server/repositories/repomanager"
	"github.com/google/uuid"
)

// TokenCodec is the part of auth.TokenCodec the service uses.
type TokenCodec interface {
	AccessTTL() time.Duration
	RefreshTTL() time.Duration
	IssueAccessToken(userID string, role auth.Role) (string, error)
	IssueRefreshToken(userID, jti string) (string, time.Time, error)
	DecodeRefreshToken(raw string) (auth.RefreshClaims, error)
}

// AuthEvents receives one event per finished auth operation.
type AuthEvents interface {
	AuthEvent(operation, outcome string)
}

type nopEvents struct{}

func (nopEvents) AuthEvent(string, string) {}

// TokenPair is what a successful authentication hands to the transport: the
// access token for the body and the refresh token for the cookie.
type TokenPair struct {
	AccessToken      string
	RefreshToken     string
	RefreshExpiresAt time.Time
}

// Session is a TokenPair together with the user it was issued to.
type Session struct {
	TokenPair
	User *models.User
}

// AuthService implements the session state machine
// anonymous -> authenticated -> rotated -> revoked.
type AuthService struct {
	db          dbx.DBTX
	repomanager repomanager.RepositoryManager
	store       refreshtokens.Store
	hasher      auth.PasswordHasher
	codec       TokenCodec
	log         logging.Logger
	events      AuthEvents
	newID       func() string
}

// AuthOption customises an AuthService.
type AuthOption func(*AuthService)

// WithAuthEvents reports operation outcomes to e.
func WithAuthEvents(e AuthEvents) AuthOption {
	return func(s *AuthService) { s.events = e }
}

func NewAuthService(db dbx.DBTX, m repomanager.RepositoryManager, store refreshtokens.Store,
	hasher auth.PasswordHasher, codec TokenCodec, log logging.Logger, opts ...AuthOption) *AuthService {
	s := &AuthService{
		db:          db,
		repomanager: m,
		store:       store,
		hasher:      hasher,
		codec:       codec,
		log:         log,
		events:      nopEvents{},
		newID:       uuid.NewString,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// RefreshTTL is the lifetime the transport gives the refresh cookie.
func (s *AuthService) RefreshTTL() time.Duration { return s.codec.RefreshTTL() }

// Register creates a User-role account and opens a session for it.
func (s *AuthService) Register(ctx context.Context, email, password string) (sess *Session, err error) {
	const op = "services.auth.Register"
	defer func() { s.events.AuthEvent("register", Outcome(err)) }()

	normEmail, err := normalizeEmail(email)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	if password == "" {
		return nil, fmt.Errorf("%s: %w: password is empty", op, common.ErrValidation)
	}

	hash, err := s.hasher.Hash(password)
	if err != nil {
		if errors.Is(err, common.ErrValidation) {
			return nil, fmt.Errorf("%s: %w", op, err)
		}
		return nil, s.internal(ctx, op, err)
	}

	user, err := s.repomanager.Users(s.db).Create(ctx, &models.User{
		Email:        normEmail,
		PasswordHash: hash,
		IsActive:     true,
		Role:         auth.RoleUser,
	})
	if err != nil {
		if errors.Is(err, common.ErrAlreadyExists) {
			return nil, fmt.Errorf("%s: %w", op, common.ErrAlreadyExists)
		}
		return nil, s.internal(ctx, op, err)
	}

	pair, err := s.issue(ctx, op, user)
	if err != nil {
		return nil, err
	}
	logging.From(ctx, s.log).Info(ctx, "user registered", "user_id", user.ID, "email", logging.RedactEmail(user.Email))
	return &Session{TokenPair: *pair, User: user}, nil
}

// Login checks credentials and opens a session. An unknown email is
// common.ErrUserNotFound, a wrong password common.ErrInvalidCredentials.
func (s *AuthService) Login(ctx context.Context, email, password string) (sess *Session, err error) {
	const op = "services.auth.Login"
	defer func() { s.events.AuthEvent("login", Outcome(err)) }()

	normEmail, err := normalizeEmail(email)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, common.ErrUserNotFound)
	}

	user, err := s.repomanager.Users(s.db).GetByEmail(ctx, normEmail)
	if err != nil {
		if errors.Is(err, common.ErrorNotFound) {
			return nil, fmt.Errorf("%s: %w", op, common.ErrUserNotFound)
		}
		return nil, s.internal(ctx, op, err)
	}

	if !s.hasher.Verify(password, user.PasswordHash) {
		logging.From(ctx, s.log).Warn(ctx, "login rejected", "email", logging.RedactEmail(normEmail))
		return nil, fmt.Errorf("%s: %w", op, common.ErrInvalidCredentials)
	}

	pair, err := s.issue(ctx, op, user)
	if err != nil {
		return nil, err
	}
	return &Session{TokenPair: *pair, User: user}, nil
}

// Refresh exchanges a valid refresh token for a new pair. The old record is
// consumed and the new one created atomically; the access token carries the
// user's current role.
func (s *AuthService) Refresh(ctx context.Context, refreshToken string) (pair *TokenPair, err error) {
	const op = "services.auth.Refresh"
	defer func() { s.events.AuthEvent("refresh", Outcome(err)) }()

	if refreshToken == "" {
		return nil, fmt.Errorf("%s: %w", op, common.ErrUnauthorized)
	}
	claims, err := s.codec.DecodeRefreshToken(refreshToken)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, common.ErrInvalidToken)
	}

	valid, err := s.store.IsValid(ctx, claims.JTI)
	if err != nil {
		return nil, s.internal(ctx, op, err)
	}
	if !valid {
		return nil, fmt.Errorf("%s: %w", op, common.ErrUnauthorized)
	}

	user, err := s.repomanager.Users(s.db).GetByID(ctx, claims.UserID)
	if err != nil {
		if errors.Is(err, common.ErrorNotFound) {
			return nil, fmt.Errorf("%s: %w", op, common.ErrUserNotFound)
		}
		return nil, s.internal(ctx, op, err)
	}

	jti := s.newID()
	token, exp, err := s.codec.IssueRefreshToken(user.ID, jti)
	if err != nil {
		return nil, s.internal(ctx, op, err)
	}
	if _, err := s.store.Rotate(ctx, user.ID, claims.JTI, jti, exp); err != nil {
		if errors.Is(err, common.ErrorNotFound) {
			// Lost a race against a concurrent use of the same token.
			logging.From(ctx, s.log).Warn(ctx, "refresh token replayed", "user_id", user.ID)
			return nil, fmt.Errorf("%s: %w", op, common.ErrUnauthorized)
		}
		return nil, s.internal(ctx, op, err)
	}

	access, err := s.codec.IssueAccessToken(user.ID, user.Role)
	if err != nil {
		return nil, s.internal(ctx, op, err)
	}
	return &TokenPair{AccessToken: access, RefreshToken: token, RefreshExpiresAt: exp}, nil
}

// Logout revokes the record behind refreshToken. Revoking an already
// revoked or expired token succeeds.
func (s *AuthService) Logout(ctx context.Context, refreshToken string) (err error) {
	const op = "services.auth.Logout"
	defer func() { s.events.AuthEvent("logout", Outcome(err)) }()

	if refreshToken == "" {
		return fmt.Errorf("%s: %w", op, common.ErrUnauthorized)
	}
	claims, err := s.codec.DecodeRefreshToken(refreshToken)
	if err != nil {
		return fmt.Errorf("%s: %w", op, common.ErrInvalidToken)
	}
	if err := s.store.Delete(ctx, claims.JTI); err != nil {
		return s.internal(ctx, op, err)
	}
	return nil
}

// CurrentUser loads the account of an authenticated principal.
func (s *AuthService) CurrentUser(ctx context.Context, userID string) (*models.User, error) {
	const op = "services.auth.CurrentUser"

	user, err := s.repomanager.Users(s.db).GetByID(ctx, userID)
	if err != nil {
		if errors.Is(err, common.ErrorNotFound) {
			return nil, fmt.Errorf("%s: %w", op, common.ErrUserNotFound)
		}
		return nil, s.internal(ctx, op, err)
	}
	return user, nil
}

// EnsureAdmin creates an Admin account for email unless one with that email
// already exists. It reports whether a user was created.
func (s *AuthService) EnsureAdmin(ctx context.Context, email, password string) (*models.User, bool, error) {
	const op = "services.auth.EnsureAdmin"

	normEmail, err := normalizeEmail(email)
	if err != nil {
		return nil, false, fmt.Errorf("%s: %w", op, err)
	}
	repo := s.repomanager.Users(s.db)

	existing, err := repo.GetByEmail(ctx, normEmail)
	if err == nil {
		return existing, false, nil
	}
	if !errors.Is(err, common.ErrorNotFound) {
		return nil, false, fmt.Errorf("%s: %w", op, err)
	}
	if password == "" {
		return nil, false, fmt.Errorf("%s: %w: admin password is empty", op, common.ErrValidation)
	}

	hash, err := s.hasher.Hash(password)
	if err != nil {
		return nil, false, fmt.Errorf("%s: %w", op, err)
	}
	user, err := repo.Create(ctx, &models.User{
		Email:        normEmail,
		PasswordHash: hash,
		IsActive:     true,
		IsVerified:   true,
		Role:         auth.RoleAdmin,
	})
	if errors.Is(err, common.ErrAlreadyExists) {
		// Another instance got there first.
		existing, err := repo.GetByEmail(ctx, normEmail)
		if err != nil {
			return nil, false, fmt.Errorf("%s: %w", op, err)
		}
		return existing, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("%s: %w", op, err)
	}
	logging.From(ctx, s.log).Info(ctx, "admin created", "user_id", user.ID, "email", logging.RedactEmail(user.Email))
	return user, true, nil
}

// issue stores a new refresh record for user and signs both tokens.
func (s *AuthService) issue(ctx context.Context, op string, user *models.User) (*TokenPair, error) {
	jti := s.newID()
	refresh, exp, err := s.codec.IssueRefreshToken(user.ID, jti)
	if err != nil {
		return nil, s.internal(ctx, op, err)
	}
	if _, err := s.store.Create(ctx, user.ID, jti, exp); err != nil {
		return nil, s.internal(ctx, op, err)
	}
	access, err := s.codec.IssueAccessToken(user.ID, user.Role)
	if err != nil {
		return nil, s.internal(ctx, op, err)
	}
	return &TokenPair{AccessToken: access, RefreshToken: refresh, RefreshExpiresAt: exp}, nil
}

// internal logs err and hides it behind common.ErrorInternal.
func (s *AuthService) internal(ctx context.Context, op string, err error) error {
	logging.From(ctx, s.log).Error(ctx, "auth operation failed", "op", op, "error", err)
	return fmt.Errorf("%s: %w", op, common.ErrorInternal)
}

func normalizeEmail(raw string) (string, error) {
	email := strings.TrimSpace(raw)
	if email == "" {
		return "", fmt.Errorf("%w: email is empty", common.ErrValidation)
	}
	addr, err := mail.ParseAddress(email)
	if err != nil || addr.Address != email {
		return "", fmt.Errorf("%w: invalid email", common.ErrValidation)
	}
	return strings.ToLower(email), nil
}

// Outcome is the metrics label for the result of an operation.
func Outcome(err error) string {
	switch {
	case err == nil:
		return "success"
	case errors.Is(err, common.ErrValidation):
		return "invalid_input"
	case errors.Is(err, common.ErrAlreadyExists):
		return "conflict"
	case errors.Is(err, common.ErrUserNotFound):
		return "user_not_found"
	case errors.Is(err, common.ErrInvalidCredentials):
		return "invalid_credentials"
	case errors.Is(err, common.ErrInvalidToken):
		return "invalid_token"
	case errors.Is(err, common.ErrUnauthorized):
		return "unauthorized"
	default:
		return "error"
	}
}
