package auth

import (
	"crypto/rsa"
	"errors"
	"fmt"
	"time"

	"github.com/dmitrijs2005/crmkeeper/internal/common"
	"github.com/golang-jwt/jwt/v5"
)

const (
	kindAccess  = "access"
	kindRefresh = "refresh"
)

// AccessClaims is the decoded content of an access token.
type AccessClaims struct {
	UserID    string
	Role      Role
	IssuedAt  time.Time
	ExpiresAt time.Time
}

// RefreshClaims is the decoded content of a refresh token. JTI is the
// identity of the server-side refresh record.
type RefreshClaims struct {
	UserID    string
	JTI       string
	IssuedAt  time.Time
	ExpiresAt time.Time
}

// accessTokenClaims and refreshTokenClaims are the wire shapes. Role is a
// pointer so an absent claim can be told apart from RoleAdmin.
type accessTokenClaims struct {
	Role *Role  `json:"role"`
	Kind string `json:"kind"`
	jwt.RegisteredClaims
}

type refreshTokenClaims struct {
	Kind string `json:"kind"`
	jwt.RegisteredClaims
}

// TokenCodec issues and verifies RSA-signed access and refresh tokens.
// It is safe for concurrent use; nothing in it changes after construction.
type TokenCodec struct {
	method     *jwt.SigningMethodRSA
	privateKey *rsa.PrivateKey
	publicKey  *rsa.PublicKey
	accessTTL  time.Duration
	refreshTTL time.Duration
	now        func() time.Time
	parser     *jwt.Parser
}

// CodecOption customises a TokenCodec.
type CodecOption func(*TokenCodec)

// WithClock replaces time.Now, mostly for tests.
func WithClock(now func() time.Time) CodecOption {
	return func(c *TokenCodec) { c.now = now }
}

// NewTokenCodec parses keys and binds them to algorithm (RS256, RS384 or
// RS512). The public key must belong to the private key.
func NewTokenCodec(keys *KeyMaterial, algorithm string, accessTTL, refreshTTL time.Duration, opts ...CodecOption) (*TokenCodec, error) {
	if keys == nil {
		return nil, errors.New("token codec: no key material")
	}
	method, ok := jwt.GetSigningMethod(algorithm).(*jwt.SigningMethodRSA)
	if !ok {
		return nil, fmt.Errorf("token codec: unsupported algorithm %q", algorithm)
	}
	if accessTTL <= 0 || refreshTTL <= accessTTL {
		return nil, fmt.Errorf("token codec: refresh ttl %s must exceed access ttl %s", refreshTTL, accessTTL)
	}

	priv, err := jwt.ParseRSAPrivateKeyFromPEM(keys.PrivateKey)
	if err != nil {
		return nil, fmt.Errorf("token codec: private key: %w", err)
	}
	pub, err := jwt.ParseRSAPublicKeyFromPEM(keys.PublicKey)
	if err != nil {
		return nil, fmt.Errorf("token codec: public key: %w", err)
	}
	if !priv.PublicKey.Equal(pub) {
		return nil, errors.New("token codec: public key does not match private key")
	}

	c := &TokenCodec{
		method:     method,
		privateKey: priv,
		publicKey:  pub,
		accessTTL:  accessTTL,
		refreshTTL: refreshTTL,
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	c.parser = jwt.NewParser(
		jwt.WithValidMethods([]string{method.Alg()}),
		jwt.WithExpirationRequired(),
		jwt.WithIssuedAt(),
		jwt.WithTimeFunc(c.now),
	)
	return c, nil
}

// AccessTTL is the lifetime of issued access tokens.
func (c *TokenCodec) AccessTTL() time.Duration { return c.accessTTL }

// RefreshTTL is the lifetime of issued refresh tokens.
func (c *TokenCodec) RefreshTTL() time.Duration { return c.refreshTTL }

// IssueAccessToken signs a token for userID carrying role, valid for the
// access ttl from now.
func (c *TokenCodec) IssueAccessToken(userID string, role Role) (string, error) {
	now := c.now().UTC()
	claims := accessTokenClaims{
		Role: &role,
		Kind: kindAccess,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   userID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(c.accessTTL)),
		},
	}
	return c.sign(claims)
}

// IssueRefreshToken signs a token for userID identified by jti and returns
// it together with its expiry, which the caller persists.
func (c *TokenCodec) IssueRefreshToken(userID, jti string) (string, time.Time, error) {
	now := c.now().UTC()
	exp := jwt.NewNumericDate(now.Add(c.refreshTTL))
	claims := refreshTokenClaims{
		Kind: kindRefresh,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   userID,
			ID:        jti,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: exp,
		},
	}
	token, err := c.sign(claims)
	if err != nil {
		return "", time.Time{}, err
	}
	return token, exp.Time, nil
}

// DecodeAccessToken verifies raw and returns its claims. Every failure,
// whatever the cause, is common.ErrInvalidToken.
func (c *TokenCodec) DecodeAccessToken(raw string) (AccessClaims, error) {
	claims := &accessTokenClaims{}
	if err := c.parse(raw, claims); err != nil {
		return AccessClaims{}, err
	}
	if claims.Kind != kindAccess || claims.Subject == "" || claims.Role == nil || !claims.Role.Valid() {
		return AccessClaims{}, common.ErrInvalidToken
	}
	return AccessClaims{
		UserID:    claims.Subject,
		Role:      *claims.Role,
		IssuedAt:  claims.IssuedAt.Time,
		ExpiresAt: claims.ExpiresAt.Time,
	}, nil
}

// DecodeRefreshToken verifies raw and returns its claims. Every failure is
// common.ErrInvalidToken.
func (c *TokenCodec) DecodeRefreshToken(raw string) (RefreshClaims, error) {
	claims := &refreshTokenClaims{}
	if err := c.parse(raw, claims); err != nil {
		return RefreshClaims{}, err
	}
	if claims.Kind != kindRefresh || claims.Subject == "" || claims.ID == "" {
		return RefreshClaims{}, common.ErrInvalidToken
	}
	return RefreshClaims{
		UserID:    claims.Subject,
		JTI:       claims.ID,
		IssuedAt:  claims.IssuedAt.Time,
		ExpiresAt: claims.ExpiresAt.Time,
	}, nil
}

func (c *TokenCodec) sign(claims jwt.Claims) (string, error) {
	token, err := jwt.NewWithClaims(c.method, claims).SignedString(c.privateKey)
	if err != nil {
		return "", fmt.Errorf("sign token: %w", err)
	}
	return token, nil
}

func (c *TokenCodec) parse(raw string, claims jwt.Claims) error {
	if raw == "" {
		return common.ErrInvalidToken
	}
	token, err := c.parser.ParseWithClaims(raw, claims, func(*jwt.Token) (any, error) {
		return c.publicKey, nil
	})
	if err != nil || !token.Valid {
		return common.ErrInvalidToken
	}
	// iat is optional for the library but required here.
	iat, _ := claims.GetIssuedAt()
	if iat == nil {
		return common.ErrInvalidToken
	}
	return nil
}
