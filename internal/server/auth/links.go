package auth

import (
	"errors"
	"time"

	"github.com/dmitrijs2005/crmkeeper/internal/common"
	"github.com/golang-jwt/jwt/v5"
)

// DefaultLinkTTL is how long a download link stays usable.
const DefaultLinkTTL = 10 * time.Minute

// linkClaims carries the object name and an ISO-8601 deadline. There are
// no registered claims: expiry is checked against ValidTil only.
type linkClaims struct {
	Filename string `json:"filename"`
	ValidTil string `json:"valid_til"`
	jwt.RegisteredClaims
}

// SignedLinkIssuer produces stateless HS256 capability tokens that allow
// downloading one object until a deadline. It uses its own secret, separate
// from the RSA keys of the identity tokens.
type SignedLinkIssuer struct {
	secret []byte
	ttl    time.Duration
	now    func() time.Time
	parser *jwt.Parser
}

// LinkOption customises a SignedLinkIssuer.
type LinkOption func(*SignedLinkIssuer)

// WithLinkClock replaces time.Now, mostly for tests.
func WithLinkClock(now func() time.Time) LinkOption {
	return func(s *SignedLinkIssuer) { s.now = now }
}

// NewSignedLinkIssuer returns an issuer signing with secret. A non-positive
// ttl means DefaultLinkTTL.
func NewSignedLinkIssuer(secret []byte, ttl time.Duration, opts ...LinkOption) (*SignedLinkIssuer, error) {
	if len(secret) == 0 {
		return nil, errors.New("link issuer: empty secret")
	}
	if ttl <= 0 {
		ttl = DefaultLinkTTL
	}
	s := &SignedLinkIssuer{
		secret: secret,
		ttl:    ttl,
		now:    time.Now,
		parser: jwt.NewParser(jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()})),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Issue signs a link token for objectName and returns it with its deadline.
func (s *SignedLinkIssuer) Issue(objectName string) (string, time.Time, error) {
	if objectName == "" {
		return "", time.Time{}, common.ErrValidation
	}
	validTil := s.now().UTC().Add(s.ttl)
	claims := linkClaims{
		Filename: objectName,
		ValidTil: validTil.Format(time.RFC3339Nano),
	}
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.secret)
	if err != nil {
		return "", time.Time{}, err
	}
	return token, validTil, nil
}

// Verify returns the object name of a valid link. A bad signature, a
// malformed deadline and a deadline that is not in the future all yield
// common.ErrLinkExpired.
func (s *SignedLinkIssuer) Verify(token string) (string, error) {
	claims := &linkClaims{}
	parsed, err := s.parser.ParseWithClaims(token, claims, func(*jwt.Token) (any, error) {
		return s.secret, nil
	})
	if err != nil || !parsed.Valid || claims.Filename == "" {
		return "", common.ErrLinkExpired
	}
	validTil, err := time.Parse(time.RFC3339Nano, claims.ValidTil)
	if err != nil {
		return "", common.ErrLinkExpired
	}
	if !s.now().Before(validTil) {
		return "", common.ErrLinkExpired
	}
	return claims.Filename, nil
}
