package auth

import (
	"context"
	"strings"

	"github.com/dmitrijs2005/crmkeeper/internal/common"
)

// Principal is the authenticated caller of a request.
type Principal struct {
	UserID string
	Role   Role
}

// AccessTokenDecoder is the part of TokenCodec AccessControl needs.
type AccessTokenDecoder interface {
	DecodeAccessToken(raw string) (AccessClaims, error)
}

// AccessControl turns bearer access tokens into principals. It never touches
// storage, so a role change only shows up once the user's token is reissued.
type AccessControl struct {
	decoder AccessTokenDecoder
}

func NewAccessControl(decoder AccessTokenDecoder) *AccessControl {
	return &AccessControl{decoder: decoder}
}

// Authenticate validates a raw access token. An empty token is
// common.ErrUnauthorized, anything that fails to decode is
// common.ErrInvalidToken.
func (a *AccessControl) Authenticate(token string) (Principal, error) {
	if token == "" {
		return Principal{}, common.ErrUnauthorized
	}
	claims, err := a.decoder.DecodeAccessToken(token)
	if err != nil {
		return Principal{}, common.ErrInvalidToken
	}
	return Principal{UserID: claims.UserID, Role: claims.Role}, nil
}

// AuthenticateHeader is Authenticate for an Authorization header value.
func (a *AccessControl) AuthenticateHeader(header string) (Principal, error) {
	token, ok := BearerToken(header)
	if !ok {
		return Principal{}, common.ErrUnauthorized
	}
	return a.Authenticate(token)
}

// Authorize fails with common.ErrInsufficientPermissions unless p holds at
// least the required role.
func Authorize(p Principal, required Role) error {
	if !p.Role.AtLeast(required) {
		return common.ErrInsufficientPermissions
	}
	return nil
}

// BearerToken extracts the credential from "Bearer <token>". The scheme is
// matched case-insensitively.
func BearerToken(header string) (string, bool) {
	scheme, token, ok := strings.Cut(strings.TrimSpace(header), " ")
	if !ok || !strings.EqualFold(scheme, "bearer") {
		return "", false
	}
	token = strings.TrimSpace(token)
	return token, token != ""
}

type principalKey struct{}

// WithPrincipal stores p in ctx.
func WithPrincipal(ctx context.Context, p Principal) context.Context {
	return context.WithValue(ctx, principalKey{}, p)
}

// PrincipalFrom returns the principal stored by WithPrincipal.
func PrincipalFrom(ctx context.Context) (Principal, bool) {
	p, ok := ctx.Value(principalKey{}).(Principal)
	return p, ok
}
