package common

// AccessTokenHeaderName is the gRPC metadata key that may carry the raw
// access token as an alternative to "authorization: Bearer <token>".
const AccessTokenHeaderName = "access_token"

// RefreshTokenCookieName is the http-only cookie holding the refresh token.
const RefreshTokenCookieName = "refresh_token"

// TokenTypeBearer is reported as token_type in token responses.
const TokenTypeBearer = "bearer"
