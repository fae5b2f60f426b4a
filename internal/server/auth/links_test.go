package auth

import (
	"encoding/base64"
	"encoding/json"
	"strings"
	"testing"
	"time"

	"github.com/dmitrijs2005/crmkeeper/internal/common"
	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSignedLink_IssueVerify(t *testing.T) {
	now := time.Date(2025, 5, 1, 10, 0, 0, 0, time.UTC)
	s, err := NewSignedLinkIssuer([]byte("secret"), 0, WithLinkClock(func() time.Time { return now }))
	require.NoError(t, err)

	tok, validTil, err := s.Issue("a1b2c3d4_report.pdf")
	require.NoError(t, err)
	assert.Equal(t, now.Add(DefaultLinkTTL), validTil)

	name, err := s.Verify(tok)
	require.NoError(t, err)
	assert.Equal(t, "a1b2c3d4_report.pdf", name)
}

func TestSignedLink_ClaimsShape(t *testing.T) {
	now := time.Date(2025, 5, 1, 10, 0, 0, 0, time.UTC)
	s, err := NewSignedLinkIssuer([]byte("secret"), time.Minute, WithLinkClock(func() time.Time { return now }))
	require.NoError(t, err)

	tok, _, err := s.Issue("file.txt")
	require.NoError(t, err)

	parts := strings.Split(tok, ".")
	require.Len(t, parts, 3)
	raw, err := base64.RawURLEncoding.DecodeString(parts[1])
	require.NoError(t, err)

	var payload map[string]any
	require.NoError(t, json.Unmarshal(raw, &payload))
	assert.Equal(t, "file.txt", payload["filename"])
	validTil, err := time.Parse(time.RFC3339, payload["valid_til"].(string))
	require.NoError(t, err)
	assert.True(t, validTil.Equal(now.Add(time.Minute)))
	assert.NotContains(t, payload, "exp")
}

func TestSignedLink_ExpiryBoundary(t *testing.T) {
	now := time.Date(2025, 5, 1, 10, 0, 0, 0, time.UTC)
	clock := func() time.Time { return now }
	s, err := NewSignedLinkIssuer([]byte("secret"), 0, WithLinkClock(func() time.Time { return clock() }))
	require.NoError(t, err)

	tok, validTil, err := s.Issue("f")
	require.NoError(t, err)

	clock = func() time.Time { return validTil.Add(-time.Nanosecond) }
	_, err = s.Verify(tok)
	require.NoError(t, err)

	clock = func() time.Time { return validTil }
	_, err = s.Verify(tok)
	require.ErrorIs(t, err, common.ErrLinkExpired)

	clock = func() time.Time { return validTil.Add(time.Hour) }
	_, err = s.Verify(tok)
	require.ErrorIs(t, err, common.ErrLinkExpired)
}

func TestSignedLink_Rejects(t *testing.T) {
	s, err := NewSignedLinkIssuer([]byte("secret"), 0)
	require.NoError(t, err)
	other, err := NewSignedLinkIssuer([]byte("other"), 0)
	require.NoError(t, err)

	foreign, _, err := other.Issue("f")
	require.NoError(t, err)

	tok, _, err := s.Issue("f")
	require.NoError(t, err)
	tampered := tok[:len(tok)-4] + "AAAA"
	if tampered == tok {
		tampered = tok[:len(tok)-4] + "BBBB"
	}

	badDeadline, err := jwt.NewWithClaims(jwt.SigningMethodHS256, linkClaims{
		Filename: "f",
		ValidTil: "tomorrow",
	}).SignedString([]byte("secret"))
	require.NoError(t, err)

	noName, err := jwt.NewWithClaims(jwt.SigningMethodHS256, linkClaims{
		ValidTil: time.Now().Add(time.Hour).Format(time.RFC3339Nano),
	}).SignedString([]byte("secret"))
	require.NoError(t, err)

	for name, raw := range map[string]string{
		"foreign secret": foreign,
		"tampered":       tampered,
		"bad deadline":   badDeadline,
		"no filename":    noName,
		"garbage":        "garbage",
		"empty":          "",
	} {
		_, err := s.Verify(raw)
		assert.ErrorIs(t, err, common.ErrLinkExpired, name)
	}
}

func TestSignedLink_Errors(t *testing.T) {
	_, err := NewSignedLinkIssuer(nil, time.Minute)
	require.Error(t, err)

	s, err := NewSignedLinkIssuer([]byte("k"), time.Minute)
	require.NoError(t, err)
	_, _, err = s.Issue("")
	require.ErrorIs(t, err, common.ErrValidation)
}
