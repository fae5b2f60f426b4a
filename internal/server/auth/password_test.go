package auth

import (
	"strings"
	"testing"

	"github.com/dmitrijs2005/crmkeeper/internal/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"
)

func TestBcryptHasher_HashVerify(t *testing.T) {
	h := NewBcryptHasher(bcrypt.MinCost)

	hash, err := h.Hash("s3cret!")
	require.NoError(t, err)
	assert.NotEqual(t, "s3cret!", hash)

	assert.True(t, h.Verify("s3cret!", hash))
	assert.False(t, h.Verify("s3cret", hash))
	assert.False(t, h.Verify("", hash))
}

func TestBcryptHasher_Salted(t *testing.T) {
	h := NewBcryptHasher(bcrypt.MinCost)

	a, err := h.Hash("same")
	require.NoError(t, err)
	b, err := h.Hash("same")
	require.NoError(t, err)

	assert.NotEqual(t, a, b)
	assert.True(t, h.Verify("same", a))
	assert.True(t, h.Verify("same", b))
}

func TestBcryptHasher_MalformedHash(t *testing.T) {
	h := NewBcryptHasher(bcrypt.MinCost)
	assert.False(t, h.Verify("pw", ""))
	assert.False(t, h.Verify("pw", "not-a-bcrypt-hash"))
}

func TestBcryptHasher_TooLong(t *testing.T) {
	h := NewBcryptHasher(bcrypt.MinCost)
	_, err := h.Hash(strings.Repeat("x", 73))
	require.ErrorIs(t, err, common.ErrValidation)
}

func TestNewBcryptHasher_CostFallback(t *testing.T) {
	assert.Equal(t, bcrypt.DefaultCost, NewBcryptHasher(0).cost)
	assert.Equal(t, bcrypt.DefaultCost, NewBcryptHasher(bcrypt.MaxCost+1).cost)
	assert.Equal(t, 12, NewBcryptHasher(12).cost)
}
