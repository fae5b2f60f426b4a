package auth

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadKeyMaterial_OK(t *testing.T) {
	dir := t.TempDir()
	priv := filepath.Join(dir, "private.pem")
	pub := filepath.Join(dir, "public.pem")
	require.NoError(t, os.WriteFile(priv, []byte("PRIVATE"), 0o600))
	require.NoError(t, os.WriteFile(pub, []byte("PUBLIC"), 0o644))

	km, err := LoadKeyMaterial(priv, pub)
	require.NoError(t, err)
	assert.Equal(t, []byte("PRIVATE"), km.PrivateKey)
	assert.Equal(t, []byte("PUBLIC"), km.PublicKey)
}

func TestLoadKeyMaterial_Errors(t *testing.T) {
	dir := t.TempDir()
	good := filepath.Join(dir, "good.pem")
	empty := filepath.Join(dir, "empty.pem")
	require.NoError(t, os.WriteFile(good, []byte("KEY"), 0o600))
	require.NoError(t, os.WriteFile(empty, nil, 0o600))
	missing := filepath.Join(dir, "missing.pem")

	tests := []struct {
		name    string
		priv    string
		pub     string
		wantErr string
	}{
		{"empty private path", "", good, "load private key"},
		{"missing private", missing, good, "load private key"},
		{"empty private file", empty, good, "load private key"},
		{"empty public path", good, "", "load public key"},
		{"missing public", good, missing, "load public key"},
		{"empty public file", good, empty, "load public key"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			km, err := LoadKeyMaterial(tt.priv, tt.pub)
			require.Error(t, err)
			assert.Nil(t, km)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestLoadKeyMaterial_ReadError(t *testing.T) {
	orig := readFile
	defer func() { readFile = orig }()

	boom := errors.New("boom")
	readFile = func(string) ([]byte, error) { return nil, boom }

	_, err := LoadKeyMaterial("a", "b")
	require.ErrorIs(t, err, boom)
}
