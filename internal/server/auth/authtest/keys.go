// Package authtest provides RSA key fixtures for tests across the server
// packages.
package authtest

import (
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"encoding/pem"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/dmitrijs2005/crmkeeper/internal/server/auth"
)

var (
	once     sync.Once
	cached   *auth.KeyMaterial
	cacheErr error
)

// KeyMaterial returns a PEM key pair shared by all tests of the binary;
// generating RSA keys is slow enough to matter.
func KeyMaterial(t testing.TB) *auth.KeyMaterial {
	t.Helper()
	once.Do(func() {
		cached, cacheErr = NewKeyMaterial()
	})
	if cacheErr != nil {
		t.Fatalf("generate rsa key: %v", cacheErr)
	}
	return cached
}

// NewKeyMaterial generates a fresh 2048-bit pair (PKCS#1 private, PKIX
// public).
func NewKeyMaterial() (*auth.KeyMaterial, error) {
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		return nil, err
	}
	pubDER, err := x509.MarshalPKIXPublicKey(&key.PublicKey)
	if err != nil {
		return nil, err
	}
	return &auth.KeyMaterial{
		PrivateKey: pem.EncodeToMemory(&pem.Block{Type: "RSA PRIVATE KEY", Bytes: x509.MarshalPKCS1PrivateKey(key)}),
		PublicKey:  pem.EncodeToMemory(&pem.Block{Type: "PUBLIC KEY", Bytes: pubDER}),
	}, nil
}

// WriteKeyFiles stores km under a temp dir and returns the two paths.
func WriteKeyFiles(t testing.TB, km *auth.KeyMaterial) (privatePath, publicPath string) {
	t.Helper()
	dir := t.TempDir()
	privatePath = filepath.Join(dir, "private_key.pem")
	publicPath = filepath.Join(dir, "public_key.pem")
	if err := os.WriteFile(privatePath, km.PrivateKey, 0o600); err != nil {
		t.Fatalf("write private key: %v", err)
	}
	if err := os.WriteFile(publicPath, km.PublicKey, 0o644); err != nil {
		t.Fatalf("write public key: %v", err)
	}
	return privatePath, publicPath
}

// Codec builds an RS256 codec with the default 600s/3600s lifetimes.
func Codec(t testing.TB, opts ...auth.CodecOption) *auth.TokenCodec {
	t.Helper()
	c, err := auth.NewTokenCodec(KeyMaterial(t), "RS256", 600*time.Second, 3600*time.Second, opts...)
	if err != nil {
		t.Fatalf("new token codec: %v", err)
	}
	return c
}
