package auth

import (
	"errors"
	"fmt"
	"os"
)

// KeyMaterial is the PEM-encoded RSA key pair used for access and refresh
// tokens. It is read once at startup and only consumed by NewTokenCodec.
type KeyMaterial struct {
	PrivateKey []byte
	PublicKey  []byte
}

// readFile is a seam for tests.
var readFile = os.ReadFile

// LoadKeyMaterial reads both PEM files. Either one missing or empty is an
// error; the caller is expected to abort startup.
func LoadKeyMaterial(privatePath, publicPath string) (*KeyMaterial, error) {
	priv, err := readKey(privatePath)
	if err != nil {
		return nil, fmt.Errorf("load private key: %w", err)
	}
	pub, err := readKey(publicPath)
	if err != nil {
		return nil, fmt.Errorf("load public key: %w", err)
	}
	return &KeyMaterial{PrivateKey: priv, PublicKey: pub}, nil
}

func readKey(path string) ([]byte, error) {
	if path == "" {
		return nil, errors.New("path is empty")
	}
	b, err := readFile(path)
	if err != nil {
		return nil, err
	}
	if len(b) == 0 {
		return nil, fmt.Errorf("%s is empty", path)
	}
	return b, nil
}
