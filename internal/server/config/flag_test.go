package config

import (
	"os"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseFlags(t *testing.T) {
	origArgs := os.Args
	t.Cleanup(func() { os.Args = origArgs })

	tests := []struct {
		expected    *Config
		name        string
		args        []string
		expectPanic bool
	}{
		{name: "all flags", args: []string{"cmd",
			"-a", "127.0.0.1:9090", "-g", ":6000", "-d", "db", "-t", "300", "-r", "900",
			"-s", "secret", "-u", "user", "-p", "password", "-e", "http://endpoint",
			"-private-key", "/k/priv.pem", "-public-key", "/k/pub.pem",
			"-store", "redis", "-redis", "redis:6379",
		}, expected: &Config{
			EndpointAddrHTTP: "127.0.0.1:9090",
			EndpointAddrGRPC: ":6000",
			DatabaseDSN:      "db",
			AccessTokenTTL:   300 * time.Second,
			RefreshTokenTTL:  900 * time.Second,
			LinkSecret:       "secret",
			S3RootUser:       "user",
			S3RootPassword:   "password",
			S3BaseEndpoint:   "http://endpoint",
			PrivateKeyPath:   "/k/priv.pem",
			PublicKeyPath:    "/k/pub.pem",
			RefreshStore:     "redis",
			RedisAddr:        "redis:6379",
		}},
		{name: "foreign flags are ignored", args: []string{"cmd", "-config", "x.json", "-test.v", "-t", "60", "-r", "120"},
			expected: &Config{AccessTokenTTL: time.Minute, RefreshTokenTTL: 2 * time.Minute}},
		{name: "non-numeric ttl panics", args: []string{"cmd", "-t", "ten"}, expectPanic: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			os.Args = tt.args

			config := &Config{}

			if !tt.expectPanic {
				require.NotPanics(t, func() { parseFlags(config) })
				assert.Empty(t, cmp.Diff(tt.expected, config))
			} else {
				require.Panics(t, func() { parseFlags(config) })
			}
		})
	}
}
