package config

import (
	"flag"
	"os"
	"time"

	"github.com/dmitrijs2005/crmkeeper/internal/flagx"
)

var knownFlags = []string{
	"-a", "-g", "-d", "-t", "-r", "-s", "-u", "-p", "-e",
	"-private-key", "-public-key", "-store", "-redis",
}

// parseFlags populates selected server Config fields from command-line flags.
//
// Supported flags:
//
//	-a string            HTTP bind address (e.g., ":8080")
//	-g string            gRPC bind address (e.g., ":50051")
//	-d string            PostgreSQL DSN
//	-t int               access token ttl, seconds
//	-r int               refresh token ttl, seconds
//	-s string            download-link HMAC secret
//	-u string            S3 root user
//	-p string            S3 root password
//	-e string            S3 base endpoint (e.g., "http://127.0.0.1:9000/")
//	-private-key string  PEM file with the RSA private key
//	-public-key string   PEM file with the RSA public key
//	-store string        refresh-token store: postgres or redis
//	-redis string        redis address
//
// os.Args is first filtered through flagx.FilterArgs so flags owned by other
// components (e.g. -config, -test.*) do not trip the parser.
func parseFlags(config *Config) {
	args := flagx.FilterArgs(os.Args[1:], knownFlags)

	fs := flag.NewFlagSet("main", flag.ContinueOnError)

	fs.StringVar(&config.EndpointAddrHTTP, "a", config.EndpointAddrHTTP, "address and port to run HTTP server")
	fs.StringVar(&config.EndpointAddrGRPC, "g", config.EndpointAddrGRPC, "address and port to run gRPC server")
	fs.StringVar(&config.DatabaseDSN, "d", config.DatabaseDSN, "database DSN")

	accessTTL := fs.Int("t", int(config.AccessTokenTTL.Seconds()), "access token ttl (in seconds)")
	refreshTTL := fs.Int("r", int(config.RefreshTokenTTL.Seconds()), "refresh token ttl (in seconds)")

	fs.StringVar(&config.LinkSecret, "s", config.LinkSecret, "download link secret")
	fs.StringVar(&config.S3RootUser, "u", config.S3RootUser, "S3 root user")
	fs.StringVar(&config.S3RootPassword, "p", config.S3RootPassword, "S3 root password")
	fs.StringVar(&config.S3BaseEndpoint, "e", config.S3BaseEndpoint, "S3 base endpoint")
	fs.StringVar(&config.PrivateKeyPath, "private-key", config.PrivateKeyPath, "RSA private key (PEM)")
	fs.StringVar(&config.PublicKeyPath, "public-key", config.PublicKeyPath, "RSA public key (PEM)")
	fs.StringVar(&config.RefreshStore, "store", config.RefreshStore, "refresh token store (postgres|redis)")
	fs.StringVar(&config.RedisAddr, "redis", config.RedisAddr, "redis address")

	if err := fs.Parse(args); err != nil {
		panic(err)
	}

	config.AccessTokenTTL = time.Duration(*accessTTL) * time.Second
	config.RefreshTokenTTL = time.Duration(*refreshTTL) * time.Second
}
