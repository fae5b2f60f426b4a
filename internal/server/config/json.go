package config

import (
	"encoding/json"
	"os"

	"github.com/dmitrijs2005/crmkeeper/internal/flagx"
	"github.com/dmitrijs2005/crmkeeper/internal/timex"
)

// JsonConfig is the on-disk shape of the configuration file. Durations use
// timex.Duration so both "600s" and integer nanoseconds are accepted.
// Keys missing from the file keep whatever value Config already had.
type JsonConfig struct {
	Env              string         `json:"env"`
	EndpointAddrHTTP string         `json:"endpoint_addr_http"`
	EndpointAddrGRPC string         `json:"endpoint_addr_grpc"`
	DatabaseDSN      string         `json:"database_dsn"`
	AccessTokenTTL   timex.Duration `json:"access_token_ttl"`
	RefreshTokenTTL  timex.Duration `json:"refresh_token_ttl"`
	SigningAlgorithm string         `json:"signing_algorithm"`
	PrivateKeyPath   string         `json:"private_key_path"`
	PublicKeyPath    string         `json:"public_key_path"`
	LinkSecret       string         `json:"link_secret"`
	LinkTTL          timex.Duration `json:"link_ttl"`
	CookieSecure     *bool          `json:"cookie_secure"`
	RequestTimeout   timex.Duration `json:"request_timeout"`
	AdminEmail       string         `json:"admin_email"`
	AdminPassword    string         `json:"admin_password"`
	RefreshStore     string         `json:"refresh_store"`
	RedisAddr        string         `json:"redis_addr"`
	RedisPassword    string         `json:"redis_password"`
	RedisDB          *int           `json:"redis_db"`
	JanitorSchedule  string         `json:"janitor_schedule"`
	S3RootUser       string         `json:"s3_root_user"`
	S3RootPassword   string         `json:"s3_root_password"`
	S3Region         string         `json:"s3_region"`
	S3BaseEndpoint   string         `json:"s3_base_endpoint"`
	S3PublicBucket   string         `json:"s3_public_bucket"`
	S3PrivateBucket  string         `json:"s3_private_bucket"`
}

// parseJson loads configuration values from a JSON file into config.
//
// The file path comes from flagx.ConfigPath (-c/-config, then CONFIG_PATH).
// When no path is configured nothing happens. An unreadable file or invalid
// JSON panics, like a malformed flag does.
func parseJson(config *Config) {
	path := flagx.ConfigPath()
	if path == "" {
		return
	}

	file, err := os.ReadFile(path)
	if err != nil {
		panic(err)
	}

	c := &JsonConfig{}
	if err := json.Unmarshal(file, c); err != nil {
		panic(err)
	}

	c.apply(config)
}

func (c *JsonConfig) apply(config *Config) {
	setString(&config.Env, c.Env)
	setString(&config.EndpointAddrHTTP, c.EndpointAddrHTTP)
	setString(&config.EndpointAddrGRPC, c.EndpointAddrGRPC)
	setString(&config.DatabaseDSN, c.DatabaseDSN)
	setString(&config.SigningAlgorithm, c.SigningAlgorithm)
	setString(&config.PrivateKeyPath, c.PrivateKeyPath)
	setString(&config.PublicKeyPath, c.PublicKeyPath)
	setString(&config.LinkSecret, c.LinkSecret)
	setString(&config.AdminEmail, c.AdminEmail)
	setString(&config.AdminPassword, c.AdminPassword)
	setString(&config.RefreshStore, c.RefreshStore)
	setString(&config.RedisAddr, c.RedisAddr)
	setString(&config.RedisPassword, c.RedisPassword)
	setString(&config.JanitorSchedule, c.JanitorSchedule)
	setString(&config.S3RootUser, c.S3RootUser)
	setString(&config.S3RootPassword, c.S3RootPassword)
	setString(&config.S3Region, c.S3Region)
	setString(&config.S3BaseEndpoint, c.S3BaseEndpoint)
	setString(&config.S3PublicBucket, c.S3PublicBucket)
	setString(&config.S3PrivateBucket, c.S3PrivateBucket)

	if c.AccessTokenTTL.Duration != 0 {
		config.AccessTokenTTL = c.AccessTokenTTL.Duration
	}
	if c.RefreshTokenTTL.Duration != 0 {
		config.RefreshTokenTTL = c.RefreshTokenTTL.Duration
	}
	if c.LinkTTL.Duration != 0 {
		config.LinkTTL = c.LinkTTL.Duration
	}
	if c.RequestTimeout.Duration != 0 {
		config.RequestTimeout = c.RequestTimeout.Duration
	}
	if c.CookieSecure != nil {
		config.CookieSecure = *c.CookieSecure
	}
	if c.RedisDB != nil {
		config.RedisDB = *c.RedisDB
	}
}

func setString(dst *string, v string) {
	if v != "" {
		*dst = v
	}
}
