package config

import "github.com/ilyakaznacheev/cleanenv"

// readEnv is a seam for tests.
var readEnv = cleanenv.ReadEnv

// parseEnv overlays fields tagged with `env:"..."` from the process
// environment. Variables that are not set leave the current value intact.
func parseEnv(config *Config) error {
	return readEnv(config)
}
