package config

import (
	"fmt"
	"os"
	"strings"
)

// SecretSource resolves a named secret. ok is false when it is not set.
type SecretSource interface {
	Secret(key string) (value string, ok bool, err error)
}

// EnvSecretSource reads SIGFORGE_<KEY>, or the file named by
// SIGFORGE_<KEY>_FILE as mounted by container orchestrators.
type EnvSecretSource struct {
	// Lookup defaults to os.LookupEnv.
	Lookup func(string) (string, bool)
}

func (e EnvSecretSource) Secret(key string) (string, bool, error) {
	lookup := e.Lookup
	if lookup == nil {
		lookup = os.LookupEnv
	}
	envKey := EnvPrefix + "_" + strings.ToUpper(key)
	if v, ok := lookup(envKey); ok && v != "" {
		return v, true, nil
	}
	path, ok := lookup(envKey + "_FILE")
	if !ok || path == "" {
		return "", false, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return "", false, fmt.Errorf("failed to read secret file for %s: %w", envKey, err)
	}
	return strings.TrimSpace(string(data)), true, nil
}

// LoadSecrets overrides credentials in cfg from the environment.
func LoadSecrets(cfg *Config) error {
	return LoadSecretsFrom(EnvSecretSource{}, cfg)
}

// LoadSecretsFrom overrides credentials in cfg with those src provides.
// Unset secrets leave the configured values alone.
func LoadSecretsFrom(src SecretSource, cfg *Config) error {
	targets := []struct {
		key string
		dst *string
	}{
		{"AUTH_JWT_SECRET", &cfg.API.Auth.JWTSecret},
		{"AUTH_USERNAME", &cfg.API.Auth.Username},
		{"AUTH_PASSWORD", &cfg.API.Auth.Password},
		{"REDIS_PASSWORD", &cfg.Storage.Redis.Password},
		{"POSTGRES_DSN", &cfg.Storage.Postgres.DSN},
	}
	for _, t := range targets {
		v, ok, err := src.Secret(t.key)
		if err != nil {
			return fmt.Errorf("failed to load secret %s: %w", t.key, err)
		}
		if ok {
			*t.dst = v
		}
	}
	return nil
}
