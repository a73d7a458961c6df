package bootstrap

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strings"
	"syscall"
	"time"

	"sigforge/config"
	"sigforge/storage"

	"go.uber.org/zap"
)

const storeConnectTimeout = 10 * time.Second

// StorageConfig converts the storage section for storage.Open.
func StorageConfig(cfg config.StorageConfig) storage.Config {
	return storage.Config{
		Backend:    cfg.Backend,
		SQLitePath: cfg.SQLitePath,
		Postgres: storage.PostgresConfig{
			DSN:             cfg.Postgres.DSN,
			MaxOpenConns:    cfg.Postgres.MaxOpenConns,
			MaxIdleConns:    cfg.Postgres.MaxIdleConns,
			ConnMaxLifetime: cfg.Postgres.ConnMaxLifetime,
		},
		Redis: storage.RedisConfig{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
			PoolSize: cfg.Redis.PoolSize,
			Key:      cfg.Redis.Key,
		},
	}
}

// InitSIDStore opens the configured SID store. Connection failures come
// back with remediation hints.
func InitSIDStore(ctx context.Context, cfg config.StorageConfig, sugar *zap.SugaredLogger) (storage.Store, error) {
	ctx, cancel := context.WithTimeout(ctx, storeConnectTimeout)
	defer cancel()

	store, err := storage.Open(ctx, StorageConfig(cfg), sugar)
	if err != nil {
		return nil, &StoreError{Hint: ClassifyStoreError(err, cfg), Err: err}
	}
	sugar.Infow("SID store ready", "backend", backendName(cfg.Backend))
	return store, nil
}

// StoreError carries a remediation hint for a store that failed to open.
type StoreError struct {
	Hint string
	Err  error
}

func (e *StoreError) Error() string { return e.Hint }

func (e *StoreError) Unwrap() error { return e.Err }

func backendName(b string) string {
	if b == "" {
		return storage.BackendMemory
	}
	return b
}

// storeTarget names what the backend connects to, without credentials.
func storeTarget(cfg config.StorageConfig) string {
	switch cfg.Backend {
	case storage.BackendSQLite:
		return cfg.SQLitePath
	case storage.BackendRedis:
		return cfg.Redis.Addr
	case storage.BackendPostgres:
		return "the configured postgres DSN"
	}
	return "memory"
}

// ClassifyStoreError turns a store connection error into a message with
// likely causes and remediation.
func ClassifyStoreError(err error, cfg config.StorageConfig) string {
	if err == nil {
		return ""
	}
	backend := backendName(cfg.Backend)
	target := storeTarget(cfg)
	errStr := strings.ToLower(err.Error())

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return fmt.Sprintf("Connection to %s at %s timed out.\n"+
			"  Remediation:\n"+
			"  - Check that %s is running and reachable\n"+
			"  - Verify firewall rules between this host and the server", backend, target, backend)
	}

	if errors.Is(err, syscall.ECONNREFUSED) || strings.Contains(errStr, "connection refused") {
		return fmt.Sprintf("Connection refused by %s at %s.\n"+
			"  This usually means %s is not running.\n"+
			"  Remediation:\n"+
			"  - Start the server or switch storage.backend to memory or sqlite\n"+
			"  - Verify the address in config.yaml", backend, target, backend)
	}

	if strings.Contains(errStr, "no such host") || strings.Contains(errStr, "lookup") {
		return fmt.Sprintf("Cannot resolve hostname for %s at %s.\n"+
			"  Remediation:\n"+
			"  - Verify the hostname is correct\n"+
			"  - Check DNS configuration", backend, target)
	}

	if strings.Contains(errStr, "authentication") || strings.Contains(errStr, "password") || strings.Contains(errStr, "noauth") {
		return fmt.Sprintf("Authentication failed for %s at %s.\n"+
			"  Remediation:\n"+
			"  - Check SIGFORGE_REDIS_PASSWORD or SIGFORGE_POSTGRES_DSN", backend, target)
	}

	if errors.Is(err, storage.ErrUnsupportedBackend) {
		return fmt.Sprintf("Unsupported storage backend %q.\n"+
			"  Remediation:\n"+
			"  - Use one of memory, sqlite, postgres or redis", backend)
	}

	if backend == storage.BackendSQLite && (strings.Contains(errStr, "permission denied") || strings.Contains(errStr, "read-only")) {
		return fmt.Sprintf("SQLite database %s is not writable.\n"+
			"  Remediation:\n"+
			"  - Check ownership and permissions of the file and its directory", target)
	}

	return fmt.Sprintf("Failed to open %s SID store at %s: %v", backend, target, err)
}
