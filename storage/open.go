package storage

import (
	"context"
	"fmt"
	"io"
	"strings"

	"sigforge/compiler"

	"go.uber.org/zap"
)

// Backends understood by Open.
const (
	BackendMemory   = "memory"
	BackendSQLite   = "sqlite"
	BackendPostgres = "postgres"
	BackendRedis    = "redis"
)

// Config selects and configures the SID store backend.
type Config struct {
	Backend    string
	SQLitePath string
	Postgres   PostgresConfig
	Redis      RedisConfig
}

// Store is a SID store that owns its connection.
type Store interface {
	compiler.SIDStore
	io.Closer
}

type memoryStore struct {
	*compiler.MemorySIDStore
}

func (memoryStore) Close() error { return nil }

// Open builds the SID store for cfg.Backend. An empty backend means memory.
func Open(ctx context.Context, cfg Config, logger *zap.SugaredLogger) (Store, error) {
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}

	switch backend := strings.ToLower(cfg.Backend); backend {
	case "", BackendMemory:
		return memoryStore{compiler.NewMemorySIDStore()}, nil

	case BackendSQLite:
		db, err := OpenSQLite(cfg.SQLitePath, logger)
		if err != nil {
			return nil, err
		}
		s, err := NewSQLSIDStore(ctx, db, DialectSQLite, logger)
		if err != nil {
			_ = db.Close()
			return nil, err
		}
		return s, nil

	case BackendPostgres:
		db, err := OpenPostgres(ctx, cfg.Postgres, logger)
		if err != nil {
			return nil, err
		}
		s, err := NewSQLSIDStore(ctx, db, DialectPostgres, logger)
		if err != nil {
			_ = db.Close()
			return nil, err
		}
		return s, nil

	case BackendRedis:
		return NewRedisSIDStore(ctx, cfg.Redis, logger)

	default:
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedBackend, backend)
	}
}
