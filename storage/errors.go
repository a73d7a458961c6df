package storage

import "errors"

var (
	// ErrUnsupportedDialect is returned for SQL dialects other than sqlite and postgres.
	ErrUnsupportedDialect = errors.New("unsupported SQL dialect")

	// ErrUnsupportedBackend is returned by Open for unknown backends.
	ErrUnsupportedBackend = errors.New("unsupported storage backend")
)
