package storage

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"go.uber.org/zap"
)

// Dialect selects the SQL flavour a SQLSIDStore speaks.
type Dialect string

const (
	DialectSQLite   Dialect = "sqlite"
	DialectPostgres Dialect = "postgres"
)

// SQLSIDStore persists allocated SIDs in a sid_allocations table. It
// satisfies compiler.SIDStore.
type SQLSIDStore struct {
	db      *sql.DB
	dialect Dialect
	logger  *zap.SugaredLogger
	now     func() time.Time
}

// NewSQLSIDStore wraps db and creates the allocations table if needed.
func NewSQLSIDStore(ctx context.Context, db *sql.DB, dialect Dialect, logger *zap.SugaredLogger) (*SQLSIDStore, error) {
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	switch dialect {
	case DialectSQLite, DialectPostgres:
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedDialect, dialect)
	}

	s := &SQLSIDStore{db: db, dialect: dialect, logger: logger, now: time.Now}
	if err := s.migrate(ctx); err != nil {
		return nil, err
	}
	return s, nil
}

const createSIDTable = `CREATE TABLE IF NOT EXISTS sid_allocations (
	sid INTEGER PRIMARY KEY,
	category TEXT NOT NULL,
	allocated_at TIMESTAMP NOT NULL
)`

func (s *SQLSIDStore) migrate(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, createSIDTable); err != nil {
		return fmt.Errorf("failed to create sid_allocations table: %w", err)
	}
	return nil
}

// LoadUsed returns every persisted SID in ascending order.
func (s *SQLSIDStore) LoadUsed(ctx context.Context) ([]int, error) {
	rows, err := s.db.QueryContext(ctx, "SELECT sid FROM sid_allocations ORDER BY sid")
	if err != nil {
		return nil, fmt.Errorf("failed to query SIDs: %w", err)
	}
	defer rows.Close()

	var out []int
	for rows.Next() {
		var sid int
		if err := rows.Scan(&sid); err != nil {
			return nil, fmt.Errorf("failed to scan SID: %w", err)
		}
		out = append(out, sid)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate SIDs: %w", err)
	}
	return out, nil
}

// MarkUsed records sid. A SID that is already present keeps its original
// category.
func (s *SQLSIDStore) MarkUsed(ctx context.Context, sid int, category string) error {
	_, err := s.db.ExecContext(ctx, s.insertQuery(), sid, category, s.now().UTC())
	if err != nil {
		return fmt.Errorf("failed to record SID %d: %w", sid, err)
	}
	s.logger.Debugw("SID persisted", "sid", sid, "category", category)
	return nil
}

// Categories returns how many SIDs each category has consumed.
func (s *SQLSIDStore) Categories(ctx context.Context) (map[string]int, error) {
	rows, err := s.db.QueryContext(ctx, "SELECT category, COUNT(*) FROM sid_allocations GROUP BY category")
	if err != nil {
		return nil, fmt.Errorf("failed to query SID categories: %w", err)
	}
	defer rows.Close()

	out := make(map[string]int)
	for rows.Next() {
		var (
			cat   string
			count int
		)
		if err := rows.Scan(&cat, &count); err != nil {
			return nil, fmt.Errorf("failed to scan SID category: %w", err)
		}
		out[cat] = count
	}
	return out, rows.Err()
}

// Close closes the underlying database.
func (s *SQLSIDStore) Close() error {
	return s.db.Close()
}

func (s *SQLSIDStore) insertQuery() string {
	if s.dialect == DialectPostgres {
		return "INSERT INTO sid_allocations (sid, category, allocated_at) VALUES ($1, $2, $3) ON CONFLICT (sid) DO NOTHING"
	}
	return "INSERT OR IGNORE INTO sid_allocations (sid, category, allocated_at) VALUES (?, ?, ?)"
}
