package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"spesebook/internal/cache"
	"spesebook/internal/core"
	"spesebook/internal/log"

	"modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"
)

// instantLayout is fixed width so that text comparison orders instants
// chronologically.
const instantLayout = "2006-01-02T15:04:05.000000000Z"

// ErrRuleAdvanced reports that a rule's next trigger no longer matches the
// value a materialization was computed from.
var ErrRuleAdvanced = errors.New("recurring rule advanced concurrently")

type Options struct {
	Path              string
	Location          *time.Location // zone used to derive local days; nil means time.Local
	CategoryCacheSize int
	CategoryCacheTTL  time.Duration
	Logger            *log.Logger
}

// Store is the SQLite-backed category and expense store.
type Store struct {
	db         *sql.DB
	loc        *time.Location
	logger     *log.Logger
	categories *cache.LRUCache[core.Category]

	// catMu orders cache fills against invalidations; catGen counts
	// invalidations so a lookup that raced a write does not cache a stale row.
	catMu  sync.Mutex
	catGen uint64
}

// Open creates the database file if needed, applies pending migrations and
// returns a ready store. Every failure wraps core.ErrStorageUnavailable.
func Open(ctx context.Context, opts Options) (*Store, error) {
	if opts.Path == "" {
		return nil, fmt.Errorf("%w: empty database path", core.ErrStorageUnavailable)
	}
	if opts.Location == nil {
		opts.Location = time.Local
	}
	if opts.Logger == nil {
		opts.Logger = log.Default(log.ComponentStorage)
	}
	if opts.CategoryCacheSize <= 0 {
		opts.CategoryCacheSize = 256
	}
	if opts.CategoryCacheTTL <= 0 {
		opts.CategoryCacheTTL = 10 * time.Minute
	}
	logger := opts.Logger.WithComponent(log.ComponentStorage)

	if err := os.MkdirAll(filepath.Dir(opts.Path), 0755); err != nil {
		return nil, fmt.Errorf("%w: create db directory: %w", core.ErrStorageUnavailable, err)
	}

	version, err := RunMigrations(opts.Path)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", core.ErrStorageUnavailable, err)
	}

	db, err := sql.Open("sqlite", opts.Path+"?_pragma=foreign_keys(1)&_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("%w: open sqlite database: %w", core.ErrStorageUnavailable, err)
	}
	// Single writer; one connection also keeps the pragmas in force.
	db.SetMaxOpenConns(1)

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("%w: ping database: %w", core.ErrStorageUnavailable, err)
	}

	logger.InfoContext(ctx, "Store opened",
		log.FieldPath, opts.Path,
		log.FieldOperation, log.OpMigrate,
		"schema_version", version)

	return &Store{
		db:         db,
		loc:        opts.Location,
		logger:     logger,
		categories: cache.NewLRUCache[core.Category](opts.CategoryCacheSize, opts.CategoryCacheTTL),
	}, nil
}

// Location returns the zone used to derive local days.
func (s *Store) Location() *time.Location {
	return s.loc
}

// CategoryCache exposes the category lookup cache for periodic cleanup.
func (s *Store) CategoryCache() cache.Cleaner {
	return s.categories
}

func (s *Store) Close() error {
	s.categories.Purge()
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

func (s *Store) withTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback()

	if err := fn(tx); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}
	return nil
}

// FormatInstant renders t in the persisted instant form.
func FormatInstant(t time.Time) string {
	return t.UTC().Format(instantLayout)
}

func parseInstant(s string) (time.Time, error) {
	t, err := time.Parse(instantLayout, s)
	if err == nil {
		return t, nil
	}
	t, err = time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid instant %q: %w", s, err)
	}
	return t.UTC(), nil
}

func isUniqueViolation(err error) bool {
	var se *sqlite.Error
	if errors.As(err, &se) {
		return se.Code() == sqlite3.SQLITE_CONSTRAINT_UNIQUE
	}
	return false
}

func nullString(p *string) sql.NullString {
	if p == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: *p, Valid: true}
}

func stringPtr(ns sql.NullString) *string {
	if !ns.Valid {
		return nil
	}
	v := ns.String
	return &v
}
