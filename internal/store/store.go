// Package store is the deduplicating content store: a normalized SQLite
// persistence layer over three tables (files, chunks, file_sections).
//
// Access goes through two capability abstractions parameterized per entity
// kind — Persist for writes, Fetch for reads — exposed as typed views
// (Files, Chunks, Sections) over one shared Store. All mutation is
// mediated by the database, so callers share a *Store freely; the single
// write connection serializes writers where SQLite requires it.
//
// Write order inside any transaction is file row → chunk rows → section
// rows, matching the foreign keys. Constraint violations are programming
// bugs and surface as database errors with no partial commit visible.
package store

import (
	"cmp"
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"slices"
	"strings"

	_ "modernc.org/sqlite"

	"github.com/omkar-mohanty/skie/internal/ident"
	"github.com/omkar-mohanty/skie/internal/logging"
	"github.com/omkar-mohanty/skie/internal/notify"
)

var (
	// ErrNotFound is returned by FetchBy when no row matches the key.
	// Multi-key fetches never return it; they return what exists.
	ErrNotFound = errors.New("store: not found")

	// ErrTooManyKeys is returned when a multi-key fetch exceeds
	// MaxFetchKeys, the cap protecting the backend's placeholder limit.
	ErrTooManyKeys = errors.New("store: too many keys in one fetch")
)

// MaxFetchKeys is the per-call key cap for FetchMany.
const MaxFetchKeys = 512

// Persist is the write capability for one entity kind. StoreAll wraps the
// batch in a single transaction: a failure on any row rolls back the
// entire batch.
type Persist[T any] interface {
	Store(ctx context.Context, item T) error
	StoreAll(ctx context.Context, items []T) error
}

// Fetch is the read capability for one entity kind, keyed by K. FetchBy
// signals ErrNotFound; FetchMany silently drops missing keys and returns
// an empty result for empty input.
type Fetch[K comparable, T any] interface {
	FetchBy(ctx context.Context, key K) (T, error)
	FetchMany(ctx context.Context, keys []K) ([]T, error)
}

// File is a tracked filesystem object. Digest is the whole-file hash at
// last index time.
type File struct {
	ID     ident.FileID
	Name   string
	Path   string
	Digest ident.Digest
}

// Chunk is a content-addressed byte block. Rows are unique by digest; the
// first-seen size is authoritative.
type Chunk struct {
	Digest ident.Digest
	Size   int64
}

// Section links a file to one of its chunks: the chunk's byte range
// [Offset, Offset+Length) within the file. Keyed by (FileID, Offset).
type Section struct {
	FileID ident.FileID
	Digest ident.Digest
	Length int64
	Offset int64
}

// Store owns the database handle.
type Store struct {
	db      *sql.DB
	path    string
	changed *notify.Signal
	logger  *slog.Logger
}

// New opens (or creates) the database at path and runs all pending schema
// migrations. Migrations are idempotent and versioned; a migration failure
// at startup is fatal to the caller.
func New(path string, logger *slog.Logger) (*Store, error) {
	logger = logging.Default(logger).With("component", "store")

	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o750); err != nil {
			return nil, fmt.Errorf("create store directory: %w", err)
		}
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}

	// One writer connection; SQLite serializes the rest.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if _, err := db.Exec("PRAGMA journal_mode = WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("set journal_mode: %w", err)
	}
	if _, err := db.Exec("PRAGMA foreign_keys = ON"); err != nil {
		db.Close()
		return nil, fmt.Errorf("set foreign_keys: %w", err)
	}

	if err := runMigrations(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}

	return &Store{
		db:      db,
		path:    path,
		changed: notify.NewSignal(),
		logger:  logger,
	}, nil
}

// Close closes the underlying database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// Changed returns the broadcast signal fired after every committed
// mutation. The upload layer waits on it instead of polling.
func (s *Store) Changed() *notify.Signal {
	return s.changed
}

// Files returns the file entity view.
func (s *Store) Files() FileStore { return FileStore{s} }

// Chunks returns the chunk entity view.
func (s *Store) Chunks() ChunkStore { return ChunkStore{s} }

// Sections returns the file-section entity view.
func (s *Store) Sections() SectionStore { return SectionStore{s} }

// Empty reports whether the store tracks no files yet (fresh install).
func (s *Store) Empty(ctx context.Context) (bool, error) {
	var count int64
	if err := s.db.QueryRowContext(ctx, "SELECT count(*) FROM files").Scan(&count); err != nil {
		return false, fmt.Errorf("count files: %w", err)
	}
	return count == 0, nil
}

// FileByPath resolves a file row through the secondary index on
// files.path. Returns ErrNotFound when the path is untracked.
func (s *Store) FileByPath(ctx context.Context, path string) (File, error) {
	row := s.db.QueryRowContext(ctx,
		"SELECT id, name, path, digest FROM files WHERE path = ?", path)

	var f File
	err := row.Scan(&f.ID, &f.Name, &f.Path, &f.Digest)
	if errors.Is(err, sql.ErrNoRows) {
		return File{}, fmt.Errorf("file by path %q: %w", path, ErrNotFound)
	}
	if err != nil {
		return File{}, fmt.Errorf("file by path %q: %w", path, err)
	}
	return f, nil
}

// RemoveFile deletes a file row and all its sections in one transaction.
// Chunks are never deleted; unreferenced chunks are left for a future
// garbage collector.
func (s *Store) RemoveFile(ctx context.Context, id ident.FileID) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx for remove file %q: %w", id, err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx,
		"DELETE FROM file_sections WHERE file_id = ?", id); err != nil {
		return fmt.Errorf("delete sections of %q: %w", id, err)
	}
	if _, err := tx.ExecContext(ctx,
		"DELETE FROM files WHERE id = ?", id); err != nil {
		return fmt.Errorf("delete file %q: %w", id, err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit remove file %q: %w", id, err)
	}
	s.changed.Notify()
	return nil
}

// CommitIndex persists a full reindex result atomically: the file row,
// then its chunks, then its sections, then a sweep deleting stale sections
// at or beyond the new file size. Either everything becomes visible or
// nothing does.
func (s *Store) CommitIndex(ctx context.Context, f File, chunks []Chunk, sections []Section) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx for index %q: %w", f.ID, err)
	}
	defer tx.Rollback()

	if err := upsertFile(ctx, tx, f); err != nil {
		return err
	}
	for _, c := range chunks {
		if err := insertChunk(ctx, tx, c); err != nil {
			return err
		}
	}

	sections = slices.Clone(sections)
	slices.SortFunc(sections, func(a, b Section) int {
		return cmp.Compare(a.Offset, b.Offset)
	})

	var size int64
	for _, sec := range sections {
		if err := upsertSection(ctx, tx, sec); err != nil {
			return err
		}
		// Shifted cut points can leave a previous run's row strictly
		// inside this section's range; such a row overlaps and must go.
		if _, err := tx.ExecContext(ctx,
			"DELETE FROM file_sections WHERE file_id = ? AND offset > ? AND offset < ?",
			f.ID, sec.Offset, sec.Offset+sec.Length); err != nil {
			return fmt.Errorf("sweep overlapping sections of %q: %w", f.ID, err)
		}
		size = sec.Offset + sec.Length
	}

	// A shrinking file leaves stale rows past the new end; sweep those too.
	if _, err := tx.ExecContext(ctx,
		"DELETE FROM file_sections WHERE file_id = ? AND offset >= ?", f.ID, size); err != nil {
		return fmt.Errorf("sweep stale sections of %q: %w", f.ID, err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit index %q: %w", f.ID, err)
	}
	s.changed.Notify()
	return nil
}

// IsNotFound reports whether err is the store's not-found condition.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}

// placeholders builds the "?, ?, …" list for an IN clause.
func placeholders(n int) string {
	return strings.TrimSuffix(strings.Repeat("?, ", n), ", ")
}

func checkKeyCount(n int) error {
	if n > MaxFetchKeys {
		return fmt.Errorf("%w: %d > %d", ErrTooManyKeys, n, MaxFetchKeys)
	}
	return nil
}
