package store

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/omkar-mohanty/skie/internal/ident"
)

const upsertFileQuery = `
	INSERT INTO files (id, name, path, digest)
	VALUES (?, ?, ?, ?)
	ON CONFLICT(id) DO UPDATE SET
		name = excluded.name,
		path = excluded.path,
		digest = excluded.digest
`

// FileStore is the file entity view. Upserts are keyed by id, so a rename
// or retouch never produces a duplicate file row.
type FileStore struct {
	s *Store
}

var (
	_ Persist[File]             = FileStore{}
	_ Fetch[ident.FileID, File] = FileStore{}
)

type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

func upsertFile(ctx context.Context, e execer, f File) error {
	if _, err := e.ExecContext(ctx, upsertFileQuery, f.ID, f.Name, f.Path, f.Digest); err != nil {
		return fmt.Errorf("upsert file %q: %w", f.ID, err)
	}
	return nil
}

// Store upserts a single file row.
func (fs FileStore) Store(ctx context.Context, f File) error {
	if err := upsertFile(ctx, fs.s.db, f); err != nil {
		return err
	}
	fs.s.changed.Notify()
	return nil
}

// StoreAll upserts the batch in one transaction.
func (fs FileStore) StoreAll(ctx context.Context, files []File) error {
	if len(files) == 0 {
		return nil
	}
	tx, err := fs.s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx for files: %w", err)
	}
	defer tx.Rollback()

	for _, f := range files {
		if err := upsertFile(ctx, tx, f); err != nil {
			return err
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit files: %w", err)
	}
	fs.s.changed.Notify()
	return nil
}

// FetchBy returns the file row for id, or ErrNotFound.
func (fs FileStore) FetchBy(ctx context.Context, id ident.FileID) (File, error) {
	files, err := fs.FetchMany(ctx, []ident.FileID{id})
	if err != nil {
		return File{}, err
	}
	if len(files) == 0 {
		return File{}, fmt.Errorf("file %q: %w", id, ErrNotFound)
	}
	return files[0], nil
}

// FetchMany returns one row per present id; missing ids are dropped.
func (fs FileStore) FetchMany(ctx context.Context, ids []ident.FileID) ([]File, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	if err := checkKeyCount(len(ids)); err != nil {
		return nil, err
	}

	query := "SELECT id, name, path, digest FROM files WHERE id IN (" + placeholders(len(ids)) + ")"
	args := make([]any, len(ids))
	for i, id := range ids {
		args[i] = id
	}

	rows, err := fs.s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("fetch files: %w", err)
	}
	defer rows.Close()

	var files []File
	for rows.Next() {
		var f File
		if err := rows.Scan(&f.ID, &f.Name, &f.Path, &f.Digest); err != nil {
			return nil, fmt.Errorf("scan file: %w", err)
		}
		files = append(files, f)
	}
	return files, rows.Err()
}
