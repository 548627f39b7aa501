package store

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/omkar-mohanty/skie/internal/ident"
)

// The conflict target is the primary key (file_id, offset): a reindex
// replaces the chunk digest and length at each offset it touches and
// leaves other offsets alone. Callers doing a full reindex must also sweep
// sections past the new file length (CommitIndex does).
const upsertSectionQuery = `
	INSERT INTO file_sections (file_id, chunk_digest, length, offset)
	VALUES (?, ?, ?, ?)
	ON CONFLICT(file_id, offset) DO UPDATE SET
		chunk_digest = excluded.chunk_digest,
		length = excluded.length
`

// SectionStore is the file-section entity view: the ordered linkage
// between a file and its constituent chunks.
type SectionStore struct {
	s *Store
}

var (
	_ Persist[Section]               = SectionStore{}
	_ Fetch[ident.FileID, []Section] = SectionStore{}
)

func upsertSection(ctx context.Context, e execer, sec Section) error {
	if _, err := e.ExecContext(ctx, upsertSectionQuery,
		sec.FileID, sec.Digest, sec.Length, sec.Offset); err != nil {
		return fmt.Errorf("upsert section (%q, %d): %w", sec.FileID, sec.Offset, err)
	}
	return nil
}

// Store upserts a single section row.
func (ss SectionStore) Store(ctx context.Context, sec Section) error {
	if err := upsertSection(ctx, ss.s.db, sec); err != nil {
		return err
	}
	ss.s.changed.Notify()
	return nil
}

// StoreAll upserts the batch in one transaction; a failure on any row
// rolls back the entire batch.
func (ss SectionStore) StoreAll(ctx context.Context, sections []Section) error {
	if len(sections) == 0 {
		return nil
	}
	tx, err := ss.s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx for sections: %w", err)
	}
	defer tx.Rollback()

	for _, sec := range sections {
		if err := upsertSection(ctx, tx, sec); err != nil {
			return err
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit sections: %w", err)
	}
	ss.s.changed.Notify()
	return nil
}

// FetchBy returns all sections of one file sorted by offset ascending,
// ready for reconstruction. An untracked or empty file yields ErrNotFound.
func (ss SectionStore) FetchBy(ctx context.Context, fileID ident.FileID) ([]Section, error) {
	rows, err := ss.s.db.QueryContext(ctx, `
		SELECT file_id, chunk_digest, length, offset
		FROM file_sections
		WHERE file_id = ?
		ORDER BY offset ASC
	`, fileID)
	if err != nil {
		return nil, fmt.Errorf("fetch sections of %q: %w", fileID, err)
	}
	defer rows.Close()

	sections, err := scanSections(rows)
	if err != nil {
		return nil, err
	}
	if len(sections) == 0 {
		return nil, fmt.Errorf("sections of %q: %w", fileID, ErrNotFound)
	}
	return sections, nil
}

// FetchMany returns one group per file that has sections, each group
// sorted by offset. The scan is ordered by (file_id, offset) so grouping
// is a single pass over consecutive runs.
func (ss SectionStore) FetchMany(ctx context.Context, fileIDs []ident.FileID) ([][]Section, error) {
	if len(fileIDs) == 0 {
		return nil, nil
	}
	if err := checkKeyCount(len(fileIDs)); err != nil {
		return nil, err
	}

	query := `
		SELECT file_id, chunk_digest, length, offset
		FROM file_sections
		WHERE file_id IN (` + placeholders(len(fileIDs)) + `)
		ORDER BY file_id, offset ASC
	`
	args := make([]any, len(fileIDs))
	for i, id := range fileIDs {
		args[i] = id
	}

	rows, err := ss.s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("fetch sections: %w", err)
	}
	defer rows.Close()

	flat, err := scanSections(rows)
	if err != nil {
		return nil, err
	}

	var grouped [][]Section
	var current []Section
	for _, sec := range flat {
		if len(current) > 0 && current[0].FileID != sec.FileID {
			grouped = append(grouped, current)
			current = nil
		}
		current = append(current, sec)
	}
	if len(current) > 0 {
		grouped = append(grouped, current)
	}
	return grouped, nil
}

func scanSections(rows *sql.Rows) ([]Section, error) {
	var sections []Section
	for rows.Next() {
		var sec Section
		if err := rows.Scan(&sec.FileID, &sec.Digest, &sec.Length, &sec.Offset); err != nil {
			return nil, fmt.Errorf("scan section: %w", err)
		}
		sections = append(sections, sec)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return sections, nil
}
