package store

import (
	"context"
	"fmt"

	"github.com/omkar-mohanty/skie/internal/ident"
)

// Insert-or-ignore is the dedup mechanism: a second write of the same
// digest wins nothing, and the first-seen size stays authoritative. Two
// differing sizes for one digest would contradict the hash.
const insertChunkQuery = "INSERT OR IGNORE INTO chunks (digest, size) VALUES (?, ?)"

// ChunkStore is the chunk entity view. Chunk rows are unique by digest
// and never mutated.
type ChunkStore struct {
	s *Store
}

var (
	_ Persist[Chunk]             = ChunkStore{}
	_ Fetch[ident.Digest, Chunk] = ChunkStore{}
)

func insertChunk(ctx context.Context, e execer, c Chunk) error {
	if _, err := e.ExecContext(ctx, insertChunkQuery, c.Digest, c.Size); err != nil {
		return fmt.Errorf("insert chunk %s: %w", c.Digest, err)
	}
	return nil
}

// Store inserts a chunk row unless its digest already exists.
func (cs ChunkStore) Store(ctx context.Context, c Chunk) error {
	if err := insertChunk(ctx, cs.s.db, c); err != nil {
		return err
	}
	cs.s.changed.Notify()
	return nil
}

// StoreAll inserts the batch in one transaction. Duplicate digests within
// the batch collapse to the first row.
func (cs ChunkStore) StoreAll(ctx context.Context, chunks []Chunk) error {
	if len(chunks) == 0 {
		return nil
	}
	tx, err := cs.s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx for chunks: %w", err)
	}
	defer tx.Rollback()

	for _, c := range chunks {
		if err := insertChunk(ctx, tx, c); err != nil {
			return err
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit chunks: %w", err)
	}
	cs.s.changed.Notify()
	return nil
}

// FetchBy returns the chunk row for digest, or ErrNotFound.
func (cs ChunkStore) FetchBy(ctx context.Context, digest ident.Digest) (Chunk, error) {
	chunks, err := cs.FetchMany(ctx, []ident.Digest{digest})
	if err != nil {
		return Chunk{}, err
	}
	if len(chunks) == 0 {
		return Chunk{}, fmt.Errorf("chunk %s: %w", digest, ErrNotFound)
	}
	return chunks[0], nil
}

// FetchMany returns one row per present digest; missing digests are
// dropped.
func (cs ChunkStore) FetchMany(ctx context.Context, digests []ident.Digest) ([]Chunk, error) {
	if len(digests) == 0 {
		return nil, nil
	}
	if err := checkKeyCount(len(digests)); err != nil {
		return nil, err
	}

	query := "SELECT digest, size FROM chunks WHERE digest IN (" + placeholders(len(digests)) + ")"
	args := make([]any, len(digests))
	for i, d := range digests {
		args[i] = d
	}

	rows, err := cs.s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("fetch chunks: %w", err)
	}
	defer rows.Close()

	var chunks []Chunk
	for rows.Next() {
		var c Chunk
		if err := rows.Scan(&c.Digest, &c.Size); err != nil {
			return nil, fmt.Errorf("scan chunk: %w", err)
		}
		chunks = append(chunks, c)
	}
	return chunks, rows.Err()
}
