// Package indexer drives the chunking pipeline over a file and lands the
// result in the content store.
//
// ChunkSource is the stateless adapter from pipeline records to
// store-ready entity vectors. Indexer wraps it with file identity
// management (reuse the id of a known path, mint one otherwise), a
// whole-file digest computed on the same single read as the chunking, and
// the transactional commit in foreign-key order.
package indexer

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"

	"lukechampine.com/blake3"

	"github.com/omkar-mohanty/skie/internal/engine"
	"github.com/omkar-mohanty/skie/internal/ident"
	"github.com/omkar-mohanty/skie/internal/logging"
	"github.com/omkar-mohanty/skie/internal/store"
)

// ChunkSource streams r through the pipeline and maps each record to both
// a chunk entity and a section entity for fileID, in index order.
//
// The returned chunk list is not deduplicated in memory; duplicate digests
// collapse in the store's insert-or-ignore path. Callers must persist
// chunks before sections to satisfy the foreign key.
func ChunkSource(ctx context.Context, fileID ident.FileID, r io.Reader, p engine.Params) ([]store.Chunk, []store.Section, error) {
	records, err := engine.Chunk(ctx, r, p)
	if err != nil {
		return nil, nil, err
	}

	chunks := make([]store.Chunk, 0, len(records))
	sections := make([]store.Section, 0, len(records))
	for _, rec := range records {
		chunks = append(chunks, store.Chunk{
			Digest: rec.Digest,
			Size:   int64(rec.Length),
		})
		sections = append(sections, store.Section{
			FileID: fileID,
			Digest: rec.Digest,
			Length: int64(rec.Length),
			Offset: int64(rec.Offset),
		})
	}
	return chunks, sections, nil
}

// Indexer indexes files on behalf of the watch loop.
type Indexer struct {
	store  *store.Store
	params engine.Params
	logger *slog.Logger
}

// New creates an Indexer writing to st with the given pipeline parameters.
func New(st *store.Store, params engine.Params, logger *slog.Logger) *Indexer {
	logger = logging.Default(logger)
	return &Indexer{
		store:  st,
		params: params,
		logger: logger.With("component", "indexer"),
	}
}

// IndexFile chunks the file at path and commits the file row, its chunks,
// and its section map in one transaction. The file is read sequentially
// exactly once: the whole-file digest is teed off the chunking read.
func (ix *Indexer) IndexFile(ctx context.Context, path string) error {
	id, err := ix.resolveID(ctx, path)
	if err != nil {
		return err
	}

	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("open %q: %w", path, err)
	}
	defer f.Close()

	whole := blake3.New(ident.DigestSize, nil)
	chunks, sections, err := ChunkSource(ctx, id, io.TeeReader(f, whole), ix.params)
	if err != nil {
		return fmt.Errorf("chunk %q: %w", path, err)
	}

	var digest ident.Digest
	copy(digest[:], whole.Sum(nil))

	file := store.File{
		ID:     id,
		Name:   filepath.Base(path),
		Path:   path,
		Digest: digest,
	}
	if err := ix.store.CommitIndex(ctx, file, chunks, sections); err != nil {
		return err
	}

	ix.logger.Debug("indexed file", "path", path, "chunks", len(chunks))
	return nil
}

// RemoveFile forgets the file at path: its row and sections are deleted,
// its chunks stay (other files may reference them, and garbage collection
// is a separate concern).
func (ix *Indexer) RemoveFile(ctx context.Context, path string) error {
	f, err := ix.store.FileByPath(ctx, path)
	if errors.Is(err, store.ErrNotFound) {
		// Never indexed; nothing to forget.
		return nil
	}
	if err != nil {
		return err
	}
	return ix.store.RemoveFile(ctx, f.ID)
}

// IndexTree walks root and indexes every regular file not rejected by
// skip. Used for the initial scan of a fresh install and for the forced
// reindex after a chunking protocol bump. Per-file failures are logged
// and skipped; the walk itself only stops on context cancellation.
func (ix *Indexer) IndexTree(ctx context.Context, root string, skip func(string) bool) error {
	return filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		if err != nil {
			ix.logger.Warn("walk error", "path", path, "error", err)
			return nil
		}
		if d.IsDir() {
			if skip != nil && path != root && skip(path) {
				return filepath.SkipDir
			}
			return nil
		}
		if !d.Type().IsRegular() {
			return nil
		}
		if skip != nil && skip(path) {
			return nil
		}
		if err := ix.IndexFile(ctx, path); err != nil {
			ix.logger.Warn("index failed", "path", path, "error", err)
		}
		return nil
	})
}

// resolveID reuses the id of an already-tracked path and mints a fresh
// one for first sightings.
func (ix *Indexer) resolveID(ctx context.Context, path string) (ident.FileID, error) {
	f, err := ix.store.FileByPath(ctx, path)
	if err == nil {
		return f.ID, nil
	}
	if errors.Is(err, store.ErrNotFound) {
		return ident.NewFileID(), nil
	}
	return ident.FileID{}, err
}
