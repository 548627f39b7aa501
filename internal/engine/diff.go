package engine

import (
	"context"
	"io"

	"github.com/omkar-mohanty/skie/internal/ident"
)

// Manifest maps chunk ordinals to the digests observed at last index time.
type Manifest map[int]ident.Digest

// ManifestOf builds a manifest from a previous pipeline result.
func ManifestOf(records []Record) Manifest {
	m := make(Manifest, len(records))
	for _, r := range records {
		m[r.Index] = r.Digest
	}
	return m
}

// Diff re-chunks src and returns, in Index order, only the records whose
// Index has no manifest entry or a different digest there. The comparison
// is by position only: when an edit changes the number of chunks before a
// record, that record is returned even if its digest appears in the
// manifest at another Index.
func Diff(ctx context.Context, src io.Reader, p Params, manifest Manifest) ([]Record, error) {
	records, err := Chunk(ctx, src, p)
	if err != nil {
		return nil, err
	}
	changed := records[:0]
	for _, r := range records {
		if prev, ok := manifest[r.Index]; ok && prev == r.Digest {
			continue
		}
		changed = append(changed, r)
	}
	return changed, nil
}
