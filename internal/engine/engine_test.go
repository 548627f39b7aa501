package engine

import (
	"bytes"
	"context"
	"errors"
	"io"
	"math/rand"
	"testing"

	"github.com/omkar-mohanty/skie/internal/ident"
)

// testParams provokes many cut points on small inputs.
func testParams() Params {
	return Params{
		MinSize:     512,
		AvgSize:     1024,
		MaxSize:     2048,
		Threads:     4,
		ChannelSize: 64,
	}
}

func randomBytes(t *testing.T, n int) []byte {
	t.Helper()
	buf := make([]byte, n)
	rng := rand.New(rand.NewSource(42))
	rng.Read(buf)
	return buf
}

func chunkAll(t *testing.T, data []byte, p Params) []Record {
	t.Helper()
	records, err := Chunk(context.Background(), bytes.NewReader(data), p)
	if err != nil {
		t.Fatalf("Chunk: %v", err)
	}
	return records
}

// checkCoverage asserts the completeness invariants: first offset zero,
// contiguous offsets, lengths summing to the input size.
func checkCoverage(t *testing.T, data []byte, records []Record) {
	t.Helper()
	var next uint64
	for i, r := range records {
		if r.Index != i {
			t.Fatalf("record %d has index %d", i, r.Index)
		}
		if r.Offset != next {
			t.Fatalf("record %d: offset %d, want %d (gap or overlap)", i, r.Offset, next)
		}
		next = r.Offset + uint64(r.Length)
	}
	if next != uint64(len(data)) {
		t.Fatalf("coverage: records sum to %d bytes, source has %d", next, len(data))
	}
}

func TestChunkEmptySource(t *testing.T) {
	records := chunkAll(t, nil, testParams())
	if len(records) != 0 {
		t.Fatalf("expected no records for empty source, got %d", len(records))
	}
}

func TestChunkSmallSourceSingleRecord(t *testing.T) {
	p := testParams()

	// Shorter than min, and exactly min: both must yield one chunk.
	for _, n := range []int{100, int(p.MinSize)} {
		data := randomBytes(t, n)
		records := chunkAll(t, data, p)
		if len(records) != 1 {
			t.Fatalf("%d bytes: expected 1 record, got %d", n, len(records))
		}
		r := records[0]
		if r.Offset != 0 || int(r.Length) != n {
			t.Errorf("%d bytes: got offset %d length %d", n, r.Offset, r.Length)
		}
		if r.Digest != ident.DigestOf(data) {
			t.Errorf("%d bytes: digest mismatch", n)
		}
	}
}

func TestChunkDeterminism(t *testing.T) {
	data := randomBytes(t, 100*1024)
	p := testParams()

	first := chunkAll(t, data, p)
	second := chunkAll(t, data, p)

	if len(first) != len(second) {
		t.Fatalf("chunk counts differ between runs: %d vs %d", len(first), len(second))
	}
	for i := range first {
		if first[i] != second[i] {
			t.Fatalf("record %d differs between runs: %+v vs %+v", i, first[i], second[i])
		}
	}
}

func TestChunkCoverageAndDigests(t *testing.T) {
	data := randomBytes(t, 64*1024)
	p := testParams()
	records := chunkAll(t, data, p)

	checkCoverage(t, data, records)
	for _, r := range records {
		if r.Length > p.MaxSize {
			t.Errorf("record %d exceeds max size: %d", r.Index, r.Length)
		}
		want := ident.DigestOf(data[r.Offset : r.Offset+uint64(r.Length)])
		if r.Digest != want {
			t.Errorf("record %d: digest does not match its bytes", r.Index)
		}
	}
}

// Reconstruction: concatenating the chunk ranges in offset order must
// reproduce the source exactly.
func TestChunkReconstruction(t *testing.T) {
	data := randomBytes(t, 32*1024)
	records := chunkAll(t, data, testParams())

	var rebuilt bytes.Buffer
	for _, r := range records {
		rebuilt.Write(data[r.Offset : r.Offset+uint64(r.Length)])
	}
	if !bytes.Equal(rebuilt.Bytes(), data) {
		t.Fatal("reconstructed bytes differ from source")
	}
}

func TestChunkLargeSourceRecordCount(t *testing.T) {
	p := testParams()
	data := randomBytes(t, 10*int(p.MaxSize))
	records := chunkAll(t, data, p)

	min := (len(data) + int(p.MaxSize) - 1) / int(p.MaxSize)
	if len(records) < min {
		t.Fatalf("expected at least %d records for %d bytes, got %d", min, len(data), len(records))
	}
	checkCoverage(t, data, records)
}

// Long runs of identical bytes never stall: the max-size forcing cut
// bounds every chunk even when the rolling hash finds no boundary.
func TestChunkPathologicalZeros(t *testing.T) {
	p := testParams()
	data := make([]byte, 256*1024)
	records := chunkAll(t, data, p)

	checkCoverage(t, data, records)
	for _, r := range records {
		if r.Length > p.MaxSize {
			t.Fatalf("record %d: length %d exceeds max %d", r.Index, r.Length, p.MaxSize)
		}
	}
}

func TestChunkParamValidation(t *testing.T) {
	cases := []struct {
		name string
		p    Params
	}{
		{"avg below floor", Params{MinSize: 64, AvgSize: 128, MaxSize: 256, Threads: 1, ChannelSize: 1}},
		{"min above avg", Params{MinSize: 4096, AvgSize: 1024, MaxSize: 8192, Threads: 1, ChannelSize: 1}},
		{"avg above max", Params{MinSize: 512, AvgSize: 8192, MaxSize: 4096, Threads: 1, ChannelSize: 1}},
		{"negative threads", Params{MinSize: 512, AvgSize: 1024, MaxSize: 2048, Threads: -1, ChannelSize: 1}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := Chunk(context.Background(), bytes.NewReader(nil), tc.p)
			if !errors.Is(err, ErrInvalidParams) {
				t.Fatalf("expected ErrInvalidParams, got %v", err)
			}
		})
	}
}

func TestChunkDefaultsApplied(t *testing.T) {
	// A zero Params must behave like DefaultParams, not fail validation.
	data := randomBytes(t, 1024)
	records, err := Chunk(context.Background(), bytes.NewReader(data), Params{})
	if err != nil {
		t.Fatalf("Chunk with zero params: %v", err)
	}
	if len(records) != 1 {
		t.Fatalf("expected 1 record for 1 KiB under default min, got %d", len(records))
	}
}

type failingReader struct {
	data []byte
	err  error
}

func (r *failingReader) Read(p []byte) (int, error) {
	if len(r.data) == 0 {
		return 0, r.err
	}
	n := copy(p, r.data)
	r.data = r.data[n:]
	return n, nil
}

func TestChunkReadErrorAggregated(t *testing.T) {
	src := &failingReader{
		data: bytes.Repeat([]byte{0xAB}, 8*1024),
		err:  errors.New("disk on fire"),
	}
	_, err := Chunk(context.Background(), src, testParams())
	if err == nil {
		t.Fatal("expected error from failing reader")
	}
	var hashErr *HashError
	if !errors.As(err, &hashErr) {
		t.Fatalf("expected *HashError, got %T: %v", err, err)
	}
	if len(hashErr.Errs) == 0 {
		t.Fatal("expected at least one aggregated failure")
	}
}

func TestChunkCancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := Chunk(ctx, bytes.NewReader(randomBytes(t, 256*1024)), testParams())
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
}

func TestDiff(t *testing.T) {
	p := testParams()
	base := randomBytes(t, 32*1024)

	records := chunkAll(t, base, p)
	manifest := ManifestOf(records)

	// Unchanged source: nothing to upload.
	same, err := Diff(context.Background(), bytes.NewReader(base), p, manifest)
	if err != nil {
		t.Fatalf("Diff: %v", err)
	}
	if len(same) != 0 {
		t.Fatalf("expected empty diff for identical source, got %d records", len(same))
	}

	// Flip a small region in the middle: only the covering chunks differ.
	edited := bytes.Clone(base)
	for i := 10_000; i < 10_200; i++ {
		edited[i] = ^edited[i]
	}
	changed, err := Diff(context.Background(), bytes.NewReader(edited), p, manifest)
	if err != nil {
		t.Fatalf("Diff after edit: %v", err)
	}
	if len(changed) == 0 {
		t.Fatal("expected changed records after edit")
	}
	all := chunkAll(t, edited, p)
	if len(changed) >= len(all) && len(all) > 2 {
		t.Errorf("diff did not reuse any unchanged chunks: %d of %d", len(changed), len(all))
	}
}

func TestPoolRejectsNonPositiveSize(t *testing.T) {
	for _, size := range []int{0, -3} {
		if _, err := NewPool(size); !errors.Is(err, ErrInvalidParams) {
			t.Errorf("NewPool(%d): expected ErrInvalidParams, got %v", size, err)
		}
	}
}

func BenchmarkChunk(b *testing.B) {
	data := make([]byte, 16*1024*1024)
	rng := rand.New(rand.NewSource(7))
	rng.Read(data)
	p := DefaultParams()

	b.SetBytes(int64(len(data)))
	b.ResetTimer()
	for range b.N {
		if _, err := Chunk(context.Background(), bytes.NewReader(data), p); err != nil {
			b.Fatal(err)
		}
	}
}

var _ io.Reader = (*failingReader)(nil)
