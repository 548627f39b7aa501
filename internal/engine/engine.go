// Package engine turns a byte source into an ordered sequence of
// content-defined chunk records with cryptographic digests.
//
// The pipeline has three stages connected by bounded queues:
//
//	cutter (1) ──Q1──▶ hashers (N) ──Q2──▶ collector (caller)
//
// The cutter is the sole reader of the source and emits raw chunk bytes at
// content-defined cut points. Hashers drain Q1, digest each chunk, and emit
// records into Q2. The collector drains Q2 and sorts by ordinal. No stage
// shares mutable state with another; the queues carry ownership across the
// boundaries, and their capacity bounds resident memory at roughly
// max_size × (channel_size + workers) bytes.
//
// Concurrency model:
//   - Delivery order out of the hasher pool is unordered; callers that need
//     stream order use the record's Index (equivalently Offset). Chunk()
//     sorts before returning.
//   - Cancelling the context abandons the run: all stages observe ctx.Done
//     on their blocking sends and exit without leaking goroutines.
//   - Errors do not cancel the run; they flow through the queues as tagged
//     outcomes and are aggregated by the collector into a *HashError.
package engine

import (
	"context"
	"errors"
	"fmt"
	"io"
	"math/bits"
	"slices"
	"sync"

	"github.com/restic/chunker"

	"github.com/omkar-mohanty/skie/internal/config"
	"github.com/omkar-mohanty/skie/internal/ident"
)

// boundaryPol is the irreducible polynomial driving the rolling Rabin hash.
// It is fixed per chunking protocol version: changing it moves every cut
// point, so any change must bump config.ChunkProtocolVersion.
const boundaryPol = chunker.Pol(0x3DA3358B4DC173)

// ErrInvalidParams is wrapped by all parameter validation failures.
var ErrInvalidParams = errors.New("invalid chunking parameters")

// Record describes one chunk of the source stream.
type Record struct {
	// Index is the 0-based ordinal of the chunk in the stream. Offset
	// provides the same ordering; Index is kept for in-flight bookkeeping
	// and is not persisted.
	Index  int
	Offset uint64
	Length uint32
	Digest ident.Digest
}

// Params are the tunables for a single pipeline run. Zero fields are
// filled from the config defaults.
type Params struct {
	MinSize     uint32
	AvgSize     uint32
	MaxSize     uint32
	Threads     int
	ChannelSize int
}

// DefaultParams returns the process defaults.
func DefaultParams() Params {
	return Params{
		MinSize:     config.DefaultMinChunkSize,
		AvgSize:     config.DefaultAvgChunkSize,
		MaxSize:     config.DefaultMaxChunkSize,
		Threads:     config.DefaultNumThreads,
		ChannelSize: config.DefaultChannelSize,
	}
}

// ParamsFrom maps an engine configuration onto pipeline parameters.
func ParamsFrom(ec config.Engine) Params {
	return Params{
		MinSize:     ec.MinChunkSize,
		AvgSize:     ec.AvgChunkSize,
		MaxSize:     ec.MaxChunkSize,
		Threads:     ec.NumThreads,
		ChannelSize: ec.ChannelSize,
	}
}

func (p Params) withDefaults() Params {
	def := DefaultParams()
	if p.MinSize == 0 {
		p.MinSize = def.MinSize
	}
	if p.AvgSize == 0 {
		p.AvgSize = def.AvgSize
	}
	if p.MaxSize == 0 {
		p.MaxSize = def.MaxSize
	}
	if p.Threads == 0 {
		p.Threads = def.Threads
	}
	if p.ChannelSize == 0 {
		p.ChannelSize = def.ChannelSize
	}
	return p
}

// Validate checks the CDC bounds: all sizes positive, min ≤ avg ≤ max,
// and avg at least 256 bytes (the smallest usable cut mask).
func (p Params) Validate() error {
	if p.MinSize == 0 || p.AvgSize == 0 || p.MaxSize == 0 {
		return fmt.Errorf("%w: chunk sizes must be positive", ErrInvalidParams)
	}
	if p.AvgSize < 256 {
		return fmt.Errorf("%w: average chunk size %d below 256", ErrInvalidParams, p.AvgSize)
	}
	if p.MinSize > p.AvgSize || p.AvgSize > p.MaxSize {
		return fmt.Errorf("%w: want min ≤ avg ≤ max, got %d/%d/%d",
			ErrInvalidParams, p.MinSize, p.AvgSize, p.MaxSize)
	}
	if p.Threads < 0 {
		return fmt.Errorf("%w: negative thread count %d", ErrInvalidParams, p.Threads)
	}
	if p.ChannelSize < 0 {
		return fmt.Errorf("%w: negative channel size %d", ErrInvalidParams, p.ChannelSize)
	}
	return nil
}

// avgBits converts the target average size into the number of boundary
// bits for the rolling hash, rounding up to the next power of two.
func avgBits(avg uint32) int {
	return bits.Len32(avg - 1)
}

// HashError aggregates every failed record of a pipeline run.
type HashError struct {
	Errs []error
}

func (e *HashError) Error() string {
	if len(e.Errs) == 1 {
		return fmt.Sprintf("hash pipeline: %v", e.Errs[0])
	}
	return fmt.Sprintf("hash pipeline: %d records failed, first: %v", len(e.Errs), e.Errs[0])
}

// Unwrap exposes the individual failures to errors.Is / errors.As.
func (e *HashError) Unwrap() []error { return e.Errs }

// cut carries one raw chunk (or a cutter failure) from the cutter to the
// hasher pool. The data slice is owned by the receiving hasher.
type cut struct {
	index  int
	offset uint64
	data   []byte
	err    error
}

// outcome carries one hashed record (or a tagged failure) to the collector.
type outcome struct {
	rec Record
	err error
}

// Chunk streams src through the pipeline and returns one record per chunk,
// sorted by Index. The source is read sequentially exactly once.
//
// An empty source yields an empty record list. A source shorter than
// MinSize yields a single record covering all bytes, and the final chunk
// of any source may be shorter than MinSize.
//
// Hashing runs on the process-wide worker pool; at most Threads chunks are
// hashed concurrently for this call.
func Chunk(ctx context.Context, src io.Reader, p Params) ([]Record, error) {
	return chunkWith(ctx, src, p, sharedPool())
}

func chunkWith(ctx context.Context, src io.Reader, p Params, pool *Pool) ([]Record, error) {
	p = p.withDefaults()
	if err := p.Validate(); err != nil {
		return nil, err
	}

	q1 := make(chan cut, p.ChannelSize)
	q2 := make(chan outcome, p.ChannelSize)

	// Cutter: sole reader of src. Closes Q1 when the source is exhausted
	// or after forwarding the first read error.
	go func() {
		defer close(q1)
		chk := chunker.NewWithBoundaries(src, boundaryPol, uint(p.MinSize), uint(p.MaxSize))
		chk.SetAverageBits(avgBits(p.AvgSize))
		offset := uint64(0)
		for index := 0; ; index++ {
			// Fresh buffer per chunk: the hasher taking it over may
			// still hold it while the cutter reads the next chunk.
			c, err := chk.Next(make([]byte, 0, int(p.MaxSize)))
			if errors.Is(err, io.EOF) {
				return
			}
			if err != nil {
				select {
				case q1 <- cut{index: index, err: fmt.Errorf("read source: %w", err)}:
				case <-ctx.Done():
				}
				return
			}
			select {
			case q1 <- cut{index: index, offset: offset, data: c.Data}:
			case <-ctx.Done():
				return
			}
			offset += uint64(c.Length)
		}
	}()

	// Hasher pool: drains Q1, digests, emits into Q2.
	var wg sync.WaitGroup
	for range p.Threads {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := pool.acquire(ctx); err != nil {
				return
			}
			defer pool.release()
			for c := range q1 {
				o := outcome{err: c.err}
				if c.err == nil {
					o.rec = Record{
						Index:  c.index,
						Offset: c.offset,
						Length: uint32(len(c.data)),
						Digest: ident.DigestOf(c.data),
					}
				}
				select {
				case q2 <- o:
				case <-ctx.Done():
					return
				}
			}
		}()
	}
	go func() {
		wg.Wait()
		close(q2)
	}()

	// Collector: gathers every outcome, then reports the aggregate.
	var records []Record
	var errs []error
	for o := range q2 {
		if o.err != nil {
			errs = append(errs, o.err)
			continue
		}
		records = append(records, o.rec)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if len(errs) > 0 {
		return nil, &HashError{Errs: errs}
	}

	slices.SortFunc(records, func(a, b Record) int { return a.Index - b.Index })
	return records, nil
}
