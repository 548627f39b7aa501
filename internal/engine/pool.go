package engine

import (
	"context"
	"fmt"
	"sync"

	"github.com/omkar-mohanty/skie/internal/config"
)

// Pool bounds how many hashers run concurrently across all pipeline
// invocations in the process. Tokens are acquired per worker goroutine,
// never per chunk, so a pipeline holds at most its Threads tokens for the
// duration of the run.
type Pool struct {
	tokens chan struct{}
}

// NewPool creates a pool admitting size concurrent workers.
func NewPool(size int) (*Pool, error) {
	if size <= 0 {
		return nil, fmt.Errorf("%w: pool size %d", ErrInvalidParams, size)
	}
	return &Pool{tokens: make(chan struct{}, size)}, nil
}

func (p *Pool) acquire(ctx context.Context) error {
	select {
	case p.tokens <- struct{}{}:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (p *Pool) release() {
	<-p.tokens
}

// sharedPool returns the process-wide pool, created lazily on first use
// with the default parallelism.
var sharedPool = sync.OnceValue(func() *Pool {
	p, err := NewPool(config.DefaultNumThreads)
	if err != nil {
		// Unreachable: the default size is a positive constant.
		panic(err)
	}
	return p
})
