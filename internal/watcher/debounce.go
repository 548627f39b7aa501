package watcher

import (
	"context"
	"time"

	"github.com/fsnotify/fsnotify"
)

// Debouncer collapses bursts of raw filesystem notifications into batches.
// Events arriving within the window of each other land in the same batch;
// a batch is emitted after the window passes with no new event. Arrival
// order is preserved within a batch.
type Debouncer struct {
	window time.Duration
	out    chan []fsnotify.Event
}

// NewDebouncer creates a debouncer with the given quiet window.
func NewDebouncer(window time.Duration) *Debouncer {
	return &Debouncer{
		window: window,
		out:    make(chan []fsnotify.Event, 16),
	}
}

// Batches returns the channel of debounced event batches. It is closed
// when Run returns.
func (d *Debouncer) Batches() <-chan []fsnotify.Event {
	return d.out
}

// Run consumes raw events from in until ctx is cancelled or in closes.
// When in closes, a pending batch is flushed before returning; on
// cancellation a pending batch is dropped.
func (d *Debouncer) Run(ctx context.Context, in <-chan fsnotify.Event) {
	defer close(d.out)

	var batch []fsnotify.Event
	var timer *time.Timer
	var timerC <-chan time.Time

	flush := func() {
		if len(batch) == 0 {
			return
		}
		select {
		case d.out <- batch:
		case <-ctx.Done():
		}
		batch = nil
	}

	for {
		select {
		case <-ctx.Done():
			return

		case ev, ok := <-in:
			if !ok {
				flush()
				return
			}
			batch = append(batch, ev)
			if timer == nil {
				timer = time.NewTimer(d.window)
				timerC = timer.C
				continue
			}
			if !timer.Stop() {
				select {
				case <-timer.C:
				default:
				}
			}
			timer.Reset(d.window)

		case <-timerC:
			timer = nil
			timerC = nil
			flush()
		}
	}
}
