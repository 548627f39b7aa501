package watcher

import (
	"context"
	"testing"
	"time"

	"github.com/fsnotify/fsnotify"
)

func TestDebouncerBatchesBurst(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	in := make(chan fsnotify.Event, 16)
	deb := NewDebouncer(50 * time.Millisecond)
	go deb.Run(ctx, in)

	in <- fsnotify.Event{Name: "/s/a", Op: fsnotify.Create}
	in <- fsnotify.Event{Name: "/s/b", Op: fsnotify.Write}
	in <- fsnotify.Event{Name: "/s/a", Op: fsnotify.Write}

	select {
	case batch := <-deb.Batches():
		if len(batch) != 3 {
			t.Fatalf("expected one batch of 3, got %d", len(batch))
		}
		// Arrival order is preserved.
		if batch[0].Name != "/s/a" || batch[1].Name != "/s/b" || batch[2].Name != "/s/a" {
			t.Errorf("batch order not preserved: %v", batch)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("no batch emitted")
	}
}

func TestDebouncerSeparatesQuietIntervals(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	in := make(chan fsnotify.Event, 16)
	deb := NewDebouncer(30 * time.Millisecond)
	go deb.Run(ctx, in)

	in <- fsnotify.Event{Name: "/s/first", Op: fsnotify.Write}

	var first []fsnotify.Event
	select {
	case first = <-deb.Batches():
	case <-time.After(2 * time.Second):
		t.Fatal("first batch not emitted")
	}

	in <- fsnotify.Event{Name: "/s/second", Op: fsnotify.Write}

	select {
	case second := <-deb.Batches():
		if len(first) != 1 || len(second) != 1 {
			t.Fatalf("expected two single-event batches, got %d and %d", len(first), len(second))
		}
		if second[0].Name != "/s/second" {
			t.Errorf("unexpected second batch: %v", second)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("second batch not emitted")
	}
}

func TestDebouncerFlushesOnClose(t *testing.T) {
	ctx := context.Background()

	in := make(chan fsnotify.Event, 16)
	deb := NewDebouncer(time.Hour) // window never fires on its own
	go deb.Run(ctx, in)

	in <- fsnotify.Event{Name: "/s/pending", Op: fsnotify.Write}
	close(in)

	select {
	case batch, ok := <-deb.Batches():
		if !ok || len(batch) != 1 {
			t.Fatalf("expected pending batch on close, got %v (ok=%v)", batch, ok)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("pending batch not flushed")
	}

	if _, ok := <-deb.Batches(); ok {
		t.Fatal("expected batches channel to close after Run returns")
	}
}
