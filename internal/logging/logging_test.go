package logging

import (
	"context"
	"io"
	"log/slog"
	"testing"
)

func TestDiscardDropsEverything(t *testing.T) {
	logger := Discard()
	if logger.Enabled(context.Background(), slog.LevelError) {
		t.Error("discard logger should report disabled at every level")
	}
	// Must not panic or write anywhere.
	logger.Info("ignored", "k", "v")
}

func TestDefault(t *testing.T) {
	if Default(nil) == nil {
		t.Fatal("Default(nil) must return a usable logger")
	}
	real := slog.New(slog.NewTextHandler(io.Discard, nil))
	if Default(real) != real {
		t.Error("Default must pass through a provided logger")
	}
}
