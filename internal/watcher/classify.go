package watcher

import (
	"errors"
	"path/filepath"
	"strings"

	"github.com/fsnotify/fsnotify"

	"github.com/omkar-mohanty/skie/internal/config"
)

// ErrSyncRootRemoved is the fatal condition raised when the watched root
// itself is removed. The loop cannot safely continue; the supervisor must
// restart after the root reappears.
var ErrSyncRootRemoved = errors.New("watcher: sync root removed")

// Kind is a logical file event kind.
type Kind int

const (
	Create Kind = iota + 1
	Update
	Remove
)

func (k Kind) String() string {
	switch k {
	case Create:
		return "create"
	case Update:
		return "update"
	case Remove:
		return "remove"
	default:
		return "unknown"
	}
}

// Event is one logical file event after classification.
type Event struct {
	Kind Kind
	Path string
}

// Classify turns a debounced batch of raw notifications into logical
// events. Within the batch, in order:
//
//  1. events that are not Create, Write, or Remove are dropped
//  2. events whose path traverses the .config directory are dropped, as
//     are paths under any excluded subtree
//  3. a Remove immediately followed by a Create of the same path collapses
//     into a single Update (the editor atomic-save pattern); only the
//     directly adjacent event is considered
//  4. the rest map Create→Create, Write→Update, Remove→Remove
//
// A Remove targeting root itself aborts classification with
// ErrSyncRootRemoved.
func Classify(batch []fsnotify.Event, root string, excludes []string) ([]Event, error) {
	var filtered []fsnotify.Event
	for _, ev := range batch {
		if ev.Op.Has(fsnotify.Remove) && filepath.Clean(ev.Name) == filepath.Clean(root) {
			return nil, ErrSyncRootRemoved
		}
		if !ev.Op.Has(fsnotify.Create) && !ev.Op.Has(fsnotify.Write) && !ev.Op.Has(fsnotify.Remove) {
			continue
		}
		if hasConfigComponent(ev.Name) || underAny(ev.Name, excludes) {
			continue
		}
		filtered = append(filtered, ev)
	}

	var events []Event
	for i := 0; i < len(filtered); i++ {
		ev := filtered[i]
		if ev.Op.Has(fsnotify.Remove) &&
			i+1 < len(filtered) &&
			filtered[i+1].Op.Has(fsnotify.Create) &&
			filtered[i+1].Name == ev.Name {
			events = append(events, Event{Kind: Update, Path: ev.Name})
			i++
			continue
		}
		switch {
		case ev.Op.Has(fsnotify.Create):
			events = append(events, Event{Kind: Create, Path: ev.Name})
		case ev.Op.Has(fsnotify.Write):
			events = append(events, Event{Kind: Update, Path: ev.Name})
		case ev.Op.Has(fsnotify.Remove):
			events = append(events, Event{Kind: Remove, Path: ev.Name})
		}
	}
	return events, nil
}

// hasConfigComponent reports whether any path component is the internal
// .config directory.
func hasConfigComponent(path string) bool {
	for _, part := range strings.Split(filepath.ToSlash(path), "/") {
		if part == config.ConfigDirName {
			return true
		}
	}
	return false
}

// underAny reports whether path is inside (or is) one of the excluded
// subtrees.
func underAny(path string, excludes []string) bool {
	path = filepath.Clean(path)
	for _, ex := range excludes {
		ex = filepath.Clean(ex)
		if path == ex || strings.HasPrefix(path, ex+string(filepath.Separator)) {
			return true
		}
	}
	return false
}
