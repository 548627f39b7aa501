//go:build !windows

package config

// markHidden is a no-op on platforms where a leading dot already hides the
// directory.
func markHidden(string) {}
