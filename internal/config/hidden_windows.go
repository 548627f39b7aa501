//go:build windows

package config

import "syscall"

// markHidden sets the hidden attribute on path. Best effort; the directory
// still works if the attribute cannot be set.
func markHidden(path string) {
	p, err := syscall.UTF16PtrFromString(path)
	if err != nil {
		return
	}
	attrs, err := syscall.GetFileAttributes(p)
	if err != nil {
		return
	}
	_ = syscall.SetFileAttributes(p, attrs|syscall.FILE_ATTRIBUTE_HIDDEN)
}
