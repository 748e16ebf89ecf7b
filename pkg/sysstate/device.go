// Copyright (c) 2025 Jeremy Hahn
//
// SPDX-License-Identifier: Apache-2.0

//go:build linux

package sysstate

import (
	"fmt"
	"os"

	"golang.org/x/sys/unix"
)

// IsBlockDevice reports whether path (following symlinks) is a block device
func (p *Probe) IsBlockDevice(path string) (bool, error) {
	var st unix.Stat_t
	if err := unix.Stat(path, &st); err != nil {
		return false, fmt.Errorf("failed to stat %s: %w", path, err)
	}
	return st.Mode&unix.S_IFMT == unix.S_IFBLK, nil
}

// FileLock represents an advisory lock on a container file
type FileLock struct {
	file *os.File
}

// AcquireFileLock takes an exclusive, non-blocking advisory lock on path
func AcquireFileLock(path string) (*FileLock, error) {
	f, err := os.Open(path) // #nosec G304 -- container path for advisory locking
	if err != nil {
		return nil, err
	}

	if err := unix.Flock(int(f.Fd()), unix.LOCK_EX|unix.LOCK_NB); err != nil {
		_ = f.Close()
		return nil, fmt.Errorf("failed to acquire lock: %w", err)
	}

	return &FileLock{file: f}, nil
}

// Release releases the file lock
func (l *FileLock) Release() error {
	if l == nil || l.file == nil {
		return nil
	}
	_ = unix.Flock(int(l.file.Fd()), unix.LOCK_UN)
	err := l.file.Close()
	l.file = nil
	return err
}
