// Copyright (c) 2025 Jeremy Hahn
//
// SPDX-License-Identifier: Apache-2.0

package lifecycle

import (
	"fmt"

	"github.com/pkg/errors"

	"github.com/jeremyhahn/cryptcache/pkg/syscmd"
)

// Process exit codes
const (
	ExitOK              = 0
	ExitFailure         = 1
	ExitInvalidInput    = 5
	ExitNotElevated     = 9
	ExitContainerExists = 10
	ExitKeyMissing      = 11
)

// Common errors that can be checked using errors.Is()
var (
	// ErrInvalidInput indicates a missing or wrongly typed path argument
	ErrInvalidInput = errors.New("invalid input")

	// ErrNoMount indicates no LUKS mapping is mounted at the given directory
	ErrNoMount = errors.New("no mount found")

	// ErrNotElevated indicates init was run without root privileges
	ErrNotElevated = errors.New("elevated privileges required")

	// ErrContainerExists indicates init would overwrite an existing file
	ErrContainerExists = errors.New("container already exists")

	// ErrKeyMissing indicates the key file for the disk ID does not exist
	ErrKeyMissing = errors.New("key file not found")

	// ErrBusy indicates another invocation holds the container lock
	ErrBusy = errors.New("container is busy")

	// ErrNoBackingDevice indicates udisks did not report the loop device
	// behind a decrypted device
	ErrNoBackingDevice = errors.New("no backing loop device found")
)

// Error is a workflow error with an optional hint for the user
type Error struct {
	Op   string
	Path string
	Hint string
	Err  error
}

func (e *Error) Error() string {
	if e.Path == "" {
		return fmt.Sprintf("%s: %v", e.Op, e.Err)
	}
	return fmt.Sprintf("%s %s: %v", e.Op, e.Path, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Hint returns the hint carried by err, if any
func Hint(err error) string {
	var e *Error
	if errors.As(err, &e) {
		return e.Hint
	}
	return ""
}

// ExitCode maps err to a process exit code. Failed commands propagate the
// exit code of the subprocess.
func ExitCode(err error) int {
	if err == nil {
		return ExitOK
	}

	var cmdErr *syscmd.CommandError
	if errors.As(err, &cmdErr) {
		if cmdErr.ExitCode > 0 {
			return cmdErr.ExitCode
		}
		return ExitFailure
	}

	switch {
	case errors.Is(err, ErrInvalidInput), errors.Is(err, ErrNoMount):
		return ExitInvalidInput
	case errors.Is(err, ErrNotElevated):
		return ExitNotElevated
	case errors.Is(err, ErrContainerExists):
		return ExitContainerExists
	case errors.Is(err, ErrKeyMissing):
		return ExitKeyMissing
	}
	return ExitFailure
}
