// Copyright (c) 2025 Jeremy Hahn
//
// SPDX-License-Identifier: Apache-2.0

// Package syscmd runs external disk-management utilities and classifies
// their exit status.
package syscmd

import (
	"fmt"
	"strings"
)

// Command is a single external program invocation. Arguments are always
// passed as a discrete list, never through a shell.
type Command struct {
	// Path is the absolute path of the executable
	Path string

	// Args are the arguments, excluding the program name
	Args []string

	// Expected lists the exit codes that count as success (default: 0)
	Expected []int
}

// String renders the command line for diagnostics
func (c Command) String() string {
	return strings.Join(append([]string{c.Path}, c.Args...), " ")
}

// Accepts reports whether code is in the expected set
func (c Command) Accepts(code int) bool {
	if len(c.Expected) == 0 {
		return code == 0
	}
	for _, e := range c.Expected {
		if e == code {
			return true
		}
	}
	return false
}

// Result holds the fully captured output of a command that exited with an
// expected code.
type Result struct {
	Stdout   []byte
	Stderr   []byte
	ExitCode int
}

// Tolerated reports whether the command exited non-zero with a code the
// caller declared benign (e.g. "already mounted").
func (r *Result) Tolerated() bool {
	return r != nil && r.ExitCode != 0
}

// CommandError is returned when a command exits with a code outside its
// expected set. The process is expected to terminate with ExitCode.
type CommandError struct {
	Command  Command
	ExitCode int
	Stdout   []byte
	Stderr   []byte
}

func (e *CommandError) Error() string {
	return fmt.Sprintf("command failed: %q (exit code %d)", e.Command.String(), e.ExitCode)
}
