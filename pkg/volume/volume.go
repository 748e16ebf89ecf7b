// Copyright (c) 2025 Jeremy Hahn
//
// SPDX-License-Identifier: Apache-2.0

// Package volume wraps the udisks, cryptsetup and mkfs command-line tools
// that move an encrypted container file through its lifecycle.
package volume

import (
	"context"
	"io"
	"os"
	"path/filepath"

	"github.com/sirupsen/logrus"

	"github.com/jeremyhahn/cryptcache/pkg/syscmd"
)

// Tools holds absolute paths to the external executables
type Tools struct {
	Udisksctl  string
	Mount      string
	Cryptsetup string
	Mkfs       string
}

// DefaultTools returns the executable locations of a Fedora/Debian style system
func DefaultTools() Tools {
	return Tools{
		Udisksctl:  "/usr/bin/udisksctl",
		Mount:      "/usr/bin/mount",
		Cryptsetup: "/usr/sbin/cryptsetup",
		Mkfs:       "/usr/sbin/mkfs.ext4",
	}
}

// Outcome is the result of one volume operation: either a token was
// extracted from the output, or nothing was found. ExitCode is non-zero
// when the command exited with a tolerated code.
type Outcome struct {
	Token    string
	ExitCode int
}

// Found reports whether a token was extracted
func (o Outcome) Found() bool {
	return o.Token != ""
}

// Tolerated reports whether the command exited with a benign non-zero code
func (o Outcome) Tolerated() bool {
	return o.ExitCode != 0
}

// Volumes runs volume operations through a syscmd.Runner
type Volumes struct {
	Runner   syscmd.Runner
	Patterns Patterns
	Tools    Tools

	// MapperPrefix is the source prefix of decrypted LUKS devices in the
	// mount table (e.g. "/dev/mapper/luks-")
	MapperPrefix string

	// Diag receives the raw output of commands whose mandatory pattern
	// did not match
	Diag io.Writer

	Log logrus.FieldLogger
}

// New creates Volumes with the default patterns
func New(runner syscmd.Runner, tools Tools, mapperPrefix string, log logrus.FieldLogger) *Volumes {
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &Volumes{
		Runner:       runner,
		Patterns:     DefaultPatterns(),
		Tools:        tools,
		MapperPrefix: mapperPrefix,
		Diag:         os.Stderr,
		Log:          log,
	}
}

// run executes cmd and, when op is non-empty, extracts op's token from its output
func (v *Volumes) run(ctx context.Context, op Op, cmd syscmd.Command) (Outcome, error) {
	res, err := v.Runner.Run(ctx, cmd)
	if err != nil {
		return Outcome{}, err
	}

	out := Outcome{ExitCode: res.ExitCode}
	log := v.Log.WithField("op", string(op))
	if res.Tolerated() {
		log = log.WithField("exit_code", res.ExitCode)
		log.Debug("tolerated exit code")
	}

	if op == "" {
		return out, nil
	}
	p, ok := v.Patterns[op]
	if !ok {
		return out, nil
	}
	return v.extract(op, p, res, out), nil
}

func (v *Volumes) extract(op Op, p Pattern, res *syscmd.Result, out Outcome) Outcome {
	token, ok := Extract(p, res.Stdout, res.Stderr, v.Diag)
	if !ok {
		if !p.Optional {
			v.Log.WithField("op", string(op)).Warn("unexpected command output")
		}
		return out
	}
	out.Token = token
	return out
}

// absPath returns p as an absolute, clean path
func absPath(p string) string {
	if abs, err := filepath.Abs(p); err == nil {
		return abs
	}
	return filepath.Clean(p)
}
