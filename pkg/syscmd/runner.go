// Copyright (c) 2025 Jeremy Hahn
//
// SPDX-License-Identifier: Apache-2.0

package syscmd

import (
	"bytes"
	"context"
	"os/exec"
	"path/filepath"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
)

// ErrRelativePath is returned for commands whose executable path is not absolute
var ErrRelativePath = errors.New("executable path must be absolute")

// Runner executes one external command to completion
type Runner interface {
	Run(ctx context.Context, cmd Command) (*Result, error)
}

// ExecRunner implements Runner with os/exec
type ExecRunner struct {
	// Env, when non-nil, replaces the environment of the child process
	Env []string

	Log logrus.FieldLogger
}

// NewExecRunner creates an ExecRunner that inherits the environment
func NewExecRunner(log logrus.FieldLogger) *ExecRunner {
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &ExecRunner{Log: log}
}

// Run starts cmd, waits for it and captures both output streams before
// deciding on the outcome. An exit code outside cmd.Expected yields a
// *CommandError carrying the captured streams.
func (r *ExecRunner) Run(ctx context.Context, cmd Command) (*Result, error) {
	if !filepath.IsAbs(cmd.Path) {
		return nil, errors.Wrap(ErrRelativePath, cmd.Path)
	}

	var stdout, stderr bytes.Buffer
	c := exec.CommandContext(ctx, cmd.Path, cmd.Args...) // #nosec G204 -- fixed executable, discrete argument list
	c.Stdout = &stdout
	c.Stderr = &stderr
	if r.Env != nil {
		c.Env = r.Env
	}

	log := r.logger().WithField("cmd", cmd.String())
	log.Debug("running command")

	code := 0
	if err := c.Run(); err != nil {
		var exitErr *exec.ExitError
		if !errors.As(err, &exitErr) {
			return nil, errors.Wrapf(err, "failed to start %s", cmd.Path)
		}
		code = exitErr.ExitCode()
	}

	log = log.WithField("exit_code", code)
	if !cmd.Accepts(code) {
		log.Debug("command failed")
		return nil, &CommandError{
			Command:  cmd,
			ExitCode: code,
			Stdout:   stdout.Bytes(),
			Stderr:   stderr.Bytes(),
		}
	}
	log.Debug("command finished")

	return &Result{
		Stdout:   stdout.Bytes(),
		Stderr:   stderr.Bytes(),
		ExitCode: code,
	}, nil
}

func (r *ExecRunner) logger() logrus.FieldLogger {
	if r.Log == nil {
		return logrus.StandardLogger()
	}
	return r.Log
}
