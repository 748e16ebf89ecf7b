// Copyright (c) 2025 Jeremy Hahn
//
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"os"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"golang.org/x/term"

	"github.com/jeremyhahn/cryptcache/pkg/config"
	"github.com/jeremyhahn/cryptcache/pkg/lifecycle"
	"github.com/jeremyhahn/cryptcache/pkg/syscmd"
)

const long = `cryptcache manages a LUKS encrypted container file used as a disk cache.

The key file of a container is located through a disk marker: an empty
file named <disk-id>.DISK in the working directory, the directory of the
cryptcache binary, or a parent directory of the container. The key is
expected at ~/.config/borg/borg.cache-<disk-id>.key.

WORKFLOW:
    1. Create:  sudo cryptcache init /srv/cache/cache.img
    2. Unlock:  cryptcache unlock /srv/cache/cache.img   (prints the mount path)
    3. Lock:    cryptcache lock /run/media/$USER/<label>`

// Workflows runs the container lifecycle
type Workflows interface {
	Init(ctx context.Context, container string) error
	Unlock(ctx context.Context, container string) (string, error)
	Lock(ctx context.Context, dir string) error
	Status(ctx context.Context, path string) (*lifecycle.Status, error)
}

// Setup is handed to the Workflows factory once configuration and logging
// are in place
type Setup struct {
	Config     *config.Config
	Log        *logrus.Logger
	LookupEnv  func(key string) (string, bool)
	Stderr     io.Writer
	Executable string
}

// CLI represents the command-line interface application
type CLI struct {
	Args         []string
	Stdout       io.Writer
	Stderr       io.Writer
	LookupEnv    func(key string) (string, bool)
	NewWorkflows func(s Setup) (Workflows, error)
}

// NewCLI creates a new CLI instance with default dependencies
func NewCLI() *CLI {
	return &CLI{
		Args:         os.Args,
		Stdout:       os.Stdout,
		Stderr:       os.Stderr,
		LookupEnv:    os.LookupEnv,
		NewWorkflows: defaultWorkflows,
	}
}

// Run executes the CLI and returns the process exit code
func (c *CLI) Run() int {
	args := c.Args
	if len(args) > 0 {
		args = args[1:]
	}

	root := c.rootCommand()
	root.SetArgs(args)

	err := root.ExecuteContext(context.Background())
	if err != nil {
		c.printError(err)
	}
	return lifecycle.ExitCode(err)
}

type options struct {
	configPath string
	verbose    bool
	workflows  Workflows
}

func (c *CLI) rootCommand() *cobra.Command {
	opts := &options{}

	root := &cobra.Command{
		Use:           "cryptcache",
		Short:         "Manage the lifecycle of an encrypted cache container",
		Long:          long,
		Version:       version(),
		SilenceUsage:  true,
		SilenceErrors: true,
		Args: func(cmd *cobra.Command, args []string) error {
			if len(args) > 0 {
				return fmt.Errorf("%w: unknown command %q for %q", lifecycle.ErrInvalidInput, args[0], cmd.CommandPath())
			}
			return nil
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			return cmd.Help()
		},
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if !cmd.HasParent() {
				return nil
			}
			return c.setup(opts)
		},
	}
	root.SetOut(c.Stdout)
	root.SetErr(c.Stderr)
	root.SetVersionTemplate("cryptcache version {{.Version}}\n")
	root.SetFlagErrorFunc(func(_ *cobra.Command, err error) error {
		return fmt.Errorf("%w: %v", lifecycle.ErrInvalidInput, err)
	})

	root.Flags().Bool("version", false, "print the version and exit")
	c.bindFlags(root.PersistentFlags(), opts)

	root.AddCommand(
		&cobra.Command{
			Use:     "init <container_file>",
			Short:   "Create, format and lock a new container (requires root)",
			Example: "sudo cryptcache init /srv/cache/cache.img",
			Args:    exactArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				return opts.workflows.Init(cmd.Context(), args[0])
			},
		},
		&cobra.Command{
			Use:     "unlock <container_file>",
			Short:   "Unlock and mount a container, printing the mount path",
			Example: "cryptcache unlock /srv/cache/cache.img",
			Args:    exactArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				path, err := opts.workflows.Unlock(cmd.Context(), args[0])
				if err != nil {
					return err
				}
				if path != "" {
					_, _ = fmt.Fprintln(c.Stdout, path)
				}
				return nil
			},
		},
		&cobra.Command{
			Use:     "lock <mount_dir>",
			Short:   "Unmount and lock the container mounted at a directory",
			Example: "cryptcache lock /run/media/alice/cache",
			Args:    exactArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				return opts.workflows.Lock(cmd.Context(), args[0])
			},
		},
		&cobra.Command{
			Use:   "status <container_file|mount_dir>",
			Short: "Show the lifecycle state of a container",
			Args:  exactArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				st, err := opts.workflows.Status(cmd.Context(), args[0])
				if err != nil {
					return err
				}
				c.printStatus(st)
				return nil
			},
		},
	)

	return root
}

func (c *CLI) bindFlags(flags *pflag.FlagSet, opts *options) {
	flags.StringVar(&opts.configPath, "config", "", "configuration file (default $"+config.EnvConfig+")")
	flags.BoolVarP(&opts.verbose, "verbose", "v", false, "log every step and command")
}

// setup loads the configuration, builds the logger and the workflows
func (c *CLI) setup(opts *options) error {
	log := newLogger(c.Stderr, opts.verbose)

	path := opts.configPath
	if path == "" && c.LookupEnv != nil {
		path, _ = c.LookupEnv(config.EnvConfig)
	}
	cfg, err := config.Load(path)
	if err != nil {
		return err
	}
	log.WithField("config", path).Debug("loaded configuration")

	exe := "cryptcache"
	if len(c.Args) > 0 {
		exe = c.Args[0]
	}

	opts.workflows, err = c.NewWorkflows(Setup{
		Config:     cfg,
		Log:        log,
		LookupEnv:  c.LookupEnv,
		Stderr:     c.Stderr,
		Executable: exe,
	})
	return err
}

// exactArgs is cobra.ExactArgs reporting a usage error as invalid input
func exactArgs(n int) cobra.PositionalArgs {
	return func(cmd *cobra.Command, args []string) error {
		if err := cobra.ExactArgs(n)(cmd, args); err != nil {
			return fmt.Errorf("%w: %v (usage: %s)", lifecycle.ErrInvalidInput, err, cmd.UseLine())
		}
		return nil
	}
}

func (c *CLI) printStatus(st *lifecycle.Status) {
	_, _ = fmt.Fprintf(c.Stdout, "State:     %s\n", st.State)
	if st.Container != "" {
		_, _ = fmt.Fprintf(c.Stdout, "Container: %s\n", st.Container)
	}
	if st.LoopDevice != "" {
		_, _ = fmt.Fprintf(c.Stdout, "Loop:      %s\n", st.LoopDevice)
	}
	if st.MappedDevice != "" {
		_, _ = fmt.Fprintf(c.Stdout, "Mapped:    %s\n", st.MappedDevice)
	}
	if st.UUID != uuid.Nil {
		_, _ = fmt.Fprintf(c.Stdout, "UUID:      %s\n", st.UUID)
	}
	for _, p := range st.MountPoints {
		_, _ = fmt.Fprintf(c.Stdout, "Mount:     %s\n", p)
	}
}

// printError reports err on standard error. Failed commands are shown with
// both captured output streams.
func (c *CLI) printError(err error) {
	var cmdErr *syscmd.CommandError
	if errors.As(err, &cmdErr) {
		_, _ = fmt.Fprintln(c.Stderr, cmdErr.Error())
		dumpStream(c.Stderr, "stdout", cmdErr.Stdout)
		dumpStream(c.Stderr, "stderr", cmdErr.Stderr)
		return
	}

	_, _ = fmt.Fprintf(c.Stderr, "Error: %v\n", err)
	if hint := lifecycle.Hint(err); hint != "" {
		_, _ = fmt.Fprintf(c.Stderr, "  %s\n", hint)
	}
}

func dumpStream(w io.Writer, name string, b []byte) {
	b = bytes.TrimSpace(b)
	if len(b) == 0 {
		return
	}
	_, _ = fmt.Fprintf(w, "%s:\n%s\n", name, b)
}

// newLogger logs to w at warn level, or debug when verbose. Colours are
// used only when w is a terminal.
func newLogger(w io.Writer, verbose bool) *logrus.Logger {
	color := false
	if f, ok := w.(*os.File); ok {
		color = term.IsTerminal(int(f.Fd()))
	}

	log := logrus.New()
	log.SetOutput(w)
	log.SetFormatter(&logrus.TextFormatter{
		DisableTimestamp: true,
		ForceColors:      color,
		DisableColors:    !color,
	})
	log.SetLevel(logrus.WarnLevel)
	if verbose {
		log.SetLevel(logrus.DebugLevel)
	}
	return log
}
