// Copyright (c) 2025 Jeremy Hahn
//
// SPDX-License-Identifier: Apache-2.0

// Package keys locates the key file of an encrypted container: it derives
// the disk identifier from a marker file and resolves the key path under
// the home directory of the account the tool acts for.
package keys

import (
	"fmt"
	"os/user"
	"strconv"

	"github.com/pkg/errors"
	"golang.org/x/sys/unix"
)

// DefaultElevationEnv names the variable set by sudo for the invoking user
const DefaultElevationEnv = "SUDO_USER"

// Account is a local user account
type Account struct {
	Name    string
	UID     int
	GID     int
	HomeDir string
}

// Identity describes who the process runs as and, under privilege
// elevation, on behalf of whom.
type Identity struct {
	// Current is the account of the running process
	Current Account

	// Original is the invoking account when running under elevation
	Original *Account

	// EUID is the effective user ID of the process
	EUID int
}

// Privileged reports whether the process runs with an effective UID of 0
func (id Identity) Privileged() bool {
	return id.EUID == 0
}

// Elevated reports whether the process acts on behalf of another account
func (id Identity) Elevated() bool {
	return id.Original != nil
}

// Target returns the account that should own created files: the original
// invoking account under elevation, else the current one.
func (id Identity) Target() Account {
	if id.Original != nil {
		return *id.Original
	}
	return id.Current
}

// LookupFunc resolves an environment variable
type LookupFunc func(key string) (string, bool)

// CurrentIdentity builds the Identity of the running process. When envName
// is set in the environment (and differs from the current user) the named
// account becomes the Original account.
func CurrentIdentity(lookupEnv LookupFunc, envName string) (Identity, error) {
	u, err := user.Current()
	if err != nil {
		return Identity{}, errors.Wrap(err, "failed to look up current user")
	}
	current, err := accountFromUser(u)
	if err != nil {
		return Identity{}, err
	}

	id := Identity{Current: current, EUID: unix.Geteuid()}

	if envName == "" {
		envName = DefaultElevationEnv
	}
	name, ok := lookupEnv(envName)
	if !ok || name == "" || name == current.Name {
		return id, nil
	}

	orig, err := user.Lookup(name)
	if err != nil {
		return Identity{}, errors.Wrapf(err, "failed to look up invoking user %q from %s", name, envName)
	}
	original, err := accountFromUser(orig)
	if err != nil {
		return Identity{}, err
	}
	id.Original = &original
	return id, nil
}

func accountFromUser(u *user.User) (Account, error) {
	uid, err := strconv.Atoi(u.Uid)
	if err != nil {
		return Account{}, fmt.Errorf("invalid uid %q for %s: %w", u.Uid, u.Username, err)
	}
	gid, err := strconv.Atoi(u.Gid)
	if err != nil {
		return Account{}, fmt.Errorf("invalid gid %q for %s: %w", u.Gid, u.Username, err)
	}
	return Account{Name: u.Username, UID: uid, GID: gid, HomeDir: u.HomeDir}, nil
}
