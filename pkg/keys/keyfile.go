// Copyright (c) 2025 Jeremy Hahn
//
// SPDX-License-Identifier: Apache-2.0

package keys

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/opencontainers/go-digest"
)

// Locator derives key file paths from disk identifiers
type Locator struct {
	// Dir is relative to the home directory (e.g. ".config/borg")
	Dir    string
	Prefix string
	Suffix string

	// Stat defaults to os.Stat
	Stat func(name string) (os.FileInfo, error)
}

// DefaultLocator returns the locator for <home>/.config/borg/borg.cache-<id>.key
func DefaultLocator() Locator {
	return Locator{Dir: ".config/borg", Prefix: "borg.cache-", Suffix: ".key"}
}

// Path returns the key file path for diskID under home
func (l Locator) Path(home, diskID string) string {
	return filepath.Join(home, l.Dir, l.Prefix+diskID+l.Suffix)
}

// Resolve returns the first existing key file for diskID, looking under
// the current account's home and then, under elevation, under the
// original invoking account's home.
func (l Locator) Resolve(diskID string, id Identity) (string, bool) {
	candidates := []string{l.Path(id.Current.HomeDir, diskID)}
	if id.Original != nil {
		candidates = append(candidates, l.Path(id.Original.HomeDir, diskID))
	}

	for _, p := range candidates {
		if fi, err := l.stat(p); err == nil && fi.Mode().IsRegular() {
			return p, true
		}
	}
	return "", false
}

// Expected returns the path users are told to provision a missing key at:
// the original account's home under elevation, else the current home.
func (l Locator) Expected(diskID string, id Identity) string {
	return l.Path(id.Target().HomeDir, diskID)
}

func (l Locator) stat(name string) (os.FileInfo, error) {
	if l.Stat != nil {
		return l.Stat(name)
	}
	return os.Stat(name)
}

// KeyInfo summarizes a key file without exposing its content
type KeyInfo struct {
	Path        string
	Size        int64
	Fingerprint digest.Digest
}

// Inspect reads the key file and returns its size and sha256 fingerprint
func Inspect(path string) (*KeyInfo, error) {
	data, err := os.ReadFile(path) // #nosec G304 -- resolved key file path
	if err != nil {
		return nil, fmt.Errorf("failed to read key file: %w", err)
	}
	defer clearBytes(data)

	return &KeyInfo{
		Path:        path,
		Size:        int64(len(data)),
		Fingerprint: digest.FromBytes(data),
	}, nil
}

// GenerateHint returns the shell command that provisions a key of size bytes at path
func GenerateHint(path string, size int) string {
	return fmt.Sprintf("mkdir -p %s && dd if=/dev/urandom of=%s bs=%d count=1 && chmod 600 %s",
		filepath.Dir(path), path, size, path)
}

// clearBytes zeros a byte slice
func clearBytes(b []byte) {
	for i := range b {
		b[i] = 0
	}
}
