// Copyright (c) 2025 Jeremy Hahn
//
// SPDX-License-Identifier: Apache-2.0

package keys

import (
	"os"
	"path/filepath"
	"strings"

	"github.com/pkg/errors"
)

// DefaultMarkerExt is the extension of disk identifier marker files
const DefaultMarkerExt = ".DISK"

// ErrNoDiskID is returned when no marker file exists in any searched directory
var ErrNoDiskID = errors.New("no disk ID found")

// SearchDirs returns the directories searched for a disk marker, in order:
// the working directory, the tool's installation directory and, when a
// container path is given, every ancestor of its parent directory up to
// but excluding the filesystem root.
func SearchDirs(cwd, exeDir, container string) []string {
	var dirs []string
	for _, d := range []string{cwd, exeDir} {
		if d != "" {
			dirs = append(dirs, d)
		}
	}
	if container == "" {
		return dirs
	}

	abs, err := filepath.Abs(container)
	if err != nil {
		return dirs
	}
	for dir := filepath.Dir(abs); ; dir = filepath.Dir(dir) {
		if dir == filepath.Dir(dir) {
			break
		}
		dirs = append(dirs, dir)
	}
	return dirs
}

// FindDiskID returns the name, without ext, of the first marker file found
// in dirs. Within one directory the directory listing order decides.
func FindDiskID(dirs []string, ext string) (string, string, error) {
	if ext == "" {
		ext = DefaultMarkerExt
	}
	for _, dir := range dirs {
		entries, err := os.ReadDir(dir)
		if err != nil {
			continue
		}
		for _, e := range entries {
			name := e.Name()
			if e.IsDir() || !strings.HasSuffix(name, ext) || len(name) == len(ext) {
				continue
			}
			return strings.TrimSuffix(name, ext), filepath.Join(dir, name), nil
		}
	}
	return "", "", ErrNoDiskID
}
