// Copyright (c) 2025 Jeremy Hahn
//
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"os"
	"runtime/debug"
)

// Version is reported when the binary carries no module version
const Version = "1.0.0"

func main() {
	os.Exit(NewCLI().Run())
}

// version returns the module version from build information, falling back
// to Version for development builds
func version() string {
	if bi, ok := debug.ReadBuildInfo(); ok {
		if v := bi.Main.Version; v != "" && v != "(devel)" {
			return v
		}
	}
	return Version
}
