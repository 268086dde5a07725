package main

import (
	"os"

	"github.com/go-delve/jsdebug/cmd/jsdbg/cmds"
	"github.com/go-delve/jsdebug/pkg/version"
)

// Build is the git sha of this binaries build.
var Build string

func main() {
	if Build != "" {
		version.JSDebugVersion.Build = Build
	}
	if err := cmds.New(false).Execute(); err != nil {
		os.Exit(1)
	}
}
