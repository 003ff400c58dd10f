// Command abcflow runs ABC inference from the command line.
package main

import (
	"os"

	"github.com/turtacn/abcflow/internal/interfaces/cli"
	"github.com/turtacn/abcflow/pkg/errors"
)

// Build-time variables injected via ldflags.
var (
	version   = "dev"
	commit    = "unknown"
	buildDate = "unknown"
)

func init() {
	cli.Version = version
	cli.GitCommit = commit
	cli.BuildDate = buildDate
}

func main() {
	// Execute prints the error; the exit status tells configuration errors,
	// trial caps and cancellations apart.
	if err := cli.Execute(); err != nil {
		os.Exit(errors.ExitCodeForCode(errors.GetCode(err)))
	}
}

//Personal.AI order the ending
