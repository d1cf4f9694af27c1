// Command runsystem builds a test suite under a matrix of compiler flags,
// profiles every program and stores per-loop measurements.
package main

import (
	"os"

	"github.com/roach88/runsystem/internal/cli"
)

func main() {
	os.Exit(cli.Execute(os.Args[1:], os.Stdout, os.Stderr))
}
