package main

import (
	"os"

	"github.com/stratadb/strata/cmd/strata/stratacli"
)

func main() {
	os.Exit(run(os.Args[1:]))
}

func run(args []string) int {
	cmd := stratacli.NewCLI().BaseCommandSet()
	cmd.SetArgs(args)

	// Cobra already prints its own message on argument and flag validation
	// failures, so the error isn't printed again here. It still has to map to
	// a non-zero exit status.
	if err := cmd.Execute(); err != nil {
		return 1
	}
	return 0
}
