// Package main provides the chanter command line tool.
//
// Usage:
//
//	chanter [flags] <command> [args]
//
// Commands:
//
//	synthesize - Turn text into a single audio file
//	speak      - Play short text through the speakers
//	estimate   - Price a synthesis job before running it
//	split      - Preview how text splits into chunks
//	jobs       - List recent synthesis jobs
//	auth       - Manage the stored API key
//	serve      - Run the synthesis service
//
// Configuration is read from chanter.yaml in the working directory; every
// setting can also be overridden through CHANTER_* environment variables.
package main

import (
	"fmt"
	"os"

	"github.com/chanterlabs/chanter/cmd/chanter/commands"
)

func main() {
	if err := commands.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}
