// Command tabstate inspects, edits and relays persisted state containers.
package main

import (
	"fmt"
	"os"

	"github.com/roach88/tabstate/internal/cli"
)

func main() {
	if err := cli.NewRootCommand().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(cli.GetExitCode(err))
	}
}
