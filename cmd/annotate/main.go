// Command annotate validates annotation files and evaluates them against
// sample events without a database.
package main

import (
	"fmt"
	"os"

	"github.com/liamcoop/annotations/internal/cli"
)

func main() {
	if err := cli.NewRootCommand().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(cli.GetExitCode(err))
	}
}
