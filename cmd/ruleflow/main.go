// Command ruleflow validates and dry-runs rule dispatch scenarios.
package main

import (
	"fmt"
	"os"

	"github.com/randalmurphal/ruleflow/internal/cli"
)

func main() {
	if err := cli.NewRootCommand().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(cli.GetExitCode(err))
	}
}
