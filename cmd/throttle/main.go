// Command throttle validates throttle configs, drives synthetic workloads
// through a throttle and runs scenario suites.
package main

import (
	"fmt"
	"os"

	"github.com/roach88/throttle/internal/cli"
)

func main() {
	err := cli.NewRootCommand().Execute()
	if err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
	}
	os.Exit(cli.GetExitCode(err))
}
