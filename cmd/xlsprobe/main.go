// Command xlsprobe boots gem5 with the XLS device plugin, replays a firmware
// stimulus over the simulated UART and checks the response against a reference.
package main

import (
	"fmt"
	"os"

	"github.com/roach88/xlsprobe/internal/cli"
)

func main() {
	if err := cli.NewRootCommand().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(cli.GetExitCode(err))
	}
}
