// Command harvest runs and coordinates demonstration-built scraping
// programs.
package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/roach88/harvest/internal/cli"
)

func main() {
	err := cli.NewRootCommand().Execute()
	// Commands report their own ExitErrors; anything else comes from
	// cobra itself (unknown flags, wrong argument counts).
	var exitErr *cli.ExitError
	if err != nil && !errors.As(err, &exitErr) {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(cli.ExitCommandError)
	}
	os.Exit(cli.GetExitCode(err))
}
