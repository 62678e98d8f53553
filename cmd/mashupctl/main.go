// Command mashupctl serves, migrates and inspects mashup runtimes.
package main

import (
	"fmt"
	"os"

	"github.com/TomKopp/KP-WME-sub000/internal/cli"
)

func main() {
	cmd := cli.NewRootCommand()
	if err := cmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(cli.GetExitCode(err))
	}
}
