// Command plugterm is a terminal client for the Plugify chat service.
package main

import (
	"fmt"
	"os"

	"github.com/vovakirdan/plugterm/internal/core"
)

func main() {
	os.Exit(run(os.Args[1:]))
}

func run(args []string) int {
	code := core.ExitOK
	root := newRootCmd(&code)
	root.SetArgs(args)
	if err := root.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "plugterm: %v\n", err)
		if code == core.ExitOK {
			code = core.ExitFatal
		}
	}
	return code
}
