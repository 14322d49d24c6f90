package main

import (
	"fmt"
	"os"

	"github.com/fatih/color"

	"github.com/rapld/rapld/cmd"
	"github.com/rapld/rapld/pkg/ld"
)

// Exit codes: 0 on success, 10 for link/domain errors, 11 for library and
// system errors, 12 for an unhandled panic.
const (
	exitOK        = 0
	exitDomain    = 10
	exitSystem    = 11
	exitUnhandled = 12
)

func main() {
	os.Exit(run())
}

func run() (code int) {
	defer func() {
		if r := recover(); r != nil {
			fmt.Fprintln(os.Stderr, color.RedString("error:"), r)
			code = exitUnhandled
		}
	}()

	if err := cmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, color.RedString("error:"), err)
		if ld.IsDomainError(err) {
			return exitDomain
		}
		return exitSystem
	}
	return exitOK
}
