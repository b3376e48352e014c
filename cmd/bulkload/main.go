// Package main is the bulkload command.
package main

import (
	"fmt"
	"os"
	"runtime/debug"

	"github.com/arkilian/csvbulkload/internal/cli"
	bulkerr "github.com/arkilian/csvbulkload/internal/errors"
)

func main() {
	defer func() {
		if r := recover(); r != nil {
			fmt.Fprintf(os.Stderr, "panic: %v\n%s\n", r, debug.Stack())
			os.Exit(bulkerr.ExitGeneralError)
		}
	}()

	if err := cli.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(bulkerr.ExitCode(err))
	}
}
