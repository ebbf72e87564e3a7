package main

import (
	"os"

	"github.com/hangar-sh/hangar/internal/errors"
)

var (
	version   = "dev"
	commit    = "unknown"
	buildDate = "unknown"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		formatter := errors.NewFormatter(os.Stderr, false)
		formatter.Print(err)
		os.Exit(1)
	}
}
