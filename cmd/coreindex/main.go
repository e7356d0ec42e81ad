// Package main provides the entry point for the coreindex CLI.
package main

import (
	"errors"
	"os"

	"github.com/coreindex/coreindex/cmd/coreindex/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		var partial *cmd.PartialIndexError
		if errors.As(err, &partial) {
			os.Exit(2)
		}
		os.Exit(1)
	}
}
