package main

import (
	"errors"
	"os"

	"github.com/jgalley/dumirror/internal/cli"
	"github.com/jgalley/dumirror/internal/scanner"
)

func main() {
	if err := cli.Execute(); err != nil {
		if errors.Is(err, scanner.ErrIncomplete) {
			os.Exit(2)
		}
		os.Exit(1)
	}
}
