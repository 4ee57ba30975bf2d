package main

import (
	"os"

	"github.com/psantana5/cycletime/cmd/cycletime/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
