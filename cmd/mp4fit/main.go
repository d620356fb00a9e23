package main

import (
	"os"

	"github.com/psantana5/mp4fit/cmd/mp4fit/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
