package main

import (
	"os"

	"github.com/rustyeddy/marketsync/cmd/marketsync/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
