package main

import (
	"os"

	"github.com/adamwoolhether/xfer/cmd/xfer/cli"
)

func main() {
	if err := cli.NewRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}
