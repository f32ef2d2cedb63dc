// Package main is the entry point for the ask CLI binary.
package main

import (
	"os"

	cli "duck-ask/pkg/cli"
)

func main() {
	os.Exit(cli.Execute())
}
