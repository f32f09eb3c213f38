// Package main is the entry point for the tfs CLI.
package main

import (
	"os"

	"github.com/mjansen/tfs/cmd"
)

func main() {
	os.Exit(cmd.Execute())
}
