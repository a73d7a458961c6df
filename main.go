// Package main is the entry point for the sigforge CLI.
package main

import (
	"os"

	"sigforge/cmd"
)

func main() {
	os.Exit(cmd.Execute())
}
