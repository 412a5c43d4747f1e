// Package main provides the entry point for the notemcp CLI.
package main

import (
	"os"

	"github.com/notemcp/notemcp/cmd/notemcp/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
