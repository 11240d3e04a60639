// Package main provides the entry point for the groundedrag CLI.
package main

import (
	"os"

	"github.com/Aman-CERP/groundedrag/cmd/groundedrag/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
