// Package main provides the entry point for the xrefsearch CLI.
package main

import (
	"os"

	"github.com/Aman-CERP/xrefsearch/cmd/xrefsearch/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
