// Package main implements the toolflow command.
package main

import (
	"fmt"
	"os"

	"github.com/harun/toolflow/internal/cli"
)

func main() {
	if err := cli.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}
