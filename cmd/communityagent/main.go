// Package main is the entry point for the communityagent CLI.
package main

import (
	"os"

	"github.com/communityagent/communityagent/internal/cli"
)

func main() {
	if err := cli.Execute(); err != nil {
		os.Exit(1)
	}
}
