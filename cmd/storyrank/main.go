// Package main provides the entry point for the storyrank CLI.
package main

import (
	"os"

	"github.com/storyrank/storyrank/cmd/storyrank/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
