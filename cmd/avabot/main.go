// Package main is the CLI entry point of the Ava WhatsApp assistant.
package main

import (
	"fmt"
	"os"

	"github.com/shariffahes/ava-whatsbot/cmd/avabot/commands"
)

// version is injected at build time via ldflags.
var version = "dev"

func main() {
	rootCmd := commands.NewRootCmd(version)

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
