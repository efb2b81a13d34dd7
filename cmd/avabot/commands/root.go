// Package commands implements the avabot CLI commands using cobra.
package commands

import (
	"github.com/spf13/cobra"
)

// NewRootCmd creates the root command with all subcommands registered.
func NewRootCmd(version string) *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "avabot",
		Short: "Ava - WhatsApp group assistant",
		Long: `Ava is a WhatsApp group assistant: it chats along with the group,
reacts with GIFs and stickers, schedules reminders, and keeps track
of shared expenses.

Examples:
  avabot serve
  avabot serve --config ./config.yaml --dev`,
		Version: version,
	}

	rootCmd.AddCommand(
		newServeCmd(),
	)

	rootCmd.PersistentFlags().StringP("config", "c", "", "path to the configuration file")
	rootCmd.PersistentFlags().BoolP("verbose", "v", false, "enable debug logging")

	return rootCmd
}
