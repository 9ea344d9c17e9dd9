package cmd

import (
	"os"

	"github.com/spf13/cobra"
)

var configPath string

var rootCmd = &cobra.Command{
	Use:          "commandbot",
	Short:        "An XMPP bot answering ad-hoc commands and chat conversations",
	Long:         "CommandBot logs into an XMPP account, answers service discovery, version and ad-hoc command queries, and holds chat conversations through configurable topics.",
	SilenceUsage: true,
}

// Execute runs the root command.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "path to config.yaml or config.json")
}
