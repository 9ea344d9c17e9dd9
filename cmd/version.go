package cmd

import (
	"fmt"
	"runtime"

	"commandbot/pkg/bot"
	"commandbot/pkg/dispatch"

	"github.com/spf13/cobra"
)

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the version answered to jabber:iq:version queries",
	Run: func(cmd *cobra.Command, args []string) {
		_ = args
		info := dispatch.NewVersionHandler(bot.Name)
		fmt.Fprintf(cmd.OutOrStdout(), "%s %s (%s/%s)\n", info.Name, info.Version, runtime.GOOS, runtime.GOARCH)
	},
}

func init() {
	rootCmd.AddCommand(versionCmd)
}
