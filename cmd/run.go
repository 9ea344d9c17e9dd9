package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"commandbot/pkg/bot"

	"github.com/spf13/cobra"
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Connect to the XMPP server and serve until interrupted",
	Long:  "Logs into the configured account, reconnecting after failures, and serves queries and conversations until interrupted.",
	Run: func(cmd *cobra.Command, args []string) {
		_ = args

		cfg, appLogger, closeLog, err := loadRuntime()
		if err != nil {
			fmt.Println(err)
			return
		}
		defer func() { _ = closeLog() }()
		log := appLogger.With("component", "cmd.run")

		runCtx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		svc, err := bot.NewService(bot.ServiceOptions{
			Config:   cfg,
			Provider: assistantClient(runCtx, cfg, appLogger),
			Log:      appLogger,
		})
		if err != nil {
			log.Error("Failed to initialize bot", "error", err)
			return
		}

		log.Info("Bot started",
			"jid", cfg.Connection.JID,
			"commands", len(svc.Bot.Commands.Handlers()),
			"topics", svc.Bot.Router.TopicNames(),
			"status", cfg.Status.Enabled,
			"telegram", cfg.Channels.Telegram.Enabled,
		)
		if err := svc.Run(runCtx); err != nil && !errors.Is(err, context.Canceled) {
			log.Error("Bot runtime failed", "error", err)
			return
		}
		log.Info("Bot stopped")
	},
}

func init() {
	rootCmd.AddCommand(runCmd)
}
