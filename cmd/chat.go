package cmd

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"strings"

	"commandbot/pkg/bot"
	"commandbot/pkg/channel"
	"commandbot/pkg/conversation"
	"commandbot/pkg/stanza"
	"commandbot/pkg/ui/chat"

	"github.com/spf13/cobra"
)

const consoleChannel = "console"

var plainChat bool

var chatCmd = &cobra.Command{
	Use:   "chat",
	Short: "Talk to the configured topics from the terminal",
	Long:  "Routes terminal input through the conversation topics exactly as chat messages from an XMPP peer would be, without connecting to a server.",
	Run: func(cmd *cobra.Command, args []string) {
		_ = args

		cfg, appLogger, closeLog, err := loadRuntime()
		if err != nil {
			fmt.Println(err)
			return
		}
		defer func() { _ = closeLog() }()

		ctx := cmd.Context()
		if ctx == nil {
			ctx = context.Background()
		}

		b, err := bot.New(bot.Options{Config: cfg, Provider: assistantClient(ctx, cfg, appLogger), Log: appLogger})
		if err != nil {
			fmt.Printf("failed to initialize bot: %v\n", err)
			return
		}

		peer, err := channel.Address(consoleChannel, consoleUser(), "terminal")
		if err != nil {
			fmt.Printf("failed to build console address: %v\n", err)
			return
		}
		send := routeSender(b.Router, peer.String())

		if plainChat {
			if err := runPlain(ctx, os.Stdin, os.Stdout, send); err != nil {
				fmt.Printf("input error: %v\n", err)
			}
			return
		}
		if err := chat.Run(ctx, send, chat.Info{Peer: peer.String(), Topics: b.Router.TopicNames()}); err != nil {
			fmt.Printf("console failed: %v\n", err)
		}
	},
}

func init() {
	rootCmd.AddCommand(chatCmd)
	chatCmd.Flags().BoolVar(&plainChat, "plain", false, "read lines from stdin instead of starting the full-screen console")
}

// routeSender delivers text as a chat message from peer and collects the
// replies the conversation sent back, including those of background work.
func routeSender(router *conversation.Router, peer string) chat.SendFunc {
	return func(ctx context.Context, text string) ([]string, error) {
		var replies []string
		out := stanza.SenderFunc(func(st stanza.Stanza) error {
			if msg, ok := st.(*stanza.Message); ok {
				replies = append(replies, msg.Body)
			}
			return nil
		})
		err := router.Route(ctx, out, &stanza.Message{Type: stanza.MessageChat, From: peer, Body: text})
		router.Wait()
		return replies, err
	}
}

func runPlain(ctx context.Context, in io.Reader, out io.Writer, send chat.SendFunc) error {
	scanner := bufio.NewScanner(in)
	for scanner.Scan() {
		text := strings.TrimSpace(scanner.Text())
		if text == "" {
			continue
		}
		if isExitCommand(text) {
			return nil
		}

		replies, err := send(ctx, text)
		if err != nil {
			fmt.Fprintf(out, "error: %v\n", err)
			continue
		}
		for _, reply := range replies {
			for _, line := range replyLines(reply) {
				fmt.Fprintf(out, "bot> %s\n", line)
			}
		}
	}
	return scanner.Err()
}

func replyLines(message string) []string {
	trimmed := strings.TrimSpace(message)
	if trimmed == "" {
		return nil
	}
	return strings.Split(trimmed, "\n")
}

func isExitCommand(input string) bool {
	switch strings.ToLower(strings.TrimSpace(input)) {
	case "exit", "/exit", "quit", ":q":
		return true
	default:
		return false
	}
}

func consoleUser() string {
	for _, name := range []string{"USER", "USERNAME"} {
		if value := strings.ToLower(strings.TrimSpace(os.Getenv(name))); value != "" && !strings.ContainsAny(value, "@/ ") {
			return value
		}
	}
	return "you"
}
