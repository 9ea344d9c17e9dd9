// Package chat is a terminal console that talks to the bot's conversation
// topics without an XMPP server.
package chat

import (
	"context"
	"fmt"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
)

// SendFunc delivers one line to the bot and returns the replies it sent
// back, in order. A topic may answer with nothing.
type SendFunc func(ctx context.Context, text string) ([]string, error)

// Info is shown in the console header.
type Info struct {
	Peer   string
	Topics []string
}

// Run blocks until the user quits.
func Run(ctx context.Context, send SendFunc, info Info) error {
	program := tea.NewProgram(newModel(ctx, send, info), tea.WithMouseCellMotion())
	if _, err := program.Run(); err != nil {
		return err
	}

	fmt.Println(renderGoodbyeBanner())
	return nil
}

func renderGoodbyeBanner() string {
	style := lipgloss.NewStyle().
		Bold(true).
		Foreground(lipgloss.Color("230")).
		Background(lipgloss.Color("24")).
		Padding(0, 2)

	return style.Render("Console closed")
}
