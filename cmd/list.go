package cmd

import (
	"fmt"
	"slices"

	"commandbot/pkg/bot"
	"commandbot/pkg/config"
	"commandbot/pkg/conversation/assistant"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"
	"github.com/spf13/cobra"
)

var listCmd = &cobra.Command{
	Use:   "list",
	Short: "List available commands and topics",
	Long:  "Lists every command and topic implementation and marks the ones the configuration enables.",
	Run: func(cmd *cobra.Command, args []string) {
		_ = args

		cfg, err := config.LoadConfig(configPath)
		if err != nil {
			cfg = &config.Config{}
		}
		fmt.Println(renderCatalog(cfg))
	},
}

func init() {
	rootCmd.AddCommand(listCmd)
}

func catalogRows(cfg *config.Config) [][]string {
	var rows [][]string
	for _, name := range bot.CommandCatalog(nil).Names() {
		rows = append(rows, []string{"command", name, configuredAs(cfg.Commands, name)})
	}

	topics := bot.TopicCatalog(nil, cfg.Assistant).Names()
	if !slices.Contains(topics, assistant.Name) {
		topics = append(topics, assistant.Name)
		slices.Sort(topics)
	}
	for _, name := range topics {
		rows = append(rows, []string{"topic", name, configuredAs(cfg.Topics, name)})
	}
	return rows
}

// configuredAs describes how name appears in entries: not at all, or under
// which topic names.
func configuredAs(entries []config.PluginConfig, name string) string {
	var names []string
	for _, entry := range entries {
		if entry.Name != name {
			continue
		}
		label := entry.TopicName()
		if entry.Default {
			label += " (default)"
		}
		names = append(names, label)
	}
	if len(names) == 0 {
		return "-"
	}
	return fmt.Sprint(names)
}

func renderCatalog(cfg *config.Config) string {
	header := lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("230")).Padding(0, 1)
	cell := lipgloss.NewStyle().Padding(0, 1)

	return table.New().
		Border(lipgloss.RoundedBorder()).
		BorderStyle(lipgloss.NewStyle().Foreground(lipgloss.Color("24"))).
		StyleFunc(func(row, _ int) lipgloss.Style {
			if row == table.HeaderRow {
				return header
			}
			return cell
		}).
		Headers("KIND", "NAME", "CONFIGURED").
		Rows(catalogRows(cfg)...).
		Render()
}
