package chat

import (
	"context"
	"fmt"
	"strings"

	"github.com/charmbracelet/bubbles/spinner"
	"github.com/charmbracelet/bubbles/textinput"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
)

type role int

const (
	rolePeer role = iota
	roleBot
	roleError
	// roleNotice marks a turn the bot did not answer.
	roleNotice
)

type entry struct {
	role    role
	content string
}

type repliesMsg struct {
	replies []string
	err     error
}

type model struct {
	ctx  context.Context
	send SendFunc
	info Info

	theme    theme
	spinner  spinner.Model
	input    textinput.Model
	viewport viewport.Model
	entries  []entry

	width     int
	height    int
	ready     bool
	waiting   bool
	followLog bool
	turns     int
}

func newModel(ctx context.Context, send SendFunc, info Info) *model {
	spin := spinner.New()
	spin.Spinner = spinner.Dot
	spin.Style = lipgloss.NewStyle().Foreground(lipgloss.Color("214"))

	in := textinput.New()
	in.Prompt = "> "
	in.Placeholder = "Say something to the bot..."
	in.Focus()

	return &model{
		ctx:       ctx,
		send:      send,
		info:      info,
		theme:     defaultTheme(),
		spinner:   spin,
		input:     in,
		viewport:  viewport.New(80, 12),
		width:     100,
		height:    28,
		followLog: true,
	}
}

func (m *model) Init() tea.Cmd {
	return textinput.Blink
}

func (m *model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch typed := msg.(type) {
	case tea.WindowSizeMsg:
		m.width, m.height = typed.Width, typed.Height
		m.resize()
		m.refresh(false)
		m.ready = true
		return m, nil
	case tea.MouseMsg:
		m.handleViewportMouse(typed)
		return m, nil
	case tea.KeyMsg:
		switch typed.String() {
		case "ctrl+c", "esc":
			return m, tea.Quit
		case "enter":
			return m, m.submit()
		}
		if m.handleViewportKey(typed) {
			return m, nil
		}
	case spinner.TickMsg:
		if !m.waiting {
			return m, nil
		}
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(typed)
		return m, cmd
	case repliesMsg:
		m.waiting = false
		m.record(typed)
		m.refresh(false)
		return m, nil
	}

	var cmd tea.Cmd
	m.input, cmd = m.input.Update(msg)
	return m, cmd
}

// submit sends the current input line unless a reply is still pending.
func (m *model) submit() tea.Cmd {
	if m.waiting {
		return nil
	}
	text := strings.TrimSpace(m.input.Value())
	if text == "" {
		return nil
	}
	if isExitCommand(text) {
		return tea.Quit
	}

	m.input.SetValue("")
	m.entries = append(m.entries, entry{role: rolePeer, content: text})
	m.turns++
	m.waiting = true
	m.refresh(true)
	return tea.Batch(m.spinner.Tick, sendCmd(m.ctx, m.send, text))
}

func (m *model) record(msg repliesMsg) {
	if msg.err != nil {
		m.entries = append(m.entries, entry{role: roleError, content: msg.err.Error()})
		return
	}
	if len(msg.replies) == 0 {
		m.entries = append(m.entries, entry{role: roleNotice, content: "no reply"})
		return
	}
	for _, reply := range msg.replies {
		m.entries = append(m.entries, entry{role: roleBot, content: reply})
	}
}

func (m *model) View() string {
	if !m.ready {
		m.resize()
		m.refresh(false)
	}

	header := m.theme.header.Width(m.width - 2).Render("CommandBot console")
	meta := m.theme.headerMeta.Render(fmt.Sprintf("peer:%s · topics:%s · turns:%d",
		displayOrNA(m.info.Peer),
		displayOrNA(strings.Join(m.info.Topics, ",")),
		m.turns,
	))

	status := m.theme.status.Render("Enter send · PgUp/PgDn scroll · End latest · Ctrl+C/Esc quit")
	if m.waiting {
		status = m.theme.statusBusy.Render(m.spinner.View() + " waiting for the bot...")
	}

	return lipgloss.JoinVertical(lipgloss.Left,
		header,
		meta,
		m.theme.viewport.Width(m.width-2).Render(m.viewport.View()),
		status,
		m.theme.input.Width(m.width-2).Render(m.input.View()),
	)
}

func (m *model) resize() {
	w := max(40, m.width-6)
	h := max(6, m.height-9)
	m.viewport.Width = w
	m.viewport.Height = h
	m.input.Width = w - 4
}

func (m *model) refresh(forceBottom bool) {
	previousOffset := m.viewport.YOffset
	sections := make([]string, 0, len(m.entries))
	for _, item := range m.entries {
		sections = append(sections, m.render(item))
	}
	m.viewport.SetContent(strings.Join(sections, "\n"))

	if m.followLog || forceBottom {
		m.viewport.GotoBottom()
		m.followLog = true
		return
	}
	maxOffset := max(0, m.viewport.TotalLineCount()-m.viewport.Height)
	m.viewport.SetYOffset(min(previousOffset, maxOffset))
}

func (m *model) render(item entry) string {
	body := strings.TrimSpace(item.content)
	switch item.role {
	case rolePeer:
		return lipgloss.JoinVertical(lipgloss.Left, m.theme.peerTitle.Render("you"), m.theme.peerBox.Width(m.viewport.Width).Render(body))
	case roleBot:
		return lipgloss.JoinVertical(lipgloss.Left, m.theme.botTitle.Render("bot"), m.theme.botBox.Width(m.viewport.Width).Render(body))
	case roleError:
		return lipgloss.JoinVertical(lipgloss.Left, m.theme.errorTitle.Render("error"), m.theme.errorBox.Width(m.viewport.Width).Render(body))
	default:
		return m.theme.notice.Render("(" + body + ")")
	}
}

func (m *model) handleViewportKey(msg tea.KeyMsg) bool {
	switch msg.String() {
	case "pgup", "ctrl+b":
		m.viewport.PageUp()
		m.followLog = false
		return true
	case "pgdown", "ctrl+f":
		m.viewport.PageDown()
		m.followLog = m.viewport.AtBottom()
		return true
	case "home":
		m.viewport.GotoTop()
		m.followLog = false
		return true
	case "end":
		m.viewport.GotoBottom()
		m.followLog = true
		return true
	default:
		return false
	}
}

func (m *model) handleViewportMouse(msg tea.MouseMsg) bool {
	if msg.Action != tea.MouseActionPress {
		return false
	}
	switch msg.Button {
	case tea.MouseButtonWheelUp:
		m.viewport.ScrollUp(3)
		m.followLog = false
		return true
	case tea.MouseButtonWheelDown:
		m.viewport.ScrollDown(3)
		m.followLog = m.viewport.AtBottom()
		return true
	default:
		return false
	}
}

func sendCmd(ctx context.Context, send SendFunc, text string) tea.Cmd {
	return func() tea.Msg {
		replies, err := send(ctx, text)
		return repliesMsg{replies: replies, err: err}
	}
}

func displayOrNA(value string) string {
	if trimmed := strings.TrimSpace(value); trimmed != "" {
		return trimmed
	}
	return "n/a"
}

func isExitCommand(input string) bool {
	switch strings.ToLower(strings.TrimSpace(input)) {
	case "exit", "/exit", "quit", ":q":
		return true
	default:
		return false
	}
}
