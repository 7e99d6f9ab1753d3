// Package tui renders the activity log in the terminal.
package tui

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"letterdesk/internal/core"
)

// Loader fetches the latest activity entries, newest first.
type Loader func(ctx context.Context) ([]core.ActivityLog, error)

var (
	docStyle    = lipgloss.NewStyle().Margin(1, 2)
	titleStyle  = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("63"))
	paneStyle   = lipgloss.NewStyle().Border(lipgloss.NormalBorder(), true).Padding(0, 1)
	cursorStyle = lipgloss.NewStyle().Bold(true)
	mutedStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("241"))

	statusStyles = map[string]lipgloss.Style{
		core.StatusSuccess: lipgloss.NewStyle().Foreground(lipgloss.Color("42")),
		core.StatusWarning: lipgloss.NewStyle().Foreground(lipgloss.Color("214")),
		core.StatusError:   lipgloss.NewStyle().Foreground(lipgloss.Color("196")),
		core.StatusInfo:    lipgloss.NewStyle().Foreground(lipgloss.Color("39")),
	}
)

type entriesMsg struct {
	entries []core.ActivityLog
	err     error
}

type tickMsg time.Time

// Model is the activity viewer state.
type Model struct {
	load     Loader
	interval time.Duration // 0 disables polling

	entries     []core.ActivityLog
	err         error
	selectedIdx int
	width       int
	height      int
	updated     time.Time
	quitting    bool
}

// NewModel creates a viewer. A positive interval refreshes the list
// periodically.
func NewModel(load Loader, interval time.Duration) Model {
	return Model{load: load, interval: interval, width: 160}
}

func (m Model) fetch() tea.Cmd {
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		entries, err := m.load(ctx)
		return entriesMsg{entries: entries, err: err}
	}
}

func (m Model) tick() tea.Cmd {
	if m.interval <= 0 {
		return nil
	}
	return tea.Tick(m.interval, func(t time.Time) tea.Msg { return tickMsg(t) })
}

// Init loads the first page.
func (m Model) Init() tea.Cmd {
	return m.fetch()
}

// Update handles messages and updates the model accordingly.
func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height

	case entriesMsg:
		m.err = msg.err
		if msg.err == nil {
			m.entries = msg.entries
			m.updated = time.Now()
			if m.selectedIdx >= len(m.entries) {
				m.selectedIdx = max(len(m.entries)-1, 0)
			}
		}
		return m, m.tick()

	case tickMsg:
		return m, m.fetch()

	case tea.KeyMsg:
		switch msg.String() {
		case "ctrl+c", "q":
			m.quitting = true
			return m, tea.Quit
		case "up", "k":
			if m.selectedIdx > 0 {
				m.selectedIdx--
			}
		case "down", "j":
			if m.selectedIdx < len(m.entries)-1 {
				m.selectedIdx++
			}
		case "r":
			return m, m.fetch()
		}
	}

	return m, nil
}

// View renders the TUI.
func (m Model) View() string {
	if m.quitting {
		return ""
	}

	paneWidth := max(m.width/2-6, 30)

	var list strings.Builder
	list.WriteString(titleStyle.Render("Activity") + "\n\n")
	switch {
	case m.err != nil:
		list.WriteString(statusStyles[core.StatusError].Render("Error: " + m.err.Error()))
	case len(m.entries) == 0:
		list.WriteString(mutedStyle.Render("No activity recorded."))
	default:
		for i, e := range m.entries {
			line := fmt.Sprintf("%s %s %s", e.CreatedAt.Local().Format("01-02 15:04"), statusStyle(e.Status).Render(fmt.Sprintf("%-7s", e.Status)), e.Event)
			if i == m.selectedIdx {
				list.WriteString(cursorStyle.Render("> "+line) + "\n")
			} else {
				list.WriteString("  " + line + "\n")
			}
		}
	}

	left := paneStyle.Width(paneWidth).Render(list.String())
	right := paneStyle.Width(paneWidth).Render(m.detail())
	main := lipgloss.JoinHorizontal(lipgloss.Top, left, right)

	help := "[↑/k] Up | [↓/j] Down | [r] Refresh | [q] Quit"
	if m.interval > 0 && !m.updated.IsZero() {
		help += mutedStyle.Render(fmt.Sprintf("  updated %s", m.updated.Format("15:04:05")))
	}

	return docStyle.Render(main + "\n\n" + help)
}

func (m Model) detail() string {
	if len(m.entries) == 0 || m.selectedIdx >= len(m.entries) {
		return mutedStyle.Render("Nothing selected.")
	}
	return FormatEntry(m.entries[m.selectedIdx])
}

// FormatEntry renders one entry with its metadata as plain labelled lines.
func FormatEntry(e core.ActivityLog) string {
	var b strings.Builder
	b.WriteString(titleStyle.Render(e.Event) + "\n\n")
	fmt.Fprintf(&b, "Status:   %s\n", statusStyle(e.Status).Render(e.Status))
	fmt.Fprintf(&b, "Time:     %s\n", e.CreatedAt.Local().Format(time.RFC1123))
	if e.SequenceID != nil {
		fmt.Fprintf(&b, "Sequence: %s\n", *e.SequenceID)
	}
	if e.Message != "" {
		fmt.Fprintf(&b, "\n%s\n", e.Message)
	}
	if len(e.Metadata) > 0 {
		keys := make([]string, 0, len(e.Metadata))
		for k := range e.Metadata {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		b.WriteString("\n")
		for _, k := range keys {
			fmt.Fprintf(&b, "%s %v\n", mutedStyle.Render(k+":"), e.Metadata[k])
		}
	}
	return b.String()
}

func statusStyle(status string) lipgloss.Style {
	if s, ok := statusStyles[status]; ok {
		return s
	}
	return mutedStyle
}

// Run starts the viewer and blocks until the user quits.
func Run(load Loader, interval time.Duration) error {
	p := tea.NewProgram(NewModel(load, interval), tea.WithAltScreen())
	if _, err := p.Run(); err != nil {
		return fmt.Errorf("error running activity viewer: %w", err)
	}
	return nil
}
