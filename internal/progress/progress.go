// Package progress implements the supplemental `--print-on-run` live
// display, a bubbletea model in bobbyhouse-iguana's cmd/iguana Init/
// Update/View shape, fed by internal/emulate.Emulator.OnExecute instead of
// terminal key events.
package progress

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"rkr/internal/ir"
)

var (
	runningStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("3"))
	doneStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("2"))
)

// CommandStarted is sent into the program each time a command begins
// executing for real.
type CommandStarted struct {
	ID   ir.CommandID
	Argv []string
}

// CommandFinished is sent once the command's tracer call returns.
type CommandFinished struct {
	ID       ir.CommandID
	ExitCode int32
}

// Model tracks every command currently or previously running, in launch
// order, for View to render as a scroll of lines.
type Model struct {
	order    []ir.CommandID
	argv     map[ir.CommandID][]string
	finished map[ir.CommandID]int32
	spin     spinner.Model
}

func New() Model {
	s := spinner.New()
	s.Spinner = spinner.Dot
	return Model{
		argv:     make(map[ir.CommandID][]string),
		finished: make(map[ir.CommandID]int32),
		spin:     s,
	}
}

func (m Model) Init() tea.Cmd { return m.spin.Tick }

func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case CommandStarted:
		if _, seen := m.argv[msg.ID]; !seen {
			m.order = append(m.order, msg.ID)
		}
		m.argv[msg.ID] = msg.Argv
	case CommandFinished:
		m.finished[msg.ID] = msg.ExitCode
	case tea.KeyMsg:
		if msg.Type == tea.KeyCtrlC {
			return m, tea.Quit
		}
	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spin, cmd = m.spin.Update(msg)
		return m, cmd
	}
	return m, nil
}

func (m Model) View() string {
	var b strings.Builder
	for _, id := range m.order {
		line := fmt.Sprintf("[%d] %s", id, strings.Join(m.argv[id], " "))
		if code, done := m.finished[id]; done {
			b.WriteString(doneStyle.Render(fmt.Sprintf("%s (exit %d)\n", line, code)))
		} else {
			b.WriteString(runningStyle.Render(fmt.Sprintf("%s %s\n", m.spin.View(), line)))
		}
	}
	return b.String()
}
