package main

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/charmbracelet/bubbles/textinput"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/goccy/go-json"
	"github.com/spf13/cobra"
	"golang.org/x/term"

	extensionhost "github.com/wippyai/extension-host"
	"github.com/wippyai/extension-host/bridge"
	"github.com/wippyai/extension-host/bus"
	"github.com/wippyai/extension-host/manifest"
)

var (
	titleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("#FAFAFA")).
			Background(lipgloss.Color("#7D56F4")).
			Padding(0, 1)

	opStyle = lipgloss.NewStyle().
		Foreground(lipgloss.Color("#98FB98"))

	dimStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#87CEEB"))

	selectedStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#FAFAFA")).
			Background(lipgloss.Color("#7D56F4"))

	resultStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#90EE90"))

	errorStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#FF6B6B"))

	helpStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#666666"))
)

func newExploreCmd(g *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "explore",
		Short: "Browse providers interactively",
		RunE: func(cmd *cobra.Command, _ []string) error {
			if !term.IsTerminal(int(os.Stdout.Fd())) || !term.IsTerminal(int(os.Stdin.Fd())) {
				return fmt.Errorf("explore needs an interactive terminal")
			}
			return withApp(cmd, g, func(ctx context.Context, a *app) error {
				p := tea.NewProgram(newExploreModel(ctx, a.bus), tea.WithAltScreen(), tea.WithContext(ctx))
				_, err := p.Run()
				return err
			})
		},
	}
}

type exploreState int

const (
	stateSelectProvider exploreState = iota
	stateSelectOp
	stateInput
	stateRunning
	stateShowResult
)

// operation prompts for at most one argument.
type operation struct {
	name   string
	prompt string
}

var operations = []operation{
	{name: extensionhost.ExportSearch, prompt: "keyword"},
	{name: extensionhost.ExportLatest},
	{name: extensionhost.ExportDetail, prompt: "manga path"},
	{name: extensionhost.ExportChapter, prompt: "chapter path"},
}

type exploreModel struct {
	ctx       context.Context
	bus       *bus.Bus
	err       error
	result    string
	providers []manifest.Metadata
	input     textinput.Model
	provider  int
	op        int
	state     exploreState
}

type callResultMsg struct {
	err    error
	result string
}

func newExploreModel(ctx context.Context, b *bus.Bus) *exploreModel {
	return &exploreModel{
		ctx:       ctx,
		bus:       b,
		providers: b.List(ctx),
		state:     stateSelectProvider,
	}
}

func (m *exploreModel) Init() tea.Cmd {
	return nil
}

func (m *exploreModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "ctrl+c":
			return m, tea.Quit

		case "q":
			if m.state != stateInput {
				return m, tea.Quit
			}

		case "up", "k":
			if m.state != stateInput {
				m.move(-1)
			}

		case "down", "j":
			if m.state != stateInput {
				m.move(1)
			}

		case "enter":
			switch m.state {
			case stateSelectProvider:
				if len(m.providers) > 0 {
					m.state = stateSelectOp
					m.op = 0
				}
			case stateSelectOp:
				op := operations[m.op]
				if op.prompt == "" {
					m.state = stateRunning
					return m, m.call("")
				}
				m.input = textinput.New()
				m.input.Prompt = op.prompt + ": "
				m.input.Width = 60
				m.input.Focus()
				m.state = stateInput
				return m, textinput.Blink
			case stateInput:
				m.state = stateRunning
				return m, m.call(m.input.Value())
			case stateShowResult:
				m.reset(stateSelectOp)
			}
			return m, nil

		case "esc":
			switch m.state {
			case stateSelectOp:
				m.state = stateSelectProvider
			case stateInput, stateShowResult:
				m.reset(stateSelectOp)
			}
			return m, nil
		}

	case callResultMsg:
		m.result = msg.result
		m.err = msg.err
		m.state = stateShowResult
		return m, nil
	}

	if m.state == stateInput {
		var cmd tea.Cmd
		m.input, cmd = m.input.Update(msg)
		return m, cmd
	}
	return m, nil
}

func (m *exploreModel) move(delta int) {
	switch m.state {
	case stateSelectProvider:
		m.provider = clamp(m.provider+delta, len(m.providers))
	case stateSelectOp:
		m.op = clamp(m.op+delta, len(operations))
	}
}

func clamp(i, n int) int {
	if i < 0 {
		return 0
	}
	if i >= n {
		return n - 1
	}
	return i
}

func (m *exploreModel) reset(state exploreState) {
	m.state = state
	m.result = ""
	m.err = nil
}

func (m *exploreModel) call(arg string) tea.Cmd {
	id := m.providers[m.provider].ID
	op := operations[m.op].name
	return func() tea.Msg {
		var (
			out any
			err error
		)
		switch op {
		case extensionhost.ExportSearch:
			out, err = m.bus.Search(m.ctx, id, bridge.SearchParams{Keyword: arg})
		case extensionhost.ExportLatest:
			out, err = m.bus.Latest(m.ctx, id)
		case extensionhost.ExportDetail:
			out, err = m.bus.Detail(m.ctx, id, arg)
		case extensionhost.ExportChapter:
			out, err = m.bus.Chapter(m.ctx, id, arg)
		}
		if err != nil {
			return callResultMsg{err: err}
		}
		data, err := json.MarshalIndent(out, "", "  ")
		if err != nil {
			return callResultMsg{err: err}
		}
		return callResultMsg{result: string(data)}
	}
}

func (m *exploreModel) View() string {
	if len(m.providers) == 0 {
		return errorStyle.Render("No enabled providers in the store.\n\nPress q to quit.")
	}

	var b strings.Builder
	b.WriteString(titleStyle.Render("Provider Explorer"))
	b.WriteString("\n\n")

	switch m.state {
	case stateSelectProvider:
		b.WriteString("Select a provider:\n\n")
		for i, p := range m.providers {
			line := fmt.Sprintf("%d  %s %s", p.ID, p.Name, dimStyle.Render(p.Version))
			if i == m.provider {
				b.WriteString(selectedStyle.Render("> " + line))
			} else {
				b.WriteString("  " + line)
			}
			b.WriteString("\n")
		}
		b.WriteString("\n")
		b.WriteString(helpStyle.Render("↑/↓ select • enter choose • q quit"))

	case stateSelectOp:
		fmt.Fprintf(&b, "%s: choose an operation\n\n", m.providers[m.provider].Name)
		for i, op := range operations {
			line := opStyle.Render(op.name)
			if op.prompt != "" {
				line += "(" + dimStyle.Render(op.prompt) + ")"
			}
			if i == m.op {
				b.WriteString(selectedStyle.Render("> ") + line)
			} else {
				b.WriteString("  " + line)
			}
			b.WriteString("\n")
		}
		b.WriteString("\n")
		b.WriteString(helpStyle.Render("↑/↓ select • enter call • esc back • q quit"))

	case stateInput:
		fmt.Fprintf(&b, "Calling %s\n\n", opStyle.Render(operations[m.op].name))
		b.WriteString(m.input.View())
		b.WriteString("\n\n")
		b.WriteString(helpStyle.Render("enter call • esc back"))

	case stateRunning:
		fmt.Fprintf(&b, "Running %s on %s...", opStyle.Render(operations[m.op].name), m.providers[m.provider].Name)

	case stateShowResult:
		fmt.Fprintf(&b, "Result of %s:\n\n", opStyle.Render(operations[m.op].name))
		if m.err != nil {
			b.WriteString(errorStyle.Render(fmt.Sprintf("Error: %v", m.err)))
		} else {
			b.WriteString(resultStyle.Render(m.result))
		}
		b.WriteString("\n\n")
		b.WriteString(helpStyle.Render("enter continue • q quit"))
	}

	return b.String()
}
