package main

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/charmbracelet/bubbles/textinput"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"golang.org/x/term"

	wasmsandbox "github.com/aegisedge/wasm-sandbox"
	"github.com/aegisedge/wasm-sandbox/registry"
)

var (
	titleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("#FAFAFA")).
			Background(lipgloss.Color("#7D56F4")).
			Padding(0, 1)

	moduleStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#98FB98"))

	classStyle = lipgloss.NewStyle().
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

type modelState int

const (
	stateSelectModule modelState = iota
	stateInputRequest
	stateShowResult
)

// Input field order in stateInputRequest.
const (
	inputMethod = iota
	inputURI
	inputHeaders
	inputBody
	numInputs
)

type interactiveModel struct {
	err        error
	specs      []moduleSpec
	policyFile string
	redisAddr  string

	registry   *registry.Registry
	dispatcher *registry.Dispatcher
	cleanup    func()

	entries  []registry.Entry
	inputs   []textinput.Model
	selected int
	focusIdx int
	result   string
	state    modelState
}

func newInteractiveModel(specs []moduleSpec, policyFile, redisAddr string) *interactiveModel {
	return &interactiveModel{
		specs:      specs,
		policyFile: policyFile,
		redisAddr:  redisAddr,
		state:      stateSelectModule,
	}
}

type loadedMsg struct {
	err        error
	registry   *registry.Registry
	dispatcher *registry.Dispatcher
	cleanup    func()
	entries    []registry.Entry
}

type callResultMsg struct {
	err    error
	result string
}

func (m *interactiveModel) Init() tea.Cmd {
	return m.loadModules
}

func (m *interactiveModel) loadModules() tea.Msg {
	reg, cleanup, err := setup(context.Background(), m.specs, m.policyFile, m.redisAddr)
	if err != nil {
		return loadedMsg{err: err}
	}
	return loadedMsg{
		registry:   reg,
		dispatcher: registry.NewDispatcher(reg),
		cleanup:    cleanup,
		entries:    reg.List(),
	}
}

func (m *interactiveModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "ctrl+c":
			if m.cleanup != nil {
				m.cleanup()
			}
			return m, tea.Quit

		case "q":
			if m.state == stateSelectModule || m.state == stateShowResult {
				if m.cleanup != nil {
					m.cleanup()
				}
				return m, tea.Quit
			}

		case "up", "k":
			if m.state == stateSelectModule && m.selected > 0 {
				m.selected--
			}

		case "down", "j":
			if m.state == stateSelectModule && m.selected < len(m.entries)-1 {
				m.selected++
			}

		case "enter":
			switch m.state {
			case stateSelectModule:
				if len(m.entries) > 0 {
					m.prepareInputs()
					m.state = stateInputRequest
				}

			case stateInputRequest:
				return m, m.invokeModule

			case stateShowResult:
				m.state = stateSelectModule
				m.result = ""
				m.err = nil
			}

		case "tab":
			if m.state == stateInputRequest {
				m.inputs[m.focusIdx].Blur()
				m.focusIdx = (m.focusIdx + 1) % len(m.inputs)
				m.inputs[m.focusIdx].Focus()
			}

		case "esc":
			switch m.state {
			case stateInputRequest:
				m.state = stateSelectModule
				m.inputs = nil
			case stateShowResult:
				m.state = stateSelectModule
				m.result = ""
				m.err = nil
			}
		}

	case loadedMsg:
		if msg.err != nil {
			m.err = msg.err
			return m, nil
		}
		m.registry = msg.registry
		m.dispatcher = msg.dispatcher
		m.cleanup = msg.cleanup
		m.entries = msg.entries

	case callResultMsg:
		m.result = msg.result
		m.err = msg.err
		m.state = stateShowResult
	}

	if m.state == stateInputRequest {
		var cmds []tea.Cmd
		for i := range m.inputs {
			var cmd tea.Cmd
			m.inputs[i], cmd = m.inputs[i].Update(msg)
			cmds = append(cmds, cmd)
		}
		return m, tea.Batch(cmds...)
	}

	return m, nil
}

func (m *interactiveModel) prepareInputs() {
	m.inputs = make([]textinput.Model, numInputs)
	prompts := [numInputs]string{"method: ", "uri: ", "headers: ", "body: "}
	placeholders := [numInputs]string{"GET", "/", "Name=Value,Name2=Value2", ""}
	for i := range m.inputs {
		ti := textinput.New()
		ti.Prompt = prompts[i]
		ti.Placeholder = placeholders[i]
		ti.Width = 60
		if i == inputMethod {
			ti.SetValue("GET")
		}
		if i == inputURI {
			ti.SetValue("/")
			ti.Focus()
		}
		m.inputs[i] = ti
	}
	m.focusIdx = inputURI
}

func (m *interactiveModel) invokeModule() tea.Msg {
	ctx := context.Background()
	entry := m.entries[m.selected]

	execCtx := &wasmsandbox.ExecutionContext{
		RequestMethod:  strings.TrimSpace(m.inputs[inputMethod].Value()),
		RequestURI:     strings.TrimSpace(m.inputs[inputURI].Value()),
		RequestHeaders: parseHeaders(m.inputs[inputHeaders].Value()),
	}
	if execCtx.RequestMethod == "" {
		execCtx.RequestMethod = "GET"
	}
	if body := m.inputs[inputBody].Value(); body != "" {
		execCtx.RequestBody = []byte(body)
	}

	switch entry.Metadata.Class {
	case wasmsandbox.ClassWAF:
		verdict, err := m.dispatcher.Analyze(ctx, entry.ID, execCtx)
		if err != nil {
			return callResultMsg{err: err}
		}
		return callResultMsg{result: formatVerdict(verdict)}
	default:
		out, err := m.dispatcher.Handle(ctx, entry.ID, execCtx)
		if err != nil {
			return callResultMsg{err: err}
		}
		return callResultMsg{result: formatContext(out)}
	}
}

func (m *interactiveModel) View() string {
	if m.err != nil && m.state != stateShowResult {
		return errorStyle.Render(fmt.Sprintf("Error: %v\n\nPress q to quit.", m.err))
	}

	if len(m.entries) == 0 {
		return "Loading modules..."
	}

	var b strings.Builder

	b.WriteString(titleStyle.Render("WASM Sandbox"))
	b.WriteString("\n\n")

	switch m.state {
	case stateSelectModule:
		b.WriteString("Select a module to invoke:\n\n")
		for i, entry := range m.entries {
			line := m.formatEntry(entry)
			if i == m.selected {
				b.WriteString(selectedStyle.Render("> " + line))
			} else {
				b.WriteString("  " + line)
			}
			b.WriteString("\n")
		}
		b.WriteString("\n")
		b.WriteString(helpStyle.Render("↑/↓ select • enter invoke • q quit"))

	case stateInputRequest:
		entry := m.entries[m.selected]
		b.WriteString(fmt.Sprintf("Request for %s\n\n", moduleStyle.Render(entry.ID)))
		for i := range m.inputs {
			b.WriteString(m.inputs[i].View())
			b.WriteString("\n")
		}
		b.WriteString("\n")
		b.WriteString(helpStyle.Render("tab next field • enter run • esc back"))

	case stateShowResult:
		entry := m.entries[m.selected]
		b.WriteString(fmt.Sprintf("Result of %s:\n\n", moduleStyle.Render(entry.ID)))
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

func (m *interactiveModel) formatEntry(entry registry.Entry) string {
	return moduleStyle.Render(entry.ID) + " " +
		classStyle.Render("["+string(entry.Metadata.Class)+"]") + " " +
		entry.Metadata.OriginRef
}

func runInteractive(specs []moduleSpec, policyFile, redisAddr string) error {
	if !term.IsTerminal(int(os.Stdin.Fd())) {
		return fmt.Errorf("interactive mode requires a terminal")
	}
	p := tea.NewProgram(newInteractiveModel(specs, policyFile, redisAddr), tea.WithAltScreen())
	_, err := p.Run()
	return err
}
