package main

import (
	"context"
	"fmt"
	"strings"

	"github.com/charmbracelet/bubbles/textinput"
	tea "github.com/charmbracelet/bubbletea"

	"github.com/wippyai/multicall/engine"
	"github.com/wippyai/multicall/invocation"
)

type interactiveModel struct {
	err         error
	inst        *engine.WazeroInstance
	done        func()
	inv         *invocation.Invocation
	filename    string
	memoryLimit uint32
	exports     []exportInfo
	picked      []string
	results     []string
	inputs      []textinput.Model
	cursor      int
	focusIdx    int
	state       modelState
}

type exportInfo struct {
	name     string
	encoding string
	checked  bool
}

type modelState int

const (
	stateSelectExports modelState = iota
	stateInputArgs
	stateShowResult
)

type loadedMsg struct {
	err     error
	inst    *engine.WazeroInstance
	done    func()
	exports []exportInfo
}

type callResultMsg struct {
	err     error
	results []string
}

func newInteractiveModel(filename string, memoryLimit uint32) *interactiveModel {
	return &interactiveModel{
		filename:    filename,
		memoryLimit: memoryLimit,
		state:       stateSelectExports,
	}
}

func (m *interactiveModel) Init() tea.Cmd {
	return m.loadModule
}

func (m *interactiveModel) loadModule() tea.Msg {
	inst, done, err := loadInstance(context.Background(), m.filename, m.memoryLimit)
	if err != nil {
		return loadedMsg{err: err}
	}
	var exports []exportInfo
	for _, name := range inst.ExportNames() {
		e, err := inst.Export(name)
		if err != nil {
			continue
		}
		enc, err := engine.EncodingForCore(e.Definition())
		if err != nil {
			continue
		}
		exports = append(exports, exportInfo{name: name, encoding: enc})
	}
	if len(exports) == 0 {
		done()
		return loadedMsg{err: fmt.Errorf("%s has no callable exports", m.filename)}
	}
	return loadedMsg{inst: inst, done: done, exports: exports}
}

func (m *interactiveModel) shutdown() {
	if m.inv != nil {
		m.inv.Close()
	}
	if m.done != nil {
		m.done()
	}
}

func (m *interactiveModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "ctrl+c":
			m.shutdown()
			return m, tea.Quit

		case "q":
			if m.state != stateInputArgs {
				m.shutdown()
				return m, tea.Quit
			}

		case "up", "k":
			if m.state == stateSelectExports && m.cursor > 0 {
				m.cursor--
			}

		case "down", "j":
			if m.state == stateSelectExports && m.cursor < len(m.exports)-1 {
				m.cursor++
			}

		case " ":
			if m.state == stateSelectExports && len(m.exports) > 0 {
				m.exports[m.cursor].checked = !m.exports[m.cursor].checked
			}

		case "enter":
			switch m.state {
			case stateSelectExports:
				if len(m.exports) == 0 {
					break
				}
				if err := m.prepare(); err != nil {
					m.err = err
					m.state = stateShowResult
					break
				}
				if len(m.inputs) == 0 {
					return m, m.callAll
				}
				m.state = stateInputArgs

			case stateInputArgs:
				return m, m.callAll

			case stateShowResult:
				m.reset()
			}

		case "tab":
			if m.state == stateInputArgs && len(m.inputs) > 1 {
				m.inputs[m.focusIdx].Blur()
				m.focusIdx = (m.focusIdx + 1) % len(m.inputs)
				m.inputs[m.focusIdx].Focus()
			}

		case "esc":
			if m.state != stateSelectExports {
				m.reset()
			}
		}

	case loadedMsg:
		if msg.err != nil {
			m.err = msg.err
			return m, nil
		}
		m.inst = msg.inst
		m.done = msg.done
		m.exports = msg.exports

	case callResultMsg:
		m.results = msg.results
		m.err = msg.err
		m.state = stateShowResult
	}

	if m.state == stateInputArgs {
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

func (m *interactiveModel) reset() {
	if m.inv != nil {
		m.inv.Close()
		m.inv = nil
	}
	m.state = stateSelectExports
	m.inputs = nil
	m.results = nil
	m.picked = nil
	m.err = nil
}

// prepare builds the invocation over the checked exports, or the one under
// the cursor when none are checked, and one input per argument.
func (m *interactiveModel) prepare() error {
	m.picked = nil
	for _, e := range m.exports {
		if e.checked {
			m.picked = append(m.picked, e.name)
		}
	}
	if len(m.picked) == 0 {
		m.picked = []string{m.exports[m.cursor].name}
	}

	inv, err := newInvocation(m.inst, m.picked, "")
	if err != nil {
		return err
	}
	m.inv = inv

	sig := inv.Signature()
	m.inputs = make([]textinput.Model, sig.ArgumentCount()-1)
	for i := range m.inputs {
		ti := textinput.New()
		ti.Placeholder = sig.ArgumentEncoding(i + 1)
		ti.Prompt = fmt.Sprintf("arg %d: ", i+1)
		ti.Width = 40
		if i == 0 {
			ti.Focus()
		}
		m.inputs[i] = ti
	}
	m.focusIdx = 0
	return nil
}

func (m *interactiveModel) callAll() tea.Msg {
	args := make([]string, len(m.inputs))
	for i, input := range m.inputs {
		args[i] = input.Value()
	}
	if err := setArguments(m.inv, args); err != nil {
		return callResultMsg{err: err}
	}
	if err := m.inv.Invoke(context.Background()); err != nil {
		return callResultMsg{err: err}
	}
	return callResultMsg{results: formatReturns(m.inv)}
}

func (m *interactiveModel) View() string {
	if m.err != nil && m.state != stateShowResult {
		return errorStyle.Render(fmt.Sprintf("Error: %v\n\nPress q to quit.", m.err))
	}

	if len(m.exports) == 0 {
		return "Loading module..."
	}

	var b strings.Builder

	b.WriteString(titleStyle.Render("multicall"))
	b.WriteString(" ")
	b.WriteString(m.filename)
	b.WriteString("\n\n")

	switch m.state {
	case stateSelectExports:
		b.WriteString("Select exports to call together:\n\n")
		for i, e := range m.exports {
			box := "[ ] "
			if e.checked {
				box = "[x] "
			}
			line := box + funcStyle.Render(e.name) + " " + typeStyle.Render(e.encoding)
			if i == m.cursor {
				b.WriteString(selectedStyle.Render("> " + box + e.name + " " + e.encoding))
			} else {
				b.WriteString("  " + line)
			}
			b.WriteString("\n")
		}
		b.WriteString("\n")
		b.WriteString(helpStyle.Render("↑/↓ move • space toggle • enter call • q quit"))

	case stateInputArgs:
		fmt.Fprintf(&b, "Calling %s with %s\n\n",
			funcStyle.Render(strings.Join(m.picked, ", ")), typeStyle.Render(m.inv.Signature().Encoding()))
		for _, input := range m.inputs {
			b.WriteString(input.View())
			b.WriteString("\n")
		}
		b.WriteString("\n")
		b.WriteString(helpStyle.Render("tab next field • enter call • esc back"))

	case stateShowResult:
		b.WriteString("Results:\n\n")
		if m.err != nil {
			b.WriteString(errorStyle.Render(fmt.Sprintf("Error: %v", m.err)))
		} else {
			for i, r := range m.results {
				fmt.Fprintf(&b, "  %s  %s\n", funcStyle.Render(m.picked[i]), resultStyle.Render(r))
			}
		}
		b.WriteString("\n\n")
		b.WriteString(helpStyle.Render("enter continue • q quit"))
	}

	return b.String()
}

func runInteractive(filename string, memoryLimit uint32) error {
	p := tea.NewProgram(newInteractiveModel(filename, memoryLimit), tea.WithAltScreen())
	_, err := p.Run()
	return err
}
