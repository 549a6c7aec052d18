package main

import (
	"context"
	"encoding/json"
	"fmt"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/charmbracelet/bubbles/textinput"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/wippyai/romkit"
	"github.com/wippyai/romkit/config"
	"github.com/wippyai/romkit/session"
)

var (
	titleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("#FAFAFA")).
			Background(lipgloss.Color("#7D56F4")).
			Padding(0, 1)

	kindStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#98FB98"))

	countStyle = lipgloss.NewStyle().
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

type interactiveModel struct {
	err      error
	session  *session.Session
	cfg      *config.Config
	done     func()
	filename string
	result   string
	items    []menuItem
	input    textinput.Model
	selected int
	state    modelState
}

// menuItem is either a record kind or a patch.
type menuItem struct {
	kind  session.Kind
	patch string
	count int
}

func (it menuItem) label() string {
	if it.patch != "" {
		return "patch " + it.patch
	}
	return string(it.kind)
}

type modelState int

const (
	stateSelect modelState = iota
	stateInputIndex
	stateShowResult
)

func newInteractiveModel(cfg *config.Config, filename string) *interactiveModel {
	return &interactiveModel{
		cfg:      cfg,
		filename: filename,
		state:    stateSelect,
	}
}

type loadedMsg struct {
	err     error
	session *session.Session
	done    func()
	items   []menuItem
}

type resultMsg struct {
	err    error
	result string
}

func (m *interactiveModel) Init() tea.Cmd {
	return m.loadROM
}

func (m *interactiveModel) loadROM() tea.Msg {
	s, done, err := open(context.Background(), m.cfg, m.filename, false)
	if err != nil {
		return loadedMsg{err: err}
	}

	var items []menuItem
	for _, kind := range session.Kinds {
		n, err := s.Count(kind)
		if err != nil {
			continue
		}
		items = append(items, menuItem{kind: kind, count: n})
	}
	for _, name := range s.Patches() {
		items = append(items, menuItem{patch: name})
	}
	return loadedMsg{session: s, done: done, items: items}
}

func (m *interactiveModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "ctrl+c":
			return m, m.quit()

		case "q":
			if m.state != stateInputIndex {
				return m, m.quit()
			}

		case "up", "k":
			if m.state == stateSelect && m.selected > 0 {
				m.selected--
			}

		case "down", "j":
			if m.state == stateSelect && m.selected < len(m.items)-1 {
				m.selected++
			}

		case "w":
			if m.state == stateSelect && m.session != nil {
				return m, m.save
			}

		case "enter":
			switch m.state {
			case stateSelect:
				if len(m.items) == 0 {
					break
				}
				if m.items[m.selected].patch != "" {
					return m, m.applyPatch
				}
				m.prepareInput()
				m.state = stateInputIndex
				return m, textinput.Blink

			case stateInputIndex:
				return m, m.showRecord

			case stateShowResult:
				m.state = stateSelect
				m.result = ""
				m.err = nil
			}

		case "esc":
			switch m.state {
			case stateInputIndex, stateShowResult:
				m.state = stateSelect
				m.result = ""
				m.err = nil
			}
		}

	case loadedMsg:
		if msg.err != nil {
			m.err = msg.err
			return m, nil
		}
		m.session = msg.session
		m.done = msg.done
		m.items = msg.items

	case resultMsg:
		m.result = msg.result
		m.err = msg.err
		m.state = stateShowResult
	}

	if m.state == stateInputIndex {
		var cmd tea.Cmd
		m.input, cmd = m.input.Update(msg)
		return m, cmd
	}

	return m, nil
}

func (m *interactiveModel) quit() tea.Cmd {
	if m.done != nil {
		m.done()
		m.done = nil
	}
	return tea.Quit
}

func (m *interactiveModel) prepareInput() {
	it := m.items[m.selected]
	ti := textinput.New()
	ti.Placeholder = fmt.Sprintf("0-%d", max(it.count-1, 0))
	ti.Prompt = "index: "
	ti.Width = 20
	ti.Focus()
	m.input = ti
}

func (m *interactiveModel) showRecord() tea.Msg {
	it := m.items[m.selected]
	index, err := strconv.Atoi(strings.TrimSpace(m.input.Value()))
	if err != nil {
		return resultMsg{err: fmt.Errorf("index %q: %w", m.input.Value(), err)}
	}
	rec, err := m.session.Record(it.kind, index)
	if err != nil {
		return resultMsg{err: err}
	}
	out, err := json.MarshalIndent(rec, "", "  ")
	if err != nil {
		return resultMsg{err: err}
	}
	return resultMsg{result: string(out)}
}

func (m *interactiveModel) applyPatch() tea.Msg {
	name := m.items[m.selected].patch
	res, err := m.session.ApplyNamedPatch(name)
	if err != nil {
		return resultMsg{err: err}
	}
	return resultMsg{result: fmt.Sprintf("%d applied, %d already present, %d relocated",
		res.Applied, res.Skipped, len(res.Relocations))}
}

func (m *interactiveModel) save() tea.Msg {
	out := editedName(m.filename)
	if err := romkit.SaveFile(m.session, out); err != nil {
		return resultMsg{err: err}
	}
	return resultMsg{result: "Wrote " + out}
}

// editedName derives the output path of an interactive session.
func editedName(filename string) string {
	ext := filepath.Ext(filename)
	return strings.TrimSuffix(filename, ext) + "-edited" + ext
}

func (m *interactiveModel) View() string {
	if m.err != nil && m.state != stateShowResult {
		return errorStyle.Render(fmt.Sprintf("Error: %v\n\nPress q to quit.", m.err))
	}

	if m.session == nil {
		return "Loading ROM..."
	}

	var b strings.Builder

	b.WriteString(titleStyle.Render("romkit"))
	b.WriteString(" ")
	b.WriteString(m.filename)
	b.WriteString(" ")
	b.WriteString(countStyle.Render(m.session.Build().Name))
	b.WriteString("\n\n")

	switch m.state {
	case stateSelect:
		b.WriteString("Select a record kind or patch:\n\n")
		for i, it := range m.items {
			line := m.formatItem(it)
			if i == m.selected {
				b.WriteString(selectedStyle.Render("> " + line))
			} else {
				b.WriteString("  " + line)
			}
			b.WriteString("\n")
		}
		b.WriteString("\n")
		b.WriteString(helpStyle.Render("↑/↓ select • enter open/apply • w write • q quit"))

	case stateInputIndex:
		it := m.items[m.selected]
		b.WriteString(fmt.Sprintf("Reading %s\n\n", kindStyle.Render(string(it.kind))))
		b.WriteString(m.input.View())
		b.WriteString("\n\n")
		b.WriteString(helpStyle.Render("enter show • esc back"))

	case stateShowResult:
		it := m.items[m.selected]
		b.WriteString(fmt.Sprintf("%s:\n\n", kindStyle.Render(it.label())))
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

func (m *interactiveModel) formatItem(it menuItem) string {
	if it.patch != "" {
		return kindStyle.Render(it.label())
	}
	return kindStyle.Render(it.label()) + " " + countStyle.Render(strconv.Itoa(it.count))
}

func runInteractive(cfg *config.Config, filename string) error {
	m := newInteractiveModel(cfg, filename)
	p := tea.NewProgram(m, tea.WithAltScreen())
	_, err := p.Run()
	if m.done != nil {
		m.done()
	}
	return err
}
