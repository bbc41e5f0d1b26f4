package tui

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/bubbles/key"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/pithecene-io/sluice/cli/reader"
)

type inspectTab int

const (
	tabSummary inspectTab = iota
	tabResults
)

// InspectModel is a Bubble Tea model for inspect views.
type InspectModel struct {
	viewType string
	data     any
	tab      inspectTab
	offset   int
	width    int
	height   int
	quitting bool
}

// NewInspectModel creates a new inspect model.
func NewInspectModel(viewType string, data any) InspectModel {
	return InspectModel{
		viewType: viewType,
		data:     data,
	}
}

// Init implements tea.Model.
func (m InspectModel) Init() tea.Cmd {
	return nil
}

// Update implements tea.Model.
func (m InspectModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		return m, nil

	case tea.KeyMsg:
		switch {
		case key.Matches(msg, keys.Quit):
			m.quitting = true
			return m, tea.Quit
		case key.Matches(msg, keys.Tab):
			if m.tab == tabSummary {
				m.tab = tabResults
			} else {
				m.tab = tabSummary
			}
			m.offset = 0
		case key.Matches(msg, keys.Down):
			if m.offset < m.resultCount()-1 {
				m.offset++
			}
		case key.Matches(msg, keys.Up):
			if m.offset > 0 {
				m.offset--
			}
		}
	}

	return m, nil
}

// View implements tea.Model.
func (m InspectModel) View() string {
	if m.quitting {
		return ""
	}

	data, ok := m.data.(*reader.InspectTraceResponse)
	if m.viewType != ViewInspectTrace || !ok {
		return fmt.Sprintf("Invalid data for view type: %s", m.viewType)
	}

	tabs := []string{"Summary", "Results"}
	for i, name := range tabs {
		if inspectTab(i) == m.tab {
			tabs[i] = ActiveTabStyle.Render(name)
		} else {
			tabs[i] = TabStyle.Render(name)
		}
	}

	var content string
	if m.tab == tabSummary {
		content = m.renderSummary(data)
	} else {
		content = m.renderResults(data)
	}

	help := HelpStyle.Render("tab switch view • ↑/↓ scroll • q quit")
	return lipgloss.JoinHorizontal(lipgloss.Top, tabs...) + "\n" + content + "\n" + help
}

func (m InspectModel) renderSummary(data *reader.InspectTraceResponse) string {
	s := data.Summary

	var b strings.Builder
	b.WriteString(TitleStyle.Render("Trace " + s.TraceID))
	b.WriteString("\n")

	rows := [][]string{
		{"URI", s.URI},
		{"State", s.State},
		{"Combiner", s.Combiner},
		{"Workers", fmt.Sprintf("%d", s.Workers)},
		{"Day", s.Day},
		{"Started At", s.StartedAt},
		{"Finished At", s.FinishedAt},
		{"Duration", fmt.Sprintf("%dms", s.DurationMs)},
		{"Pauses", fmt.Sprintf("%d", s.Pauses)},
	}
	if s.ErrorCode != "" {
		rows = append(rows, []string{"Error", s.ErrorCode + ": " + s.ErrorMessage})
	}
	if !data.OrderedByKey {
		rows = append(rows, []string{"Ordering", "violations"})
	}

	for _, row := range rows {
		label := LabelStyle.Render(row[0] + ":")
		var value string
		switch row[0] {
		case "State", "Ordering":
			value = StateStyle(row[1]).Render(row[1])
		case "Error":
			value = ErrorStyle.Render(row[1])
		default:
			value = ValueStyle.Render(row[1])
		}
		b.WriteString(fmt.Sprintf("%s %s\n", label, value))
	}

	if byKind := renderByKind(s.DeliveredByKind); byKind != "" {
		b.WriteString(LabelStyle.Render("Delivered:"))
		b.WriteString("\n")
		b.WriteString(byKind)
	}

	return BoxStyle.Render(b.String()) + "\n" + renderCounters(s, m.width)
}

func (m InspectModel) renderResults(data *reader.InspectTraceResponse) string {
	if len(data.Results) == 0 {
		return BoxStyle.Render("No results persisted")
	}

	visible := len(data.Results)
	if m.height > 10 && visible > m.height-10 {
		visible = m.height - 10
	}
	end := min(m.offset+visible, len(data.Results))

	var b strings.Builder
	b.WriteString(TitleStyle.Render(fmt.Sprintf("Results %d-%d of %d", m.offset+1, end, len(data.Results))))
	b.WriteString("\n")
	b.WriteString(LabelStyle.Render("KEY"))
	b.WriteString(LabelStyle.Render("KIND"))
	b.WriteString(LabelStyle.Render("DETAIL"))
	b.WriteString("\n")
	for _, row := range data.Results[m.offset:end] {
		b.WriteString(ValueStyle.Width(16).Render(fmt.Sprintf("%d", row.Key)))
		b.WriteString(ValueStyle.Width(16).Render(row.Kind))
		b.WriteString(ValueStyle.Render(resultDetail(row)))
		b.WriteString("\n")
	}
	return BoxStyle.Render(b.String())
}

func resultDetail(row reader.ResultRow) string {
	if row.Kind == "scalar" {
		return fmt.Sprintf("%d", row.Scalar)
	}
	return fmt.Sprintf("%s %s %d/%d bytes", row.Ts, row.LinkType, row.CapLen, row.WireLen)
}

func (m InspectModel) resultCount() int {
	if data, ok := m.data.(*reader.InspectTraceResponse); ok {
		return len(data.Results)
	}
	return 0
}

// keyMap defines key bindings.
type keyMap struct {
	Quit key.Binding
	Tab  key.Binding
	Up   key.Binding
	Down key.Binding
}

var keys = keyMap{
	Quit: key.NewBinding(
		key.WithKeys("q", "ctrl+c"),
		key.WithHelp("q", "quit"),
	),
	Tab: key.NewBinding(
		key.WithKeys("tab"),
		key.WithHelp("tab", "switch view"),
	),
	Up: key.NewBinding(
		key.WithKeys("up", "k"),
		key.WithHelp("↑/k", "scroll up"),
	),
	Down: key.NewBinding(
		key.WithKeys("down", "j"),
		key.WithHelp("↓/j", "scroll down"),
	),
}

// RunInspectTUI runs the inspect TUI.
func RunInspectTUI(viewType string, data any) error {
	model := NewInspectModel(viewType, data)
	p := tea.NewProgram(model, tea.WithAltScreen())
	_, err := p.Run()
	return err
}

// RenderInspectStatic renders inspect data without full TUI (for fallback).
func RenderInspectStatic(viewType string, data any) string {
	model := NewInspectModel(viewType, data)
	model.width = 80
	model.height = 24
	return lipgloss.NewStyle().Padding(1, 2).Render(model.View())
}
