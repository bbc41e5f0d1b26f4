package tui

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/lipgloss"

	"github.com/pithecene-io/sluice/cli/reader"
)

// renderCounters draws the trace counters as a row of stat boxes.
func renderCounters(s reader.TraceSummary, width int) string {
	boxes := []string{
		renderStatBox("Packets read", s.PacketsRead, highlightColor),
		renderStatBox("Delivered", s.ResultsDelivered, successColor),
		renderStatBox("Ticks dropped", s.TicksDropped, mutedColor),
	}

	errColor := successColor
	if s.FrameErrors+s.BackendErrors > 0 {
		errColor = warningColor
	}
	boxes = append(boxes, renderStatBox("Frame errors", s.FrameErrors, errColor))

	violColor := successColor
	if s.OrderingViolations > 0 {
		violColor = errorColor
	}
	boxes = append(boxes, renderStatBox("Violations", s.OrderingViolations, violColor))

	// Two rows on narrow terminals.
	boxWidth := lipgloss.Width(boxes[0])
	if width > 0 && width < boxWidth*len(boxes) {
		half := (len(boxes) + 1) / 2
		return lipgloss.JoinVertical(lipgloss.Left,
			lipgloss.JoinHorizontal(lipgloss.Top, boxes[:half]...),
			lipgloss.JoinHorizontal(lipgloss.Top, boxes[half:]...))
	}
	return lipgloss.JoinHorizontal(lipgloss.Top, boxes...)
}

func renderStatBox(label string, value int64, color lipgloss.Color) string {
	boxStyle := StatBoxStyle.BorderForeground(color)

	valueStr := StatValueStyle.Foreground(color).Render(fmt.Sprintf("%d", value))
	labelStr := StatLabelStyle.Render(label)

	content := lipgloss.JoinVertical(lipgloss.Center, valueStr, labelStr)

	return boxStyle.Render(content)
}

// renderByKind lists delivered counts per result kind in a stable order.
func renderByKind(byKind map[string]int64) string {
	if len(byKind) == 0 {
		return ""
	}
	var b strings.Builder
	for _, kind := range []string{"packet", "scalar"} {
		if n, ok := byKind[kind]; ok {
			b.WriteString(fmt.Sprintf("%s %s\n",
				LabelStyle.Render("  "+kind+":"),
				ValueStyle.Render(fmt.Sprintf("%d", n))))
		}
	}
	return b.String()
}
