package tui

import (
	"strings"
	"testing"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/pithecene-io/sluice/cli/reader"
)

func TestIsTUISupported(t *testing.T) {
	tests := []struct {
		viewType string
		want     bool
	}{
		{"inspect_trace", true},
		{"run", false},
		{"version", false},
		{"inspect_run", false},
		{"", false},
	}

	for _, tt := range tests {
		t.Run(tt.viewType, func(t *testing.T) {
			if got := IsTUISupported(tt.viewType); got != tt.want {
				t.Errorf("IsTUISupported(%q) = %v, want %v", tt.viewType, got, tt.want)
			}
		})
	}
}

func TestSupportedTUIViews(t *testing.T) {
	for _, v := range SupportedTUIViews() {
		if !IsTUISupported(v) {
			t.Errorf("SupportedTUIViews() returned %q but IsTUISupported returns false", v)
		}
	}
}

func TestRun_UnsupportedViewType(t *testing.T) {
	if err := Run("run", nil); err == nil {
		t.Error("Expected error for unsupported view type")
	}
}

func testInspectData() *reader.InspectTraceResponse {
	return &reader.InspectTraceResponse{
		Summary: reader.TraceSummary{
			TraceID:            "trace-1",
			URI:                "mem:3",
			Combiner:           "ordered",
			Workers:            2,
			State:              "finished",
			PacketsRead:        3,
			ResultsDelivered:   3,
			OrderingViolations: 0,
			DeliveredByKind:    map[string]int64{"packet": 3},
		},
		Results: []reader.ResultRow{
			{Key: 0, Kind: "packet", LinkType: "Ethernet", CapLen: 60, WireLen: 60},
			{Key: 1, Kind: "scalar", Scalar: 77},
			{Key: 2, Kind: "packet", LinkType: "Ethernet", CapLen: 60, WireLen: 60},
		},
		OrderedByKey: true,
	}
}

func TestInspectModel_SummaryView(t *testing.T) {
	out := RenderInspectStatic(ViewInspectTrace, testInspectData())
	for _, want := range []string{"trace-1", "mem:3", "ordered", "Packets read"} {
		if !strings.Contains(out, want) {
			t.Errorf("summary view missing %q", want)
		}
	}
}

func TestInspectModel_TabAndScroll(t *testing.T) {
	var m tea.Model = NewInspectModel(ViewInspectTrace, testInspectData())
	m, _ = m.Update(tea.KeyMsg{Type: tea.KeyTab})
	out := m.View()
	if !strings.Contains(out, "Results 1-3 of 3") || !strings.Contains(out, "77") {
		t.Errorf("results tab missing rows:\n%s", out)
	}

	m, _ = m.Update(tea.KeyMsg{Type: tea.KeyDown})
	if got := m.(InspectModel).offset; got != 1 {
		t.Errorf("offset after down = %d, want 1", got)
	}
	for range 5 {
		m, _ = m.Update(tea.KeyMsg{Type: tea.KeyDown})
	}
	if got := m.(InspectModel).offset; got != 2 {
		t.Errorf("offset should clamp at last row, got %d", got)
	}

	m, _ = m.Update(tea.KeyMsg{Type: tea.KeyTab})
	if got := m.(InspectModel); got.tab != tabSummary || got.offset != 0 {
		t.Errorf("tab back should reset offset: %+v", got)
	}
}

func TestInspectModel_Quit(t *testing.T) {
	m, cmd := NewInspectModel(ViewInspectTrace, testInspectData()).
		Update(tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune{'q'}})
	if cmd == nil {
		t.Error("expected quit command")
	}
	if m.View() != "" {
		t.Error("quitting model should render nothing")
	}
}

func TestInspectModel_InvalidData(t *testing.T) {
	out := NewInspectModel(ViewInspectTrace, "not a response").View()
	if !strings.Contains(out, "Invalid data") {
		t.Errorf("expected invalid data message, got %q", out)
	}
}
