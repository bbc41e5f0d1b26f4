package tui

import (
	"fmt"
	"slices"
)

// View types with an interactive rendering.
const (
	ViewInspectTrace = "inspect_trace"
)

// Run starts the TUI for viewType.
func Run(viewType string, data any) error {
	if !IsTUISupported(viewType) {
		return fmt.Errorf("TUI mode is not supported for %s", viewType)
	}
	return RunInspectTUI(viewType, data)
}

// IsTUISupported returns true if the view type supports TUI mode.
// Only read-only views do.
func IsTUISupported(viewType string) bool {
	return slices.Contains(SupportedTUIViews(), viewType)
}

// SupportedTUIViews returns a list of view types that support TUI.
func SupportedTUIViews() []string {
	return []string{ViewInspectTrace}
}
