package cliplugins

import (
	"strings"

	"lanchat/internal/events"

	"github.com/fatih/color"
)

var (
	statusColor   = color.New(color.FgCyan)
	criticalColor = color.New(color.FgRed, color.Bold)
	historyColor  = color.New(color.Faint)
)

// RenderEvent formats an event for the terminal.
func RenderEvent(ev events.Event) string {
	switch {
	case strings.HasPrefix(ev.Line, events.CriticalPrefix):
		return criticalColor.Sprint(ev.Line)
	case ev.Kind == events.KindStatus:
		return statusColor.Sprint(ev.Line)
	case ev.Kind == events.KindHistory:
		return historyColor.Sprint(ev.Line)
	default:
		return ev.Line
	}
}
