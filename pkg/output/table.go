package output

import (
	"github.com/charmbracelet/lipgloss"
	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/jedib0t/go-pretty/v6/text"
)

// ServerSummary is one row of the active-server table printed at gateway
// startup: the upstream servers the Session Manager will lazily attach to.
type ServerSummary struct {
	ID          string
	Name        string
	RuntimeKind string
	Transport   string
	BuildStatus string
}

// Summary prints the active-server table with amber styling.
func (p *Printer) Summary(servers []ServerSummary) {
	if len(servers) == 0 {
		return
	}

	p.Println()

	t := table.NewWriter()
	t.SetOutputMirror(p.out)
	t.SetStyle(p.tableStyle())

	t.AppendHeader(table.Row{"ID", "Name", "Runtime", "Transport", "Build"})

	for _, s := range servers {
		status := s.BuildStatus
		if p.isTTY {
			status = colorState(s.BuildStatus)
		}
		t.AppendRow(table.Row{s.ID, s.Name, s.RuntimeKind, s.Transport, status})
	}

	t.Render()
	p.Println()
}

// colorState applies color to a build/session state based on status.
func colorState(state string) string {
	var style lipgloss.Style
	switch state {
	case "running", "ready", "built":
		style = lipgloss.NewStyle().Foreground(ColorGreen)
	case "failed", "error", "exited":
		style = lipgloss.NewStyle().Foreground(ColorRed)
	case "pending", "creating", "building":
		style = lipgloss.NewStyle().Foreground(ColorAmber)
	case "stopped":
		style = lipgloss.NewStyle().Foreground(ColorMuted)
	default:
		style = lipgloss.NewStyle().Foreground(ColorGray)
	}
	return style.Render(state)
}

// tableStyle returns the standard amber-themed table style.
func (p *Printer) tableStyle() table.Style {
	style := table.StyleRounded
	if p.isTTY {
		style.Color.Header = text.Colors{text.FgHiYellow, text.Bold}
		style.Color.Border = text.Colors{text.FgHiBlack}
	}
	style.Options.SeparateRows = false
	return style
}

// Section prints a section header.
func (p *Printer) Section(title string) {
	if p.isTTY {
		style := lipgloss.NewStyle().Foreground(ColorAmber).Bold(true)
		p.Println(style.Render(title))
	} else {
		p.Println(title)
	}
}
