package main

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/mattn/go-runewidth"

	"github.com/unklstewy/ffc-tracker/internal/mapview"
)

const detailLines = 5

// column is one board column: header and display width in cells.
type column struct {
	title string
	width int
}

var columns = []column{
	{"AIRCRAFT", 9},
	{"FLIGHT", 9},
	{"ROUTE", 17},
	{"DEPARTED", 13},
	{"ARRIVED", 13},
	{"DURATION", 9},
	{"STATUS", 12},
}

var (
	titleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("226")).
			Background(lipgloss.Color("235")).
			Padding(0, 1)
	headerStyle   = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("39"))
	rowStyle      = lipgloss.NewStyle().Foreground(lipgloss.Color("255"))
	selectedStyle = lipgloss.NewStyle().Background(lipgloss.Color("237")).Foreground(lipgloss.Color("226"))
	airborneStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("46")).Bold(true)
	helpStyle     = lipgloss.NewStyle().Foreground(lipgloss.Color("241"))
	errStyle      = lipgloss.NewStyle().Foreground(lipgloss.Color("196"))
	detailStyle   = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(lipgloss.Color("39")).
			Padding(0, 1)
)

// cell pads or truncates s to exactly width terminal cells.
func cell(s string, width int) string {
	if runewidth.StringWidth(s) > width {
		s = runewidth.Truncate(s, width, "…")
	}
	return runewidth.FillRight(s, width)
}

func formatRow(values []string) string {
	var b strings.Builder
	for i, col := range columns {
		if i > 0 {
			b.WriteString(" ")
		}
		v := ""
		if i < len(values) {
			v = values[i]
		}
		b.WriteString(cell(v, col.width))
	}
	return b.String()
}

func (m model) statusOf(r mapview.FlightRow) string {
	if a, ok := m.activeFor(r.ICAO24); ok {
		return string(a.Phase.Glyph()) + " " + a.Status
	}
	return "Landed"
}

func (m model) View() string {
	var s strings.Builder

	s.WriteString(titleStyle.Render("FFC FLIGHT BOARD"))
	stats := m.mv.Stats()
	s.WriteString(fmt.Sprintf("  Active %d/%d  Flights (24h) %d",
		stats.ActiveCount, stats.TotalTracked, stats.Flights24h))
	if t := m.mv.LastUpdate(); !t.IsZero() {
		s.WriteString(helpStyle.Render("  updated " + t.Format("15:04:05")))
	}
	if m.loading {
		s.WriteString(helpStyle.Render("  loading…"))
	}
	s.WriteString("\n\n")

	if m.err != nil {
		s.WriteString(errStyle.Render("Error: " + m.err.Error()))
		s.WriteString("\n\n")
	}

	titles := make([]string, len(columns))
	for i, c := range columns {
		titles[i] = c.title
	}
	s.WriteString(headerStyle.Render(formatRow(titles)))
	s.WriteString("\n")

	if len(m.rows) == 0 {
		s.WriteString(helpStyle.Render("  No flights in the last 24 hours"))
		s.WriteString("\n")
	}

	end := m.offset + m.pageSize()
	if end > len(m.rows) {
		end = len(m.rows)
	}
	for i := m.offset; i < end; i++ {
		r := m.rows[i]
		status := m.statusOf(r)
		line := formatRow([]string{
			r.Registration, r.Callsign, r.Route(),
			r.DepartureTime, r.ArrivalTime, r.Duration, status,
		})

		switch {
		case i == m.selected:
			line = selectedStyle.Render(line)
		case status != "Landed":
			line = airborneStyle.Render(line)
		default:
			line = rowStyle.Render(line)
		}
		s.WriteString(line)
		s.WriteString("\n")
	}

	if len(m.rows) > 0 {
		s.WriteString(helpStyle.Render(fmt.Sprintf("  %d-%d of %d", m.offset+1, end, len(m.rows))))
		s.WriteString("\n")
	}

	if m.detail && m.selected < len(m.rows) {
		s.WriteString(m.renderDetail(m.rows[m.selected]))
		s.WriteString("\n")
	}

	s.WriteString("\n")
	s.WriteString(helpStyle.Render("↑/↓ select  enter details  r refresh  q quit"))
	return s.String()
}

func (m model) renderDetail(r mapview.FlightRow) string {
	lines := []string{
		fmt.Sprintf("%s (%s)  %s", r.Registration, strings.ToUpper(r.ICAO24), r.Callsign),
		fmt.Sprintf("Route:    %s", r.Route()),
		fmt.Sprintf("Departed: %s   Arrived: %s   Duration: %s", r.DepartureTime, r.ArrivalTime, r.Duration),
	}
	if a, ok := m.activeFor(r.ICAO24); ok {
		lines = append(lines, fmt.Sprintf("Now:      %s  %s  %s  hdg %s", a.Status, a.Altitude, a.Speed, a.Heading))
	} else {
		lines = append(lines, "Now:      not transmitting")
	}
	return detailStyle.Render(strings.Join(lines, "\n"))
}
