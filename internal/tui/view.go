package tui

import (
	"fmt"
	"strings"

	"github.com/NimbleMarkets/ntcharts/barchart"
	"github.com/charmbracelet/lipgloss"

	"github.com/quarrytools/quarry/internal/model"
)

const recentRunRows = 8

var (
	titleStyle   = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("#00D0A1"))
	sectionStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("#7D9BF0"))
	dimStyle     = lipgloss.NewStyle().Foreground(lipgloss.Color("#6B7280"))
	errStyle     = lipgloss.NewStyle().Foreground(lipgloss.Color("#FF4444"))
	okDot        = lipgloss.NewStyle().Foreground(lipgloss.Color("#44FF44")).Render("●")
	badDot       = lipgloss.NewStyle().Foreground(lipgloss.Color("#FF4444")).Render("●")
	helpStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("#6B7280"))
	barStyle     = lipgloss.NewStyle().Foreground(lipgloss.Color("39")).Background(lipgloss.Color("39"))
)

func (m *Model) View() string {
	var b strings.Builder

	b.WriteString(titleStyle.Render("quarry"))
	b.WriteString(dimStyle.Render("  batch parser dashboard"))
	b.WriteString("\n\n")

	if m.lastErr != nil {
		b.WriteString(errStyle.Render(fmt.Sprintf("connection error: %v", m.lastErr)))
		b.WriteString("\n\n")
	}
	if !m.fetched {
		b.WriteString(dimStyle.Render("waiting for first snapshot..."))
		b.WriteString("\n")
		b.WriteString(m.helpLine())
		return b.String()
	}

	b.WriteString(m.viewPool())
	b.WriteString("\n")
	b.WriteString(m.viewBatch())
	b.WriteString("\n")
	b.WriteString(m.viewRuns())
	b.WriteString("\n")
	b.WriteString(m.helpLine())
	return b.String()
}

func (m *Model) viewPool() string {
	var b strings.Builder
	b.WriteString(sectionStyle.Render("Workers"))
	b.WriteString(fmt.Sprintf("  %d/%d healthy   %d requests   %d errors   %d restarts\n",
		m.pool.Healthy, m.pool.Size, m.pool.TotalRequests, m.pool.TotalErrors, m.pool.TotalRestarts))

	for _, w := range m.pool.Workers {
		dot := okDot
		if !w.Healthy {
			dot = badDot
		}
		b.WriteString(fmt.Sprintf("  %s #%d  pid %-7d served %-6d errors %-4d restarts %d\n",
			dot, w.ID, w.PID, w.Served, w.Errors, w.Restarts))
	}

	if chart := m.servedChart(); chart != "" {
		b.WriteString(chart)
		b.WriteString("\n")
	}
	return b.String()
}

// servedChart draws requests-per-worker as a bar chart.
func (m *Model) servedChart() string {
	if len(m.pool.Workers) == 0 {
		return ""
	}
	width := len(m.pool.Workers) * 3
	if width < 8 {
		width = 8
	}
	bc := barchart.New(width, 5,
		barchart.WithBarGap(1),
		barchart.WithBarWidth(2),
		barchart.WithNoAxis(),
	)
	for _, w := range m.pool.Workers {
		bc.Push(barchart.BarData{
			Label: fmt.Sprintf("%d", w.ID),
			Values: []barchart.BarValue{
				{Name: "served", Value: float64(w.Served), Style: barStyle},
			},
		})
	}
	bc.Draw()
	return bc.View()
}

func (m *Model) viewBatch() string {
	var b strings.Builder
	b.WriteString(sectionStyle.Render("Batch"))

	switch m.batch.State {
	case model.BatchIdle:
		b.WriteString(dimStyle.Render("  idle\n"))
	case model.BatchRunning:
		b.WriteString(fmt.Sprintf("  running  %d/%d files\n", m.batch.Current, m.batch.Total))
		b.WriteString("  " + progressBar(m.batch.Current, m.batch.Total, 40) + "\n")
	default:
		b.WriteString(fmt.Sprintf("  %s  %d/%d files", m.batch.State, m.batch.Current, m.batch.Total))
		if n := len(m.batch.Errors); n > 0 {
			b.WriteString(errStyle.Render(fmt.Sprintf("  %d failed", n)))
		}
		b.WriteString("\n")
	}
	return b.String()
}

// progressBar renders a plain unicode progress bar.
func progressBar(current, total, width int) string {
	if total <= 0 {
		return ""
	}
	filled := current * width / total
	if filled > width {
		filled = width
	}
	return strings.Repeat("█", filled) + strings.Repeat("░", width-filled)
}

func (m *Model) viewRuns() string {
	var b strings.Builder
	b.WriteString(sectionStyle.Render("Recent runs"))
	b.WriteString("\n")

	if len(m.runs) == 0 {
		b.WriteString(dimStyle.Render("  none recorded\n"))
		return b.String()
	}
	for _, r := range m.runs {
		id := r.ID
		if len(id) > 8 {
			id = id[:8]
		}
		line := fmt.Sprintf("  %s  %-5s  %3d/%3d files  %s",
			id, r.Kind, r.FilesParsed, r.FilesTotal, r.FinishedAt.Format("15:04:05"))
		if r.FilesFailed > 0 {
			line += errStyle.Render(fmt.Sprintf("  %d failed", r.FilesFailed))
		}
		b.WriteString(line + "\n")
	}
	return b.String()
}

func (m *Model) helpLine() string {
	parts := make([]string, 0, 3)
	for _, b := range []struct{ k, d string }{
		{m.keys.Quit.Help().Key, m.keys.Quit.Help().Desc},
		{m.keys.Refresh.Help().Key, m.keys.Refresh.Help().Desc},
		{m.keys.Cancel.Help().Key, m.keys.Cancel.Help().Desc},
	} {
		parts = append(parts, b.k+" "+b.d)
	}
	return helpStyle.Render(strings.Join(parts, " · "))
}
