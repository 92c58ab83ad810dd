package tui

import (
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"

	"imgforge/internal/batch"
	"imgforge/internal/pipeline"
)

type SummaryRow struct {
	Label string
	Value string
}

func RenderSummary(rows []SummaryRow) string {
	labelWidth := 0
	valueWidth := 0
	for _, row := range rows {
		labelWidth = max(labelWidth, lipgloss.Width(row.Label))
		valueWidth = max(valueWidth, lipgloss.Width(row.Value))
	}

	hline := strings.Repeat("-", labelWidth+valueWidth+3)
	lines := []string{hline}

	for _, row := range rows {
		label := padRight(row.Label, labelWidth)
		value := padRight(row.Value, valueWidth)
		line := fmt.Sprintf("%s | %s", labelStyle.Render(label), valueStyle.Render(value))
		lines = append(lines, line)
	}

	lines = append(lines, hline)
	return strings.Join(lines, "\n")
}

// ReportRows summarises a finished batch.
func ReportRows(r batch.Report) []SummaryRow {
	return []SummaryRow{
		{Label: "Jobs", Value: fmt.Sprintf("%d", r.Total)},
		{Label: "Succeeded", Value: fmt.Sprintf("%d", len(r.Succeeded))},
		{Label: "Failed", Value: fmt.Sprintf("%d", len(r.Failed))},
		{Label: "Cancelled", Value: fmt.Sprintf("%d", len(r.Cancelled))},
		{Label: "Output (bytes)", Value: fmt.Sprintf("%d", r.Bytes())},
		{Label: "Elapsed", Value: r.Elapsed.Round(time.Millisecond).String()},
	}
}

// RenderFailures lists failed jobs with their error text.
func RenderFailures(jobs []*batch.Job) string {
	if len(jobs) == 0 {
		return ""
	}
	status := lipgloss.NewStyle().Foreground(StatusColor(batch.StatusFailed.String()))
	lines := make([]string, 0, len(jobs))
	for _, job := range jobs {
		lines = append(lines, fmt.Sprintf("%s %s  %s",
			status.Render("x"),
			fileStyle.Render(job.Name()),
			dimStyle.Render(fmt.Sprint(job.Err)),
		))
	}
	return strings.Join(lines, "\n")
}

// RenderPresets lists presets grouped under their category.
func RenderPresets(presets []batch.Preset) string {
	var lines []string
	category := ""
	for _, p := range presets {
		if p.Category != category || len(lines) == 0 {
			category = p.Category
			if len(lines) > 0 {
				lines = append(lines, "")
			}
			lines = append(lines, categoryStyle.Render(category+":"))
		}
		ops := make([]string, 0, len(p.Operations))
		for _, op := range p.Operations {
			ops = append(ops, describeOp(op))
		}
		lines = append(lines, fmt.Sprintf("  %s %s %s",
			fileStyle.Render(padRight(p.ID, 10)),
			valueStyle.Render(p.Name),
			dimStyle.Render("("+strings.Join(ops, ", ")+")"),
		))
	}
	return strings.Join(lines, "\n")
}

func describeOp(op pipeline.Operation) string {
	switch o := op.(type) {
	case pipeline.Resize:
		switch {
		case o.Percent > 0:
			return fmt.Sprintf("resize %g%%", o.Percent)
		case o.Width > 0 && o.Height > 0:
			return fmt.Sprintf("resize %dx%d", o.Width, o.Height)
		case o.Width > 0:
			return fmt.Sprintf("resize w%d", o.Width)
		default:
			return fmt.Sprintf("resize h%d", o.Height)
		}
	case pipeline.Crop:
		if o.Auto {
			return fmt.Sprintf("smart crop %.2f", o.Aspect)
		}
		return "crop " + o.Area.String()
	case pipeline.Rotate:
		return fmt.Sprintf("rotate %g", o.Angle)
	case pipeline.Compress:
		return fmt.Sprintf("compress q%d", o.Quality)
	case pipeline.Convert:
		return "convert " + o.Format.String()
	case nil:
		return "?"
	default:
		return op.Name()
	}
}

func padRight(s string, width int) string {
	if w := lipgloss.Width(s); w < width {
		return s + strings.Repeat(" ", width-w)
	}
	return s
}

var (
	valueStyle    = lipgloss.NewStyle().Foreground(ColorInk).Bold(true)
	fileStyle     = lipgloss.NewStyle().Bold(true).Foreground(ColorAccent)
	categoryStyle = lipgloss.NewStyle().Foreground(ColorAccentAlt)
)
