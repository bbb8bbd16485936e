// Package tui renders CLI output for the canlake commands. Simple,
// streaming, no complex TUI - just clean styled summaries.
package tui

import (
	"fmt"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/schollz/progressbar/v3"
)

// Colors (Swiss minimal)
var (
	accent  = lipgloss.Color("#FF0000")
	muted   = lipgloss.Color("#666666")
	success = lipgloss.Color("#00CC66")
	white   = lipgloss.Color("#FFFFFF")
)

// Styles
var (
	titleStyle   = lipgloss.NewStyle().Bold(true).Foreground(white)
	accentStyle  = lipgloss.NewStyle().Foreground(accent).Bold(true)
	mutedStyle   = lipgloss.NewStyle().Foreground(muted)
	successStyle = lipgloss.NewStyle().Foreground(success).Bold(true)
)

// PrintHeader prints the tool banner.
func PrintHeader(version string) {
	fmt.Println()
	fmt.Println(titleStyle.Render("  CANLAKE") + mutedStyle.Render(" "+version))
	fmt.Println(mutedStyle.Render("  CAN telemetry lake: decode, aggregate, detect"))
	fmt.Println()
}

// AggregationSummary holds the figures printed after an aggregation run.
type AggregationSummary struct {
	TotalDays     int
	DaysProcessed int
	Records       int
	Duration      time.Duration
}

// PrintAggregationSummary prints results after an aggregation run.
func PrintAggregationSummary(s AggregationSummary) {
	fmt.Println()
	fmt.Println(successStyle.Render("  ✓ AGGREGATION COMPLETE"))
	fmt.Println()
	fmt.Printf("  %s %s of %s\n", mutedStyle.Render("Days:"),
		titleStyle.Render(formatNumber(int64(s.DaysProcessed))),
		titleStyle.Render(formatNumber(int64(s.TotalDays))))
	fmt.Printf("  %s %s\n", mutedStyle.Render("Records:"), titleStyle.Render(formatNumber(int64(s.Records))))
	if s.Duration > 0 {
		fmt.Printf("  %s %s\n", mutedStyle.Render("Time:"), titleStyle.Render(formatDuration(s.Duration)))
	}
	fmt.Println()
}

// BacklogSummary holds the figures printed after a backlog run.
type BacklogSummary struct {
	Batches   int
	Succeeded int
	Skipped   int
	Failed    int
	Duration  time.Duration
}

// PrintBacklogSummary prints results after a backlog run.
func PrintBacklogSummary(s BacklogSummary) {
	fmt.Println()
	if s.Failed == 0 {
		fmt.Println(successStyle.Render("  ✓ BACKLOG COMPLETE"))
	} else {
		fmt.Println(accentStyle.Render(fmt.Sprintf("  ✗ BACKLOG FINISHED WITH %d FAILED BATCHES", s.Failed)))
	}
	fmt.Println()
	fmt.Printf("  %s %s\n", mutedStyle.Render("Batches:"), titleStyle.Render(formatNumber(int64(s.Batches))))
	fmt.Printf("  %s %s succeeded, %s skipped, %s failed\n",
		mutedStyle.Render("Result:"),
		successStyle.Render(formatNumber(int64(s.Succeeded))),
		titleStyle.Render(formatNumber(int64(s.Skipped))),
		accentStyle.Render(formatNumber(int64(s.Failed))))
	if s.Duration > 0 {
		fmt.Printf("  %s %s\n", mutedStyle.Render("Time:"), titleStyle.Render(formatDuration(s.Duration)))
	}
	fmt.Println()
}

// PrintError prints a styled error line.
func PrintError(err error) {
	fmt.Println(accentStyle.Render("  ✗ " + err.Error()))
}

// PrintInfo prints a muted info line.
func PrintInfo(msg string) {
	fmt.Println(mutedStyle.Render("  " + msg))
}

// ClearLine clears the current line.
func ClearLine() {
	fmt.Print("\r\033[K")
}

// formatDuration formats a duration in a human-readable way.
func formatDuration(d time.Duration) string {
	if d < time.Second {
		return fmt.Sprintf("%dms", d.Milliseconds())
	}
	if d < time.Minute {
		return fmt.Sprintf("%.1fs", d.Seconds())
	}
	return fmt.Sprintf("%dm%ds", int(d.Minutes()), int(d.Seconds())%60)
}

func formatNumber(n int64) string {
	if n < 1000 {
		return fmt.Sprintf("%d", n)
	}
	if n < 1000000 {
		return fmt.Sprintf("%.1fK", float64(n)/1000)
	}
	return fmt.Sprintf("%.1fM", float64(n)/1000000)
}

// FormatBytes renders a byte count with a binary unit suffix.
func FormatBytes(b int64) string {
	const unit = 1024
	if b < unit {
		return fmt.Sprintf("%d B", b)
	}
	div, exp := int64(unit), 0
	for n := b / unit; n >= unit; n /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %cB", float64(b)/float64(div), "KMGTPE"[exp])
}

// ShowProgress creates a progress bar for processing.
func ShowProgress(total int64, description string) *progressbar.ProgressBar {
	return progressbar.NewOptions64(total,
		progressbar.OptionSetDescription(description),
		progressbar.OptionSetWidth(40),
		progressbar.OptionShowBytes(false),
		progressbar.OptionShowCount(),
		progressbar.OptionSetTheme(progressbar.Theme{
			Saucer:        "█",
			SaucerHead:    "█",
			SaucerPadding: "░",
			BarStart:      "",
			BarEnd:        "",
		}),
		progressbar.OptionThrottle(100*time.Millisecond),
		progressbar.OptionClearOnFinish(),
	)
}

// Spinner shows a simple loading indicator.
func Spinner(message string, done chan bool) {
	frames := []string{"⠋", "⠙", "⠹", "⠸", "⠼", "⠴", "⠦", "⠧", "⠇", "⠏"}
	i := 0
	for {
		select {
		case <-done:
			fmt.Printf("\r%s %s\n", successStyle.Render("✓"), message)
			return
		default:
			fmt.Printf("\r%s %s", accentStyle.Render(frames[i]), message)
			i = (i + 1) % len(frames)
			time.Sleep(80 * time.Millisecond)
		}
	}
}
