// Package display provides terminal formatting for mailtriage output.
package display

import (
	"fmt"
	"os"
	"time"

	"github.com/charmbracelet/lipgloss"

	"github.com/daviddao/mailtriage/internal/types"
)

var (
	// Styles
	Muted    = lipgloss.NewStyle().Foreground(lipgloss.Color("#6b7280"))
	Dim      = lipgloss.NewStyle().Foreground(lipgloss.Color("#9ca3af"))
	Bold     = lipgloss.NewStyle().Bold(true)
	Success  = lipgloss.NewStyle().Foreground(lipgloss.Color("#16a34a"))
	Warn     = lipgloss.NewStyle().Foreground(lipgloss.Color("#d97706"))
	ErrStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("#dc2626"))

	UrgentStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("#dc2626"))
	PriorityStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("#d97706"))
	InfoStyle     = lipgloss.NewStyle().Foreground(lipgloss.Color("#2563eb"))
	DoneStyle     = lipgloss.NewStyle().Foreground(lipgloss.Color("#16a34a"))
	LowStyle      = lipgloss.NewStyle().Foreground(lipgloss.Color("#6b7280"))
)

// CategoryDot returns a colored dot for a triage category.
func CategoryDot(category string) string {
	switch category {
	case types.CategoryUrgent:
		return UrgentStyle.Render("●")
	case types.CategoryPriority1, types.CategoryPriority2:
		return PriorityStyle.Render("●")
	case types.CategoryInformational:
		return InfoStyle.Render("○")
	case types.CategoryComplete, types.CategoryPossiblyComplete:
		return DoneStyle.Render("○")
	case types.CategoryMarketing, types.CategoryNoReplyNeeded, types.CategoryPriority3:
		return LowStyle.Render("○")
	default:
		return Dim.Render("·")
	}
}

// CategoryLabel returns a styled, width-padded category label.
func CategoryLabel(category string) string {
	label := fmt.Sprintf("%-17s", category)
	switch category {
	case types.CategoryUrgent:
		return UrgentStyle.Render(label)
	case types.CategoryPriority1, types.CategoryPriority2:
		return PriorityStyle.Render(label)
	case types.CategoryInformational:
		return InfoStyle.Render(label)
	case types.CategoryComplete, types.CategoryPossiblyComplete:
		return DoneStyle.Render(label)
	default:
		return Dim.Render(label)
	}
}

// OutcomeLabel returns a styled rollback outcome label.
func OutcomeLabel(outcome string) string {
	switch outcome {
	case types.OutcomeReversed:
		return Success.Render("reversed")
	case types.OutcomeConflict:
		return Warn.Render("conflict")
	case types.OutcomeNotReversible:
		return Dim.Render("not reversible")
	case types.OutcomeRemoteError:
		return ErrStyle.Render("remote error")
	default:
		return outcome
	}
}

// TimeAgo formats an ISO date string as a relative time.
func TimeAgo(isoDate string) string {
	if isoDate == "" {
		return ""
	}

	var t time.Time
	var err error
	for _, layout := range []string{time.RFC3339, "2006-01-02T15:04:05Z", "2006-01-02 15:04:05", time.RFC3339Nano} {
		t, err = time.Parse(layout, isoDate)
		if err == nil {
			break
		}
	}
	if err != nil {
		return isoDate[:min(10, len(isoDate))]
	}

	d := time.Since(t)
	switch {
	case d < time.Minute:
		return "just now"
	case d < time.Hour:
		return fmt.Sprintf("%dm ago", int(d.Minutes()))
	case d < 24*time.Hour:
		return fmt.Sprintf("%dh ago", int(d.Hours()))
	case d < 7*24*time.Hour:
		return fmt.Sprintf("%dd ago", int(d.Hours()/24))
	default:
		return t.Format("Jan 2")
	}
}

// Truncate shortens a string to maxLen, adding ellipsis if needed.
func Truncate(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	if maxLen <= 3 {
		return s[:maxLen]
	}
	return s[:maxLen-3] + "..."
}

// SuccessMsg prints a green checkmark + message.
func SuccessMsg(format string, args ...any) {
	fmt.Println(Success.Render("✓") + " " + fmt.Sprintf(format, args...))
}

// WarnMsg prints an amber marker + message.
func WarnMsg(format string, args ...any) {
	fmt.Println(Warn.Render("!") + " " + fmt.Sprintf(format, args...))
}

// ErrorMsg prints a red X + message to stderr.
func ErrorMsg(format string, args ...any) {
	fmt.Fprintln(os.Stderr, ErrStyle.Render("✗")+" "+fmt.Sprintf(format, args...))
}

// Header prints a section header.
func Header(title string) {
	fmt.Println(Bold.Render(title))
}

// SubHeader prints a dim subsection label.
func SubHeader(title string) {
	fmt.Println(Muted.Render(title))
}

// MessageLine prints one per-message run outcome.
func MessageLine(out types.MessageOutcome) {
	switch {
	case out.Error != "":
		fmt.Printf("  %s %s %s\n", ErrStyle.Render("✗"),
			Truncate(out.Subject, 50), Dim.Render(out.Error))
	case out.Skipped:
		fmt.Printf("  %s %s\n", Dim.Render("·"), Dim.Render(Truncate(out.Subject, 50)))
	default:
		extras := ""
		if out.DraftCreated {
			extras += " " + InfoStyle.Render("[draft]")
		}
		if out.TaskAppended {
			extras += " " + InfoStyle.Render("[task]")
		}
		fmt.Printf("  %s %s %s%s\n", CategoryDot(out.Category),
			CategoryLabel(out.Category), Truncate(out.Subject, 50), extras)
	}
}

// RunSummary prints the one-line run footer.
func RunSummary(report *types.RunReport) {
	line := fmt.Sprintf("run %s: %d processed, %d skipped, %d drafts, %d tasks",
		report.RunID, report.Processed, report.Skipped, report.Drafts, report.Tasks)
	if report.Failures > 0 {
		line += ErrStyle.Render(fmt.Sprintf(", %d failed", report.Failures))
	}
	fmt.Println(Muted.Render(line))
}

// RollbackLine prints one per-record rollback outcome.
func RollbackLine(res types.RecordResult) {
	detail := ""
	if res.Detail != "" {
		detail = " " + Dim.Render(Truncate(res.Detail, 60))
	}
	fmt.Printf("  #%-4d %-17s %s%s\n", res.RecordID, res.Kind, OutcomeLabel(res.Outcome), detail)
}

func min(a, b int) int {
	if a < b {
		return a
	}
	return b
}
