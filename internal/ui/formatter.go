package ui

import (
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/notexe/vocalizeit/internal/reminder"
)

var (
	TitleStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("81")). // Bright cyan
			Bold(true)

	CriticalStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("203")). // Coral red
			Bold(true)

	TaskStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("252")).
			Bold(true)

	TimeStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("222")) // Warm yellow

	DimStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("240"))

	HintStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("245")).
			Italic(true)

	// Box styles for the alarm interstitial
	BoxStyle = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(lipgloss.Color("62")). // Soft blue border
			Padding(1, 3)

	CriticalBoxStyle = lipgloss.NewStyle().
				Border(lipgloss.ThickBorder()).
				BorderForeground(lipgloss.Color("196")).
				Padding(1, 3)
)

// Formatter renders reminders for the terminal.
type Formatter struct {
	colored bool
	loc     *time.Location
}

// NewFormatter creates a Formatter that shows times in loc. A nil loc means
// local time.
func NewFormatter(colored bool, loc *time.Location) *Formatter {
	if loc == nil {
		loc = time.Local
	}
	return &Formatter{colored: colored, loc: loc}
}

// FormatTime renders a reminder time the way the alarm screen shows it.
func (f *Formatter) FormatTime(ms int64) string {
	return time.UnixMilli(ms).In(f.loc).Format("Mon 02 Jan 15:04")
}

// FormatRecurrence describes a recurrence rule in a few words.
func FormatRecurrence(r reminder.Recurrence) string {
	switch r.Type {
	case reminder.RecurrenceDaily:
		return "daily"
	case reminder.RecurrenceMonthly:
		return "monthly"
	case reminder.RecurrenceWeekly:
		if len(r.DaysOfWeek) == 0 {
			return "weekly"
		}
		names := make([]string, 0, len(r.DaysOfWeek))
		for _, d := range r.DaysOfWeek {
			if d >= 0 && d <= 6 {
				names = append(names, time.Weekday(d).String()[:3])
			}
		}
		return "weekly on " + strings.Join(names, ", ")
	default:
		return ""
	}
}

// FormatAlarm renders the full-attention alarm for a reminder.
func (f *Formatter) FormatAlarm(r reminder.Reminder) string {
	title := "⏰ VocaliZeit Reminder"
	if r.IsCritical {
		title = "🚨 CRITICAL REMINDER"
	}

	details := f.FormatTime(r.TargetTimestamp)
	if rec := FormatRecurrence(r.Recurrence); rec != "" {
		details += " • " + rec
	}
	hint := fmt.Sprintf("complete_reminder / snooze_reminder / dismiss_reminder  (id %s)", r.ID)

	if !f.colored {
		return strings.Join([]string{title, "", r.Task, details, "", hint}, "\n")
	}

	titleStyle, box := TitleStyle, BoxStyle
	if r.IsCritical {
		titleStyle, box = CriticalStyle, CriticalBoxStyle
	}

	content := lipgloss.JoinVertical(lipgloss.Left,
		titleStyle.Render(title),
		"",
		TaskStyle.Render(r.Task),
		TimeStyle.Render(details),
		"",
		HintStyle.Render(hint),
	)
	return box.Render(content)
}

// FormatLine renders a reminder as a single list line.
func (f *Formatter) FormatLine(r reminder.Reminder) string {
	when := f.FormatTime(r.TargetTimestamp)
	task := r.Task
	if r.IsCritical {
		task = "🚨 " + task
	}
	if !f.colored {
		return fmt.Sprintf("%s  %s  [%s]", when, task, r.Status)
	}
	return TimeStyle.Render(when) + "  " + TaskStyle.Render(task) + "  " + DimStyle.Render("["+string(r.Status)+"]")
}
