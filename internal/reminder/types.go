package reminder

import (
	"fmt"
	"strings"
	"time"
)

// Status values for reminders.
type Status string

const (
	StatusUpcoming  Status = "upcoming"
	StatusCompleted Status = "completed"
	StatusDismissed Status = "dismissed"
	StatusMissed    Status = "missed"
)

// IsTerminal reports whether no transition other than deletion leaves s.
func (s Status) IsTerminal() bool {
	return s == StatusCompleted || s == StatusDismissed || s == StatusMissed
}

// RecurrenceType selects how the next target is derived after a reminder fires.
type RecurrenceType string

const (
	RecurrenceNone    RecurrenceType = "none"
	RecurrenceDaily   RecurrenceType = "daily"
	RecurrenceWeekly  RecurrenceType = "weekly"
	RecurrenceMonthly RecurrenceType = "monthly"
)

// Recurrence is the rule attached to a reminder. DaysOfWeek holds weekday
// indices (0 = Sunday) and only refines weekly rules.
type Recurrence struct {
	Type       RecurrenceType `json:"type"`
	DaysOfWeek []int          `json:"daysOfWeek,omitempty"`
}

// IsRecurring reports whether the rule produces further occurrences.
func (r Recurrence) IsRecurring() bool {
	return r.Type != "" && r.Type != RecurrenceNone
}

// Validate checks the rule type and weekday indices.
func (r Recurrence) Validate() error {
	switch r.Type {
	case "", RecurrenceNone, RecurrenceDaily, RecurrenceWeekly, RecurrenceMonthly:
	default:
		return fmt.Errorf("%w: unknown recurrence type %q", ErrValidation, r.Type)
	}
	for _, d := range r.DaysOfWeek {
		if d < 0 || d > 6 {
			return fmt.Errorf("%w: day of week %d out of range 0-6", ErrValidation, d)
		}
	}
	return nil
}

// Reminder represents a scheduled reminder item. Timestamps are epoch
// milliseconds.
type Reminder struct {
	ID              string     `json:"id"`
	Task            string     `json:"task"`
	TargetTimestamp int64      `json:"targetTimestamp"`
	IsCritical      bool       `json:"isCritical"`
	Status          Status     `json:"status"`
	Recurrence      Recurrence `json:"recurrence"`
	CreatedAt       int64      `json:"createdAt"`
	CompletedAt     *int64     `json:"completedAt,omitempty"`
}

// Target returns the target timestamp as a time.Time.
func (r Reminder) Target() time.Time {
	return time.UnixMilli(r.TargetTimestamp)
}

// Theme values for the app settings.
type Theme string

const (
	ThemeLight  Theme = "light"
	ThemeDark   Theme = "dark"
	ThemeAmoled Theme = "amoled"
	ThemeSystem Theme = "system"
)

// IsValid reports whether t is a known theme.
func (t Theme) IsValid() bool {
	switch t {
	case ThemeLight, ThemeDark, ThemeAmoled, ThemeSystem:
		return true
	}
	return false
}

// Snooze duration bounds, in minutes.
const (
	DefaultSnoozeMinutes = 15
	MaxSnoozeMinutes     = 24 * 60
)

// AppSettings is the singleton settings record.
type AppSettings struct {
	SnoozeDuration int   `json:"snoozeDuration"`
	Theme          Theme `json:"theme"`
}

// DefaultSettings returns the settings used when nothing has been stored.
func DefaultSettings() AppSettings {
	return AppSettings{
		SnoozeDuration: DefaultSnoozeMinutes,
		Theme:          ThemeSystem,
	}
}

// Validate checks the snooze range and theme.
func (s AppSettings) Validate() error {
	if s.SnoozeDuration < 1 || s.SnoozeDuration > MaxSnoozeMinutes {
		return fmt.Errorf("%w: snoozeDuration must be between 1 and %d minutes, got %d",
			ErrValidation, MaxSnoozeMinutes, s.SnoozeDuration)
	}
	if !s.Theme.IsValid() {
		return fmt.Errorf("%w: unknown theme %q", ErrValidation, s.Theme)
	}
	return nil
}

// ValidateTask trims the task text and rejects an empty result.
func ValidateTask(task string) (string, error) {
	task = strings.TrimSpace(task)
	if task == "" {
		return "", fmt.Errorf("%w: task is required", ErrValidation)
	}
	return task, nil
}

// ValidateTarget rejects targets that are not strictly after now.
func ValidateTarget(target, now time.Time) error {
	if !target.After(now) {
		return fmt.Errorf("%w: target %s is not in the future", ErrValidation, target.UTC().Format(time.RFC3339))
	}
	return nil
}
