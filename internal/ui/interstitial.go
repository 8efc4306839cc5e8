package ui

import (
	"context"
	"fmt"
	"io"
	"sync"

	"github.com/notexe/vocalizeit/internal/reminder"
)

// Interstitial is the full-attention alarm surface. Presented reminders stay
// active until the user acts on them.
type Interstitial struct {
	out       io.Writer
	formatter *Formatter

	mu     sync.Mutex
	active []reminder.Reminder
}

// NewInterstitial creates an Interstitial writing to out.
func NewInterstitial(out io.Writer, formatter *Formatter) *Interstitial {
	return &Interstitial{out: out, formatter: formatter}
}

// Present shows the alarm for r. Presenting the same reminder again
// replaces its entry rather than stacking a second one.
func (i *Interstitial) Present(_ context.Context, r reminder.Reminder) {
	i.mu.Lock()
	replaced := false
	for n := range i.active {
		if i.active[n].ID == r.ID {
			i.active[n] = r
			replaced = true
			break
		}
	}
	if !replaced {
		i.active = append(i.active, r)
	}
	i.mu.Unlock()

	fmt.Fprintln(i.out, i.formatter.FormatAlarm(r))
}

// Active returns the alarms waiting for the user, oldest first.
func (i *Interstitial) Active() []reminder.Reminder {
	i.mu.Lock()
	defer i.mu.Unlock()
	out := make([]reminder.Reminder, len(i.active))
	copy(out, i.active)
	return out
}

// Acknowledge closes the alarm of a reminder. It reports whether one was
// showing.
func (i *Interstitial) Acknowledge(id string) bool {
	i.mu.Lock()
	defer i.mu.Unlock()
	for n := range i.active {
		if i.active[n].ID == id {
			i.active = append(i.active[:n], i.active[n+1:]...)
			return true
		}
	}
	return false
}
