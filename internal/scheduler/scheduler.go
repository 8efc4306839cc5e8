package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/notexe/vocalizeit/internal/reminder"
)

// Handle is an opaque reference to one armed platform notification.
type Handle string

// Payload is the data carried by a notification and handed back on delivery.
type Payload struct {
	ReminderID string `json:"reminderId"`
	Task       string `json:"task"`
	IsCritical bool   `json:"isCritical"`
	Title      string `json:"title"`
	Body       string `json:"body"`
}

// EventKind distinguishes how a notification reached the app.
type EventKind string

const (
	// EventReceived fires when a notification is delivered while the app runs.
	EventReceived EventKind = "received"
	// EventOpened fires when the user opens a delivered notification.
	EventOpened EventKind = "opened"
)

// Event is what the platform hands to the registered listener.
type Event struct {
	Kind    EventKind
	Handle  Handle
	Payload Payload
	At      time.Time
}

// Notifier is the platform notification service.
type Notifier interface {
	// ScheduleAt arms a one-shot delivery. It fails when at is not in the future.
	ScheduleAt(ctx context.Context, at time.Time, payload Payload, class Classification) (Handle, error)
	Cancel(ctx context.Context, h Handle) error
	CancelAll(ctx context.Context) error
}

// Scheduler binds reminders to platform notifications and tracks the live
// handle of each reminder. The handle map is a cache derived from the store;
// Rebuild re-derives it.
type Scheduler struct {
	notifier Notifier
	caps     Capabilities
	now      func() time.Time

	mu      sync.Mutex
	handles map[string]Handle
}

// Option configures a Scheduler.
type Option func(*Scheduler)

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(s *Scheduler) { s.now = now }
}

// New creates a Scheduler on top of the given platform notifier.
func New(notifier Notifier, caps Capabilities, opts ...Option) *Scheduler {
	s := &Scheduler{
		notifier: notifier,
		caps:     caps,
		now:      time.Now,
		handles:  make(map[string]Handle),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// NewPayload builds the notification content for a reminder.
func NewPayload(r reminder.Reminder) Payload {
	title := "⏰ VocaliZeit Reminder"
	if r.IsCritical {
		title = "🚨 CRITICAL REMINDER"
	}
	return Payload{
		ReminderID: r.ID,
		Task:       r.Task,
		IsCritical: r.IsCritical,
		Title:      title,
		Body:       r.Task,
	}
}

// Schedule arms the notification for an upcoming reminder. A handle already
// tracked for the same reminder is cancelled first.
func (s *Scheduler) Schedule(ctx context.Context, r reminder.Reminder) (Handle, error) {
	if r.Status != reminder.StatusUpcoming {
		return "", fmt.Errorf("%w: reminder %s is %s", reminder.ErrScheduling, r.ID, r.Status)
	}
	target := r.Target()
	if !target.After(s.now()) {
		return "", fmt.Errorf("%w: cannot schedule notification in the past (%s)",
			reminder.ErrScheduling, target.UTC().Format(time.RFC3339))
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	// Cancel before arming: a window with no armed delivery is preferable to
	// one with two.
	if err := s.cancelLocked(ctx, r.ID); err != nil {
		return "", err
	}

	h, err := s.notifier.ScheduleAt(ctx, target, NewPayload(r), Classify(r.IsCritical, s.caps))
	if err != nil {
		if errors.Is(err, reminder.ErrScheduling) {
			return "", err
		}
		return "", fmt.Errorf("%w: %w", reminder.ErrScheduling, err)
	}
	s.handles[r.ID] = h

	log.Printf("[scheduler] Armed %s for %s (handle %s)", r.ID, target.Format(time.RFC3339), h)
	return h, nil
}

// Reschedule cancels any live handle of the reminder, then arms it anew.
func (s *Scheduler) Reschedule(ctx context.Context, r reminder.Reminder) (Handle, error) {
	if err := s.CancelReminder(ctx, r.ID); err != nil {
		return "", err
	}
	return s.Schedule(ctx, r)
}

// Cancel disarms a single handle.
func (s *Scheduler) Cancel(ctx context.Context, h Handle) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for id, tracked := range s.handles {
		if tracked == h {
			delete(s.handles, id)
			break
		}
	}
	if err := s.notifier.Cancel(ctx, h); err != nil {
		return fmt.Errorf("failed to cancel notification %s: %w", h, err)
	}
	return nil
}

// CancelReminder disarms the handle of the given reminder, if any.
func (s *Scheduler) CancelReminder(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cancelLocked(ctx, id)
}

func (s *Scheduler) cancelLocked(ctx context.Context, id string) error {
	h, ok := s.handles[id]
	if !ok {
		return nil
	}
	if err := s.notifier.Cancel(ctx, h); err != nil {
		return fmt.Errorf("failed to cancel notification %s for %s: %w", h, id, err)
	}
	delete(s.handles, id)
	log.Printf("[scheduler] Cancelled %s (handle %s)", id, h)
	return nil
}

// CancelAll disarms every notification on the platform and forgets all handles.
func (s *Scheduler) CancelAll(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.notifier.CancelAll(ctx); err != nil {
		return fmt.Errorf("failed to cancel all notifications: %w", err)
	}
	s.handles = make(map[string]Handle)
	return nil
}

// Forget drops the tracked handle of a reminder whose notification has
// already been delivered, without calling the platform.
func (s *Scheduler) Forget(id string, h Handle) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.handles[id] == h {
		delete(s.handles, id)
	}
}

// Rebuild cancels everything and arms every upcoming reminder whose target
// is still ahead. Failures for individual reminders are collected and
// returned together; they do not stop the rebuild.
func (s *Scheduler) Rebuild(ctx context.Context, reminders []reminder.Reminder) error {
	if err := s.CancelAll(ctx); err != nil {
		return err
	}

	now := s.now()
	armed := 0
	var errs []error
	for _, r := range reminders {
		if r.Status != reminder.StatusUpcoming || !r.Target().After(now) {
			continue
		}
		if _, err := s.Schedule(ctx, r); err != nil {
			log.Printf("[scheduler] Error: failed to arm %s: %v", r.ID, err)
			errs = append(errs, err)
			continue
		}
		armed++
	}

	log.Printf("[scheduler] Rebuilt schedule: %d armed, %d failed", armed, len(errs))
	return errors.Join(errs...)
}

// Handle returns the live handle of a reminder.
func (s *Scheduler) Handle(id string) (Handle, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	h, ok := s.handles[id]
	return h, ok
}

// Len returns the number of live handles.
func (s *Scheduler) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.handles)
}
