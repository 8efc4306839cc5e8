// Package lifecycle owns reminder state transitions and keeps the store and
// the notification scheduler consistent after every mutation.
package lifecycle

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/notexe/vocalizeit/internal/reminder"
	"github.com/notexe/vocalizeit/internal/scheduler"
)

// Scheduler arms and disarms reminder notifications.
type Scheduler interface {
	Schedule(ctx context.Context, r reminder.Reminder) (scheduler.Handle, error)
	Reschedule(ctx context.Context, r reminder.Reminder) (scheduler.Handle, error)
	CancelReminder(ctx context.Context, id string) error
	Rebuild(ctx context.Context, reminders []reminder.Reminder) error
	Handle(id string) (scheduler.Handle, bool)
}

// SettingsSource provides the current app settings.
type SettingsSource interface {
	Get(ctx context.Context) (reminder.AppSettings, error)
}

// Defaults for Config.
const (
	DefaultMissedAfter       = 6 * time.Hour
	DefaultReconcileInterval = time.Minute
)

// Config tunes the controller.
type Config struct {
	// MissedAfter is how long a fired one-off reminder may wait for the user
	// before it is marked missed.
	MissedAfter time.Duration
	// ReconcileInterval is the period of the background reconciliation.
	ReconcileInterval time.Duration
	// Location is used for calendar arithmetic on recurrences.
	Location *time.Location
}

// Input describes a new reminder.
type Input struct {
	Task            string
	TargetTimestamp int64
	IsCritical      bool
	Recurrence      reminder.Recurrence
}

// Patch holds optional fields for a partial update.
type Patch struct {
	Task            *string
	TargetTimestamp *int64
	IsCritical      *bool
	Recurrence      *reminder.Recurrence
}

// Controller runs the reminder state machine. Operations are serialised.
type Controller struct {
	store    reminder.Store
	sched    Scheduler
	settings SettingsSource
	cfg      Config
	now      func() time.Time
	newID    func() string

	mu sync.Mutex
}

// Option configures a Controller.
type Option func(*Controller)

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(c *Controller) { c.now = now }
}

// WithIDGenerator overrides reminder id generation.
func WithIDGenerator(newID func() string) Option {
	return func(c *Controller) { c.newID = newID }
}

// New creates a Controller.
func New(store reminder.Store, sched Scheduler, settings SettingsSource, cfg Config, opts ...Option) *Controller {
	if cfg.MissedAfter <= 0 {
		cfg.MissedAfter = DefaultMissedAfter
	}
	if cfg.ReconcileInterval <= 0 {
		cfg.ReconcileInterval = DefaultReconcileInterval
	}
	if cfg.Location == nil {
		cfg.Location = time.Local
	}

	c := &Controller{
		store:    store,
		sched:    sched,
		settings: settings,
		cfg:      cfg,
		now:      time.Now,
		newID:    func() string { return uuid.Must(uuid.NewV7()).String() },
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Create validates, persists and arms a new reminder. If arming fails the
// reminder stays persisted and is returned together with an ErrScheduling
// error.
func (c *Controller) Create(ctx context.Context, in Input) (reminder.Reminder, error) {
	now := c.now()

	task, err := reminder.ValidateTask(in.Task)
	if err != nil {
		return reminder.Reminder{}, err
	}
	if err := reminder.ValidateTarget(time.UnixMilli(in.TargetTimestamp), now); err != nil {
		return reminder.Reminder{}, err
	}
	rec := normalizeRecurrence(in.Recurrence)
	if err := rec.Validate(); err != nil {
		return reminder.Reminder{}, err
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	reminders, err := c.store.GetAll(ctx)
	if err != nil {
		return reminder.Reminder{}, err
	}

	r := reminder.Reminder{
		ID:              c.newID(),
		Task:            task,
		TargetTimestamp: in.TargetTimestamp,
		IsCritical:      in.IsCritical,
		Status:          reminder.StatusUpcoming,
		Recurrence:      rec,
		CreatedAt:       now.UnixMilli(),
	}

	if err := c.store.SaveAll(ctx, append(reminders, r)); err != nil {
		return reminder.Reminder{}, err
	}

	if _, err := c.sched.Schedule(ctx, r); err != nil {
		log.Printf("[lifecycle] Error: reminder %s saved but not armed: %v", r.ID, err)
		return r, fmt.Errorf("reminder %s saved but not armed: %w", r.ID, err)
	}

	log.Printf("[lifecycle] Created %s for %s", r.ID, r.Target().Format(time.RFC3339))
	return r, nil
}

// Edit applies a patch to an upcoming reminder and re-arms it when the
// delivered notification would change.
func (c *Controller) Edit(ctx context.Context, id string, patch Patch) (reminder.Reminder, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	reminders, i, err := c.load(ctx, id)
	if err != nil {
		return reminder.Reminder{}, err
	}
	old := reminders[i]
	if old.Status != reminder.StatusUpcoming {
		return reminder.Reminder{}, fmt.Errorf("%w: cannot edit %s reminder %s", reminder.ErrInvalidTransition, old.Status, id)
	}

	updated := old
	if patch.Task != nil {
		updated.Task = *patch.Task
	}
	if patch.TargetTimestamp != nil {
		updated.TargetTimestamp = *patch.TargetTimestamp
	}
	if patch.IsCritical != nil {
		updated.IsCritical = *patch.IsCritical
	}
	if patch.Recurrence != nil {
		updated.Recurrence = normalizeRecurrence(*patch.Recurrence)
	}

	if updated.Task, err = reminder.ValidateTask(updated.Task); err != nil {
		return reminder.Reminder{}, err
	}
	if err := reminder.ValidateTarget(updated.Target(), c.now()); err != nil {
		return reminder.Reminder{}, err
	}
	if err := updated.Recurrence.Validate(); err != nil {
		return reminder.Reminder{}, err
	}

	reminders[i] = updated
	if err := c.store.SaveAll(ctx, reminders); err != nil {
		return reminder.Reminder{}, err
	}

	_, armed := c.sched.Handle(id)
	changed := updated.TargetTimestamp != old.TargetTimestamp ||
		updated.IsCritical != old.IsCritical ||
		updated.Task != old.Task
	if changed || !armed {
		if _, err := c.sched.Reschedule(ctx, updated); err != nil {
			log.Printf("[lifecycle] Error: reminder %s updated but not armed: %v", id, err)
			return updated, fmt.Errorf("reminder %s updated but not armed: %w", id, err)
		}
	}

	return updated, nil
}

// Complete marks an upcoming reminder completed and disarms it.
func (c *Controller) Complete(ctx context.Context, id string) (reminder.Reminder, error) {
	return c.finish(ctx, id, reminder.StatusCompleted)
}

// Dismiss marks an upcoming reminder dismissed and disarms it.
func (c *Controller) Dismiss(ctx context.Context, id string) (reminder.Reminder, error) {
	return c.finish(ctx, id, reminder.StatusDismissed)
}

func (c *Controller) finish(ctx context.Context, id string, status reminder.Status) (reminder.Reminder, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	reminders, i, err := c.load(ctx, id)
	if err != nil {
		return reminder.Reminder{}, err
	}
	old := reminders[i]
	if old.Status != reminder.StatusUpcoming {
		return reminder.Reminder{}, fmt.Errorf("%w: %s reminder %s cannot become %s",
			reminder.ErrInvalidTransition, old.Status, id, status)
	}

	if err := c.sched.CancelReminder(ctx, id); err != nil {
		return reminder.Reminder{}, fmt.Errorf("%w: %w", reminder.ErrScheduling, err)
	}

	updated := old
	updated.Status = status
	if status == reminder.StatusCompleted {
		at := c.now().UnixMilli()
		updated.CompletedAt = &at
	}

	reminders[i] = updated
	if err := c.store.SaveAll(ctx, reminders); err != nil {
		c.restore(ctx, old)
		return reminder.Reminder{}, err
	}

	log.Printf("[lifecycle] %s is now %s", id, status)
	return updated, nil
}

// Snooze moves an upcoming reminder to now plus minutes. Zero minutes means
// the configured snooze duration.
func (c *Controller) Snooze(ctx context.Context, id string, minutes int) (reminder.Reminder, error) {
	if minutes < 0 || minutes > reminder.MaxSnoozeMinutes {
		return reminder.Reminder{}, fmt.Errorf("%w: snooze minutes must be 0 (default) or 1-%d, got %d",
			reminder.ErrValidation, reminder.MaxSnoozeMinutes, minutes)
	}
	if minutes == 0 {
		settings, err := c.settings.Get(ctx)
		if err != nil {
			return reminder.Reminder{}, err
		}
		minutes = settings.SnoozeDuration
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	reminders, i, err := c.load(ctx, id)
	if err != nil {
		return reminder.Reminder{}, err
	}
	updated := reminders[i]
	if updated.Status != reminder.StatusUpcoming {
		return reminder.Reminder{}, fmt.Errorf("%w: cannot snooze %s reminder %s", reminder.ErrInvalidTransition, updated.Status, id)
	}

	updated.TargetTimestamp = c.now().UnixMilli() + int64(minutes)*60000
	reminders[i] = updated
	if err := c.store.SaveAll(ctx, reminders); err != nil {
		return reminder.Reminder{}, err
	}

	if _, err := c.sched.Reschedule(ctx, updated); err != nil {
		log.Printf("[lifecycle] Error: reminder %s snoozed but not armed: %v", id, err)
		return updated, fmt.Errorf("reminder %s snoozed but not armed: %w", id, err)
	}

	log.Printf("[lifecycle] Snoozed %s for %d minutes", id, minutes)
	return updated, nil
}

// Delete removes a reminder in any status and returns the removed record.
func (c *Controller) Delete(ctx context.Context, id string) (reminder.Reminder, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	reminders, i, err := c.load(ctx, id)
	if err != nil {
		return reminder.Reminder{}, err
	}
	old := reminders[i]

	if err := c.sched.CancelReminder(ctx, id); err != nil {
		return reminder.Reminder{}, fmt.Errorf("%w: %w", reminder.ErrScheduling, err)
	}

	remaining := append(reminders[:i:i], reminders[i+1:]...)
	if err := c.store.SaveAll(ctx, remaining); err != nil {
		c.restore(ctx, old)
		return reminder.Reminder{}, err
	}

	log.Printf("[lifecycle] Deleted %s", id)
	return old, nil
}

// Get returns a single reminder.
func (c *Controller) Get(ctx context.Context, id string) (reminder.Reminder, error) {
	reminders, i, err := c.load(ctx, id)
	if err != nil {
		return reminder.Reminder{}, err
	}
	return reminders[i], nil
}

// ListUpcoming returns upcoming reminders, soonest first.
func (c *Controller) ListUpcoming(ctx context.Context) ([]reminder.Reminder, error) {
	reminders, err := c.store.GetAll(ctx)
	if err != nil {
		return nil, err
	}
	return reminder.Upcoming(reminders), nil
}

// ListHistory returns completed, dismissed and missed reminders, latest first.
func (c *Controller) ListHistory(ctx context.Context) ([]reminder.Reminder, error) {
	reminders, err := c.store.GetAll(ctx)
	if err != nil {
		return nil, err
	}
	return reminder.History(reminders), nil
}

// RollForward advances a fired recurring reminder to its next future
// occurrence and arms it. Reminders that have not fired yet, are not
// recurring or are no longer upcoming are left alone and reported with
// false, which makes repeated calls for the same firing harmless.
func (c *Controller) RollForward(ctx context.Context, id string) (reminder.Reminder, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	reminders, err := c.store.GetAll(ctx)
	if err != nil {
		return reminder.Reminder{}, false, err
	}
	i := reminder.Find(reminders, id)
	if i < 0 {
		return reminder.Reminder{}, false, nil
	}

	updated, ok := c.advance(reminders[i], c.now())
	if !ok {
		return reminders[i], false, nil
	}

	reminders[i] = updated
	if err := c.store.SaveAll(ctx, reminders); err != nil {
		return reminder.Reminder{}, false, err
	}

	if _, err := c.sched.Reschedule(ctx, updated); err != nil {
		log.Printf("[lifecycle] Error: reminder %s rolled forward but not armed: %v", id, err)
		return updated, true, fmt.Errorf("reminder %s rolled forward but not armed: %w", id, err)
	}
	return updated, true, nil
}

// advance computes the next occurrence of a fired recurring reminder.
func (c *Controller) advance(r reminder.Reminder, now time.Time) (reminder.Reminder, bool) {
	if r.Status != reminder.StatusUpcoming || !r.Recurrence.IsRecurring() {
		return r, false
	}
	if r.TargetTimestamp > now.UnixMilli() {
		return r, false
	}
	next, ok := reminder.NextTimestamp(r.TargetTimestamp, r.Recurrence, now.UnixMilli(), c.cfg.Location)
	if !ok {
		return r, false
	}
	r.TargetTimestamp = next
	r.Status = reminder.StatusUpcoming
	return r, true
}

func (c *Controller) load(ctx context.Context, id string) ([]reminder.Reminder, int, error) {
	reminders, err := c.store.GetAll(ctx)
	if err != nil {
		return nil, -1, err
	}
	i := reminder.Find(reminders, id)
	if i < 0 {
		return nil, -1, fmt.Errorf("%w: %s", reminder.ErrNotFound, id)
	}
	return reminders, i, nil
}

// restore re-arms a reminder whose handle was cancelled before a store write
// that then failed.
func (c *Controller) restore(ctx context.Context, r reminder.Reminder) {
	if r.Status != reminder.StatusUpcoming || !r.Target().After(c.now()) {
		return
	}
	if _, err := c.sched.Schedule(ctx, r); err != nil {
		log.Printf("[lifecycle] Error: failed to re-arm %s after store failure: %v", r.ID, err)
	}
}

func normalizeRecurrence(r reminder.Recurrence) reminder.Recurrence {
	if r.Type == "" {
		r.Type = reminder.RecurrenceNone
	}
	if r.Type != reminder.RecurrenceWeekly {
		r.DaysOfWeek = nil
	}
	return r
}
