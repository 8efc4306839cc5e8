package lifecycle

import (
	"context"
	"errors"
	"log"
	"time"

	"github.com/notexe/vocalizeit/internal/reminder"
)

// ReconcileMissed brings overdue upcoming reminders to a settled state.
// Recurring ones are rolled forward to their next future occurrence; one-off
// reminders overdue by more than Config.MissedAfter become missed. It
// returns the reminders it changed.
func (c *Controller) ReconcileMissed(ctx context.Context) ([]reminder.Reminder, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	reminders, err := c.store.GetAll(ctx)
	if err != nil {
		return nil, err
	}

	now := c.now()
	cutoff := now.Add(-c.cfg.MissedAfter).UnixMilli()

	var missed, rolled []reminder.Reminder
	for i, r := range reminders {
		if r.Status != reminder.StatusUpcoming || r.TargetTimestamp > now.UnixMilli() {
			continue
		}
		if next, ok := c.advance(r, now); ok {
			reminders[i] = next
			rolled = append(rolled, next)
			continue
		}
		if !r.Recurrence.IsRecurring() && r.TargetTimestamp < cutoff {
			r.Status = reminder.StatusMissed
			reminders[i] = r
			missed = append(missed, r)
		}
	}

	if len(missed) == 0 && len(rolled) == 0 {
		return nil, nil
	}

	if err := c.store.SaveAll(ctx, reminders); err != nil {
		return nil, err
	}

	var errs []error
	for _, r := range missed {
		if err := c.sched.CancelReminder(ctx, r.ID); err != nil {
			errs = append(errs, err)
		}
	}
	for _, r := range rolled {
		if _, err := c.sched.Reschedule(ctx, r); err != nil {
			errs = append(errs, err)
		}
	}

	log.Printf("[lifecycle] Reconciled: %d missed, %d rolled forward", len(missed), len(rolled))
	return append(missed, rolled...), errors.Join(errs...)
}

// Start settles overdue reminders and then rebuilds the notification
// schedule from the store, discarding whatever the platform still holds.
func (c *Controller) Start(ctx context.Context) error {
	if _, err := c.ReconcileMissed(ctx); err != nil {
		if errors.Is(err, reminder.ErrStore) {
			return err
		}
		log.Printf("[lifecycle] Error: reconcile on start: %v", err)
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	reminders, err := c.store.GetAll(ctx)
	if err != nil {
		return err
	}
	return c.sched.Rebuild(ctx, reminder.Upcoming(reminders))
}

// Run blocks and reconciles on every interval, immediately on start too.
// It exits when ctx is cancelled.
func (c *Controller) Run(ctx context.Context) error {
	log.Printf("[lifecycle] Started. Reconcile interval: %s", c.cfg.ReconcileInterval)

	c.tick(ctx)

	ticker := time.NewTicker(c.cfg.ReconcileInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			log.Println("[lifecycle] Shutting down...")
			return nil
		case <-ticker.C:
			c.tick(ctx)
		}
	}
}

func (c *Controller) tick(ctx context.Context) {
	if _, err := c.ReconcileMissed(ctx); err != nil {
		log.Printf("[lifecycle] Error: reconcile failed: %v", err)
	}
}
