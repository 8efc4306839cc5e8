// Package delivery handles notifications handed back by the platform: it
// speaks the task, asks the UI to present the alarm and rolls recurring
// reminders forward.
package delivery

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/notexe/vocalizeit/internal/reminder"
	"github.com/notexe/vocalizeit/internal/scheduler"
	"github.com/notexe/vocalizeit/internal/speech"
)

// DefaultPrimeDelay lets speech start before the alarm is presented.
const DefaultPrimeDelay = time.Second

// Presenter shows the full-attention alarm for a reminder.
type Presenter interface {
	Present(ctx context.Context, r reminder.Reminder)
}

// Roller advances a fired recurring reminder to its next occurrence.
type Roller interface {
	RollForward(ctx context.Context, id string) (reminder.Reminder, bool, error)
}

// Tracker forgets handles whose notification has been delivered.
type Tracker interface {
	Forget(id string, h scheduler.Handle)
}

// Source registers the process-wide delivery callback.
type Source interface {
	SetListener(l scheduler.Listener)
}

// Handler is the single delivery callback of the process.
type Handler struct {
	store     reminder.Store
	speaker   speech.Speaker
	presenter Presenter
	roller    Roller
	tracker   Tracker
	voice     speech.Options
	delay     time.Duration
	source    Source
}

// Config holds the handler's collaborators.
type Config struct {
	Store      reminder.Store
	Speaker    speech.Speaker
	Presenter  Presenter
	Roller     Roller
	Tracker    Tracker
	Voice      speech.Options
	PrimeDelay time.Duration
}

// NewHandler creates a Handler. A nil Speaker is silent.
func NewHandler(cfg Config) *Handler {
	h := &Handler{
		store:     cfg.Store,
		speaker:   cfg.Speaker,
		presenter: cfg.Presenter,
		roller:    cfg.Roller,
		tracker:   cfg.Tracker,
		voice:     cfg.Voice,
		delay:     cfg.PrimeDelay,
	}
	if h.speaker == nil {
		h.speaker = speech.Nop{}
	}
	return h
}

// Attach registers the handler as the delivery callback of src.
func (h *Handler) Attach(src Source) {
	h.source = src
	src.SetListener(func(ctx context.Context, ev scheduler.Event) {
		if err := h.HandleEvent(ctx, ev); err != nil {
			log.Printf("[delivery] Error: %v", err)
		}
	})
}

// Detach unregisters the handler from the source it was attached to.
func (h *Handler) Detach() {
	if h.source != nil {
		h.source.SetListener(nil)
		h.source = nil
	}
}

// HandleEvent processes one delivered or opened notification. Unknown
// reminders are ignored; only store failures are returned.
func (h *Handler) HandleEvent(ctx context.Context, ev scheduler.Event) error {
	id := ev.Payload.ReminderID
	if id == "" {
		return nil
	}

	if ev.Kind == scheduler.EventReceived && ev.Handle != "" && h.tracker != nil {
		h.tracker.Forget(id, ev.Handle)
	}

	reminders, err := h.store.GetAll(ctx)
	if err != nil {
		return fmt.Errorf("failed to load reminder %s: %w", id, err)
	}
	i := reminder.Find(reminders, id)
	if i < 0 {
		log.Printf("[delivery] Reminder %s no longer exists, ignoring %s event", id, ev.Kind)
		return nil
	}
	r := reminders[i]

	switch ev.Kind {
	case scheduler.EventReceived:
		h.speak(ctx, r.Task)
		if !h.wait(ctx) {
			return ctx.Err()
		}
		h.presenter.Present(ctx, r)
	case scheduler.EventOpened:
		h.presenter.Present(ctx, r)
	default:
		log.Printf("[delivery] Unknown event kind %q for %s", ev.Kind, id)
		return nil
	}

	if !r.Recurrence.IsRecurring() || h.roller == nil {
		return nil
	}

	next, ok, err := h.roller.RollForward(ctx, id)
	if err != nil {
		return fmt.Errorf("failed to roll %s forward: %w", id, err)
	}
	if ok {
		log.Printf("[delivery] Next occurrence of %s at %s", id, next.Target().Format(time.RFC3339))
	}
	return nil
}

func (h *Handler) speak(ctx context.Context, text string) {
	if err := h.speaker.Stop(); err != nil {
		log.Printf("[delivery] Error: failed to stop speech: %v", err)
	}
	done, err := h.speaker.Speak(ctx, text, h.voice)
	if err != nil {
		log.Printf("[delivery] Error: failed to speak: %v", err)
		return
	}
	go func() {
		if err := <-done; err != nil {
			log.Printf("[delivery] Error: %v", err)
		}
	}()
}

func (h *Handler) wait(ctx context.Context) bool {
	if h.delay <= 0 {
		return true
	}
	t := time.NewTimer(h.delay)
	defer t.Stop()
	select {
	case <-t.C:
		return true
	case <-ctx.Done():
		return false
	}
}
