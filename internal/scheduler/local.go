package scheduler

import (
	"context"
	"fmt"
	"log"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/notexe/vocalizeit/internal/reminder"
)

// Sink receives a copy of every delivered notification, e.g. to mirror it
// to a messaging service.
type Sink interface {
	Send(ctx context.Context, payload Payload, class Classification) error
}

// SinkTimeout bounds how long all sinks together may take to mirror one
// delivery.
const SinkTimeout = 15 * time.Second

// Listener is the process-wide delivery callback.
type Listener func(ctx context.Context, ev Event)

// Pending describes one armed notification.
type Pending struct {
	Handle  Handle         `json:"handle"`
	At      time.Time      `json:"at"`
	Payload Payload        `json:"payload"`
	Class   Classification `json:"classification"`
}

type localEntry struct {
	pending Pending
	timer   *time.Timer
}

// LocalNotifier is an in-process notification platform: each armed
// notification is a timer that delivers to the registered listener.
type LocalNotifier struct {
	now   func() time.Time
	sinks []Sink

	mu       sync.Mutex
	entries  map[Handle]*localEntry
	listener Listener
	closed   bool
}

// NewLocalNotifier creates a LocalNotifier that mirrors deliveries to sinks.
func NewLocalNotifier(sinks ...Sink) *LocalNotifier {
	return &LocalNotifier{
		now:     time.Now,
		sinks:   sinks,
		entries: make(map[Handle]*localEntry),
	}
}

// SetListener registers the delivery callback, replacing any previous one.
// Passing nil unregisters it.
func (n *LocalNotifier) SetListener(l Listener) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.listener = l
}

// ScheduleAt arms a timer for at.
func (n *LocalNotifier) ScheduleAt(_ context.Context, at time.Time, payload Payload, class Classification) (Handle, error) {
	delay := at.Sub(n.now())
	if delay <= 0 {
		return "", fmt.Errorf("%w: cannot schedule notification in the past", reminder.ErrScheduling)
	}

	n.mu.Lock()
	defer n.mu.Unlock()

	if n.closed {
		return "", fmt.Errorf("%w: notifier is closed", reminder.ErrScheduling)
	}

	h := Handle(uuid.NewString())
	entry := &localEntry{
		pending: Pending{Handle: h, At: at, Payload: payload, Class: class},
	}
	entry.timer = time.AfterFunc(delay, func() { n.fire(h) })
	n.entries[h] = entry

	return h, nil
}

// Cancel stops the timer behind h. Unknown or already delivered handles are
// ignored.
func (n *LocalNotifier) Cancel(_ context.Context, h Handle) error {
	n.mu.Lock()
	defer n.mu.Unlock()

	if entry, ok := n.entries[h]; ok {
		entry.timer.Stop()
		delete(n.entries, h)
	}
	return nil
}

// CancelAll stops every armed timer.
func (n *LocalNotifier) CancelAll(_ context.Context) error {
	n.mu.Lock()
	defer n.mu.Unlock()

	for h, entry := range n.entries {
		entry.timer.Stop()
		delete(n.entries, h)
	}
	return nil
}

// Pending lists armed notifications ordered by delivery time.
func (n *LocalNotifier) Pending() []Pending {
	n.mu.Lock()
	defer n.mu.Unlock()

	out := make([]Pending, 0, len(n.entries))
	for _, entry := range n.entries {
		out = append(out, entry.pending)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].At.Before(out[j].At) })
	return out
}

// Open reports that the user opened the notification of a reminder.
func (n *LocalNotifier) Open(ctx context.Context, payload Payload) {
	n.mu.Lock()
	listener := n.listener
	n.mu.Unlock()

	if listener != nil {
		listener(ctx, Event{Kind: EventOpened, Payload: payload, At: n.now()})
	}
}

// Close stops all timers and unregisters the listener.
func (n *LocalNotifier) Close() error {
	n.mu.Lock()
	defer n.mu.Unlock()

	for h, entry := range n.entries {
		entry.timer.Stop()
		delete(n.entries, h)
	}
	n.listener = nil
	n.closed = true
	return nil
}

func (n *LocalNotifier) fire(h Handle) {
	n.mu.Lock()
	entry, ok := n.entries[h]
	if ok {
		delete(n.entries, h)
	}
	listener := n.listener
	n.mu.Unlock()

	if !ok {
		return
	}

	ctx := context.Background()
	p := entry.pending

	if len(n.sinks) > 0 {
		go n.mirror(p)
	}

	if listener == nil {
		log.Printf("[scheduler] Notification %s delivered with no listener", h)
		return
	}
	listener(ctx, Event{Kind: EventReceived, Handle: h, Payload: p.Payload, At: n.now()})
}

// mirror sends a delivered notification to every sink. Sinks are best
// effort and never hold back the listener.
func (n *LocalNotifier) mirror(p Pending) {
	ctx, cancel := context.WithTimeout(context.Background(), SinkTimeout)
	defer cancel()

	for _, sink := range n.sinks {
		if err := sink.Send(ctx, p.Payload, p.Class); err != nil {
			log.Printf("[scheduler] Error: sink delivery failed for %s: %v", p.Payload.ReminderID, err)
		}
	}
}
