package lifecycle_test

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/notexe/vocalizeit/internal/lifecycle"
	"github.com/notexe/vocalizeit/internal/reminder"
	"github.com/notexe/vocalizeit/internal/scheduler"
	"github.com/notexe/vocalizeit/internal/settings"
)

// --- Test clock ---

type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

// --- Fake platform notifier ---

type fakeNotifier struct {
	mu        sync.Mutex
	clock     *testClock
	seq       int
	live      map[scheduler.Handle]scheduler.Payload
	at        map[scheduler.Handle]time.Time
	failArm   bool
	failClear bool
}

func newFakeNotifier(clock *testClock) *fakeNotifier {
	return &fakeNotifier{
		clock: clock,
		live:  make(map[scheduler.Handle]scheduler.Payload),
		at:    make(map[scheduler.Handle]time.Time),
	}
}

func (f *fakeNotifier) ScheduleAt(_ context.Context, at time.Time, p scheduler.Payload, _ scheduler.Classification) (scheduler.Handle, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failArm {
		return "", errors.New("permission denied")
	}
	if !at.After(f.clock.Now()) {
		return "", errors.New("trigger in the past")
	}
	f.seq++
	h := scheduler.Handle(fmt.Sprintf("h%d", f.seq))
	f.live[h] = p
	f.at[h] = at
	return h, nil
}

func (f *fakeNotifier) Cancel(_ context.Context, h scheduler.Handle) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failClear {
		return errors.New("platform unavailable")
	}
	delete(f.live, h)
	delete(f.at, h)
	return nil
}

func (f *fakeNotifier) CancelAll(_ context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.live = make(map[scheduler.Handle]scheduler.Payload)
	f.at = make(map[scheduler.Handle]time.Time)
	return nil
}

// liveFor returns the trigger times of every live notification for id.
func (f *fakeNotifier) liveFor(id string) []time.Time {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []time.Time
	for h, p := range f.live {
		if p.ReminderID == id {
			out = append(out, f.at[h])
		}
	}
	return out
}

// assertSingleHandles checks that no reminder holds more than one live notification.
func (f *fakeNotifier) assertSingleHandles(t *testing.T) {
	t.Helper()
	f.mu.Lock()
	defer f.mu.Unlock()
	counts := map[string]int{}
	for _, p := range f.live {
		counts[p.ReminderID]++
		if counts[p.ReminderID] > 1 {
			t.Fatalf("reminder %s has %d live notifications", p.ReminderID, counts[p.ReminderID])
		}
	}
}

// --- Store that can be told to fail ---

type flakyStore struct {
	reminder.Store
	failSave bool
}

func (s *flakyStore) SaveAll(ctx context.Context, rs []reminder.Reminder) error {
	if s.failSave {
		return fmt.Errorf("%w: disk full", reminder.ErrStore)
	}
	return s.Store.SaveAll(ctx, rs)
}

// --- Environment ---

type env struct {
	ctl      *lifecycle.Controller
	store    *flakyStore
	notifier *fakeNotifier
	sched    *scheduler.Scheduler
	clock    *testClock
}

var start = time.Date(2025, 1, 1, 12, 0, 0, 0, time.UTC)

func newEnv(t *testing.T) *env {
	t.Helper()

	sqlite, err := reminder.NewSQLiteStore(filepath.Join(t.TempDir(), "reminders.db"))
	if err != nil {
		t.Fatalf("failed to open store: %v", err)
	}
	t.Cleanup(func() { sqlite.Close() })

	clock := &testClock{now: start}
	store := &flakyStore{Store: sqlite}
	notifier := newFakeNotifier(clock)
	sched := scheduler.New(notifier, scheduler.Capabilities{}, scheduler.WithClock(clock.Now))

	seq := 0
	ctl := lifecycle.New(store, sched, settings.New(sqlite),
		lifecycle.Config{Location: time.UTC, MissedAfter: 6 * time.Hour},
		lifecycle.WithClock(clock.Now),
		lifecycle.WithIDGenerator(func() string {
			seq++
			return fmt.Sprintf("r%d", seq)
		}),
	)

	return &env{ctl: ctl, store: store, notifier: notifier, sched: sched, clock: clock}
}

func (e *env) create(t *testing.T, in lifecycle.Input) reminder.Reminder {
	t.Helper()
	r, err := e.ctl.Create(context.Background(), in)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	return r
}

func inHour(task string) lifecycle.Input {
	return lifecycle.Input{Task: task, TargetTimestamp: start.Add(time.Hour).UnixMilli()}
}

// --- Tests ---

func TestCreateThenGet(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()

	in := lifecycle.Input{
		Task:            "  Take medication  ",
		TargetTimestamp: start.Add(2 * time.Hour).UnixMilli(),
		IsCritical:      true,
		Recurrence:      reminder.Recurrence{Type: reminder.RecurrenceDaily},
	}
	created := e.create(t, in)

	got, err := e.ctl.Get(ctx, created.ID)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got.Task != "Take medication" || got.TargetTimestamp != in.TargetTimestamp ||
		!got.IsCritical || got.Recurrence.Type != reminder.RecurrenceDaily {
		t.Errorf("unexpected reminder %+v", got)
	}
	if got.Status != reminder.StatusUpcoming || got.CreatedAt != start.UnixMilli() || got.CompletedAt != nil {
		t.Errorf("unexpected generated fields %+v", got)
	}
	if got.ID != "r1" {
		t.Errorf("expected generated id r1, got %s", got.ID)
	}

	live := e.notifier.liveFor(created.ID)
	if len(live) != 1 || !live[0].Equal(start.Add(2*time.Hour)) {
		t.Errorf("expected one notification at target, got %v", live)
	}
}

func TestCreateValidation(t *testing.T) {
	tests := []struct {
		name  string
		input lifecycle.Input
	}{
		{"empty task", lifecycle.Input{Task: "", TargetTimestamp: start.Add(time.Hour).UnixMilli()}},
		{"blank task", lifecycle.Input{Task: "   ", TargetTimestamp: start.Add(time.Hour).UnixMilli()}},
		{"target now", lifecycle.Input{Task: "x", TargetTimestamp: start.UnixMilli()}},
		{"target past", lifecycle.Input{Task: "x", TargetTimestamp: start.Add(-time.Minute).UnixMilli()}},
		{"bad recurrence", lifecycle.Input{Task: "x", TargetTimestamp: start.Add(time.Hour).UnixMilli(), Recurrence: reminder.Recurrence{Type: "hourly"}}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e := newEnv(t)
			_, err := e.ctl.Create(context.Background(), tt.input)
			if !errors.Is(err, reminder.ErrValidation) {
				t.Fatalf("expected ErrValidation, got %v", err)
			}
			list, _ := e.ctl.ListUpcoming(context.Background())
			if len(list) != 0 {
				t.Errorf("nothing should be persisted, got %d", len(list))
			}
		})
	}
}

func TestCreateSchedulingFailureKeepsReminder(t *testing.T) {
	e := newEnv(t)
	e.notifier.failArm = true

	r, err := e.ctl.Create(context.Background(), inHour("Water plants"))
	if !errors.Is(err, reminder.ErrScheduling) {
		t.Fatalf("expected ErrScheduling, got %v", err)
	}
	if r.ID == "" {
		t.Fatal("expected the persisted reminder to be returned")
	}

	got, err := e.ctl.Get(context.Background(), r.ID)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got.Status != reminder.StatusUpcoming {
		t.Errorf("expected upcoming, got %s", got.Status)
	}
	if _, ok := e.sched.Handle(r.ID); ok {
		t.Error("expected no live handle")
	}
}

func TestCreateStoreFailureArmsNothing(t *testing.T) {
	e := newEnv(t)
	e.store.failSave = true

	_, err := e.ctl.Create(context.Background(), inHour("Water plants"))
	if !errors.Is(err, reminder.ErrStore) {
		t.Fatalf("expected ErrStore, got %v", err)
	}
	if e.sched.Len() != 0 {
		t.Errorf("expected no handles, got %d", e.sched.Len())
	}
}

func TestSnoozeUsesDefaultDuration(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	r := e.create(t, inHour("Stretch"))
	oldHandle, _ := e.sched.Handle(r.ID)

	e.clock.Advance(time.Hour) // the reminder fires
	now := e.clock.Now()

	got, err := e.ctl.Snooze(ctx, r.ID, 0)
	if err != nil {
		t.Fatalf("Snooze: %v", err)
	}
	if got.TargetTimestamp != now.UnixMilli()+15*60000 {
		t.Errorf("expected target now+15m, got %d", got.TargetTimestamp-now.UnixMilli())
	}
	if got.Status != reminder.StatusUpcoming {
		t.Errorf("expected upcoming, got %s", got.Status)
	}

	newHandle, ok := e.sched.Handle(r.ID)
	if !ok || newHandle == oldHandle {
		t.Errorf("expected a fresh handle, got %q (old %q)", newHandle, oldHandle)
	}
	live := e.notifier.liveFor(r.ID)
	if len(live) != 1 || !live[0].Equal(now.Add(15*time.Minute)) {
		t.Errorf("expected exactly one notification at now+15m, got %v", live)
	}
}

func TestSnoozeUsesSettings(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	r := e.create(t, inHour("Stretch"))

	five := 5
	sqlite := e.store.Store
	if _, err := settings.New(sqlite).Set(ctx, settings.Patch{SnoozeDuration: &five}); err != nil {
		t.Fatalf("Set: %v", err)
	}

	got, err := e.ctl.Snooze(ctx, r.ID, 0)
	if err != nil {
		t.Fatalf("Snooze: %v", err)
	}
	if got.TargetTimestamp != start.UnixMilli()+5*60000 {
		t.Errorf("expected 5 minute snooze, got %dms", got.TargetTimestamp-start.UnixMilli())
	}

	got, err = e.ctl.Snooze(ctx, r.ID, 45)
	if err != nil {
		t.Fatalf("Snooze: %v", err)
	}
	if got.TargetTimestamp != start.UnixMilli()+45*60000 {
		t.Errorf("expected explicit 45 minute snooze, got %dms", got.TargetTimestamp-start.UnixMilli())
	}
	e.notifier.assertSingleHandles(t)
}

func TestSnoozeErrors(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	r := e.create(t, inHour("Stretch"))

	if _, err := e.ctl.Snooze(ctx, r.ID, -1); !errors.Is(err, reminder.ErrValidation) {
		t.Errorf("expected ErrValidation, got %v", err)
	} else if !strings.Contains(err.Error(), "0 (default) or 1-1440") {
		t.Errorf("error should name the accepted range, got %v", err)
	}
	if _, err := e.ctl.Snooze(ctx, "missing", 0); !errors.Is(err, reminder.ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
	if _, err := e.ctl.Complete(ctx, r.ID); err != nil {
		t.Fatalf("Complete: %v", err)
	}
	if _, err := e.ctl.Snooze(ctx, r.ID, 0); !errors.Is(err, reminder.ErrInvalidTransition) {
		t.Errorf("expected ErrInvalidTransition, got %v", err)
	}
}

func TestComplete(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	r := e.create(t, inHour("Pay rent"))
	e.clock.Advance(10 * time.Minute)

	got, err := e.ctl.Complete(ctx, r.ID)
	if err != nil {
		t.Fatalf("Complete: %v", err)
	}
	if got.Status != reminder.StatusCompleted {
		t.Errorf("expected completed, got %s", got.Status)
	}
	if got.CompletedAt == nil || *got.CompletedAt != e.clock.Now().UnixMilli() {
		t.Errorf("expected completedAt set to now, got %v", got.CompletedAt)
	}
	if len(e.notifier.liveFor(r.ID)) != 0 {
		t.Error("expected zero live notifications")
	}
	if _, ok := e.sched.Handle(r.ID); ok {
		t.Error("expected no tracked handle")
	}

	if _, err := e.ctl.Complete(ctx, r.ID); !errors.Is(err, reminder.ErrInvalidTransition) {
		t.Errorf("expected ErrInvalidTransition completing twice, got %v", err)
	}
	if _, err := e.ctl.Dismiss(ctx, r.ID); !errors.Is(err, reminder.ErrInvalidTransition) {
		t.Errorf("expected ErrInvalidTransition dismissing completed, got %v", err)
	}
}

func TestDismiss(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	r := e.create(t, inHour("Pay rent"))

	got, err := e.ctl.Dismiss(ctx, r.ID)
	if err != nil {
		t.Fatalf("Dismiss: %v", err)
	}
	if got.Status != reminder.StatusDismissed || got.CompletedAt != nil {
		t.Errorf("unexpected reminder %+v", got)
	}
	if len(e.notifier.liveFor(r.ID)) != 0 {
		t.Error("expected zero live notifications")
	}
}

func TestCompleteStoreFailureRestoresHandle(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	r := e.create(t, inHour("Pay rent"))

	e.store.failSave = true
	if _, err := e.ctl.Complete(ctx, r.ID); !errors.Is(err, reminder.ErrStore) {
		t.Fatalf("expected ErrStore, got %v", err)
	}
	e.store.failSave = false

	got, _ := e.ctl.Get(ctx, r.ID)
	if got.Status != reminder.StatusUpcoming {
		t.Errorf("expected reminder to stay upcoming, got %s", got.Status)
	}
	if len(e.notifier.liveFor(r.ID)) != 1 {
		t.Error("expected the notification to be re-armed")
	}
}

func TestCompleteCancelFailureLeavesStateUntouched(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	r := e.create(t, inHour("Pay rent"))

	e.notifier.failClear = true
	if _, err := e.ctl.Complete(ctx, r.ID); !errors.Is(err, reminder.ErrScheduling) {
		t.Fatalf("expected ErrScheduling, got %v", err)
	}

	got, _ := e.ctl.Get(ctx, r.ID)
	if got.Status != reminder.StatusUpcoming {
		t.Errorf("expected upcoming, got %s", got.Status)
	}
}

func TestDelete(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	a := e.create(t, inHour("A"))
	b := e.create(t, inHour("B"))

	deleted, err := e.ctl.Delete(ctx, a.ID)
	if err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if deleted.ID != a.ID || deleted.Task != "A" {
		t.Errorf("expected the removed record back, got %+v", deleted)
	}
	if _, err := e.ctl.Get(ctx, a.ID); !errors.Is(err, reminder.ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
	if len(e.notifier.liveFor(a.ID)) != 0 {
		t.Error("expected deleted reminder to be disarmed")
	}
	if _, err := e.ctl.Get(ctx, b.ID); err != nil {
		t.Errorf("other reminder should survive: %v", err)
	}

	if _, err := e.ctl.Delete(ctx, a.ID); !errors.Is(err, reminder.ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}

	// Terminal reminders can be deleted too.
	e.ctl.Complete(ctx, b.ID)
	if _, err := e.ctl.Delete(ctx, b.ID); err != nil {
		t.Errorf("Delete completed: %v", err)
	}
}

func TestEdit(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	r := e.create(t, inHour("Call mom"))
	oldHandle, _ := e.sched.Handle(r.ID)

	target := start.Add(3 * time.Hour).UnixMilli()
	critical := true
	got, err := e.ctl.Edit(ctx, r.ID, lifecycle.Patch{TargetTimestamp: &target, IsCritical: &critical})
	if err != nil {
		t.Fatalf("Edit: %v", err)
	}
	if got.TargetTimestamp != target || !got.IsCritical || got.Task != "Call mom" {
		t.Errorf("unexpected reminder %+v", got)
	}
	newHandle, _ := e.sched.Handle(r.ID)
	if newHandle == oldHandle {
		t.Error("expected a re-armed handle")
	}
	live := e.notifier.liveFor(r.ID)
	if len(live) != 1 || live[0].UnixMilli() != target {
		t.Errorf("expected one notification at new target, got %v", live)
	}

	weekly := reminder.Recurrence{Type: reminder.RecurrenceWeekly}
	got, err = e.ctl.Edit(ctx, r.ID, lifecycle.Patch{Recurrence: &weekly})
	if err != nil {
		t.Fatalf("Edit: %v", err)
	}
	if got.Recurrence.Type != reminder.RecurrenceWeekly {
		t.Errorf("expected weekly, got %s", got.Recurrence.Type)
	}
	if h, _ := e.sched.Handle(r.ID); h != newHandle {
		t.Error("recurrence-only edit should not re-arm")
	}
}

func TestEditValidation(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	r := e.create(t, inHour("Call mom"))

	blank := " "
	if _, err := e.ctl.Edit(ctx, r.ID, lifecycle.Patch{Task: &blank}); !errors.Is(err, reminder.ErrValidation) {
		t.Errorf("expected ErrValidation for blank task, got %v", err)
	}
	past := start.Add(-time.Hour).UnixMilli()
	if _, err := e.ctl.Edit(ctx, r.ID, lifecycle.Patch{TargetTimestamp: &past}); !errors.Is(err, reminder.ErrValidation) {
		t.Errorf("expected ErrValidation for past target, got %v", err)
	}

	got, _ := e.ctl.Get(ctx, r.ID)
	if got.Task != "Call mom" || got.TargetTimestamp != r.TargetTimestamp {
		t.Errorf("failed edits must not persist, got %+v", got)
	}

	e.ctl.Dismiss(ctx, r.ID)
	task := "New"
	if _, err := e.ctl.Edit(ctx, r.ID, lifecycle.Patch{Task: &task}); !errors.Is(err, reminder.ErrInvalidTransition) {
		t.Errorf("expected ErrInvalidTransition, got %v", err)
	}
}

func TestEditRearmsUnarmedReminder(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()

	e.notifier.failArm = true
	r, _ := e.ctl.Create(ctx, inHour("Call mom"))
	e.notifier.failArm = false

	if _, err := e.ctl.Edit(ctx, r.ID, lifecycle.Patch{}); err != nil {
		t.Fatalf("Edit: %v", err)
	}
	if _, ok := e.sched.Handle(r.ID); !ok {
		t.Error("expected edit to arm a reminder that had no handle")
	}
}

func TestRollForwardDaily(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	r := e.create(t, lifecycle.Input{
		Task:            "Vitamins",
		TargetTimestamp: start.Add(time.Hour).UnixMilli(),
		Recurrence:      reminder.Recurrence{Type: reminder.RecurrenceDaily},
	})

	if _, ok, err := e.ctl.RollForward(ctx, r.ID); ok || err != nil {
		t.Fatalf("reminder that has not fired must not roll, got ok=%v err=%v", ok, err)
	}

	e.clock.Advance(time.Hour) // fires at T
	fired := start.Add(time.Hour)

	got, ok, err := e.ctl.RollForward(ctx, r.ID)
	if err != nil || !ok {
		t.Fatalf("RollForward: ok=%v err=%v", ok, err)
	}
	if got.TargetTimestamp != fired.Add(24*time.Hour).UnixMilli() || got.Status != reminder.StatusUpcoming {
		t.Errorf("unexpected reminder %+v", got)
	}
	live := e.notifier.liveFor(r.ID)
	if len(live) != 1 || !live[0].Equal(fired.Add(24*time.Hour)) {
		t.Errorf("expected exactly one notification at T+24h, got %v", live)
	}

	// A second event for the same firing is a no-op.
	if _, ok, _ := e.ctl.RollForward(ctx, r.ID); ok {
		t.Error("expected second roll-forward to be a no-op")
	}
	if _, ok, err := e.ctl.RollForward(ctx, "deleted"); ok || err != nil {
		t.Errorf("unknown reminder should be ignored, got ok=%v err=%v", ok, err)
	}
}

func TestListOrdering(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()

	late := e.create(t, lifecycle.Input{Task: "late", TargetTimestamp: start.Add(3 * time.Hour).UnixMilli()})
	early := e.create(t, lifecycle.Input{Task: "early", TargetTimestamp: start.Add(time.Hour).UnixMilli()})
	mid := e.create(t, lifecycle.Input{Task: "mid", TargetTimestamp: start.Add(2 * time.Hour).UnixMilli()})
	done := e.create(t, lifecycle.Input{Task: "done", TargetTimestamp: start.Add(4 * time.Hour).UnixMilli()})
	gone := e.create(t, lifecycle.Input{Task: "gone", TargetTimestamp: start.Add(5 * time.Hour).UnixMilli()})
	e.ctl.Complete(ctx, done.ID)
	e.ctl.Dismiss(ctx, gone.ID)

	upcoming, err := e.ctl.ListUpcoming(ctx)
	if err != nil {
		t.Fatalf("ListUpcoming: %v", err)
	}
	want := []string{early.ID, mid.ID, late.ID}
	if len(upcoming) != len(want) {
		t.Fatalf("expected %d upcoming, got %d", len(want), len(upcoming))
	}
	for i, id := range want {
		if upcoming[i].ID != id {
			t.Errorf("upcoming[%d] = %s, want %s", i, upcoming[i].ID, id)
		}
	}

	history, err := e.ctl.ListHistory(ctx)
	if err != nil {
		t.Fatalf("ListHistory: %v", err)
	}
	if len(history) != 2 || history[0].ID != gone.ID || history[1].ID != done.ID {
		t.Errorf("unexpected history %+v", history)
	}
}

func TestSingleHandleInvariantAcrossOperations(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()

	a := e.create(t, inHour("A"))
	b := e.create(t, lifecycle.Input{Task: "B", TargetTimestamp: start.Add(2 * time.Hour).UnixMilli(),
		Recurrence: reminder.Recurrence{Type: reminder.RecurrenceDaily}})
	e.notifier.assertSingleHandles(t)

	e.ctl.Snooze(ctx, a.ID, 5)
	e.notifier.assertSingleHandles(t)
	e.ctl.Snooze(ctx, a.ID, 10)
	e.notifier.assertSingleHandles(t)

	target := start.Add(90 * time.Minute).UnixMilli()
	e.ctl.Edit(ctx, b.ID, lifecycle.Patch{TargetTimestamp: &target})
	e.notifier.assertSingleHandles(t)

	e.clock.Advance(90 * time.Minute)
	e.ctl.RollForward(ctx, b.ID)
	e.notifier.assertSingleHandles(t)

	if err := e.ctl.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}
	e.notifier.assertSingleHandles(t)
	if len(e.notifier.liveFor(b.ID)) != 1 {
		t.Error("expected b to stay armed after rebuild")
	}
}
