package timer

import (
	"sync"
	"testing"
	"time"

	"postflow-bot/internal/domain"
)

type fakeClock struct {
	mu     sync.Mutex
	now    time.Time
	timers []*fakeTimer
}

func newFakeClock(start time.Time) *fakeClock { return &fakeClock{now: start} }

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) AfterFunc(d time.Duration, fn func()) domain.TimerHandle {
	c.mu.Lock()
	defer c.mu.Unlock()
	t := &fakeTimer{clock: c, fireAt: c.now.Add(d), fn: fn}
	c.timers = append(c.timers, t)
	return t
}

// Advance сдвигает часы и синхронно выполняет созревшие таймеры.
func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	var due []*fakeTimer
	for _, t := range c.timers {
		if !t.stopped && !t.fired && !t.fireAt.After(c.now) {
			t.fired = true
			due = append(due, t)
		}
	}
	c.mu.Unlock()
	for _, t := range due {
		t.fn()
	}
}

type fakeTimer struct {
	clock   *fakeClock
	fireAt  time.Time
	fn      func()
	stopped bool
	fired   bool
}

func (t *fakeTimer) Stop() bool {
	t.clock.mu.Lock()
	defer t.clock.mu.Unlock()
	if t.fired || t.stopped {
		return false
	}
	t.stopped = true
	return true
}

var start = time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

func TestScheduleOnceFiresNoEarlierThanInstant(t *testing.T) {
	clock := newFakeClock(start)
	reg := NewRegistry(clock)

	fired := 0
	reg.ScheduleOnce("job-1", start.Add(10*time.Minute), func() { fired++ })

	clock.Advance(10*time.Minute - time.Second)
	if fired != 0 {
		t.Fatalf("timer fired before its instant")
	}

	clock.Advance(time.Second)
	if fired != 1 {
		t.Fatalf("expected exactly one firing, got %d", fired)
	}
	if entries := reg.List(); len(entries) != 0 {
		t.Fatalf("entry must be discarded after firing, got %d", len(entries))
	}
}

func TestScheduleOnceFiresAtMostOnce(t *testing.T) {
	clock := newFakeClock(start)
	reg := NewRegistry(clock)

	fired := 0
	reg.ScheduleOnce("job-1", start.Add(time.Minute), func() { fired++ })

	clock.Advance(time.Minute)
	clock.Advance(time.Hour)
	if fired != 1 {
		t.Fatalf("expected exactly one firing, got %d", fired)
	}
}

func TestScheduleOnceReplacesSameJob(t *testing.T) {
	clock := newFakeClock(start)
	reg := NewRegistry(clock)

	fired := 0
	reg.ScheduleOnce("job-1", start.Add(5*time.Minute), func() { fired++ })
	reg.ScheduleOnce("job-1", start.Add(10*time.Minute), func() { fired++ })

	if entries := reg.List(); len(entries) != 1 {
		t.Fatalf("duplicate id must not create a second timer, got %d entries", len(entries))
	}

	clock.Advance(5 * time.Minute)
	if fired != 0 {
		t.Fatalf("replaced timer must not fire at the old instant")
	}

	clock.Advance(5 * time.Minute)
	if fired != 1 {
		t.Fatalf("expected exactly one firing, got %d", fired)
	}
}

func TestScheduleOnceOverdueFiresImmediately(t *testing.T) {
	clock := newFakeClock(start)
	reg := NewRegistry(clock)

	fired := 0
	reg.ScheduleOnce("job-1", start.Add(-time.Minute), func() { fired++ })

	clock.Advance(0)
	if fired != 1 {
		t.Fatalf("overdue timer must fire right away, got %d firings", fired)
	}
}

func TestCancelRemovesTimer(t *testing.T) {
	clock := newFakeClock(start)
	reg := NewRegistry(clock)

	fired := 0
	reg.ScheduleOnce("job-1", start.Add(5*time.Minute), func() { fired++ })

	if err := reg.Cancel("job-1"); err != nil {
		t.Fatalf("unexpected cancel error: %v", err)
	}
	clock.Advance(time.Hour)
	if fired != 0 {
		t.Fatalf("cancelled timer must not fire")
	}

	if err := reg.Cancel("job-1"); !domain.IsSchedulerLookup(err) {
		t.Fatalf("expected lookup error for removed id, got %v", err)
	}
	if err := reg.Cancel("missing"); !domain.IsSchedulerLookup(err) {
		t.Fatalf("expected lookup error for unknown id, got %v", err)
	}
}

func TestRescheduleMovesFireTime(t *testing.T) {
	clock := newFakeClock(start)
	reg := NewRegistry(clock)

	fired := 0
	reg.ScheduleOnce("job-1", start.Add(30*time.Minute), func() { fired++ })

	if err := reg.Reschedule("job-1", start.Add(5*time.Minute)); err != nil {
		t.Fatalf("unexpected reschedule error: %v", err)
	}
	entries := reg.List()
	if len(entries) != 1 || !entries[0].FireAt.Equal(start.Add(5*time.Minute)) {
		t.Fatalf("reschedule must move the registered instant, got %+v", entries)
	}

	clock.Advance(5 * time.Minute)
	if fired != 1 {
		t.Fatalf("expected firing at the new instant, got %d", fired)
	}
	clock.Advance(time.Hour)
	if fired != 1 {
		t.Fatalf("old instant must be forgotten, got %d firings", fired)
	}

	if err := reg.Reschedule("missing", start.Add(time.Minute)); !domain.IsSchedulerLookup(err) {
		t.Fatalf("expected lookup error for unknown id, got %v", err)
	}
}

func TestReschedulePostponesFiring(t *testing.T) {
	clock := newFakeClock(start)
	reg := NewRegistry(clock)

	fired := 0
	reg.ScheduleOnce("job-1", start.Add(time.Minute), func() { fired++ })
	if err := reg.Reschedule("job-1", start.Add(time.Hour)); err != nil {
		t.Fatalf("unexpected reschedule error: %v", err)
	}

	clock.Advance(time.Minute)
	if fired != 0 {
		t.Fatalf("timer fired at the superseded instant")
	}
	clock.Advance(59 * time.Minute)
	if fired != 1 {
		t.Fatalf("expected exactly one firing, got %d", fired)
	}
}

func TestListReturnsTimersOrderedByInstant(t *testing.T) {
	clock := newFakeClock(start)
	reg := NewRegistry(clock)

	reg.ScheduleOnce("job-c", start.Add(3*time.Hour), func() {})
	reg.ScheduleOnce("job-a", start.Add(time.Hour), func() {})
	reg.ScheduleOnce("job-b", start.Add(2*time.Hour), func() {})

	entries := reg.List()
	if len(entries) != 3 {
		t.Fatalf("expected 3 entries, got %d", len(entries))
	}
	for i, want := range []string{"job-a", "job-b", "job-c"} {
		if entries[i].JobID != want {
			t.Fatalf("entry %d out of order: %q", i, entries[i].JobID)
		}
	}
}

func TestStopDisarmsEverything(t *testing.T) {
	clock := newFakeClock(start)
	reg := NewRegistry(clock)

	fired := 0
	reg.ScheduleOnce("job-1", start.Add(time.Minute), func() { fired++ })
	reg.ScheduleOnce("job-2", start.Add(2*time.Minute), func() { fired++ })

	reg.Stop()
	clock.Advance(time.Hour)
	if fired != 0 {
		t.Fatalf("stopped registry must not fire timers")
	}

	reg.ScheduleOnce("job-3", start.Add(time.Minute), func() { fired++ })
	if entries := reg.List(); len(entries) != 0 {
		t.Fatalf("stopped registry must ignore new registrations")
	}
}
