package scheduler

import (
	"context"
	"sync"
	"testing"
	"time"
)

type recorder struct {
	mu    sync.Mutex
	fired []Task
}

func (r *recorder) handle(_ context.Context, task Task) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.fired = append(r.fired, task)
}

func (r *recorder) snapshot() []Task {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Task, len(r.fired))
	copy(out, r.fired)
	return out
}

func waitFor(t *testing.T, timeout time.Duration, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatalf("condition not met within %s", timeout)
}

func newStarted(t *testing.T) (*Scheduler, *recorder) {
	t.Helper()
	rec := &recorder{}
	s := New(Config{Workers: 2, Unit: time.Millisecond}, nil)
	s.Start(context.Background(), rec.handle)
	t.Cleanup(s.Stop)
	return s, rec
}

func TestScheduleFiresOnce(t *testing.T) {
	s, rec := newStarted(t)

	s.Schedule(11, 5, "plan elapsed")
	if _, ok := s.Pending(11); !ok {
		t.Fatalf("expected pending task")
	}

	waitFor(t, time.Second, func() bool { return len(rec.snapshot()) == 1 })
	time.Sleep(20 * time.Millisecond)

	fired := rec.snapshot()
	if len(fired) != 1 || fired[0].SessionID != 11 || fired[0].Reason != "plan elapsed" {
		t.Fatalf("unexpected fired tasks %+v", fired)
	}
	if _, ok := s.Pending(11); ok {
		t.Fatalf("fired task must leave the pending set")
	}
}

func TestCancelPreventsFiring(t *testing.T) {
	s, rec := newStarted(t)

	s.Schedule(5, 30, "package energy")
	if !s.Cancel(5) {
		t.Fatalf("expected cancel to find pending task")
	}
	if s.Cancel(5) {
		t.Fatalf("second cancel must report nothing pending")
	}

	time.Sleep(60 * time.Millisecond)
	if got := rec.snapshot(); len(got) != 0 {
		t.Fatalf("cancelled task fired: %+v", got)
	}
}

func TestRescheduleReplacesPendingTask(t *testing.T) {
	s, rec := newStarted(t)

	s.Schedule(8, 1000, "first")
	s.Schedule(8, 5, "second")

	waitFor(t, time.Second, func() bool { return len(rec.snapshot()) == 1 })
	time.Sleep(20 * time.Millisecond)

	fired := rec.snapshot()
	if len(fired) != 1 || fired[0].Reason != "second" {
		t.Fatalf("expected only replacement to fire, got %+v", fired)
	}
}

func TestHandlerPanicDoesNotStopWorkers(t *testing.T) {
	var mu sync.Mutex
	calls := 0
	s := New(Config{Workers: 1, Unit: time.Millisecond}, nil)
	s.Start(context.Background(), func(_ context.Context, task Task) {
		mu.Lock()
		calls++
		mu.Unlock()
		if task.SessionID == 1 {
			panic("boom")
		}
	})
	t.Cleanup(s.Stop)

	s.Schedule(1, 1, "panics")
	s.Schedule(2, 3, "survives")

	waitFor(t, time.Second, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return calls == 2
	})
}

func TestStopIsSafeWithPendingTasks(t *testing.T) {
	rec := &recorder{}
	s := New(Config{Unit: time.Millisecond}, nil)
	s.Start(context.Background(), rec.handle)
	s.Schedule(3, 50, "never")
	s.Stop()

	if s.Cancel(3) {
		t.Fatalf("stopped scheduler must not report pending tasks")
	}
	s.Schedule(4, 1, "ignored")
	time.Sleep(10 * time.Millisecond)
	if len(rec.snapshot()) != 0 {
		t.Fatalf("no task may fire after stop")
	}
}
