package jobs

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/cenkalti/backoff/v4"
	"go.uber.org/goleak"
)

func day(d int) time.Time {
	return time.Date(2026, 1, d, 0, 0, 0, 0, time.UTC)
}

func TestDeduper_SuppressesWithinTTL(t *testing.T) {
	d := NewDeduper(time.Minute)

	if d.Seen("asg-1", day(10)) {
		t.Error("first sighting reported as seen")
	}
	if !d.Seen("asg-1", day(10)) {
		t.Error("repeat sighting not suppressed")
	}
	if d.Seen("asg-1", day(11)) {
		t.Error("different date suppressed")
	}
	if d.Seen("asg-2", day(10)) {
		t.Error("different assignment suppressed")
	}
}

func TestDeduper_ExpiresAfterTTL(t *testing.T) {
	d := NewDeduper(10 * time.Millisecond)

	if d.Seen("asg-1", day(10)) {
		t.Fatal("first sighting reported as seen")
	}
	time.Sleep(30 * time.Millisecond)
	if d.Seen("asg-1", day(10)) {
		t.Error("marker survived past its TTL")
	}
}

func TestQueue_ExecutesAndStops(t *testing.T) {
	var ran atomic.Int32
	q := NewQueue(Config{Workers: 2, QueueSize: 16, RetryInterval: time.Millisecond},
		func(j Job) error {
			ran.Add(1)
			return nil
		})
	// The dedup cache sweeps markers on a process-lifetime goroutine;
	// snapshot here so only the worker pool is checked for leaks.
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())

	q.Start(context.Background())
	for i := 1; i <= 5; i++ {
		if id := q.Enqueue(Job{AssignmentID: "asg-1", TriggerKind: "growth_sample", TriggerDate: day(i)}); id == "" {
			t.Errorf("enqueue %d returned empty ID", i)
		}
	}
	q.Stop()

	if got := ran.Load(); got != 5 {
		t.Errorf("executed = %d, want 5", got)
	}

	// Intake is closed: further enqueues are rejected, not panics.
	if id := q.Enqueue(Job{AssignmentID: "asg-1", TriggerDate: day(20)}); id != "" {
		t.Errorf("enqueue after stop = %q, want empty", id)
	}
}

func TestQueue_DedupCollapsesSameDay(t *testing.T) {
	var ran atomic.Int32
	q := NewQueue(Config{Workers: 1, QueueSize: 16, DedupTTL: time.Minute, RetryInterval: time.Millisecond},
		func(j Job) error {
			ran.Add(1)
			return nil
		})
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())

	first := q.Enqueue(Job{AssignmentID: "asg-1", TriggerKind: "growth_sample", TriggerDate: day(10)})
	if first == "" {
		t.Fatal("first enqueue suppressed")
	}
	if second := q.Enqueue(Job{AssignmentID: "asg-1", TriggerKind: "transfer", TriggerDate: day(10)}); second != "" {
		t.Errorf("duplicate enqueue = %q, want empty", second)
	}

	q.Start(context.Background())
	q.Stop()
	if got := ran.Load(); got != 1 {
		t.Errorf("executed = %d, want 1 after dedup", got)
	}
}

func TestQueue_DropsOnOverflow(t *testing.T) {
	q := NewQueue(Config{Workers: 1, QueueSize: 1, RetryInterval: time.Millisecond},
		func(j Job) error { return nil })

	// Workers not started: the single buffer slot fills and the next
	// job must be dropped without blocking.
	if id := q.Enqueue(Job{AssignmentID: "asg-1", TriggerDate: day(1)}); id == "" {
		t.Fatal("first enqueue should fit the buffer")
	}
	done := make(chan string, 1)
	go func() {
		done <- q.Enqueue(Job{AssignmentID: "asg-1", TriggerDate: day(2)})
	}()
	select {
	case id := <-done:
		if id != "" {
			t.Errorf("overflow enqueue = %q, want empty", id)
		}
	case <-time.After(time.Second):
		t.Fatal("enqueue blocked on a full queue")
	}
}

func TestQueue_RetriesTransientFailures(t *testing.T) {
	var attempts atomic.Int32
	q := NewQueue(Config{Workers: 1, QueueSize: 4, RetryInterval: time.Millisecond},
		func(j Job) error {
			if attempts.Add(1) < 3 {
				return errors.New("transient")
			}
			return nil
		})
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())

	q.Start(context.Background())
	q.Enqueue(Job{AssignmentID: "asg-1", TriggerKind: "mortality", TriggerDate: day(5)})
	q.Stop()

	if got := attempts.Load(); got != 3 {
		t.Errorf("attempts = %d, want 3", got)
	}
}

func TestQueue_PermanentFailureDoesNotRetry(t *testing.T) {
	var attempts atomic.Int32
	q := NewQueue(Config{Workers: 1, QueueSize: 4, RetryInterval: time.Millisecond},
		func(j Job) error {
			attempts.Add(1)
			return backoff.Permanent(errors.New("no scenario pinned"))
		})
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())

	q.Start(context.Background())
	q.Enqueue(Job{AssignmentID: "asg-1", TriggerKind: "growth_sample", TriggerDate: day(6)})
	q.Stop()

	if got := attempts.Load(); got != 1 {
		t.Errorf("attempts = %d, want 1 for a permanent failure", got)
	}
}

func TestQueue_GivesUpAfterMaxRetries(t *testing.T) {
	var attempts atomic.Int32
	q := NewQueue(Config{Workers: 1, QueueSize: 4, RetryInterval: time.Millisecond},
		func(j Job) error {
			attempts.Add(1)
			return errors.New("still broken")
		})
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())

	q.Start(context.Background())
	q.Enqueue(Job{AssignmentID: "asg-1", TriggerKind: "transfer", TriggerDate: day(7)})
	q.Stop()

	if got := attempts.Load(); got != maxRetries+1 {
		t.Errorf("attempts = %d, want %d", got, maxRetries+1)
	}
}
