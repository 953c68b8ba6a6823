package scheduler

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"skb/internal/logging"
)

func TestSchedulerRunsTasksImmediatelyAndPeriodically(t *testing.T) {
	var runs atomic.Int32

	s := New(20*time.Millisecond, logging.Discard())
	s.Register("refresh", func(ctx context.Context) error {
		runs.Add(1)
		return nil
	})

	s.Start()
	deadline := time.After(2 * time.Second)
	for runs.Load() < 3 {
		select {
		case <-deadline:
			t.Fatalf("only %d runs before deadline", runs.Load())
		case <-time.After(5 * time.Millisecond):
		}
	}

	if err := s.Stop(time.Second); err != nil {
		t.Fatalf("Stop() error: %v", err)
	}
}

func TestSchedulerContinuesPastTaskErrors(t *testing.T) {
	var failing, healthy atomic.Int32

	s := New(10*time.Millisecond, logging.Discard())
	s.Register("bad", func(ctx context.Context) error {
		failing.Add(1)
		return errors.New("refresh failed")
	})
	s.Register("good", func(ctx context.Context) error {
		healthy.Add(1)
		return nil
	})

	s.Start()
	deadline := time.After(2 * time.Second)
	for healthy.Load() < 2 {
		select {
		case <-deadline:
			t.Fatalf("healthy task ran %d times before deadline", healthy.Load())
		case <-time.After(5 * time.Millisecond):
		}
	}
	if err := s.Stop(time.Second); err != nil {
		t.Fatal(err)
	}

	if failing.Load() < 2 {
		t.Errorf("failing task ran %d times, want it retried each tick", failing.Load())
	}
}

func TestStopCancelsInFlightTask(t *testing.T) {
	started := make(chan struct{})

	s := New(10*time.Millisecond, logging.Discard())
	s.Register("slow", func(ctx context.Context) error {
		select {
		case started <- struct{}{}:
		default:
		}
		<-ctx.Done()
		return ctx.Err()
	})

	s.Start()
	select {
	case <-started:
	case <-time.After(2 * time.Second):
		t.Fatal("task never started")
	}

	if err := s.Stop(time.Second); err != nil {
		t.Fatalf("Stop() error: %v", err)
	}
}
