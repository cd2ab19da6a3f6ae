package scheduler

import (
	"context"
	"io"
	"log/slog"
	"sync/atomic"
	"testing"
	"time"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestJobRuns(t *testing.T) {
	s := New(testLogger())

	var runs atomic.Int64
	s.Add(Job{
		Name:     "tick",
		Interval: time.Second,
		Run: func(ctx context.Context) error {
			runs.Add(1)
			return nil
		},
	})

	s.Start()
	defer s.Stop()

	deadline := time.After(3 * time.Second)
	for runs.Load() == 0 {
		select {
		case <-deadline:
			t.Fatal("job never ran")
		case <-time.After(50 * time.Millisecond):
		}
	}
}

func TestSlowJobIsNotReentered(t *testing.T) {
	s := New(testLogger())

	var started atomic.Int64
	release := make(chan struct{})
	s.Add(Job{
		Name:     "slow",
		Interval: time.Second,
		Run: func(ctx context.Context) error {
			started.Add(1)
			<-release
			return nil
		},
	})

	s.Start()

	// Give the job time to start and two further ticks to fire while it holds
	time.Sleep(3500 * time.Millisecond)
	if got := started.Load(); got != 1 {
		close(release)
		s.Stop()
		t.Fatalf("expected a single overlapping run, got %d", got)
	}

	close(release)
	s.Stop()
}

func TestStopWaitsForRunningJob(t *testing.T) {
	s := New(testLogger())

	var finished atomic.Bool
	s.Add(Job{
		Name:     "draining",
		Interval: time.Second,
		Run: func(ctx context.Context) error {
			time.Sleep(300 * time.Millisecond)
			finished.Store(true)
			return nil
		},
	})

	s.Start()
	time.Sleep(1200 * time.Millisecond)
	s.Stop()

	if !finished.Load() {
		t.Fatal("Stop returned before the in-flight job finished")
	}
}
