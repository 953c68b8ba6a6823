// Package scheduler runs the periodic background refresh: a ticker
// loop that re-vectorizes changed files so the index follows the
// working tree without manual runs.
package scheduler

import (
	"context"
	"fmt"
	"sync"
	"time"

	"skb/internal/logging"
)

// Task is one unit of background work, typically the pipeline run
type Task func(ctx context.Context) error

// Scheduler executes registered tasks on a fixed interval. Errors are
// logged and the loop continues; one bad iteration never stops the
// refresh.
type Scheduler struct {
	interval time.Duration
	logger   *logging.Logger

	mu    sync.Mutex
	tasks []namedTask

	ctx     context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	started bool
}

type namedTask struct {
	name string
	run  Task
}

// New creates a scheduler with the given tick interval
func New(interval time.Duration, logger *logging.Logger) *Scheduler {
	if interval <= 0 {
		interval = 30 * time.Minute
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Scheduler{
		interval: interval,
		logger:   logger.With("scheduler"),
		ctx:      ctx,
		cancel:   cancel,
	}
}

// Register adds a task to every tick. Must be called before Start.
func (s *Scheduler) Register(name string, task Task) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tasks = append(s.tasks, namedTask{name: name, run: task})
}

// Start begins the refresh loop. The first iteration runs immediately.
func (s *Scheduler) Start() {
	s.mu.Lock()
	if s.started {
		s.mu.Unlock()
		return
	}
	s.started = true
	s.mu.Unlock()

	s.logger.Info("starting background refresh", map[string]interface{}{
		"interval": s.interval.String(),
	})

	s.wg.Add(1)
	go s.run()
}

// Stop cancels the in-flight iteration and waits for the loop to exit
func (s *Scheduler) Stop(timeout time.Duration) error {
	s.cancel()

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		s.logger.Info("background refresh stopped", nil)
		return nil
	case <-time.After(timeout):
		return fmt.Errorf("scheduler shutdown timed out after %s", timeout)
	}
}

func (s *Scheduler) run() {
	defer s.wg.Done()

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	s.tick()
	for {
		select {
		case <-ticker.C:
			s.tick()
		case <-s.ctx.Done():
			return
		}
	}
}

// tick runs every registered task once, catching per-task errors
func (s *Scheduler) tick() {
	s.mu.Lock()
	tasks := make([]namedTask, len(s.tasks))
	copy(tasks, s.tasks)
	s.mu.Unlock()

	for _, t := range tasks {
		if s.ctx.Err() != nil {
			return
		}
		start := time.Now()
		if err := t.run(s.ctx); err != nil {
			s.logger.Error("background task failed", map[string]interface{}{
				"task":  t.name,
				"error": err.Error(),
			})
			continue
		}
		s.logger.Debug("background task completed", map[string]interface{}{
			"task":      t.name,
			"elapsedMs": time.Since(start).Milliseconds(),
		})
	}
}
