// Package scheduler runs named periodic tasks such as the effect sweep.
package scheduler

import (
	"context"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"
)

// TaskFn is the function signature for scheduled tasks. ctx is cancelled
// when the task is removed or the scheduler stops.
type TaskFn func(ctx context.Context)

// TaskStatus is a snapshot of one task's run history.
type TaskStatus struct {
	Name         string        `json:"name"`
	Interval     time.Duration `json:"interval"`
	Runs         int64         `json:"runs"`
	Panics       int64         `json:"panics"`
	LastRun      time.Time     `json:"last_run"`
	LastDuration time.Duration `json:"last_duration"`
}

// Scheduler manages periodic tasks. A run that is still in progress when
// its ticker fires again is not overlapped; the tick is dropped.
type Scheduler struct {
	mu      sync.Mutex
	tasks   map[string]*task
	logger  *zap.Logger
	ctx     context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	stopped bool
}

type task struct {
	cancel context.CancelFunc

	mu     sync.Mutex
	status TaskStatus
}

// New creates a new Scheduler.
func New(logger *zap.Logger) *Scheduler {
	ctx, cancel := context.WithCancel(context.Background())
	return &Scheduler{
		tasks:  make(map[string]*task),
		logger: logger,
		ctx:    ctx,
		cancel: cancel,
	}
}

// AddTicker registers fn to run every interval. A task with the same name
// is replaced.
func (s *Scheduler) AddTicker(name string, interval time.Duration, fn TaskFn) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stopped {
		return
	}
	if old, ok := s.tasks[name]; ok {
		old.cancel()
	}

	ctx, cancel := context.WithCancel(s.ctx)
	t := &task{cancel: cancel, status: TaskStatus{Name: name, Interval: interval}}
	s.tasks[name] = t

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				s.run(ctx, t, fn)
			case <-ctx.Done():
				return
			}
		}
	}()
	s.logger.Info("scheduler task registered", zap.String("name", name), zap.Duration("interval", interval))
}

func (s *Scheduler) run(ctx context.Context, t *task, fn TaskFn) {
	start := time.Now()
	defer func() {
		r := recover()
		t.mu.Lock()
		t.status.Runs++
		t.status.LastRun = start
		t.status.LastDuration = time.Since(start)
		if r != nil {
			t.status.Panics++
		}
		t.mu.Unlock()
		if r != nil {
			s.logger.Error("scheduler task panicked",
				zap.String("task", t.status.Name),
				zap.Any("recover", r))
		}
	}()
	fn(ctx)
}

// Remove stops and removes a task by name.
func (s *Scheduler) Remove(name string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if t, ok := s.tasks[name]; ok {
		t.cancel()
		delete(s.tasks, name)
	}
}

// Stop cancels every task and waits for in-flight runs to return.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	s.stopped = true
	s.tasks = make(map[string]*task)
	s.mu.Unlock()
	s.cancel()
	s.wg.Wait()
}

// ListTickers returns the sorted names of all registered tasks.
func (s *Scheduler) ListTickers() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	names := make([]string, 0, len(s.tasks))
	for name := range s.tasks {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Status returns the run history of every registered task, sorted by name.
func (s *Scheduler) Status() []TaskStatus {
	s.mu.Lock()
	tasks := make([]*task, 0, len(s.tasks))
	for _, t := range s.tasks {
		tasks = append(tasks, t)
	}
	s.mu.Unlock()

	out := make([]TaskStatus, 0, len(tasks))
	for _, t := range tasks {
		t.mu.Lock()
		out = append(out, t.status)
		t.mu.Unlock()
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}
