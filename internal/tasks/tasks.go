// Package tasks tracks background operations started from the web surface so
// their outcome can be polled by ID.
package tasks

import (
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

type Status string

const (
	StatusRunning   Status = "running"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
)

var errPanic = errors.New("task panicked")

const (
	DefaultTTL        = 24 * time.Hour
	DefaultMaxEntries = 256
)

type Task struct {
	ID       string     `json:"id"`
	Kind     string     `json:"kind"`
	Status   Status     `json:"status"`
	Message  string     `json:"message"`
	Started  time.Time  `json:"started"`
	Finished *time.Time `json:"finished,omitempty"`
}

type Options struct {
	// TTL is how long a finished task stays queryable.
	TTL time.Duration
	// MaxEntries caps the number of finished tasks kept.
	MaxEntries int
	Now        func() time.Time
	Logger     *zap.Logger
}

// Tracker is a concurrency-safe in-memory task table. Finished tasks expire
// after the TTL and the oldest are dropped once MaxEntries is exceeded;
// running tasks are never evicted.
type Tracker struct {
	mu     sync.Mutex
	tasks  map[string]*Task
	opts   Options
	logger *zap.Logger
	wg     sync.WaitGroup
}

func NewTracker(opts Options) *Tracker {
	if opts.TTL <= 0 {
		opts.TTL = DefaultTTL
	}
	if opts.MaxEntries <= 0 {
		opts.MaxEntries = DefaultMaxEntries
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Tracker{
		tasks:  make(map[string]*Task),
		opts:   opts,
		logger: logger.Named("tasks"),
	}
}

// Start registers a running task and returns its ID.
func (t *Tracker) Start(kind, message string) string {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.evictLocked()
	id := uuid.NewString()
	t.tasks[id] = &Task{
		ID:      id,
		Kind:    kind,
		Status:  StatusRunning,
		Message: message,
		Started: t.opts.Now(),
	}
	return id
}

// Finish marks the task completed, or failed when err is non-nil.
func (t *Tracker) Finish(id, message string, err error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	task, ok := t.tasks[id]
	if !ok {
		return
	}
	finished := t.opts.Now()
	task.Finished = &finished
	task.Message = message
	task.Status = StatusCompleted
	if err != nil {
		task.Status = StatusFailed
	}
}

// Get returns a copy of the task.
func (t *Tracker) Get(id string) (Task, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.evictLocked()
	task, ok := t.tasks[id]
	if !ok {
		return Task{}, false
	}
	return *task, true
}

// Go starts fn in the background under a new task. fn returns the message
// shown on success; its error text becomes the failure message.
func (t *Tracker) Go(kind, startMessage string, fn func() (string, error)) string {
	id := t.Start(kind, startMessage)

	t.wg.Add(1)
	go func() {
		defer t.wg.Done()
		defer func() {
			if r := recover(); r != nil {
				t.logger.Error("task panicked", zap.String("id", id), zap.Any("panic", r))
				t.Finish(id, "internal error", errPanic)
			}
		}()

		msg, err := fn()
		if err != nil {
			t.logger.Warn("task failed", zap.String("id", id), zap.String("kind", kind), zap.Error(err))
			msg = err.Error()
		}
		t.Finish(id, msg, err)
	}()
	return id
}

// Wait blocks until every task started with Go has returned.
func (t *Tracker) Wait() {
	t.wg.Wait()
}

func (t *Tracker) evictLocked() {
	cutoff := t.opts.Now().Add(-t.opts.TTL)

	var finished []*Task
	for id, task := range t.tasks {
		if task.Finished == nil {
			continue
		}
		if task.Finished.Before(cutoff) {
			delete(t.tasks, id)
			continue
		}
		finished = append(finished, task)
	}

	if excess := len(finished) - t.opts.MaxEntries; excess > 0 {
		sort.Slice(finished, func(i, j int) bool {
			return finished[i].Finished.Before(*finished[j].Finished)
		})
		for _, task := range finished[:excess] {
			delete(t.tasks, task.ID)
		}
	}
}
