// Package taskqueue is a generic, named-worker-pool FIFO task queue with
// input deduplication, broadcast task-status notifications, and a
// process-wide critical-error signal (spec.md §4.3). Grounded on the
// teacher's eventbus.Bus (internal/eventbus/bus.go) for the
// mutex-guarded-subscriber-list broadcast idiom, and on
// golang.org/x/sync/errgroup for the cooperative multi-goroutine worker
// lifecycle the teacher's go.mod carries but its own code leaves unused.
package taskqueue

import (
	"context"
	"fmt"
	"log"
	"sync"

	"golang.org/x/sync/errgroup"
)

// Input is a dedup-comparable, named task payload. Key must be stable and
// unique for equal logical inputs (spec.md §4.3 "dedups by (name, input)
// equality").
type Input interface {
	Key() string
}

// Task is one unit of work: a named worker pool plus its input.
type Task struct {
	Name  string
	Input Input
}

func (t Task) dedupKey() string { return t.Name + "\x00" + t.Input.Key() }

// WorkerFunc processes one task input. A non-nil returned slice of tasks is
// re-queued. Errors wrapping a *werrors.Error with Critical set fire the
// queue's process-wide error signal; any other error is logged and the
// task is dropped (spec.md §4.3 Critical vs Failure).
type WorkerFunc func(ctx context.Context, input Input) ([]Task, error)

// StatusKind tags a TaskStatus broadcast event.
type StatusKind int

const (
	StatusPending StatusKind = iota
	StatusCompleted
)

// TaskStatus is broadcast to subscribers: Pending fires on the first
// occurrence of an input, Completed when the last in-flight duplicate
// finishes (spec.md §4.3).
type TaskStatus struct {
	Kind StatusKind
	Task Task
}

// Queue is a generic named-worker-pool FIFO with dedup and broadcast.
type Queue struct {
	mu    sync.Mutex
	pools map[string]*pool
	dedup map[string]int

	subMu      sync.Mutex
	subs       []chan TaskStatus
	subCap     int

	errOnce sync.Once
	errCh   chan error

	group  *errgroup.Group
	ctx    context.Context
	cancel context.CancelFunc
}

// New creates a queue whose broadcast subscriber channels are buffered to
// subscriberCapacity; a subscriber too slow to drain its channel trips the
// queue's critical error signal (spec.md §4.3 "Broadcast backpressure").
func New(subscriberCapacity int) *Queue {
	ctx, cancel := context.WithCancel(context.Background())
	group, gctx := errgroup.WithContext(ctx)
	return &Queue{
		pools:  make(map[string]*pool),
		dedup:  make(map[string]int),
		subCap: subscriberCapacity,
		errCh:  make(chan error, 1),
		group:  group,
		ctx:    gctx,
		cancel: cancel,
	}
}

// Register installs a named worker pool of poolSize concurrent workers.
// Must be called before the queue starts receiving tasks for that name.
func (q *Queue) Register(name string, poolSize int, fn WorkerFunc) {
	q.mu.Lock()
	defer q.mu.Unlock()
	p := newPool(q.ctx, q, name, fn)
	q.pools[name] = p
	for i := 0; i < poolSize; i++ {
		q.group.Go(func() error {
			p.run(q.ctx)
			return nil
		})
	}
}

// Subscribe returns a channel of task-status broadcasts. Callers must keep
// draining it; a full channel signals a critical lag error.
func (q *Queue) Subscribe() <-chan TaskStatus {
	ch := make(chan TaskStatus, q.subCap)
	q.subMu.Lock()
	q.subs = append(q.subs, ch)
	q.subMu.Unlock()
	return ch
}

// Errors returns the one-shot process-wide critical error signal.
func (q *Queue) Errors() <-chan error { return q.errCh }

func (q *Queue) broadcast(status TaskStatus) {
	q.subMu.Lock()
	defer q.subMu.Unlock()
	for _, ch := range q.subs {
		select {
		case ch <- status:
		default:
			q.fail(fmt.Errorf("taskqueue: subscriber broadcast channel is full"))
		}
	}
}

// fail raises the one-shot critical error signal. Only the first failure is
// delivered; subsequent ones are logged.
func (q *Queue) fail(err error) {
	delivered := false
	q.errOnce.Do(func() {
		select {
		case q.errCh <- err:
			delivered = true
		default:
		}
	})
	if !delivered {
		log.Printf("taskqueue: critical error after signal already raised: %v", err)
	}
}

// Enqueue submits a task. Duplicate (name, input) pairs increment a
// reference count, so Pending and Completed are broadcast once per batch of
// duplicates; each increment still enqueues a work item for its pool and
// runs, matching spec.md §4.3
// ("duplicates increment a counter but still enqueue work items").
func (q *Queue) Enqueue(task Task) error {
	q.mu.Lock()
	p, ok := q.pools[task.Name]
	if !ok {
		q.mu.Unlock()
		return fmt.Errorf("taskqueue: no worker pool registered for %q", task.Name)
	}
	key := task.dedupKey()
	first := q.dedup[key] == 0
	q.dedup[key]++
	q.mu.Unlock()

	if first {
		q.broadcast(TaskStatus{Kind: StatusPending, Task: task})
	}
	p.push(task)
	return nil
}

// complete decrements the dedup refcount for task, broadcasting Completed
// when it reaches zero.
func (q *Queue) complete(task Task) {
	key := task.dedupKey()
	q.mu.Lock()
	q.dedup[key]--
	done := q.dedup[key] <= 0
	if done {
		delete(q.dedup, key)
	}
	q.mu.Unlock()

	if done {
		q.broadcast(TaskStatus{Kind: StatusCompleted, Task: task})
	}
}

// Shutdown cancels all worker goroutines and waits for them to return.
func (q *Queue) Shutdown() {
	q.cancel()
	_ = q.group.Wait()
}
