package taskqueue

import (
	"container/list"
	"context"
	"log"
	"sync"

	"github.com/weftdb/weft/internal/werrors"
)

// pool is one named worker pool: an unbounded FIFO (spec.md §4.3 "the task
// queue is unbounded") drained by poolSize concurrent workers running fn.
type pool struct {
	q    *Queue
	name string
	fn   WorkerFunc

	mu    sync.Mutex
	cond  *sync.Cond
	items *list.List
	closed bool
}

func newPool(ctx context.Context, q *Queue, name string, fn WorkerFunc) *pool {
	p := &pool{q: q, name: name, fn: fn, items: list.New()}
	p.cond = sync.NewCond(&p.mu)
	go func() {
		<-ctx.Done()
		p.mu.Lock()
		p.closed = true
		p.mu.Unlock()
		p.cond.Broadcast()
	}()
	return p
}

func (p *pool) push(task Task) {
	p.mu.Lock()
	p.items.PushBack(task)
	p.mu.Unlock()
	p.cond.Signal()
}

// run drains the FIFO until ctx is canceled, invoking fn for each task and
// re-queuing any tasks it returns (spec.md §4.3 "successful workers may
// return subsequent tasks that are re-queued").
func (p *pool) run(ctx context.Context) {
	for {
		task, ok := p.pop()
		if !ok {
			return
		}
		p.process(ctx, task)
	}
}

func (p *pool) pop() (Task, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	for p.items.Len() == 0 && !p.closed {
		p.cond.Wait()
	}
	if p.items.Len() == 0 {
		return Task{}, false
	}
	front := p.items.Front()
	p.items.Remove(front)
	return front.Value.(Task), true
}

func (p *pool) process(ctx context.Context, task Task) {
	defer p.q.complete(task)

	next, err := p.fn(ctx, task.Input)
	if err != nil {
		if werrors.IsCritical(err) {
			p.q.fail(err)
		} else {
			log.Printf("taskqueue: worker %q failed on %s: %v", p.name, task.Input.Key(), err)
		}
		return
	}
	for _, t := range next {
		if err := p.q.Enqueue(t); err != nil {
			log.Printf("taskqueue: re-queue from %q failed: %v", p.name, err)
		}
	}
}
