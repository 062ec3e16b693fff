// Package worker provides a fixed-size goroutine pool with direct-handoff
// admission: a task either starts on an idle worker or is rejected. Tasks
// are never queued behind busy workers.
package worker

import (
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"golang.org/x/sync/semaphore"
)

var (
	// ErrRejected is returned by TrySubmit when every worker is busy.
	ErrRejected = errors.New("worker pool saturated")
	// ErrClosed is returned by TrySubmit after Shutdown.
	ErrClosed = errors.New("worker pool shut down")
)

// Task is a unit of work run by a pool worker.
type Task func()

type job struct {
	task Task
	done func()
}

// Pool runs tasks on exactly size long-lived goroutines.
//
// A semaphore with one permit per worker guards admission. A permit is held
// from TrySubmit until the task returns, so the hand-off channel never holds
// more jobs than there are workers free to take them.
type Pool struct {
	size int
	sem  *semaphore.Weighted
	jobs chan job
	wg   sync.WaitGroup

	mu     sync.RWMutex
	closed bool

	// Statistics
	active    atomic.Int64
	submitted atomic.Uint64
	rejected  atomic.Uint64
	panics    atomic.Uint64
}

// Stats reports pool activity.
type Stats struct {
	Size      int    `json:"size"`
	Active    int    `json:"active"`
	Idle      int    `json:"idle"`
	Submitted uint64 `json:"submitted"`
	Rejected  uint64 `json:"rejected"`
	Panics    uint64 `json:"panics"`
	Closed    bool   `json:"closed"`
}

// NewPool starts a pool of size workers.
func NewPool(size int) (*Pool, error) {
	if size < 1 {
		return nil, fmt.Errorf("worker pool size must be at least 1, got %d", size)
	}

	p := &Pool{
		size: size,
		sem:  semaphore.NewWeighted(int64(size)),
		jobs: make(chan job, size),
	}

	p.wg.Add(size)
	for i := 0; i < size; i++ {
		go p.worker()
	}

	return p, nil
}

// TrySubmit hands task to an idle worker without blocking.
func (p *Pool) TrySubmit(task Task) error {
	return p.TrySubmitWithDone(task, nil)
}

// TrySubmitWithDone is TrySubmit with a completion hook. done runs on the
// worker after task returns (or panics) and after the worker counts as idle
// again, so a caller woken from done can submit its next task without being
// rejected by the worker that served it.
func (p *Pool) TrySubmitWithDone(task Task, done func()) error {
	if task == nil {
		return errors.New("nil task")
	}

	p.mu.RLock()
	defer p.mu.RUnlock()

	if p.closed {
		return ErrClosed
	}
	if !p.sem.TryAcquire(1) {
		p.rejected.Add(1)
		return ErrRejected
	}

	p.submitted.Add(1)
	p.jobs <- job{task: task, done: done}
	return nil
}

// Shutdown stops admission. Tasks already handed off run to completion;
// Shutdown does not wait for them.
func (p *Pool) Shutdown() {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		return
	}
	p.closed = true
	close(p.jobs)
}

// wait blocks until every worker has exited. It only returns after Shutdown.
func (p *Pool) wait() {
	p.wg.Wait()
}

// Size returns the number of workers.
func (p *Pool) Size() int {
	return p.size
}

// Stats returns a snapshot of pool activity.
func (p *Pool) Stats() Stats {
	p.mu.RLock()
	closed := p.closed
	p.mu.RUnlock()

	active := int(p.active.Load())
	return Stats{
		Size:      p.size,
		Active:    active,
		Idle:      p.size - active,
		Submitted: p.submitted.Load(),
		Rejected:  p.rejected.Load(),
		Panics:    p.panics.Load(),
		Closed:    closed,
	}
}

func (p *Pool) worker() {
	defer p.wg.Done()

	for j := range p.jobs {
		p.run(j.task)
		if j.done != nil {
			j.done()
		}
	}
}

func (p *Pool) run(task Task) {
	p.active.Add(1)
	defer func() {
		if r := recover(); r != nil {
			p.panics.Add(1)
		}
		p.sem.Release(1)
		p.active.Add(-1)
	}()

	task()
}
