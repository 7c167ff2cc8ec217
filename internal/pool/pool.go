// Package pool runs blocking work off the connection read path.
//
// A Pool owns a fixed number of worker goroutines fed from a bounded queue.
// Submit blocks while the queue is full so a burst from one connection slows
// that connection down instead of growing memory without bound.
package pool

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime"
	"sync"

	"github.com/mattjoyce/tasklog/internal/log"
)

// ErrClosed is returned by Submit after Close.
var ErrClosed = errors.New("pool is closed")

// DefaultSize is 2x available parallelism + 1; the workload is I/O bound.
func DefaultSize() int {
	return 2*runtime.GOMAXPROCS(0) + 1
}

// Pool is a fixed-size worker pool.
type Pool struct {
	tasks  chan func()
	done   chan struct{}
	wg     sync.WaitGroup
	once   sync.Once
	mu     sync.RWMutex
	closed bool
	size   int
	logger *slog.Logger
}

// New starts size workers reading from a queue of the given capacity.
// Non-positive size uses DefaultSize; negative queue is treated as zero.
func New(size, queue int) *Pool {
	if size <= 0 {
		size = DefaultSize()
	}
	if queue < 0 {
		queue = 0
	}

	p := &Pool{
		tasks:  make(chan func(), queue),
		done:   make(chan struct{}),
		size:   size,
		logger: log.WithComponent("pool"),
	}

	p.wg.Add(size)
	for i := 0; i < size; i++ {
		go p.worker(i)
	}
	p.logger.Debug("worker pool started", "size", size, "queue", queue)
	return p
}

// Size returns the number of workers.
func (p *Pool) Size() int { return p.size }

// Submit queues task for execution. It blocks while the queue is full and
// returns ctx.Err() if ctx ends first.
func (p *Pool) Submit(ctx context.Context, task func()) error {
	if task == nil {
		return fmt.Errorf("task is nil")
	}

	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.closed {
		return ErrClosed
	}

	select {
	case p.tasks <- task:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-p.done:
		return ErrClosed
	}
}

// Close stops accepting work and waits for queued tasks to finish.
func (p *Pool) Close() {
	p.once.Do(func() {
		// Unblock submitters waiting on a full queue before taking the write lock.
		close(p.done)
		p.mu.Lock()
		p.closed = true
		close(p.tasks)
		p.mu.Unlock()
	})
	p.wg.Wait()
}

func (p *Pool) worker(id int) {
	defer p.wg.Done()
	for task := range p.tasks {
		p.run(id, task)
	}
}

func (p *Pool) run(id int, task func()) {
	defer func() {
		if r := recover(); r != nil {
			p.logger.Error("task panicked", "worker", id, "panic", r)
		}
	}()
	task()
}
