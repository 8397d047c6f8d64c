// Package engine provides the bounded worker pool and the supervised
// asynchronous call wrapper that every remote RPC call goes through.
package engine

import (
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
)

// RejectPolicy decides what Submit does once the pool is saturated.
type RejectPolicy int

const (
	// PolicyFailFast rejects the task with ErrPoolCapacityExceeded.
	PolicyFailFast RejectPolicy = iota
	// PolicyBlock makes the submitter wait for a free slot.
	PolicyBlock
)

func (p RejectPolicy) String() string {
	if p == PolicyBlock {
		return "block"
	}
	return "fail-fast"
}

// ParseRejectPolicy maps a configuration string to a RejectPolicy.
func ParseRejectPolicy(s string) (RejectPolicy, error) {
	switch s {
	case "", "fail-fast", "failfast":
		return PolicyFailFast, nil
	case "block":
		return PolicyBlock, nil
	default:
		return PolicyFailFast, fmt.Errorf("unknown reject policy %q", s)
	}
}

// Task is a unit of work executed by the pool.
type Task struct {
	ID        string
	Name      string
	Run       func() error
	CreatedAt time.Time
}

// NewTask creates a new task with default values.
func NewTask(name string, run func() error) *Task {
	return &Task{
		ID:        uuid.NewString(),
		Name:      name,
		Run:       run,
		CreatedAt: time.Now(),
	}
}

// PoolConfig holds the sizing of a Pool.
type PoolConfig struct {
	// Name labels the pool in logs and metrics
	Name string

	// CoreWorkers are started up front and never exit before shutdown
	CoreWorkers int

	// MaxWorkers is the hard ceiling on concurrently running tasks
	MaxWorkers int

	// QueueCapacity is the number of tasks that may wait when all workers are busy
	QueueCapacity int

	// KeepAlive is how long a worker above CoreWorkers may stay idle
	KeepAlive time.Duration

	// Policy applies when MaxWorkers and QueueCapacity are both exhausted
	Policy RejectPolicy
}

// DefaultPoolConfig returns the sizing used for the RPC pool.
func DefaultPoolConfig() PoolConfig {
	return PoolConfig{
		Name:          "rpc-pool",
		CoreWorkers:   5,
		MaxWorkers:    10,
		QueueCapacity: 25,
		KeepAlive:     60 * time.Second,
		Policy:        PolicyFailFast,
	}
}

// Validate checks the sizing for consistency.
func (c PoolConfig) Validate() error {
	if c.CoreWorkers < 1 {
		return errors.New("core workers must be at least 1")
	}
	if c.MaxWorkers < c.CoreWorkers {
		return fmt.Errorf("max workers (%d) must not be below core workers (%d)", c.MaxWorkers, c.CoreWorkers)
	}
	if c.QueueCapacity < 0 {
		return errors.New("queue capacity must not be negative")
	}
	return nil
}

// PoolStats contains worker pool statistics.
type PoolStats struct {
	Name      string `json:"name"`
	Workers   int    `json:"workers"`
	Idle      int    `json:"idle"`
	Active    int    `json:"active"`
	Pending   int    `json:"pending"`
	Capacity  int    `json:"capacity"`
	Completed int64  `json:"completed"`
	Failed    int64  `json:"failed"`
	Rejected  int64  `json:"rejected"`
}

// Pool runs tasks on a bounded set of goroutines.
//
// At most MaxWorkers+QueueCapacity tasks are admitted at any time. Workers
// above CoreWorkers are started only once the queue is saturated.
type Pool struct {
	cfg   PoolConfig
	queue chan *Task
	wg    sync.WaitGroup

	mu        sync.Mutex
	slotFreed *sync.Cond
	running   bool
	workers   int
	idle      int
	pending   int
	busy      int
	nextID    int

	// Atomic counters for thread-safe statistics
	completed int64
	failed    int64
	rejected  int64
}

// NewPool creates a pool and starts its core workers.
func NewPool(cfg PoolConfig) (*Pool, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if cfg.KeepAlive <= 0 {
		cfg.KeepAlive = DefaultPoolConfig().KeepAlive
	}

	p := &Pool{
		cfg:     cfg,
		queue:   make(chan *Task, cfg.MaxWorkers+cfg.QueueCapacity),
		running: true,
	}
	p.slotFreed = sync.NewCond(&p.mu)

	p.mu.Lock()
	for i := 0; i < cfg.CoreWorkers; i++ {
		p.spawn(true)
	}
	p.mu.Unlock()

	return p, nil
}

// Name returns the pool label.
func (p *Pool) Name() string { return p.cfg.Name }

func (p *Pool) capacity() int { return p.cfg.MaxWorkers + p.cfg.QueueCapacity }

// spawn starts a worker. Caller holds p.mu.
func (p *Pool) spawn(core bool) {
	p.workers++
	p.nextID++
	p.wg.Add(1)
	go p.worker(p.nextID, core)
}

// worker is the goroutine that processes tasks.
func (p *Pool) worker(id int, core bool) {
	defer p.wg.Done()

	for {
		p.mu.Lock()
		p.idle++
		p.mu.Unlock()

		task, ok, expired := p.next(core)

		p.mu.Lock()
		p.idle--
		if expired || !ok {
			p.workers--
			p.mu.Unlock()
			return
		}
		p.pending--
		p.busy++
		p.mu.Unlock()

		p.execute(task)

		p.mu.Lock()
		p.busy--
		p.slotFreed.Signal()
		p.mu.Unlock()
	}
}

// next waits for a task. Non-core workers give up after the keep-alive.
func (p *Pool) next(core bool) (task *Task, ok bool, expired bool) {
	if core {
		task, ok = <-p.queue
		return task, ok, false
	}

	timer := time.NewTimer(p.cfg.KeepAlive)
	defer timer.Stop()

	select {
	case task, ok = <-p.queue:
		return task, ok, false
	case <-timer.C:
		return nil, false, true
	}
}

// execute runs a single task, recovering panics so one task cannot take the pool down.
func (p *Pool) execute(task *Task) {
	var err error
	defer func() {
		if r := recover(); r != nil {
			err = errors.New("panic in task processing: " + panicToString(r))
		}
		if err != nil {
			atomic.AddInt64(&p.failed, 1)
		} else {
			atomic.AddInt64(&p.completed, 1)
		}
	}()

	err = task.Run()
}

// panicToString converts a recovered panic value to a string.
func panicToString(r interface{}) string {
	switch v := r.(type) {
	case string:
		return v
	case error:
		return v.Error()
	default:
		return fmt.Sprintf("%v", v)
	}
}

// Submit admits a task for execution.
//
// Under PolicyFailFast it never blocks and returns ErrPoolCapacityExceeded when
// MaxWorkers+QueueCapacity tasks are already admitted. Under PolicyBlock it waits
// for a slot. After Shutdown it returns ErrPoolClosed.
func (p *Pool) Submit(task *Task) error {
	if task == nil || task.Run == nil {
		return errors.New("task has no run function")
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	for {
		if !p.running {
			return ErrPoolClosed
		}
		if p.pending+p.busy < p.capacity() {
			break
		}
		if p.cfg.Policy != PolicyBlock {
			atomic.AddInt64(&p.rejected, 1)
			return ErrPoolCapacityExceeded
		}
		p.slotFreed.Wait()
	}

	p.pending++
	if p.pending-p.idle > p.cfg.QueueCapacity && p.workers < p.cfg.MaxWorkers {
		p.spawn(false)
	}

	// Never blocks: the buffer holds capacity() tasks and admission is bounded by it.
	p.queue <- task
	return nil
}

// Go submits fn and returns a pending operation for its result. A rejected
// submission yields an already failed future.
func Go[T any](p *Pool, name string, fn func() (T, error)) *Future[T] {
	f := newFuture[T]()

	task := NewTask(name, func() (err error) {
		var value T
		defer func() {
			if r := recover(); r != nil {
				err = fmt.Errorf("panic in %s: %s", name, panicToString(r))
			}
			if err != nil {
				var zero T
				f.resolve(StateFailed, zero, err)
				return
			}
			f.resolve(StateSucceeded, value, nil)
		}()
		value, err = fn()
		return err
	})
	task.ID = f.ID()

	if err := p.Submit(task); err != nil {
		var zero T
		f.resolve(StateFailed, zero, err)
	}
	return f
}

// Stats returns current worker pool statistics.
func (p *Pool) Stats() PoolStats {
	p.mu.Lock()
	workers, idle, busy, pending := p.workers, p.idle, p.busy, p.pending
	p.mu.Unlock()

	return PoolStats{
		Name:      p.cfg.Name,
		Workers:   workers,
		Idle:      idle,
		Active:    busy,
		Pending:   pending,
		Capacity:  p.capacity(),
		Completed: atomic.LoadInt64(&p.completed),
		Failed:    atomic.LoadInt64(&p.failed),
		Rejected:  atomic.LoadInt64(&p.rejected),
	}
}

// IsRunning returns true if the pool is still accepting tasks.
func (p *Pool) IsRunning() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.running
}

// stop closes admission. Queued tasks are still drained by the workers.
func (p *Pool) stop() bool {
	p.mu.Lock()
	defer p.mu.Unlock()

	if !p.running {
		return false
	}
	p.running = false
	close(p.queue)
	p.slotFreed.Broadcast()
	return true
}

// Shutdown stops admission and waits until every admitted task has run.
func (p *Pool) Shutdown() {
	p.stop()
	p.wg.Wait()
}

// ShutdownWithTimeout drains like Shutdown but gives up waiting after timeout.
func (p *Pool) ShutdownWithTimeout(timeout time.Duration) error {
	p.stop()

	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-time.After(timeout):
		return errors.New("shutdown timeout")
	}
}
