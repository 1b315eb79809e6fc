package service

import (
	"context"
	"fmt"
	"sync"

	appErr "ownide/pkg/errors"
	"ownide/pkg/utils/contextkey"
	"ownide/pkg/utils/logger"

	"go.uber.org/zap"
)

// Job is one unit of background work.
type Job struct {
	TaskID string
	Run    func(ctx context.Context)
}

// DispatcherConfig sizes the worker pool.
type DispatcherConfig struct {
	Workers   int `yaml:"workers"`
	QueueSize int `yaml:"queueSize"`
}

// Dispatcher runs jobs on a fixed pool of workers fed by a bounded queue.
type Dispatcher struct {
	queue chan Job
	ctx   context.Context

	mu     sync.RWMutex
	closed bool
	wg     sync.WaitGroup
}

// NewDispatcher starts the workers. Jobs run with ctx, which should outlive
// individual requests and carry no deadline.
func NewDispatcher(ctx context.Context, cfg DispatcherConfig) *Dispatcher {
	if cfg.Workers <= 0 {
		cfg.Workers = 4
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 64
	}
	d := &Dispatcher{
		queue: make(chan Job, cfg.QueueSize),
		ctx:   ctx,
	}
	for i := 0; i < cfg.Workers; i++ {
		d.wg.Add(1)
		go d.worker()
	}
	return d
}

// Enqueue hands job to the pool without blocking.
func (d *Dispatcher) Enqueue(job Job) error {
	if job.Run == nil {
		return appErr.New(appErr.InvalidParams).WithMessage("job has no work")
	}
	d.mu.RLock()
	defer d.mu.RUnlock()
	if d.closed {
		return appErr.New(appErr.ServiceUnavailable).WithMessage("dispatcher is shutting down")
	}
	select {
	case d.queue <- job:
		return nil
	default:
		return appErr.New(appErr.SandboxQueueFull)
	}
}

// Shutdown stops intake, lets queued and running jobs finish, and returns
// early with ctx's error if they do not finish in time.
func (d *Dispatcher) Shutdown(ctx context.Context) error {
	d.mu.Lock()
	if !d.closed {
		d.closed = true
		close(d.queue)
	}
	d.mu.Unlock()

	done := make(chan struct{})
	go func() {
		d.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (d *Dispatcher) worker() {
	defer d.wg.Done()
	for job := range d.queue {
		d.run(job)
	}
}

func (d *Dispatcher) run(job Job) {
	ctx := context.WithValue(d.ctx, contextkey.TaskID, job.TaskID)
	defer func() {
		if r := recover(); r != nil {
			logger.Error(ctx, "sandbox job panicked", zap.String("panic", fmt.Sprint(r)))
		}
	}()
	job.Run(ctx)
}
