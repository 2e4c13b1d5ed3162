package telegram

import (
	"context"
	"fmt"
	"log/slog"
	"runtime/debug"
	"sync"
)

const defaultWorkers = 64

// Dispatcher runs jobs on a bounded pool while keeping each key's jobs in arrival order.
// Jobs for different keys run concurrently; jobs for one key never overlap.
type Dispatcher struct {
	pool chan struct{}
	wg   sync.WaitGroup

	mu     sync.Mutex
	queues map[int64][]func(ctx context.Context)
}

func NewDispatcher(workers int) *Dispatcher {
	if workers <= 0 {
		workers = defaultWorkers
	}

	return &Dispatcher{
		pool:   make(chan struct{}, workers),
		queues: make(map[int64][]func(ctx context.Context)),
	}
}

// Dispatch queues job behind any pending jobs for key.
func (d *Dispatcher) Dispatch(ctx context.Context, key int64, job func(ctx context.Context)) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if q, ok := d.queues[key]; ok {
		d.queues[key] = append(q, job)
		return
	}

	d.queues[key] = []func(ctx context.Context){job}
	d.wg.Add(1)
	go d.drain(context.WithoutCancel(ctx), key)
}

// drain runs key's jobs until its queue is empty, then forgets the key.
func (d *Dispatcher) drain(ctx context.Context, key int64) {
	defer d.wg.Done()

	for {
		d.mu.Lock()
		q := d.queues[key]
		if len(q) == 0 {
			delete(d.queues, key)
			d.mu.Unlock()
			return
		}
		job := q[0]
		d.queues[key] = q[1:]
		d.mu.Unlock()

		d.pool <- struct{}{}
		d.run(ctx, key, job)
		<-d.pool
	}
}

func (d *Dispatcher) run(ctx context.Context, key int64, job func(ctx context.Context)) {
	defer func() {
		if r := recover(); r != nil {
			slog.ErrorContext(ctx, "telegram: handler panic",
				"key", key,
				"error", fmt.Errorf("%v, stack: %s", r, debug.Stack()),
			)
		}
	}()

	job(ctx)
}

// Stop waits for every queued job to finish.
func (d *Dispatcher) Stop() {
	d.wg.Wait()
}
