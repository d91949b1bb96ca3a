package application

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/semaphore"

	"order-intake/internal/domain"
)

type EventHandler interface {
	Handle(ctx context.Context, ev domain.InboundEvent) Outcome
}

// Dispatcher runs each inbound event as its own task, detached from the
// request that delivered it, with at most maxInFlight pipelines running.
type Dispatcher struct {
	handler EventHandler
	sem     *semaphore.Weighted
	timeout time.Duration
	logger  *slog.Logger

	base     context.Context
	wg       sync.WaitGroup
	inFlight atomic.Int64
}

// NewDispatcher creates a Dispatcher. Cancelling base does not drop queued
// events: every submitted event runs, bounded by its own timeout.
func NewDispatcher(base context.Context, handler EventHandler, maxInFlight int, timeout time.Duration, logger *slog.Logger) *Dispatcher {
	if maxInFlight <= 0 {
		maxInFlight = 1
	}
	if timeout <= 0 {
		timeout = 3 * time.Minute
	}
	return &Dispatcher{
		handler: handler,
		sem:     semaphore.NewWeighted(int64(maxInFlight)),
		timeout: timeout,
		logger:  logger,
		base:    base,
	}
}

// Submit schedules ev and returns immediately.
func (d *Dispatcher) Submit(ev domain.InboundEvent) {
	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		if _, err := d.run(ev); err != nil {
			d.logger.Warn("event dropped", "event_id", ev.ID, "error", err)
		}
	}()
}

// Process runs ev on the caller's goroutine and returns its Outcome.
func (d *Dispatcher) Process(ev domain.InboundEvent) (Outcome, error) {
	d.wg.Add(1)
	defer d.wg.Done()
	return d.run(ev)
}

func (d *Dispatcher) run(ev domain.InboundEvent) (Outcome, error) {
	// Queued events outlive base cancellation; the event timeout is the only bound.
	ctx, cancel := context.WithTimeout(context.WithoutCancel(d.base), d.timeout)
	defer cancel()

	if err := d.sem.Acquire(ctx, 1); err != nil {
		return Outcome{EventID: ev.ID}, err
	}
	defer d.sem.Release(1)

	d.inFlight.Add(1)
	defer d.inFlight.Add(-1)

	start := time.Now()
	out := d.handler.Handle(ctx, ev)

	d.logger.Info("event processed",
		"event_id", ev.ID,
		"state", out.Final(),
		"kind", domain.Kind(out.Err),
		"duration", time.Since(start),
	)
	return out, nil
}

func (d *Dispatcher) InFlight() int64 {
	return d.inFlight.Load()
}

// Wait blocks until every submitted event has finished, including events
// still queued for a slot when shutdown began.
func (d *Dispatcher) Wait() {
	d.wg.Wait()
}
