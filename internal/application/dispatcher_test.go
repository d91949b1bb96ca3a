package application_test

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"order-intake/internal/application"
	"order-intake/internal/domain"
)

type blockingHandler struct {
	release  chan struct{}
	running  atomic.Int64
	peak     atomic.Int64
	mu       sync.Mutex
	handled  []string
	deadline bool
}

func (h *blockingHandler) Handle(ctx context.Context, ev domain.InboundEvent) application.Outcome {
	n := h.running.Add(1)
	defer h.running.Add(-1)
	for {
		p := h.peak.Load()
		if n <= p || h.peak.CompareAndSwap(p, n) {
			break
		}
	}

	if _, ok := ctx.Deadline(); ok {
		h.mu.Lock()
		h.deadline = true
		h.mu.Unlock()
	}

	<-h.release

	h.mu.Lock()
	h.handled = append(h.handled, ev.ID)
	h.mu.Unlock()
	return application.Outcome{EventID: ev.ID, Trace: []application.State{application.StateDone}}
}

func TestDispatcher_BoundsConcurrency(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	handler := &blockingHandler{release: make(chan struct{})}

	d := application.NewDispatcher(context.Background(), handler, 2, time.Minute, logger)

	for i := 0; i < 6; i++ {
		d.Submit(domain.InboundEvent{ID: fmt.Sprintf("ev-%d", i)})
	}

	deadline := time.After(2 * time.Second)
	for handler.running.Load() < 2 {
		select {
		case <-deadline:
			t.Fatal("timeout waiting for tasks to start")
		case <-time.After(5 * time.Millisecond):
		}
	}

	if got := d.InFlight(); got != 2 {
		t.Errorf("in flight: got %d, want 2", got)
	}

	close(handler.release)
	d.Wait()

	if peak := handler.peak.Load(); peak > 2 {
		t.Errorf("peak concurrency: got %d, want <= 2", peak)
	}
	if len(handler.handled) != 6 {
		t.Errorf("handled: got %d, want 6", len(handler.handled))
	}
	if !handler.deadline {
		t.Error("handler context should carry the event timeout")
	}
}

func TestDispatcher_ProcessInline(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	f := newFixture()

	d := application.NewDispatcher(context.Background(), f.intake, 4, time.Minute, logger)

	out, err := d.Process(domain.InboundEvent{ID: "ev", Sender: "s", Text: "2 parota"})
	if err != nil {
		t.Fatalf("Process: %v", err)
	}
	if out.Order == nil || out.Order.Total != 60 {
		t.Errorf("order: got %+v", out.Order)
	}
}

func TestDispatcher_CanceledBaseDrainsQueuedEvents(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	handler := &blockingHandler{release: make(chan struct{})}

	ctx, cancel := context.WithCancel(context.Background())
	d := application.NewDispatcher(ctx, handler, 1, time.Minute, logger)

	const n = 5
	for i := 0; i < n; i++ {
		d.Submit(domain.InboundEvent{ID: fmt.Sprintf("ev-%d", i)})
	}

	deadline := time.After(2 * time.Second)
	for handler.running.Load() < 1 {
		select {
		case <-deadline:
			t.Fatal("timeout waiting for first task")
		case <-time.After(5 * time.Millisecond):
		}
	}

	cancel()
	close(handler.release)
	d.Wait()

	if len(handler.handled) != n {
		t.Errorf("handled: got %d, want %d (%v)", len(handler.handled), n, handler.handled)
	}
}

func TestDispatcher_ProcessAfterCancel(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	handler := &blockingHandler{release: make(chan struct{})}
	close(handler.release)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	d := application.NewDispatcher(ctx, handler, 1, time.Minute, logger)

	out, err := d.Process(domain.InboundEvent{ID: "late"})
	if err != nil {
		t.Fatalf("Process: %v", err)
	}
	if out.EventID != "late" {
		t.Errorf("event id: got %q", out.EventID)
	}
}

func TestDispatcher_QueuedEventGivesUpAtTimeout(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	handler := &blockingHandler{release: make(chan struct{})}
	defer close(handler.release)

	d := application.NewDispatcher(context.Background(), handler, 1, 30*time.Millisecond, logger)
	d.Submit(domain.InboundEvent{ID: "holder"})

	deadline := time.After(2 * time.Second)
	for handler.running.Load() < 1 {
		select {
		case <-deadline:
			t.Fatal("timeout waiting for first task")
		case <-time.After(5 * time.Millisecond):
		}
	}

	if _, err := d.Process(domain.InboundEvent{ID: "queued"}); err == nil {
		t.Fatal("expected queued event to time out waiting for a slot")
	}
}

func TestDispatcher_ConcurrentOrdersGetDistinctIDs(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	f := newFixture()

	d := application.NewDispatcher(context.Background(), f.intake, 8, time.Minute, logger)

	const n = 50
	for i := 0; i < n; i++ {
		d.Submit(domain.InboundEvent{ID: fmt.Sprintf("ev-%d", i), Sender: "s", Text: "idli"})
	}
	d.Wait()

	orders, _ := f.store.List(context.Background())
	if len(orders) != n {
		t.Fatalf("orders: got %d, want %d", len(orders), n)
	}
	seen := make(map[int64]bool, n)
	for _, o := range orders {
		if seen[o.ID] {
			t.Fatalf("duplicate id %d", o.ID)
		}
		seen[o.ID] = true
	}
}
