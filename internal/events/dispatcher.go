package events

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"
)

// Dispatcher polls the outbox and fans entries out to listeners. Delivery is
// best-effort: a failing listener is logged and the entry is still marked
// delivered, because session state must never depend on notification success.
type Dispatcher struct {
	store        Store
	listeners    []Listener
	batchSize    int
	pollInterval time.Duration
	logger       *slog.Logger

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// DispatcherOption configures the Dispatcher.
type DispatcherOption func(*Dispatcher)

// WithBatchSize sets the maximum number of entries fetched per poll.
func WithBatchSize(size int) DispatcherOption {
	return func(d *Dispatcher) {
		if size > 0 {
			d.batchSize = size
		}
	}
}

// WithPollInterval sets the interval between polls.
func WithPollInterval(interval time.Duration) DispatcherOption {
	return func(d *Dispatcher) {
		if interval > 0 {
			d.pollInterval = interval
		}
	}
}

// WithLogger sets the logger for delivery failures.
func WithLogger(logger *slog.Logger) DispatcherOption {
	return func(d *Dispatcher) {
		d.logger = logger
	}
}

// NewDispatcher creates a dispatcher over the given outbox store and listeners.
func NewDispatcher(store Store, listeners []Listener, opts ...DispatcherOption) *Dispatcher {
	ctx, cancel := context.WithCancel(context.Background())
	d := &Dispatcher{
		store:        store,
		listeners:    listeners,
		batchSize:    100,
		pollInterval: 100 * time.Millisecond,
		ctx:          ctx,
		cancel:       cancel,
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Start begins the polling loop in a background goroutine.
func (d *Dispatcher) Start() {
	d.wg.Add(1)
	go d.run()
}

// Stop halts polling, drains one final batch, and waits for completion.
func (d *Dispatcher) Stop() {
	d.cancel()
	d.wg.Wait()
}

func (d *Dispatcher) run() {
	defer d.wg.Done()

	ticker := time.NewTicker(d.pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-d.ctx.Done():
			d.poll(context.Background())
			return
		case <-ticker.C:
			d.poll(d.ctx)
		}
	}
}

func (d *Dispatcher) poll(ctx context.Context) {
	entries, err := d.store.FetchUndelivered(ctx, d.batchSize)
	if err != nil {
		if d.logger != nil {
			d.logger.Error("failed to fetch outbox entries", "error", err)
		}
		return
	}

	for _, entry := range entries {
		d.deliver(ctx, entry)
		if err := d.store.MarkDelivered(ctx, entry.ID, time.Now()); err != nil {
			if d.logger != nil {
				d.logger.Error("failed to mark event delivered",
					"event_id", entry.ID,
					"event_type", entry.Type,
					"error", err,
				)
			}
		}
	}
}

// deliver fans one entry out to all listeners concurrently. Errors are
// collected for logging only.
func (d *Dispatcher) deliver(ctx context.Context, entry *Entry) {
	g, gctx := errgroup.WithContext(ctx)
	for _, listener := range d.listeners {
		listener := listener
		g.Go(func() error {
			return listener.Notify(gctx, entry)
		})
	}
	if err := g.Wait(); err != nil && d.logger != nil {
		d.logger.Warn("event delivery failed",
			"event_id", entry.ID,
			"event_type", entry.Type,
			"aggregate_id", entry.AggregateID,
			"error", err,
		)
	}
}
