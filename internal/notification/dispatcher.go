package notification

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/procuresight/procuresight/internal/models"
)

const (
	defaultWorkers         = 4
	defaultQueueSize       = 64
	defaultDeliveryTimeout = 5 * time.Second
)

// Dispatcher fans alerts out to every registered sink from a bounded worker
// pool. Enqueueing never blocks the ingest path; when the queue is full the
// alert is dropped and logged. The persisted alert row is the source of
// truth, delivery is best effort.
type Dispatcher struct {
	sinks   []Sink
	queue   chan models.Alert
	workers int
	timeout time.Duration
	logger  *zap.Logger

	mu       sync.RWMutex
	stopped  bool
	wg       sync.WaitGroup
	stopOnce sync.Once
}

// DispatcherOption configures a Dispatcher.
type DispatcherOption func(*Dispatcher)

// WithWorkers sets the worker count.
func WithWorkers(n int) DispatcherOption {
	return func(d *Dispatcher) {
		if n > 0 {
			d.workers = n
		}
	}
}

// WithQueueSize sets the pending alert queue capacity.
func WithQueueSize(n int) DispatcherOption {
	return func(d *Dispatcher) {
		if n > 0 {
			d.queue = make(chan models.Alert, n)
		}
	}
}

// WithDeliveryTimeout bounds each per-sink delivery attempt.
func WithDeliveryTimeout(t time.Duration) DispatcherOption {
	return func(d *Dispatcher) {
		if t > 0 {
			d.timeout = t
		}
	}
}

// NewDispatcher creates a dispatcher over the given sinks.
func NewDispatcher(sinks []Sink, logger *zap.Logger, opts ...DispatcherOption) *Dispatcher {
	d := &Dispatcher{
		sinks:   sinks,
		queue:   make(chan models.Alert, defaultQueueSize),
		workers: defaultWorkers,
		timeout: defaultDeliveryTimeout,
		logger:  logger,
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Start launches the worker pool.
func (d *Dispatcher) Start() {
	for i := 0; i < d.workers; i++ {
		d.wg.Add(1)
		go d.worker(i)
	}
	d.logger.Info("Alert dispatcher started",
		zap.Int("workers", d.workers),
		zap.Int("queue_size", cap(d.queue)),
		zap.Int("sinks", len(d.sinks)))
}

// Dispatch enqueues alerts for delivery. Never blocks; alerts that do not
// fit in the queue are dropped with a warning, and dispatching after Stop
// drops everything instead of panicking on the closed queue.
func (d *Dispatcher) Dispatch(alerts ...models.Alert) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	if d.stopped {
		d.logger.Warn("Dispatcher stopped, dropping alerts", zap.Int("count", len(alerts)))
		return
	}
	for _, alert := range alerts {
		select {
		case d.queue <- Normalize(alert):
		default:
			d.logger.Warn("Alert queue full, dropping delivery",
				zap.String("alert_id", alert.ID),
				zap.String("type", alert.Type))
		}
	}
}

// Stop closes the queue and waits for in-flight deliveries, returning early
// if the context expires first.
func (d *Dispatcher) Stop(ctx context.Context) error {
	d.stopOnce.Do(func() {
		d.mu.Lock()
		d.stopped = true
		d.mu.Unlock()
		close(d.queue)
	})

	done := make(chan struct{})
	go func() {
		d.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		d.logger.Info("Alert dispatcher stopped")
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (d *Dispatcher) worker(id int) {
	defer d.wg.Done()
	for alert := range d.queue {
		d.deliver(alert)
	}
	d.logger.Debug("Dispatcher worker exiting", zap.Int("worker_id", id))
}

// deliver attempts every sink; one sink failing never blocks the others.
func (d *Dispatcher) deliver(alert models.Alert) {
	for _, sink := range d.sinks {
		ctx, cancel := context.WithTimeout(context.Background(), d.timeout)
		if err := sink.Deliver(ctx, alert); err != nil {
			d.logger.Error("Alert delivery failed",
				zap.String("sink", sink.Name()),
				zap.String("alert_id", alert.ID),
				zap.String("type", alert.Type),
				zap.Error(err))
		}
		cancel()
	}
}
