package capture

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"requestanalytics/internal/metrics"
	"requestanalytics/internal/pkg/errreport"
	"requestanalytics/internal/requests"
)

// QueueOptions sizes a MemoryQueue.
type QueueOptions struct {
	BufferSize    int
	BatchSize     int
	FlushInterval time.Duration
	Workers       int
}

func (o QueueOptions) withDefaults() QueueOptions {
	if o.BufferSize <= 0 {
		o.BufferSize = 1024
	}
	if o.BatchSize <= 0 {
		o.BatchSize = 100
	}
	if o.FlushInterval <= 0 {
		o.FlushInterval = time.Second
	}
	if o.Workers <= 0 {
		o.Workers = 1
	}
	return o
}

// MemoryQueue buffers events in a channel and writes them in batches from a
// fixed set of workers. Dispatch never blocks: a full buffer drops the event.
// Stop drains what is buffered before returning.
type MemoryQueue struct {
	store   *requests.Store
	logger  *slog.Logger
	metrics *metrics.Metrics
	opts    QueueOptions

	events chan requests.RequestEvent

	mu      sync.RWMutex
	closed  bool
	started bool
	group   *errgroup.Group
}

func NewMemoryQueue(store *requests.Store, logger *slog.Logger, m *metrics.Metrics, opts QueueOptions) *MemoryQueue {
	opts = opts.withDefaults()
	return &MemoryQueue{
		store:   store,
		logger:  logger,
		metrics: m,
		opts:    opts,
		events:  make(chan requests.RequestEvent, opts.BufferSize),
	}
}

func (q *MemoryQueue) Name() string {
	return "memory"
}

func (q *MemoryQueue) Dispatch(_ context.Context, event *requests.RequestEvent) (string, error) {
	q.mu.RLock()
	defer q.mu.RUnlock()
	if q.closed {
		return metrics.OutcomeDropped, ErrDispatcherClosed
	}

	select {
	case q.events <- *event:
		q.metrics.QueueDepth(len(q.events))
		return metrics.OutcomeQueued, nil
	default:
		return metrics.OutcomeDropped, ErrQueueFull
	}
}

// Start launches the workers. Implements cartridge.BackgroundWorker.
func (q *MemoryQueue) Start() error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.started || q.closed {
		return nil
	}
	q.started = true

	q.group = &errgroup.Group{}
	for i := 0; i < q.opts.Workers; i++ {
		q.group.Go(q.work)
	}
	q.logger.Info("Capture queue started",
		slog.Int("workers", q.opts.Workers),
		slog.Int("buffer_size", q.opts.BufferSize),
		slog.Int("batch_size", q.opts.BatchSize))
	return nil
}

// Stop closes the queue and waits for buffered events to be written.
// Implements cartridge.BackgroundWorker.
func (q *MemoryQueue) Stop() {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return
	}
	q.closed = true
	close(q.events)
	group := q.group
	q.mu.Unlock()

	if group == nil {
		// Never started: drain inline so nothing buffered is lost.
		_ = q.work()
		return
	}
	_ = group.Wait()
	q.logger.Info("Capture queue stopped")
}

// work batches events until the channel closes. Write failures are logged
// and reported; the worker keeps going.
func (q *MemoryQueue) work() error {
	ticker := time.NewTicker(q.opts.FlushInterval)
	defer ticker.Stop()

	batch := make([]requests.RequestEvent, 0, q.opts.BatchSize)
	for {
		select {
		case event, ok := <-q.events:
			if !ok {
				q.flush(batch)
				return nil
			}
			batch = append(batch, event)
			if len(batch) >= q.opts.BatchSize {
				q.flush(batch)
				batch = batch[:0]
			}
		case <-ticker.C:
			if len(batch) > 0 {
				q.flush(batch)
				batch = batch[:0]
			}
		}
	}
}

func (q *MemoryQueue) flush(batch []requests.RequestEvent) {
	if len(batch) == 0 {
		return
	}
	q.metrics.QueueDepth(len(q.events))

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	stored, err := q.store.InsertBatch(ctx, batch)
	q.metrics.Written(q.Name(), "ok", stored)
	q.metrics.Written(q.Name(), "error", len(batch)-stored)
	if err != nil {
		q.logger.Error("Failed to write captured requests",
			slog.Int("count", len(batch)),
			slog.Any("error", err))
		errreport.Capture(err, "capture_queue", nil)
		return
	}
	q.logger.Debug("Captured requests written", slog.Int("count", stored))
}
