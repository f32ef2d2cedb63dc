package query

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/panjf2000/ants/v2"

	"duck-ask/internal/domain"
	"duck-ask/internal/observability"
)

const defaultPersistTimeout = 5 * time.Second

// HistoryDispatcher writes records to a durable store on a bounded worker
// pool so that slow storage never stalls the pipeline. It satisfies
// domain.HistoryStore.
//
// Writes are coalesced per request: while a record waits for a worker, a
// newer revision of the same request replaces it. At most one write per
// request is queued and the newest revision is always the one written.
type HistoryDispatcher struct {
	store   domain.HistoryStore
	pool    *ants.Pool
	workers int
	logger  *slog.Logger
	metrics *observability.Metrics
	timeout time.Duration

	mu       sync.Mutex
	pending  map[string]*domain.QueryExecutionRecord
	queue    []string
	draining int
}

// NewHistoryDispatcher starts a pool of the given size in front of store.
func NewHistoryDispatcher(store domain.HistoryStore, workers int, logger *slog.Logger, metrics *observability.Metrics) (*HistoryDispatcher, error) {
	if workers <= 0 {
		workers = 1
	}
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("component", "history-dispatcher")

	// Never more drain tasks than workers are submitted, so a blocked
	// Submit only waits for a worker that is already returning to the pool.
	pool, err := ants.NewPool(workers,
		ants.WithMaxBlockingTasks(workers),
		ants.WithPanicHandler(func(v any) {
			logger.Error("history writer panic", "panic", v)
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("create history pool: %w", err)
	}
	return &HistoryDispatcher{
		store:   store,
		pool:    pool,
		workers: workers,
		logger:  logger,
		metrics: metrics,
		timeout: defaultPersistTimeout,
		pending: make(map[string]*domain.QueryExecutionRecord),
	}, nil
}

// Persist queues rec for writing. The record must not be mutated afterwards.
func (d *HistoryDispatcher) Persist(ctx context.Context, rec *domain.QueryExecutionRecord) error {
	id := rec.RequestID()

	d.mu.Lock()
	if queued, ok := d.pending[id]; ok {
		if rec.Revision >= queued.Revision {
			d.pending[id] = rec
		}
		d.mu.Unlock()
		return nil
	}
	d.pending[id] = rec
	d.queue = append(d.queue, id)
	if d.draining >= d.workers {
		// A running drain picks it up.
		d.mu.Unlock()
		return nil
	}
	d.draining++
	d.mu.Unlock()

	ctx = context.WithoutCancel(ctx)
	if err := d.pool.Submit(func() { d.drain(ctx) }); err != nil {
		d.mu.Lock()
		d.draining--
		d.mu.Unlock()
		return fmt.Errorf("queue history record %s: %w", id, err)
	}
	return nil
}

func (d *HistoryDispatcher) drain(ctx context.Context) {
	for rec := d.next(); rec != nil; rec = d.next() {
		d.write(ctx, rec)
	}
}

// next pops the oldest queued request. It retires the calling drain when
// the queue is empty.
func (d *HistoryDispatcher) next() *domain.QueryExecutionRecord {
	d.mu.Lock()
	defer d.mu.Unlock()
	if len(d.queue) == 0 {
		d.draining--
		return nil
	}
	id := d.queue[0]
	d.queue = d.queue[1:]
	rec := d.pending[id]
	delete(d.pending, id)
	return rec
}

func (d *HistoryDispatcher) write(ctx context.Context, rec *domain.QueryExecutionRecord) {
	defer func() {
		if v := recover(); v != nil {
			d.metrics.PersistFailed()
			d.logger.ErrorContext(ctx, "history writer panic", "request_id", rec.RequestID(), "panic", v)
		}
	}()
	writeCtx, cancel := context.WithTimeout(ctx, d.timeout)
	defer cancel()
	if err := d.store.Persist(writeCtx, rec); err != nil {
		d.metrics.PersistFailed()
		d.logger.WarnContext(ctx, "write history record failed",
			"request_id", rec.RequestID(), "state", rec.State, "error", err)
	}
}

// Close waits up to timeout for queued writes to finish.
func (d *HistoryDispatcher) Close(timeout time.Duration) error {
	return d.pool.ReleaseTimeout(timeout)
}
