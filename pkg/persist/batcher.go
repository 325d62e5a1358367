// Package persist implements the bounded asynchronous persistence
// batcher: a non-blocking Submit backed by a background worker that
// drains to the graph store either at batch_size or flush_interval,
// whichever comes first. Ported from
// _examples/original_source/src/persist/mod.rs.
package persist

import (
	"context"
	"sync"
	"time"

	"github.com/cuemby/vigil/pkg/graph"
	"github.com/cuemby/vigil/pkg/log"
	"github.com/cuemby/vigil/pkg/metrics"
	"github.com/cuemby/vigil/pkg/vigilerr"
)

// State is the batcher's lifecycle state.
type State int

const (
	Running State = iota
	Draining
	Terminated
)

// Config configures a Batcher.
type Config struct {
	ChannelCapacity int
	BatchSize       int
	FlushInterval   time.Duration
}

// Batcher is a bounded, asynchronous persistence batcher for
// graph.EntityVersion writes.
type Batcher struct {
	store   graph.Store
	metrics *metrics.Registry
	cfg     Config

	jobs chan graph.EntityVersion
	done chan struct{}

	mu    sync.RWMutex
	state State
}

// New starts a Batcher's background worker and returns it. The worker
// drains to store.MergeBatch, falling back to per-item store.MergeEntity
// calls when a batch fails, and stops once Close is called and any
// buffered jobs have been flushed.
func New(store graph.Store, reg *metrics.Registry, cfg Config) *Batcher {
	if cfg.ChannelCapacity <= 0 {
		cfg.ChannelCapacity = 1024
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 100
	}
	if cfg.FlushInterval <= 0 {
		cfg.FlushInterval = time.Second
	}

	b := &Batcher{
		store:   store,
		metrics: reg,
		cfg:     cfg,
		jobs:    make(chan graph.EntityVersion, cfg.ChannelCapacity),
		done:    make(chan struct{}),
		state:   Running,
	}

	go b.run()
	return b
}

// Submit enqueues ev without blocking. On back-pressure it returns a
// *vigilerr.Error of kind QueueFull or QueueClosed; the caller is expected
// to fall back to a synchronous store.MergeEntity call in that case.
func (b *Batcher) Submit(ev graph.EntityVersion) error {
	b.mu.RLock()
	state := b.state
	b.mu.RUnlock()

	if state != Running {
		b.metrics.PersistSubmitRejected.WithLabelValues("queue_closed").Inc()
		return vigilerr.New(vigilerr.KindQueueClosed, "batcher is draining or terminated")
	}

	select {
	case b.jobs <- ev:
		b.metrics.PersistJobsSubmitted.Inc()
		b.metrics.PersistQueueLength.Inc()
		return nil
	default:
		b.metrics.PersistSubmitRejected.WithLabelValues("queue_full").Inc()
		return vigilerr.New(vigilerr.KindQueueFull, "persistence queue is full")
	}
}

// State reports the batcher's current lifecycle state.
func (b *Batcher) State() State {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.state
}

// Close transitions the batcher to Draining, stops accepting new Submits,
// flushes any buffered jobs, and blocks until the worker has terminated.
func (b *Batcher) Close() {
	b.mu.Lock()
	if b.state != Running {
		b.mu.Unlock()
		return
	}
	b.state = Draining
	b.mu.Unlock()

	close(b.jobs)
	<-b.done

	b.mu.Lock()
	b.state = Terminated
	b.mu.Unlock()
}

func (b *Batcher) run() {
	defer close(b.done)

	buffer := make([]graph.EntityVersion, 0, b.cfg.BatchSize)
	ticker := time.NewTicker(b.cfg.FlushInterval)
	defer ticker.Stop()

	for {
		select {
		case ev, ok := <-b.jobs:
			if !ok {
				if len(buffer) > 0 {
					b.flush(buffer)
				}
				return
			}
			b.metrics.PersistQueueLength.Dec()
			buffer = append(buffer, ev)
			if len(buffer) >= b.cfg.BatchSize {
				b.flush(buffer)
				buffer = buffer[:0]
			}
		case <-ticker.C:
			if len(buffer) > 0 {
				b.flush(buffer)
				buffer = buffer[:0]
			}
		}
	}
}

// flush drains buffer in FIFO order: a single batched merge first, falling
// back to per-item merges only on batch failure. Errors are logged and
// counted, never propagated — replication/persistence errors never
// surface to a caller per the error-handling design.
func (b *Batcher) flush(buffer []graph.EntityVersion) {
	jobs := make([]graph.EntityVersion, len(buffer))
	copy(jobs, buffer)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	start := time.Now()
	err := b.store.MergeBatch(ctx, jobs)
	elapsedMs := float64(time.Since(start).Milliseconds())

	b.metrics.PersistBatchFlushes.Inc()
	b.metrics.PersistBatchLatencyMs.Observe(elapsedMs)

	if err != nil {
		b.metrics.PersistBatchFailures.Inc()
		log.WithComponent("persist").Error().Err(err).Int("batch_size", len(jobs)).
			Msg("persistence batch failed, falling back to per-item merge")

		for _, j := range jobs {
			if err2 := b.store.MergeEntity(ctx, j); err2 != nil {
				b.metrics.PersistPerItemFailures.Inc()
				log.WithComponent("persist").Error().Err(err2).Str("key", j.Key).
					Msg("per-item persist failed")
			}
		}
	}
}
