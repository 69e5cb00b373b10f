package events

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/wilfranr/control-id-miid/internal/conf"
	"github.com/wilfranr/control-id-miid/internal/logger"
	"github.com/wilfranr/control-id-miid/internal/reconcile"
)

// DefaultConfig returns the default bus configuration
func DefaultConfig() conf.EventsSettings {
	return conf.EventsSettings{
		BufferSize:  256,
		Workers:     2,
		DedupWindow: 5 * time.Minute,
	}
}

// Bus delivers outcomes to consumers on a fixed set of workers.
// Publishing never blocks: outcomes are dropped when the buffer is full.
type Bus struct {
	outcomes chan *reconcile.Outcome
	workers  int

	ctx     context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	running atomic.Bool

	mu        sync.Mutex
	consumers []Consumer

	dedup  *Deduplicator
	onDrop func()
	stats  Stats
	log    logger.Logger
}

// Option configures a Bus
type Option func(*Bus)

// WithDropHook is called for every dropped outcome, typically to count it
func WithDropHook(fn func()) Option {
	return func(b *Bus) {
		b.onDrop = fn
	}
}

// New creates a bus. Workers start with the first registered consumer.
func New(cfg conf.EventsSettings, log logger.Logger, opts ...Option) *Bus {
	def := DefaultConfig()
	if cfg.BufferSize < 1 {
		cfg.BufferSize = def.BufferSize
	}
	if cfg.Workers < 1 {
		cfg.Workers = def.Workers
	}
	if log == nil {
		log = logger.Global().Module("events")
	}

	ctx, cancel := context.WithCancel(context.Background())
	b := &Bus{
		outcomes: make(chan *reconcile.Outcome, cfg.BufferSize),
		workers:  cfg.Workers,
		ctx:      ctx,
		cancel:   cancel,
		dedup:    NewDeduplicator(cfg.DedupWindow),
		log:      log,
	}
	for _, opt := range opts {
		opt(b)
	}

	log.Debug("event bus created",
		logger.Int("buffer_size", cfg.BufferSize),
		logger.Int("workers", cfg.Workers),
		logger.Duration("dedup_window", cfg.DedupWindow))
	return b
}

// Register adds a consumer
func (b *Bus) Register(consumer Consumer) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	for _, existing := range b.consumers {
		if existing.Name() == consumer.Name() {
			return fmt.Errorf("consumer %s already registered", consumer.Name())
		}
	}
	b.consumers = append(b.consumers, consumer)
	b.log.Info("registered outcome consumer", logger.String("consumer", consumer.Name()))

	if len(b.consumers) == 1 && b.ctx.Err() == nil {
		b.start()
	}
	return nil
}

// TryPublish queues an outcome without blocking. It returns false when the
// outcome was dropped or suppressed as a repeat.
func (b *Bus) TryPublish(outcome *reconcile.Outcome) bool {
	if b == nil || outcome == nil || !b.running.Load() {
		return false
	}

	b.mu.Lock()
	hasConsumers := len(b.consumers) > 0
	b.mu.Unlock()
	if !hasConsumers {
		return false
	}

	if !b.dedup.ShouldProcess(outcome) {
		atomic.AddUint64(&b.stats.Suppressed, 1)
		return false
	}

	select {
	case b.outcomes <- outcome:
		atomic.AddUint64(&b.stats.Received, 1)
		return true
	default:
		atomic.AddUint64(&b.stats.Dropped, 1)
		if b.onDrop != nil {
			b.onDrop()
		}
		b.log.Debug("outcome dropped, buffer full",
			logger.String("document", outcome.Document),
			logger.String("trace_id", outcome.TraceID))
		return false
	}
}

func (b *Bus) start() {
	if b.running.Swap(true) {
		return
	}
	for i := range b.workers {
		b.wg.Go(func() { b.worker(i) })
	}
}

func (b *Bus) worker(id int) {
	log := b.log.With(logger.Int("worker_id", id))
	for {
		select {
		case <-b.ctx.Done():
			b.drain(log)
			return
		case outcome := <-b.outcomes:
			b.process(outcome, log)
		}
	}
}

// drain delivers what is already queued when the bus shuts down
func (b *Bus) drain(log logger.Logger) {
	for {
		select {
		case outcome := <-b.outcomes:
			b.process(outcome, log)
		default:
			return
		}
	}
}

func (b *Bus) process(outcome *reconcile.Outcome, log logger.Logger) {
	b.mu.Lock()
	consumers := make([]Consumer, len(b.consumers))
	copy(consumers, b.consumers)
	b.mu.Unlock()

	ctx := logger.WithTraceID(context.Background(), outcome.TraceID)
	for _, consumer := range consumers {
		func() {
			defer func() {
				if r := recover(); r != nil {
					atomic.AddUint64(&b.stats.Errors, 1)
					log.Error("outcome consumer panicked",
						logger.String("consumer", consumer.Name()),
						logger.Any("panic", r))
				}
			}()

			if err := consumer.ProcessOutcome(ctx, outcome); err != nil {
				atomic.AddUint64(&b.stats.Errors, 1)
				log.WithContext(ctx).Error("outcome consumer failed",
					logger.String("consumer", consumer.Name()),
					logger.Error(err))
				return
			}
			atomic.AddUint64(&b.stats.Processed, 1)
		}()
	}
}

// Shutdown stops the workers after delivering queued outcomes
func (b *Bus) Shutdown(timeout time.Duration) error {
	if b == nil {
		return nil
	}
	b.running.Store(false)
	b.cancel()

	done := make(chan struct{})
	go func() {
		b.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		b.log.Debug("event bus stopped")
		return nil
	case <-time.After(timeout):
		b.log.Warn("event bus shutdown timed out", logger.Duration("timeout", timeout))
		return fmt.Errorf("event bus shutdown timeout exceeded")
	}
}

// Stats returns a snapshot of the counters
func (b *Bus) Stats() Stats {
	if b == nil {
		return Stats{}
	}
	return Stats{
		Received:   atomic.LoadUint64(&b.stats.Received),
		Suppressed: atomic.LoadUint64(&b.stats.Suppressed),
		Processed:  atomic.LoadUint64(&b.stats.Processed),
		Dropped:    atomic.LoadUint64(&b.stats.Dropped),
		Errors:     atomic.LoadUint64(&b.stats.Errors),
	}
}
