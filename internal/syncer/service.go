// Package syncer drives reconciliation: the poll loop, on-demand and bulk
// requests, connection health and environment switches. Device mutations of
// every caller are serialized through one Queue.
package syncer

import (
	"context"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/wilfranr/control-id-miid/internal/conf"
	"github.com/wilfranr/control-id-miid/internal/enrollment"
	"github.com/wilfranr/control-id-miid/internal/environment"
	"github.com/wilfranr/control-id-miid/internal/errors"
	"github.com/wilfranr/control-id-miid/internal/logger"
	"github.com/wilfranr/control-id-miid/internal/reconcile"
)

// ErrNoEnrollment is returned by ReconcileLatest when the source has no qualifying record
var ErrNoEnrollment = errors.NewStd("no qualifying enrollment found")

// Cycle results reported to Metrics
const (
	CycleReconciled = "reconciled"
	CycleEmpty      = "empty"
	CycleFailed     = "failed"
)

const stopTimeout = 30 * time.Second

// Recorder persists outcomes
type Recorder interface {
	Record(ctx context.Context, outcome *reconcile.Outcome) error
}

// Publisher fans outcomes out to asynchronous sinks
type Publisher interface {
	TryPublish(outcome *reconcile.Outcome) bool
}

// Metrics receives service level measurements
type Metrics interface {
	RecordOutcome(outcome *reconcile.Outcome)
	RecordCycle(environment, result string)
	SetHealth(state string)
}

// Option configures a Service
type Option func(*Service)

// WithRecorder records every outcome, typically in the journal
func WithRecorder(r Recorder) Option {
	return func(s *Service) { s.recorder = r }
}

// WithPublisher publishes every outcome, typically to the event bus
func WithPublisher(p Publisher) Option {
	return func(s *Service) { s.publisher = p }
}

// WithMetrics reports outcomes, cycles and health
func WithMetrics(m Metrics) Option {
	return func(s *Service) { s.metrics = m }
}

// WithLogger replaces the module logger
func WithLogger(log logger.Logger) Option {
	return func(s *Service) { s.log = log }
}

// Service owns the active environment's backends and the mutation queue
type Service struct {
	settings conf.SyncSettings
	resolver *environment.Resolver
	factory  BackendFactory
	queue    *Queue
	flight   singleflight.Group

	recorder  Recorder
	publisher Publisher
	metrics   Metrics
	log       logger.Logger

	mu          sync.RWMutex
	backends    *Backends
	engine      *reconcile.Engine
	backendsErr error

	healthMu sync.RWMutex
	health   Health

	lastMu       sync.RWMutex
	lastOutcome  *reconcile.Outcome
	lastDocument string

	runMu    sync.Mutex
	stopCh   chan struct{}
	loopDone chan struct{}
}

// New builds the backends of the active environment and starts the queue.
// A configuration error does not fail construction; it is reported by
// Check and by every operation until a valid environment is selected.
func New(settings *conf.Settings, resolver *environment.Resolver, factory BackendFactory, opts ...Option) *Service {
	s := &Service{
		settings: settings.Sync,
		resolver: resolver,
		factory:  factory,
		health:   Health{State: StateUnknown},
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.log == nil {
		s.log = logger.Global().Module("sync")
	}
	s.queue = NewQueue(settings.Sync.QueueSize, s.log)
	s.queue.Start()

	env, err := resolver.Active()
	if err != nil {
		s.backendsErr = err
		s.log.Error("active environment is not usable", logger.Error(err))
	} else {
		s.install(env)
	}

	resolver.OnSwitch(s.install)
	return s
}

// install replaces the backends; the old device session is discarded
func (s *Service) install(env *conf.Environment) {
	backends, err := s.factory(env)

	s.mu.Lock()
	old := s.backends
	if err != nil {
		s.backends, s.engine, s.backendsErr = nil, nil, err
	} else {
		s.backends = backends
		s.engine = reconcile.NewEngine(env.Name, env, backends.Device, backends.Photos,
			logger.Global().Module("reconcile").With(logger.String("environment", env.Name)))
		s.backendsErr = nil
	}
	s.mu.Unlock()

	if old != nil {
		old.Device.Invalidate()
		old.Close()
	}

	s.lastMu.Lock()
	s.lastDocument = ""
	s.lastMu.Unlock()

	s.healthMu.Lock()
	s.health = Health{State: StateUnknown, Environment: env.Name}
	s.healthMu.Unlock()

	if err != nil {
		s.log.Error("failed to build backends", logger.String("environment", env.Name), logger.Error(err))
		return
	}
	s.log.Info("environment active", logger.String("environment", env.Name))
}

func (s *Service) current() (*Backends, error) {
	b, _, err := s.active()
	return b, err
}

func (s *Service) active() (*Backends, *reconcile.Engine, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.backendsErr != nil {
		return nil, nil, s.backendsErr
	}
	if s.backends == nil {
		return nil, nil, errors.Newf("no active environment").
			Component("sync").
			Category(errors.CategoryConfiguration).
			Build()
	}
	return s.backends, s.engine, nil
}

// Environment returns the name of the active environment
func (s *Service) Environment() string {
	return s.resolver.ActiveName()
}

// Environments lists the configured environment names
func (s *Service) Environments() []string {
	return s.resolver.Names()
}

// SwitchEnvironment activates name. Backends are rebuilt by the resolver's
// switch listener before this returns.
func (s *Service) SwitchEnvironment(name string, persist bool) error {
	_, err := s.resolver.Switch(name, persist)
	return err
}

// Run polls the source until ctx is done or Stop is called. Every cycle
// reconciles the latest enrollment, also when it was already reconciled by
// the previous cycle.
func (s *Service) Run(ctx context.Context) error {
	s.runMu.Lock()
	if s.stopCh != nil {
		s.runMu.Unlock()
		return errors.Newf("sync loop already running").
			Component("sync").
			Category(errors.CategoryState).
			Build()
	}
	stop := make(chan struct{})
	done := make(chan struct{})
	s.stopCh, s.loopDone = stop, done
	s.runMu.Unlock()

	defer func() {
		close(done)
		s.runMu.Lock()
		s.stopCh, s.loopDone = nil, nil
		s.runMu.Unlock()
	}()

	s.log.Info("sync loop started",
		logger.String("environment", s.Environment()),
		logger.Duration("interval", s.settings.Interval))

	for {
		wait := s.settings.Interval
		if err := s.cycle(ctx); err != nil {
			wait = s.settings.ErrorBackoff
			s.log.Warn("poll cycle failed", logger.Error(err), logger.Duration("backoff", wait))
		}

		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			s.log.Info("sync loop stopped", logger.String("cause", "context"))
			return nil
		case <-stop:
			timer.Stop()
			s.log.Info("sync loop stopped", logger.String("cause", "stop"))
			return nil
		case <-timer.C:
		}
	}
}

// Stop signals the loop and waits for the running cycle to finish
func (s *Service) Stop() {
	s.runMu.Lock()
	stop, done := s.stopCh, s.loopDone
	if stop != nil {
		select {
		case <-stop:
		default:
			close(stop)
		}
	}
	s.runMu.Unlock()

	if done != nil {
		<-done
	}
}

// Close stops the loop and the queue
func (s *Service) Close() error {
	s.Stop()
	err := s.queue.Stop(stopTimeout)

	s.mu.RLock()
	if s.backends != nil {
		s.backends.Close()
	}
	s.mu.RUnlock()
	return err
}

func (s *Service) cycle(ctx context.Context) error {
	backends, engine, err := s.active()
	if err != nil {
		s.recordCycle(s.Environment(), CycleFailed)
		return err
	}

	rec, err := backends.Enrollment.Latest(ctx)
	if err != nil {
		s.observeCycle(err, nil, false)
		s.recordCycle(backends.Environment, CycleFailed)
		return err
	}
	if rec == nil {
		s.observeCycle(nil, nil, false)
		s.recordCycle(backends.Environment, CycleEmpty)
		s.log.Debug("no qualifying enrollment")
		return nil
	}

	s.lastMu.Lock()
	repeat := s.lastDocument == rec.Document
	s.lastDocument = rec.Document
	s.lastMu.Unlock()
	if repeat {
		s.log.Debug("repair pass", logger.String("document", rec.Document))
	}

	out, err := s.reconcile(ctx, engine, rec)
	s.observeCycle(nil, err, reachedDevice(out))
	if err != nil {
		s.recordCycle(backends.Environment, CycleFailed)
		return err
	}
	s.recordCycle(backends.Environment, CycleReconciled)
	return nil
}

// reachedDevice reports whether the outcome proves a working device session
func reachedDevice(out *reconcile.Outcome) bool {
	if out == nil {
		return false
	}
	switch out.Reason {
	case reconcile.ReasonInvalidRecord, reconcile.ReasonLookupFailed, reconcile.ReasonAuthFailed:
		return false
	}
	return true
}

func (s *Service) recordCycle(env, result string) {
	if s.metrics != nil {
		s.metrics.RecordCycle(env, result)
	}
}

// reconcile runs rec through the queue. Concurrent requests for the same
// document share one execution and one outcome.
func (s *Service) reconcile(ctx context.Context, engine *reconcile.Engine, rec *enrollment.Record) (*reconcile.Outcome, error) {
	ctx, _ = reconcile.EnsureTraceID(ctx)
	key := engine.Environment() + "/" + rec.Document

	v, err, shared := s.flight.Do(key, func() (any, error) {
		out, err := s.queue.Submit(ctx, "reconcile "+rec.Document, func(ctx context.Context) (*reconcile.Outcome, error) {
			return engine.Reconcile(ctx, rec)
		})
		if out != nil {
			s.finish(ctx, out)
		}
		return out, err
	})
	if shared {
		s.log.WithContext(ctx).Debug("joined in-flight reconciliation", logger.String("document", rec.Document))
	}
	out, _ := v.(*reconcile.Outcome)
	return out, err
}

// finish hands a completed outcome to the journal, the sinks and metrics
func (s *Service) finish(ctx context.Context, out *reconcile.Outcome) {
	if s.recorder != nil {
		if err := s.recorder.Record(ctx, out); err != nil {
			s.log.WithContext(ctx).Warn("failed to record outcome", logger.Error(err))
		}
	}
	if s.publisher != nil {
		s.publisher.TryPublish(out)
	}
	if s.metrics != nil {
		s.metrics.RecordOutcome(out)
	}

	s.lastMu.Lock()
	s.lastOutcome = out
	s.lastMu.Unlock()
}

// LastOutcome returns the most recent outcome, or nil
func (s *Service) LastOutcome() *reconcile.Outcome {
	s.lastMu.RLock()
	defer s.lastMu.RUnlock()
	return s.lastOutcome
}

// ReconcileLatest reconciles the newest qualifying enrollment now
func (s *Service) ReconcileLatest(ctx context.Context) (*reconcile.Outcome, error) {
	backends, engine, err := s.active()
	if err != nil {
		return nil, err
	}
	rec, err := backends.Enrollment.Latest(ctx)
	if err != nil {
		return nil, err
	}
	if rec == nil {
		return nil, errors.New(ErrNoEnrollment).
			Component("sync").
			Category(errors.CategoryNotFound).
			Context("environment", backends.Environment).
			Build()
	}
	return s.reconcile(ctx, engine, rec)
}

// ReconcileDocument reconciles the newest qualifying enrollment of document.
// Unknown documents and source failures yield an outcome, not an error.
func (s *Service) ReconcileDocument(ctx context.Context, document string) (*reconcile.Outcome, error) {
	document = strings.TrimSpace(document)
	if document == "" {
		return nil, errors.Newf("document is required").
			Component("sync").
			Category(errors.CategoryValidation).
			Build()
	}

	backends, engine, err := s.active()
	if err != nil {
		return nil, err
	}

	ctx, _ = reconcile.EnsureTraceID(ctx)
	rec, err := backends.Enrollment.ByDocument(ctx, document)
	switch {
	case err != nil:
		out := engine.SourceFailure(ctx, document, err)
		s.finish(ctx, out)
		return out, nil
	case rec == nil:
		out := engine.NotFound(ctx, document)
		s.finish(ctx, out)
		return out, nil
	}
	return s.reconcile(ctx, engine, rec)
}
