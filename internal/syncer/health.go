package syncer

import (
	"context"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/wilfranr/control-id-miid/internal/errors"
	"github.com/wilfranr/control-id-miid/internal/logger"
)

// State is the tri-state connection health
type State string

const (
	StateUnknown   State = "unknown"
	StateConnected State = "connected"
	StateDegraded  State = "degraded"
	StateError     State = "error"
)

// BackendStatus is the last known status of one backend
type BackendStatus struct {
	OK        bool          `json:"ok"`
	Error     string        `json:"error,omitempty"`
	Latency   time.Duration `json:"latency,omitempty"`
	CheckedAt time.Time     `json:"checked_at"`
}

// Health summarizes backend connectivity
type Health struct {
	State       State         `json:"state"`
	Environment string        `json:"environment"`
	Enrollment  BackendStatus `json:"enrollment"`
	Photos      BackendStatus `json:"photos"`
	Device      BackendStatus `json:"device"`
	Error       string        `json:"error,omitempty"`
	CheckedAt   time.Time     `json:"checked_at"`
}

// derive computes the state: the device decides between usable and not,
// the databases between connected and degraded.
func (h *Health) derive() {
	switch {
	case h.Error != "" || !h.Device.OK:
		h.State = StateError
	case !h.Enrollment.OK || !h.Photos.OK:
		h.State = StateDegraded
	default:
		h.State = StateConnected
	}
}

func statusOf(err error, latency time.Duration, at time.Time) BackendStatus {
	st := BackendStatus{OK: err == nil, Latency: latency, CheckedAt: at}
	if err != nil {
		st.Error = logger.RedactSensitiveData(err.Error())
	}
	return st
}

// Check probes all backends of the active environment concurrently
func (s *Service) Check(ctx context.Context) Health {
	now := time.Now()
	backends, err := s.current()
	if err != nil {
		h := Health{Environment: s.resolver.ActiveName(), Error: err.Error(), CheckedAt: now}
		h.derive()
		s.setHealth(h)
		return h
	}

	h := Health{Environment: backends.Environment, CheckedAt: now}
	probe := func(dst *BackendStatus, ping func(context.Context) error) func() error {
		return func() error {
			start := time.Now()
			err := ping(ctx)
			*dst = statusOf(err, time.Since(start), time.Now())
			return nil
		}
	}

	var g errgroup.Group
	g.Go(probe(&h.Enrollment, backends.Enrollment.Ping))
	g.Go(probe(&h.Photos, backends.Photos.Ping))
	g.Go(probe(&h.Device, backends.Device.Ping))
	_ = g.Wait()

	h.derive()
	s.setHealth(h)

	s.log.Info("connection check finished",
		logger.String("state", string(h.State)),
		logger.Bool("enrollment", h.Enrollment.OK),
		logger.Bool("photos", h.Photos.OK),
		logger.Bool("device", h.Device.OK))
	return h
}

// Health returns the last known health without probing
func (s *Service) Health() Health {
	s.healthMu.RLock()
	defer s.healthMu.RUnlock()
	return s.health
}

func (s *Service) setHealth(h Health) {
	s.healthMu.Lock()
	s.health = h
	s.healthMu.Unlock()
	if s.metrics != nil {
		s.metrics.SetHealth(string(h.State))
	}
}

// observeCycle folds the result of a poll cycle into the health.
// A cycle that reached the device proves the device; an auth failure disproves it.
func (s *Service) observeCycle(sourceErr, deviceErr error, reachedDevice bool) {
	s.healthMu.Lock()
	h := s.health
	now := time.Now()
	h.CheckedAt = now
	h.Error = ""

	if sourceErr != nil {
		h.Enrollment = statusOf(sourceErr, 0, now)
	} else {
		h.Enrollment = statusOf(nil, 0, now)
	}
	switch {
	case deviceErr != nil && errors.IsAuth(deviceErr):
		h.Device = statusOf(deviceErr, 0, now)
	case reachedDevice:
		h.Device = statusOf(nil, 0, now)
	}
	if h.Photos.CheckedAt.IsZero() {
		// not probed yet, assume usable until a check says otherwise
		h.Photos = statusOf(nil, 0, now)
	}
	if h.Device.CheckedAt.IsZero() && !reachedDevice {
		h.derive()
		h.State = StateUnknown
		if sourceErr != nil {
			h.State = StateDegraded
		}
	} else {
		h.derive()
	}
	s.health = h
	s.healthMu.Unlock()

	if s.metrics != nil {
		s.metrics.SetHealth(string(h.State))
	}
}
