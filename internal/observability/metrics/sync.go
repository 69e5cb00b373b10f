package metrics

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/wilfranr/control-id-miid/internal/reconcile"
)

// SyncMetrics contains the Prometheus metrics of the synchronization service
type SyncMetrics struct {
	reconciliations       *prometheus.CounterVec
	reconcileDuration     *prometheus.HistogramVec
	issues                *prometheus.CounterVec
	photoRejections       *prometheus.CounterVec
	cycles                *prometheus.CounterVec
	deviceRequests        *prometheus.CounterVec
	deviceRequestDuration *prometheus.HistogramVec
	health                *prometheus.GaugeVec
	eventsDropped         prometheus.Counter
	lastOutcome           prometheus.Gauge
}

// NewSyncMetrics creates the sync metrics and registers them with registry
func NewSyncMetrics(registry prometheus.Registerer) (*SyncMetrics, error) {
	m := &SyncMetrics{}
	m.initMetrics()
	if err := registry.Register(m); err != nil {
		return nil, err
	}
	return m, nil
}

func (m *SyncMetrics) initMetrics() {
	m.reconciliations = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "controlid_reconciliations_total",
			Help: "Total number of reconciliations by outcome",
		},
		[]string{"environment", "action", "reason"},
	)

	m.reconcileDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "controlid_reconciliation_duration_seconds",
			Help:    "Time taken to reconcile one record",
			Buckets: prometheus.ExponentialBuckets(BucketStart10ms, BucketFactor2, BucketCount14),
		},
		[]string{"environment"},
	)

	m.issues = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "controlid_reconciliation_issues_total",
			Help: "Total number of issues recorded during reconciliations",
		},
		[]string{"step", "severity"}, // step: lookup, group, photo_fetch; severity: info, warning, error
	)

	m.photoRejections = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "controlid_photo_rejections_total",
			Help: "Photos the device refused because the face belongs to another user",
		},
		[]string{"environment"},
	)

	m.cycles = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "controlid_poll_cycles_total",
			Help: "Total number of poll cycles by result",
		},
		[]string{"environment", "result"}, // result: reconciled, empty, failed
	)

	m.deviceRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "controlid_device_requests_total",
			Help: "Total number of device API requests",
		},
		[]string{"endpoint", "status_code"}, // status_code 0 is a transport failure
	)

	m.deviceRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "controlid_device_request_duration_seconds",
			Help:    "Latency of device API requests",
			Buckets: prometheus.ExponentialBuckets(BucketStart1ms, BucketFactor2, BucketCount12),
		},
		[]string{"endpoint"},
	)

	m.health = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "controlid_connection_health",
			Help: "Connection health, 1 for the current state and 0 otherwise",
		},
		[]string{"state"},
	)

	m.eventsDropped = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "controlid_events_dropped_total",
		Help: "Outcome events dropped because the event buffer was full",
	})

	m.lastOutcome = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "controlid_last_reconciliation_timestamp_seconds",
		Help: "Unix time of the last finished reconciliation",
	})

	for _, s := range HealthStates {
		m.health.WithLabelValues(s).Set(0)
	}
	m.health.WithLabelValues("unknown").Set(1)
}

// RecordOutcome counts one finished reconciliation
func (m *SyncMetrics) RecordOutcome(o *reconcile.Outcome) {
	if o == nil {
		return
	}
	m.reconciliations.WithLabelValues(o.Environment, string(o.Action), o.Reason).Inc()
	m.reconcileDuration.WithLabelValues(o.Environment).Observe(o.Duration.Seconds())
	for _, issue := range o.Issues {
		m.issues.WithLabelValues(string(issue.Step), string(issue.Severity)).Inc()
	}
	if o.PhotoRejected {
		m.photoRejections.WithLabelValues(o.Environment).Inc()
	}
	m.lastOutcome.SetToCurrentTime()
}

// RecordCycle counts one poll cycle
func (m *SyncMetrics) RecordCycle(environment, result string) {
	m.cycles.WithLabelValues(environment, result).Inc()
}

// SetHealth marks state as the current connection health
func (m *SyncMetrics) SetHealth(state string) {
	for _, s := range HealthStates {
		v := 0.0
		if s == state {
			v = 1
		}
		m.health.WithLabelValues(s).Set(v)
	}
}

// ObserveDeviceRequest records one device API call
func (m *SyncMetrics) ObserveDeviceRequest(endpoint string, status int, duration time.Duration) {
	m.deviceRequests.WithLabelValues(endpoint, strconv.Itoa(status)).Inc()
	m.deviceRequestDuration.WithLabelValues(endpoint).Observe(duration.Seconds())
}

// IncrementEventsDropped counts one outcome the event bus could not queue
func (m *SyncMetrics) IncrementEventsDropped() {
	m.eventsDropped.Inc()
}

// Describe implements the prometheus.Collector interface.
func (m *SyncMetrics) Describe(ch chan<- *prometheus.Desc) {
	m.reconciliations.Describe(ch)
	m.reconcileDuration.Describe(ch)
	m.issues.Describe(ch)
	m.photoRejections.Describe(ch)
	m.cycles.Describe(ch)
	m.deviceRequests.Describe(ch)
	m.deviceRequestDuration.Describe(ch)
	m.health.Describe(ch)
	ch <- m.eventsDropped.Desc()
	ch <- m.lastOutcome.Desc()
}

// Collect implements the prometheus.Collector interface.
func (m *SyncMetrics) Collect(ch chan<- prometheus.Metric) {
	m.reconciliations.Collect(ch)
	m.reconcileDuration.Collect(ch)
	m.issues.Collect(ch)
	m.photoRejections.Collect(ch)
	m.cycles.Collect(ch)
	m.deviceRequests.Collect(ch)
	m.deviceRequestDuration.Collect(ch)
	m.health.Collect(ch)
	ch <- m.eventsDropped
	ch <- m.lastOutcome
}
