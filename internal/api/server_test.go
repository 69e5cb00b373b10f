package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wilfranr/control-id-miid/internal/conf"
	"github.com/wilfranr/control-id-miid/internal/errors"
	"github.com/wilfranr/control-id-miid/internal/logger"
	"github.com/wilfranr/control-id-miid/internal/observability"
	"github.com/wilfranr/control-id-miid/internal/reconcile"
	"github.com/wilfranr/control-id-miid/internal/syncer"
)

// stubSyncer answers every call with fixed values and remembers the trace
// id of the last reconcile request.
type stubSyncer struct {
	trace string
}

func (s *stubSyncer) Health() syncer.Health { return syncer.Health{State: syncer.StateUnknown} }
func (s *stubSyncer) Check(context.Context) syncer.Health { return s.Health() }
func (s *stubSyncer) LastOutcome() *reconcile.Outcome { return nil }
func (s *stubSyncer) Environment() string { return "DEV" }
func (s *stubSyncer) Environments() []string { return []string{"DEV"} }
func (s *stubSyncer) SwitchEnvironment(string, bool) error { return nil }

func (s *stubSyncer) ReconcileLatest(context.Context) (*reconcile.Outcome, error) {
	return nil, errors.New(syncer.ErrNoEnrollment).Category(errors.CategoryNotFound).Build()
}

func (s *stubSyncer) ReconcileDocument(ctx context.Context, document string) (*reconcile.Outcome, error) {
	s.trace = logger.TraceIDFrom(ctx)
	return &reconcile.Outcome{TraceID: s.trace, Document: document, Action: reconcile.ActionUnchanged}, nil
}

func testLogger() logger.Logger {
	return logger.NewSlogLogger(nil, logger.LogLevelError, time.UTC)
}

func newTestServer(t *testing.T, cfg *Config, opts ...ServerOption) (*Server, *stubSyncer) {
	t.Helper()
	svc := &stubSyncer{}
	opts = append(opts, WithLogger(testLogger()))
	return NewWithConfig(cfg, svc, opts...), svc
}

func serve(s *Server, req *http.Request) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	s.Echo().ServeHTTP(rec, req)
	return rec
}

func TestServer_BasicAuth(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Username, cfg.Password = "ops", "s3cret"
	s, _ := newTestServer(t, cfg)

	rec := serve(s, httptest.NewRequest(http.MethodGet, "/api/v1/health", http.NoBody))
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Contains(t, rec.Header().Get(echo.HeaderWWWAuthenticate), "controlid-sync")

	req := httptest.NewRequest(http.MethodGet, "/api/v1/health", http.NoBody)
	req.SetBasicAuth("ops", "wrong")
	assert.Equal(t, http.StatusUnauthorized, serve(s, req).Code)

	req = httptest.NewRequest(http.MethodGet, "/api/v1/health", http.NoBody)
	req.SetBasicAuth("ops", "s3cret")
	assert.Equal(t, http.StatusOK, serve(s, req).Code)

	// the liveness index stays open
	assert.Equal(t, http.StatusOK, serve(s, httptest.NewRequest(http.MethodGet, "/", http.NoBody)).Code)
}

func TestServer_NoAuthByDefault(t *testing.T) {
	s, _ := newTestServer(t, DefaultConfig())
	rec := serve(s, httptest.NewRequest(http.MethodGet, "/api/v1/environment", http.NoBody))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"active":"DEV","environments":["DEV"]}`, rec.Body.String())
}

func TestServer_RequestIDBecomesTraceID(t *testing.T) {
	s, svc := newTestServer(t, DefaultConfig())

	req := httptest.NewRequest(http.MethodPost, "/api/v1/reconcile/1001", http.NoBody)
	req.Header.Set(echo.HeaderXRequestID, "req-42")
	rec := serve(s, req)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "req-42", rec.Header().Get(echo.HeaderXRequestID))
	assert.Equal(t, "req-42", svc.trace)

	var out reconcile.Outcome
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	assert.Equal(t, "req-42", out.TraceID)
}

func TestServer_Metrics(t *testing.T) {
	m, err := observability.NewMetrics()
	require.NoError(t, err)
	m.Sync.RecordCycle("DEV", "empty")

	s, _ := newTestServer(t, DefaultConfig(), WithMetrics(m))
	rec := serve(s, httptest.NewRequest(http.MethodGet, "/metrics", http.NoBody))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "controlid_poll_cycles_total")

	cfg := DefaultConfig()
	cfg.Metrics = false
	s, _ = newTestServer(t, cfg, WithMetrics(m))
	rec = serve(s, httptest.NewRequest(http.MethodGet, "/metrics", http.NoBody))
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestServer_ReconcileLatestNotFound(t *testing.T) {
	s, _ := newTestServer(t, DefaultConfig())
	rec := serve(s, httptest.NewRequest(http.MethodPost, "/api/v1/reconcile", http.NoBody))
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestServer_StartAndShutdown(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Listen = "127.0.0.1:0"
	s, _ := newTestServer(t, cfg)

	s.Start()
	require.NoError(t, s.Shutdown(t.Context()))
}

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr bool
	}{
		{"defaults", func(*Config) {}, false},
		{"bad listen", func(c *Config) { c.Listen = "8088" }, true},
		{"user without password", func(c *Config) { c.Username = "ops" }, true},
		{"zero timeout", func(c *Config) { c.ReadTimeout = 0 }, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(cfg)
			err := cfg.Validate()
			if tt.wantErr {
				require.Error(t, err)
				assert.True(t, errors.IsConfiguration(err))
				return
			}
			assert.NoError(t, err)
		})
	}
}

func TestConfigFromSettings(t *testing.T) {
	settings := &conf.Settings{}
	settings.API.Listen = "0.0.0.0:9000"
	settings.API.Username = "ops"
	settings.API.Password = "pw"
	settings.Metrics.Enabled = true

	cfg := ConfigFromSettings(settings)
	assert.Equal(t, "0.0.0.0:9000", cfg.Listen)
	assert.True(t, cfg.AuthEnabled())
	assert.True(t, cfg.Metrics)

	settings.Metrics.Listen = "127.0.0.1:9100"
	assert.False(t, ConfigFromSettings(settings).Metrics)
}
