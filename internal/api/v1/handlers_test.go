package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wilfranr/control-id-miid/internal/datastore"
	"github.com/wilfranr/control-id-miid/internal/errors"
	"github.com/wilfranr/control-id-miid/internal/logger"
	"github.com/wilfranr/control-id-miid/internal/reconcile"
	"github.com/wilfranr/control-id-miid/internal/syncer"
)

type fakeSyncer struct {
	mu        sync.Mutex
	health    syncer.Health
	checked   int
	last      *reconcile.Outcome
	outcomes  map[string]*reconcile.Outcome
	latest    *reconcile.Outcome
	err       error
	active    string
	envs      []string
	switched  []string
	persisted bool
}

func newFakeSyncer() *fakeSyncer {
	return &fakeSyncer{
		health:   syncer.Health{State: syncer.StateConnected, Environment: "DEV"},
		outcomes: map[string]*reconcile.Outcome{},
		active:   "DEV",
		envs:     []string{"DEV", "PROD"},
	}
}

func (f *fakeSyncer) Health() syncer.Health { return f.health }

func (f *fakeSyncer) Check(context.Context) syncer.Health {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.checked++
	h := f.health
	h.CheckedAt = time.Now()
	return h
}

func (f *fakeSyncer) LastOutcome() *reconcile.Outcome { return f.last }

func (f *fakeSyncer) ReconcileLatest(context.Context) (*reconcile.Outcome, error) {
	if f.err != nil {
		return f.latest, f.err
	}
	if f.latest == nil {
		return nil, errors.New(syncer.ErrNoEnrollment).Category(errors.CategoryNotFound).Build()
	}
	return f.latest, nil
}

func (f *fakeSyncer) ReconcileDocument(_ context.Context, document string) (*reconcile.Outcome, error) {
	if document == "" {
		return nil, errors.ValidationError("document is required")
	}
	if f.err != nil {
		return f.outcomes[document], f.err
	}
	if out, ok := f.outcomes[document]; ok {
		return out, nil
	}
	return &reconcile.Outcome{Document: document, Action: reconcile.ActionSkipped, Reason: reconcile.ReasonNotFound}, nil
}

func (f *fakeSyncer) Environment() string { return f.active }
func (f *fakeSyncer) Environments() []string { return f.envs }

func (f *fakeSyncer) SwitchEnvironment(name string, persist bool) error {
	for _, e := range f.envs {
		if e == name {
			f.active = name
			f.switched = append(f.switched, name)
			f.persisted = persist
			return nil
		}
	}
	return errors.Newf("environment %q is not defined", name).Category(errors.CategoryConfiguration).Build()
}

type fakeStore struct {
	entries []datastore.Entry
	limit   int
	doc     string
	err     error
}

func (s *fakeStore) Recent(_ context.Context, limit int) ([]datastore.Entry, error) {
	s.limit = limit
	return s.entries, s.err
}

func (s *fakeStore) ForDocument(_ context.Context, document string, limit int) ([]datastore.Entry, error) {
	s.limit, s.doc = limit, document
	var out []datastore.Entry
	for _, e := range s.entries {
		if e.Document == document {
			out = append(out, e)
		}
	}
	return out, s.err
}

func testLogger() logger.Logger {
	return logger.NewSlogLogger(nil, logger.LogLevelError, time.UTC)
}

func setup(t *testing.T, store OutcomeStore) (*echo.Echo, *fakeSyncer) {
	t.Helper()
	e := echo.New()
	svc := newFakeSyncer()
	New(e, svc, store, testLogger())
	return e, svc
}

func do(t *testing.T, e *echo.Echo, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	var req *http.Request
	if body != "" {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	} else {
		req = httptest.NewRequest(method, path, http.NoBody)
	}
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &v), rec.Body.String())
	return v
}

func TestGetHealth(t *testing.T) {
	e, svc := setup(t, nil)

	rec := do(t, e, http.MethodGet, "/api/v1/health", "")
	require.Equal(t, http.StatusOK, rec.Code)
	h := decode[syncer.Health](t, rec)
	assert.Equal(t, syncer.StateConnected, h.State)
	assert.Zero(t, svc.checked)

	rec = do(t, e, http.MethodGet, "/api/v1/health?check=true", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 1, svc.checked)
}

func TestGetLastOutcome(t *testing.T) {
	e, svc := setup(t, nil)

	rec := do(t, e, http.MethodGet, "/api/v1/outcomes/last", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)

	svc.last = &reconcile.Outcome{Document: "1001", Action: reconcile.ActionCreated}
	rec = do(t, e, http.MethodGet, "/api/v1/outcomes/last", "")
	require.Equal(t, http.StatusOK, rec.Code)
	out := decode[reconcile.Outcome](t, rec)
	assert.Equal(t, "1001", out.Document)
	assert.Equal(t, reconcile.ActionCreated, out.Action)
}

func TestListOutcomes(t *testing.T) {
	store := &fakeStore{entries: []datastore.Entry{
		{ID: 2, Document: "1002", Action: "created"},
		{ID: 1, Document: "1001", Action: "unchanged"},
	}}
	e, _ := setup(t, store)

	rec := do(t, e, http.MethodGet, "/api/v1/outcomes", "")
	require.Equal(t, http.StatusOK, rec.Code)
	resp := decode[OutcomesResponse](t, rec)
	assert.Equal(t, 2, resp.Count)
	assert.Equal(t, datastore.DefaultLimit, store.limit)

	rec = do(t, e, http.MethodGet, "/api/v1/outcomes?limit=5&document=1001", "")
	require.Equal(t, http.StatusOK, rec.Code)
	resp = decode[OutcomesResponse](t, rec)
	require.Len(t, resp.Outcomes, 1)
	assert.Equal(t, "1001", resp.Outcomes[0].Document)
	assert.Equal(t, 5, store.limit)
	assert.Equal(t, "1001", store.doc)
}

func TestListOutcomes_Errors(t *testing.T) {
	t.Run("invalid limit", func(t *testing.T) {
		e, _ := setup(t, &fakeStore{})
		rec := do(t, e, http.MethodGet, "/api/v1/outcomes?limit=abc", "")
		assert.Equal(t, http.StatusBadRequest, rec.Code)
		rec = do(t, e, http.MethodGet, "/api/v1/outcomes?limit=-1", "")
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})

	t.Run("journal disabled", func(t *testing.T) {
		e, _ := setup(t, nil)
		rec := do(t, e, http.MethodGet, "/api/v1/outcomes", "")
		assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	})

	t.Run("empty journal", func(t *testing.T) {
		e, _ := setup(t, &fakeStore{})
		rec := do(t, e, http.MethodGet, "/api/v1/outcomes", "")
		require.Equal(t, http.StatusOK, rec.Code)
		assert.JSONEq(t, `{"outcomes":[],"count":0}`, rec.Body.String())
	})
}

func TestReconcileDocument(t *testing.T) {
	e, svc := setup(t, nil)
	svc.outcomes["1001"] = &reconcile.Outcome{Document: "1001", Action: reconcile.ActionUpdated, UserID: 7}

	rec := do(t, e, http.MethodPost, "/api/v1/reconcile/1001", "")
	require.Equal(t, http.StatusOK, rec.Code)
	out := decode[reconcile.Outcome](t, rec)
	assert.Equal(t, reconcile.ActionUpdated, out.Action)
	assert.Equal(t, int64(7), out.UserID)

	// an unknown document is a result, not an error
	rec = do(t, e, http.MethodPost, "/api/v1/reconcile/9999", "")
	require.Equal(t, http.StatusOK, rec.Code)
	out = decode[reconcile.Outcome](t, rec)
	assert.Equal(t, reconcile.ReasonNotFound, out.Reason)
}

func TestReconcileDocument_AuthFailureCarriesOutcome(t *testing.T) {
	e, svc := setup(t, nil)
	svc.outcomes["1001"] = &reconcile.Outcome{TraceID: "t-1", Document: "1001", Action: reconcile.ActionFailed, Reason: reconcile.ReasonAuthFailed}
	svc.err = errors.Newf("login rejected").Category(errors.CategoryAuth).Build()

	rec := do(t, e, http.MethodPost, "/api/v1/reconcile/1001", "")
	require.Equal(t, http.StatusBadGateway, rec.Code)
	resp := decode[ErrorResponse](t, rec)
	require.NotNil(t, resp.Outcome)
	assert.Equal(t, reconcile.ReasonAuthFailed, resp.Outcome.Reason)
	assert.Equal(t, "t-1", resp.TraceID)
}

func TestReconcileLatest(t *testing.T) {
	e, svc := setup(t, nil)

	rec := do(t, e, http.MethodPost, "/api/v1/reconcile", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)

	svc.latest = &reconcile.Outcome{Document: "1001", Action: reconcile.ActionUnchanged}
	rec = do(t, e, http.MethodPost, "/api/v1/reconcile", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, reconcile.ActionUnchanged, decode[reconcile.Outcome](t, rec).Action)
}

func TestEnvironment(t *testing.T) {
	e, svc := setup(t, nil)

	rec := do(t, e, http.MethodGet, "/api/v1/environment", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, EnvironmentResponse{Active: "DEV", Environments: []string{"DEV", "PROD"}},
		decode[EnvironmentResponse](t, rec))

	rec = do(t, e, http.MethodPut, "/api/v1/environment", `{"name":"PROD","persist":true}`)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "PROD", decode[EnvironmentResponse](t, rec).Active)
	assert.True(t, svc.persisted)

	rec = do(t, e, http.MethodPut, "/api/v1/environment", `{"name":"QA"}`)
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	assert.Equal(t, "PROD", svc.active)

	rec = do(t, e, http.MethodPut, "/api/v1/environment", `{"name":"  "}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = do(t, e, http.MethodPut, "/api/v1/environment", `{"name":`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, []string{"PROD"}, svc.switched)
}

func TestStatusFor(t *testing.T) {
	tests := []struct {
		category errors.ErrorCategory
		want     int
	}{
		{errors.CategoryValidation, http.StatusBadRequest},
		{errors.CategoryNotFound, http.StatusNotFound},
		{errors.CategoryConfiguration, http.StatusUnprocessableEntity},
		{errors.CategoryState, http.StatusConflict},
		{errors.CategoryAuth, http.StatusBadGateway},
		{errors.CategorySourceUnavailable, http.StatusServiceUnavailable},
		{errors.CategoryJobQueue, http.StatusServiceUnavailable},
		{errors.CategoryCancellation, http.StatusGatewayTimeout},
		{errors.CategoryDatabase, http.StatusInternalServerError},
	}
	for _, tt := range tests {
		t.Run(string(tt.category), func(t *testing.T) {
			err := errors.Newf("boom").Category(tt.category).Build()
			assert.Equal(t, tt.want, StatusFor(err))
		})
	}
	assert.Equal(t, http.StatusOK, StatusFor(nil))
}
