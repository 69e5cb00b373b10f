package notification

import (
	"sync"
	"testing"
	"time"

	stypes "github.com/nicholas-fedor/shoutrrr/pkg/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wilfranr/control-id-miid/internal/errors"
	"github.com/wilfranr/control-id-miid/internal/logger"
	"github.com/wilfranr/control-id-miid/internal/reconcile"
)

type sent struct {
	title   string
	message string
}

type fakeSender struct {
	mu   sync.Mutex
	sent []sent
	err  error
}

func (f *fakeSender) Send(message string, params *stypes.Params) []error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return []error{nil, f.err}
	}
	title, _ := params.Title()
	f.sent = append(f.sent, sent{title: title, message: message})
	return nil
}

func testNotifier(sender Sender) *Notifier {
	return NewWithSender(sender, logger.NewSlogLogger(nil, logger.LogLevelError, time.UTC))
}

func failedOutcome() *reconcile.Outcome {
	return &reconcile.Outcome{
		TraceID:     "trace-9",
		Environment: "PROD",
		Document:    "1020304050",
		Name:        "Ana Pérez",
		Action:      reconcile.ActionFailed,
		Reason:      reconcile.ReasonCreateFailed,
		Issues: []reconcile.Issue{
			{Step: reconcile.StepCreate, Severity: reconcile.SeverityError, Message: "device returned 500"},
			{Step: reconcile.StepPhotoFetch, Severity: reconcile.SeverityInfo, Message: "no photo available"},
		},
	}
}

func TestNotable(t *testing.T) {
	tests := []struct {
		name    string
		outcome reconcile.Outcome
		want    bool
	}{
		{"failed", reconcile.Outcome{Action: reconcile.ActionFailed}, true},
		{"photo rejected", reconcile.Outcome{Action: reconcile.ActionUnchanged, PhotoRejected: true}, true},
		{"created", reconcile.Outcome{Action: reconcile.ActionCreated}, false},
		{"skipped", reconcile.Outcome{Action: reconcile.ActionSkipped, Reason: reconcile.ReasonNotFound}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Notable(&tt.outcome))
		})
	}
}

func TestNotifier_SendsFailures(t *testing.T) {
	sender := &fakeSender{}
	n := testNotifier(sender)
	assert.Equal(t, ConsumerName, n.Name())

	require.NoError(t, n.ProcessOutcome(t.Context(), failedOutcome()))

	require.Len(t, sender.sent, 1)
	msg := sender.sent[0]
	assert.Equal(t, "[PROD] sync failed for 1020304050", msg.title)
	assert.Contains(t, msg.message, "Name: Ana Pérez")
	assert.Contains(t, msg.message, "Action: failed (create_failed)")
	assert.Contains(t, msg.message, "create/error: device returned 500")
	assert.NotContains(t, msg.message, "no photo available")
	assert.Contains(t, msg.message, "Trace: trace-9")
}

func TestNotifier_SendsPhotoRejections(t *testing.T) {
	sender := &fakeSender{}
	n := testNotifier(sender)

	out := &reconcile.Outcome{
		Environment:    "DEV",
		Document:       "99887766",
		Action:         reconcile.ActionUnchanged,
		UserID:         101,
		PhotoRejected:  true,
		ConflictUserID: 55,
	}
	require.NoError(t, n.ProcessOutcome(t.Context(), out))

	require.Len(t, sender.sent, 1)
	assert.Equal(t, "[DEV] photo rejected for 99887766", sender.sent[0].title)
	assert.Contains(t, sender.sent[0].message, "Face already registered to user 55")
	assert.Contains(t, sender.sent[0].message, "Device user: 101")
}

func TestNotifier_IgnoresRoutineOutcomes(t *testing.T) {
	sender := &fakeSender{}
	n := testNotifier(sender)

	require.NoError(t, n.ProcessOutcome(t.Context(), &reconcile.Outcome{Action: reconcile.ActionCreated}))
	assert.Empty(t, sender.sent)
}

func TestNotifier_SendErrorRedactsAndOpensCircuit(t *testing.T) {
	sender := &fakeSender{err: errors.NewStd("POST https://hooks.example/services?token=abc123 failed")}
	n := testNotifier(sender)

	var err error
	for range DefaultCircuitBreakerConfig().MaxFailures {
		err = n.ProcessOutcome(t.Context(), failedOutcome())
		require.Error(t, err)
		assert.True(t, errors.IsCategory(err, errors.CategoryNotification))
	}
	assert.NotContains(t, err.Error(), "abc123")
	assert.Equal(t, StateOpen, n.breaker.State())

	err = n.ProcessOutcome(t.Context(), failedOutcome())
	require.ErrorIs(t, err, ErrCircuitBreakerOpen)
}

func TestNewShoutrrrSender_Validation(t *testing.T) {
	_, err := NewShoutrrrSender(nil, time.Second)
	require.Error(t, err)
	assert.True(t, errors.IsConfiguration(err))

	_, err = NewShoutrrrSender([]string{"nosuchservice://token@host"}, time.Second)
	require.Error(t, err)
	assert.True(t, errors.IsConfiguration(err))
}
