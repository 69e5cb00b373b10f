// Package notification alerts operators through shoutrrr services when a
// reconciliation fails or the device rejects a photo.
package notification

import (
	"context"
	"fmt"
	"io"
	"log"
	"slices"
	"strings"
	"time"

	shoutrrr "github.com/nicholas-fedor/shoutrrr"
	stypes "github.com/nicholas-fedor/shoutrrr/pkg/types"

	"github.com/wilfranr/control-id-miid/internal/conf"
	"github.com/wilfranr/control-id-miid/internal/errors"
	"github.com/wilfranr/control-id-miid/internal/events"
	"github.com/wilfranr/control-id-miid/internal/logger"
	"github.com/wilfranr/control-id-miid/internal/reconcile"
)

// ConsumerName is the bus name of the notifier
const ConsumerName = "notification"

const defaultTimeout = 10 * time.Second

// Sender delivers a message to every configured service
type Sender interface {
	Send(message string, params *stypes.Params) []error
}

// NewShoutrrrSender builds a router for urls. Invalid URLs are configuration errors.
func NewShoutrrrSender(urls []string, timeout time.Duration) (Sender, error) {
	if len(urls) == 0 {
		return nil, errors.Newf("at least one notification URL is required").
			Component("notification").
			Category(errors.CategoryConfiguration).
			Build()
	}
	sender, err := shoutrrr.CreateSender(slices.Clone(urls)...)
	if err != nil {
		// the error text may quote a URL with its token
		return nil, errors.Newf("invalid notification URL: %s", logger.RedactSensitiveData(err.Error())).
			Component("notification").
			Category(errors.CategoryConfiguration).
			Build()
	}
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	sender.Timeout = timeout
	sender.SetLogger(log.New(io.Discard, "", 0))
	return sender, nil
}

// Notifier sends one message per notable outcome
type Notifier struct {
	sender  Sender
	breaker *CircuitBreaker
	log     logger.Logger
}

var _ events.Consumer = (*Notifier)(nil)

// New creates a Notifier from settings
func New(settings conf.NotificationSettings, log logger.Logger) (*Notifier, error) {
	sender, err := NewShoutrrrSender(settings.URLs, settings.Timeout)
	if err != nil {
		return nil, err
	}
	return NewWithSender(sender, log), nil
}

// NewWithSender creates a Notifier delivering through sender
func NewWithSender(sender Sender, log logger.Logger) *Notifier {
	if log == nil {
		log = logger.Global().Module("notification")
	}
	n := &Notifier{
		sender:  sender,
		breaker: NewCircuitBreaker(DefaultCircuitBreakerConfig()),
		log:     log,
	}
	n.breaker.onStateChange = func(from, to CircuitState) {
		n.log.Warn("notification circuit changed state",
			logger.String("from", from.String()),
			logger.String("to", to.String()))
	}
	return n
}

// Name implements events.Consumer
func (n *Notifier) Name() string { return ConsumerName }

// Notable reports whether an outcome deserves an alert
func Notable(outcome *reconcile.Outcome) bool {
	return outcome.Failed() || outcome.PhotoRejected
}

// ProcessOutcome implements events.Consumer
func (n *Notifier) ProcessOutcome(ctx context.Context, outcome *reconcile.Outcome) error {
	if !Notable(outcome) {
		return nil
	}

	title, message := Format(outcome)
	return n.breaker.Call(ctx, func(context.Context) error {
		params := stypes.Params{}
		params.SetTitle(title)
		for _, err := range n.sender.Send(message, &params) {
			if err != nil {
				return errors.Newf("notification failed: %s", logger.RedactSensitiveData(err.Error())).
					Component("notification").
					Category(errors.CategoryNotification).
					Context("document", outcome.Document).
					Build()
			}
		}
		n.log.WithContext(ctx).Debug("notification sent",
			logger.String("document", outcome.Document),
			logger.String("action", string(outcome.Action)))
		return nil
	})
}

// Format renders the title and body of an alert
func Format(o *reconcile.Outcome) (title, message string) {
	switch {
	case o.Failed():
		title = fmt.Sprintf("[%s] sync failed for %s", o.Environment, o.Document)
	default:
		title = fmt.Sprintf("[%s] photo rejected for %s", o.Environment, o.Document)
	}

	var b strings.Builder
	fmt.Fprintf(&b, "Document: %s\n", o.Document)
	if o.Name != "" {
		fmt.Fprintf(&b, "Name: %s\n", o.Name)
	}
	fmt.Fprintf(&b, "Action: %s", o.Action)
	if o.Reason != "" {
		fmt.Fprintf(&b, " (%s)", o.Reason)
	}
	b.WriteString("\n")
	if o.UserID != 0 {
		fmt.Fprintf(&b, "Device user: %d\n", o.UserID)
	}
	if o.PhotoRejected {
		fmt.Fprintf(&b, "Face already registered to user %d\n", o.ConflictUserID)
	}
	for _, issue := range o.Issues {
		if issue.Severity == reconcile.SeverityInfo {
			continue
		}
		fmt.Fprintf(&b, "- %s\n", issue)
	}
	fmt.Fprintf(&b, "Trace: %s", o.TraceID)
	return title, b.String()
}
