package reconcile

import (
	"fmt"
	"time"
)

// Action is the overall result of reconciling one record
type Action string

const (
	ActionCreated   Action = "created"
	ActionUpdated   Action = "updated"
	ActionUnchanged Action = "unchanged"
	ActionSkipped   Action = "skipped"
	ActionFailed    Action = "failed"
)

// Reasons explain skipped and failed outcomes
const (
	ReasonInvalidRecord = "invalid_record"
	ReasonNotFound      = "not_found"
	ReasonLookupFailed  = "lookup_failed"
	ReasonCreateFailed  = "create_failed"
	ReasonAuthFailed    = "auth_failed"
	ReasonSourceFailed  = "source_unavailable"
)

// Step names one stage of a reconciliation
type Step string

const (
	StepValidate    Step = "validate"
	StepSource      Step = "source"
	StepLookup      Step = "lookup"
	StepCreate      Step = "create"
	StepModify      Step = "modify"
	StepGroup       Step = "group"
	StepPhotoFetch  Step = "photo_fetch"
	StepPhotoAssign Step = "photo_assign"
)

// Severity of an Issue
type Severity string

const (
	SeverityInfo    Severity = "info"
	SeverityWarning Severity = "warning"
	SeverityError   Severity = "error"
)

// Issue is a non-fatal problem recorded during a reconciliation
type Issue struct {
	Step     Step     `json:"step"`
	Severity Severity `json:"severity"`
	Message  string   `json:"message"`
}

func (i Issue) String() string {
	return fmt.Sprintf("%s/%s: %s", i.Step, i.Severity, i.Message)
}

// Outcome is the record of one reconciliation attempt.
// UserID is 0 when no device user was found or created.
type Outcome struct {
	TraceID        string        `json:"trace_id"`
	Environment    string        `json:"environment"`
	Document       string        `json:"document"`
	ExternalID     int64         `json:"external_id,omitempty"`
	Name           string        `json:"name,omitempty"`
	UserID         int64         `json:"user_id,omitempty"`
	Action         Action        `json:"action"`
	Reason         string        `json:"reason,omitempty"`
	GroupAssigned  bool          `json:"group_assigned"`
	PhotoAssigned  bool          `json:"photo_assigned"`
	PhotoRejected  bool          `json:"photo_rejected"`
	ConflictUserID int64         `json:"conflict_user_id,omitempty"`
	Issues         []Issue       `json:"issues,omitempty"`
	StartedAt      time.Time     `json:"started_at"`
	Duration       time.Duration `json:"duration"`
}

func (o *Outcome) addIssue(step Step, severity Severity, format string, args ...any) {
	o.Issues = append(o.Issues, Issue{Step: step, Severity: severity, Message: fmt.Sprintf(format, args...)})
}

// Created reports whether the device user was created by this attempt
func (o *Outcome) Created() bool { return o.Action == ActionCreated }

// Updated reports whether the device user's name was modified
func (o *Outcome) Updated() bool { return o.Action == ActionUpdated }

// Failed reports whether the record could not be reconciled
func (o *Outcome) Failed() bool { return o.Action == ActionFailed }

// HasErrors reports whether any issue has error severity
func (o *Outcome) HasErrors() bool {
	for _, i := range o.Issues {
		if i.Severity == SeverityError {
			return true
		}
	}
	return false
}
