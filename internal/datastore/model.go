package datastore

import (
	"time"

	"github.com/wilfranr/control-id-miid/internal/reconcile"
)

// Entry is one journaled reconciliation outcome
type Entry struct {
	ID             uint              `gorm:"primaryKey" json:"id"`
	TraceID        string            `gorm:"size:36;index" json:"trace_id"`
	Environment    string            `gorm:"size:32;index:idx_entries_env_document" json:"environment"`
	Document       string            `gorm:"size:64;index:idx_entries_env_document" json:"document"`
	ExternalID     int64             `json:"external_id,omitempty"`
	Name           string            `json:"name,omitempty"`
	UserID         int64             `json:"user_id,omitempty"`
	Action         string            `gorm:"size:16;index" json:"action"`
	Reason         string            `gorm:"size:32" json:"reason,omitempty"`
	GroupAssigned  bool              `json:"group_assigned"`
	PhotoAssigned  bool              `json:"photo_assigned"`
	PhotoRejected  bool              `json:"photo_rejected"`
	ConflictUserID int64             `json:"conflict_user_id,omitempty"`
	Issues         []reconcile.Issue `gorm:"serializer:json" json:"issues,omitempty"`
	StartedAt      time.Time         `gorm:"index" json:"started_at"`
	DurationMs     int64             `json:"duration_ms"`
	CreatedAt      time.Time         `json:"created_at"`
}

// TableName pins the table name
func (Entry) TableName() string {
	return "journal_entries"
}

func newEntry(o *reconcile.Outcome) *Entry {
	return &Entry{
		TraceID:        o.TraceID,
		Environment:    o.Environment,
		Document:       o.Document,
		ExternalID:     o.ExternalID,
		Name:           o.Name,
		UserID:         o.UserID,
		Action:         string(o.Action),
		Reason:         o.Reason,
		GroupAssigned:  o.GroupAssigned,
		PhotoAssigned:  o.PhotoAssigned,
		PhotoRejected:  o.PhotoRejected,
		ConflictUserID: o.ConflictUserID,
		Issues:         o.Issues,
		StartedAt:      o.StartedAt,
		DurationMs:     o.Duration.Milliseconds(),
	}
}

// Outcome converts the entry back to the outcome it was recorded from
func (e *Entry) Outcome() *reconcile.Outcome {
	return &reconcile.Outcome{
		TraceID:        e.TraceID,
		Environment:    e.Environment,
		Document:       e.Document,
		ExternalID:     e.ExternalID,
		Name:           e.Name,
		UserID:         e.UserID,
		Action:         reconcile.Action(e.Action),
		Reason:         e.Reason,
		GroupAssigned:  e.GroupAssigned,
		PhotoAssigned:  e.PhotoAssigned,
		PhotoRejected:  e.PhotoRejected,
		ConflictUserID: e.ConflictUserID,
		Issues:         e.Issues,
		StartedAt:      e.StartedAt,
		Duration:       time.Duration(e.DurationMs) * time.Millisecond,
	}
}
