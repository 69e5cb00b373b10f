// Package enrollment reads successfully enrolled persons from the MiID MySQL store.
package enrollment

import (
	"strings"
	"time"
)

// Invalid record reasons
const (
	ReasonEmptyDocument = "empty_document"
	ReasonEmptyName     = "empty_name"
)

// namePrefix builds the placeholder name of persons without any name columns
const namePrefix = "Usuario_"

// Record is one enrollment row joined with its person. Built fresh per query.
type Record struct {
	ExternalID int64     // log_process_enroll.LP_ID
	Document   string    // person.PER_DOCUMENT_NUMBER, trimmed
	Name       string    // resolved display name
	EnrolledAt time.Time // LP_CREATION_DATE
	Status     int       // LP_STATUS_PROCESS
}

// Invalid reports why the record cannot be reconciled, if it cannot.
func (r *Record) Invalid() (reason string, bad bool) {
	switch {
	case r.Document == "":
		return ReasonEmptyDocument, true
	case strings.TrimSpace(r.Name) == "":
		return ReasonEmptyName, true
	}
	return "", false
}

// ResolveName picks the display name: first and last name, then the ANI first
// name, then "Usuario_<document>". Empty only when every input is empty.
func ResolveName(first, last, aniFirst, document string) string {
	if full := strings.TrimSpace(first + " " + last); full != "" {
		return full
	}
	if ani := strings.TrimSpace(aniFirst); ani != "" {
		return ani
	}
	if document != "" {
		return namePrefix + document
	}
	return ""
}
