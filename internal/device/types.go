package device

import "fmt"

// Device API endpoints, relative to the configured base URL
const (
	endpointLogin          = "login.fcgi"
	endpointLoadObjects    = "load_objects.fcgi"
	endpointCreateObjects  = "create_objects.fcgi"
	endpointCreateOrModify = "create_or_modify_objects.fcgi"
	endpointSetImage       = "user_set_image.fcgi"
)

const (
	objectUsers      = "users"
	objectUserGroups = "user_groups"
)

// faceExistsCode is the error code the device returns when the face already
// belongs to another user
const faceExistsCode = 3

// User is a user record in the device directory
type User struct {
	ID           int64  `json:"id"`
	Registration string `json:"registration"`
	Name         string `json:"name"`
}

// ResultKind classifies the outcome of an idempotent device mutation
type ResultKind int

const (
	Success ResultKind = iota
	AlreadyExists
	Rejected
	HardFailure
)

func (k ResultKind) String() string {
	switch k {
	case Success:
		return "success"
	case AlreadyExists:
		return "already_exists"
	case Rejected:
		return "rejected"
	case HardFailure:
		return "hard_failure"
	default:
		return fmt.Sprintf("unknown(%d)", int(k))
	}
}

// Result describes a group or photo assignment.
// ConflictUserID is set for Rejected photos when the device reports the owner.
type Result struct {
	Kind           ResultKind
	StatusCode     int
	ConflictUserID int64
	Detail         string
}

// OK reports whether the mutation left the device in the requested state
func (r Result) OK() bool {
	return r.Kind == Success || r.Kind == AlreadyExists
}

type userValues struct {
	ID           int64  `json:"id,omitempty"`
	Name         string `json:"name"`
	Registration string `json:"registration"`
	Password     string `json:"password"`
	Salt         string `json:"salt"`
}

type groupValues struct {
	UserID  int64 `json:"user_id"`
	GroupID int64 `json:"group_id"`
}

type objectRequest struct {
	Object string `json:"object"`
	Values any    `json:"values,omitempty"`
}

type loginRequest struct {
	Login    string `json:"login"`
	Password string `json:"password"`
}
