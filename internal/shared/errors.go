package shared

import "errors"

var (
	// ErrNotFound indicates resource not found.
	ErrNotFound = errors.New("not found")
	// ErrForbidden indicates the actor lacks a required role.
	ErrForbidden = errors.New("forbidden")
	// ErrLockTimeout indicates an account lock could not be acquired in time.
	ErrLockTimeout = errors.New("account lock wait timed out")
)

// FieldViolation is one failed business rule in transport-friendly form.
type FieldViolation struct {
	Rule     string `json:"rule"`
	Severity string `json:"severity"`
	Field    string `json:"field,omitempty"`
	Message  string `json:"message"`
}

// ViolationReporter is implemented by errors carrying rule violations so
// HTTP handlers can render them without importing the rule engine.
type ViolationReporter interface {
	error
	Report() []FieldViolation
}
