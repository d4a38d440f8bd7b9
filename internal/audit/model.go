package audit

import (
	"errors"
	"time"
)

var (
	// ErrEntrySealed indicates a write attempt against an immutable entry.
	ErrEntrySealed = errors.New("audit: entry is sealed")
	// ErrChainTampered indicates verification found a hash mismatch. This is
	// a critical alarm, never auto-corrected.
	ErrChainTampered = errors.New("audit: chain verification failed")
)

// FieldChange records one field-level before/after pair.
type FieldChange struct {
	Field  string `json:"field"`
	Before string `json:"before"`
	After  string `json:"after"`
}

// Entry is one hash-chained audit record. Entries are append-only; once
// IsImmutable is set the row may never change again.
type Entry struct {
	ID           int64
	OrgID        int64
	Seq          int64
	ActorID      int64
	Action       string
	Entity       string
	EntityID     string
	Changes      []FieldChange
	ContentHash  string
	PreviousHash string
	IsImmutable  bool
	At           time.Time
}

// VerificationResult reports the outcome of a chain walk.
type VerificationResult struct {
	OK          bool
	Checked     int
	MismatchSeq int64
	Reason      string
}

// SealResult summarizes one sealing pass.
type SealResult struct {
	Sealed  int
	Skipped int
}
