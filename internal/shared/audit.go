package shared

import "time"

// AuditRecord describes one mutating action for the audit chain. Before and
// After carry entity snapshots; the chain computes the field-level diff.
type AuditRecord struct {
	OrgID    int64
	ActorID  int64
	Action   string
	Entity   string
	EntityID string
	Before   any
	After    any
	At       time.Time
}
