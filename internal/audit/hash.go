package audit

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"sort"
	"time"
)

// canonicalEntry fixes the field order for hashing. All fields are structs or
// scalars (no maps) so json.Marshal output is deterministic across process
// restarts.
type canonicalEntry struct {
	OrgID        int64         `json:"org_id"`
	Seq          int64         `json:"seq"`
	ActorID      int64         `json:"actor_id"`
	Action       string        `json:"action"`
	Entity       string        `json:"entity"`
	EntityID     string        `json:"entity_id"`
	Changes      []FieldChange `json:"changes"`
	PreviousHash string        `json:"previous_hash"`
	At           string        `json:"at"`
}

// ContentHash computes the entry's canonical SHA-256 digest. The previous
// hash participates, which is what links the chain.
func ContentHash(e Entry) string {
	canonical := canonicalEntry{
		OrgID:        e.OrgID,
		Seq:          e.Seq,
		ActorID:      e.ActorID,
		Action:       e.Action,
		Entity:       e.Entity,
		EntityID:     e.EntityID,
		Changes:      e.Changes,
		PreviousHash: e.PreviousHash,
		At:           e.At.UTC().Format(time.RFC3339Nano),
	}
	data, err := json.Marshal(canonical)
	if err != nil {
		// Only unmarshalable types reach here, and canonicalEntry has none.
		panic(err)
	}
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

// Diff flattens before/after snapshots into sorted field changes. Unchanged
// fields are dropped.
func Diff(before, after map[string]any) []FieldChange {
	keys := make(map[string]struct{}, len(before)+len(after))
	for k := range before {
		keys[k] = struct{}{}
	}
	for k := range after {
		keys[k] = struct{}{}
	}
	changes := make([]FieldChange, 0, len(keys))
	for k := range keys {
		b := stringify(before[k])
		a := stringify(after[k])
		if b == a {
			continue
		}
		changes = append(changes, FieldChange{Field: k, Before: b, After: a})
	}
	sort.Slice(changes, func(i, j int) bool { return changes[i].Field < changes[j].Field })
	return changes
}

func stringify(v any) string {
	if v == nil {
		return ""
	}
	return fmt.Sprint(v)
}
