package audit

import (
	"bytes"
	"context"
	"encoding/csv"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/meridian-erp/meridian-erp/internal/shared"
)

type memoryChainRepo struct {
	mu      sync.Mutex
	entries []Entry
	nextID  int64
}

func newMemoryChainRepo() *memoryChainRepo {
	return &memoryChainRepo{}
}

func (r *memoryChainRepo) Append(ctx context.Context, orgID int64, build func(head ChainHead) Entry) (Entry, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var head ChainHead
	for _, e := range r.entries {
		if e.OrgID == orgID && e.Seq > head.Seq {
			head = ChainHead{Seq: e.Seq, Hash: e.ContentHash}
		}
	}
	entry := build(head)
	r.nextID++
	entry.ID = r.nextID
	r.entries = append(r.entries, entry)
	return entry, nil
}

func (r *memoryChainRepo) WalkChain(ctx context.Context, orgID int64, fromSeq int64, limit int) ([]Entry, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []Entry
	for _, e := range r.entries {
		if e.OrgID == orgID && e.Seq > fromSeq {
			out = append(out, e)
			if len(out) == limit {
				break
			}
		}
	}
	return out, nil
}

func (r *memoryChainRepo) ListSealCandidates(ctx context.Context, olderThan time.Time, limit int) ([]Entry, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []Entry
	for _, e := range r.entries {
		if !e.IsImmutable && e.At.Before(olderThan) {
			out = append(out, e)
			if len(out) == limit {
				break
			}
		}
	}
	return out, nil
}

func (r *memoryChainRepo) MarkSealed(ctx context.Context, id int64) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i := range r.entries {
		if r.entries[i].ID == id {
			if r.entries[i].IsImmutable {
				return false, nil
			}
			r.entries[i].IsImmutable = true
			return true, nil
		}
	}
	return false, nil
}

func recordN(t *testing.T, svc *Service, n int) {
	t.Helper()
	for i := 0; i < n; i++ {
		err := svc.Record(context.Background(), shared.AuditRecord{
			OrgID:    1,
			ActorID:  7,
			Action:   "document.update",
			Entity:   "document",
			EntityID: "42",
			Before:   map[string]any{"memo": "old"},
			After:    map[string]any{"memo": "new"},
		})
		require.NoError(t, err)
	}
}

func TestRecordLinksChain(t *testing.T) {
	repo := newMemoryChainRepo()
	svc := NewService(repo, nil)
	recordN(t, svc, 3)

	entries, err := repo.WalkChain(context.Background(), 1, 0, 10)
	require.NoError(t, err)
	require.Len(t, entries, 3)
	require.Equal(t, int64(1), entries[0].Seq)
	require.Empty(t, entries[0].PreviousHash)
	require.Equal(t, entries[0].ContentHash, entries[1].PreviousHash)
	require.Equal(t, entries[1].ContentHash, entries[2].PreviousHash)
	for _, e := range entries {
		require.Equal(t, ContentHash(e), e.ContentHash)
	}
}

func TestRecordChainsPerOrg(t *testing.T) {
	repo := newMemoryChainRepo()
	svc := NewService(repo, nil)
	require.NoError(t, svc.Record(context.Background(), shared.AuditRecord{OrgID: 1, ActorID: 1, Action: "a", Entity: "e", EntityID: "1"}))
	require.NoError(t, svc.Record(context.Background(), shared.AuditRecord{OrgID: 2, ActorID: 1, Action: "a", Entity: "e", EntityID: "1"}))

	org2, err := repo.WalkChain(context.Background(), 2, 0, 10)
	require.NoError(t, err)
	require.Len(t, org2, 1)
	require.Equal(t, int64(1), org2[0].Seq)
	require.Empty(t, org2[0].PreviousHash)
}

func TestVerifyChainUntampered(t *testing.T) {
	repo := newMemoryChainRepo()
	svc := NewService(repo, nil)
	recordN(t, svc, 5)

	result, err := svc.VerifyChain(context.Background(), 1)
	require.NoError(t, err)
	require.True(t, result.OK)
	require.Equal(t, 5, result.Checked)
}

func TestVerifyChainDetectsFieldTamper(t *testing.T) {
	repo := newMemoryChainRepo()
	svc := NewService(repo, nil)
	recordN(t, svc, 5)

	repo.entries[2].EntityID = "999"

	result, err := svc.VerifyChain(context.Background(), 1)
	require.NoError(t, err)
	require.False(t, result.OK)
	require.Equal(t, int64(3), result.MismatchSeq)
	require.Equal(t, 2, result.Checked)
}

func TestVerifyChainDetectsBrokenLink(t *testing.T) {
	repo := newMemoryChainRepo()
	svc := NewService(repo, nil)
	recordN(t, svc, 3)

	// Rewrite one entry and recompute its own hash. The self-hash checks out
	// but the next entry's previous_hash no longer matches.
	repo.entries[1].Action = "document.delete"
	repo.entries[1].ContentHash = ContentHash(repo.entries[1])

	result, err := svc.VerifyChain(context.Background(), 1)
	require.NoError(t, err)
	require.False(t, result.OK)
	require.Equal(t, int64(3), result.MismatchSeq)
}

func TestSealOlderEntries(t *testing.T) {
	repo := newMemoryChainRepo()
	svc := NewService(repo, nil)
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	svc.WithNow(func() time.Time { return base })
	recordN(t, svc, 3)
	svc.WithNow(func() time.Time { return base.Add(48 * time.Hour) })
	recordN(t, svc, 2)

	result, err := svc.Seal(context.Background(), 24*time.Hour, 100)
	require.NoError(t, err)
	require.Equal(t, 3, result.Sealed)

	// Re-running is a no-op: everything eligible is already sealed.
	result, err = svc.Seal(context.Background(), 24*time.Hour, 100)
	require.NoError(t, err)
	require.Equal(t, 0, result.Sealed)
}

func TestSealRefusesTamperedEntry(t *testing.T) {
	repo := newMemoryChainRepo()
	svc := NewService(repo, nil)
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	svc.WithNow(func() time.Time { return base })
	recordN(t, svc, 2)
	repo.entries[0].ActorID = 666

	svc.WithNow(func() time.Time { return base.Add(48 * time.Hour) })
	_, err := svc.Seal(context.Background(), 24*time.Hour, 100)
	require.ErrorIs(t, err, ErrChainTampered)
}

func TestDiffReportsChangedFieldsSorted(t *testing.T) {
	changes := Diff(
		map[string]any{"memo": "old", "state": "DRAFT", "currency": "USD"},
		map[string]any{"memo": "new", "state": "APPROVED", "currency": "USD"},
	)
	require.Len(t, changes, 2)
	require.Equal(t, "memo", changes[0].Field)
	require.Equal(t, "state", changes[1].Field)
	require.Equal(t, "DRAFT", changes[1].Before)
	require.Equal(t, "APPROVED", changes[1].After)
}

func TestExportCSVRendersActionLabels(t *testing.T) {
	repo := newMemoryChainRepo()
	svc := NewService(repo, nil)
	require.NoError(t, svc.Record(context.Background(), shared.AuditRecord{OrgID: 1, ActorID: 7, Action: "document.post", Entity: "document", EntityID: "42"}))
	require.NoError(t, svc.Record(context.Background(), shared.AuditRecord{OrgID: 1, ActorID: 7, Action: "period.close", Entity: "period", EntityID: "3"}))

	var buf bytes.Buffer
	require.NoError(t, svc.ExportCSV(context.Background(), 1, &buf))

	rows, err := csv.NewReader(&buf).ReadAll()
	require.NoError(t, err)
	require.Len(t, rows, 3)
	require.Equal(t, "description", rows[0][4])
	require.Equal(t, "document.post", rows[1][3])
	require.Equal(t, "Document Post", rows[1][4])
	require.Equal(t, "Period Close", rows[2][4])
}

func TestContentHashDeterministic(t *testing.T) {
	entry := Entry{
		OrgID:        1,
		Seq:          4,
		ActorID:      2,
		Action:       "document.post",
		Entity:       "document",
		EntityID:     "10",
		Changes:      []FieldChange{{Field: "state", Before: "APPROVED", After: "POSTED"}},
		PreviousHash: "abc",
		At:           time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC),
	}
	first := ContentHash(entry)
	second := ContentHash(entry)
	require.Equal(t, first, second)
	require.Len(t, first, 64)

	entry.Changes[0].After = "REVERSED"
	require.NotEqual(t, first, ContentHash(entry))
}
