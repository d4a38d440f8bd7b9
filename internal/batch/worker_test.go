package batch

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/meridian-erp/meridian-erp/internal/documents"
	"github.com/meridian-erp/meridian-erp/internal/posting"
	"github.com/meridian-erp/meridian-erp/internal/shared"
	"github.com/meridian-erp/meridian-erp/internal/validation"
)

type stubDocs struct {
	pending []int64
}

func (s stubDocs) GetDocument(ctx context.Context, orgID, documentID int64) (documents.Document, error) {
	return documents.Document{ID: documentID, OrgID: orgID, Version: 1, State: documents.StateApproved}, nil
}

func (s stubDocs) ListPostableIDs(ctx context.Context, orgID, afterID int64, limit int) ([]int64, error) {
	var ids []int64
	for _, id := range s.pending {
		if id > afterID {
			ids = append(ids, id)
		}
		if len(ids) == limit {
			break
		}
	}
	return ids, nil
}

type scriptedPoster struct {
	mu       sync.Mutex
	errs     map[int64][]error
	attempts map[int64]int
	inFlight int
	peak     int
}

func newScriptedPoster(errs map[int64][]error) *scriptedPoster {
	return &scriptedPoster{errs: errs, attempts: make(map[int64]int)}
}

func (p *scriptedPoster) Post(ctx context.Context, orgID, documentID int64, actor shared.Actor, observedVersion int64) (posting.PostingResult, error) {
	p.mu.Lock()
	p.inFlight++
	if p.inFlight > p.peak {
		p.peak = p.inFlight
	}
	attempt := p.attempts[documentID]
	p.attempts[documentID]++
	var err error
	if queue := p.errs[documentID]; attempt < len(queue) {
		err = queue[attempt]
	}
	p.mu.Unlock()

	time.Sleep(5 * time.Millisecond)

	p.mu.Lock()
	p.inFlight--
	p.mu.Unlock()
	if err != nil {
		return posting.PostingResult{}, err
	}
	return posting.PostingResult{DocumentID: documentID}, nil
}

func TestBatchIsolatesItemFailures(t *testing.T) {
	invalid := &validation.Error{Violations: []validation.Violation{
		{Rule: "balanced", Severity: validation.SeverityHard, Message: "debits do not equal credits"},
	}}
	poster := newScriptedPoster(map[int64][]error{
		2: {invalid},
	})
	worker := NewWorker(poster, stubDocs{}, nil, 2, 3)
	worker.WithBackoff(time.Millisecond)

	summary := worker.Run(context.Background(), 1, []int64{1, 2, 3}, shared.Actor{ID: 9})

	require.Equal(t, 2, summary.Succeeded)
	require.Len(t, summary.Failed, 1)
	require.Equal(t, int64(2), summary.Failed[0].DocumentID)
	require.Contains(t, summary.Failed[0].Reason, "balanced")
}

func TestBatchRetriesRetryableErrors(t *testing.T) {
	poster := newScriptedPoster(map[int64][]error{
		1: {posting.ErrOptimisticLockConflict, shared.ErrLockTimeout},
	})
	worker := NewWorker(poster, stubDocs{}, nil, 1, 3)
	worker.WithBackoff(time.Millisecond)

	summary := worker.Run(context.Background(), 1, []int64{1}, shared.Actor{ID: 9})

	require.Equal(t, 1, summary.Succeeded)
	require.Empty(t, summary.Failed)
	require.Equal(t, 3, poster.attempts[1])
}

func TestBatchFailsAfterMaxRetries(t *testing.T) {
	poster := newScriptedPoster(map[int64][]error{
		1: {posting.ErrOptimisticLockConflict, posting.ErrOptimisticLockConflict, posting.ErrOptimisticLockConflict},
	})
	worker := NewWorker(poster, stubDocs{}, nil, 1, 2)
	worker.WithBackoff(time.Millisecond)

	summary := worker.Run(context.Background(), 1, []int64{1}, shared.Actor{ID: 9})

	require.Equal(t, 0, summary.Succeeded)
	require.Len(t, summary.Failed, 1)
	require.Equal(t, 3, poster.attempts[1])
}

func TestBatchNonRetryableFailsImmediately(t *testing.T) {
	poster := newScriptedPoster(map[int64][]error{
		1: {posting.ErrNotPostable},
	})
	worker := NewWorker(poster, stubDocs{}, nil, 1, 3)
	worker.WithBackoff(time.Millisecond)

	summary := worker.Run(context.Background(), 1, []int64{1}, shared.Actor{ID: 9})

	require.Len(t, summary.Failed, 1)
	require.Equal(t, 1, poster.attempts[1])
}

func TestBatchHonorsConcurrencyLimit(t *testing.T) {
	poster := newScriptedPoster(nil)
	worker := NewWorker(poster, stubDocs{}, nil, 2, 0)

	ids := make([]int64, 12)
	for i := range ids {
		ids[i] = int64(i + 1)
	}
	summary := worker.Run(context.Background(), 1, ids, shared.Actor{ID: 9})

	require.Equal(t, 12, summary.Succeeded)
	require.LessOrEqual(t, poster.peak, 2)
}

func TestRunPendingDrainsAllPages(t *testing.T) {
	pending := make([]int64, 7)
	for i := range pending {
		pending[i] = int64(i + 1)
	}
	poster := newScriptedPoster(map[int64][]error{
		4: {posting.ErrNotPostable},
	})
	worker := NewWorker(poster, stubDocs{pending: pending}, nil, 2, 0)

	summary, err := worker.RunPending(context.Background(), 1, shared.Actor{ID: 9})

	require.NoError(t, err)
	require.Equal(t, 6, summary.Succeeded)
	require.Len(t, summary.Failed, 1)
	require.Equal(t, int64(4), summary.Failed[0].DocumentID)
	for _, id := range pending {
		require.Equal(t, 1, poster.attempts[id])
	}
}

func TestBatchFailuresSortedByDocumentID(t *testing.T) {
	poster := newScriptedPoster(map[int64][]error{
		5: {posting.ErrNotPostable},
		2: {posting.ErrNotPostable},
		9: {posting.ErrNotPostable},
	})
	worker := NewWorker(poster, stubDocs{}, nil, 4, 0)

	summary := worker.Run(context.Background(), 1, []int64{9, 2, 5, 1}, shared.Actor{ID: 9})

	require.Equal(t, 1, summary.Succeeded)
	require.Len(t, summary.Failed, 3)
	require.Equal(t, int64(2), summary.Failed[0].DocumentID)
	require.Equal(t, int64(5), summary.Failed[1].DocumentID)
	require.Equal(t, int64(9), summary.Failed[2].DocumentID)
}
