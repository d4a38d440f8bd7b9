package batch

import (
	"context"
	"log/slog"
	"sort"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/meridian-erp/meridian-erp/internal/documents"
	"github.com/meridian-erp/meridian-erp/internal/posting"
	"github.com/meridian-erp/meridian-erp/internal/shared"
)

// Poster posts a single document. Satisfied by the posting service.
type Poster interface {
	Post(ctx context.Context, orgID, documentID int64, actor shared.Actor, observedVersion int64) (posting.PostingResult, error)
}

// DocumentReader fetches document heads and pages through postable ids.
// Each attempt re-reads the document so it posts against a fresh version.
type DocumentReader interface {
	GetDocument(ctx context.Context, orgID, documentID int64) (documents.Document, error)
	ListPostableIDs(ctx context.Context, orgID, afterID int64, limit int) ([]int64, error)
}

// ItemFailure reports one document that could not be posted.
type ItemFailure struct {
	DocumentID int64  `json:"document_id"`
	Reason     string `json:"reason"`
}

// Summary is the per-batch outcome. A batch never fails as a whole; each
// item succeeds or lands in Failed independently.
type Summary struct {
	Succeeded int           `json:"succeeded"`
	Failed    []ItemFailure `json:"failed"`
}

// Worker posts batches of documents with bounded concurrency. Items that
// lose an optimistic or lock race are retried with backoff; validation and
// state errors fail the item immediately.
type Worker struct {
	poster      Poster
	docs        DocumentReader
	logger      *slog.Logger
	concurrency int
	maxRetries  int
	backoff     time.Duration
}

func NewWorker(poster Poster, docs DocumentReader, logger *slog.Logger, concurrency, maxRetries int) *Worker {
	if concurrency < 1 {
		concurrency = 1
	}
	if maxRetries < 0 {
		maxRetries = 0
	}
	return &Worker{
		poster:      poster,
		docs:        docs,
		logger:      logger,
		concurrency: concurrency,
		maxRetries:  maxRetries,
		backoff:     50 * time.Millisecond,
	}
}

// WithBackoff overrides the retry backoff base for tests.
func (w *Worker) WithBackoff(d time.Duration) {
	if d > 0 {
		w.backoff = d
	}
}

// Run posts every document in the batch and reports the outcome. The
// context cancels in-flight work; documents not attempted before
// cancellation are reported as failed.
func (w *Worker) Run(ctx context.Context, orgID int64, documentIDs []int64, actor shared.Actor) Summary {
	var mu sync.Mutex
	summary := Summary{}

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(w.concurrency)
	for _, id := range documentIDs {
		g.Go(func() error {
			if err := w.postOne(ctx, orgID, id, actor); err != nil {
				mu.Lock()
				summary.Failed = append(summary.Failed, ItemFailure{DocumentID: id, Reason: err.Error()})
				mu.Unlock()
				return nil
			}
			mu.Lock()
			summary.Succeeded++
			mu.Unlock()
			return nil
		})
	}
	_ = g.Wait()

	sort.Slice(summary.Failed, func(i, j int) bool {
		return summary.Failed[i].DocumentID < summary.Failed[j].DocumentID
	})
	if w.logger != nil {
		w.logger.Info("batch posting finished",
			slog.Int64("org_id", orgID),
			slog.Int("total", len(documentIDs)),
			slog.Int("succeeded", summary.Succeeded),
			slog.Int("failed", len(summary.Failed)),
		)
	}
	return summary
}

// pendingPageSize bounds memory while draining pending documents.
const pendingPageSize = 200

// RunPending drains every approved document of the org in id order, one
// keyset page at a time, and reports the combined outcome.
func (w *Worker) RunPending(ctx context.Context, orgID int64, actor shared.Actor) (Summary, error) {
	var total Summary
	afterID := int64(0)
	for {
		ids, err := w.docs.ListPostableIDs(ctx, orgID, afterID, pendingPageSize)
		if err != nil {
			return total, err
		}
		if len(ids) == 0 {
			return total, nil
		}
		page := w.Run(ctx, orgID, ids, actor)
		total.Succeeded += page.Succeeded
		total.Failed = append(total.Failed, page.Failed...)
		afterID = ids[len(ids)-1]
		if err := ctx.Err(); err != nil {
			return total, err
		}
	}
}

func (w *Worker) postOne(ctx context.Context, orgID, documentID int64, actor shared.Actor) error {
	var lastErr error
	for attempt := 0; attempt <= w.maxRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(w.backoff * time.Duration(attempt)):
			}
		}
		doc, err := w.docs.GetDocument(ctx, orgID, documentID)
		if err != nil {
			return err
		}
		_, err = w.poster.Post(ctx, orgID, documentID, actor, doc.Version)
		if err == nil {
			return nil
		}
		lastErr = err
		if !posting.IsRetryable(err) {
			return err
		}
		if w.logger != nil {
			w.logger.Warn("batch item retry",
				slog.Int64("document_id", documentID),
				slog.Int("attempt", attempt+1),
				slog.Any("error", err),
			)
		}
	}
	return lastErr
}
