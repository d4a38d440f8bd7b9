package audit

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/meridian-erp/meridian-erp/internal/shared"
)

// walkPageSize bounds memory while verifying long chains.
const walkPageSize = 200

// Service maintains the per-organization hash chain.
type Service struct {
	repo   Repository
	logger *slog.Logger
	now    func() time.Time
}

func NewService(repo Repository, logger *slog.Logger) *Service {
	return &Service{repo: repo, logger: logger, now: time.Now}
}

// WithNow overrides the clock for deterministic tests.
func (s *Service) WithNow(now func() time.Time) {
	if now != nil {
		s.now = now
	}
}

// Appender appends one entry to an organization's chain under the per-org
// critical section. The repository satisfies it for standalone records;
// business transaction wrappers satisfy it so the chain write joins the
// enclosing transaction.
type Appender interface {
	Append(ctx context.Context, orgID int64, build func(head ChainHead) Entry) (Entry, error)
}

// Record diffs the before/after snapshots, links the entry to the chain head
// and appends it in its own transaction.
func (s *Service) Record(ctx context.Context, rec shared.AuditRecord) error {
	return s.RecordWith(ctx, s.repo, rec)
}

// RecordWith is Record against a caller-supplied appender, typically the
// caller's repository transaction, so the audit entry commits or rolls back
// atomically with the mutation it describes.
func (s *Service) RecordWith(ctx context.Context, app Appender, rec shared.AuditRecord) error {
	if rec.Action == "" || rec.Entity == "" || rec.EntityID == "" {
		return errors.New("audit: record requires action/entity/entity_id")
	}
	at := rec.At
	if at.IsZero() {
		at = s.now()
	}
	changes := Diff(asFields(rec.Before), asFields(rec.After))
	_, err := app.Append(ctx, rec.OrgID, func(head ChainHead) Entry {
		entry := Entry{
			OrgID:        rec.OrgID,
			Seq:          head.Seq + 1,
			ActorID:      rec.ActorID,
			Action:       rec.Action,
			Entity:       rec.Entity,
			EntityID:     rec.EntityID,
			Changes:      changes,
			PreviousHash: head.Hash,
			At:           at,
		}
		entry.ContentHash = ContentHash(entry)
		return entry
	})
	return err
}

// VerifyChain walks the organization's chain in bounded pages, recomputes
// every hash and checks the linkage. It reports the first mismatch; a
// mismatch is an integrity alarm requiring manual investigation.
func (s *Service) VerifyChain(ctx context.Context, orgID int64) (VerificationResult, error) {
	result := VerificationResult{OK: true}
	prevHash := ""
	prevSeq := int64(0)
	for {
		entries, err := s.repo.WalkChain(ctx, orgID, prevSeq, walkPageSize)
		if err != nil {
			return VerificationResult{}, err
		}
		if len(entries) == 0 {
			return result, nil
		}
		for _, entry := range entries {
			if entry.Seq != prevSeq+1 {
				return s.mismatch(entry.Seq, result.Checked, fmt.Sprintf("sequence gap: expected %d", prevSeq+1)), nil
			}
			if entry.PreviousHash != prevHash {
				return s.mismatch(entry.Seq, result.Checked, "previous_hash does not match prior entry"), nil
			}
			if recomputed := ContentHash(entry); recomputed != entry.ContentHash {
				return s.mismatch(entry.Seq, result.Checked, "content_hash does not match stored fields"), nil
			}
			prevHash = entry.ContentHash
			prevSeq = entry.Seq
			result.Checked++
		}
	}
}

func (s *Service) mismatch(seq int64, checked int, reason string) VerificationResult {
	if s.logger != nil {
		s.logger.Error("audit chain mismatch", slog.Int64("seq", seq), slog.String("reason", reason))
	}
	return VerificationResult{OK: false, Checked: checked, MismatchSeq: seq, Reason: reason}
}

// Seal marks entries older than the cooling period immutable. Every candidate
// is re-verified against its own stored hash before sealing and already
// sealed rows are skipped, so an interrupted batch can simply be re-run.
func (s *Service) Seal(ctx context.Context, coolingPeriod time.Duration, batchSize int) (SealResult, error) {
	if batchSize <= 0 {
		batchSize = 500
	}
	cutoff := s.now().Add(-coolingPeriod)
	var result SealResult
	for {
		candidates, err := s.repo.ListSealCandidates(ctx, cutoff, batchSize)
		if err != nil {
			return result, err
		}
		if len(candidates) == 0 {
			return result, nil
		}
		progressed := false
		for _, entry := range candidates {
			if ContentHash(entry) != entry.ContentHash {
				return result, fmt.Errorf("%w: entry %d/%d failed pre-seal verification", ErrChainTampered, entry.OrgID, entry.Seq)
			}
			sealed, err := s.repo.MarkSealed(ctx, entry.ID)
			if err != nil {
				return result, err
			}
			if sealed {
				result.Sealed++
				progressed = true
			} else {
				result.Skipped++
			}
		}
		if !progressed {
			return result, nil
		}
		if len(candidates) < batchSize {
			return result, nil
		}
	}
}

func asFields(v any) map[string]any {
	if v == nil {
		return nil
	}
	if m, ok := v.(map[string]any); ok {
		return m
	}
	return map[string]any{"value": fmt.Sprint(v)}
}
