package documents

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/meridian-erp/meridian-erp/internal/audit"
	"github.com/meridian-erp/meridian-erp/internal/shared"
)

// Service manages draft documents. Posted documents are immutable; edits are
// only legal while the document is in DRAFT.
type Service struct {
	repo   Repository
	audit  AuditPort
	hooks  HookPort
	logger *slog.Logger
	now    func() time.Time
}

func NewService(repo Repository, audit AuditPort, hooks HookPort, logger *slog.Logger) *Service {
	return &Service{repo: repo, audit: audit, hooks: hooks, logger: logger, now: time.Now}
}

// WithNow overrides the clock for deterministic tests.
func (s *Service) WithNow(now func() time.Time) {
	if now != nil {
		s.now = now
	}
}

func (s *Service) Get(ctx context.Context, orgID, documentID int64) (Document, error) {
	return s.repo.Get(ctx, orgID, documentID)
}

func (s *Service) List(ctx context.Context, orgID int64) ([]Document, error) {
	return s.repo.List(ctx, orgID)
}

// CreateDraft inserts a new document in DRAFT state.
func (s *Service) CreateDraft(ctx context.Context, in CreateInput) (Document, error) {
	if err := in.Validate(); err != nil {
		return Document{}, err
	}
	if s.hooks != nil {
		s.hooks.Fire(ctx, in.OrgID, "document.create.before", map[string]any{"type": in.Type})
	}
	var doc Document
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		inserted, err := tx.InsertDocument(ctx, in, StateDraft)
		if err != nil {
			return err
		}
		lines, err := tx.ReplaceLines(ctx, inserted.ID, in.Lines)
		if err != nil {
			return err
		}
		inserted.Lines = lines
		doc = inserted
		return s.recordAuditTx(ctx, tx, shared.AuditRecord{
			OrgID:    doc.OrgID,
			ActorID:  in.CreatedBy,
			Action:   "document.create",
			Entity:   "document",
			EntityID: fmt.Sprintf("%d", doc.ID),
			After:    snapshotFields(doc),
			At:       s.now(),
		})
	})
	if err != nil {
		return Document{}, err
	}
	if s.hooks != nil {
		s.hooks.Fire(ctx, doc.OrgID, "document.create.after", map[string]any{"document_id": doc.ID})
	}
	return doc, nil
}

// UpdateDraft replaces the header and lines of a draft. The observed version
// must match or ErrVersionConflict is returned with no mutation.
func (s *Service) UpdateDraft(ctx context.Context, in UpdateInput) (Document, error) {
	if s.hooks != nil {
		s.hooks.Fire(ctx, in.OrgID, "document.update.before", map[string]any{"document_id": in.DocumentID})
	}
	var before, after Document
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		current, err := tx.GetDocumentForUpdate(ctx, in.OrgID, in.DocumentID)
		if err != nil {
			return err
		}
		if current.State != StateDraft {
			return ErrNotEditable
		}
		if current.Version != in.ObservedVersion {
			return ErrVersionConflict
		}
		before = current
		updated, err := tx.UpdateDraftHeader(ctx, in)
		if err != nil {
			return err
		}
		lines, err := tx.ReplaceLines(ctx, updated.ID, in.Lines)
		if err != nil {
			return err
		}
		updated.Lines = lines
		after = updated
		return s.recordAuditTx(ctx, tx, shared.AuditRecord{
			OrgID:    after.OrgID,
			ActorID:  in.ActorID,
			Action:   "document.update",
			Entity:   "document",
			EntityID: fmt.Sprintf("%d", after.ID),
			Before:   snapshotFields(before),
			After:    snapshotFields(after),
			At:       s.now(),
		})
	})
	if err != nil {
		return Document{}, err
	}
	if s.hooks != nil {
		s.hooks.Fire(ctx, after.OrgID, "document.update.after", map[string]any{"document_id": after.ID})
	}
	return after, nil
}

// recordAuditTx appends the audit entry through the caller's transaction so
// a failed chain write rolls the draft mutation back.
func (s *Service) recordAuditTx(ctx context.Context, app audit.Appender, rec shared.AuditRecord) error {
	if s.audit == nil {
		return nil
	}
	return s.audit.RecordWith(ctx, app, rec)
}

// snapshotFields flattens the auditable fields of a document for diffing.
func snapshotFields(doc Document) map[string]any {
	return map[string]any{
		"period_id":     doc.PeriodID,
		"date":          doc.Date.Format("2006-01-02"),
		"currency":      doc.Currency,
		"exchange_rate": doc.ExchangeRate.String(),
		"memo":          doc.Memo,
		"line_count":    len(doc.Lines),
		"total_debit":   doc.TotalDebit().String(),
		"total_credit":  doc.TotalCredit().String(),
	}
}
