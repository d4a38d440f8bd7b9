package documents

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/meridian-erp/meridian-erp/internal/audit"
	"github.com/meridian-erp/meridian-erp/internal/shared"
)

// Validator re-checks hard accounting rules before a document may advance to
// APPROVED or POSTED.
type Validator interface {
	CheckHard(ctx context.Context, doc Document) error
}

// AuditPort records audit entries through the caller's transaction appender,
// so a failed chain write rolls the business mutation back with it.
type AuditPort interface {
	RecordWith(ctx context.Context, app audit.Appender, rec shared.AuditRecord) error
}

// HookPort fires organization-configured lifecycle callbacks. Hook failures
// never propagate.
type HookPort interface {
	Fire(ctx context.Context, orgID int64, event string, payload map[string]any)
}

// StateWriter is the single write path for document.state. Both the document
// repository transaction and the posting transaction satisfy it, so every
// state change flows through the lifecycle manager.
type StateWriter interface {
	UpdateDocumentState(ctx context.Context, orgID, documentID int64, from, to DocumentState, expectedVersion int64) (int64, error)
}

// Manager owns document lifecycle transitions.
type Manager struct {
	repo      Repository
	validator Validator
	audit     AuditPort
	hooks     HookPort
	logger    *slog.Logger
	now       func() time.Time
}

func NewManager(repo Repository, validator Validator, audit AuditPort, hooks HookPort, logger *slog.Logger) *Manager {
	return &Manager{repo: repo, validator: validator, audit: audit, hooks: hooks, logger: logger, now: time.Now}
}

// WithNow overrides the clock for deterministic tests.
func (m *Manager) WithNow(now func() time.Time) {
	if now != nil {
		m.now = now
	}
}

// Transition moves a document between workflow states. POSTED and REVERSED
// are reserved for the posting service, which writes ledger rows in the same
// transaction via Apply.
func (m *Manager) Transition(ctx context.Context, orgID, documentID int64, target DocumentState, actor shared.Actor) (Document, error) {
	if target == StatePosted || target == StateReversed {
		return Document{}, fmt.Errorf("%w: %s is assigned by the posting service", ErrLifecycleViolation, target)
	}
	var doc Document
	var from DocumentState
	err := m.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		current, err := tx.GetDocumentForUpdate(ctx, orgID, documentID)
		if err != nil {
			return err
		}
		from = current.State
		newVersion, err := m.Apply(ctx, tx, current, target)
		if err != nil {
			return err
		}
		doc = current
		doc.State = target
		doc.Version = newVersion
		return m.RecordTransitionTx(ctx, tx, doc, from, target, actor)
	})
	if err != nil {
		return Document{}, err
	}
	m.FireTransitioned(ctx, doc, from, target)
	return doc, nil
}

// Apply validates legality and writes the state change through the supplied
// writer. It re-runs hard validation on the way into APPROVED or POSTED and
// mutates nothing when the transition is illegal.
func (m *Manager) Apply(ctx context.Context, w StateWriter, doc Document, target DocumentState) (int64, error) {
	if !CanTransition(doc.State, target) {
		return 0, fmt.Errorf("%w: %s -> %s", ErrLifecycleViolation, doc.State, target)
	}
	if target == StateApproved || target == StatePosted {
		if m.validator != nil {
			if err := m.validator.CheckHard(ctx, doc); err != nil {
				return 0, err
			}
		}
	}
	return w.UpdateDocumentState(ctx, doc.OrgID, doc.ID, doc.State, target, doc.Version)
}

// RecordTransitionTx writes the per-transition audit entry through the
// caller's transaction. A failed chain write aborts the transition.
func (m *Manager) RecordTransitionTx(ctx context.Context, app audit.Appender, doc Document, from, to DocumentState, actor shared.Actor) error {
	if m.audit == nil {
		return nil
	}
	return m.audit.RecordWith(ctx, app, shared.AuditRecord{
		OrgID:    doc.OrgID,
		ActorID:  actor.ID,
		Action:   "document.transition",
		Entity:   "document",
		EntityID: fmt.Sprintf("%d", doc.ID),
		Before:   map[string]any{"state": string(from)},
		After:    map[string]any{"state": string(to)},
		At:       m.now(),
	})
}

// FireTransitioned fires lifecycle hooks once the owning transaction has
// committed. Hook failures never propagate.
func (m *Manager) FireTransitioned(ctx context.Context, doc Document, from, to DocumentState) {
	if m.hooks != nil {
		m.hooks.Fire(ctx, doc.OrgID, "document.transitioned", map[string]any{
			"document_id": doc.ID,
			"from":        string(from),
			"to":          string(to),
		})
	}
}
