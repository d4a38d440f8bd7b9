package posting

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/shopspring/decimal"

	"github.com/meridian-erp/meridian-erp/internal/approval"
	"github.com/meridian-erp/meridian-erp/internal/audit"
	"github.com/meridian-erp/meridian-erp/internal/documents"
	"github.com/meridian-erp/meridian-erp/internal/periods"
	"github.com/meridian-erp/meridian-erp/internal/shared"
	"github.com/meridian-erp/meridian-erp/internal/validation"
)

// Lease is a held account lock scope.
type Lease interface {
	Release(ctx context.Context)
}

// Locker serializes concurrent postings that touch the same accounts.
type Locker interface {
	LockAccounts(ctx context.Context, orgID int64, accountIDs []int64) (Lease, error)
}

// RulesSource resolves the per-organization soft-rule configuration once per
// operation.
type RulesSource interface {
	Resolve(ctx context.Context, orgID int64, currency string) validation.OrgRules
}

// AuditPort records the summarizing audit entry through the posting
// transaction, so a failed chain write rolls the posting back.
type AuditPort interface {
	RecordWith(ctx context.Context, app audit.Appender, rec shared.AuditRecord) error
}

type HookPort interface {
	Fire(ctx context.Context, orgID int64, event string, payload map[string]any)
}

// Service is the single authorized entry point for turning documents into
// ledger entries.
type Service struct {
	repo      Repository
	locker    Locker
	lifecycle *documents.Manager
	approvals *approval.Resolver
	audit     AuditPort
	hooks     HookPort
	rules     RulesSource
	logger    *slog.Logger
	now       func() time.Time
}

func NewService(repo Repository, locker Locker, lifecycle *documents.Manager, approvals *approval.Resolver, audit AuditPort, hooks HookPort, rules RulesSource, logger *slog.Logger) *Service {
	return &Service{
		repo:      repo,
		locker:    locker,
		lifecycle: lifecycle,
		approvals: approvals,
		audit:     audit,
		hooks:     hooks,
		rules:     rules,
		logger:    logger,
		now:       time.Now,
	}
}

// WithNow overrides the clock for deterministic tests.
func (s *Service) WithNow(now func() time.Time) {
	if now != nil {
		s.now = now
	}
}

// Post turns an approved document into ledger entries. Reposting an already
// posted document is not an error: the original result is returned and no
// rows are written. observedVersion is the document version the caller last
// read; any drift fails with ErrOptimisticLockConflict.
func (s *Service) Post(ctx context.Context, orgID, documentID int64, actor shared.Actor, observedVersion int64) (PostingResult, error) {
	head, err := s.repo.GetDocument(ctx, orgID, documentID)
	if err != nil {
		return PostingResult{}, err
	}
	switch head.State {
	case documents.StateApproved, documents.StatePosted:
	case documents.StateDraft:
		decision, err := s.approvals.Resolve(ctx, head, actor)
		if err != nil {
			return PostingResult{}, err
		}
		if !decision.DirectPostAllowed {
			return PostingResult{}, fmt.Errorf("%w: %d approval(s) needed", ErrApprovalRequired, decision.RequiredApprovals)
		}
	default:
		return PostingResult{}, fmt.Errorf("%w: state %s", ErrNotPostable, head.State)
	}

	rules := s.resolveRules(ctx, orgID, head.Currency)
	lease, err := s.locker.LockAccounts(ctx, orgID, head.AccountIDs())
	if err != nil {
		return PostingResult{}, err
	}
	defer lease.Release(ctx)

	var result PostingResult
	var doc documents.Document
	var fromState documents.DocumentState
	var openings map[int64]decimal.Decimal
	err = s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		var err error
		doc, err = tx.GetDocumentForUpdate(ctx, orgID, documentID)
		if err != nil {
			return err
		}
		if doc.Version != observedVersion {
			return ErrOptimisticLockConflict
		}
		if doc.State == documents.StatePosted {
			existing, err := tx.ListLedgerEntriesByDocument(ctx, orgID, documentID)
			if err != nil {
				return err
			}
			result = resultFromEntries(doc.ID, existing)
			return nil
		}
		if doc.State != documents.StateApproved && doc.State != documents.StateDraft {
			return fmt.Errorf("%w: state %s", ErrNotPostable, doc.State)
		}
		fromState = doc.State
		result, openings, err = s.postInTx(ctx, tx, doc, actor, rules)
		if err != nil {
			return err
		}
		if err := s.lifecycle.RecordTransitionTx(ctx, tx, doc, fromState, documents.StatePosted, actor); err != nil {
			return err
		}
		return s.recordPostingAudit(ctx, tx, doc, actor, "document.post", openings, result.NewBalances)
	})
	if err != nil {
		return PostingResult{}, err
	}
	if !result.AlreadyPosted {
		s.lifecycle.FireTransitioned(ctx, doc, fromState, documents.StatePosted)
		s.fire(ctx, orgID, "document.posted", map[string]any{"document_id": doc.ID})
	}
	return result, nil
}

// Reverse creates and posts the mirror image of a posted document in one
// atomic unit. The original's ledger entries are never altered; the reversal
// is purely additive.
func (s *Service) Reverse(ctx context.Context, orgID, documentID int64, actor shared.Actor, reason string) (documents.Document, error) {
	head, err := s.repo.GetDocument(ctx, orgID, documentID)
	if err != nil {
		return documents.Document{}, err
	}
	if head.State != documents.StatePosted {
		return documents.Document{}, fmt.Errorf("%w: state %s", ErrNotReversible, head.State)
	}

	rules := s.resolveRules(ctx, orgID, head.Currency)
	lease, err := s.locker.LockAccounts(ctx, orgID, head.AccountIDs())
	if err != nil {
		return documents.Document{}, err
	}
	defer lease.Release(ctx)

	var original, reversal documents.Document
	var openings map[int64]decimal.Decimal
	var result PostingResult
	err = s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		var err error
		original, err = tx.GetDocumentForUpdate(ctx, orgID, documentID)
		if err != nil {
			return err
		}
		if original.State != documents.StatePosted {
			return fmt.Errorf("%w: state %s", ErrNotReversible, original.State)
		}
		in := mirrorInput(original, actor, reason)
		reversal, err = tx.InsertDocument(ctx, in, documents.StateApproved)
		if err != nil {
			return err
		}
		reversal.Lines, err = tx.InsertLines(ctx, reversal.ID, in.Lines)
		if err != nil {
			return err
		}
		result, openings, err = s.postInTx(ctx, tx, reversal, actor, rules)
		if err != nil {
			return err
		}
		reversal.State = documents.StatePosted
		if err := tx.LinkReversal(ctx, orgID, original.ID, reversal.ID); err != nil {
			return err
		}
		if _, err := s.lifecycle.Apply(ctx, tx, original, documents.StateReversed); err != nil {
			return err
		}
		reversal.ReversalOfID = &original.ID
		if err := s.lifecycle.RecordTransitionTx(ctx, tx, reversal, documents.StateApproved, documents.StatePosted, actor); err != nil {
			return err
		}
		if err := s.lifecycle.RecordTransitionTx(ctx, tx, original, documents.StatePosted, documents.StateReversed, actor); err != nil {
			return err
		}
		return s.recordPostingAudit(ctx, tx, reversal, actor, "document.reverse", openings, result.NewBalances)
	})
	if err != nil {
		return documents.Document{}, err
	}
	s.lifecycle.FireTransitioned(ctx, reversal, documents.StateApproved, documents.StatePosted)
	s.lifecycle.FireTransitioned(ctx, original, documents.StatePosted, documents.StateReversed)
	s.fire(ctx, orgID, "document.reversed", map[string]any{
		"document_id": original.ID,
		"reversal_id": reversal.ID,
		"reason":      reason,
	})
	return reversal, nil
}

// postInTx validates hard rules fail-closed and writes the ledger rows,
// balance updates and POSTED transition inside the caller's transaction.
func (s *Service) postInTx(ctx context.Context, tx TxRepository, doc documents.Document, actor shared.Actor, rules validation.OrgRules) (PostingResult, map[int64]decimal.Decimal, error) {
	period, err := tx.GetPeriod(ctx, doc.OrgID, doc.PeriodID)
	if err != nil {
		return PostingResult{}, nil, err
	}
	if period.Status != periods.PeriodStatusOpen {
		return PostingResult{}, nil, periods.ErrPeriodClosed
	}
	accs, err := tx.GetAccountsForUpdate(ctx, doc.OrgID, doc.AccountIDs())
	if err != nil {
		return PostingResult{}, nil, err
	}
	snap := validation.Snapshot{Accounts: accs, Period: period, PeriodFound: true}
	violations := validation.Check(doc, snap, rules)
	if hard := validation.HardViolations(violations); len(hard) > 0 {
		return PostingResult{}, nil, &validation.Error{Violations: hard}
	}
	s.logSoft(doc, violations)

	openings := make(map[int64]decimal.Decimal, len(accs))
	balances := make(map[int64]decimal.Decimal, len(accs))
	for id, account := range accs {
		openings[id] = account.Balance
		balances[id] = account.Balance
	}

	result := PostingResult{DocumentID: doc.ID, NewBalances: balances}
	for _, line := range doc.Lines {
		account := accs[line.AccountID]
		balanceAfter := balances[account.ID].Add(account.SignedAmount(line.Debit, line.Credit))
		balances[account.ID] = balanceAfter
		inserted, err := tx.InsertLedgerEntry(ctx, LedgerEntry{
			OrgID:            doc.OrgID,
			AccountID:        line.AccountID,
			DocumentID:       doc.ID,
			LineID:           line.ID,
			PeriodID:         doc.PeriodID,
			Date:             doc.Date,
			Debit:            line.Debit,
			Credit:           line.Credit,
			BalanceAfter:     balanceAfter,
			Currency:         doc.Currency,
			ExchangeRate:     doc.ExchangeRate,
			FunctionalDebit:  functional(line.Debit, doc.ExchangeRate),
			FunctionalCredit: functional(line.Credit, doc.ExchangeRate),
			PostedBy:         actor.ID,
		})
		if err != nil {
			return PostingResult{}, nil, err
		}
		result.LedgerEntryIDs = append(result.LedgerEntryIDs, inserted.ID)
	}
	for id, balance := range balances {
		if err := tx.UpdateAccountBalance(ctx, doc.OrgID, id, balance, accs[id].Version); err != nil {
			return PostingResult{}, nil, err
		}
	}
	if _, err := s.lifecycle.Apply(ctx, tx, doc, documents.StatePosted); err != nil {
		return PostingResult{}, nil, err
	}
	return result, openings, nil
}

func (s *Service) resolveRules(ctx context.Context, orgID int64, currency string) validation.OrgRules {
	if s.rules == nil {
		return validation.OrgRules{}
	}
	return s.rules.Resolve(ctx, orgID, currency)
}

func (s *Service) logSoft(doc documents.Document, violations []validation.Violation) {
	if s.logger == nil {
		return
	}
	for _, v := range violations {
		if v.Severity == validation.SeveritySoft {
			s.logger.Warn("soft validation warning",
				slog.Int64("document_id", doc.ID),
				slog.String("rule", v.Rule),
				slog.String("message", v.Message),
			)
		}
	}
}

// recordPostingAudit appends the summarizing audit entry through the posting
// transaction. A failed chain write aborts the posting.
func (s *Service) recordPostingAudit(ctx context.Context, app audit.Appender, doc documents.Document, actor shared.Actor, action string, openings, closings map[int64]decimal.Decimal) error {
	if s.audit == nil {
		return nil
	}
	before := map[string]any{"state": "", "total_debit": "0", "total_credit": "0"}
	after := map[string]any{
		"state":        string(documents.StatePosted),
		"total_debit":  doc.TotalDebit().String(),
		"total_credit": doc.TotalCredit().String(),
	}
	for id, balance := range openings {
		before[fmt.Sprintf("account_%d_balance", id)] = balance.String()
	}
	for id, balance := range closings {
		after[fmt.Sprintf("account_%d_balance", id)] = balance.String()
	}
	return s.audit.RecordWith(ctx, app, shared.AuditRecord{
		OrgID:    doc.OrgID,
		ActorID:  actor.ID,
		Action:   action,
		Entity:   "document",
		EntityID: fmt.Sprintf("%d", doc.ID),
		Before:   before,
		After:    after,
		At:       s.now(),
	})
}

func (s *Service) fire(ctx context.Context, orgID int64, event string, payload map[string]any) {
	if s.hooks != nil {
		s.hooks.Fire(ctx, orgID, event, payload)
	}
}

func resultFromEntries(documentID int64, entries []LedgerEntry) PostingResult {
	result := PostingResult{
		DocumentID:    documentID,
		NewBalances:   make(map[int64]decimal.Decimal, len(entries)),
		AlreadyPosted: true,
	}
	for _, entry := range entries {
		result.LedgerEntryIDs = append(result.LedgerEntryIDs, entry.ID)
		result.NewBalances[entry.AccountID] = entry.BalanceAfter
	}
	return result
}

func mirrorInput(original documents.Document, actor shared.Actor, reason string) documents.CreateInput {
	memo := reason
	if memo == "" {
		memo = fmt.Sprintf("Reversal of document %d", original.Number)
	}
	lines := make([]documents.LineInput, 0, len(original.Lines))
	for _, line := range original.Lines {
		lines = append(lines, documents.LineInput{
			AccountID:     line.AccountID,
			Debit:         line.Credit,
			Credit:        line.Debit,
			DimDepartment: line.DimDepartment,
			DimProject:    line.DimProject,
			DimCostCenter: line.DimCostCenter,
		})
	}
	return documents.CreateInput{
		OrgID:        original.OrgID,
		Type:         original.Type,
		PeriodID:     original.PeriodID,
		Date:         original.Date,
		Currency:     original.Currency,
		ExchangeRate: original.ExchangeRate,
		Memo:         memo,
		CreatedBy:    actor.ID,
		Lines:        lines,
	}
}

func functional(amount, rate decimal.Decimal) decimal.Decimal {
	if amount.Sign() == 0 {
		return decimal.Zero
	}
	return amount.Mul(rate).Round(2)
}

// NewRedisLocker adapts the shared account locker to the posting Locker port.
func NewRedisLocker(locker *shared.AccountLocker) Locker {
	return redisLocker{locker: locker}
}

type redisLocker struct {
	locker *shared.AccountLocker
}

func (l redisLocker) LockAccounts(ctx context.Context, orgID int64, accountIDs []int64) (Lease, error) {
	lease, err := l.locker.LockAccounts(ctx, orgID, accountIDs)
	if err != nil {
		return nil, err
	}
	return lease, nil
}

// IsRetryable reports whether the caller should refetch and retry.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrOptimisticLockConflict) || errors.Is(err, shared.ErrLockTimeout)
}
