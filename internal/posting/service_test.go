package posting

import (
	"context"
	"errors"
	"log/slog"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/meridian-erp/meridian-erp/internal/accounts"
	"github.com/meridian-erp/meridian-erp/internal/approval"
	"github.com/meridian-erp/meridian-erp/internal/audit"
	"github.com/meridian-erp/meridian-erp/internal/documents"
	"github.com/meridian-erp/meridian-erp/internal/periods"
	"github.com/meridian-erp/meridian-erp/internal/shared"
	"github.com/meridian-erp/meridian-erp/internal/validation"
)

func dec(s string) decimal.Decimal {
	d, err := decimal.NewFromString(s)
	if err != nil {
		panic(err)
	}
	return d
}

// memStore is an in-memory posting repository with copy-on-write transaction
// semantics: a failed tx leaves the store untouched.
type memStore struct {
	mu           sync.Mutex
	docs         map[int64]documents.Document
	periods      map[int64]periods.Period
	accounts     map[int64]accounts.Account
	ledger       []LedgerEntry
	audits       []audit.Entry
	nextDocID    int64
	nextLineID   int64
	nextLedgerID int64
}

func newMemStore() *memStore {
	return &memStore{
		docs:     make(map[int64]documents.Document),
		periods:  make(map[int64]periods.Period),
		accounts: make(map[int64]accounts.Account),
	}
}

func (s *memStore) clone() *memStore {
	out := newMemStore()
	for id, doc := range s.docs {
		doc.Lines = append([]documents.Line(nil), doc.Lines...)
		out.docs[id] = doc
	}
	for id, p := range s.periods {
		out.periods[id] = p
	}
	for id, a := range s.accounts {
		out.accounts[id] = a
	}
	out.ledger = append([]LedgerEntry(nil), s.ledger...)
	out.audits = append([]audit.Entry(nil), s.audits...)
	out.nextDocID = s.nextDocID
	out.nextLineID = s.nextLineID
	out.nextLedgerID = s.nextLedgerID
	return out
}

func (s *memStore) adopt(other *memStore) {
	s.docs = other.docs
	s.periods = other.periods
	s.accounts = other.accounts
	s.ledger = other.ledger
	s.audits = other.audits
	s.nextDocID = other.nextDocID
	s.nextLineID = other.nextLineID
	s.nextLedgerID = other.nextLedgerID
}

func (s *memStore) GetDocument(ctx context.Context, orgID, documentID int64) (documents.Document, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	doc, ok := s.docs[documentID]
	if !ok || doc.OrgID != orgID {
		return documents.Document{}, documents.ErrDocumentNotFound
	}
	doc.Lines = append([]documents.Line(nil), doc.Lines...)
	return doc, nil
}

func (s *memStore) ListPostableIDs(ctx context.Context, orgID, afterID int64, limit int) ([]int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var ids []int64
	for id, doc := range s.docs {
		if doc.OrgID == orgID && doc.State == documents.StateApproved && id > afterID {
			ids = append(ids, id)
		}
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	if len(ids) > limit {
		ids = ids[:limit]
	}
	return ids, nil
}

func (s *memStore) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	shadow := s.clone()
	if err := fn(ctx, &memTx{store: shadow}); err != nil {
		return err
	}
	s.adopt(shadow)
	return nil
}

type memTx struct {
	store *memStore
}

func (t *memTx) GetDocumentForUpdate(ctx context.Context, orgID, documentID int64) (documents.Document, error) {
	doc, ok := t.store.docs[documentID]
	if !ok || doc.OrgID != orgID {
		return documents.Document{}, documents.ErrDocumentNotFound
	}
	return doc, nil
}

func (t *memTx) GetPeriod(ctx context.Context, orgID, periodID int64) (periods.Period, error) {
	p, ok := t.store.periods[periodID]
	if !ok || p.OrgID != orgID {
		return periods.Period{}, periods.ErrPeriodNotFound
	}
	return p, nil
}

func (t *memTx) GetAccountsForUpdate(ctx context.Context, orgID int64, ids []int64) (map[int64]accounts.Account, error) {
	out := make(map[int64]accounts.Account, len(ids))
	for _, id := range ids {
		if a, ok := t.store.accounts[id]; ok && a.OrgID == orgID {
			out[id] = a
		}
	}
	return out, nil
}

func (t *memTx) ListLedgerEntriesByDocument(ctx context.Context, orgID, documentID int64) ([]LedgerEntry, error) {
	var out []LedgerEntry
	for _, e := range t.store.ledger {
		if e.OrgID == orgID && e.DocumentID == documentID {
			out = append(out, e)
		}
	}
	return out, nil
}

func (t *memTx) InsertLedgerEntry(ctx context.Context, entry LedgerEntry) (LedgerEntry, error) {
	for _, e := range t.store.ledger {
		if e.LineID == entry.LineID {
			return LedgerEntry{}, errDuplicateLine
		}
	}
	t.store.nextLedgerID++
	entry.ID = t.store.nextLedgerID
	seq := int64(0)
	for _, e := range t.store.ledger {
		if e.OrgID == entry.OrgID && e.AccountID == entry.AccountID && e.Seq > seq {
			seq = e.Seq
		}
	}
	entry.Seq = seq + 1
	entry.PostedAt = time.Now()
	t.store.ledger = append(t.store.ledger, entry)
	return entry, nil
}

func (t *memTx) UpdateAccountBalance(ctx context.Context, orgID, accountID int64, balance decimal.Decimal, expectedVersion int64) error {
	a, ok := t.store.accounts[accountID]
	if !ok || a.OrgID != orgID || a.Version != expectedVersion {
		return ErrOptimisticLockConflict
	}
	a.Balance = balance
	a.Version++
	t.store.accounts[accountID] = a
	return nil
}

func (t *memTx) UpdateDocumentState(ctx context.Context, orgID, documentID int64, from, to documents.DocumentState, expectedVersion int64) (int64, error) {
	doc, ok := t.store.docs[documentID]
	if !ok || doc.OrgID != orgID || doc.State != from || doc.Version != expectedVersion {
		return 0, ErrOptimisticLockConflict
	}
	doc.State = to
	doc.Version++
	t.store.docs[documentID] = doc
	return doc.Version, nil
}

func (t *memTx) InsertDocument(ctx context.Context, in documents.CreateInput, state documents.DocumentState) (documents.Document, error) {
	t.store.nextDocID++
	doc := documents.Document{
		ID:           t.store.nextDocID,
		OrgID:        in.OrgID,
		Number:       t.store.nextDocID,
		Type:         in.Type,
		PeriodID:     in.PeriodID,
		Date:         in.Date,
		Currency:     in.Currency,
		ExchangeRate: in.ExchangeRate,
		Memo:         in.Memo,
		State:        state,
		Version:      1,
		CreatedBy:    in.CreatedBy,
	}
	t.store.docs[doc.ID] = doc
	return doc, nil
}

func (t *memTx) InsertLines(ctx context.Context, documentID int64, lines []documents.LineInput) ([]documents.Line, error) {
	doc := t.store.docs[documentID]
	out := make([]documents.Line, 0, len(lines))
	for idx, in := range lines {
		t.store.nextLineID++
		line := documents.Line{
			ID:            t.store.nextLineID,
			DocumentID:    documentID,
			Position:      idx,
			AccountID:     in.AccountID,
			Debit:         in.Debit,
			Credit:        in.Credit,
			DimDepartment: in.DimDepartment,
			DimProject:    in.DimProject,
			DimCostCenter: in.DimCostCenter,
		}
		out = append(out, line)
	}
	doc.Lines = out
	t.store.docs[documentID] = doc
	return out, nil
}

func (t *memTx) Append(ctx context.Context, orgID int64, build func(head audit.ChainHead) audit.Entry) (audit.Entry, error) {
	head := audit.ChainHead{}
	for _, e := range t.store.audits {
		if e.OrgID == orgID && e.Seq > head.Seq {
			head = audit.ChainHead{Seq: e.Seq, Hash: e.ContentHash}
		}
	}
	entry := build(head)
	entry.ID = int64(len(t.store.audits) + 1)
	t.store.audits = append(t.store.audits, entry)
	return entry, nil
}

func (t *memTx) LinkReversal(ctx context.Context, orgID, originalID, reversalID int64) error {
	original := t.store.docs[originalID]
	original.ReversedByID = &reversalID
	t.store.docs[originalID] = original
	reversal := t.store.docs[reversalID]
	reversal.ReversalOfID = &originalID
	t.store.docs[reversalID] = reversal
	return nil
}

// memLocker serializes lock scopes with per-account mutexes.
type memLocker struct {
	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

func newMemLocker() *memLocker {
	return &memLocker{locks: make(map[string]*sync.Mutex)}
}

type memLease struct {
	held []*sync.Mutex
}

func (l *memLease) Release(ctx context.Context) {
	for i := len(l.held) - 1; i >= 0; i-- {
		l.held[i].Unlock()
	}
	l.held = nil
}

func (l *memLocker) LockAccounts(ctx context.Context, orgID int64, accountIDs []int64) (Lease, error) {
	sorted := append([]int64(nil), accountIDs...)
	for i := 0; i < len(sorted); i++ {
		for j := i + 1; j < len(sorted); j++ {
			if sorted[j] < sorted[i] {
				sorted[i], sorted[j] = sorted[j], sorted[i]
			}
		}
	}
	lease := &memLease{}
	l.mu.Lock()
	var muxes []*sync.Mutex
	for _, id := range sorted {
		key := shared.AccountLockKey(orgID, id)
		if l.locks[key] == nil {
			l.locks[key] = &sync.Mutex{}
		}
		muxes = append(muxes, l.locks[key])
	}
	l.mu.Unlock()
	for _, m := range muxes {
		m.Lock()
		lease.held = append(lease.held, m)
	}
	return lease, nil
}

// recordingAudit writes entries through the supplied appender like the real
// chain service, so a rolled back transaction discards them. failOn simulates
// an unavailable audit store for one action.
type recordingAudit struct {
	mu      sync.Mutex
	records []shared.AuditRecord
	failOn  string
}

func (a *recordingAudit) RecordWith(ctx context.Context, app audit.Appender, rec shared.AuditRecord) error {
	a.mu.Lock()
	failOn := a.failOn
	a.mu.Unlock()
	if failOn != "" && rec.Action == failOn {
		return errors.New("audit store unavailable")
	}
	if _, err := app.Append(ctx, rec.OrgID, func(head audit.ChainHead) audit.Entry {
		return audit.Entry{
			OrgID:        rec.OrgID,
			Seq:          head.Seq + 1,
			ActorID:      rec.ActorID,
			Action:       rec.Action,
			Entity:       rec.Entity,
			EntityID:     rec.EntityID,
			PreviousHash: head.Hash,
			At:           rec.At,
		}
	}); err != nil {
		return err
	}
	a.mu.Lock()
	a.records = append(a.records, rec)
	a.mu.Unlock()
	return nil
}

func (a *recordingAudit) byAction(action string) []shared.AuditRecord {
	a.mu.Lock()
	defer a.mu.Unlock()
	var out []shared.AuditRecord
	for _, rec := range a.records {
		if rec.Action == action {
			out = append(out, rec)
		}
	}
	return out
}

type passValidator struct{}

func (passValidator) CheckHard(ctx context.Context, doc documents.Document) error { return nil }

type openPolicyStore struct{}

func (openPolicyStore) GetPolicies(ctx context.Context, orgID int64, documentType string) ([]approval.Policy, error) {
	return []approval.Policy{{DocumentType: documentType, RequiredApprovals: 0}}, nil
}

type staticRules struct{}

func (staticRules) Resolve(ctx context.Context, orgID int64, currency string) validation.OrgRules {
	return validation.OrgRules{}
}

type fixture struct {
	store   *memStore
	service *Service
	audit   *recordingAudit
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	store := newMemStore()
	store.periods[5] = periods.Period{
		ID:        5,
		OrgID:     1,
		Code:      "2026-03",
		StartDate: time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC),
		EndDate:   time.Date(2026, 3, 31, 0, 0, 0, 0, time.UTC),
		Status:    periods.PeriodStatusOpen,
	}
	store.accounts[1] = accounts.Account{ID: 1, OrgID: 1, Code: "1000", Name: "Cash", Nature: accounts.NatureDebit, Balance: decimal.Zero, Version: 1, IsActive: true}
	store.accounts[2] = accounts.Account{ID: 2, OrgID: 1, Code: "4000", Name: "Revenue", Nature: accounts.NatureCredit, Balance: decimal.Zero, Version: 1, IsActive: true}

	logger := slog.Default()
	auditRec := &recordingAudit{}
	manager := documents.NewManager(nil, passValidator{}, auditRec, nil, logger)
	resolver := approval.NewResolver(openPolicyStore{}, nil, logger)
	svc := NewService(store, newMemLocker(), manager, resolver, auditRec, nil, staticRules{}, logger)
	return &fixture{store: store, service: svc, audit: auditRec}
}

func (f *fixture) addDocument(state documents.DocumentState, lines []documents.Line) documents.Document {
	f.store.mu.Lock()
	defer f.store.mu.Unlock()
	f.store.nextDocID++
	id := f.store.nextDocID
	for i := range lines {
		f.store.nextLineID++
		lines[i].ID = f.store.nextLineID
		lines[i].DocumentID = id
		lines[i].Position = i
	}
	doc := documents.Document{
		ID:           id,
		OrgID:        1,
		Number:       id,
		Type:         "INVOICE",
		PeriodID:     5,
		Date:         time.Date(2026, 3, 15, 0, 0, 0, 0, time.UTC),
		Currency:     "USD",
		ExchangeRate: dec("1"),
		State:        state,
		Version:      1,
		Lines:        lines,
	}
	f.store.docs[id] = doc
	return doc
}

func cashRevenueLines(amount string) []documents.Line {
	return []documents.Line{
		{AccountID: 1, Debit: dec(amount)},
		{AccountID: 2, Credit: dec(amount)},
	}
}

func TestPostBalancedDocument(t *testing.T) {
	f := newFixture(t)
	doc := f.addDocument(documents.StateApproved, cashRevenueLines("100.00"))
	actor := shared.Actor{ID: 9, OrgID: 1}

	result, err := f.service.Post(context.Background(), 1, doc.ID, actor, doc.Version)
	require.NoError(t, err)
	require.False(t, result.AlreadyPosted)
	require.Len(t, result.LedgerEntryIDs, 2)
	require.True(t, result.NewBalances[1].Equal(dec("100.00")))
	require.True(t, result.NewBalances[2].Equal(dec("100.00")))

	require.Equal(t, documents.StatePosted, f.store.docs[doc.ID].State)
	require.True(t, f.store.accounts[1].Balance.Equal(dec("100.00")))
	require.True(t, f.store.accounts[2].Balance.Equal(dec("100.00")))
	require.Len(t, f.audit.byAction("document.post"), 1)
	require.Len(t, f.audit.byAction("document.transition"), 1)
	// Both entries committed with the posting transaction.
	require.Len(t, f.store.audits, 2)
}

func TestPostUnbalancedDocumentFailsClosed(t *testing.T) {
	f := newFixture(t)
	doc := f.addDocument(documents.StateApproved, []documents.Line{
		{AccountID: 1, Debit: dec("100.00")},
		{AccountID: 2, Credit: dec("90.00")},
	})

	_, err := f.service.Post(context.Background(), 1, doc.ID, shared.Actor{ID: 9}, doc.Version)
	require.ErrorIs(t, err, validation.ErrValidationFailed)

	require.Empty(t, f.store.ledger)
	require.Equal(t, documents.StateApproved, f.store.docs[doc.ID].State)
	require.True(t, f.store.accounts[1].Balance.IsZero())
}

func TestPostClosedPeriodFailsWithZeroSideEffects(t *testing.T) {
	f := newFixture(t)
	p := f.store.periods[5]
	p.Status = periods.PeriodStatusClosed
	f.store.periods[5] = p
	doc := f.addDocument(documents.StateApproved, cashRevenueLines("100.00"))

	_, err := f.service.Post(context.Background(), 1, doc.ID, shared.Actor{ID: 9}, doc.Version)
	require.ErrorIs(t, err, periods.ErrPeriodClosed)
	require.Empty(t, f.store.ledger)
	require.Equal(t, documents.StateApproved, f.store.docs[doc.ID].State)
}

func TestPostIsIdempotent(t *testing.T) {
	f := newFixture(t)
	doc := f.addDocument(documents.StateApproved, cashRevenueLines("100.00"))
	actor := shared.Actor{ID: 9}

	first, err := f.service.Post(context.Background(), 1, doc.ID, actor, doc.Version)
	require.NoError(t, err)

	second, err := f.service.Post(context.Background(), 1, doc.ID, actor, f.store.docs[doc.ID].Version)
	require.NoError(t, err)
	require.True(t, second.AlreadyPosted)
	require.ElementsMatch(t, first.LedgerEntryIDs, second.LedgerEntryIDs)
	require.Len(t, f.store.ledger, 2)
	require.True(t, f.store.accounts[1].Balance.Equal(dec("100.00")))
}

func TestPostVersionConflict(t *testing.T) {
	f := newFixture(t)
	doc := f.addDocument(documents.StateApproved, cashRevenueLines("100.00"))

	_, err := f.service.Post(context.Background(), 1, doc.ID, shared.Actor{ID: 9}, doc.Version+1)
	require.ErrorIs(t, err, ErrOptimisticLockConflict)
	require.Empty(t, f.store.ledger)
}

func TestPostDraftRequiresDirectPostGrant(t *testing.T) {
	f := newFixture(t)
	doc := f.addDocument(documents.StateDraft, cashRevenueLines("50.00"))

	// Open policy allows direct posting of drafts.
	result, err := f.service.Post(context.Background(), 1, doc.ID, shared.Actor{ID: 9}, doc.Version)
	require.NoError(t, err)
	require.Len(t, result.LedgerEntryIDs, 2)
}

func TestPostAuditFailureRollsBackEverything(t *testing.T) {
	f := newFixture(t)
	f.audit.failOn = "document.post"
	doc := f.addDocument(documents.StateApproved, cashRevenueLines("100.00"))

	_, err := f.service.Post(context.Background(), 1, doc.ID, shared.Actor{ID: 9}, doc.Version)
	require.Error(t, err)

	require.Empty(t, f.store.ledger)
	require.Empty(t, f.store.audits)
	require.Equal(t, documents.StateApproved, f.store.docs[doc.ID].State)
	require.Equal(t, doc.Version, f.store.docs[doc.ID].Version)
	require.True(t, f.store.accounts[1].Balance.IsZero())
	require.Equal(t, int64(1), f.store.accounts[1].Version)
}

func TestPostRejectedDocumentIsNotPostable(t *testing.T) {
	f := newFixture(t)
	doc := f.addDocument(documents.StateRejected, cashRevenueLines("50.00"))

	_, err := f.service.Post(context.Background(), 1, doc.ID, shared.Actor{ID: 9}, doc.Version)
	require.ErrorIs(t, err, ErrNotPostable)
}

func TestRunningBalanceChain(t *testing.T) {
	f := newFixture(t)
	actor := shared.Actor{ID: 9}
	amounts := []string{"100.00", "250.50", "49.50"}
	for _, amount := range amounts {
		doc := f.addDocument(documents.StateApproved, cashRevenueLines(amount))
		_, err := f.service.Post(context.Background(), 1, doc.ID, actor, doc.Version)
		require.NoError(t, err)
	}

	running := decimal.Zero
	seq := int64(0)
	for _, entry := range f.store.ledger {
		if entry.AccountID != 1 {
			continue
		}
		seq++
		require.Equal(t, seq, entry.Seq)
		running = running.Add(entry.Debit).Sub(entry.Credit)
		require.True(t, entry.BalanceAfter.Equal(running), "entry %d balance_after mismatch", entry.Seq)
	}
	require.True(t, f.store.accounts[1].Balance.Equal(dec("400.00")))
}

func TestConcurrentPostsSerializePerAccount(t *testing.T) {
	f := newFixture(t)
	actor := shared.Actor{ID: 9}
	const n = 20
	docs := make([]documents.Document, 0, n)
	for i := 0; i < n; i++ {
		docs = append(docs, f.addDocument(documents.StateApproved, cashRevenueLines("10.00")))
	}

	var wg sync.WaitGroup
	errs := make(chan error, n)
	for _, doc := range docs {
		wg.Add(1)
		go func(doc documents.Document) {
			defer wg.Done()
			_, err := f.service.Post(context.Background(), 1, doc.ID, actor, doc.Version)
			errs <- err
		}(doc)
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		require.NoError(t, err)
	}

	require.True(t, f.store.accounts[1].Balance.Equal(dec("200.00")))
	seen := make(map[string]bool)
	for _, entry := range f.store.ledger {
		if entry.AccountID == 1 {
			require.False(t, seen[entry.BalanceAfter.String()], "duplicate balance_after %s", entry.BalanceAfter)
			seen[entry.BalanceAfter.String()] = true
		}
	}
}

func TestReverseMirrorsLinesAndPreservesOriginal(t *testing.T) {
	f := newFixture(t)
	actor := shared.Actor{ID: 9}
	doc := f.addDocument(documents.StateApproved, cashRevenueLines("100.00"))
	_, err := f.service.Post(context.Background(), 1, doc.ID, actor, doc.Version)
	require.NoError(t, err)

	originalEntries := append([]LedgerEntry(nil), f.store.ledger...)

	reversal, err := f.service.Reverse(context.Background(), 1, doc.ID, actor, "booked in error")
	require.NoError(t, err)
	require.Equal(t, documents.StatePosted, reversal.State)
	require.NotNil(t, reversal.ReversalOfID)
	require.Equal(t, doc.ID, *reversal.ReversalOfID)

	original := f.store.docs[doc.ID]
	require.Equal(t, documents.StateReversed, original.State)
	require.NotNil(t, original.ReversedByID)
	require.Equal(t, reversal.ID, *original.ReversedByID)

	require.Len(t, reversal.Lines, 2)
	require.True(t, reversal.Lines[0].Credit.Equal(dec("100.00")))
	require.True(t, reversal.Lines[0].Debit.IsZero())
	require.True(t, reversal.Lines[1].Debit.Equal(dec("100.00")))

	// The original rows are untouched; the reversal is purely additive.
	for i, entry := range originalEntries {
		require.Equal(t, entry, f.store.ledger[i])
	}
	require.Len(t, f.store.ledger, 4)
	require.True(t, f.store.accounts[1].Balance.IsZero())
	require.True(t, f.store.accounts[2].Balance.IsZero())
	require.Len(t, f.audit.byAction("document.reverse"), 1)
}

func TestReverseRequiresPostedState(t *testing.T) {
	f := newFixture(t)
	doc := f.addDocument(documents.StateApproved, cashRevenueLines("100.00"))

	_, err := f.service.Reverse(context.Background(), 1, doc.ID, shared.Actor{ID: 9}, "")
	require.ErrorIs(t, err, ErrNotReversible)
	require.Empty(t, f.store.ledger)
}

func TestReverseTwiceFails(t *testing.T) {
	f := newFixture(t)
	actor := shared.Actor{ID: 9}
	doc := f.addDocument(documents.StateApproved, cashRevenueLines("100.00"))
	_, err := f.service.Post(context.Background(), 1, doc.ID, actor, doc.Version)
	require.NoError(t, err)

	_, err = f.service.Reverse(context.Background(), 1, doc.ID, actor, "")
	require.NoError(t, err)

	_, err = f.service.Reverse(context.Background(), 1, doc.ID, actor, "")
	require.ErrorIs(t, err, ErrNotReversible)
	require.Len(t, f.store.ledger, 4)
}

func TestCreditNatureBalanceGrowsWithCredits(t *testing.T) {
	f := newFixture(t)
	actor := shared.Actor{ID: 9}
	doc := f.addDocument(documents.StateApproved, cashRevenueLines("100.00"))
	_, err := f.service.Post(context.Background(), 1, doc.ID, actor, doc.Version)
	require.NoError(t, err)

	var revenueEntry *LedgerEntry
	for i := range f.store.ledger {
		if f.store.ledger[i].AccountID == 2 {
			revenueEntry = &f.store.ledger[i]
		}
	}
	require.NotNil(t, revenueEntry)
	require.True(t, revenueEntry.BalanceAfter.Equal(dec("100.00")))
	require.True(t, revenueEntry.Credit.Equal(dec("100.00")))
}

func TestPostComputesFunctionalAmounts(t *testing.T) {
	f := newFixture(t)
	actor := shared.Actor{ID: 9}
	doc := f.addDocument(documents.StateApproved, cashRevenueLines("100.00"))
	stored := f.store.docs[doc.ID]
	stored.Currency = "EUR"
	stored.ExchangeRate = dec("1.0850")
	f.store.docs[doc.ID] = stored

	_, err := f.service.Post(context.Background(), 1, doc.ID, actor, stored.Version)
	require.NoError(t, err)

	for _, entry := range f.store.ledger {
		if entry.Debit.Sign() > 0 {
			require.True(t, entry.FunctionalDebit.Equal(dec("108.50")), "got %s", entry.FunctionalDebit)
		} else {
			require.True(t, entry.FunctionalCredit.Equal(dec("108.50")))
		}
	}
}
