package posting

import (
	"errors"
	"time"

	"github.com/shopspring/decimal"
)

var (
	// ErrOptimisticLockConflict indicates the document version moved since
	// the caller observed it. Refetch and retry.
	ErrOptimisticLockConflict = errors.New("posting: document version conflict")
	// ErrApprovalRequired indicates a draft tried to post without a
	// direct-post grant.
	ErrApprovalRequired = errors.New("posting: document requires approval")
	// ErrNotPostable indicates the document state does not allow posting.
	ErrNotPostable = errors.New("posting: document state does not allow posting")
	// ErrNotReversible indicates the document is not in POSTED state.
	ErrNotReversible = errors.New("posting: only posted documents can be reversed")
)

// LedgerEntry is one immutable posted row. BalanceAfter continues the
// account's running-balance chain: each entry equals the previous entry's
// balance plus this entry's signed amount.
type LedgerEntry struct {
	ID               int64
	OrgID            int64
	AccountID        int64
	DocumentID       int64
	LineID           int64
	PeriodID         int64
	Date             time.Time
	Debit            decimal.Decimal
	Credit           decimal.Decimal
	BalanceAfter     decimal.Decimal
	Currency         string
	ExchangeRate     decimal.Decimal
	FunctionalDebit  decimal.Decimal
	FunctionalCredit decimal.Decimal
	Seq              int64
	PostedBy         int64
	PostedAt         time.Time
}

// PostingResult reports what a post call produced. AlreadyPosted marks the
// idempotent repost case: the ids and balances describe the original posting
// and no new rows were written.
type PostingResult struct {
	DocumentID     int64
	LedgerEntryIDs []int64
	NewBalances    map[int64]decimal.Decimal
	AlreadyPosted  bool
}
