package documents

import (
	"errors"
	"time"

	"github.com/shopspring/decimal"
)

// DocumentState enumerates lifecycle states for a financial document.
type DocumentState string

const (
	StateDraft            DocumentState = "DRAFT"
	StateAwaitingApproval DocumentState = "AWAITING_APPROVAL"
	StateApproved         DocumentState = "APPROVED"
	StatePosted           DocumentState = "POSTED"
	StateRejected         DocumentState = "REJECTED"
	StateReversed         DocumentState = "REVERSED"
)

var (
	// ErrLifecycleViolation indicates an illegal state transition.
	ErrLifecycleViolation = errors.New("documents: illegal lifecycle transition")
	// ErrDocumentNotFound indicates a missing document.
	ErrDocumentNotFound = errors.New("documents: document not found")
	// ErrVersionConflict indicates the document changed since it was read.
	ErrVersionConflict = errors.New("documents: version conflict")
	// ErrNotEditable indicates the document left the draft state.
	ErrNotEditable = errors.New("documents: document is not editable")
)

// legalTransitions maps each state to the set of states reachable from it.
// DRAFT may reach POSTED directly when the approval policy allows direct
// posting; the posting service is still the only writer of that transition.
var legalTransitions = map[DocumentState][]DocumentState{
	StateDraft:            {StateAwaitingApproval, StateApproved, StatePosted, StateRejected},
	StateAwaitingApproval: {StateApproved, StateRejected},
	StateApproved:         {StatePosted, StateRejected},
	StatePosted:           {StateReversed},
}

// CanTransition reports whether moving from current to target is legal.
func CanTransition(current, target DocumentState) bool {
	for _, next := range legalTransitions[current] {
		if next == target {
			return true
		}
	}
	return false
}

// Line carries a debit amount xor a credit amount against one account, plus
// optional reporting dimensions carried through to the ledger.
type Line struct {
	ID            int64
	DocumentID    int64
	Position      int
	AccountID     int64
	Debit         decimal.Decimal
	Credit        decimal.Decimal
	DimDepartment *string
	DimProject    *string
	DimCostCenter *string
}

// Document is the header of a financial transaction awaiting posting.
type Document struct {
	ID           int64
	OrgID        int64
	Number       int64
	Type         string
	PeriodID     int64
	Date         time.Time
	Currency     string
	ExchangeRate decimal.Decimal
	Memo         string
	State        DocumentState
	Version      int64
	ReversalOfID *int64
	ReversedByID *int64
	CreatedBy    int64
	CreatedAt    time.Time
	UpdatedAt    time.Time
	Lines        []Line
}

// TotalDebit sums the debit side of all lines.
func (d Document) TotalDebit() decimal.Decimal {
	total := decimal.Zero
	for _, line := range d.Lines {
		total = total.Add(line.Debit)
	}
	return total
}

// TotalCredit sums the credit side of all lines.
func (d Document) TotalCredit() decimal.Decimal {
	total := decimal.Zero
	for _, line := range d.Lines {
		total = total.Add(line.Credit)
	}
	return total
}

// AccountIDs returns the distinct accounts referenced by the lines.
func (d Document) AccountIDs() []int64 {
	seen := make(map[int64]struct{}, len(d.Lines))
	out := make([]int64, 0, len(d.Lines))
	for _, line := range d.Lines {
		if _, ok := seen[line.AccountID]; ok {
			continue
		}
		seen[line.AccountID] = struct{}{}
		out = append(out, line.AccountID)
	}
	return out
}
