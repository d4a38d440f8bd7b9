package documents

import (
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// LineInput describes one document line in a create or update request.
type LineInput struct {
	AccountID     int64
	Debit         decimal.Decimal
	Credit        decimal.Decimal
	DimDepartment *string
	DimProject    *string
	DimCostCenter *string
}

// CreateInput groups fields required to create a draft document.
type CreateInput struct {
	OrgID        int64
	Type         string
	PeriodID     int64
	Date         time.Time
	Currency     string
	ExchangeRate decimal.Decimal
	Memo         string
	CreatedBy    int64
	Lines        []LineInput
}

// Validate ensures the draft input is structurally usable. Full accounting
// rules run in the validation engine before approval and posting.
func (in CreateInput) Validate() error {
	if in.OrgID == 0 {
		return errors.New("documents: org required")
	}
	if in.Type == "" {
		return errors.New("documents: document type required")
	}
	if in.PeriodID == 0 {
		return errors.New("documents: period required")
	}
	if in.Currency == "" {
		return errors.New("documents: currency required")
	}
	if in.ExchangeRate.Sign() <= 0 {
		return errors.New("documents: exchange rate must be positive")
	}
	for idx, line := range in.Lines {
		if line.AccountID == 0 {
			return fmt.Errorf("documents: line %d missing account", idx)
		}
		if line.Debit.Sign() < 0 || line.Credit.Sign() < 0 {
			return fmt.Errorf("documents: line %d negative amount", idx)
		}
	}
	return nil
}

// UpdateInput replaces the mutable fields of a draft document.
type UpdateInput struct {
	DocumentID      int64
	OrgID           int64
	ObservedVersion int64
	Date            time.Time
	PeriodID        int64
	Currency        string
	ExchangeRate    decimal.Decimal
	Memo            string
	ActorID         int64
	Lines           []LineInput
}
