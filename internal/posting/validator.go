package posting

import (
	"context"
	"errors"

	"github.com/meridian-erp/meridian-erp/internal/accounts"
	"github.com/meridian-erp/meridian-erp/internal/documents"
	"github.com/meridian-erp/meridian-erp/internal/periods"
	"github.com/meridian-erp/meridian-erp/internal/validation"
)

// HardValidator adapts the validation engine to the lifecycle manager's
// Validator port. It resolves the account and period snapshot, runs the full
// rule set and surfaces only the hard subset.
type HardValidator struct {
	accounts accounts.Repository
	periods  periods.Repository
}

func NewHardValidator(accountRepo accounts.Repository, periodRepo periods.Repository) *HardValidator {
	return &HardValidator{accounts: accountRepo, periods: periodRepo}
}

func (v *HardValidator) CheckHard(ctx context.Context, doc documents.Document) error {
	snap := validation.Snapshot{}
	period, err := v.periods.Get(ctx, doc.OrgID, doc.PeriodID)
	if err != nil {
		if !errors.Is(err, periods.ErrPeriodNotFound) {
			return err
		}
	} else {
		snap.Period = period
		snap.PeriodFound = true
	}
	accs, err := v.accounts.GetByIDs(ctx, doc.OrgID, doc.AccountIDs())
	if err != nil {
		return err
	}
	snap.Accounts = accs
	if hard := validation.HardViolations(validation.Check(doc, snap, validation.OrgRules{})); len(hard) > 0 {
		return &validation.Error{Violations: hard}
	}
	return nil
}
