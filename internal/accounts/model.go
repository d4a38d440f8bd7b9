package accounts

import (
	"time"

	"github.com/shopspring/decimal"
)

// AccountNature determines which side increases the balance.
type AccountNature string

const (
	NatureDebit  AccountNature = "DEBIT"
	NatureCredit AccountNature = "CREDIT"
)

// Account models a chart of accounts node. Balance is a cached running total
// mutated only by the posting service inside its transaction.
type Account struct {
	ID              int64
	OrgID           int64
	Code            string
	Name            string
	Nature          AccountNature
	Balance         decimal.Decimal
	Version         int64
	IsActive        bool
	RecommendedDims []string
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

// SignedAmount converts a debit/credit pair into this account's balance delta.
// Debit-nature accounts grow with debits, credit-nature accounts with credits.
func (a Account) SignedAmount(debit, credit decimal.Decimal) decimal.Decimal {
	if a.Nature == NatureCredit {
		return credit.Sub(debit)
	}
	return debit.Sub(credit)
}
