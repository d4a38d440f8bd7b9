package validation

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/meridian-erp/meridian-erp/internal/accounts"
	"github.com/meridian-erp/meridian-erp/internal/documents"
	"github.com/meridian-erp/meridian-erp/internal/periods"
)

func dec(s string) decimal.Decimal {
	d, err := decimal.NewFromString(s)
	if err != nil {
		panic(err)
	}
	return d
}

func openSnapshot() Snapshot {
	return Snapshot{
		Accounts: map[int64]accounts.Account{
			1: {ID: 1, Code: "1000", Nature: accounts.NatureDebit, IsActive: true},
			2: {ID: 2, Code: "4000", Nature: accounts.NatureCredit, IsActive: true},
		},
		Period: periods.Period{
			ID:        5,
			Status:    periods.PeriodStatusOpen,
			StartDate: time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC),
			EndDate:   time.Date(2026, 3, 31, 0, 0, 0, 0, time.UTC),
		},
		PeriodFound: true,
	}
}

func balancedDoc() documents.Document {
	return documents.Document{
		ID:           10,
		PeriodID:     5,
		Date:         time.Date(2026, 3, 15, 0, 0, 0, 0, time.UTC),
		Currency:     "USD",
		ExchangeRate: dec("1"),
		Lines: []documents.Line{
			{AccountID: 1, Debit: dec("100.00")},
			{AccountID: 2, Credit: dec("100.00")},
		},
	}
}

func rulesByName(violations []Violation) map[string]Violation {
	out := make(map[string]Violation, len(violations))
	for _, v := range violations {
		out[v.Rule] = v
	}
	return out
}

func TestCheckPassesBalancedDocument(t *testing.T) {
	violations := Check(balancedDoc(), openSnapshot(), OrgRules{})
	require.Empty(t, violations)
}

func TestCheckFlagsUnbalancedDocument(t *testing.T) {
	doc := balancedDoc()
	doc.Lines[1].Credit = dec("90.00")
	violations := Check(doc, openSnapshot(), OrgRules{})
	v, ok := rulesByName(violations)["balanced"]
	require.True(t, ok)
	require.Equal(t, SeverityHard, v.Severity)
}

func TestCheckToleratesSmallestCurrencyUnit(t *testing.T) {
	doc := balancedDoc()
	doc.Lines[1].Credit = dec("99.99")
	violations := Check(doc, openSnapshot(), OrgRules{})
	require.Empty(t, violations)

	doc.Lines[1].Credit = dec("99.98")
	violations = Check(doc, openSnapshot(), OrgRules{})
	_, ok := rulesByName(violations)["balanced"]
	require.True(t, ok)
}

func TestCheckRequiresAtLeastOneLine(t *testing.T) {
	doc := balancedDoc()
	doc.Lines = nil
	violations := Check(doc, openSnapshot(), OrgRules{})
	_, ok := rulesByName(violations)["lines_present"]
	require.True(t, ok)
}

func TestCheckRejectsBothSidesSet(t *testing.T) {
	doc := balancedDoc()
	doc.Lines[0].Credit = dec("100.00")
	doc.Lines[1].Debit = dec("100.00")
	violations := Check(doc, openSnapshot(), OrgRules{})
	_, ok := rulesByName(violations)["line_single_side"]
	require.True(t, ok)
}

func TestCheckRejectsNeitherSideSet(t *testing.T) {
	doc := balancedDoc()
	doc.Lines = append(doc.Lines, documents.Line{AccountID: 1})
	violations := Check(doc, openSnapshot(), OrgRules{})
	_, ok := rulesByName(violations)["line_single_side"]
	require.True(t, ok)
}

func TestCheckRejectsNegativeAmount(t *testing.T) {
	doc := balancedDoc()
	doc.Lines[0].Debit = dec("-100.00")
	violations := Check(doc, openSnapshot(), OrgRules{})
	_, ok := rulesByName(violations)["line_non_negative"]
	require.True(t, ok)
}

func TestCheckClosedPeriodIsHard(t *testing.T) {
	snap := openSnapshot()
	snap.Period.Status = periods.PeriodStatusClosed
	violations := Check(balancedDoc(), snap, OrgRules{})
	v, ok := rulesByName(violations)["period_open"]
	require.True(t, ok)
	require.Equal(t, SeverityHard, v.Severity)
}

func TestCheckDateOutsidePeriod(t *testing.T) {
	doc := balancedDoc()
	doc.Date = time.Date(2026, 4, 1, 0, 0, 0, 0, time.UTC)
	violations := Check(doc, openSnapshot(), OrgRules{})
	_, ok := rulesByName(violations)["date_in_period"]
	require.True(t, ok)
}

func TestCheckUnknownAndInactiveAccounts(t *testing.T) {
	snap := openSnapshot()
	account := snap.Accounts[2]
	account.IsActive = false
	snap.Accounts[2] = account

	doc := balancedDoc()
	doc.Lines = append(doc.Lines,
		documents.Line{AccountID: 99, Debit: dec("10.00")},
		documents.Line{AccountID: 2, Credit: dec("10.00")},
	)
	violations := Check(doc, snap, OrgRules{})
	byRule := rulesByName(violations)
	require.Contains(t, byRule, "account_exists")
	require.Contains(t, byRule, "account_active")
}

func TestCheckSoftRateDeviation(t *testing.T) {
	doc := balancedDoc()
	doc.ExchangeRate = dec("1.5")
	rules := OrgRules{ReferenceRate: dec("1.0"), RateDeviationPct: dec("10")}
	violations := Check(doc, openSnapshot(), rules)
	v, ok := rulesByName(violations)["rate_deviation"]
	require.True(t, ok)
	require.Equal(t, SeveritySoft, v.Severity)
	require.Empty(t, HardViolations(violations))
}

func TestCheckSoftMissingDimension(t *testing.T) {
	snap := openSnapshot()
	account := snap.Accounts[2]
	account.RecommendedDims = []string{"department"}
	snap.Accounts[2] = account

	violations := Check(balancedDoc(), snap, OrgRules{WarnMissingDims: true})
	v, ok := rulesByName(violations)["recommended_dimension"]
	require.True(t, ok)
	require.Equal(t, SeveritySoft, v.Severity)

	dept := "sales"
	doc := balancedDoc()
	doc.Lines[1].DimDepartment = &dept
	violations = Check(doc, snap, OrgRules{WarnMissingDims: true})
	require.Empty(t, violations)
}
