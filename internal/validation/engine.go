package validation

import (
	"errors"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/meridian-erp/meridian-erp/internal/accounts"
	"github.com/meridian-erp/meridian-erp/internal/documents"
	"github.com/meridian-erp/meridian-erp/internal/periods"
	"github.com/meridian-erp/meridian-erp/internal/shared"
)

// Severity tags a violation as blocking or advisory.
type Severity string

const (
	SeverityHard Severity = "HARD"
	SeveritySoft Severity = "SOFT"
)

// Violation describes one failed rule.
type Violation struct {
	Rule     string
	Severity Severity
	Field    string
	Message  string
}

// ErrValidationFailed is the sentinel wrapped by Error.
var ErrValidationFailed = errors.New("validation failed")

// Error carries the hard violations that blocked an operation.
type Error struct {
	Violations []Violation
}

func (e *Error) Error() string {
	msgs := make([]string, 0, len(e.Violations))
	for _, v := range e.Violations {
		msgs = append(msgs, v.Rule+": "+v.Message)
	}
	return "validation failed: " + strings.Join(msgs, "; ")
}

func (e *Error) Unwrap() error { return ErrValidationFailed }

// Report exposes the violations through the shared transport interface.
func (e *Error) Report() []shared.FieldViolation {
	out := make([]shared.FieldViolation, 0, len(e.Violations))
	for _, v := range e.Violations {
		out = append(out, shared.FieldViolation{
			Rule:     v.Rule,
			Severity: string(v.Severity),
			Field:    v.Field,
			Message:  v.Message,
		})
	}
	return out
}

// Snapshot carries everything the engine needs so that checks stay pure. The
// caller resolves accounts and the period up front; the engine never touches
// the ledger store.
type Snapshot struct {
	Accounts    map[int64]accounts.Account
	Period      periods.Period
	PeriodFound bool
}

// OrgRules is the per-organization soft-rule configuration, resolved once per
// operation and passed in explicitly.
type OrgRules struct {
	// ReferenceRate and RateDeviationPct flag documents whose exchange rate
	// strays too far from the sourced rate. Zero disables the check.
	ReferenceRate    decimal.Decimal
	RateDeviationPct decimal.Decimal
	// WarnMissingDims warns when a line omits a dimension its account
	// recommends.
	WarnMissingDims bool
}

// currencyExponents lists currencies whose minor unit is not 2 decimals.
var currencyExponents = map[string]int32{
	"JPY": 0,
	"KRW": 0,
	"VND": 0,
	"BHD": 3,
	"KWD": 3,
}

// Tolerance returns one smallest unit of the given currency.
func Tolerance(currency string) decimal.Decimal {
	exp, ok := currencyExponents[currency]
	if !ok {
		exp = 2
	}
	return decimal.New(1, -exp)
}

// Check runs every rule against the document snapshot and returns all
// violations, hard and soft.
func Check(doc documents.Document, snap Snapshot, rules OrgRules) []Violation {
	var out []Violation
	out = append(out, checkLines(doc)...)
	out = append(out, checkBalance(doc)...)
	out = append(out, checkPeriod(doc, snap)...)
	out = append(out, checkAccounts(doc, snap)...)
	out = append(out, checkSoftRules(doc, snap, rules)...)
	return out
}

// HardViolations filters the blocking subset.
func HardViolations(violations []Violation) []Violation {
	var out []Violation
	for _, v := range violations {
		if v.Severity == SeverityHard {
			out = append(out, v)
		}
	}
	return out
}

func checkLines(doc documents.Document) []Violation {
	var out []Violation
	if len(doc.Lines) == 0 {
		out = append(out, Violation{Rule: "lines_present", Severity: SeverityHard, Message: "document has no lines"})
		return out
	}
	for idx, line := range doc.Lines {
		field := fmt.Sprintf("lines[%d]", idx)
		if line.Debit.Sign() < 0 || line.Credit.Sign() < 0 {
			out = append(out, Violation{Rule: "line_non_negative", Severity: SeverityHard, Field: field, Message: "amount must be non-negative"})
		}
		hasDebit := line.Debit.Sign() > 0
		hasCredit := line.Credit.Sign() > 0
		if hasDebit == hasCredit {
			out = append(out, Violation{Rule: "line_single_side", Severity: SeverityHard, Field: field, Message: "line must carry exactly one of debit or credit"})
		}
	}
	return out
}

func checkBalance(doc documents.Document) []Violation {
	if len(doc.Lines) == 0 {
		return nil
	}
	diff := doc.TotalDebit().Sub(doc.TotalCredit()).Abs()
	if diff.GreaterThan(Tolerance(doc.Currency)) {
		return []Violation{{
			Rule:     "balanced",
			Severity: SeverityHard,
			Message:  fmt.Sprintf("debits %s do not equal credits %s", doc.TotalDebit(), doc.TotalCredit()),
		}}
	}
	return nil
}

func checkPeriod(doc documents.Document, snap Snapshot) []Violation {
	if !snap.PeriodFound {
		return []Violation{{Rule: "period_open", Severity: SeverityHard, Field: "period_id", Message: "period does not exist"}}
	}
	var out []Violation
	if snap.Period.Status != periods.PeriodStatusOpen {
		out = append(out, Violation{Rule: "period_open", Severity: SeverityHard, Field: "period_id", Message: "period is closed"})
	}
	if !snap.Period.Contains(doc.Date) {
		out = append(out, Violation{Rule: "date_in_period", Severity: SeverityHard, Field: "date", Message: "document date outside period window"})
	}
	return out
}

func checkAccounts(doc documents.Document, snap Snapshot) []Violation {
	var out []Violation
	for idx, line := range doc.Lines {
		field := fmt.Sprintf("lines[%d].account_id", idx)
		account, ok := snap.Accounts[line.AccountID]
		if !ok {
			out = append(out, Violation{Rule: "account_exists", Severity: SeverityHard, Field: field, Message: fmt.Sprintf("account %d does not exist", line.AccountID)})
			continue
		}
		if !account.IsActive {
			out = append(out, Violation{Rule: "account_active", Severity: SeverityHard, Field: field, Message: fmt.Sprintf("account %s is inactive", account.Code)})
		}
	}
	return out
}

func checkSoftRules(doc documents.Document, snap Snapshot, rules OrgRules) []Violation {
	var out []Violation
	if rules.RateDeviationPct.Sign() > 0 && rules.ReferenceRate.Sign() > 0 && doc.ExchangeRate.Sign() > 0 {
		deviation := doc.ExchangeRate.Sub(rules.ReferenceRate).Abs().
			Div(rules.ReferenceRate).
			Mul(decimal.NewFromInt(100))
		if deviation.GreaterThan(rules.RateDeviationPct) {
			out = append(out, Violation{
				Rule:     "rate_deviation",
				Severity: SeveritySoft,
				Field:    "exchange_rate",
				Message:  fmt.Sprintf("exchange rate %s deviates %s%% from reference %s", doc.ExchangeRate, deviation.Round(2), rules.ReferenceRate),
			})
		}
	}
	if rules.WarnMissingDims {
		for idx, line := range doc.Lines {
			account, ok := snap.Accounts[line.AccountID]
			if !ok {
				continue
			}
			for _, dim := range account.RecommendedDims {
				if !lineHasDim(line, dim) {
					out = append(out, Violation{
						Rule:     "recommended_dimension",
						Severity: SeveritySoft,
						Field:    fmt.Sprintf("lines[%d]", idx),
						Message:  fmt.Sprintf("account %s recommends dimension %s", account.Code, dim),
					})
				}
			}
		}
	}
	return out
}

func lineHasDim(line documents.Line, dim string) bool {
	switch dim {
	case "department":
		return line.DimDepartment != nil && *line.DimDepartment != ""
	case "project":
		return line.DimProject != nil && *line.DimProject != ""
	case "cost_center":
		return line.DimCostCenter != nil && *line.DimCostCenter != ""
	}
	return true
}
