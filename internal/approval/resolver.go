package approval

import (
	"context"
	"log/slog"

	"github.com/shopspring/decimal"

	"github.com/meridian-erp/meridian-erp/internal/documents"
	"github.com/meridian-erp/meridian-erp/internal/shared"
)

// Policy maps a document type and amount bracket to an approval requirement.
// Policies are configuration: read-only from this subsystem's perspective.
type Policy struct {
	OrgID             int64
	DocumentType      string
	MinAmount         decimal.Decimal
	MaxAmount         decimal.Decimal // zero means unbounded
	RequiredApprovals int
	BypassRole        string
}

// Matches reports whether the policy bracket covers the amount.
func (p Policy) Matches(amount decimal.Decimal) bool {
	if amount.LessThan(p.MinAmount) {
		return false
	}
	if p.MaxAmount.Sign() > 0 && amount.GreaterThan(p.MaxAmount) {
		return false
	}
	return true
}

// PolicyStore looks up the organization's approval policies. Implemented by
// the configuration subsystem; a pgx-backed store ships in this package.
type PolicyStore interface {
	GetPolicies(ctx context.Context, orgID int64, documentType string) ([]Policy, error)
}

// Decision is the resolver output consumed by the posting service.
type Decision struct {
	DirectPostAllowed bool
	RequiredApprovals int
}

// conservativeDefault queues the document for one approval when no policy
// matches. Missing configuration must never widen posting rights.
var conservativeDefault = Decision{DirectPostAllowed: false, RequiredApprovals: 1}

// Resolver decides whether a document may post directly.
type Resolver struct {
	policies PolicyStore
	roles    shared.RoleChecker
	logger   *slog.Logger
}

func NewResolver(policies PolicyStore, roles shared.RoleChecker, logger *slog.Logger) *Resolver {
	return &Resolver{policies: policies, roles: roles, logger: logger}
}

// Resolve looks up the policy bracket for the document's amount. A missing or
// unreadable policy never fails the call; it falls back to the conservative
// default with a warning.
func (r *Resolver) Resolve(ctx context.Context, doc documents.Document, actor shared.Actor) (Decision, error) {
	amount := doc.TotalDebit()
	policies, err := r.policies.GetPolicies(ctx, doc.OrgID, doc.Type)
	if err != nil {
		r.warn("approval policy lookup failed, requiring approval", doc, slog.Any("error", err))
		return conservativeDefault, nil
	}
	var matched *Policy
	for i := range policies {
		if policies[i].Matches(amount) {
			matched = &policies[i]
			break
		}
	}
	if matched == nil {
		r.warn("no approval policy matched, requiring approval", doc, slog.String("amount", amount.String()))
		return conservativeDefault, nil
	}
	if matched.BypassRole != "" && r.roles != nil {
		ok, err := r.roles.HasRole(ctx, actor.ID, matched.BypassRole, doc.OrgID)
		if err != nil {
			r.warn("bypass role check failed, ignoring bypass", doc, slog.Any("error", err))
		} else if ok {
			return Decision{DirectPostAllowed: true, RequiredApprovals: 0}, nil
		}
	}
	return Decision{
		DirectPostAllowed: matched.RequiredApprovals == 0,
		RequiredApprovals: matched.RequiredApprovals,
	}, nil
}

func (r *Resolver) warn(msg string, doc documents.Document, attrs ...any) {
	if r.logger == nil {
		return
	}
	attrs = append([]any{slog.Int64("document_id", doc.ID), slog.String("type", doc.Type)}, attrs...)
	r.logger.Warn(msg, attrs...)
}
