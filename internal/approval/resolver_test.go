package approval

import (
	"context"
	"errors"
	"log/slog"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/meridian-erp/meridian-erp/internal/documents"
	"github.com/meridian-erp/meridian-erp/internal/shared"
)

type stubPolicyStore struct {
	policies []Policy
	err      error
}

func (s *stubPolicyStore) GetPolicies(ctx context.Context, orgID int64, documentType string) ([]Policy, error) {
	return s.policies, s.err
}

type stubRoleChecker struct {
	roles map[string]bool
}

func (s *stubRoleChecker) HasRole(ctx context.Context, actorID int64, role string, orgID int64) (bool, error) {
	return s.roles[role], nil
}

func dec(s string) decimal.Decimal {
	d, _ := decimal.NewFromString(s)
	return d
}

func invoiceDoc(amount string) documents.Document {
	return documents.Document{
		ID:    7,
		OrgID: 1,
		Type:  "INVOICE",
		Lines: []documents.Line{
			{AccountID: 1, Debit: dec(amount)},
			{AccountID: 2, Credit: dec(amount)},
		},
	}
}

func TestResolveMissingPolicyFallsBackConservatively(t *testing.T) {
	r := NewResolver(&stubPolicyStore{}, nil, slog.Default())
	decision, err := r.Resolve(context.Background(), invoiceDoc("100.00"), shared.Actor{ID: 1})
	require.NoError(t, err)
	require.False(t, decision.DirectPostAllowed)
	require.Equal(t, 1, decision.RequiredApprovals)
}

func TestResolveStoreErrorFallsBackConservatively(t *testing.T) {
	r := NewResolver(&stubPolicyStore{err: errors.New("boom")}, nil, slog.Default())
	decision, err := r.Resolve(context.Background(), invoiceDoc("100.00"), shared.Actor{ID: 1})
	require.NoError(t, err)
	require.False(t, decision.DirectPostAllowed)
}

func TestResolveAmountBracket(t *testing.T) {
	store := &stubPolicyStore{policies: []Policy{
		{DocumentType: "INVOICE", MinAmount: dec("0"), MaxAmount: dec("500"), RequiredApprovals: 0},
		{DocumentType: "INVOICE", MinAmount: dec("500.01"), RequiredApprovals: 2},
	}}
	r := NewResolver(store, nil, slog.Default())

	small, err := r.Resolve(context.Background(), invoiceDoc("100.00"), shared.Actor{ID: 1})
	require.NoError(t, err)
	require.True(t, small.DirectPostAllowed)
	require.Equal(t, 0, small.RequiredApprovals)

	large, err := r.Resolve(context.Background(), invoiceDoc("10000.00"), shared.Actor{ID: 1})
	require.NoError(t, err)
	require.False(t, large.DirectPostAllowed)
	require.Equal(t, 2, large.RequiredApprovals)
}

func TestResolveBypassRole(t *testing.T) {
	store := &stubPolicyStore{policies: []Policy{
		{DocumentType: "INVOICE", MinAmount: dec("0"), RequiredApprovals: 2, BypassRole: "controller"},
	}}
	r := NewResolver(store, &stubRoleChecker{roles: map[string]bool{"controller": true}}, slog.Default())
	decision, err := r.Resolve(context.Background(), invoiceDoc("100.00"), shared.Actor{ID: 1})
	require.NoError(t, err)
	require.True(t, decision.DirectPostAllowed)

	r = NewResolver(store, &stubRoleChecker{roles: map[string]bool{}}, slog.Default())
	decision, err = r.Resolve(context.Background(), invoiceDoc("100.00"), shared.Actor{ID: 1})
	require.NoError(t, err)
	require.False(t, decision.DirectPostAllowed)
	require.Equal(t, 2, decision.RequiredApprovals)
}
