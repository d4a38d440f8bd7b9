package approval

import (
	"context"

	"github.com/jackc/pgx/v5/pgxpool"
)

type policyStore struct {
	db *pgxpool.Pool
}

// NewPolicyStore returns a pgx-backed PolicyStore.
func NewPolicyStore(db *pgxpool.Pool) PolicyStore {
	return &policyStore{db: db}
}

func (s *policyStore) GetPolicies(ctx context.Context, orgID int64, documentType string) ([]Policy, error) {
	rows, err := s.db.Query(ctx, `SELECT org_id, document_type, min_amount, max_amount, required_approvals, bypass_role
FROM approval_policies WHERE org_id=$1 AND document_type=$2 ORDER BY min_amount ASC`, orgID, documentType)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var policies []Policy
	for rows.Next() {
		var p Policy
		if err := rows.Scan(&p.OrgID, &p.DocumentType, &p.MinAmount, &p.MaxAmount, &p.RequiredApprovals, &p.BypassRole); err != nil {
			return nil, err
		}
		policies = append(policies, p)
	}
	return policies, rows.Err()
}
