package accounts

import (
	"context"

	"github.com/jackc/pgx/v5/pgxpool"
)

type Repository interface {
	List(ctx context.Context, orgID int64) ([]Account, error)
	GetByIDs(ctx context.Context, orgID int64, ids []int64) (map[int64]Account, error)
}

type repository struct {
	db *pgxpool.Pool
}

func NewRepository(db *pgxpool.Pool) Repository {
	return &repository{db: db}
}

func (r *repository) List(ctx context.Context, orgID int64) ([]Account, error) {
	rows, err := r.db.Query(ctx, `SELECT id, org_id, code, name, nature, balance, version, is_active, recommended_dims, created_at, updated_at
FROM accounts WHERE org_id=$1 ORDER BY code`, orgID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var accounts []Account
	for rows.Next() {
		var a Account
		err := rows.Scan(&a.ID, &a.OrgID, &a.Code, &a.Name, &a.Nature, &a.Balance, &a.Version, &a.IsActive, &a.RecommendedDims, &a.CreatedAt, &a.UpdatedAt)
		if err != nil {
			return nil, err
		}
		accounts = append(accounts, a)
	}
	return accounts, rows.Err()
}

func (r *repository) GetByIDs(ctx context.Context, orgID int64, ids []int64) (map[int64]Account, error) {
	rows, err := r.db.Query(ctx, `SELECT id, org_id, code, name, nature, balance, version, is_active, recommended_dims, created_at, updated_at
FROM accounts WHERE org_id=$1 AND id = ANY($2)`, orgID, ids)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := make(map[int64]Account, len(ids))
	for rows.Next() {
		var a Account
		err := rows.Scan(&a.ID, &a.OrgID, &a.Code, &a.Name, &a.Nature, &a.Balance, &a.Version, &a.IsActive, &a.RecommendedDims, &a.CreatedAt, &a.UpdatedAt)
		if err != nil {
			return nil, err
		}
		out[a.ID] = a
	}
	return out, rows.Err()
}
