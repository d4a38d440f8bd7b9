package shared

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PgRoleChecker resolves role membership from the actor_roles table. Role
// assignment itself is managed by the surrounding identity system; this
// subsystem only reads.
type PgRoleChecker struct {
	pool *pgxpool.Pool
}

// NewPgRoleChecker returns a database-backed RoleChecker.
func NewPgRoleChecker(pool *pgxpool.Pool) *PgRoleChecker {
	return &PgRoleChecker{pool: pool}
}

func (c *PgRoleChecker) HasRole(ctx context.Context, actorID int64, role string, orgID int64) (bool, error) {
	if c == nil || c.pool == nil {
		return false, errors.New("role checker not initialised")
	}
	var one int
	err := c.pool.QueryRow(ctx, `SELECT 1 FROM actor_roles WHERE org_id=$1 AND actor_id=$2 AND role=$3`, orgID, actorID, role).Scan(&one)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return false, nil
		}
		return false, err
	}
	return true, nil
}
