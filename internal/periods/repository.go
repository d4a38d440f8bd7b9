package periods

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

type Repository interface {
	Get(ctx context.Context, orgID, periodID int64) (Period, error)
	FindOpenPeriodByDate(ctx context.Context, orgID int64, date time.Time) (Period, error)
	UpdateStatus(ctx context.Context, orgID, periodID int64, status PeriodStatus, actorID int64, at time.Time) (Period, error)
}

type repository struct {
	db *pgxpool.Pool
}

func NewRepository(db *pgxpool.Pool) Repository {
	return &repository{db: db}
}

const periodColumns = `id, org_id, code, start_date, end_date, status, closed_at, closed_by, created_at, updated_at`

func scanPeriod(row pgx.Row) (Period, error) {
	var p Period
	err := row.Scan(&p.ID, &p.OrgID, &p.Code, &p.StartDate, &p.EndDate, &p.Status, &p.ClosedAt, &p.ClosedBy, &p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Period{}, ErrPeriodNotFound
		}
		return Period{}, err
	}
	return p, nil
}

func (r *repository) Get(ctx context.Context, orgID, periodID int64) (Period, error) {
	return scanPeriod(r.db.QueryRow(ctx, `SELECT `+periodColumns+` FROM periods WHERE org_id=$1 AND id=$2`, orgID, periodID))
}

// FindOpenPeriodByDate returns the open period covering the supplied date.
func (r *repository) FindOpenPeriodByDate(ctx context.Context, orgID int64, date time.Time) (Period, error) {
	return scanPeriod(r.db.QueryRow(ctx, `SELECT `+periodColumns+`
FROM periods WHERE org_id=$1 AND status='OPEN' AND $2 BETWEEN start_date AND end_date ORDER BY start_date LIMIT 1`, orgID, date))
}

func (r *repository) UpdateStatus(ctx context.Context, orgID, periodID int64, status PeriodStatus, actorID int64, at time.Time) (Period, error) {
	var closedAt any
	var closedBy any
	if status == PeriodStatusClosed {
		closedAt = at
		closedBy = actorID
	}
	return scanPeriod(r.db.QueryRow(ctx, `UPDATE periods SET status=$3, closed_at=$4, closed_by=$5, updated_at=NOW()
WHERE org_id=$1 AND id=$2 RETURNING `+periodColumns, orgID, periodID, status, closedAt, closedBy))
}
