package shared

import (
	"context"
	"errors"
	"log/slog"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PgFeatureToggles resolves feature flags from the feature_toggles table.
// Lookup failures disable the flag rather than failing the operation.
type PgFeatureToggles struct {
	pool   *pgxpool.Pool
	logger *slog.Logger
}

// NewPgFeatureToggles returns a database-backed FeatureToggles.
func NewPgFeatureToggles(pool *pgxpool.Pool, logger *slog.Logger) *PgFeatureToggles {
	return &PgFeatureToggles{pool: pool, logger: logger}
}

func (t *PgFeatureToggles) Enabled(ctx context.Context, orgID int64, key string) bool {
	if t == nil || t.pool == nil {
		return false
	}
	var enabled bool
	err := t.pool.QueryRow(ctx, `SELECT enabled FROM feature_toggles WHERE org_id=$1 AND key=$2`, orgID, key).Scan(&enabled)
	if err != nil {
		if !errors.Is(err, pgx.ErrNoRows) && t.logger != nil {
			t.logger.Warn("feature toggle lookup", slog.String("key", key), slog.Any("error", err))
		}
		return false
	}
	return enabled
}
