package posting

import (
	"context"
	"errors"
	"log/slog"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/meridian-erp/meridian-erp/internal/shared"
	"github.com/meridian-erp/meridian-erp/internal/validation"
)

// warnMissingDimsToggle enables the recommended-dimension soft rule per org.
const warnMissingDimsToggle = "posting.warn_missing_dims"

// OrgRulesSource resolves the per-organization soft-rule configuration from
// the org_rules table and the feature toggle store. Missing or unreadable
// configuration disables the soft rules; it never blocks a posting.
type OrgRulesSource struct {
	pool    *pgxpool.Pool
	toggles shared.FeatureToggles
	logger  *slog.Logger
}

func NewOrgRulesSource(pool *pgxpool.Pool, toggles shared.FeatureToggles, logger *slog.Logger) *OrgRulesSource {
	return &OrgRulesSource{pool: pool, toggles: toggles, logger: logger}
}

func (s *OrgRulesSource) Resolve(ctx context.Context, orgID int64, currency string) validation.OrgRules {
	rules := validation.OrgRules{}
	if s == nil || s.pool == nil {
		return rules
	}
	err := s.pool.QueryRow(ctx, `SELECT reference_rate, rate_deviation_pct FROM org_rules WHERE org_id=$1 AND currency=$2`,
		orgID, currency).Scan(&rules.ReferenceRate, &rules.RateDeviationPct)
	if err != nil && !errors.Is(err, pgx.ErrNoRows) && s.logger != nil {
		s.logger.Warn("org rules lookup", slog.Int64("org_id", orgID), slog.Any("error", err))
	}
	if s.toggles != nil {
		rules.WarnMissingDims = s.toggles.Enabled(ctx, orgID, warnMissingDimsToggle)
	}
	return rules
}
