package periods

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/meridian-erp/meridian-erp/internal/shared"
)

// RolePeriodAdmin is required for closing or reopening a period.
const RolePeriodAdmin = "period_admin"

type AuditPort interface {
	Record(ctx context.Context, rec shared.AuditRecord) error
}

// Service manages period lifecycle. Closing a period blocks any further
// posting dated inside it; reopening is the only way back.
type Service struct {
	repo   Repository
	roles  shared.RoleChecker
	audit  AuditPort
	logger *slog.Logger
	now    func() time.Time
}

func NewService(repo Repository, roles shared.RoleChecker, audit AuditPort, logger *slog.Logger) *Service {
	return &Service{repo: repo, roles: roles, audit: audit, logger: logger, now: time.Now}
}

// WithNow overrides the clock for deterministic tests.
func (s *Service) WithNow(now func() time.Time) {
	if now != nil {
		s.now = now
	}
}

func (s *Service) Get(ctx context.Context, orgID, periodID int64) (Period, error) {
	return s.repo.Get(ctx, orgID, periodID)
}

func (s *Service) FindOpenPeriodByDate(ctx context.Context, orgID int64, date time.Time) (Period, error) {
	return s.repo.FindOpenPeriodByDate(ctx, orgID, date)
}

// ClosePeriod transitions a period to CLOSED.
func (s *Service) ClosePeriod(ctx context.Context, orgID, periodID int64, actor shared.Actor) (Period, error) {
	return s.setStatus(ctx, orgID, periodID, PeriodStatusClosed, actor, "period.close")
}

// ReopenPeriod transitions a period back to OPEN.
func (s *Service) ReopenPeriod(ctx context.Context, orgID, periodID int64, actor shared.Actor) (Period, error) {
	return s.setStatus(ctx, orgID, periodID, PeriodStatusOpen, actor, "period.reopen")
}

func (s *Service) setStatus(ctx context.Context, orgID, periodID int64, target PeriodStatus, actor shared.Actor, action string) (Period, error) {
	if s.roles != nil {
		ok, err := s.roles.HasRole(ctx, actor.ID, RolePeriodAdmin, orgID)
		if err != nil {
			return Period{}, err
		}
		if !ok {
			return Period{}, shared.ErrForbidden
		}
	}
	current, err := s.repo.Get(ctx, orgID, periodID)
	if err != nil {
		return Period{}, err
	}
	if err := ValidateTransition(current.Status, target); err != nil {
		return Period{}, err
	}
	updated, err := s.repo.UpdateStatus(ctx, orgID, periodID, target, actor.ID, s.now())
	if err != nil {
		return Period{}, err
	}
	if s.audit != nil {
		if err := s.audit.Record(ctx, shared.AuditRecord{
			OrgID:    orgID,
			ActorID:  actor.ID,
			Action:   action,
			Entity:   "period",
			EntityID: fmt.Sprintf("%d", periodID),
			Before:   map[string]any{"status": string(current.Status)},
			After:    map[string]any{"status": string(target)},
			At:       s.now(),
		}); err != nil && s.logger != nil {
			s.logger.Error("record period audit", slog.Any("error", err))
		}
	}
	return updated, nil
}
