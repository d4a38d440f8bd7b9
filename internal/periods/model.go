package periods

import (
	"errors"
	"time"
)

// PeriodStatus enumerates valid period states.
type PeriodStatus string

const (
	PeriodStatusOpen   PeriodStatus = "OPEN"
	PeriodStatusClosed PeriodStatus = "CLOSED"
)

var (
	// ErrPeriodNotFound indicates a missing period.
	ErrPeriodNotFound = errors.New("periods: period not found")
	// ErrPeriodClosed indicates postings are blocked for the period.
	ErrPeriodClosed = errors.New("periods: period is closed")
	// ErrInvalidTransition indicates the status change is not allowed.
	ErrInvalidTransition = errors.New("periods: invalid status transition")
)

// Period represents a fiscal period window.
type Period struct {
	ID        int64
	OrgID     int64
	Code      string
	StartDate time.Time
	EndDate   time.Time
	Status    PeriodStatus
	ClosedAt  *time.Time
	ClosedBy  *int64
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Contains reports whether date falls inside the period window.
func (p Period) Contains(date time.Time) bool {
	return !date.Before(p.StartDate) && !date.After(p.EndDate)
}

// ValidateTransition checks period status changes according to policy.
func ValidateTransition(current, target PeriodStatus) error {
	if current == target {
		return nil
	}
	switch current {
	case PeriodStatusOpen:
		if target == PeriodStatusClosed {
			return nil
		}
	case PeriodStatusClosed:
		if target == PeriodStatusOpen {
			return nil
		}
	}
	return ErrInvalidTransition
}
