package shared

import "context"

// RoleChecker resolves role membership. Identity and permission storage live
// outside this subsystem; callers inject an implementation.
type RoleChecker interface {
	HasRole(ctx context.Context, actorID int64, role string, orgID int64) (bool, error)
}

// FeatureToggles resolves per-organization feature flags.
type FeatureToggles interface {
	Enabled(ctx context.Context, orgID int64, key string) bool
}
