package hooks

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
)

// Hook is one organization-configured extension callback.
type Hook func(ctx context.Context, payload map[string]any) error

type registration struct {
	name string
	fn   Hook
}

type hookKey struct {
	orgID int64
	event string
}

// Runner invokes extension callbacks at lifecycle points. Hooks are an
// explicit registry keyed by (org, event) and run in registration order; a
// failing hook is logged and skipped, it never breaks the calling operation.
type Runner struct {
	mu     sync.RWMutex
	hooks  map[hookKey][]registration
	logger *slog.Logger
}

func NewRunner(logger *slog.Logger) *Runner {
	return &Runner{hooks: make(map[hookKey][]registration), logger: logger}
}

// Register appends a hook for the (org, event) pair.
func (r *Runner) Register(orgID int64, event, name string, fn Hook) {
	if fn == nil {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	key := hookKey{orgID: orgID, event: event}
	r.hooks[key] = append(r.hooks[key], registration{name: name, fn: fn})
}

// Fire runs every hook registered for the event. Errors and panics are
// contained per hook.
func (r *Runner) Fire(ctx context.Context, orgID int64, event string, payload map[string]any) {
	r.mu.RLock()
	registered := append([]registration(nil), r.hooks[hookKey{orgID: orgID, event: event}]...)
	r.mu.RUnlock()
	for _, reg := range registered {
		r.invoke(ctx, orgID, event, reg, payload)
	}
}

func (r *Runner) invoke(ctx context.Context, orgID int64, event string, reg registration, payload map[string]any) {
	defer func() {
		if rec := recover(); rec != nil {
			r.logFailure(orgID, event, reg.name, fmt.Errorf("panic: %v", rec))
		}
	}()
	if err := reg.fn(ctx, payload); err != nil {
		r.logFailure(orgID, event, reg.name, err)
	}
}

func (r *Runner) logFailure(orgID int64, event, name string, err error) {
	if r.logger == nil {
		return
	}
	r.logger.Warn("hook failed",
		slog.Int64("org_id", orgID),
		slog.String("event", event),
		slog.String("hook", name),
		slog.Any("error", err),
	)
}
