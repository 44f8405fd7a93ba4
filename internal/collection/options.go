package collection

import (
	"log/slog"
	"sync/atomic"

	"github.com/udisondev/sceneref/internal/ident"
)

// DuplicateEvent describes a requested instance id that was already taken and
// got renumbered.
type DuplicateEvent struct {
	Collection ident.Identifier
	Identifier ident.Identifier
	Requested  uint64
	Assigned   uint64
}

// Option configures a Registry.
type Option func(*Registry)

// WithLogger sets the logger used for diagnostics. Defaults to slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(r *Registry) {
		if l != nil {
			r.logger = l
		}
	}
}

// WithDuplicateHook installs a callback invoked for every renumbered
// registration. The hook runs under the registry lock and must not call back
// into the registry.
func WithDuplicateHook(fn func(DuplicateEvent)) Option {
	return func(r *Registry) {
		r.onDuplicate = fn
	}
}

// WithGeneration shares a mutation counter. Every register, unregister and
// teardown bumps it; caches compare it to detect staleness.
func WithGeneration(gen *atomic.Uint64) Option {
	return func(r *Registry) {
		if gen != nil {
			r.gen = gen
		}
	}
}
