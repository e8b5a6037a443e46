package authstate

import (
	"context"
	"sync"
)

// Readiness resolves exactly once, when the first authentication
// determination is available. It never fails: a bounded wait elsewhere
// resolves it even without a definitive answer.
type Readiness struct {
	once sync.Once
	done chan struct{}
}

// NewReadiness returns an unresolved readiness signal.
func NewReadiness() *Readiness {
	return &Readiness{done: make(chan struct{})}
}

// Resolve marks the signal resolved. It reports whether this call did the
// resolving; later calls are no-ops.
func (r *Readiness) Resolve() bool {
	resolved := false
	r.once.Do(func() {
		close(r.done)
		resolved = true
	})
	return resolved
}

// Done returns a channel closed on resolution.
func (r *Readiness) Done() <-chan struct{} {
	return r.done
}

// Resolved reports whether the signal has resolved.
func (r *Readiness) Resolved() bool {
	select {
	case <-r.done:
		return true
	default:
		return false
	}
}

// Wait blocks until the signal resolves or ctx is done. It reports whether
// the signal resolved.
func (r *Readiness) Wait(ctx context.Context) bool {
	select {
	case <-r.done:
		return true
	case <-ctx.Done():
		return r.Resolved()
	}
}
