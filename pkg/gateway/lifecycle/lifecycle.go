package lifecycle

import "sync/atomic"

// Lifecycle is a tiny process state holder shared across the gateway's
// handlers. While draining, readiness reports unavailable and the gateway
// refuses new calls and observer sockets; in-flight calls finish normally.
type Lifecycle struct {
	draining atomic.Bool
}

func (l *Lifecycle) SetDraining(draining bool) {
	if l == nil {
		return
	}
	l.draining.Store(draining)
}

func (l *Lifecycle) IsDraining() bool {
	if l == nil {
		return false
	}
	return l.draining.Load()
}
