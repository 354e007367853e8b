// Package tasks tracks the fire-and-forget background units (transcript
// analysis, escalation drives) so they can be counted and drained on
// shutdown instead of being silently lost.
package tasks

import (
	"context"
	"sync"
)

// Kind labels a background unit for observability.
type Kind string

const (
	KindAnalysis   Kind = "analysis"
	KindEscalation Kind = "escalation"
	KindArchive    Kind = "archive"
)

type unit struct {
	kind Kind
	once sync.Once
}

// Tracker is a bounded registry of in-flight background units, keyed by the
// call that spawned them. Units are drained on shutdown, never cancelled:
// an in-flight escalation runs to completion.
type Tracker struct {
	mu    sync.Mutex
	calls map[string]map[*unit]struct{}
	wg    sync.WaitGroup
}

func NewTracker() *Tracker {
	return &Tracker{
		calls: make(map[string]map[*unit]struct{}),
	}
}

// Go runs fn as a tracked background unit for callID. It returns
// immediately; fn's completion is observable only through Wait.
func (t *Tracker) Go(callID string, kind Kind, fn func()) {
	if t == nil {
		go fn()
		return
	}

	u := &unit{kind: kind}
	t.mu.Lock()
	if t.calls == nil {
		t.calls = make(map[string]map[*unit]struct{})
	}
	if t.calls[callID] == nil {
		t.calls[callID] = make(map[*unit]struct{})
	}
	t.calls[callID][u] = struct{}{}
	t.wg.Add(1)
	t.mu.Unlock()

	go func() {
		defer t.done(callID, u)
		fn()
	}()
}

func (t *Tracker) done(callID string, u *unit) {
	u.once.Do(func() {
		t.mu.Lock()
		if set := t.calls[callID]; set != nil {
			delete(set, u)
			if len(set) == 0 {
				delete(t.calls, callID)
			}
		}
		t.mu.Unlock()
		t.wg.Done()
	})
}

// Count returns the number of in-flight units across all calls.
func (t *Tracker) Count() int {
	if t == nil {
		return 0
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	n := 0
	for _, set := range t.calls {
		n += len(set)
	}
	return n
}

// CountForCall returns the number of in-flight units spawned by one call.
func (t *Tracker) CountForCall(callID string) int {
	if t == nil {
		return 0
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.calls[callID])
}

// Wait blocks until every tracked unit has finished or ctx expires.
// It reports whether the drain completed.
func (t *Tracker) Wait(ctx context.Context) bool {
	if t == nil {
		return true
	}
	if ctx == nil {
		t.wg.Wait()
		return true
	}

	done := make(chan struct{})
	go func() {
		defer close(done)
		t.wg.Wait()
	}()

	select {
	case <-done:
		return true
	case <-ctx.Done():
		return false
	}
}
