// Package notifier generalizes the teacher's per-graph sync.Cond
// (eGraph.scheCond in the retrieved executor.go) into a reusable,
// per-executor park/wake primitive: workers park on it when they find
// nothing to steal, a Signal wakes at most one parked worker when new work
// appears, and a Broadcast wakes everyone, used when a topology completes so
// its completion callback and any thread blocked in Wait can proceed
// promptly (spec.md section 4.1).
package notifier

import "sync"

// Notifier is a condition-variable-backed wake/park primitive.
type Notifier struct {
	mu   sync.Mutex
	cond *sync.Cond
	seq  uint64
}

// New creates a ready-to-use Notifier.
func New() *Notifier {
	n := &Notifier{}
	n.cond = sync.NewCond(&n.mu)
	return n
}

// Prepare returns a token capturing the current wake sequence. Call it
// before re-checking the predicate that determines whether to park, so a
// Signal/Broadcast that races with the check is not lost.
func (n *Notifier) Prepare() uint64 {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.seq
}

// Wait parks the calling goroutine until a Signal/Broadcast occurs after
// the given token was captured, or until the predicate itself reports
// readiness (checked while holding the lock to avoid missed wakeups).
func (n *Notifier) Wait(token uint64, ready func() bool) {
	n.mu.Lock()
	defer n.mu.Unlock()
	for n.seq == token && !ready() {
		n.cond.Wait()
	}
}

// Signal wakes at most one parked goroutine.
func (n *Notifier) Signal() {
	n.mu.Lock()
	n.seq++
	n.mu.Unlock()
	n.cond.Signal()
}

// Broadcast wakes every parked goroutine.
func (n *Notifier) Broadcast() {
	n.mu.Lock()
	n.seq++
	n.mu.Unlock()
	n.cond.Broadcast()
}
