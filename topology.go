package taskflow

import (
	"sync"
	"sync/atomic"

	"github.com/google/uuid"
)

// runConfig accumulates the options passed to Run/RunN/RunUntil.
type runConfig struct {
	iterations int64
	unbounded  bool
	predicate  func() bool
	epilogue   func()
}

// RunOption configures a single topology submission, following the
// functional-options shape of go-kratos-blades/graph's ExecuteOption /
// executeConfig pair.
type RunOption func(*runConfig)

// WithEpilogue attaches a callback invoked once after the final iteration
// completes, before the returned Future is fulfilled (spec.md section
// 4.3).
func WithEpilogue(f func()) RunOption {
	return func(c *runConfig) { c.epilogue = f }
}

// WithIterations sets a fixed iteration count. RunN applies this
// internally; exporting it lets callers compose it with other options via
// Run directly.
func WithIterations(n int) RunOption {
	return func(c *runConfig) {
		c.iterations = int64(n)
		c.unbounded = false
	}
}

// WithPredicate makes the run predicate-driven: after each iteration, if
// pred returns true, the run stops. RunUntil applies this internally.
func WithPredicate(pred func() bool) RunOption {
	return func(c *runConfig) {
		c.predicate = pred
		c.unbounded = true
	}
}

// Topology is a single in-flight execution of a Graph: it owns the
// per-iteration join counters and pending-execution count, so the same
// Graph can be submitted to an Executor repeatedly and concurrently
// without the runs interfering (spec.md section 4.3).
type Topology struct {
	id       uuid.UUID
	graph    *Graph
	nodes    []*node
	executor *Executor

	remaining int64
	unbounded bool
	predicate func() bool
	epilogue  func()

	joinCounters []atomic.Int32
	pending      atomic.Int64
	cancelled    atomic.Bool
	done         atomic.Bool

	errMu sync.Mutex
	err   error

	future *Future[struct{}]
}

func newTopology(g *Graph, cfg runConfig, e *Executor) *Topology {
	nodes := g.nodeSnapshot()
	tp := &Topology{
		id:        uuid.New(),
		graph:     g,
		nodes:     nodes,
		executor:  e,
		remaining: cfg.iterations,
		unbounded: cfg.unbounded,
		predicate: cfg.predicate,
		epilogue:  cfg.epilogue,
		future:    newFuture[struct{}](),
	}
	tp.joinCounters = make([]atomic.Int32, len(nodes))
	tp.future.topo = tp
	return tp
}

// ID returns the topology's unique identifier, useful as a log/observer
// correlation key.
func (tp *Topology) ID() uuid.UUID { return tp.id }

func (tp *Topology) cancel() { tp.cancelled.Store(true) }

// Cancelled reports whether cancellation has been requested.
func (tp *Topology) Cancelled() bool { return tp.cancelled.Load() }

func (tp *Topology) recordErr(err error) {
	if err == nil {
		return
	}
	tp.errMu.Lock()
	if tp.err == nil {
		tp.err = err
	}
	tp.errMu.Unlock()
}

func (tp *Topology) takeErr() error {
	tp.errMu.Lock()
	defer tp.errMu.Unlock()
	return tp.err
}
