package taskflow

import (
	"fmt"
	"log/slog"
	"math/rand"
	"runtime/debug"
	"sync"
	"sync/atomic"
	"time"

	"github.com/pkg/errors"

	"github.com/flowkit/taskflow/internal/deque"
	"github.com/flowkit/taskflow/internal/gid"
	"github.com/flowkit/taskflow/internal/notifier"
)

// workItemKind distinguishes what a scheduled unit of work actually does
// once popped off a deque.
type workItemKind int

const (
	wiNode workItemKind = iota
	wiResumeAcquire
	wiAsync
)

// workItem is the payload the executor's deques and overflow queue carry.
// Only the fields relevant to its kind are populated.
type workItem struct {
	kind workItemKind

	topo          *Topology
	nd            *node
	resumeFromIdx int

	fn  func() (any, error)
	fut *Future[any]
}

// overflowQueue is the shared fallback FIFO a worker spills to when its own
// deque is full, and that external submitters (Run, Async called from
// outside any worker) push onto. Simple mutex-guarded slice: the teacher's
// own utils.Queue was not part of the retrieved dependency surface, and
// this concern sees orders of magnitude less traffic than the per-worker
// deques, so a lock-free ring buffer would be effort spent where it is not
// observable.
type overflowQueue struct {
	mu    sync.Mutex
	items []*workItem
}

func (q *overflowQueue) push(it *workItem) {
	q.mu.Lock()
	q.items = append(q.items, it)
	q.mu.Unlock()
}

func (q *overflowQueue) pop() (*workItem, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.items) == 0 {
		return nil, false
	}
	it := q.items[0]
	q.items = q.items[1:]
	return it, true
}

func (q *overflowQueue) len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

type workerState struct {
	id   int
	dq   *deque.Deque[*workItem]
	exec *Executor
}

type workerIdentity struct {
	exec *Executor
	id   int
}

// workerRegistry maps a goroutine's runtime id to the (Executor, workerID)
// pair it belongs to, so ThisWorkerID can be implemented without an
// explicit context parameter threaded through every task signature. Go has
// no native goroutine-local storage; this is the idiomatic workaround.
var workerRegistry sync.Map // int64 -> workerIdentity

// ThisWorkerSentinel is returned by Executor.ThisWorkerID when called from
// a goroutine that is not one of that executor's own workers.
const ThisWorkerSentinel = -1

// Option configures an Executor at construction time, following the
// functional-options shape seen throughout the retrieved corpus.
type Option func(*executorConfig)

type executorConfig struct {
	logger      *slog.Logger
	observer    Observer
	onPanic     func(nodeName string, r any, stack []byte)
	dequeSize   int
}

// WithLogger overrides the executor's structured logger (default:
// slog.Default()).
func WithLogger(l *slog.Logger) Option {
	return func(c *executorConfig) { c.logger = l }
}

// WithObserver installs an Observer at construction time, equivalent to
// calling MakeObserver immediately after NewExecutor.
func WithObserver(o Observer) Option {
	return func(c *executorConfig) { c.observer = o }
}

// WithPanicHandler overrides the default log-and-record behavior for a
// recovered task panic. The handler is still called in addition to the
// error being recorded on the task's Future/Topology.
func WithPanicHandler(f func(nodeName string, r any, stack []byte)) Option {
	return func(c *executorConfig) { c.onPanic = f }
}

// WithDequeSize overrides the per-worker deque's initial capacity (rounded
// up to a power of two). Default is 256.
func WithDequeSize(n int) Option {
	return func(c *executorConfig) { c.dequeSize = n }
}

var execIDSeq atomic.Uint64

// Executor is a fixed-width pool of worker goroutines that run Graphs
// (via Run/RunN/RunUntil) and free-standing callables (via Async /
// SilentAsync). Workers pull from their own work-stealing deque first,
// then the shared overflow queue, then steal from a sibling; an idle
// worker parks on the executor's notifier rather than spinning (spec.md
// section 4.1).
type Executor struct {
	execID  uint64
	workers []*workerState

	overflow overflowQueue
	notify   *notifier.Notifier
	parked   atomic.Int32

	outstanding atomic.Int64

	closed    atomic.Bool
	closeOnce sync.Once
	wg        sync.WaitGroup

	logger *slog.Logger

	observerMu sync.Mutex
	observer   Observer

	onPanicHook func(nodeName string, r any, stack []byte)
}

// NewExecutor creates an Executor with w worker goroutines, all started
// immediately. w must be >= 1.
func NewExecutor(w int, opts ...Option) *Executor {
	if w < 1 {
		panic("taskflow: executor width must be >= 1")
	}
	cfg := executorConfig{logger: slog.Default(), dequeSize: 256}
	for _, o := range opts {
		o(&cfg)
	}

	e := &Executor{
		execID:      execIDSeq.Add(1),
		notify:      notifier.New(),
		logger:      cfg.logger,
		observer:    cfg.observer,
		onPanicHook: cfg.onPanic,
	}
	e.workers = make([]*workerState, w)
	for i := 0; i < w; i++ {
		ws := &workerState{id: i, dq: deque.New[*workItem](cfg.dequeSize), exec: e}
		e.workers[i] = ws
	}
	for _, ws := range e.workers {
		e.wg.Add(1)
		go func(ws *workerState) {
			defer e.wg.Done()
			ws.loop()
		}(ws)
	}
	return e
}

// NumWorkers returns the number of worker goroutines in the pool.
func (e *Executor) NumWorkers() int { return len(e.workers) }

// MakeObserver installs o as the executor's Observer, replacing any
// previous one (spec.md section 6: "make_observer<O>()").
func (e *Executor) MakeObserver(o Observer) {
	e.observerMu.Lock()
	e.observer = o
	e.observerMu.Unlock()
}

func (e *Executor) currentObserver() Observer {
	e.observerMu.Lock()
	defer e.observerMu.Unlock()
	return e.observer
}

// ThisWorkerID returns the calling goroutine's worker id within this
// executor (0..NumWorkers()-1), or ThisWorkerSentinel if the calling
// goroutine is not one of this executor's own workers (spec.md section
// 4.1's invariant: workers of different Executors never collide).
func (e *Executor) ThisWorkerID() int {
	v, ok := workerRegistry.Load(gid.Get())
	if !ok {
		return ThisWorkerSentinel
	}
	wi := v.(workerIdentity)
	if wi.exec != e {
		return ThisWorkerSentinel
	}
	return wi.id
}

// ---- worker loop ----

func (w *workerState) loop() {
	id := gid.Get()
	workerRegistry.Store(id, workerIdentity{exec: w.exec, id: w.id})
	defer workerRegistry.Delete(id)

	w.exec.drainUntil(w.id, func() bool {
		return w.exec.closed.Load() && w.exec.outstanding.Load() == 0
	})
}

// drainUntil runs the standard pop-own/pop-overflow/steal cycle on behalf
// of workerID until done() reports true, parking on the notifier between
// attempts when there is truly nothing to do. Used by the long-lived
// worker loop, by WaitForAll, and by Subflow.Join / module dispatch's
// cooperative drains — this is the single scheduler the whole package
// shares (spec.md section 9: "avoid creating a second scheduler").
func (e *Executor) drainUntil(workerID int, done func() bool) {
	for !done() {
		if e.tryStep(workerID) {
			continue
		}
		if done() {
			return
		}
		token := e.notify.Prepare()
		e.parked.Add(1)
		e.notify.Wait(token, func() bool { return done() || e.hasAnyWork(workerID) })
		e.parked.Add(-1)
	}
}

func (e *Executor) tryStep(workerID int) bool {
	w := e.workers[workerID]
	if item, ok := w.dq.Pop(); ok {
		e.exec(item, workerID)
		return true
	}
	if item, ok := e.overflow.pop(); ok {
		e.exec(item, workerID)
		return true
	}
	if item, ok := e.stealFor(workerID); ok {
		e.exec(item, workerID)
		return true
	}
	return false
}

func (e *Executor) stealFor(workerID int) (*workItem, bool) {
	n := len(e.workers)
	if n <= 1 {
		return nil, false
	}
	start := rand.Intn(n)
	for i := 0; i < n; i++ {
		v := (start + i) % n
		if v == workerID {
			continue
		}
		if item, ok := e.workers[v].dq.Steal(); ok {
			return item, true
		}
	}
	return nil, false
}

func (e *Executor) hasAnyWork(workerID int) bool {
	if workerID >= 0 && workerID < len(e.workers) && e.workers[workerID].dq.Len() > 0 {
		return true
	}
	if e.overflow.len() > 0 {
		return true
	}
	for i, w := range e.workers {
		if i == workerID {
			continue
		}
		if w.dq.Len() > 0 {
			return true
		}
	}
	return false
}

// pushWork enqueues item onto workerID's own deque, falling back to the
// shared overflow queue when workerID is out of range or that deque is
// full. Must only be called from workerID's own goroutine: the fast path
// writes directly into that worker's single-owner deque (internal/deque's
// Push/Pop are safe for exactly one concurrent writer). A handoff
// originating on a different goroutine — e.g. a semaphore release
// resuming a waiter parked by some other worker — must go through
// pushResume instead, never this fast path. New work signals at most one
// parked worker (spec.md section 4.1); completion paths broadcast to all
// of them instead.
func (e *Executor) pushWork(item *workItem, workerID int) {
	if workerID >= 0 && workerID < len(e.workers) && e.workers[workerID].dq.Push(item) {
		e.notify.Signal()
		return
	}
	e.overflow.push(item)
	e.notify.Signal()
}

// pushResume enqueues a semaphore-wait continuation. release() runs on
// whichever goroutine happens to finish the releasing node, which is
// usually not the goroutine that originally parked on the semaphore, so
// this always goes through the thread-safe overflow queue rather than the
// per-worker deque fast path (spec.md section 4.6).
func (e *Executor) pushResume(item *workItem) {
	e.overflow.push(item)
	e.notify.Signal()
}

func (e *Executor) exec(item *workItem, workerID int) {
	switch item.kind {
	case wiAsync:
		e.runAsyncItem(item, workerID)
	case wiNode:
		e.acquireThenRun(item.topo, item.nd, 0, workerID)
	case wiResumeAcquire:
		e.acquireThenRun(item.topo, item.nd, item.resumeFromIdx, workerID)
	}
}

// ---- semaphore-gated dispatch ----

func (e *Executor) acquireThenRun(tp *Topology, n *node, idx int, workerID int) {
	for i := idx; i < len(n.acquireList); i++ {
		sem := n.acquireList[i]
		resumeIdx := i + 1
		if !sem.tryAcquire(func() {
			// This continuation runs inside some other node's release()
			// call, on whatever worker happens to be finishing that node —
			// never necessarily workerID's own goroutine. Route it through
			// the overflow queue rather than workerID's deque.
			e.pushResume(&workItem{kind: wiResumeAcquire, topo: tp, nd: n, resumeFromIdx: resumeIdx})
		}) {
			return // parked on sem; resumed later by release(), possibly on another worker
		}
	}
	e.dispatchBody(tp, n, workerID)
}

func (e *Executor) releaseSemaphores(n *node) {
	for i := len(n.releaseList) - 1; i >= 0; i-- {
		n.releaseList[i].release()
	}
}

// ---- node dispatch ----

func (e *Executor) dispatchBody(tp *Topology, n *node, workerID int) {
	begin := time.Now()
	if obs := e.currentObserver(); obs != nil {
		obs.OnTaskBegin(workerID, n.name, n.kind)
	}

	switch n.kind {
	case KindStatic:
		e.runBody(tp, n, workerID, begin, func() {
			n.staticFn()
			e.releaseStrongSuccessors(tp, n.successors, workerID)
		})
	case KindDynamic:
		e.runBody(tp, n, workerID, begin, func() {
			sf := newSubflow(e, tp, workerID)
			n.dynamicFn(sf)
			if sf.Joinable() {
				sf.Join()
			}
			e.releaseStrongSuccessors(tp, n.successors, workerID)
		})
	case KindCondition:
		e.runBody(tp, n, workerID, begin, func() {
			r := n.conditionFn()
			if r >= 0 && r < len(n.successors) {
				e.releaseWeakSuccessor(tp, n.successors[r], workerID)
			}
		})
	case KindModule:
		e.runBody(tp, n, workerID, begin, func() {
			inner := e.runGraphInline(workerID, n.moduleGraph)
			if err := inner.takeErr(); err != nil {
				tp.recordErr(err)
			}
			e.releaseStrongSuccessors(tp, n.successors, workerID)
		})
	default:
		e.runBody(tp, n, workerID, begin, func() {
			e.releaseStrongSuccessors(tp, n.successors, workerID)
		})
	}
}

// runBody executes fn with panic recovery, then unconditionally releases
// the node's held semaphores and accounts for its completion. If fn panics
// partway through, whatever successor-release call it would have made
// never runs — a failed node's successors are never scheduled, while
// unrelated already-scheduled siblings keep draining normally (spec.md
// section 7).
func (e *Executor) runBody(tp *Topology, n *node, workerID int, begin time.Time, fn func()) {
	func() {
		defer func() {
			if r := recover(); r != nil {
				e.onPanic(tp, n, r)
			}
		}()
		fn()
	}()
	e.releaseSemaphores(n)
	e.finishNodeExecution(tp, n, workerID, begin)
}

func (e *Executor) releaseStrongSuccessors(tp *Topology, succs []*node, workerID int) {
	if tp.cancelled.Load() {
		return
	}
	for _, v := range succs {
		if tp.joinCounters[v.index].Add(-1) == 0 {
			e.scheduleNode(tp, v, workerID)
		}
	}
}

// releaseWeakSuccessor schedules v directly, bypassing the join counter
// entirely: a CONDITION's chosen branch runs independently of whatever
// other strong predecessors v might have (spec.md section 4.2).
func (e *Executor) releaseWeakSuccessor(tp *Topology, v *node, workerID int) {
	if tp.cancelled.Load() {
		return
	}
	e.scheduleNode(tp, v, workerID)
}

func (e *Executor) onPanic(tp *Topology, n *node, r any) {
	stack := debug.Stack()
	err := errors.Wrapf(fmt.Errorf("%v", r), "node %q panicked", n.name)
	tp.recordErr(err)
	if e.onPanicHook != nil {
		e.onPanicHook(n.name, r, stack)
		return
	}
	e.logger.Error("recovered panic in task",
		"node", n.name, "kind", n.kind.String(), "panic", r, "stack", string(stack))
}

func (e *Executor) finishNodeExecution(tp *Topology, n *node, workerID int, begin time.Time) {
	if obs := e.currentObserver(); obs != nil {
		obs.OnTaskEnd(workerID, n.name, n.kind, time.Since(begin))
	}
	e.completeOne(tp)
}

func (e *Executor) completeOne(tp *Topology) {
	remaining := tp.pending.Add(-1)
	e.outstanding.Add(-1)
	if remaining == 0 {
		e.onIterationDone(tp)
	}
	e.notify.Broadcast()
}

// scheduleNode accounts for one more in-flight execution of n within tp
// and pushes it onto the scheduler. The increment here and the decrement
// in completeOne bracket every execution the way sync.WaitGroup's Add/Done
// do, which is what lets a cyclic graph's pending count correctly track
// "outstanding scheduled work" rather than a fixed per-iteration quota
// (spec.md section 4.2 describes the steady-state invariant; tracking
// schedules rather than a static |N| countdown is required to satisfy it
// once a condition can re-enqueue the same node many times per iteration).
func (e *Executor) scheduleNode(tp *Topology, n *node, workerID int) {
	if tp.cancelled.Load() {
		return
	}
	tp.pending.Add(1)
	e.outstanding.Add(1)
	e.pushWork(&workItem{kind: wiNode, topo: tp, nd: n}, workerID)
}

// beginIteration resets every node's join counter to its strong-dependent
// count and schedules every true source node: zero incoming edges of any
// kind. A node reached only through a CONDITION's weak edge is NOT
// scheduled here even when its strongDependents is also zero — it only
// ever runs when some condition actually selects it, which is what lets a
// node be both a condition's target and (via a later edge back to it) the
// destination the topology settles into; see DESIGN.md.
func (e *Executor) beginIteration(tp *Topology, workerID int) {
	nodes := tp.nodes
	if len(nodes) == 0 {
		e.onIterationDone(tp)
		return
	}
	for i, n := range nodes {
		tp.joinCounters[i].Store(int32(n.strongDependents))
	}
	// One extra pending count is held while the sources are scheduled, so a
	// source that finishes early cannot close the iteration before the
	// others are scheduled. If nothing was scheduled (every node has a
	// strong predecessor: only reachable with a pure strong-edge cycle,
	// which is a malformed graph), dropping it retires the iteration rather
	// than hang forever.
	tp.pending.Add(1)
	for _, n := range nodes {
		if n.strongDependents == 0 && n.weakDependents == 0 {
			e.scheduleNode(tp, n, workerID)
		}
	}
	if tp.pending.Add(-1) == 0 {
		e.onIterationDone(tp)
	}
}

// onIterationDone runs once a topology's pending count returns to zero: it
// decides whether to retire (fulfilling the Future, running the epilogue)
// or start another iteration (spec.md section 4.3).
func (e *Executor) onIterationDone(tp *Topology) {
	stop := tp.cancelled.Load()
	if !stop {
		if tp.unbounded {
			if tp.predicate != nil && tp.predicate() {
				stop = true
			}
		} else {
			tp.remaining--
			if tp.remaining <= 0 {
				stop = true
			}
		}
	}
	if stop {
		if tp.epilogue != nil {
			tp.epilogue()
		}
		tp.done.Store(true)
		err := tp.takeErr()
		if err == nil && tp.cancelled.Load() {
			err = ErrCancelled
		}
		tp.future.complete(struct{}{}, err)
		e.notify.Broadcast()
		return
	}
	e.beginIteration(tp, ThisWorkerSentinel)
}

// runGraphInline runs g to completion synchronously from the calling
// worker's perspective — used by MODULE dispatch and by Subflow.Join. The
// calling worker cooperatively drains any scheduled work (not just g's)
// while waiting, so a single-worker executor can never deadlock on it.
func (e *Executor) runGraphInline(workerID int, g *Graph) *Topology {
	inner := newTopology(g, runConfig{iterations: 1}, e)
	e.beginIteration(inner, workerID)
	e.drainUntil(workerID, func() bool { return inner.done.Load() })
	return inner
}

// ---- graph-run submission ----

// Run submits g for one iteration (plus whatever opts add) and returns
// immediately with a Future that completes once the run retires. Calling
// Run from inside a running task of this same executor never blocks, even
// with a single worker (spec.md section 4.3). Submitting after Close
// returns a Future already failed with ErrExecutorClosed; nothing is
// scheduled.
func (e *Executor) Run(g *Graph, opts ...RunOption) *Future[struct{}] {
	cfg := runConfig{iterations: 1}
	for _, o := range opts {
		o(&cfg)
	}
	tp := newTopology(g, cfg, e)
	if e.closed.Load() {
		tp.future.complete(struct{}{}, ErrExecutorClosed)
		return tp.future
	}
	if !cfg.unbounded && cfg.iterations < 1 {
		// Zero iterations requested: retire without running anything.
		e.onIterationDone(tp)
		return tp.future
	}
	workerID := e.ThisWorkerID()
	e.beginIteration(tp, workerID)
	return tp.future
}

// RunN submits g for exactly n iterations.
func (e *Executor) RunN(g *Graph, n int, opts ...RunOption) *Future[struct{}] {
	return e.Run(g, append([]RunOption{WithIterations(n)}, opts...)...)
}

// RunUntil submits g repeatedly until pred returns true after an
// iteration completes.
func (e *Executor) RunUntil(g *Graph, pred func() bool, opts ...RunOption) *Future[struct{}] {
	return e.Run(g, append([]RunOption{WithPredicate(pred)}, opts...)...)
}

// ---- async tasks ----

func (e *Executor) runAsyncItem(item *workItem, workerID int) {
	var val any
	var err error
	func() {
		defer func() {
			if r := recover(); r != nil {
				stack := debug.Stack()
				err = errors.Errorf("async task panicked: %v", r)
				e.logger.Error("recovered panic in async task", "panic", r, "stack", string(stack))
			}
		}()
		val, err = item.fn()
	}()
	if item.fut != nil {
		item.fut.complete(val, err)
	}
	e.outstanding.Add(-1)
	e.notify.Broadcast()
}

// Async schedules f to run independently of any Topology and returns a
// Future for its result (spec.md section 4.5). Submitting after Close
// returns a Future already failed with ErrExecutorClosed; f never runs.
func (e *Executor) Async(f func() (any, error)) *Future[any] {
	fut := newFuture[any]()
	if e.closed.Load() {
		fut.complete(nil, ErrExecutorClosed)
		return fut
	}
	workerID := e.ThisWorkerID()
	e.outstanding.Add(1)
	e.pushWork(&workItem{kind: wiAsync, fn: f, fut: fut}, workerID)
	return fut
}

// SilentAsync is Async without a Future. Submitting after Close logs
// ErrExecutorClosed and drops f without running it, since there is no
// Future to carry the failure.
func (e *Executor) SilentAsync(f func()) {
	if e.closed.Load() {
		e.logger.Error("silent async submitted after close", "error", ErrExecutorClosed)
		return
	}
	workerID := e.ThisWorkerID()
	e.outstanding.Add(1)
	e.pushWork(&workItem{kind: wiAsync, fn: func() (any, error) { f(); return nil, nil }}, workerID)
}

// ---- draining and shutdown ----

// WaitForAll blocks until every outstanding graph-run iteration, async
// task, and their descendants (including detached subflows) have finished
// (spec.md section 4.5). Called from a worker goroutine of this executor,
// it cooperatively drains other scheduled work while waiting, exactly as
// Subflow.Join does, so it cannot deadlock a single-worker executor.
func (e *Executor) WaitForAll() {
	if id := e.ThisWorkerID(); id != ThisWorkerSentinel {
		e.drainUntil(id, func() bool { return e.outstanding.Load() == 0 })
		return
	}
	for e.outstanding.Load() != 0 {
		token := e.notify.Prepare()
		e.notify.Wait(token, func() bool { return e.outstanding.Load() == 0 })
	}
}

// Close waits for all outstanding work to finish, then stops every worker
// goroutine and returns once they have all exited. Close is idempotent.
func (e *Executor) Close() {
	e.closeOnce.Do(func() {
		e.WaitForAll()
		e.closed.Store(true)
		e.notify.Broadcast()
		e.wg.Wait()
	})
}
