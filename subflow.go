package taskflow

import "sync"

// Subflow is the handle a DYNAMIC task body receives: it builds a private
// child Graph, then either Join()s (waiting for the children inline before
// the parent node's own successors are released) or Detach()es (handing
// the children to the owning Topology to run concurrently with whatever
// the parent node's successors do) (spec.md section 4.4).
//
// A Subflow shares the executor's worker pool and deque infrastructure —
// it does not spin up a second scheduler — by building an ordinary Graph
// and running it inline through the same dispatch path as any other
// Topology.
type Subflow struct {
	mu        sync.Mutex
	g         *Graph
	executor  *Executor
	ownerTopo *Topology
	workerID  int
	joinable  bool
}

func newSubflow(e *Executor, tp *Topology, workerID int) *Subflow {
	return &Subflow{
		g:         NewGraph("subflow"),
		executor:  e,
		ownerTopo: tp,
		workerID:  workerID,
		joinable:  true,
	}
}

// Joinable reports whether neither Join nor Detach has been called yet.
func (s *Subflow) Joinable() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.joinable
}

// Placeholder forwards to the subflow's private Graph.
func (s *Subflow) Placeholder(name string) Task { return s.g.Placeholder(name) }

// Emplace forwards to the subflow's private Graph.
func (s *Subflow) Emplace(fs ...any) []Task { return s.g.Emplace(fs...) }

// ComposedOf forwards to the subflow's private Graph.
func (s *Subflow) ComposedOf(sub *Graph) Task { return s.g.ComposedOf(sub) }

// Linearize forwards to the subflow's private Graph.
func (s *Subflow) Linearize(tasks ...Task) { s.g.Linearize(tasks...) }

// NumTasks forwards to the subflow's private Graph.
func (s *Subflow) NumTasks() int { return s.g.NumTasks() }

// Async schedules f as an extra, unnamed child of this subflow. It is
// accounted against the parent node's join: Join waits for it exactly as
// it waits for every other child task (spec.md section 4.5).
func (s *Subflow) Async(f func() (any, error)) *Future[any] {
	fut := newFuture[any]()
	s.g.Emplace(func() {
		defer func() {
			if r := recover(); r != nil {
				fut.complete(nil, &taskPanic{nodeName: "subflow-async", value: r})
			}
		}()
		val, err := f()
		fut.complete(val, err)
	})
	return fut
}

// SilentAsync is Async without a Future.
func (s *Subflow) SilentAsync(f func()) {
	s.g.Emplace(func() { f() })
}

// Join runs the subflow's children to completion on the current worker
// (cooperatively draining other scheduled work while waiting, so a
// single-worker Executor cannot deadlock on a join) before returning. A
// second call, or a call after Detach, returns ErrNotJoinable and does
// nothing else (spec.md section 4.4).
func (s *Subflow) Join() error {
	s.mu.Lock()
	if !s.joinable {
		s.mu.Unlock()
		return ErrNotJoinable
	}
	s.joinable = false
	g := s.g
	tp := s.ownerTopo
	workerID := s.workerID
	s.mu.Unlock()

	g.mu.Lock()
	g.frozen = true
	g.mu.Unlock()

	inner := s.executor.runGraphInline(workerID, g)
	if err := inner.takeErr(); err != nil {
		tp.recordErr(err)
	}
	return nil
}

// Detach hands the subflow's children to the owning Topology: they run
// concurrently with whatever the parent node's successors do, and the
// topology's completion (and its epilogue/Future) waits for them. A
// second call, or a call after Join, returns ErrNotJoinable and does
// nothing else.
func (s *Subflow) Detach() error {
	s.mu.Lock()
	if !s.joinable {
		s.mu.Unlock()
		return ErrNotJoinable
	}
	s.joinable = false
	g := s.g
	tp := s.ownerTopo
	workerID := s.workerID
	s.mu.Unlock()

	g.mu.Lock()
	g.frozen = true
	g.mu.Unlock()

	inner := newTopology(g, runConfig{iterations: 1}, s.executor)
	inner.epilogue = func() {
		if err := inner.takeErr(); err != nil {
			tp.recordErr(err)
		}
		if tp.pending.Add(-1) == 0 {
			s.executor.onIterationDone(tp)
		}
		s.executor.notify.Broadcast()
	}
	tp.pending.Add(1) // the owning topology now also waits for this detached unit
	s.executor.beginIteration(inner, workerID)
	return nil
}
