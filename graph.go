package taskflow

import (
	"fmt"
	"sync"
)

// Graph (Taskflow) is a mutable container of Nodes built before, or
// between, executions. Mutation while a Topology is running is undefined
// unless performed through that run's Subflow (spec.md section 3). A Graph
// may be run repeatedly and concurrently on the same Executor: per-run
// state lives in the Topology, never here.
type Graph struct {
	mu     sync.Mutex
	name   string
	nodes  []*node
	frozen bool // set once a Subflow built on this graph has joined/detached
}

// NewGraph creates an empty, named Graph.
func NewGraph(name string) *Graph {
	return &Graph{name: name}
}

// Name returns the graph's name.
func (g *Graph) Name() string { return g.name }

// Task is a handle to a node living in a Graph. Two Task values compare
// equal iff they reference the same node, so Task is directly usable as a
// map key and needs no separate Hash method.
type Task struct {
	n *node
}

// IsValid reports whether the handle refers to an actual node.
func (t Task) IsValid() bool { return t.n != nil }

// Name returns the task's human-readable name.
func (t Task) Name() string { return t.n.name }

// SetName renames the task and returns it for chaining.
func (t Task) SetName(name string) Task {
	t.n.name = name
	return t
}

// Type reports which of the four kinds this task dispatches to.
func (t Task) Type() Kind { return t.n.kind }

// NumSuccessors returns the number of outgoing edges, counted with
// multiplicity.
func (t Task) NumSuccessors() int { return len(t.n.successors) }

// NumDependents returns strong+weak incoming edges, counted with
// multiplicity.
func (t Task) NumDependents() int { return len(t.n.dependents) }

// NumStrongDependents returns incoming edges from non-condition
// predecessors.
func (t Task) NumStrongDependents() int { return t.n.strongDependents }

// NumWeakDependents returns incoming edges from condition predecessors.
func (t Task) NumWeakDependents() int { return t.n.weakDependents }

// ForEachSuccessor invokes f once per outgoing edge, in the order edges
// were added (spec.md section 5).
func (t Task) ForEachSuccessor(f func(Task)) {
	for _, s := range t.n.successors {
		f(Task{s})
	}
}

// ForEachDependent invokes f once per incoming edge, in the order edges
// were added.
func (t Task) ForEachDependent(f func(Task)) {
	for _, d := range t.n.dependents {
		f(Task{d})
	}
}

// Precede adds edges from t to each of succs: t must run before each succ.
// Returns t for chaining.
func (t Task) Precede(succs ...Task) Task {
	for _, s := range succs {
		t.n.precede(s.n)
	}
	return t
}

// Succeed adds edges from each of preds to t: t must run after each pred.
// Returns t for chaining.
func (t Task) Succeed(preds ...Task) Task {
	for _, p := range preds {
		p.n.precede(t.n)
	}
	return t
}

// Work assigns (or reassigns) the task's body. Changing a node's kind after
// any activation has referenced it is a programming error; spec.md section
// 7 permits either rejection or undefined behavior, so this implementation
// allows the reassignment — callers who emplace after running the owning
// Topology concurrently get what they asked for.
func (t Task) Work(f any) Task {
	t.n.setWork(f)
	return t
}

// Acquire appends sem to the list of semaphores this task acquires (in
// order) before its body runs. Returns t for chaining.
func (t Task) Acquire(sem *Semaphore) Task {
	t.n.acquireList = append(t.n.acquireList, sem)
	return t
}

// Release appends sem to the list of semaphores this task releases (in
// reverse order) after its body runs. Returns t for chaining.
func (t Task) Release(sem *Semaphore) Task {
	t.n.releaseList = append(t.n.releaseList, sem)
	return t
}

func (g *Graph) addNode(n *node) Task {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.frozen {
		return Task{}
	}
	n.graph = g
	n.index = len(g.nodes)
	g.nodes = append(g.nodes, n)
	return Task{n}
}

// Placeholder creates a node with no body; its kind and behavior are set
// later via Task.Work. Useful for wiring edges before the body that will
// fill a cyclic graph's back-reference is known.
func (g *Graph) Placeholder(name string) Task {
	return g.addNode(newNode(name))
}

// Emplace creates one task per supplied callable. Each f must be one of
// func(), func() int, or func(*Subflow) (spec.md section 6). Returns one
// Task per callable, in order — the Go analogue of the C++ API's variadic
// tuple return.
func (g *Graph) Emplace(fs ...any) []Task {
	base := g.NumTasks()
	tasks := make([]Task, len(fs))
	for i, f := range fs {
		n := newNode(defaultTaskName(g, base+i))
		n.setWork(f)
		tasks[i] = g.addNode(n)
	}
	return tasks
}

func defaultTaskName(g *Graph, i int) string {
	return fmt.Sprintf("%s#%d", g.name, i)
}

// ComposedOf creates a MODULE task in g referencing sub. Self-composition
// is rejected at construction (spec.md section 4.7); deeper composition
// cycles are undefined behavior the caller must avoid.
func (g *Graph) ComposedOf(sub *Graph) Task {
	if sub == g {
		panic(ErrSelfComposition)
	}
	n := newNode("module")
	n.kind = KindModule
	n.moduleGraph = sub
	return g.addNode(n)
}

// Linearize chains the given tasks in order: tasks[i] precedes tasks[i+1].
func Linearize(tasks ...Task) {
	for i := 0; i+1 < len(tasks); i++ {
		tasks[i].Precede(tasks[i+1])
	}
}

// Linearize is also available as a Graph method for symmetry with the
// C++-style chained builder API.
func (g *Graph) Linearize(tasks ...Task) { Linearize(tasks...) }

// NumTasks returns the number of nodes in the graph.
func (g *Graph) NumTasks() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.nodes)
}

// Empty reports whether the graph has zero nodes.
func (g *Graph) Empty() bool { return g.NumTasks() == 0 }

// Clear removes all nodes from the graph. Undefined if a Topology
// referencing this graph is currently running.
func (g *Graph) Clear() {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.nodes = nil
	g.frozen = false
}

// entries returns every true source node: zero incoming edges of any kind.
// A node reachable only through a CONDITION's weak edge is deliberately
// excluded even though its strongDependents is also zero — see DESIGN.md's
// note on the iteration-initialization entry rule.
func (g *Graph) entries() []*node {
	g.mu.Lock()
	defer g.mu.Unlock()
	out := make([]*node, 0, len(g.nodes))
	for _, n := range g.nodes {
		if n.strongDependents == 0 && n.weakDependents == 0 {
			out = append(out, n)
		}
	}
	return out
}

func (g *Graph) nodeSnapshot() []*node {
	g.mu.Lock()
	defer g.mu.Unlock()
	out := make([]*node, len(g.nodes))
	copy(out, g.nodes)
	return out
}
