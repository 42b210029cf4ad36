package taskflow

import "reflect"

// Kind identifies which of the four task policies a node dispatches to.
// Generalizes the teacher's nodeType string constants (nodeStatic,
// nodeSubflow, nodeCondition in the retrieved node.go) into a closed set
// that also covers module composition (spec.md section 4.7).
type Kind int

const (
	// KindStatic is a function returning nothing.
	KindStatic Kind = iota
	// KindDynamic is a function receiving a Subflow handle.
	KindDynamic
	// KindCondition is a function returning a non-negative branch index.
	KindCondition
	// KindModule is a reference to another Graph.
	KindModule
	// kindPlaceholder marks a node created via Placeholder with no body
	// yet assigned. It is never user-visible as a Kind value returned by
	// Task.Type once a body has been set.
	kindPlaceholder
)

func (k Kind) String() string {
	switch k {
	case KindStatic:
		return "static"
	case KindDynamic:
		return "dynamic"
	case KindCondition:
		return "condition"
	case KindModule:
		return "module"
	default:
		return "placeholder"
	}
}

// node is the unit of work inside a Graph. Identity is the pointer itself,
// stable for the owning Graph's lifetime; per-activation state (join
// counters) lives in the Topology, never on the node, so the same Graph can
// run concurrently without interference (spec.md section 4.3).
type node struct {
	name  string
	kind  Kind
	graph *Graph
	index int // position in graph.nodes, used to index Topology.joinCounters

	successors []*node
	dependents []*node

	strongDependents int
	weakDependents   int

	staticFn    func()
	dynamicFn   func(*Subflow)
	conditionFn func() int
	moduleGraph *Graph

	acquireList []*Semaphore
	releaseList []*Semaphore
}

func newNode(name string) *node {
	return &node{name: name, kind: kindPlaceholder}
}

// precede records that n must run before v: an edge n -> v. Duplicate
// edges are legal and counted with multiplicity (spec.md section 4.2).
func (n *node) precede(v *node) {
	n.successors = append(n.successors, v)
	v.dependents = append(v.dependents, n)
	if n.kind == KindCondition {
		v.weakDependents++
	} else {
		v.strongDependents++
	}
}

// funcKind classifies a raw callable passed to Emplace by its signature,
// matching spec.md section 6: ()->() static, ()->int condition,
// (Subflow)->() dynamic.
func funcKind(f any) (Kind, bool) {
	switch f.(type) {
	case func():
		return KindStatic, true
	case func() int:
		return KindCondition, true
	case func(*Subflow):
		return KindDynamic, true
	}

	// Fall back to reflection for named func types with matching shapes.
	v := reflect.ValueOf(f)
	if v.Kind() != reflect.Func {
		return 0, false
	}
	t := v.Type()
	switch {
	case t.NumIn() == 0 && t.NumOut() == 0:
		return KindStatic, true
	case t.NumIn() == 0 && t.NumOut() == 1 && t.Out(0).Kind() == reflect.Int:
		return KindCondition, true
	case t.NumIn() == 1 && t.NumOut() == 0 && t.In(0) == reflect.TypeOf(&Subflow{}):
		return KindDynamic, true
	}
	return 0, false
}

func (n *node) setWork(f any) {
	kind, ok := funcKind(f)
	if !ok {
		panic("taskflow: emplace/work requires func(), func() int, or func(*Subflow)")
	}
	n.kind = kind
	switch kind {
	case KindStatic:
		if fn, ok := f.(func()); ok {
			n.staticFn = fn
		} else {
			n.staticFn = func() { reflect.ValueOf(f).Call(nil) }
		}
	case KindCondition:
		if fn, ok := f.(func() int); ok {
			n.conditionFn = fn
		} else {
			n.conditionFn = func() int { return int(reflect.ValueOf(f).Call(nil)[0].Int()) }
		}
	case KindDynamic:
		if fn, ok := f.(func(*Subflow)); ok {
			n.dynamicFn = fn
		} else {
			n.dynamicFn = func(sf *Subflow) { reflect.ValueOf(f).Call([]reflect.Value{reflect.ValueOf(sf)}) }
		}
	}
}
