package taskflow

import (
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestLoopConditionAggregatesAcrossIterations exercises a condition task
// that self-loops until a shared counter reaches a threshold, then routes
// to a terminal assertion task. The terminal is reachable only through
// the condition's weak edge, so it must never run at iteration start —
// only once the condition actually selects it.
func TestLoopConditionAggregatesAcrossIterations(t *testing.T) {
	e := NewExecutor(4)
	defer e.Close()

	var counter int
	var aggregate int

	g := NewGraph("loop")
	tasks := g.Emplace(
		func() { counter = 0 },
		func() int {
			counter++
			if counter < 100 {
				return 0
			}
			return 1
		},
		func() {
			assert.Equal(t, 100, counter)
			aggregate += counter
		},
	)
	a, b, c := tasks[0], tasks[1], tasks[2]
	a.Precede(b)
	b.Precede(b, c)

	assert.Equal(t, 0, c.NumStrongDependents())
	assert.Equal(t, 1, c.NumWeakDependents())

	_, err := e.RunN(g, 15).Wait()
	require.NoError(t, err)
	assert.Equal(t, 1500, aggregate)
}

// TestCyclicBranchVisitsEveryLeafExactlyOnce models a condition that fans
// out to 1000 leaves, each itself a condition that loops back to the
// branching condition until every leaf has run once, then routes to a
// terminal task.
func TestCyclicBranchVisitsEveryLeafExactlyOnce(t *testing.T) {
	const numLeaves = 1000
	e := NewExecutor(8)
	defer e.Close()

	var calls int
	var visits int32
	visited := make([]int32, numLeaves)
	var terminalRan bool

	g := NewGraph("branch")
	start := g.Placeholder("start")
	a := g.Placeholder("a")
	term := g.Placeholder("terminal")
	leaves := make([]Task, numLeaves)
	for i := range leaves {
		leaves[i] = g.Placeholder("")
	}

	start.Work(func() {})
	start.Precede(a)

	a.Work(func() int {
		idx := calls
		calls++
		return idx
	})
	for i := range leaves {
		a.Precede(leaves[i])
	}

	for i := range leaves {
		leafIdx := i
		leaves[i].Work(func() int {
			atomic.AddInt32(&visited[leafIdx], 1)
			if int(atomic.AddInt32(&visits, 1)) == numLeaves {
				return 1
			}
			return 0
		})
		leaves[i].Precede(a, term)
	}
	term.Work(func() { terminalRan = true })

	assert.Equal(t, 1, a.NumStrongDependents()) // from start; excludes a from the initial entry sweep regardless of its weak edges
	assert.Equal(t, 0, start.NumStrongDependents())
	assert.Equal(t, 0, start.NumWeakDependents())

	_, err := e.Run(g).Wait()
	require.NoError(t, err)

	assert.True(t, terminalRan)
	assert.Equal(t, numLeaves, calls)
	for i, v := range visited {
		assert.EqualValues(t, 1, v, "leaf %d visited %d times", i, v)
	}
}

// TestNestedDetachedSubflowTree builds a perfect binary tree of depth 10
// via recursive DYNAMIC tasks that each detach two children, incrementing
// a shared counter once per node (including internal nodes). A full
// 10-level binary tree has 2^10-1 total nodes.
func TestNestedDetachedSubflowTree(t *testing.T) {
	for _, w := range []int{1, 2, 3, 4} {
		e := NewExecutor(w)

		var counter int64
		var build func(depth int) any
		build = func(depth int) any {
			if depth == 10 {
				return func() { atomic.AddInt64(&counter, 1) }
			}
			return func(sf *Subflow) {
				atomic.AddInt64(&counter, 1)
				sf.Emplace(build(depth+1), build(depth+1))
				sf.Detach()
			}
		}

		g := NewGraph("tree")
		g.Emplace(build(1))

		_, err := e.Run(g).Wait()
		require.NoError(t, err)
		e.WaitForAll()
		assert.EqualValues(t, 1<<10-1, atomic.LoadInt64(&counter), "width %d", w)
		e.Close()
	}
}

// fib returns a DYNAMIC task body computing fib(n) via a joined subflow,
// writing the result into result.
func fib(n int, result *int64) any {
	return func(sf *Subflow) {
		if n < 2 {
			*result = int64(n)
			return
		}
		var r1, r2 int64
		sf.Emplace(fib(n-1, &r1), fib(n-2, &r2))
		sf.Join()
		*result = r1 + r2
	}
}

// TestFibonacciViaSubflowJoin checks fib(20) == 6765 across a range of
// executor widths, exercising recursive join-mode subflows.
func TestFibonacciViaSubflowJoin(t *testing.T) {
	for w := 1; w <= 8; w++ {
		e := NewExecutor(w)

		var result int64
		g := NewGraph("fib")
		g.Emplace(fib(20, &result))

		_, err := e.Run(g).Wait()
		require.NoError(t, err)
		assert.EqualValues(t, 6765, result, "width %d", w)
		e.Close()
	}
}

// TestSemaphoreSerializesCriticalSectionOverManyPairs runs 1000
// independent tasks, each guarded by a capacity-1 semaphore, each
// incrementing a shared counter twice inside the guarded region. With
// W=8 workers racing for a single permit, the region never overlaps and
// the counter ends up at exactly 2N.
func TestSemaphoreSerializesCriticalSectionOverManyPairs(t *testing.T) {
	const n = 1000
	e := NewExecutor(8)
	defer e.Close()

	sem := NewSemaphore(1)
	var counter int64
	var inSection int32

	g := NewGraph("sem")
	for i := 0; i < n; i++ {
		task := g.Placeholder("")
		task.Work(func() {
			if atomic.AddInt32(&inSection, 1) != 1 {
				t.Error("semaphore failed to serialize the critical section")
			}
			atomic.AddInt64(&counter, 1)
			atomic.AddInt64(&counter, 1)
			atomic.AddInt32(&inSection, -1)
		})
		task.Acquire(sem)
		task.Release(sem)
	}

	_, err := e.Run(g).Wait()
	require.NoError(t, err)
	assert.EqualValues(t, 2*n, counter)
	assert.Equal(t, 1, sem.Available())
}

// TestRunningGraphRepeatedlySumsLinearEffects checks that running an
// unmodified graph k times yields effects equivalent to running it once
// and summing k times.
func TestRunningGraphRepeatedlySumsLinearEffects(t *testing.T) {
	e := NewExecutor(4)
	defer e.Close()

	var total int
	g := NewGraph("linear-effects")
	g.Emplace(func() { total++ })

	_, err := e.RunN(g, 5).Wait()
	require.NoError(t, err)
	assert.Equal(t, 5, total)
}
