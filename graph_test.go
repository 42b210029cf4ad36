package taskflow

import (
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGraphPrecedeCountsDependentsWithMultiplicity(t *testing.T) {
	g := NewGraph("g")
	tasks := g.Emplace(func() {}, func() {})
	a, b := tasks[0], tasks[1]

	a.Precede(b)
	a.Precede(b) // duplicate edge, legal and counted twice

	assert.Equal(t, 2, b.NumStrongDependents())
	assert.Equal(t, 0, b.NumWeakDependents())
	assert.Equal(t, 2, a.NumSuccessors())
	assert.Equal(t, 2, b.NumDependents())
}

func TestConditionPredecessorIsWeak(t *testing.T) {
	g := NewGraph("g")
	tasks := g.Emplace(func() int { return 0 }, func() {})
	c, v := tasks[0], tasks[1]
	c.Precede(v)

	assert.Equal(t, 0, v.NumStrongDependents())
	assert.Equal(t, 1, v.NumWeakDependents())
}

func TestForEachSuccessorAndDependentPreserveInsertionOrder(t *testing.T) {
	g := NewGraph("g")
	tasks := g.Emplace(func() {}, func() {}, func() {}, func() {})
	src, x, y, z := tasks[0], tasks[1], tasks[2], tasks[3]
	src.Precede(x, y, z)

	var names []string
	src.ForEachSuccessor(func(s Task) { names = append(names, s.Name()) })
	assert.Equal(t, []string{x.Name(), y.Name(), z.Name()}, names)

	names = nil
	z.ForEachDependent(func(d Task) { names = append(names, d.Name()) })
	assert.Equal(t, []string{src.Name()}, names)
}

func TestPlaceholderThenWork(t *testing.T) {
	g := NewGraph("g")
	p := g.Placeholder("p")
	assert.Equal(t, kindPlaceholder, p.Type())

	ran := false
	p.Work(func() { ran = true })
	assert.Equal(t, KindStatic, p.Type())

	e := NewExecutor(2)
	defer e.Close()
	_, err := e.Run(g).Wait()
	require.NoError(t, err)
	assert.True(t, ran)
}

func TestComposedOfRejectsSelfComposition(t *testing.T) {
	g := NewGraph("g")
	assert.PanicsWithValue(t, ErrSelfComposition, func() { g.ComposedOf(g) })
}

func TestLinearizeChains(t *testing.T) {
	g := NewGraph("g")
	tasks := g.Emplace(func() {}, func() {}, func() {})
	Linearize(tasks...)
	assert.Equal(t, 1, tasks[0].NumSuccessors())
	assert.Equal(t, 1, tasks[1].NumStrongDependents())
	assert.Equal(t, 1, tasks[1].NumSuccessors())
	assert.Equal(t, 1, tasks[2].NumStrongDependents())
}

func TestEmptyGraph(t *testing.T) {
	g := NewGraph("empty")
	assert.True(t, g.Empty())
	assert.Equal(t, 0, g.NumTasks())

	e := NewExecutor(2)
	defer e.Close()
	_, err := e.Run(g).Wait()
	require.NoError(t, err)
}

func TestForEachSuccessorOrderMatchesBuildOrder(t *testing.T) {
	g := NewGraph("g")
	tasks := g.Emplace(func() {}, func() {}, func() {}, func() {})
	src, x, y, z := tasks[0], tasks[1], tasks[2], tasks[3]
	src.Precede(z, x, y)

	var got []string
	src.ForEachSuccessor(func(s Task) { got = append(got, s.Name()) })

	want := []string{z.Name(), x.Name(), y.Name()}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("successor order mismatch (-want +got):\n%s", diff)
	}
}

func TestTaskHandleEqualityIsIdentity(t *testing.T) {
	g := NewGraph("g")
	tasks := g.Emplace(func() {}, func() {})
	assert.Equal(t, tasks[0], tasks[0])
	assert.NotEqual(t, tasks[0], tasks[1])

	seen := map[Task]bool{tasks[0]: true}
	assert.True(t, seen[tasks[0]])
	assert.False(t, seen[tasks[1]])
}
