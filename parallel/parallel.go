// Package parallel provides for_each / for_each_index / reduce helpers
// built entirely on top of the core taskflow package's public operations
// (spec.md: "peripheral surfaces... treated as external collaborators
// that call into the core's public operations"). Each helper builds an
// ordinary Graph, so the parallelism, work-stealing, and panic handling
// are exactly what the core executor already provides — no separate
// scheduling path is introduced here.
package parallel

import (
	"sync"

	"github.com/flowkit/taskflow"
)

// defaultChunks picks a chunk count close to the executor's width, capped
// so tiny inputs don't spin up more tasks than elements.
func defaultChunks(n, workers int) int {
	if workers < 1 {
		workers = 1
	}
	if n < workers {
		if n < 1 {
			return 1
		}
		return n
	}
	return workers
}

// ForEach invokes f once per element of s, across e's worker pool, and
// blocks until every call has returned.
func ForEach[T any](e *taskflow.Executor, s []T, f func(T)) {
	if len(s) == 0 {
		return
	}
	g := taskflow.NewGraph("for_each")
	chunks := defaultChunks(len(s), e.NumWorkers())
	chunkSize := (len(s) + chunks - 1) / chunks
	for start := 0; start < len(s); start += chunkSize {
		end := start + chunkSize
		if end > len(s) {
			end = len(s)
		}
		items := s[start:end]
		g.Emplace(func() {
			for _, v := range items {
				f(v)
			}
		})
	}
	e.Run(g).Wait()
}

// ForEachIndex invokes f(i) once for each i in the half-open range from
// first toward last (last itself excluded) stepping by step (step may be
// negative to count down). An empty or ill-specified range (step == 0, or step's sign
// disagreeing with the direction from first to last) is treated as a
// no-op, matching spec.md section 9's resolution of the original's
// commented-out range-validation tests.
func ForEachIndex(e *taskflow.Executor, first, last, step int, f func(int)) {
	if step == 0 {
		return
	}
	if (step > 0 && first >= last) || (step < 0 && first <= last) {
		return
	}

	var indices []int
	if step > 0 {
		for i := first; i < last; i += step {
			indices = append(indices, i)
		}
	} else {
		for i := first; i > last; i += step {
			indices = append(indices, i)
		}
	}
	ForEach(e, indices, f)
}

// Reduce combines every element of s with op, starting from init, and
// returns the result. Parallel chunks each fold their own slice locally,
// seeded with the chunk's own first element, and init is then folded with
// the chunk results in chunk order, so
// the overall result matches a left-fold over s with op and init whenever
// op is associative — the standard assumption for a "reduce" helper, as
// opposed to a strictly sequential foldl (spec.md section 6: "reduce must
// produce the same result as a left-fold with the supplied binary op and
// initial value").
func Reduce[T any](e *taskflow.Executor, s []T, init T, op func(T, T) T) T {
	if len(s) == 0 {
		return init
	}
	chunks := defaultChunks(len(s), e.NumWorkers())
	chunkSize := (len(s) + chunks - 1) / chunks

	type partial struct {
		idx int
		val T
	}
	var mu sync.Mutex
	var partials []partial

	g := taskflow.NewGraph("reduce")
	idx := 0
	for start := 0; start < len(s); start += chunkSize {
		end := start + chunkSize
		if end > len(s) {
			end = len(s)
		}
		items := s[start:end]
		chunkIdx := idx
		idx++
		g.Emplace(func() {
			acc := items[0]
			for _, v := range items[1:] {
				acc = op(acc, v)
			}
			mu.Lock()
			partials = append(partials, partial{idx: chunkIdx, val: acc})
			mu.Unlock()
		})
	}
	e.Run(g).Wait()

	ordered := make([]T, len(partials))
	for _, p := range partials {
		ordered[p.idx] = p.val
	}
	acc := init
	for _, v := range ordered {
		acc = op(acc, v)
	}
	return acc
}
