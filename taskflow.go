// Package taskflow implements a parallel task-graph execution library:
// build a Graph of STATIC, DYNAMIC, CONDITION, and MODULE tasks, wire
// dependencies between them, and hand the Graph to an Executor to run
// across a fixed pool of worker goroutines with work-stealing.
//
// A minimal pipeline:
//
//	g := taskflow.NewGraph("pipeline")
//	a := g.Emplace(func() { fmt.Println("a") })[0]
//	b := g.Emplace(func() { fmt.Println("b") })[0]
//	a.Precede(b)
//
//	e := taskflow.NewExecutor(4)
//	defer e.Close()
//	e.Run(g).Wait()
//
// DYNAMIC tasks receive a *Subflow and can build and join (or detach) a
// child Graph at runtime. CONDITION tasks return a successor index,
// letting a Graph encode loops and branches; MODULE tasks splice another
// Graph in as if its sources were this task's successors. Semaphore and
// CriticalSection provide cooperative, non-blocking admission control
// across tasks that must not run concurrently or must be capped in
// concurrency. Observer hooks record per-task begin/end events for
// metrics.
package taskflow
