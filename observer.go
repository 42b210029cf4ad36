package taskflow

import (
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Observer receives per-task begin/end notifications. Installed via
// Executor.MakeObserver (spec.md section 6: "make_observer<O>()"). The
// only contract tested is that NumTasks equals the number of node
// executions since the last Clear.
type Observer interface {
	OnTaskBegin(workerID int, name string, kind Kind)
	OnTaskEnd(workerID int, name string, kind Kind, dur time.Duration)
	NumTasks() uint64
	Clear()
}

// CountingObserver is a dependency-free Observer implementation, useful in
// tests that only need the num_tasks() contract (spec.md section 8).
type CountingObserver struct {
	count atomic.Uint64
}

// NewCountingObserver creates a ready-to-use CountingObserver.
func NewCountingObserver() *CountingObserver { return &CountingObserver{} }

func (o *CountingObserver) OnTaskBegin(int, string, Kind) {}

func (o *CountingObserver) OnTaskEnd(int, string, Kind, time.Duration) {
	o.count.Add(1)
}

// NumTasks returns the number of OnTaskEnd calls since the last Clear.
func (o *CountingObserver) NumTasks() uint64 { return o.count.Load() }

// Clear resets the counter to zero.
func (o *CountingObserver) Clear() { o.count.Store(0) }

// PrometheusObserver is the production Observer: it records per-kind task
// counts and a task-duration histogram, grounded on 88lin-divinesense's
// use of github.com/prometheus/client_golang for service instrumentation.
type PrometheusObserver struct {
	tasksTotal   *prometheus.CounterVec
	taskDuration *prometheus.HistogramVec
	count        atomic.Uint64
}

// NewPrometheusObserver creates an Observer that registers its collectors
// with reg (pass prometheus.DefaultRegisterer for the global registry, or
// a fresh prometheus.NewRegistry() in tests to avoid duplicate-metric
// panics across test cases).
func NewPrometheusObserver(reg prometheus.Registerer) *PrometheusObserver {
	o := &PrometheusObserver{
		tasksTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "taskflow_tasks_executed_total",
			Help: "Number of task-graph node executions, by kind.",
		}, []string{"kind"}),
		taskDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "taskflow_task_duration_seconds",
			Help:    "Node body execution latency, by kind.",
			Buckets: prometheus.DefBuckets,
		}, []string{"kind"}),
	}
	if reg != nil {
		reg.MustRegister(o.tasksTotal, o.taskDuration)
	}
	return o
}

func (o *PrometheusObserver) OnTaskBegin(workerID int, name string, kind Kind) {}

func (o *PrometheusObserver) OnTaskEnd(workerID int, name string, kind Kind, dur time.Duration) {
	o.tasksTotal.WithLabelValues(kind.String()).Inc()
	o.taskDuration.WithLabelValues(kind.String()).Observe(dur.Seconds())
	o.count.Add(1)
}

// NumTasks returns the number of OnTaskEnd calls since the last Clear.
func (o *PrometheusObserver) NumTasks() uint64 { return o.count.Load() }

// Clear resets the in-process counter. The underlying Prometheus
// collectors are cumulative by design and are not reset — clear-while-
// running semantics for the scrape-facing metrics are left unspecified
// per spec.md section 9's open question.
func (o *PrometheusObserver) Clear() { o.count.Store(0) }
