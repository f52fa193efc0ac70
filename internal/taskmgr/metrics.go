package taskmgr

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics exposes Prometheus collectors reporting manager activity.
type Metrics struct {
	taskTransitions *prometheus.CounterVec
	taskDuration    *prometheus.HistogramVec
	taskRetries     *prometheus.CounterVec
	tasksRunning    prometheus.Gauge
	laneDepth       *prometheus.GaugeVec
}

var (
	defaultMetricsOnce sync.Once
	sharedMetrics      *Metrics
)

// defaultMetrics returns the package-level metrics instance registered
// with the global Prometheus registry. Created only once so that multiple
// manager instances (as in tests) do not trip duplicate registration.
func defaultMetrics() *Metrics {
	defaultMetricsOnce.Do(func() {
		sharedMetrics = MustNewMetrics(prometheus.DefaultRegisterer)
	})
	return sharedMetrics
}

// MustNewMetrics constructs a Metrics instance using the provided
// registerer. Pass a fresh registry in tests that need isolated metric
// state. Registration errors other than AlreadyRegisteredError panic,
// mirroring promauto semantics.
func MustNewMetrics(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	taskTransitions := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "dispatchd",
			Subsystem: "taskmgr",
			Name:      "task_transitions_total",
			Help:      "Task state transitions by resulting state and reason.",
		},
		[]string{"state", "reason"},
	)
	taskDuration := prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "dispatchd",
			Subsystem: "taskmgr",
			Name:      "task_duration_seconds",
			Help:      "Time from task creation to terminal state.",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"state"},
	)
	taskRetries := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "dispatchd",
			Subsystem: "taskmgr",
			Name:      "task_retries_total",
			Help:      "Retry attempts by capability.",
		},
		[]string{"capability"},
	)
	tasksRunning := prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "dispatchd",
			Subsystem: "taskmgr",
			Name:      "tasks_running",
			Help:      "Number of tasks currently dispatched to agents.",
		},
	)
	laneDepth := prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "dispatchd",
			Subsystem: "taskmgr",
			Name:      "lane_depth",
			Help:      "Queued tasks per priority lane.",
		},
		[]string{"priority"},
	)

	collectors := []prometheus.Collector{taskTransitions, taskDuration, taskRetries, tasksRunning, laneDepth}
	for _, collector := range collectors {
		if err := reg.Register(collector); err != nil {
			if already, ok := err.(prometheus.AlreadyRegisteredError); ok {
				switch collector.(type) {
				case *prometheus.CounterVec:
					if collector == prometheus.Collector(taskTransitions) {
						taskTransitions = already.ExistingCollector.(*prometheus.CounterVec)
					} else {
						taskRetries = already.ExistingCollector.(*prometheus.CounterVec)
					}
				case *prometheus.HistogramVec:
					taskDuration = already.ExistingCollector.(*prometheus.HistogramVec)
				case prometheus.Gauge:
					tasksRunning = already.ExistingCollector.(prometheus.Gauge)
				case *prometheus.GaugeVec:
					laneDepth = already.ExistingCollector.(*prometheus.GaugeVec)
				}
				continue
			}
			panic(err)
		}
	}

	return &Metrics{
		taskTransitions: taskTransitions,
		taskDuration:    taskDuration,
		taskRetries:     taskRetries,
		tasksRunning:    tasksRunning,
		laneDepth:       laneDepth,
	}
}

// ObserveTransition records a task state transition.
func (m *Metrics) ObserveTransition(state, reason string) {
	if m == nil || m.taskTransitions == nil {
		return
	}
	m.taskTransitions.WithLabelValues(state, reason).Inc()
}

// ObserveTaskDuration records time from creation to terminal state.
func (m *Metrics) ObserveTaskDuration(state string, d time.Duration) {
	if m == nil || m.taskDuration == nil {
		return
	}
	m.taskDuration.WithLabelValues(state).Observe(d.Seconds())
}

// IncRetry counts a retry attempt for a capability.
func (m *Metrics) IncRetry(capability string) {
	if m == nil || m.taskRetries == nil {
		return
	}
	m.taskRetries.WithLabelValues(capability).Inc()
}

// SetRunning records the current number of dispatched tasks.
func (m *Metrics) SetRunning(n int) {
	if m == nil || m.tasksRunning == nil {
		return
	}
	m.tasksRunning.Set(float64(n))
}

// SetLaneDepth records the queue length for one priority lane.
func (m *Metrics) SetLaneDepth(priority string, depth int) {
	if m == nil || m.laneDepth == nil {
		return
	}
	m.laneDepth.WithLabelValues(priority).Set(float64(depth))
}
