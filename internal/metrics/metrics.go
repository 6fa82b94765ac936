package metrics

import (
	"errors"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "toolenv"

// Outcome labels for a transition.
const (
	OutcomeInvalid     = "invalid"
	OutcomeUnknownTool = "unknown_tool"
	OutcomeInvalidArgs = "invalid_args"
	OutcomeFault       = "fault"
	OutcomeEffective   = "effective"
)

// Metrics exposes Prometheus collectors that report environment activity.
// A nil *Metrics is valid and records nothing.
type Metrics struct {
	steps        *prometheus.CounterVec
	rewards      *prometheus.HistogramVec
	toolDuration *prometheus.HistogramVec
	batchSize    *prometheus.HistogramVec
	batchFaults  *prometheus.CounterVec
	episodesDone prometheus.Counter
}

// MustNewMetrics constructs a Metrics instance using the provided registerer.
// Collectors already registered under the same name are reused, so several
// environments can share one registry. Any other registration error panics.
func MustNewMetrics(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}

	m := &Metrics{
		steps: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "env",
				Name:      "steps_total",
				Help:      "Transitions processed, by tool and outcome.",
			},
			[]string{"tool", "outcome"},
		),
		rewards: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Subsystem: "env",
				Name:      "step_reward",
				Help:      "Reward returned per transition.",
				Buckets:   []float64{-0.1, -0.05, 0, 0.05, 0.1, 0.2, 0.3, 0.4, 0.5, 1},
			},
			[]string{"outcome"},
		),
		toolDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Subsystem: "tool",
				Name:      "execution_duration_seconds",
				Help:      "Time spent executing a tool call or batch.",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"tool", "mode"},
		),
		batchSize: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Subsystem: "batch",
				Name:      "group_size",
				Help:      "Number of calls handed to one batched tool invocation.",
				Buckets:   prometheus.ExponentialBuckets(1, 2, 10),
			},
			[]string{"tool"},
		),
		batchFaults: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "batch",
				Name:      "faults_total",
				Help:      "Batched tool invocations that failed as a whole.",
			},
			[]string{"tool", "policy"},
		),
		episodesDone: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "env",
				Name:      "episodes_done_total",
				Help:      "Episodes that reached their turn limit.",
			},
		),
	}

	m.steps = register(reg, m.steps)
	m.rewards = register(reg, m.rewards)
	m.toolDuration = register(reg, m.toolDuration)
	m.batchSize = register(reg, m.batchSize)
	m.batchFaults = register(reg, m.batchFaults)
	m.episodesDone = register(reg, m.episodesDone)
	return m
}

func register[C prometheus.Collector](reg prometheus.Registerer, c C) C {
	if err := reg.Register(c); err != nil {
		var already prometheus.AlreadyRegisteredError
		if errors.As(err, &already) {
			if existing, ok := already.ExistingCollector.(C); ok {
				return existing
			}
		}
		panic(err)
	}
	return c
}

// ObserveStep records one transition and its reward.
func (m *Metrics) ObserveStep(tool, outcome string, reward float64) {
	if m == nil {
		return
	}
	m.steps.WithLabelValues(tool, outcome).Inc()
	m.rewards.WithLabelValues(outcome).Observe(reward)
}

// ObserveToolDuration records time spent in a tool. mode is "single" or "batch".
func (m *Metrics) ObserveToolDuration(tool, mode string, d time.Duration) {
	if m == nil {
		return
	}
	m.toolDuration.WithLabelValues(tool, mode).Observe(d.Seconds())
}

// ObserveBatch records the size of one batched invocation.
func (m *Metrics) ObserveBatch(tool string, size int) {
	if m == nil {
		return
	}
	m.batchSize.WithLabelValues(tool).Observe(float64(size))
}

// IncBatchFault counts a batched invocation that failed under the given policy.
func (m *Metrics) IncBatchFault(tool, policy string) {
	if m == nil {
		return
	}
	m.batchFaults.WithLabelValues(tool, policy).Inc()
}

// IncEpisodeDone counts an episode reaching its turn limit.
func (m *Metrics) IncEpisodeDone() {
	if m == nil {
		return
	}
	m.episodesDone.Inc()
}
