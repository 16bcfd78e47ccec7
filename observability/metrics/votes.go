package metrics

import (
	"math/big"
	"sync"

	"github.com/prometheus/client_golang/prometheus"

	"poolgov/core/events"
)

// VoteMetrics groups the Prometheus collectors for the consensus engine.
type VoteMetrics struct {
	votesRecorded  *prometheus.CounterVec
	topicsAccepted *prometheus.CounterVec
	batchRejected  *prometheus.CounterVec
	poolPower      prometheus.Gauge
	activeStakers  prometheus.Gauge
}

var (
	votesOnce     sync.Once
	votesRegistry *VoteMetrics
)

// Votes returns the process-wide engine metrics, registering them on first
// use.
func Votes() *VoteMetrics {
	votesOnce.Do(func() {
		votesRegistry = &VoteMetrics{
			votesRecorded: prometheus.NewCounterVec(prometheus.CounterOpts{
				Name: "gov_votes_recorded_total",
				Help: "Count of counted ballots by topic kind.",
			}, []string{"kind"}),
			topicsAccepted: prometheus.NewCounterVec(prometheus.CounterOpts{
				Name: "gov_topics_accepted_total",
				Help: "Count of topics that reached threshold by kind.",
			}, []string{"kind"}),
			batchRejected: prometheus.NewCounterVec(prometheus.CounterOpts{
				Name: "gov_batch_rejected_total",
				Help: "Count of rejected relayer batches by failure reason.",
			}, []string{"reason"}),
			poolPower: prometheus.NewGauge(prometheus.GaugeOpts{
				Name: "gov_pool_voting_power",
				Help: "Current total voting-power pool.",
			}),
			activeStakers: prometheus.NewGauge(prometheus.GaugeOpts{
				Name: "gov_active_stakers",
				Help: "Number of live stake records.",
			}),
		}
		prometheus.MustRegister(
			votesRegistry.votesRecorded,
			votesRegistry.topicsAccepted,
			votesRegistry.batchRejected,
			votesRegistry.poolPower,
			votesRegistry.activeStakers,
		)
	})
	return votesRegistry
}

// ObserveBatchRejected records a rejected batch with its failure reason.
func (m *VoteMetrics) ObserveBatchRejected(reason string) {
	if m == nil {
		return
	}
	m.batchRejected.WithLabelValues(reason).Inc()
}

// SetPool updates the pool gauges after a successful mutation.
func (m *VoteMetrics) SetPool(power *big.Int, stakers int) {
	if m == nil {
		return
	}
	if power != nil {
		value, _ := new(big.Float).SetInt(power).Float64()
		m.poolPower.Set(value)
	}
	m.activeStakers.Set(float64(stakers))
}

// Emitter adapts the metrics to the engine's event stream so vote and
// acceptance counters track the engine without coupling it to Prometheus.
type Emitter struct {
	next events.Emitter
}

// NewEmitter wraps an emitter (nil for none) with metric recording.
func NewEmitter(next events.Emitter) *Emitter {
	return &Emitter{next: next}
}

// Emit implements events.Emitter.
func (e *Emitter) Emit(event events.Event) {
	switch evt := event.(type) {
	case events.VoteRecorded:
		Votes().votesRecorded.WithLabelValues(evt.Kind).Inc()
	case events.TopicAccepted:
		Votes().topicsAccepted.WithLabelValues(evt.Kind).Inc()
	}
	if e.next != nil {
		e.next.Emit(event)
	}
}
