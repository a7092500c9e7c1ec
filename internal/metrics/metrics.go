package metrics

import (
	"fmt"
	"io"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/common/expfmt"
)

const namespace = "hz"

// Recorder owns a private registry. A nil *Recorder records nothing, so
// components can take one without checking.
type Recorder struct {
	registry  *prometheus.Registry
	mutations *prometheus.CounterVec
	sessions  *prometheus.CounterVec
	refetches *prometheus.CounterVec
}

func NewRecorder() *Recorder {
	r := &Recorder{
		registry: prometheus.NewRegistry(),
		mutations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "optimistic_mutations_total",
			Help:      "Optimistic mutations by outcome.",
		}, []string{"outcome"}),
		sessions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "realtime_sessions_total",
			Help:      "Realtime session transitions by feature and outcome.",
		}, []string{"feature", "outcome"}),
		refetches: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cache_refetches_total",
			Help:      "Cache refetches by outcome.",
		}, []string{"outcome"}),
	}
	r.registry.MustRegister(r.mutations, r.sessions, r.refetches)
	return r
}

func (r *Recorder) Mutation(outcome string) {
	if r == nil {
		return
	}
	r.mutations.WithLabelValues(outcome).Inc()
}

func (r *Recorder) Session(feature, outcome string) {
	if r == nil {
		return
	}
	r.sessions.WithLabelValues(feature, outcome).Inc()
}

func (r *Recorder) Refetch(outcome string) {
	if r == nil {
		return
	}
	r.refetches.WithLabelValues(outcome).Inc()
}

func (r *Recorder) Registry() *prometheus.Registry {
	if r == nil {
		return nil
	}
	return r.registry
}

// WriteText dumps every gathered family in the Prometheus text format.
func (r *Recorder) WriteText(w io.Writer) error {
	if r == nil {
		return nil
	}
	families, err := r.registry.Gather()
	if err != nil {
		return fmt.Errorf("gather metrics: %w", err)
	}
	enc := expfmt.NewEncoder(w, expfmt.NewFormat(expfmt.TypeTextPlain))
	for _, family := range families {
		if err := enc.Encode(family); err != nil {
			return fmt.Errorf("encode metric family %s: %w", family.GetName(), err)
		}
	}
	return nil
}
