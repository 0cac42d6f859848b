package sinks

import (
	"context"
	"fmt"
	"sync"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/JakeFAU/layered-crawler/internal/progress"
)

// PrometheusSink derives run-level metrics from the event stream: how many
// runs are in flight, how long they take and how wide their layers get.
type PrometheusSink struct {
	events       *prometheus.CounterVec
	runsInFlight prometheus.Gauge
	runDuration  *prometheus.HistogramVec
	frontier     prometheus.Histogram
	runLayers    prometheus.Histogram

	mu     sync.Mutex
	layers map[[16]byte]int
}

// NewPrometheusSink registers the collectors against reg.
func NewPrometheusSink(reg prometheus.Registerer) (*PrometheusSink, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	s := &PrometheusSink{
		events: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "crawler_progress_events_total",
			Help: "Progress events consumed partitioned by stage.",
		}, []string{"stage"}),
		runsInFlight: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "crawler_progress_runs_in_flight",
			Help: "Runs that started and have not reported completion.",
		}),
		runDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "crawler_run_duration_seconds",
			Help:    "Wall time per finished run.",
			Buckets: []float64{0.5, 1, 5, 15, 30, 60, 120, 300, 600},
		}, []string{"result"}),
		frontier: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "crawler_layer_frontier_size",
			Help:    "Identifiers submitted per layer.",
			Buckets: prometheus.ExponentialBuckets(1, 4, 8),
		}),
		runLayers: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "crawler_run_layers",
			Help:    "Layers completed per finished run.",
			Buckets: prometheus.LinearBuckets(0, 1, 10),
		}),
		layers: make(map[[16]byte]int),
	}
	for _, c := range []prometheus.Collector{s.events, s.runsInFlight, s.runDuration, s.frontier, s.runLayers} {
		if err := reg.Register(c); err != nil {
			return nil, fmt.Errorf("register progress collector: %w", err)
		}
	}
	return s, nil
}

// Consume updates the collectors from batch.
func (s *PrometheusSink) Consume(_ context.Context, batch []progress.Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, evt := range batch {
		s.events.WithLabelValues(string(evt.Stage)).Inc()
		switch evt.Stage {
		case progress.StageRunStart:
			if _, ok := s.layers[evt.RunID]; !ok {
				s.layers[evt.RunID] = 0
				s.runsInFlight.Inc()
			}
		case progress.StageLayerStart:
			s.frontier.Observe(float64(evt.Count))
		case progress.StageLayerDone:
			if _, ok := s.layers[evt.RunID]; ok {
				s.layers[evt.RunID]++
			}
		case progress.StageRunDone:
			s.finish(evt, "success")
		case progress.StageRunError:
			s.finish(evt, "error")
		}
	}
	return nil
}

func (s *PrometheusSink) finish(evt progress.Event, result string) {
	if evt.Dur > 0 {
		s.runDuration.WithLabelValues(result).Observe(evt.Dur.Seconds())
	}
	layers, ok := s.layers[evt.RunID]
	if !ok {
		return
	}
	delete(s.layers, evt.RunID)
	s.runsInFlight.Dec()
	s.runLayers.Observe(float64(layers))
}

// Close implements progress.Sink.
func (s *PrometheusSink) Close(context.Context) error {
	return nil
}
