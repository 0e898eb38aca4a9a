package sinks

import (
	"context"
	"fmt"
	"sync"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/JakeFAU/pdf-capture-service/internal/progress"
)

// PrometheusSink derives in-flight and per-site capture metrics from the
// progress stream.
type PrometheusSink struct {
	events          *prometheus.CounterVec
	inFlight        prometheus.Gauge
	siteCaptures    *prometheus.CounterVec
	navigationDelay *prometheus.HistogramVec

	mu      sync.Mutex
	running map[string]struct{}
}

// NewPrometheusSink registers the sink collectors against reg.
func NewPrometheusSink(reg prometheus.Registerer) (*PrometheusSink, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	s := &PrometheusSink{
		events: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "capture_progress_events_total",
			Help: "Progress events observed, labeled by stage.",
		}, []string{"stage"}),
		inFlight: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "capture_in_flight",
			Help: "Captures started and not yet finished.",
		}),
		siteCaptures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "capture_site_results_total",
			Help: "Finished captures labeled by site and result.",
		}, []string{"site", "result"}),
		navigationDelay: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "capture_navigation_seconds",
			Help:    "Time from capture start until the page was judged idle.",
			Buckets: []float64{0.25, 0.5, 1, 2, 5, 10, 30, 60},
		}, []string{"site"}),
		running: make(map[string]struct{}),
	}
	for _, c := range []prometheus.Collector{s.events, s.inFlight, s.siteCaptures, s.navigationDelay} {
		if err := reg.Register(c); err != nil {
			return nil, fmt.Errorf("register progress collector: %w", err)
		}
	}
	return s, nil
}

// Consume updates the collectors from batch.
func (s *PrometheusSink) Consume(_ context.Context, batch []progress.Event) error {
	for _, evt := range batch {
		s.events.WithLabelValues(string(evt.Stage)).Inc()
		site := evt.Site
		if site == "" {
			site = "unknown"
		}
		switch evt.Stage {
		case progress.StageCaptureStart:
			if s.track(evt.CaptureID) {
				s.inFlight.Inc()
			}
		case progress.StageNavigated:
			if evt.Dur > 0 {
				s.navigationDelay.WithLabelValues(site).Observe(evt.Dur.Seconds())
			}
		case progress.StageCaptureDone, progress.StageCaptureError:
			result := "success"
			if evt.Stage == progress.StageCaptureError {
				result = "error"
			}
			s.siteCaptures.WithLabelValues(site, result).Inc()
			if s.untrack(evt.CaptureID) {
				s.inFlight.Dec()
			}
		}
	}
	return nil
}

// Close implements progress.Sink.
func (s *PrometheusSink) Close(context.Context) error {
	return nil
}

func (s *PrometheusSink) track(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.running[id]; ok {
		return false
	}
	s.running[id] = struct{}{}
	return true
}

func (s *PrometheusSink) untrack(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.running[id]; !ok {
		return false
	}
	delete(s.running, id)
	return true
}
