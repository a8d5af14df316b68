// Package metrics exposes monitor counters in the prometheus format.
package metrics

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds the monitor collectors on their own registry.
type Metrics struct {
	registry *prometheus.Registry

	cycles        *prometheus.CounterVec
	cycleDuration prometheus.Summary
	extracted     prometheus.Counter
	newEvents     prometheus.Counter
	deliveries    *prometheus.CounterVec
	seenSetSize   prometheus.Gauge
	lastSuccessTS prometheus.Gauge
}

func New() *Metrics {
	m := &Metrics{registry: prometheus.NewRegistry()}

	m.cycles = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "solwatch",
		Name:      "cycles_total",
		Help:      "Number of poll cycles by outcome",
	}, []string{"outcome"})
	m.cycleDuration = prometheus.NewSummary(prometheus.SummaryOpts{
		Namespace: "solwatch",
		Name:      "cycle_duration_seconds",
		Help:      "Time spent in a poll cycle",
	})
	m.extracted = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "solwatch",
		Name:      "events_extracted_total",
		Help:      "Number of events extracted from fetched pages",
	})
	m.newEvents = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "solwatch",
		Name:      "events_new_total",
		Help:      "Number of extracted events that had not been seen",
	})
	m.deliveries = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "solwatch",
		Name:      "deliveries_total",
		Help:      "Number of notification attempts by result",
	}, []string{"result"})
	m.seenSetSize = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "solwatch",
		Name:      "seen_ids",
		Help:      "Number of ids in the seen set",
	})
	m.lastSuccessTS = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "solwatch",
		Name:      "last_success_timestamp_seconds",
		Help:      "Unix timestamp of the last cycle that finished without error",
	})

	m.registry.MustRegister(
		m.cycles, m.cycleDuration, m.extracted, m.newEvents,
		m.deliveries, m.seenSetSize, m.lastSuccessTS,
	)
	return m
}

func (m *Metrics) CycleFinished(outcome string, duration time.Duration, finishedAt time.Time) {
	m.cycles.WithLabelValues(outcome).Inc()
	m.cycleDuration.Observe(duration.Seconds())
	if outcome == "ok" {
		m.lastSuccessTS.Set(float64(finishedAt.Unix()))
	}
}

func (m *Metrics) EventsExtracted(n int) {
	m.extracted.Add(float64(n))
}

func (m *Metrics) NewEvents(n int) {
	m.newEvents.Add(float64(n))
}

func (m *Metrics) Delivery(result string) {
	m.deliveries.WithLabelValues(result).Inc()
}

func (m *Metrics) SeenSetSize(n int) {
	m.seenSetSize.Set(float64(n))
}

func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Server serves /metrics and /healthz.
type Server struct {
	server *http.Server
}

func NewServer(addr string, m *Metrics) *Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{}))
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	return &Server{
		server: &http.Server{
			Addr:         addr,
			Handler:      mux,
			ReadTimeout:  5 * time.Second,
			WriteTimeout: 10 * time.Second,
			IdleTimeout:  time.Minute,
		},
	}
}

func (s *Server) Handler() http.Handler {
	return s.server.Handler
}

// Serve blocks until Shutdown is called.
func (s *Server) Serve() error {
	err := s.server.ListenAndServe()
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

func (s *Server) Shutdown(ctx context.Context) error {
	return s.server.Shutdown(ctx)
}
