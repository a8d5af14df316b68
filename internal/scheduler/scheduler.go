// Package scheduler runs the poll cycle: fetch the page, extract events,
// keep the unseen ones, deliver them and record them as seen.
package scheduler

import (
	"fmt"
	"log/slog"
	"sync"
	"time"
	"solwatch/internal/alerts"
	"solwatch/internal/components/assert"
	"solwatch/internal/components/chrono"
	"solwatch/internal/components/telemetry"
	"solwatch/internal/dedup"
	"solwatch/internal/extractor"
	"solwatch/internal/fetcher"
	"solwatch/internal/monitor"
	"solwatch/internal/notifier"
	"solwatch/lib/dumputil"

	"github.com/mazen160/go-random"
)

const (
	report_fetch       = "fetch"
	report_extract     = "extract"
	report_notify      = "notify"
	report_storage     = "storage"
	report_heartbeat   = "heartbeat"
	report_new_events  = "new-events"
	report_rand_cycle  = "rand.cycle-id"
	heartbeatEvery     = 10
	defaultCycleLength = time.Minute
)

type State int

const (
	Idle State = iota
	Fetching
	Extracting
	Detecting
	Notifying
)

func (s State) String() string {
	switch s {
	case Fetching:
		return "fetching"
	case Extracting:
		return "extracting"
	case Detecting:
		return "detecting"
	case Notifying:
		return "notifying"
	}
	return "idle"
}

type Outcome string

const (
	OutcomeOK        Outcome = "ok"
	OutcomeFetch     Outcome = "fetch_error"
	OutcomeExtract   Outcome = "extract_error"
	OutcomeNotify    Outcome = "notify_warning"
	OutcomeStorage   Outcome = "storage_error"
	OutcomeCancelled Outcome = "cancelled"
)

// CycleResult summarizes one cycle.
type CycleResult struct {
	ID        string
	Outcome   Outcome
	Extracted int
	New       int
	Delivered int
	// Silent counts new events that were marked seen without a notification.
	Silent  int
	Failed  int
	Records []monitor.NotificationRecord
	Err     error
	// Fatal is set when the monitor must stop.
	Fatal bool
}

// RandomAPI generates cycle ids.
//
// note: fault injection point
type RandomAPI interface {
	CycleID() (string, error)
}

type defaultRandomAPI struct{}

func (defaultRandomAPI) CycleID() (string, error) {
	return random.String(8)
}

// MetricsAPI receives cycle statistics, metrics.Metrics implements it.
type MetricsAPI interface {
	CycleFinished(outcome string, duration time.Duration, finishedAt time.Time)
	EventsExtracted(n int)
	NewEvents(n int)
	Delivery(result string)
	SeenSetSize(n int)
}

type noopMetrics struct{}

func (noopMetrics) CycleFinished(string, time.Duration, time.Time) {}
func (noopMetrics) EventsExtracted(int)                            {}
func (noopMetrics) NewEvents(int)                                  {}
func (noopMetrics) Delivery(string)                                {}
func (noopMetrics) SeenSetSize(int)                                {}

type Config struct {
	URL      string
	Interval time.Duration
	// NotifyKinds limits notifications to these kinds, new events of other
	// kinds are marked seen silently. Empty notifies every kind.
	NotifyKinds []monitor.Kind
}

// Scheduler owns one instance of every pipeline component, it is built once
// and then driven by Run or RunCycle.
type Scheduler struct {
	cfg       Config
	fetcher   fetcher.Fetcher
	extractor extractor.Extractor
	store     dedup.Store
	notifier  notifier.Notifier
	volume    *alerts.VolumeRule
	dump      dumputil.Output

	rand    RandomAPI
	clock   chrono.API
	metrics MetricsAPI
	tel     telemetry.API
	log     *slog.Logger

	mu     sync.Mutex
	state  State
	cycles int
}

func New(
	cfg Config,
	f fetcher.Fetcher,
	ex extractor.Extractor,
	store dedup.Store,
	n notifier.Notifier,
	options ...Option,
) *Scheduler {
	assert.NotNil(f)
	assert.NotNil(ex)
	assert.NotNil(store)
	assert.NotNil(n)
	assert.NotEmptyStr(cfg.URL)
	if cfg.Interval <= 0 {
		cfg.Interval = defaultCycleLength
	}

	clock, _ := chrono.NewStandardImpl("")
	s := &Scheduler{
		cfg:       cfg,
		fetcher:   f,
		extractor: ex,
		store:     store,
		notifier:  n,
		rand:      defaultRandomAPI{},
		clock:     clock,
		metrics:   noopMetrics{},
		tel:       telemetry.SlogAPI{},
		log:       slog.Default(),
	}
	for _, opt := range options {
		opt(s)
	}
	s.tel = telemetry.NewScopedAPI("scheduler", s.tel)
	return s
}

type Option func(s *Scheduler)

func WithCustomRandomAPI(rand RandomAPI) Option {
	return func(s *Scheduler) {
		s.rand = rand
	}
}

func WithCustomTelemetryAPI(tel telemetry.API) Option {
	return func(s *Scheduler) {
		s.tel = tel
	}
}

func WithClock(clock chrono.API) Option {
	return func(s *Scheduler) {
		s.clock = clock
	}
}

func WithMetrics(m MetricsAPI) Option {
	return func(s *Scheduler) {
		s.metrics = m
	}
}

func WithVolumeRule(rule *alerts.VolumeRule) Option {
	return func(s *Scheduler) {
		s.volume = rule
	}
}

// WithMismatchDump keeps the page content of cycles whose extraction failed
// with a structural mismatch.
func WithMismatchDump(out dumputil.Output) Option {
	return func(s *Scheduler) {
		s.dump = out
	}
}

func WithLogger(log *slog.Logger) Option {
	return func(s *Scheduler) {
		s.log = log
	}
}

// State is the current state of the cycle, Idle between cycles.
func (s *Scheduler) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

func (s *Scheduler) transition(state State) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state = state
}

func (s *Scheduler) shouldNotify(kind monitor.Kind) bool {
	if len(s.cfg.NotifyKinds) == 0 {
		return true
	}
	for _, k := range s.cfg.NotifyKinds {
		if k == kind {
			return true
		}
	}
	return false
}

func (s *Scheduler) cycleID() string {
	id, err := s.rand.CycleID()
	if err != nil {
		s.tel.ReportWarning(report_rand_cycle, err)
		return fmt.Sprintf("%d", s.clock.Now().UnixNano())
	}
	return id
}
