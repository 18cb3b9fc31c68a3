package monitor

import (
	"context"
	"crypto/sha1"
	"encoding/hex"
	"errors"
	"log"
	"sync"
	"time"

	"epon-monitor/internal/compliance"
	"epon-monitor/internal/observability/metrics"
	"epon-monitor/internal/simulator"
	"epon-monitor/internal/telemetry/cache"
	telemetry "epon-monitor/internal/telemetry/domain"
)

// Sentinel errors for snapshot queries.
var (
	ErrNoSnapshot    = errors.New("monitor: no snapshot available")
	ErrUnknownDevice = errors.New("monitor: unknown device")
)

// Health event types emitted on transitions.
const (
	EventDegraded  = "degraded"
	EventImproved  = "improved"
	EventRecovered = "recovered"
)

// Injection scenarios.
const (
	ScenarioDegradeONU  = "degrade_onu"
	ScenarioClearIssues = "clear_issues"
)

// SnapshotSource exposes the latest parsed telemetry snapshot.
type SnapshotSource interface {
	Current() (cache.Snapshot, time.Duration, bool)
}

// RecordAppender accepts raw notification records.
type RecordAppender interface {
	Append(record string) error
}

// Narrator turns a classification into operator-facing text. The service
// never formats prose itself.
type Narrator interface {
	Narrate(ctx context.Context, result compliance.Result) (string, error)
}

// StaticNarrator answers every request with the same text.
type StaticNarrator struct {
	Text string
}

// Narrate implements Narrator.
func (n StaticNarrator) Narrate(context.Context, compliance.Result) (string, error) {
	return n.Text, nil
}

// HealthNotifier publishes health transition events.
type HealthNotifier interface {
	Notify(ctx context.Context, event HealthEvent)
}

// TransitionArchive persists health transitions durably.
type TransitionArchive interface {
	SaveTransition(ctx context.Context, event HealthEvent) error
}

// Clock provides time.
type Clock interface {
	Now() time.Time
}

type systemClock struct{}

func (systemClock) Now() time.Time { return time.Now().UTC() }

// HealthEvent records a device health transition between two refreshes.
type HealthEvent struct {
	ID         string            `json:"id"`
	Type       string            `json:"type"`
	ONUID      string            `json:"onu_id"`
	Previous   string            `json:"previous"`
	Current    string            `json:"current"`
	Event      telemetry.Event   `json:"event"`
	Result     compliance.Result `json:"result"`
	OccurredAt time.Time         `json:"occurred_at"`
}

// Explanation pairs a classification with its narration.
type Explanation struct {
	Result    compliance.Result `json:"result"`
	Narration string            `json:"narration,omitempty"`
}

// Service is the query and orchestration seam over the cached telemetry.
// It classifies the most recent event per device straight from the
// snapshot, watches for health transitions after each refresh, and offers
// fault injection hooks for exercising the pipeline.
type Service struct {
	snapshots SnapshotSource
	appender  RecordAppender
	narrator  Narrator
	notifier  HealthNotifier
	archive   TransitionArchive
	clock     Clock
	logger    *log.Logger

	mu         sync.Mutex
	lastHealth map[string]string
}

// ServiceOption customizes the monitor service.
type ServiceOption func(*Service)

// WithAppender enables fault injection through the given appender.
func WithAppender(appender RecordAppender) ServiceOption {
	return func(s *Service) { s.appender = appender }
}

// WithNarrator assigns a narrator.
func WithNarrator(narrator Narrator) ServiceOption {
	return func(s *Service) {
		if narrator != nil {
			s.narrator = narrator
		}
	}
}

// WithNotifier assigns a health notifier.
func WithNotifier(notifier HealthNotifier) ServiceOption {
	return func(s *Service) { s.notifier = notifier }
}

// WithArchive assigns a transition archive.
func WithArchive(archive TransitionArchive) ServiceOption {
	return func(s *Service) { s.archive = archive }
}

// WithClock assigns a clock.
func WithClock(clock Clock) ServiceOption {
	return func(s *Service) {
		if clock != nil {
			s.clock = clock
		}
	}
}

// WithLogger assigns a logger.
func WithLogger(logger *log.Logger) ServiceOption {
	return func(s *Service) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// NewService constructs a monitor service over the given snapshot source.
func NewService(snapshots SnapshotSource, opts ...ServiceOption) (*Service, error) {
	if snapshots == nil {
		return nil, errors.New("monitor: nil snapshot source")
	}
	service := &Service{
		snapshots:  snapshots,
		narrator:   StaticNarrator{},
		clock:      systemClock{},
		logger:     log.Default(),
		lastHealth: make(map[string]string),
	}
	for _, opt := range opts {
		opt(service)
	}
	return service, nil
}

// Snapshot returns the cached telemetry data and its age.
func (s *Service) Snapshot() (cache.Snapshot, time.Duration, error) {
	if s == nil {
		return cache.Snapshot{}, 0, errors.New("monitor: nil service")
	}
	snap, age, ok := s.snapshots.Current()
	if !ok {
		return cache.Snapshot{}, 0, ErrNoSnapshot
	}
	return snap, age, nil
}

// ClassifyDevice classifies the most recent event of one ONU.
func (s *Service) ClassifyDevice(onuID string) (compliance.Result, error) {
	if s == nil {
		return compliance.Result{}, errors.New("monitor: nil service")
	}
	if onuID == "" {
		return compliance.Result{}, errors.New("monitor: onu id required")
	}
	snap, _, ok := s.snapshots.Current()
	if !ok {
		return compliance.Result{}, ErrNoSnapshot
	}
	event, ok := snap.Data.Latest(onuID)
	if !ok {
		return compliance.Result{}, ErrUnknownDevice
	}
	result := compliance.Classify(event)
	metrics.IncClassification(result.Health)
	return result, nil
}

// ClassifyFleet classifies the most recent event of every known ONU,
// ordered by device ID.
func (s *Service) ClassifyFleet() ([]compliance.Result, error) {
	if s == nil {
		return nil, errors.New("monitor: nil service")
	}
	snap, _, ok := s.snapshots.Current()
	if !ok {
		return nil, ErrNoSnapshot
	}
	results := make([]compliance.Result, 0, len(snap.Data))
	for _, onuID := range snap.Data.Devices() {
		event, ok := snap.Data.Latest(onuID)
		if !ok {
			continue
		}
		result := compliance.Classify(event)
		metrics.IncClassification(result.Health)
		results = append(results, result)
	}
	return results, nil
}

// ExplainDevice classifies one device and asks the narrator for an
// operator-facing summary. Narration failures degrade to a bare
// classification rather than failing the query.
func (s *Service) ExplainDevice(ctx context.Context, onuID string) (Explanation, error) {
	result, err := s.ClassifyDevice(onuID)
	if err != nil {
		return Explanation{}, err
	}
	narration, err := s.narrator.Narrate(ctx, result)
	if err != nil {
		s.logger.Printf("monitor: narration failed onu=%s err=%v", onuID, err)
		return Explanation{Result: result}, nil
	}
	return Explanation{Result: result, Narration: narration}, nil
}

// InjectDegraded appends a canned unhealthy record for the given ONU.
func (s *Service) InjectDegraded(onuID string) error {
	return s.inject(ScenarioDegradeONU, simulator.DegradedMetrics(onuID))
}

// InjectNormal appends a canned healthy record for the given ONU.
func (s *Service) InjectNormal(onuID string) error {
	return s.inject(ScenarioClearIssues, simulator.NormalMetrics(onuID))
}

func (s *Service) inject(scenario string, m simulator.Metrics) error {
	if s == nil {
		return errors.New("monitor: nil service")
	}
	if s.appender == nil {
		return errors.New("monitor: injection disabled")
	}
	if m.ONUID == "" {
		return errors.New("monitor: onu id required")
	}
	eventTime := s.clock.Now().UTC().Format("2006-01-02T15:04:05.000Z07:00")
	if err := s.appender.Append(simulator.RenderNotification(eventTime, m)); err != nil {
		return err
	}
	metrics.IncInject(scenario)
	s.logger.Printf("monitor: injected scenario=%s onu=%s", scenario, m.ONUID)
	return nil
}

// HandleRefresh inspects a freshly published snapshot for health
// transitions and fans matching events out to the notifier and archive.
// It is meant to run as the cache worker's persist hook.
func (s *Service) HandleRefresh(snap cache.Snapshot) {
	if s == nil {
		return
	}
	ctx := context.Background()
	now := s.clock.Now().UTC()

	for _, onuID := range snap.Data.Devices() {
		event, ok := snap.Data.Latest(onuID)
		if !ok {
			continue
		}
		result := compliance.Classify(event)

		s.mu.Lock()
		previous := s.lastHealth[onuID]
		s.lastHealth[onuID] = result.Health
		s.mu.Unlock()

		kind, ok := transitionKind(previous, result.Health)
		if !ok {
			continue
		}
		healthEvent := HealthEvent{
			ID:         buildEventID(onuID, kind, now),
			Type:       kind,
			ONUID:      onuID,
			Previous:   previous,
			Current:    result.Health,
			Event:      event,
			Result:     result,
			OccurredAt: now,
		}
		metrics.IncHealthTransition(kind)
		s.logger.Printf("monitor: health transition onu=%s %s->%s kind=%s",
			onuID, orNone(previous), result.Health, kind)
		if s.notifier != nil {
			s.notifier.Notify(ctx, healthEvent)
		}
		if s.archive != nil {
			if err := s.archive.SaveTransition(ctx, healthEvent); err != nil {
				s.logger.Printf("monitor: archive failed onu=%s err=%v", onuID, err)
			}
		}
	}
}

// transitionKind maps a previous/current health pair to an event type.
// The first sighting of a device only reports when it is already unwell.
func transitionKind(previous, current string) (string, bool) {
	if previous == current {
		return "", false
	}
	prevRank := healthRank(previous)
	currRank := healthRank(current)
	switch {
	case currRank > prevRank:
		return EventDegraded, true
	case current == compliance.HealthNormal && previous != "":
		return EventRecovered, true
	case currRank < prevRank && previous != "":
		return EventImproved, true
	default:
		return "", false
	}
}

func healthRank(health string) int {
	switch health {
	case compliance.HealthMajorIssue:
		return 2
	case compliance.HealthMinorIssue:
		return 1
	default:
		return 0
	}
}

func buildEventID(onuID, kind string, at time.Time) string {
	sum := sha1.Sum([]byte(onuID + "|" + kind + "|" + at.Format(time.RFC3339Nano)))
	return "health-" + hex.EncodeToString(sum[:8])
}

func orNone(health string) string {
	if health == "" {
		return "none"
	}
	return health
}
