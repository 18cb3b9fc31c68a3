package monitor

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"epon-monitor/internal/compliance"
	"epon-monitor/internal/telemetry/cache"
	telemetry "epon-monitor/internal/telemetry/domain"
	"epon-monitor/internal/telemetry/netconf"
)

func f(v float64) *float64 { return &v }

func b(v bool) *bool { return &v }

type fakeSnapshots struct {
	snap cache.Snapshot
	age  time.Duration
	ok   bool
}

func (s *fakeSnapshots) Current() (cache.Snapshot, time.Duration, bool) {
	return s.snap, s.age, s.ok
}

type fakeAppender struct {
	mu      sync.Mutex
	records []string
	err     error
}

func (a *fakeAppender) Append(record string) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.err != nil {
		return a.err
	}
	a.records = append(a.records, record)
	return nil
}

type fakeNotifier struct {
	mu     sync.Mutex
	events []HealthEvent
}

func (n *fakeNotifier) Notify(_ context.Context, event HealthEvent) {
	n.mu.Lock()
	n.events = append(n.events, event)
	n.mu.Unlock()
}

func (n *fakeNotifier) all() []HealthEvent {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]HealthEvent(nil), n.events...)
}

func healthyEvent(onuID string) telemetry.Event {
	return telemetry.Event{
		ONUID: onuID,
		QoT: telemetry.QoT{
			RxPowerDBm: f(-22.0),
			SNRdB:      f(24.5),
		},
	}
}

func degradedEvent(onuID string) telemetry.Event {
	return telemetry.Event{
		ONUID: onuID,
		QoT: telemetry.QoT{
			RxPowerDBm: f(-29.5),
			SNRdB:      f(12.3),
		},
		Status: telemetry.Status{QoTDegrade: b(true)},
	}
}

func snapshotOf(events ...telemetry.Event) cache.Snapshot {
	data := telemetry.ByDevice{}
	for _, event := range events {
		data[event.ONUID] = append(data[event.ONUID], event)
	}
	return cache.Snapshot{Data: data, CapturedAt: time.Now().UTC(), Fingerprint: "test"}
}

func TestClassifyDevice(t *testing.T) {
	source := &fakeSnapshots{snap: snapshotOf(healthyEvent("1"), degradedEvent("2")), ok: true}
	service, err := NewService(source)
	if err != nil {
		t.Fatalf("new service: %v", err)
	}

	result, err := service.ClassifyDevice("2")
	if err != nil {
		t.Fatalf("classify device: %v", err)
	}
	if result.Health != compliance.HealthMajorIssue {
		t.Fatalf("expected major issue, got %q", result.Health)
	}

	if _, err := service.ClassifyDevice("99"); !errors.Is(err, ErrUnknownDevice) {
		t.Fatalf("expected ErrUnknownDevice, got %v", err)
	}
}

func TestClassifyDevice_NoSnapshot(t *testing.T) {
	service, err := NewService(&fakeSnapshots{})
	if err != nil {
		t.Fatalf("new service: %v", err)
	}
	if _, err := service.ClassifyDevice("1"); !errors.Is(err, ErrNoSnapshot) {
		t.Fatalf("expected ErrNoSnapshot, got %v", err)
	}
	if _, _, err := service.Snapshot(); !errors.Is(err, ErrNoSnapshot) {
		t.Fatalf("expected ErrNoSnapshot from Snapshot, got %v", err)
	}
}

func TestClassifyFleet_OrderedByDevice(t *testing.T) {
	source := &fakeSnapshots{snap: snapshotOf(healthyEvent("b"), healthyEvent("a")), ok: true}
	service, err := NewService(source)
	if err != nil {
		t.Fatalf("new service: %v", err)
	}
	results, err := service.ClassifyFleet()
	if err != nil {
		t.Fatalf("classify fleet: %v", err)
	}
	if len(results) != 2 || results[0].ONUID != "a" || results[1].ONUID != "b" {
		t.Fatalf("expected results ordered by device id, got %v", results)
	}
}

func TestHandleRefresh_EmitsTransitions(t *testing.T) {
	source := &fakeSnapshots{}
	notifier := &fakeNotifier{}
	service, err := NewService(source, WithNotifier(notifier))
	if err != nil {
		t.Fatalf("new service: %v", err)
	}

	// First sighting already unwell: reported as degraded.
	service.HandleRefresh(snapshotOf(degradedEvent("1"), healthyEvent("2")))
	events := notifier.all()
	if len(events) != 1 {
		t.Fatalf("expected 1 event, got %d", len(events))
	}
	if events[0].Type != EventDegraded || events[0].ONUID != "1" {
		t.Fatalf("expected degraded event for onu 1, got %+v", events[0])
	}

	// No change: nothing new.
	service.HandleRefresh(snapshotOf(degradedEvent("1"), healthyEvent("2")))
	if got := len(notifier.all()); got != 1 {
		t.Fatalf("expected no events on identical health, got %d", got)
	}

	// Back to normal: recovered.
	service.HandleRefresh(snapshotOf(healthyEvent("1"), healthyEvent("2")))
	events = notifier.all()
	if len(events) != 2 {
		t.Fatalf("expected 2 events, got %d", len(events))
	}
	if events[1].Type != EventRecovered || events[1].Previous != compliance.HealthMajorIssue {
		t.Fatalf("expected recovery from major issue, got %+v", events[1])
	}
}

func TestInject_AppendsParseableRecord(t *testing.T) {
	appender := &fakeAppender{}
	service, err := NewService(&fakeSnapshots{}, WithAppender(appender))
	if err != nil {
		t.Fatalf("new service: %v", err)
	}

	if err := service.InjectDegraded("5"); err != nil {
		t.Fatalf("inject degraded: %v", err)
	}
	if err := service.InjectNormal("5"); err != nil {
		t.Fatalf("inject normal: %v", err)
	}
	if len(appender.records) != 2 {
		t.Fatalf("expected 2 appended records, got %d", len(appender.records))
	}

	event, ok := netconf.ParseRecord(strings.TrimSpace(appender.records[0]))
	if !ok {
		t.Fatalf("expected injected record to parse")
	}
	if event.ONUID != "5" {
		t.Fatalf("expected onu 5, got %q", event.ONUID)
	}
	if event.Status.QoTDegrade == nil || !*event.Status.QoTDegrade {
		t.Fatalf("expected degraded record to carry qot-degrade=true")
	}
}

func TestInject_RequiresAppenderAndONU(t *testing.T) {
	service, err := NewService(&fakeSnapshots{})
	if err != nil {
		t.Fatalf("new service: %v", err)
	}
	if err := service.InjectDegraded("5"); err == nil {
		t.Fatalf("expected error without an appender")
	}

	withAppender, err := NewService(&fakeSnapshots{}, WithAppender(&fakeAppender{}))
	if err != nil {
		t.Fatalf("new service: %v", err)
	}
	if err := withAppender.InjectDegraded(""); err == nil {
		t.Fatalf("expected error without an onu id")
	}
}

type failingNarrator struct{}

func (failingNarrator) Narrate(context.Context, compliance.Result) (string, error) {
	return "", errors.New("narrator offline")
}

func TestExplainDevice_NarrationFailureDegrades(t *testing.T) {
	source := &fakeSnapshots{snap: snapshotOf(healthyEvent("1")), ok: true}
	service, err := NewService(source, WithNarrator(failingNarrator{}))
	if err != nil {
		t.Fatalf("new service: %v", err)
	}
	explanation, err := service.ExplainDevice(context.Background(), "1")
	if err != nil {
		t.Fatalf("explain device: %v", err)
	}
	if explanation.Narration != "" {
		t.Fatalf("expected empty narration after failure, got %q", explanation.Narration)
	}
	if explanation.Result.ONUID != "1" {
		t.Fatalf("expected the classification to survive, got %+v", explanation.Result)
	}
}

func TestStaticNarrator(t *testing.T) {
	n := StaticNarrator{Text: "all clear"}
	text, err := n.Narrate(context.Background(), compliance.Result{})
	if err != nil {
		t.Fatalf("narrate: %v", err)
	}
	if text != "all clear" {
		t.Fatalf("expected static text, got %q", text)
	}
}
