package apihttp

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"epon-monitor/internal/compliance"
	"epon-monitor/internal/monitor"
	"epon-monitor/internal/telemetry/cache"
	telemetry "epon-monitor/internal/telemetry/domain"
)

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
}

func (a *fakeAppender) Append(record string) error {
	a.mu.Lock()
	a.records = append(a.records, record)
	a.mu.Unlock()
	return nil
}

func f(v float64) *float64 { return &v }

func b(v bool) *bool { return &v }

func testSnapshot() cache.Snapshot {
	return cache.Snapshot{
		Data: telemetry.ByDevice{
			"1": {{ONUID: "1", QoT: telemetry.QoT{RxPowerDBm: f(-22.0), SNRdB: f(24.5)}}},
			"3": {{
				ONUID:  "3",
				QoT:    telemetry.QoT{RxPowerDBm: f(-29.5), SNRdB: f(12.3)},
				Status: telemetry.Status{QoTDegrade: b(true)},
			}},
		},
		CapturedAt:  time.Date(2026, time.August, 24, 10, 0, 0, 0, time.UTC),
		Fingerprint: "abc",
	}
}

func newTestService(t *testing.T, source monitor.SnapshotSource, opts ...monitor.ServiceOption) *monitor.Service {
	t.Helper()
	service, err := monitor.NewService(source, opts...)
	if err != nil {
		t.Fatalf("new service: %v", err)
	}
	return service
}

func TestSnapshotHandler_NoCache(t *testing.T) {
	handler := NewSnapshotHandler(newTestService(t, &fakeSnapshots{}))
	req := httptest.NewRequest(http.MethodGet, "/api/v1/telemetry/snapshot", nil)
	resp := httptest.NewRecorder()
	handler.ServeHTTP(resp, req)
	if resp.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503 without a snapshot, got %d", resp.Code)
	}
}

func TestSnapshotHandler_ReturnsData(t *testing.T) {
	source := &fakeSnapshots{snap: testSnapshot(), age: 30 * time.Second, ok: true}
	handler := NewSnapshotHandler(newTestService(t, source))

	req := httptest.NewRequest(http.MethodGet, "/api/v1/telemetry/snapshot", nil)
	resp := httptest.NewRecorder()
	handler.ServeHTTP(resp, req)
	if resp.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.Code)
	}

	var payload struct {
		CapturedAt string   `json:"captured_at"`
		AgeSeconds float64  `json:"age_seconds"`
		Devices    []string `json:"devices"`
	}
	if err := json.Unmarshal(resp.Body.Bytes(), &payload); err != nil {
		t.Fatalf("unmarshal response: %v", err)
	}
	if payload.AgeSeconds != 30 {
		t.Fatalf("expected age 30s, got %f", payload.AgeSeconds)
	}
	if len(payload.Devices) != 2 || payload.Devices[0] != "1" || payload.Devices[1] != "3" {
		t.Fatalf("expected sorted devices [1 3], got %v", payload.Devices)
	}
}

func TestDeviceStatusHandler(t *testing.T) {
	source := &fakeSnapshots{snap: testSnapshot(), ok: true}
	handler := NewDeviceStatusHandler(newTestService(t, source))

	req := httptest.NewRequest(http.MethodGet, "/api/v1/devices/3/status", nil)
	resp := httptest.NewRecorder()
	handler.ServeHTTP(resp, req)
	if resp.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.Code)
	}
	var result compliance.Result
	if err := json.Unmarshal(resp.Body.Bytes(), &result); err != nil {
		t.Fatalf("unmarshal result: %v", err)
	}
	if result.Health != compliance.HealthMajorIssue {
		t.Fatalf("expected major issue for onu 3, got %q", result.Health)
	}

	req = httptest.NewRequest(http.MethodGet, "/api/v1/devices/99/status", nil)
	resp = httptest.NewRecorder()
	handler.ServeHTTP(resp, req)
	if resp.Code != http.StatusNotFound {
		t.Fatalf("expected 404 for unknown device, got %d", resp.Code)
	}

	req = httptest.NewRequest(http.MethodGet, "/api/v1/devices/3/history", nil)
	resp = httptest.NewRecorder()
	handler.ServeHTTP(resp, req)
	if resp.Code != http.StatusNotFound {
		t.Fatalf("expected 404 for unsupported subresource, got %d", resp.Code)
	}
}

type staticNarrator struct{}

func (staticNarrator) Narrate(context.Context, compliance.Result) (string, error) {
	return "link is degraded, inspect the drop fiber", nil
}

func TestDeviceStatusHandler_Explain(t *testing.T) {
	source := &fakeSnapshots{snap: testSnapshot(), ok: true}
	service := newTestService(t, source, monitor.WithNarrator(staticNarrator{}))
	handler := NewDeviceStatusHandler(service)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/devices/3/status?explain=true", nil)
	resp := httptest.NewRecorder()
	handler.ServeHTTP(resp, req)
	if resp.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.Code)
	}
	var explanation monitor.Explanation
	if err := json.Unmarshal(resp.Body.Bytes(), &explanation); err != nil {
		t.Fatalf("unmarshal explanation: %v", err)
	}
	if !strings.Contains(explanation.Narration, "inspect the drop fiber") {
		t.Fatalf("expected narration present, got %q", explanation.Narration)
	}
}

func TestFleetHealthHandler(t *testing.T) {
	source := &fakeSnapshots{snap: testSnapshot(), ok: true}
	handler := NewFleetHealthHandler(newTestService(t, source))

	req := httptest.NewRequest(http.MethodGet, "/api/v1/fleet/health", nil)
	resp := httptest.NewRecorder()
	handler.ServeHTTP(resp, req)
	if resp.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.Code)
	}
	var payload fleetHealthResponse
	if err := json.Unmarshal(resp.Body.Bytes(), &payload); err != nil {
		t.Fatalf("unmarshal response: %v", err)
	}
	if payload.Devices != 2 {
		t.Fatalf("expected 2 devices, got %d", payload.Devices)
	}
	if payload.Counts[compliance.HealthNormal] != 1 || payload.Counts[compliance.HealthMajorIssue] != 1 {
		t.Fatalf("unexpected counts: %v", payload.Counts)
	}
}

func TestInjectHandler(t *testing.T) {
	appender := &fakeAppender{}
	service := newTestService(t, &fakeSnapshots{}, monitor.WithAppender(appender))
	handler := NewInjectHandler(service)

	body := strings.NewReader(`{"scenario":"degrade_onu","onu_id":"5"}`)
	req := httptest.NewRequest(http.MethodPost, "/api/v1/inject", body)
	resp := httptest.NewRecorder()
	handler.ServeHTTP(resp, req)
	if resp.Code != http.StatusAccepted {
		t.Fatalf("expected 202, got %d: %s", resp.Code, resp.Body.String())
	}
	if len(appender.records) != 1 {
		t.Fatalf("expected 1 appended record, got %d", len(appender.records))
	}

	req = httptest.NewRequest(http.MethodPost, "/api/v1/inject", strings.NewReader(`{"scenario":"explode","onu_id":"5"}`))
	resp = httptest.NewRecorder()
	handler.ServeHTTP(resp, req)
	if resp.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for unknown scenario, got %d", resp.Code)
	}

	req = httptest.NewRequest(http.MethodPost, "/api/v1/inject", strings.NewReader(`{"scenario":"degrade_onu"}`))
	resp = httptest.NewRecorder()
	handler.ServeHTTP(resp, req)
	if resp.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 without onu_id, got %d", resp.Code)
	}

	req = httptest.NewRequest(http.MethodGet, "/api/v1/inject", nil)
	resp = httptest.NewRecorder()
	handler.ServeHTTP(resp, req)
	if resp.Code != http.StatusMethodNotAllowed {
		t.Fatalf("expected 405 for GET, got %d", resp.Code)
	}
}

func TestExportFleetHandler(t *testing.T) {
	source := &fakeSnapshots{snap: testSnapshot(), ok: true}
	handler := NewExportFleetHandler(newTestService(t, source))

	cases := []struct {
		path        string
		contentType string
	}{
		{"/api/v1/exports/fleet.csv", "text/csv; charset=utf-8"},
		{"/api/v1/exports/fleet.xlsx", "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"},
		{"/api/v1/exports/fleet.pdf", "application/pdf"},
	}
	for _, tc := range cases {
		req := httptest.NewRequest(http.MethodGet, tc.path, nil)
		resp := httptest.NewRecorder()
		handler.ServeHTTP(resp, req)
		if resp.Code != http.StatusOK {
			t.Fatalf("%s: expected 200, got %d", tc.path, resp.Code)
		}
		if got := resp.Header().Get("Content-Type"); got != tc.contentType {
			t.Fatalf("%s: expected content type %q, got %q", tc.path, tc.contentType, got)
		}
		if resp.Body.Len() == 0 {
			t.Fatalf("%s: expected non-empty body", tc.path)
		}
	}

	req := httptest.NewRequest(http.MethodGet, "/api/v1/exports/fleet.docx", nil)
	resp := httptest.NewRecorder()
	handler.ServeHTTP(resp, req)
	if resp.Code != http.StatusNotFound {
		t.Fatalf("expected 404 for unknown format, got %d", resp.Code)
	}
}

func TestExportFleetHandler_NoCache(t *testing.T) {
	handler := NewExportFleetHandler(newTestService(t, &fakeSnapshots{}))
	req := httptest.NewRequest(http.MethodGet, "/api/v1/exports/fleet.csv", nil)
	resp := httptest.NewRecorder()
	handler.ServeHTTP(resp, req)
	if resp.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503 without a snapshot, got %d", resp.Code)
	}
}

func TestTransitionsHandler_NotConfigured(t *testing.T) {
	handler := NewTransitionsHandler(nil)
	req := httptest.NewRequest(http.MethodGet, "/api/v1/health/transitions", nil)
	resp := httptest.NewRecorder()
	handler.ServeHTTP(resp, req)
	if resp.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503 without an archive, got %d", resp.Code)
	}
}

func TestHealthStream_DeliversToSubscribers(t *testing.T) {
	stream := NewHealthStream()
	id, ch := stream.subscribe()
	defer stream.unsubscribe(id)

	stream.Notify(context.Background(), monitor.HealthEvent{
		ID:    "health-1",
		Type:  monitor.EventDegraded,
		ONUID: "3",
	})

	select {
	case payload := <-ch:
		var event monitor.HealthEvent
		if err := json.Unmarshal(payload, &event); err != nil {
			t.Fatalf("unmarshal payload: %v", err)
		}
		if event.ONUID != "3" || event.Type != monitor.EventDegraded {
			t.Fatalf("unexpected event: %+v", event)
		}
	case <-time.After(time.Second):
		t.Fatalf("no payload delivered")
	}
}

// Clients connecting and disconnecting while events are published must never
// take down the publisher. The publisher here runs on the cache worker's
// refresh goroutine in production, so a panic would kill the process.
func TestHealthStream_SurvivesChurnDuringPublish(t *testing.T) {
	stream := NewHealthStream()
	stop := make(chan struct{})
	var wg sync.WaitGroup

	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			event := monitor.HealthEvent{ID: "health-churn", Type: monitor.EventDegraded, ONUID: "3"}
			for {
				select {
				case <-stop:
					return
				default:
					stream.Notify(context.Background(), event)
				}
			}
		}()
	}

	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				select {
				case <-stop:
					return
				default:
					id, ch := stream.subscribe()
					select {
					case <-ch:
					default:
					}
					stream.unsubscribe(id)
				}
			}
		}()
	}

	time.Sleep(200 * time.Millisecond)
	close(stop)
	wg.Wait()

	// A subscriber registered after the churn still gets events.
	id, ch := stream.subscribe()
	defer stream.unsubscribe(id)
	stream.Notify(context.Background(), monitor.HealthEvent{ID: "health-after", Type: monitor.EventRecovered, ONUID: "5"})
	select {
	case <-ch:
	case <-time.After(time.Second):
		t.Fatalf("no delivery after churn")
	}
}
