package apihttp

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"epon-monitor/internal/archive"
	"epon-monitor/internal/compliance"
	"epon-monitor/internal/monitor"
	"epon-monitor/internal/observability/metrics"
	"epon-monitor/internal/report"
)

const timeLayout = time.RFC3339

// SnapshotHandler serves the cached telemetry snapshot.
type SnapshotHandler struct {
	service *monitor.Service
}

// NewSnapshotHandler constructs a SnapshotHandler.
func NewSnapshotHandler(service *monitor.Service) *SnapshotHandler {
	return &SnapshotHandler{service: service}
}

type snapshotResponse struct {
	CapturedAt string         `json:"captured_at"`
	AgeSeconds float64        `json:"age_seconds"`
	Devices    []string       `json:"devices"`
	Data       map[string]any `json:"data"`
}

// ServeHTTP handles GET /api/v1/telemetry/snapshot.
func (h *SnapshotHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	if h == nil || h.service == nil {
		http.Error(w, "server not ready", http.StatusServiceUnavailable)
		return
	}

	snap, age, err := h.service.Snapshot()
	if err != nil {
		if errors.Is(err, monitor.ErrNoSnapshot) {
			http.Error(w, "no cache", http.StatusServiceUnavailable)
			return
		}
		http.Error(w, "snapshot error", http.StatusInternalServerError)
		return
	}

	data := make(map[string]any, len(snap.Data))
	for id, events := range snap.Data {
		data[id] = events
	}
	writeJSON(w, snapshotResponse{
		CapturedAt: snap.CapturedAt.UTC().Format(timeLayout),
		AgeSeconds: age.Seconds(),
		Devices:    snap.Data.Devices(),
		Data:       data,
	})
}

// DeviceStatusHandler classifies the latest event of one device.
type DeviceStatusHandler struct {
	service *monitor.Service
}

// NewDeviceStatusHandler constructs a DeviceStatusHandler.
func NewDeviceStatusHandler(service *monitor.Service) *DeviceStatusHandler {
	return &DeviceStatusHandler{service: service}
}

// ServeHTTP handles GET /api/v1/devices/{onu}/status. With ?explain=true
// the response also carries the narrated summary.
func (h *DeviceStatusHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	if h == nil || h.service == nil {
		http.Error(w, "server not ready", http.StatusServiceUnavailable)
		return
	}

	onuID, ok := deviceStatusPath(r.URL.Path)
	if !ok {
		http.NotFound(w, r)
		return
	}

	if r.URL.Query().Get("explain") == "true" {
		explanation, err := h.service.ExplainDevice(r.Context(), onuID)
		if err != nil {
			writeMonitorError(w, err)
			return
		}
		writeJSON(w, explanation)
		return
	}

	result, err := h.service.ClassifyDevice(onuID)
	if err != nil {
		writeMonitorError(w, err)
		return
	}
	writeJSON(w, result)
}

func deviceStatusPath(path string) (string, bool) {
	rest, ok := strings.CutPrefix(path, "/api/v1/devices/")
	if !ok {
		return "", false
	}
	parts := strings.Split(rest, "/")
	if len(parts) != 2 || parts[0] == "" || parts[1] != "status" {
		return "", false
	}
	return parts[0], true
}

// FleetHealthHandler summarizes the latest classification per device.
type FleetHealthHandler struct {
	service *monitor.Service
}

// NewFleetHealthHandler constructs a FleetHealthHandler.
func NewFleetHealthHandler(service *monitor.Service) *FleetHealthHandler {
	return &FleetHealthHandler{service: service}
}

type fleetHealthResponse struct {
	Devices int                 `json:"devices"`
	Counts  map[string]int      `json:"counts"`
	Results []compliance.Result `json:"results"`
}

// ServeHTTP handles GET /api/v1/fleet/health.
func (h *FleetHealthHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	if h == nil || h.service == nil {
		http.Error(w, "server not ready", http.StatusServiceUnavailable)
		return
	}

	results, err := h.service.ClassifyFleet()
	if err != nil {
		writeMonitorError(w, err)
		return
	}
	counts := make(map[string]int, 3)
	for _, result := range results {
		counts[result.Health]++
	}
	writeJSON(w, fleetHealthResponse{
		Devices: len(results),
		Counts:  counts,
		Results: results,
	})
}

// InjectHandler appends synthetic telemetry for a device.
type InjectHandler struct {
	service *monitor.Service
}

// NewInjectHandler constructs an InjectHandler.
func NewInjectHandler(service *monitor.Service) *InjectHandler {
	return &InjectHandler{service: service}
}

type injectRequest struct {
	Scenario string `json:"scenario"`
	ONUID    string `json:"onu_id"`
}

// ServeHTTP handles POST /api/v1/inject.
func (h *InjectHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	if h == nil || h.service == nil {
		http.Error(w, "server not ready", http.StatusServiceUnavailable)
		return
	}

	var req injectRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if req.ONUID == "" {
		http.Error(w, "onu_id is required", http.StatusBadRequest)
		return
	}

	var err error
	switch req.Scenario {
	case monitor.ScenarioDegradeONU:
		err = h.service.InjectDegraded(req.ONUID)
	case monitor.ScenarioClearIssues:
		err = h.service.InjectNormal(req.ONUID)
	default:
		http.Error(w, "scenario must be degrade_onu or clear_issues", http.StatusBadRequest)
		return
	}
	if err != nil {
		http.Error(w, "inject error", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusAccepted)
	writeJSON(w, map[string]string{"status": "accepted", "scenario": req.Scenario, "onu_id": req.ONUID})
}

// TransitionsHandler lists archived health transitions.
type TransitionsHandler struct {
	repo *archive.Repository
}

// NewTransitionsHandler constructs a TransitionsHandler.
func NewTransitionsHandler(repo *archive.Repository) *TransitionsHandler {
	return &TransitionsHandler{repo: repo}
}

// ServeHTTP handles GET /api/v1/health/transitions.
func (h *TransitionsHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	if h == nil || h.repo == nil {
		http.Error(w, "archive not configured", http.StatusServiceUnavailable)
		return
	}

	limit := 20
	if value := r.URL.Query().Get("limit"); value != "" {
		parsed, err := strconv.Atoi(value)
		if err != nil || parsed <= 0 {
			http.Error(w, "limit must be a positive integer", http.StatusBadRequest)
			return
		}
		limit = parsed
	}

	transitions, err := h.repo.ListRecent(r.Context(), r.URL.Query().Get("onu_id"), limit)
	if err != nil {
		http.Error(w, "query transitions error", http.StatusInternalServerError)
		return
	}
	if transitions == nil {
		transitions = []archive.Transition{}
	}
	writeJSON(w, transitions)
}

// ExportFleetHandler serves fleet health report downloads.
type ExportFleetHandler struct {
	service *monitor.Service
}

// NewExportFleetHandler constructs an ExportFleetHandler.
func NewExportFleetHandler(service *monitor.Service) *ExportFleetHandler {
	return &ExportFleetHandler{service: service}
}

// ServeHTTP handles GET /api/v1/exports/fleet.{csv,xlsx,pdf}.
func (h *ExportFleetHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	if h == nil || h.service == nil {
		http.Error(w, "server not ready", http.StatusServiceUnavailable)
		return
	}

	format, ok := exportFormat(r.URL.Path)
	if !ok {
		http.NotFound(w, r)
		return
	}

	snap, _, err := h.service.Snapshot()
	if err != nil {
		writeMonitorError(w, err)
		return
	}
	results, err := h.service.ClassifyFleet()
	if err != nil {
		writeMonitorError(w, err)
		return
	}

	fleet := report.FleetReport{
		GeneratedAt: time.Now().UTC(),
		CapturedAt:  snap.CapturedAt,
		Results:     results,
		Data:        snap.Data,
	}

	started := time.Now()
	var body []byte
	var contentType string
	switch format {
	case "csv":
		body, err = report.BuildFleetCSV(fleet)
		contentType = "text/csv; charset=utf-8"
	case "xlsx":
		body, err = report.BuildFleetXLSX(fleet)
		contentType = "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"
	case "pdf":
		body, err = report.BuildFleetPDF(fleet)
		contentType = "application/pdf"
	}
	if err != nil {
		metrics.ObserveReportExport(format, metrics.ResultError, time.Since(started))
		http.Error(w, "export error", http.StatusInternalServerError)
		return
	}
	metrics.ObserveReportExport(format, metrics.ResultSuccess, time.Since(started))

	w.Header().Set("Content-Type", contentType)
	w.Header().Set("Content-Disposition", `attachment; filename="fleet.`+format+`"`)
	_, _ = w.Write(body)
}

func exportFormat(path string) (string, bool) {
	switch path {
	case "/api/v1/exports/fleet.csv":
		return "csv", true
	case "/api/v1/exports/fleet.xlsx":
		return "xlsx", true
	case "/api/v1/exports/fleet.pdf":
		return "pdf", true
	default:
		return "", false
	}
}

func writeMonitorError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, monitor.ErrNoSnapshot):
		http.Error(w, "no cache", http.StatusServiceUnavailable)
	case errors.Is(err, monitor.ErrUnknownDevice):
		http.Error(w, "unknown device", http.StatusNotFound)
	default:
		http.Error(w, "internal error", http.StatusInternalServerError)
	}
}

func writeJSON(w http.ResponseWriter, payload any) {
	if w.Header().Get("Content-Type") == "" {
		w.Header().Set("Content-Type", "application/json")
	}
	_ = json.NewEncoder(w).Encode(payload)
}
