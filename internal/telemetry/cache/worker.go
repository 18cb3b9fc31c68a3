package cache

import (
	"context"
	"crypto/md5"
	"encoding/hex"
	"encoding/json"
	"errors"
	"log"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"epon-monitor/internal/observability/metrics"
	telemetry "epon-monitor/internal/telemetry/domain"
	"epon-monitor/internal/telemetry/netconf"
)

// State identifies the phase a refresh cycle is in.
type State string

// Refresh cycle states. Unchanged, Persisted and Failed are the terminal
// outcomes of a cycle; the worker returns to Idle between cycles.
const (
	StateIdle           State = "idle"
	StateFetching       State = "fetching"
	StateFingerprinting State = "fingerprinting"
	StateUnchanged      State = "unchanged"
	StateParsing        State = "parsing"
	StatePersisted      State = "persisted"
	StateFailed         State = "failed"
)

const (
	// DefaultInterval between refresh cycles.
	DefaultInterval = 60 * time.Second

	// DefaultFetchCount is how many recent records a cycle reads.
	DefaultFetchCount = 100

	cacheTimeLayout = "2006-01-02T15:04:05Z"
)

// RecordSource supplies the latest raw records to refresh from.
type RecordSource interface {
	ReadLatest(limit int, onuID string) ([]string, error)
}

// Clock supplies the current time.
type Clock interface {
	Now() time.Time
}

type systemClock struct{}

func (systemClock) Now() time.Time { return time.Now().UTC() }

// Snapshot is one complete parse result published by the worker. Data is
// shared with every reader and must be treated as read-only.
type Snapshot struct {
	Data        telemetry.ByDevice
	CapturedAt  time.Time
	Fingerprint string
}

// Worker periodically refreshes a parsed view of the record source. Cycles
// run serially on one goroutine; the published snapshot is replaced as a
// whole so readers never observe a half-written state. A failed cycle
// leaves the previous snapshot intact.
type Worker struct {
	source     RecordSource
	cachePath  string
	interval   time.Duration
	fetchCount int
	clock      Clock
	logger     *log.Logger
	onPersist  func(Snapshot)

	mu          sync.RWMutex
	current     *Snapshot
	fingerprint string
	state       State
}

// Option configures a Worker.
type Option func(*Worker)

// WithInterval overrides the refresh interval.
func WithInterval(d time.Duration) Option {
	return func(w *Worker) {
		if d > 0 {
			w.interval = d
		}
	}
}

// WithFetchCount overrides how many records each cycle reads.
func WithFetchCount(n int) Option {
	return func(w *Worker) {
		if n > 0 {
			w.fetchCount = n
		}
	}
}

// WithClock overrides the time source.
func WithClock(clock Clock) Option {
	return func(w *Worker) {
		if clock != nil {
			w.clock = clock
		}
	}
}

// WithLogger overrides the logger.
func WithLogger(logger *log.Logger) Option {
	return func(w *Worker) {
		if logger != nil {
			w.logger = logger
		}
	}
}

// WithOnPersist registers a hook invoked after every published refresh.
// The hook runs on the worker goroutine.
func WithOnPersist(fn func(Snapshot)) Option {
	return func(w *Worker) {
		w.onPersist = fn
	}
}

// New creates a worker reading from source and persisting to cachePath.
func New(source RecordSource, cachePath string, opts ...Option) (*Worker, error) {
	if source == nil {
		return nil, errors.New("cache: nil record source")
	}
	if cachePath == "" {
		return nil, errors.New("cache: empty cache path")
	}
	w := &Worker{
		source:     source,
		cachePath:  cachePath,
		interval:   DefaultInterval,
		fetchCount: DefaultFetchCount,
		clock:      systemClock{},
		logger:     log.Default(),
		state:      StateIdle,
	}
	for _, opt := range opts {
		opt(w)
	}
	return w, nil
}

// Start restores any persisted snapshot, refreshes once immediately and
// then refreshes on the configured interval until ctx is done. A slow cycle
// delays the next tick rather than overlapping it.
func (w *Worker) Start(ctx context.Context) {
	if w == nil {
		return
	}
	w.Load()
	w.RunOnce()

	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			w.RunOnce()
		}
	}
}

// RunOnce performs a single refresh cycle and returns its terminal state.
func (w *Worker) RunOnce() State {
	started := w.clock.Now()
	outcome := w.refresh()
	metrics.ObserveCacheRefresh(string(outcome), w.clock.Now().Sub(started))
	w.setState(StateIdle)
	return outcome
}

func (w *Worker) refresh() State {
	w.setState(StateFetching)
	records, err := w.source.ReadLatest(w.fetchCount, "")
	if err != nil {
		w.setState(StateFailed)
		w.logger.Printf("telemetry cache: fetch failed: %v", err)
		return StateFailed
	}
	if len(records) == 0 {
		w.setState(StateFailed)
		w.logger.Printf("telemetry cache: no records available")
		return StateFailed
	}

	w.setState(StateFingerprinting)
	hash := Fingerprint(records)
	if prev := w.lastFingerprint(); prev != "" && prev == hash {
		w.setState(StateUnchanged)
		return StateUnchanged
	}

	w.setState(StateParsing)
	data := netconf.ParseBatch(strings.Join(records, "\n"))
	if len(data) == 0 {
		w.setState(StateFailed)
		w.logger.Printf("telemetry cache: parse produced no events")
		return StateFailed
	}

	snap := Snapshot{Data: data, CapturedAt: w.clock.Now(), Fingerprint: hash}
	w.publish(snap)
	if err := w.persist(snap); err != nil {
		w.logger.Printf("telemetry cache: persist failed: %v", err)
	}
	w.setState(StatePersisted)
	metrics.SetSnapshotSize(len(data), data.EventCount())
	w.logger.Printf("telemetry cache: snapshot updated devices=%d events=%d hash=%s",
		len(data), data.EventCount(), shortHash(hash))
	if w.onPersist != nil {
		w.onPersist(snap)
	}
	return StatePersisted
}

// Current returns the latest snapshot and its age. ok is false until a
// snapshot has been published or restored from disk.
func (w *Worker) Current() (Snapshot, time.Duration, bool) {
	w.mu.RLock()
	snap := w.current
	w.mu.RUnlock()
	if snap == nil {
		return Snapshot{}, 0, false
	}
	return *snap, w.clock.Now().Sub(snap.CapturedAt), true
}

// State reports the phase the worker is currently in.
func (w *Worker) State() State {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.state
}

// Load restores the persisted snapshot and fingerprint from disk. Missing
// or unreadable files are ignored so a cold start simply begins empty.
func (w *Worker) Load() {
	body, err := os.ReadFile(w.cachePath)
	if err != nil {
		if !os.IsNotExist(err) {
			w.logger.Printf("telemetry cache: load failed: %v", err)
		}
		return
	}
	var payload cacheFile
	if err := json.Unmarshal(body, &payload); err != nil {
		w.logger.Printf("telemetry cache: load failed: %v", err)
		return
	}

	w.mu.Lock()
	w.fingerprint = payload.DataHash
	restored := false
	if len(payload.ParsedData) > 0 {
		capturedAt := time.Unix(0, int64(payload.Timestamp*float64(time.Second))).UTC()
		w.current = &Snapshot{
			Data:        payload.ParsedData,
			CapturedAt:  capturedAt,
			Fingerprint: payload.DataHash,
		}
		restored = true
	}
	w.mu.Unlock()

	if restored {
		_, age, _ := w.Current()
		w.logger.Printf("telemetry cache: restored snapshot devices=%d age=%.1fs",
			len(payload.ParsedData), age.Seconds())
	}
}

// Fingerprint hashes the first and last record of a batch as a cheap proxy
// for change detection. An empty batch yields an empty fingerprint.
func Fingerprint(records []string) string {
	if len(records) == 0 {
		return ""
	}
	sum := md5.Sum([]byte(records[0] + records[len(records)-1]))
	return hex.EncodeToString(sum[:])
}

// cacheFile is the on-disk snapshot format.
type cacheFile struct {
	ParsedData   telemetry.ByDevice `json:"parsed_data"`
	Timestamp    float64            `json:"timestamp"`
	TimestampISO string             `json:"timestamp_iso"`
	DataHash     string             `json:"data_hash"`
}

func (w *Worker) persist(snap Snapshot) error {
	payload := cacheFile{
		ParsedData:   snap.Data,
		Timestamp:    float64(snap.CapturedAt.UnixNano()) / float64(time.Second),
		TimestampISO: snap.CapturedAt.UTC().Format(cacheTimeLayout),
		DataHash:     snap.Fingerprint,
	}
	body, err := json.MarshalIndent(payload, "", "  ")
	if err != nil {
		return err
	}
	if dir := filepath.Dir(w.cachePath); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return err
		}
	}
	tmp := w.cachePath + ".tmp"
	if err := os.WriteFile(tmp, body, 0o644); err != nil {
		return err
	}
	return os.Rename(tmp, w.cachePath)
}

func (w *Worker) publish(snap Snapshot) {
	w.mu.Lock()
	w.current = &snap
	w.fingerprint = snap.Fingerprint
	w.mu.Unlock()
}

func (w *Worker) lastFingerprint() string {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.fingerprint
}

func (w *Worker) setState(state State) {
	w.mu.Lock()
	w.state = state
	w.mu.Unlock()
}

func shortHash(hash string) string {
	if len(hash) > 8 {
		return hash[:8]
	}
	return hash
}
