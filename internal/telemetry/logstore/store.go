package logstore

import (
	"errors"
	"os"
	"strings"
	"sync"

	"epon-monitor/internal/telemetry/netconf"
)

const (
	// DefaultMaxLines bounds the log file size; oldest lines are dropped
	// once the budget is exceeded.
	DefaultMaxLines = 500

	// DefaultReadLimit is used when ReadLatest is called with a
	// non-positive limit.
	DefaultReadLimit = 10
)

// Store is an append-only log of raw notification records kept in a single
// bounded text file. Rewrites go through a temp file and rename so a reader
// always sees a complete point-in-time copy. Writers are serialized with a
// mutex; concurrent appenders (the simulator loop and the inject path) would
// otherwise lose records to overlapping read-trim-rename cycles. Reads stay
// lock-free.
type Store struct {
	path     string
	maxLines int

	writeMu sync.Mutex
}

// Option configures a Store.
type Option func(*Store)

// WithMaxLines overrides the line budget of the log file.
func WithMaxLines(n int) Option {
	return func(s *Store) {
		if n > 0 {
			s.maxLines = n
		}
	}
}

// New creates a store backed by the file at path. The file is created on
// first append.
func New(path string, opts ...Option) (*Store, error) {
	if path == "" {
		return nil, errors.New("logstore: empty path")
	}
	s := &Store{path: path, maxLines: DefaultMaxLines}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Path returns the location of the backing file.
func (s *Store) Path() string { return s.path }

// Append writes one raw record terminated by a newline, then trims the file
// to the line budget dropping the oldest lines first.
func (s *Store) Append(record string) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	prev, err := os.ReadFile(s.path)
	if err != nil && !os.IsNotExist(err) {
		return err
	}

	content := string(prev) + record + "\n"
	lines := strings.SplitAfter(content, "\n")
	if n := len(lines); n > 0 && lines[n-1] == "" {
		lines = lines[:n-1]
	}
	if len(lines) > s.maxLines {
		lines = lines[len(lines)-s.maxLines:]
	}
	return writeAtomic(s.path, []byte(strings.Join(lines, "")))
}

// ReadLatest returns the newest records, oldest first, up to limit. When
// onuID is non-empty only records for that ONU count toward the limit;
// records that fail to parse are skipped during filtering. The file is not
// modified. A missing file yields an empty result.
func (s *Store) ReadLatest(limit int, onuID string) ([]string, error) {
	if limit <= 0 {
		limit = DefaultReadLimit
	}

	content, err := os.ReadFile(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}

	records := splitRecords(string(content))
	if onuID != "" {
		var filtered []string
		for _, record := range records {
			event, ok := netconf.ParseRecord(record)
			if !ok {
				continue
			}
			if event.ONUID == onuID {
				filtered = append(filtered, record)
			}
		}
		records = filtered
	}
	if len(records) > limit {
		records = records[len(records)-limit:]
	}
	return records, nil
}

// Clear removes the backing file.
func (s *Store) Clear() error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	if err := os.Remove(s.path); err != nil && !os.IsNotExist(err) {
		return err
	}
	return nil
}

// splitRecords scans the file line by line and rebuilds the notification
// blocks. A line starting with <notification opens a record, the matching
// closing line ends it, anything outside an open record is ignored.
func splitRecords(content string) []string {
	var records []string
	var current []string
	inRecord := false
	for _, line := range strings.Split(content, "\n") {
		trimmed := strings.TrimSpace(line)
		switch {
		case strings.HasPrefix(trimmed, "<notification"):
			current = []string{line}
			inRecord = true
		case strings.HasPrefix(trimmed, "</notification>"):
			if inRecord {
				current = append(current, line)
				records = append(records, strings.Join(current, "\n"))
				current = nil
				inRecord = false
			}
		default:
			if inRecord {
				current = append(current, line)
			}
		}
	}
	return records
}

func writeAtomic(path string, data []byte) error {
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return err
	}
	return os.Rename(tmp, path)
}
