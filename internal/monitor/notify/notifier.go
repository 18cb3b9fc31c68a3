package notify

import (
	"context"
	"crypto/sha1"
	"encoding/hex"
	"errors"
	"sync"
	"time"

	"epon-monitor/internal/compliance"
	"epon-monitor/internal/monitor"
	"epon-monitor/internal/observability/metrics"
)

// Clock provides time for suppression windows.
type Clock interface {
	Now() time.Time
}

type sendRecord struct {
	at   time.Time
	hash string
}

// Notifier renders health transition events and delivers them through a
// channel, suppressing repeats with a cooldown and a dedupe window.
type Notifier struct {
	channel      Channel
	template     *Template
	clock        Clock
	minSeverity  string
	cooldown     time.Duration
	dedupeWindow time.Duration

	mu   sync.Mutex
	sent map[string]sendRecord
}

// Option configures the notifier.
type Option func(*Notifier)

// WithClock overrides the default clock.
func WithClock(clock Clock) Option {
	return func(n *Notifier) {
		if clock != nil {
			n.clock = clock
		}
	}
}

// WithCooldown sets a minimum interval between notifications for the same
// device and event type.
func WithCooldown(interval time.Duration) Option {
	return func(n *Notifier) {
		if interval > 0 {
			n.cooldown = interval
		}
	}
}

// WithDedupeWindow suppresses identical notifications within the window.
func WithDedupeWindow(window time.Duration) Option {
	return func(n *Notifier) {
		if window > 0 {
			n.dedupeWindow = window
		}
	}
}

// WithMinSeverity drops events whose classification falls below the given
// severity. Recovery events always pass.
func WithMinSeverity(severity string) Option {
	return func(n *Notifier) {
		if severity != "" {
			n.minSeverity = severity
		}
	}
}

// NewNotifier constructs a health notifier.
func NewNotifier(channel Channel, template *Template, opts ...Option) (*Notifier, error) {
	if channel == nil {
		return nil, errors.New("health notifier: nil channel")
	}
	if template == nil {
		defaultTemplate, err := NewTemplate("")
		if err != nil {
			return nil, err
		}
		template = defaultTemplate
	}
	n := &Notifier{
		channel:  channel,
		template: template,
		clock:    systemClock{},
		sent:     make(map[string]sendRecord),
	}
	for _, opt := range opts {
		opt(n)
	}
	return n, nil
}

// Notify implements monitor.HealthNotifier.
func (n *Notifier) Notify(ctx context.Context, event monitor.HealthEvent) {
	if n == nil || n.channel == nil {
		return
	}
	if !n.wantsEvent(event) {
		return
	}
	content, err := n.template.Render(buildTemplateData(event))
	if err != nil {
		metrics.IncNotify("webhook", metrics.ResultError)
		return
	}
	if !n.shouldSend(event.ONUID, event.Type, content) {
		return
	}
	if err := n.channel.Send(ctx, content); err != nil {
		metrics.IncNotify("webhook", metrics.ResultError)
		return
	}
	metrics.IncNotify("webhook", metrics.ResultSuccess)
	n.markSent(event.ONUID, event.Type, content)
}

// wantsEvent applies the severity floor. Recoveries are always delivered so
// an operator who saw the fault also sees it clear.
func (n *Notifier) wantsEvent(event monitor.HealthEvent) bool {
	if n.minSeverity == "" {
		return true
	}
	if event.Type == monitor.EventRecovered {
		return true
	}
	return compliance.SeverityAtLeast(event.Result.Severity, n.minSeverity)
}

func (n *Notifier) shouldSend(onuID, eventType, content string) bool {
	if n == nil {
		return false
	}
	if n.cooldown <= 0 && n.dedupeWindow <= 0 {
		return true
	}
	key := notificationKey(onuID, eventType)
	now := n.clock.Now().UTC()
	hash := hashContent(content)

	n.mu.Lock()
	record, ok := n.sent[key]
	n.mu.Unlock()
	if !ok {
		return true
	}
	if n.cooldown > 0 && now.Sub(record.at) < n.cooldown {
		return false
	}
	if n.dedupeWindow > 0 && record.hash == hash && now.Sub(record.at) < n.dedupeWindow {
		return false
	}
	return true
}

func (n *Notifier) markSent(onuID, eventType, content string) {
	if n == nil {
		return
	}
	key := notificationKey(onuID, eventType)
	n.mu.Lock()
	n.sent[key] = sendRecord{
		at:   n.clock.Now().UTC(),
		hash: hashContent(content),
	}
	n.mu.Unlock()
}

func notificationKey(onuID, eventType string) string {
	return onuID + "|" + eventType
}

func hashContent(content string) string {
	sum := sha1.Sum([]byte(content))
	return hex.EncodeToString(sum[:8])
}

type systemClock struct{}

func (systemClock) Now() time.Time { return time.Now().UTC() }
