package notify

import (
	"context"

	"epon-monitor/internal/monitor"
)

// FanOut forwards each health event to every registered notifier. Nil
// entries are tolerated so callers can build the slice conditionally.
type FanOut []monitor.HealthNotifier

// Notify implements monitor.HealthNotifier.
func (f FanOut) Notify(ctx context.Context, event monitor.HealthEvent) {
	for _, notifier := range f {
		if notifier != nil {
			notifier.Notify(ctx, event)
		}
	}
}
