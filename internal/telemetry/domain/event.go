package telemetry

import "sort"

// HistoryDepth is the number of recent events retained per ONU.
const HistoryDepth = 5

// Event is one parsed notification record for a single ONU.
type Event struct {
	Timestamp *string `json:"timestamp"`
	OLTID     *string `json:"olt_id"`
	ONUID     string  `json:"onu_id"`
	QoT       QoT     `json:"qot"`
	Status    Status  `json:"status"`
}

// QoT carries the optical signal-quality readings from one sample.
// Fields missing from the record, or present with unparseable text,
// stay nil.
type QoT struct {
	RxPowerDBm  *float64 `json:"rx_power_dBm"`
	SNRdB       *float64 `json:"snr_dB"`
	BERPreFEC   *float64 `json:"ber_pre_fec"`
	BERPostFEC  *float64 `json:"ber_post_fec"`
	Temperature *float64 `json:"temperature"`
}

// Status carries the operational flags reported by the ONU.
type Status struct {
	QoTDegrade    *bool   `json:"qot_degrade"`
	DSPAdaptation *string `json:"dsp_adaptation"`
}

// ByDevice groups events by ONU ID, oldest first within each device.
type ByDevice map[string][]Event

// Latest returns the most recent event for the given ONU.
func (b ByDevice) Latest(onuID string) (Event, bool) {
	events := b[onuID]
	if len(events) == 0 {
		return Event{}, false
	}
	return events[len(events)-1], true
}

// Devices returns the ONU IDs present in the group, sorted.
func (b ByDevice) Devices() []string {
	ids := make([]string, 0, len(b))
	for id := range b {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// EventCount returns the total number of events across all devices.
func (b ByDevice) EventCount() int {
	n := 0
	for _, events := range b {
		n += len(events)
	}
	return n
}
