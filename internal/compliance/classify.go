package compliance

import (
	"fmt"
	"strings"

	telemetry "epon-monitor/internal/telemetry/domain"
)

// Severity levels, lowest to highest.
const (
	SeverityInfo     = "info"
	SeverityWarning  = "warning"
	SeverityCritical = "critical"
)

// Health states derived from severity and the abnormal flag.
const (
	HealthNormal     = "normal"
	HealthMinorIssue = "minor_issue"
	HealthMajorIssue = "major_issue"
)

// Layer attribution for findings.
const (
	LayerUnknown = "Unknown"
	LayerPHY     = "PHY"
)

// Thresholds for EPON ONU optics, aligned with general IEEE 802.3
// expectations rather than any clause-accurate limit.
const (
	rxLowDBm      = -26.5
	rxCriticalDBm = -28.0
	berCritical   = 1e-3
	berHigh       = 1e-4
	berElevated   = 1e-5
	snrCriticalDB = 12.0
	snrMarginalDB = 15.0
	tempHighC     = 75.0
)

// Result is the outcome of classifying one telemetry event.
type Result struct {
	Timestamp        *string  `json:"timestamp"`
	OLTID            *string  `json:"olt_id"`
	ONUID            string   `json:"onu_id"`
	LikelyLayer      string   `json:"likely_layer"`
	Severity         string   `json:"severity"`
	ProbableCauses   []string `json:"probable_causes"`
	SuggestedActions []string `json:"suggested_actions"`
	Notes            []string `json:"notes"`
	IsAbnormal       bool     `json:"is_abnormal"`
	Health           string   `json:"health"`
}

// Classify runs the heuristic QoT rule ladder over a single event. Rules are
// evaluated in a fixed order, each may append findings, and severity only
// ever escalates. Missing readings skip their rule rather than failing.
// The function is pure; it performs no I/O.
func Classify(event telemetry.Event) Result {
	result := Result{
		Timestamp:   event.Timestamp,
		OLTID:       event.OLTID,
		ONUID:       event.ONUID,
		LikelyLayer: LayerUnknown,
		Severity:    SeverityInfo,
	}

	qot := event.QoT

	var dspState string
	if event.Status.DSPAdaptation != nil {
		dspState = strings.ToLower(*event.Status.DSPAdaptation)
	}

	// QoT degradation flag from the ONU itself.
	if event.Status.QoTDegrade != nil && *event.Status.QoTDegrade {
		result.LikelyLayer = LayerPHY
		result.escalate(SeverityCritical)
		result.addCause("QoT degradation reported by ONU.")
		result.addActions(
			"Verify fiber continuity and connectors on the PON link.",
			"Measure optical power with OPM or perform OTDR test.",
			"Inspect splitter ports/splices for excessive loss.",
		)
		result.addNote("QoT degrade indicates optical signal margins falling outside normal operating envelope for EPON PHY optics.")
	}

	// Rx power window. Both branches may fire for the same reading.
	if rx := qot.RxPowerDBm; rx != nil {
		if *rx < rxLowDBm {
			result.layerIfUnknown(LayerPHY)
			result.escalate(SeverityWarning)
			result.addCause(fmt.Sprintf("Low received optical power (%.2f dBm).", *rx))
			result.addActions("Check passive plant for excessive insertion loss.")
			result.addNote("Receiver input is near sensitivity limit for common EPON ONU optics.")
		}
		if *rx < rxCriticalDBm {
			result.layerIfUnknown(LayerPHY)
			result.escalate(SeverityCritical)
			result.addCause("Received optical power beyond sensitivity threshold.")
			result.addActions("Urgently inspect fiber drop and connectors.")
		}
	}

	// Pre-FEC BER tiers, highest first, first match wins.
	if ber := qot.BERPreFEC; ber != nil {
		switch {
		case *ber > berCritical:
			result.LikelyLayer = LayerPHY
			result.escalate(SeverityCritical)
			result.addCause(fmt.Sprintf("Pre-FEC BER %.2e extremely high.", *ber))
			result.addActions(
				"Perform optical path inspection immediately.",
				"Verify laser launch conditions and ONU optics health.",
			)
		case *ber > berHigh:
			result.layerIfUnknown(LayerPHY)
			result.escalate(SeverityWarning)
			result.addCause(fmt.Sprintf("Pre-FEC BER %.2e above nominal.", *ber))
			result.addActions("Check clock recovery / dispersion on long-reach PON.")
		case *ber > berElevated:
			result.layerIfUnknown(LayerPHY)
			result.escalate(SeverityWarning)
			result.addCause("Pre-FEC BER slightly elevated.")
			result.addActions("Monitor BER trend over time.")
		}
	}

	// SNR floor.
	if snr := qot.SNRdB; snr != nil {
		if *snr < snrCriticalDB {
			result.LikelyLayer = LayerPHY
			result.escalate(SeverityCritical)
			result.addCause(fmt.Sprintf("SNR critically low (%.1f dB).", *snr))
			result.addActions("Investigate reflections, macro-bends, or noisy transmitters.")
		} else if *snr < snrMarginalDB {
			result.escalate(SeverityWarning)
			result.LikelyLayer = LayerPHY
			result.addCause(fmt.Sprintf("SNR marginal (%.1f dB).", *snr))
			result.addActions("Inspect connectors for contamination or micro-bends.")
		}
	}

	// Operating temperature.
	if temp := qot.Temperature; temp != nil && *temp > tempHighC {
		result.LikelyLayer = LayerPHY
		result.escalate(SeverityWarning)
		result.addCause(fmt.Sprintf("High ONU temperature (%g°C).", *temp))
		result.addActions("Check ONU ambient conditions and ventilation.")
	}

	// DSP adaptation state.
	switch dspState {
	case "slow", "degraded", "tracking":
		result.LikelyLayer = LayerPHY
		result.escalate(SeverityWarning)
		result.addCause("DSP adaptation struggling (slow/degraded).")
		result.addActions("Check for unstable optical power or high dispersion.")
		result.addNote("DSP struggling often correlates with low SNR or fluctuating power.")
	}

	if len(result.ProbableCauses) == 0 {
		result.addCause("No abnormal conditions detected.")
		result.addActions("Continue monitoring.")
		result.addNote("Event appears to be within normal IEEE 802.3 EPON operating range.")
		result.IsAbnormal = false
	} else {
		result.IsAbnormal = true
		if result.Severity != SeverityCritical {
			result.addActions("Continue monitoring link quality trends.")
		}
	}

	switch {
	case !result.IsAbnormal:
		result.Health = HealthNormal
	case result.Severity == SeverityCritical:
		result.Health = HealthMajorIssue
	default:
		result.Health = HealthMinorIssue
	}

	return result
}

func (r *Result) escalate(severity string) {
	if SeverityRank(severity) > SeverityRank(r.Severity) {
		r.Severity = severity
	}
}

func (r *Result) layerIfUnknown(layer string) {
	if r.LikelyLayer == LayerUnknown {
		r.LikelyLayer = layer
	}
}

func (r *Result) addCause(cause string) {
	r.ProbableCauses = append(r.ProbableCauses, cause)
}

func (r *Result) addActions(actions ...string) {
	r.SuggestedActions = append(r.SuggestedActions, actions...)
}

func (r *Result) addNote(note string) {
	r.Notes = append(r.Notes, note)
}

// SeverityAtLeast reports whether value is at or above target in the
// info < warning < critical ordering.
func SeverityAtLeast(value, target string) bool {
	return SeverityRank(value) >= SeverityRank(target)
}

// SeverityRank maps a severity to its position in the escalation order.
// Unknown values rank below info.
func SeverityRank(value string) int {
	switch strings.TrimSpace(strings.ToLower(value)) {
	case SeverityCritical:
		return 3
	case SeverityWarning:
		return 2
	case SeverityInfo:
		return 1
	default:
		return 0
	}
}
