package simulator

import (
	"fmt"
	"math"
	"math/rand"
	"strconv"
)

// Default fleet shape for generated telemetry.
const (
	DefaultOLTID    = "OLT-01"
	DefaultONUCount = 8
)

// Drift clamps keep generated readings inside plausible EPON ranges.
const (
	rxMin, rxMax     = -30.0, -15.0
	snrMin, snrMax   = 10.0, 30.0
	tempMin, tempMax = 40.0, 80.0

	degradeChance = 0.05
)

// Metrics is one telemetry sample for a single ONU.
type Metrics struct {
	OLTID       string
	ONUID       string
	RxPowerDBm  float64
	SNRdB       float64
	BERPreFEC   float64
	BERPostFEC  float64
	Temperature float64
	QoTDegrade  bool
	DSPState    string
}

// Generator produces drifting telemetry samples for a set of ONUs. Each
// ONU keeps its own state so consecutive samples move smoothly instead of
// jumping around.
type Generator struct {
	oltID string
	rng   *rand.Rand
	state map[int]*onuState
}

type onuState struct {
	rxPower float64
	snr     float64
	temp    float64
}

// NewGenerator seeds per-ONU state with slight randomness around healthy
// operating values.
func NewGenerator(oltID string, onuCount int, seed int64) *Generator {
	if oltID == "" {
		oltID = DefaultOLTID
	}
	if onuCount <= 0 {
		onuCount = DefaultONUCount
	}
	rng := rand.New(rand.NewSource(seed))
	state := make(map[int]*onuState, onuCount)
	for id := 1; id <= onuCount; id++ {
		state[id] = &onuState{
			rxPower: -23.0 + rng.Float64()*4 - 2,
			snr:     22.0 + rng.Float64()*6 - 3,
			temp:    55.0 + rng.Float64()*10 - 5,
		}
	}
	return &Generator{oltID: oltID, rng: rng, state: state}
}

// ONUCount returns the number of simulated ONUs.
func (g *Generator) ONUCount() int { return len(g.state) }

// Sample advances the drift for one ONU and returns its next reading.
// Roughly one sample in twenty degrades sharply to exercise the alarm
// paths downstream.
func (g *Generator) Sample(onuID int) Metrics {
	s, ok := g.state[onuID]
	if !ok {
		s = &onuState{rxPower: -23.0, snr: 22.0, temp: 55.0}
		g.state[onuID] = s
	}

	s.rxPower = clamp(s.rxPower+g.uniform(-0.2, 0.2), rxMin, rxMax)
	s.snr = clamp(s.snr+g.uniform(-0.5, 0.5), snrMin, snrMax)
	s.temp = clamp(s.temp+g.uniform(-0.2, 0.2), tempMin, tempMax)

	degraded := g.rng.Float64() < degradeChance
	dspState := "normal"
	if degraded {
		s.rxPower -= g.uniform(1, 3)
		s.snr -= g.uniform(2, 5)
		s.temp += g.uniform(1, 3)
		if g.rng.Float64() < 0.5 {
			dspState = "slow"
		}
	}

	// Toy BER model tied to SNR.
	berPre := math.Pow(10, -s.snr/5.0)
	berPost := berPre / 100.0

	return Metrics{
		OLTID:       g.oltID,
		ONUID:       strconv.Itoa(onuID),
		RxPowerDBm:  round2(s.rxPower),
		SNRdB:       round2(s.snr),
		BERPreFEC:   berPre,
		BERPostFEC:  berPost,
		Temperature: round1(s.temp),
		QoTDegrade:  degraded,
		DSPState:    dspState,
	}
}

// DegradedMetrics is the canned unhealthy sample used for fault injection.
func DegradedMetrics(onuID string) Metrics {
	return Metrics{
		OLTID:       DefaultOLTID,
		ONUID:       onuID,
		RxPowerDBm:  -29.5,
		SNRdB:       12.3,
		BERPreFEC:   5.2e-05,
		BERPostFEC:  5.2e-07,
		Temperature: 78.2,
		QoTDegrade:  true,
		DSPState:    "slow",
	}
}

// NormalMetrics is the canned healthy sample used to clear injected faults.
func NormalMetrics(onuID string) Metrics {
	return Metrics{
		OLTID:       DefaultOLTID,
		ONUID:       onuID,
		RxPowerDBm:  -22.0,
		SNRdB:       24.5,
		BERPreFEC:   2.1e-09,
		BERPostFEC:  2.1e-11,
		Temperature: 52.0,
		QoTDegrade:  false,
		DSPState:    "normal",
	}
}

// RenderNotification renders a sample as a NETCONF-style notification
// block, trailing newline included.
func RenderNotification(eventTime string, m Metrics) string {
	return fmt.Sprintf(`<notification xmlns="urn:ietf:params:xml:ns:netconf:notification:1.0">
  <eventTime>%s</eventTime>
  <onu-telemetry xmlns="urn:vendor:epon:telemetry">
    <olt-id>%s</olt-id>
    <onu-id>%s</onu-id>
    <rx-power>%.2f</rx-power>           <!-- dBm -->
    <snr>%.2f</snr>                          <!-- dB -->
    <ber-pre-fec>%.2e</ber-pre-fec>
    <ber-post-fec>%.2e</ber-post-fec>
    <temperature>%.1f</temperature>  <!-- Celsius -->
    <alarms>
      <qot-degrade>%t</qot-degrade>
      <dsp-adaptation>%s</dsp-adaptation>
    </alarms>
  </onu-telemetry>
</notification>
`, eventTime, m.OLTID, m.ONUID, m.RxPowerDBm, m.SNRdB, m.BERPreFEC, m.BERPostFEC, m.Temperature, m.QoTDegrade, m.DSPState)
}

func (g *Generator) uniform(lo, hi float64) float64 {
	return lo + g.rng.Float64()*(hi-lo)
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

func round2(v float64) float64 { return math.Round(v*100) / 100 }

func round1(v float64) float64 { return math.Round(v*10) / 10 }
