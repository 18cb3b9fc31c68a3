package netconf

import (
	"encoding/xml"
	"io"
	"strconv"
	"strings"

	telemetry "epon-monitor/internal/telemetry/domain"
)

// ParseBatch splits raw log text into notification blocks, parses each block
// and groups the events by ONU ID. Arrival order is preserved per device and
// only the last telemetry.HistoryDepth events are kept, so parsing the same
// input twice yields the same result. Malformed blocks and events without an
// onu-id are skipped; a batch with no usable blocks yields an empty map.
func ParseBatch(raw string) telemetry.ByDevice {
	blocks := strings.Split(raw, "</notification>")

	var events []telemetry.Event
	for _, block := range blocks {
		start := strings.Index(block, "<notification")
		if start < 0 {
			continue
		}
		event, ok := ParseRecord(block[start:] + "</notification>")
		if !ok || event.ONUID == "" {
			continue
		}
		events = append(events, event)
	}

	grouped := telemetry.ByDevice{}
	for _, event := range events {
		grouped[event.ONUID] = append(grouped[event.ONUID], event)
	}
	for id, list := range grouped {
		if len(list) > telemetry.HistoryDepth {
			grouped[id] = list[len(list)-telemetry.HistoryDepth:]
		}
	}
	return grouped
}

// ParseRecord parses a single notification block into an event. The boolean
// is false when the block is not decodable XML. Numeric fields that cannot
// be parsed are left nil rather than failing the record.
func ParseRecord(raw string) (telemetry.Event, bool) {
	fields, ok := leafText(raw)
	if !ok {
		return telemetry.Event{}, false
	}

	event := telemetry.Event{
		Timestamp: optText(fields, "eventTime"),
		OLTID:     optText(fields, "olt-id"),
		QoT: telemetry.QoT{
			RxPowerDBm:  optFloat(fields, "rx-power"),
			SNRdB:       optFloat(fields, "snr"),
			BERPreFEC:   optFloat(fields, "ber-pre-fec"),
			BERPostFEC:  optFloat(fields, "ber-post-fec"),
			Temperature: optFloat(fields, "temperature"),
		},
		Status: telemetry.Status{
			QoTDegrade:    optBool(fields, "qot-degrade"),
			DSPAdaptation: optText(fields, "dsp-adaptation"),
		},
	}
	if id, ok := fields["onu-id"]; ok {
		event.ONUID = strings.TrimSpace(id)
	}
	return event, true
}

// leafText walks the XML token stream and records the character data of the
// first occurrence of each element, keyed by local name. Namespace prefixes
// are dropped so vendor and standard namespaces resolve to the same keys.
func leafText(raw string) (map[string]string, bool) {
	dec := xml.NewDecoder(strings.NewReader(raw))
	fields := make(map[string]string)
	depth := 0
	var names []string
	var buf strings.Builder
	for {
		tok, err := dec.Token()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, false
		}
		switch t := tok.(type) {
		case xml.StartElement:
			depth++
			names = append(names, t.Name.Local)
			buf.Reset()
		case xml.CharData:
			buf.Write(t)
		case xml.EndElement:
			depth--
			if len(names) > 0 {
				name := names[len(names)-1]
				names = names[:len(names)-1]
				if _, seen := fields[name]; !seen {
					fields[name] = buf.String()
				}
			}
			buf.Reset()
		}
	}
	if depth != 0 {
		return nil, false
	}
	return fields, true
}

func optText(fields map[string]string, name string) *string {
	v, ok := fields[name]
	if !ok || v == "" {
		return nil
	}
	return &v
}

func optFloat(fields map[string]string, name string) *float64 {
	v, ok := fields[name]
	if !ok || strings.TrimSpace(v) == "" {
		return nil
	}
	f, err := strconv.ParseFloat(strings.TrimSpace(v), 64)
	if err != nil {
		return nil
	}
	return &f
}

func optBool(fields map[string]string, name string) *bool {
	v, ok := fields[name]
	if !ok || v == "" {
		return nil
	}
	b := strings.EqualFold(strings.TrimSpace(v), "true")
	return &b
}
