package normalize

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"threatlens/pkg/models"
)

// DefaultBytes is used when a session carries no byte volume.
const DefaultBytes = "0.0M"

var (
	sourceIPKeys        = []string{"Source IP", "source_ip", "src_ip", "SrcIP", "src"}
	destinationIPKeys   = []string{"Destination IP", "destination_ip", "dst_ip", "DstIP", "dst"}
	protocolKeys        = []string{"Protocol", "protocol", "proto"}
	sourcePortKeys      = []string{"Source Port", "source_port", "src_port", "SrcPort"}
	destinationPortKeys = []string{"Destination Port", "destination_port", "dst_port", "DstPort"}
	packetsKeys         = []string{"Packets", "packets", "packet_count"}
	bytesKeys           = []string{"Bytes Transferred", "Bytes", "bytes_transferred", "bytes"}
	flagsKeys           = []string{"Flags", "flags"}
	durationKeys        = []string{"Duration", "duration"}
	classKeys           = []string{"Class", "classification_hint", "classification", "class", "label"}
	receivedAtKeys      = []string{"received_at", "Received At", "receivedAt"}
	sessionIDKeys       = []string{"session_id", "Session ID"}
)

// Decode parses a raw session message body. It is the only step of
// normalization that can fail.
func Decode(data []byte) (map[string]interface{}, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()

	var raw map[string]interface{}
	if err := dec.Decode(&raw); err != nil {
		return nil, err
	}
	if raw == nil {
		return nil, fmt.Errorf("message body is not an object")
	}
	return raw, nil
}

// Normalize maps a raw session onto the canonical flow shape. Every absent or
// unusable field takes its default; it never fails.
func Normalize(raw map[string]interface{}, now time.Time) models.NormalizedFlow {
	flow := models.NormalizedFlow{
		SessionID:          String(raw, sessionIDKeys...),
		SourceIP:           SourceIP(raw),
		DestinationIP:      StringOr(raw, models.Unknown, destinationIPKeys...),
		Protocol:           StringOr(raw, models.Unknown, protocolKeys...),
		SourcePort:         int(NonNegative(Int(raw, sourcePortKeys...))),
		DestinationPort:    int(NonNegative(Int(raw, destinationPortKeys...))),
		Packets:            NonNegative(Int(raw, packetsKeys...)),
		BytesTransferred:   StringOr(raw, DefaultBytes, bytesKeys...),
		Flags:              Flags(raw, flagsKeys...),
		Duration:           Float(raw, durationKeys...),
		ClassificationHint: StringOr(raw, models.Unknown, classKeys...),
		DeviceInfo:         Device(raw["device_info"]),
		ReceivedAt:         now.UTC(),
	}
	if flow.Duration < 0 {
		flow.Duration = 0
	}
	if ts, ok := Time(raw, receivedAtKeys...); ok {
		flow.ReceivedAt = ts
	}
	return flow
}

// SourceIP returns the source address of a raw session.
func SourceIP(raw map[string]interface{}) string {
	return StringOr(raw, models.Unknown, sourceIPKeys...)
}

// Device converts an opaque device record; absent fields are Unknown.
func Device(v interface{}) models.DeviceInfo {
	info := models.UnknownDevice()
	m, ok := v.(map[string]interface{})
	if !ok {
		return info
	}
	info.DeviceID = StringOr(m, models.Unknown, "device_id", "id")
	info.Hostname = StringOr(m, models.Unknown, "hostname", "host")
	info.IPAddress = StringOr(m, models.Unknown, "ip_address", "ip")
	info.OS = StringOr(m, models.Unknown, "os")
	info.AgentVersion = StringOr(m, models.Unknown, "agent_version")
	return info
}

// Flags accepts a comma separated string or a list and drops empty entries.
func Flags(root map[string]interface{}, keys ...string) []string {
	out := []string{}
	for _, key := range keys {
		v, ok := root[key]
		if !ok || v == nil {
			continue
		}
		switch val := v.(type) {
		case string:
			for _, part := range strings.Split(val, ",") {
				if p := strings.TrimSpace(part); p != "" {
					out = append(out, p)
				}
			}
		case []interface{}:
			for _, item := range val {
				if p := strings.TrimSpace(stringify(item)); p != "" {
					out = append(out, p)
				}
			}
		case []string:
			for _, item := range val {
				if p := strings.TrimSpace(item); p != "" {
					out = append(out, p)
				}
			}
		default:
			continue
		}
		return out
	}
	return out
}

// Time parses a timestamp field in the layouts agents are known to send.
func Time(root map[string]interface{}, keys ...string) (time.Time, bool) {
	value := strings.TrimSpace(String(root, keys...))
	if value == "" {
		return time.Time{}, false
	}

	for _, layout := range []string{time.RFC3339Nano, time.RFC3339} {
		if t, err := time.Parse(layout, value); err == nil {
			return t.UTC(), true
		}
	}

	for _, layout := range []string{
		"2006-01-02T15:04:05.000000",
		"2006-01-02T15:04:05",
		"2006-01-02 15:04:05.000000",
		"2006-01-02 15:04:05.000",
		"2006-01-02 15:04:05",
	} {
		if t, err := time.ParseInLocation(layout, value, time.UTC); err == nil {
			return t.UTC(), true
		}
	}

	return time.Time{}, false
}

// NonNegative clamps negative values to zero.
func NonNegative(v int64) int64 {
	if v < 0 {
		return 0
	}
	return v
}
