package normalize

import (
	"math"
	"reflect"
	"testing"
	"time"

	"threatlens/pkg/models"
)

var fixedNow = time.Date(2026, 3, 20, 12, 34, 56, 0, time.UTC)

func TestNormalizeEmptyObjectUsesDefaults(t *testing.T) {
	flow := Normalize(map[string]interface{}{}, fixedNow)

	if flow.SourceIP != models.Unknown || flow.DestinationIP != models.Unknown || flow.Protocol != models.Unknown {
		t.Fatalf("expected Unknown endpoints and protocol, got %+v", flow)
	}
	if flow.SourcePort != 0 || flow.DestinationPort != 0 || flow.Packets != 0 || flow.Duration != 0 {
		t.Fatalf("expected zero numerics, got %+v", flow)
	}
	if flow.BytesTransferred != DefaultBytes {
		t.Fatalf("expected %s bytes, got %q", DefaultBytes, flow.BytesTransferred)
	}
	if flow.Flags == nil || len(flow.Flags) != 0 {
		t.Fatalf("expected empty non-nil flags, got %#v", flow.Flags)
	}
	if flow.ClassificationHint != models.Unknown {
		t.Fatalf("expected Unknown hint, got %q", flow.ClassificationHint)
	}
	if flow.DeviceInfo != models.UnknownDevice() {
		t.Fatalf("expected unknown device, got %+v", flow.DeviceInfo)
	}
	if !flow.ReceivedAt.Equal(fixedNow) {
		t.Fatalf("expected processing time, got %v", flow.ReceivedAt)
	}
}

func TestNormalizeNilMapDoesNotPanic(t *testing.T) {
	flow := Normalize(nil, fixedNow)
	if flow.SourceIP != models.Unknown {
		t.Fatalf("unexpected flow: %+v", flow)
	}
}

func TestNormalizeAgentKeys(t *testing.T) {
	raw, err := Decode([]byte(`{
		"Source IP": "10.0.0.5",
		"Destination IP": "10.0.0.9",
		"Protocol": "TCP",
		"Source Port": "51515",
		"Destination Port": 3389,
		"Packets": "12000",
		"Bytes": "5.0 M",
		"Flags": "SYN, ACK,,FIN",
		"Duration": "400.5",
		"Class": "Suspicious",
		"device_info": {"hostname": "edge-1", "os": "linux"},
		"received_at": "2025-03-20T12:34:56Z"
	}`))
	if err != nil {
		t.Fatalf("decode failed: %v", err)
	}

	flow := Normalize(raw, fixedNow)
	if flow.SourceIP != "10.0.0.5" || flow.DestinationIP != "10.0.0.9" || flow.Protocol != "TCP" {
		t.Fatalf("unexpected endpoints: %+v", flow)
	}
	if flow.SourcePort != 51515 || flow.DestinationPort != 3389 {
		t.Fatalf("unexpected ports: %d %d", flow.SourcePort, flow.DestinationPort)
	}
	if flow.Packets != 12000 {
		t.Fatalf("expected 12000 packets, got %d", flow.Packets)
	}
	if flow.BytesTransferred != "5.0 M" {
		t.Fatalf("unexpected bytes: %q", flow.BytesTransferred)
	}
	if !reflect.DeepEqual(flow.Flags, []string{"SYN", "ACK", "FIN"}) {
		t.Fatalf("unexpected flags: %#v", flow.Flags)
	}
	if flow.Duration != 400.5 {
		t.Fatalf("unexpected duration: %v", flow.Duration)
	}
	if flow.ClassificationHint != "Suspicious" {
		t.Fatalf("unexpected hint: %q", flow.ClassificationHint)
	}
	if flow.DeviceInfo.Hostname != "edge-1" || flow.DeviceInfo.OS != "linux" || flow.DeviceInfo.AgentVersion != models.Unknown {
		t.Fatalf("unexpected device: %+v", flow.DeviceInfo)
	}
	want := time.Date(2025, 3, 20, 12, 34, 56, 0, time.UTC)
	if !flow.ReceivedAt.Equal(want) {
		t.Fatalf("unexpected received_at: %v", flow.ReceivedAt)
	}
}

func TestNormalizeSnakeCaseKeysAndFlagList(t *testing.T) {
	raw := map[string]interface{}{
		"source_ip":         "1.1.1.1",
		"destination_ip":    "2.2.2.2",
		"bytes_transferred": "2.1M",
		"flags":             []interface{}{"PSH", " ", "URG"},
	}
	flow := Normalize(raw, fixedNow)
	if flow.SourceIP != "1.1.1.1" || flow.DestinationIP != "2.2.2.2" {
		t.Fatalf("unexpected endpoints: %+v", flow)
	}
	if flow.BytesTransferred != "2.1M" {
		t.Fatalf("unexpected bytes: %q", flow.BytesTransferred)
	}
	if !reflect.DeepEqual(flow.Flags, []string{"PSH", "URG"}) {
		t.Fatalf("unexpected flags: %#v", flow.Flags)
	}
}

func TestNormalizeBadValuesFallBack(t *testing.T) {
	raw := map[string]interface{}{
		"Packets":     "lots",
		"Duration":    -12.0,
		"Source Port": true,
		"device_info": "not-a-record",
		"received_at": "yesterday",
		"Flags":       42.0,
	}
	flow := Normalize(raw, fixedNow)
	if flow.Packets != 0 || flow.Duration != 0 || flow.SourcePort != 0 {
		t.Fatalf("expected zeroed numerics, got %+v", flow)
	}
	if flow.DeviceInfo != models.UnknownDevice() {
		t.Fatalf("expected unknown device, got %+v", flow.DeviceInfo)
	}
	if !flow.ReceivedAt.Equal(fixedNow) {
		t.Fatalf("expected processing time fallback, got %v", flow.ReceivedAt)
	}
	if len(flow.Flags) != 0 {
		t.Fatalf("expected no flags, got %#v", flow.Flags)
	}
}

func TestNormalizeHugeCountsSaturate(t *testing.T) {
	flow := Normalize(map[string]interface{}{"Packets": "1e30", "Source Port": -1e30}, fixedNow)
	if flow.Packets != math.MaxInt64 {
		t.Fatalf("expected saturated packet count, got %d", flow.Packets)
	}
	if flow.SourcePort != 0 {
		t.Fatalf("expected negative port clamped to zero, got %d", flow.SourcePort)
	}
}

func TestDecodeRejectsMalformedFraming(t *testing.T) {
	for _, body := range []string{"", "not json", "[1,2]", "null"} {
		if _, err := Decode([]byte(body)); err == nil {
			t.Fatalf("expected error for %q", body)
		}
	}
}

func TestMegabytes(t *testing.T) {
	cases := map[string]float64{
		"2.1M":     2.1,
		"5.0 M":    5.0,
		"12":       12,
		"2048K":    2,
		"1.5 GB":   1536,
		"":         0,
		"abc":      0,
		"-4M":      0,
		"1048576B": 1,
	}
	for in, want := range cases {
		if got := Megabytes(in); got != want {
			t.Fatalf("Megabytes(%q) = %v, want %v", in, got, want)
		}
	}
}
