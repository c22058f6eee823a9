package models

import "time"

// Unknown is the placeholder used for every absent textual field.
const Unknown = "Unknown"

// DeviceInfo describes the agent that captured a session.
type DeviceInfo struct {
	DeviceID     string `json:"device_id"`
	Hostname     string `json:"hostname"`
	IPAddress    string `json:"ip_address"`
	OS           string `json:"os"`
	AgentVersion string `json:"agent_version"`
}

// UnknownDevice returns a device record with every field set to Unknown.
func UnknownDevice() DeviceInfo {
	return DeviceInfo{
		DeviceID:     Unknown,
		Hostname:     Unknown,
		IPAddress:    Unknown,
		OS:           Unknown,
		AgentVersion: Unknown,
	}
}

// NormalizedFlow is the canonical shape of one observed session.
type NormalizedFlow struct {
	SessionID          string     `json:"session_id,omitempty"`
	SourceIP           string     `json:"source_ip"`
	DestinationIP      string     `json:"destination_ip"`
	Protocol           string     `json:"protocol"`
	SourcePort         int        `json:"source_port"`
	DestinationPort    int        `json:"destination_port"`
	Packets            int64      `json:"packets"`
	BytesTransferred   string     `json:"bytes_transferred"`
	Flags              []string   `json:"flags"`
	Duration           float64    `json:"duration"`
	ClassificationHint string     `json:"classification_hint"`
	DeviceInfo         DeviceInfo `json:"device_info"`
	ReceivedAt         time.Time  `json:"received_at"`
}
