// Package oracle defines the external classification service contract.
package oracle

import (
	"context"
	"fmt"
	"strings"

	"threatlens/pkg/models"
)

// Oracle classifies a flow description and returns free text.
type Oracle interface {
	Classify(ctx context.Context, prompt string) (string, error)
}

// Func adapts a function to Oracle.
type Func func(ctx context.Context, prompt string) (string, error)

// Classify calls f.
func (f Func) Classify(ctx context.Context, prompt string) (string, error) {
	return f(ctx, prompt)
}

// Prompt renders the flow fields and device metadata sent to the oracle.
func Prompt(flow models.NormalizedFlow) string {
	flags := "None"
	if len(flow.Flags) > 0 {
		flags = strings.Join(flow.Flags, ", ")
	}

	var b strings.Builder
	fmt.Fprintf(&b, "- Source IP: %s\n", flow.SourceIP)
	fmt.Fprintf(&b, "- Destination IP: %s\n", flow.DestinationIP)
	fmt.Fprintf(&b, "- Protocol: %s\n", flow.Protocol)
	fmt.Fprintf(&b, "- Source Port: %d\n", flow.SourcePort)
	fmt.Fprintf(&b, "- Destination Port: %d\n", flow.DestinationPort)
	fmt.Fprintf(&b, "- Packets: %d\n", flow.Packets)
	fmt.Fprintf(&b, "- Bytes Transferred: %s\n", flow.BytesTransferred)
	fmt.Fprintf(&b, "- Flags: %s\n", flags)
	fmt.Fprintf(&b, "- Duration: %g seconds\n", flow.Duration)
	fmt.Fprintf(&b, "- Class: %s\n", flow.ClassificationHint)
	b.WriteString("- Device Info:\n")
	fmt.Fprintf(&b, "    - Device ID: %s\n", flow.DeviceInfo.DeviceID)
	fmt.Fprintf(&b, "    - Hostname: %s\n", flow.DeviceInfo.Hostname)
	fmt.Fprintf(&b, "    - IP Address: %s\n", flow.DeviceInfo.IPAddress)
	fmt.Fprintf(&b, "    - OS: %s\n", flow.DeviceInfo.OS)
	fmt.Fprintf(&b, "    - Agent Version: %s\n", flow.DeviceInfo.AgentVersion)
	return b.String()
}
