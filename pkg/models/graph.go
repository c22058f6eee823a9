package models

// Node roles in the flow graph.
const (
	RoleSource      = "Source"
	RoleDestination = "Destination"
)

// GraphNode is a network endpoint in a graph snapshot.
type GraphNode struct {
	ID          string `json:"id"`
	Role        string `json:"role"`
	ThreatLevel string `json:"threat_level"`
}

// GraphLink is an observed SENDS_TO flow in a graph snapshot.
type GraphLink struct {
	Source  string `json:"source"`
	Target  string `json:"target"`
	Packets int64  `json:"packets"`
	Bytes   string `json:"bytes"`
}

// GraphSnapshot is the live graph shape served to readers.
type GraphSnapshot struct {
	Nodes []GraphNode `json:"nodes"`
	Links []GraphLink `json:"links"`
}
