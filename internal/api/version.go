// Package api provides the admin HTTP API handlers for the capture listener.
package api

// API version reported by /status. It refers to capability levels; admin
// routes are not prefixed with a version.
const (
	// APIVersion1 is the original admin API.
	APIVersion1 = 1

	// CurrentAPIVersion is the highest API version supported by this server.
	CurrentAPIVersion = APIVersion1
)

// Capability names reported by /status
const (
	CapabilitySessions = "sessions"
	CapabilityHistory  = "history"
	CapabilityStream   = "stream"
)

// StatusResponse is the response from the /status endpoint.
type StatusResponse struct {
	Status       string   `json:"status"`
	Service      string   `json:"service"`
	APIVersion   int      `json:"api_version"`
	Capabilities []string `json:"capabilities,omitempty"`
	Ports        []int    `json:"ports"`
	Observers    int      `json:"observers"`
}
