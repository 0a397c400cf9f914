package gateway

import "github.com/earti/camlift/internal/logic/position"

// Ack statuses.
const (
	StatusConnected = "connected"
	StatusExecuted  = "executed"
	StatusError     = "error"
)

const defaultZone = "unknown"

// Inbound is one client message. Zone is accepted as an alias of Camera.
type Inbound struct {
	Command string `json:"command"`
	Camera  string `json:"camera,omitempty"`
	Zone    string `json:"zone,omitempty"`
}

// zone returns the addressed zone, defaulting to "unknown".
func (m Inbound) zone() string {
	switch {
	case m.Camera != "":
		return m.Camera
	case m.Zone != "":
		return m.Zone
	default:
		return defaultZone
	}
}

// Ack is every message the gateway sends. The position fields are omitted
// only when the message could not be decoded.
type Ack struct {
	Status  string `json:"status"`
	Message string `json:"message,omitempty"`
	Command string `json:"command,omitempty"`
	Camera  string `json:"camera,omitempty"`
	*position.Snapshot
}

func withPosition(a Ack, s position.Snapshot) Ack {
	a.Snapshot = &s
	return a
}
