package ws

import "time"

type ConnInfo struct {
	ConnID      string    `json:"conn_id"`
	Kind        string    `json:"kind"`
	ResourceID  string    `json:"resource_id"`
	UserID      string    `json:"user_id"`
	IP          string    `json:"ip"`
	RequestID   string    `json:"request_id"`
	TraceID     string    `json:"trace_id"`
	ConnectedAt time.Time `json:"connected_at"`
}

// connEvent is published for connects and disconnects.
type connEvent struct {
	ConnInfo
	Event      string `json:"event"`
	DurationMS int64  `json:"duration_ms"`
	Reason     string `json:"reason,omitempty"`
}
