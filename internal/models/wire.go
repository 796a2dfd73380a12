package models

import "encoding/json"

// Live channel message types.
const (
	MessageTechLocation = "tech_location"
	MessageTechStatus   = "tech_status"
	MessageJobAssigned  = "job_assigned"
	MessageJobStatus    = "job_status"
	MessageConnected    = "connected"
	MessagePong         = "pong"
	MessagePing         = "ping"
)

// Envelope wraps all live channel messages.
type Envelope struct {
	Type      string          `json:"type"`
	Data      json.RawMessage `json:"data,omitempty"`
	Timestamp string          `json:"timestamp,omitempty"`
}

// TechLocation is the payload of a tech_location message.
type TechLocation struct {
	TechnicianID string   `json:"technician_id"`
	Location     Location `json:"location"`
}

// TechStatus is the payload of a tech_status message.
type TechStatus struct {
	TechnicianID string     `json:"technician_id"`
	Status       LiveStatus `json:"status"`
}

// JobAssigned is the payload of a job_assigned message.
type JobAssigned struct {
	JobID        string `json:"job_id"`
	TechnicianID string `json:"technician_id"`
	ScheduledAt  int64  `json:"scheduled_at,omitempty"`
}

// JobStatusEvent is the payload of a job_status message.
type JobStatusEvent struct {
	JobID  string    `json:"job_id"`
	Status JobStatus `json:"status"`
}

// PingMessage returns the serialized outbound heartbeat message.
func PingMessage() []byte {
	msg, _ := json.Marshal(Envelope{Type: MessagePing})
	return msg
}
