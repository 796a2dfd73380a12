package models

// DutyStatus represents a technician's shift status.
type DutyStatus string

const (
	DutyOffDuty   DutyStatus = "off_duty"
	DutyAvailable DutyStatus = "available"
	DutyBusy      DutyStatus = "busy"
)

// LiveStatus represents a technician's dispatch-visible status.
// Complete and Busy are server-reported values that settle to Available
// locally.
type LiveStatus string

const (
	LiveOffDuty   LiveStatus = "off_duty"
	LiveAvailable LiveStatus = "available"
	LiveEnroute   LiveStatus = "enroute"
	LiveOnSite    LiveStatus = "on_site"
	LiveComplete  LiveStatus = "complete"
	LiveBusy      LiveStatus = "busy"
)

// Location is a geographic position sample.
type Location struct {
	Lat       float64 `json:"lat"`
	Lng       float64 `json:"lng"`
	Accuracy  float64 `json:"accuracy,omitempty"`
	Timestamp int64   `json:"timestamp"`
}

// SessionState is the local model of one technician's duty/job status.
//
// Invariants maintained by the session machine:
//   - TrackingEnabled is true iff Live != LiveOffDuty
//   - CurrentJobID is set iff Live is LiveEnroute or LiveOnSite
type SessionState struct {
	TechnicianID    string     `json:"technician_id"`
	Duty            DutyStatus `json:"duty_status"`
	Live            LiveStatus `json:"live_status"`
	CurrentJobID    string     `json:"current_job_id,omitempty"`
	LastLocation    *Location  `json:"last_known_location,omitempty"`
	TrackingEnabled bool       `json:"location_tracking_enabled"`
	PendingSync     int        `json:"pending_sync"`
}
