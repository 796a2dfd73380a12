// Package models provides data model definitions for the sync core.
package models

import "encoding/json"

// HTTP methods accepted for queued mutations.
const (
	MethodGet    = "GET"
	MethodPost   = "POST"
	MethodPut    = "PUT"
	MethodPatch  = "PATCH"
	MethodDelete = "DELETE"
)

// ValidMethod reports whether m is one of the accepted HTTP methods.
func ValidMethod(m string) bool {
	switch m {
	case MethodGet, MethodPost, MethodPut, MethodPatch, MethodDelete:
		return true
	}
	return false
}

// QueuedRequest represents a pending mutation awaiting delivery to the backend.
// Timestamps are unix milliseconds.
type QueuedRequest struct {
	ID            string          `db:"id" json:"id"`
	Endpoint      string          `db:"endpoint" json:"endpoint"`
	Method        string          `db:"method" json:"method"`
	Payload       json.RawMessage `db:"payload" json:"payload"`
	EnqueuedAt    int64           `db:"enqueued_at" json:"enqueued_at"`
	AttemptCount  int             `db:"attempt_count" json:"attempt_count"`
	MaxAttempts   int             `db:"max_attempts" json:"max_attempts"`
	NextAttemptAt int64           `db:"next_attempt_at" json:"next_attempt_at"`
	LastError     string          `db:"last_error" json:"last_error,omitempty"`
}

// TableName returns the table name for QueuedRequest.
func (QueuedRequest) TableName() string {
	return "pending_requests"
}

// Clone returns a copy of the request safe for concurrent readers.
func (r *QueuedRequest) Clone() *QueuedRequest {
	cp := *r
	if r.Payload != nil {
		cp.Payload = append(json.RawMessage(nil), r.Payload...)
	}
	return &cp
}
