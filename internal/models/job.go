package models

// JobStatus represents the lifecycle status of a job.
type JobStatus string

const (
	JobScheduled  JobStatus = "scheduled"
	JobInProgress JobStatus = "in_progress"
	JobCompleted  JobStatus = "completed"
	JobCancelled  JobStatus = "cancelled"
)

// JobRecord is a locally cached copy of an authoritative server-side job.
// The local copy is mutated optimistically on transitions and reconciled
// against the server after reconnection; it may be stale in between.
type JobRecord struct {
	JobID       string    `db:"job_id" json:"job_id"`
	Status      JobStatus `db:"status" json:"status"`
	StartedAt   int64     `db:"started_at" json:"started_at,omitempty"`
	CompletedAt int64     `db:"completed_at" json:"completed_at,omitempty"`
}

// TableName returns the table name for JobRecord.
func (JobRecord) TableName() string {
	return "job_cache"
}

// Clone returns a copy of the record.
func (j *JobRecord) Clone() *JobRecord {
	cp := *j
	return &cp
}
