package catalog

import "time"

// ResourceKind identifies which aggregator table a record belongs to.
type ResourceKind string

const (
	KindTexture ResourceKind = "texture"
	KindBuffer  ResourceKind = "buffer"
)

// ResourceRecord is one persisted cooked resource.
type ResourceRecord struct {
	Signature      string
	Kind           ResourceKind
	Index          int
	Offset         int64
	Size           int64
	DescriptorJSON string
	CreatedAt      time.Time
}

// JobStatus is a job record's lifecycle state.
type JobStatus string

const (
	JobRunning   JobStatus = "running"
	JobSucceeded JobStatus = "succeeded"
	JobFailed    JobStatus = "failed"
	JobCancelled JobStatus = "cancelled"
)

// JobRecord is one persisted import job.
type JobRecord struct {
	ID         string
	Source     string
	Status     JobStatus
	ErrorCount int
	CreatedAt  time.Time
	FinishedAt time.Time // zero while running
}
