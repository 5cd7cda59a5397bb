// Package snapshot drives the trigger, poll and download protocol of the
// dataset extraction API.
package snapshot

import "time"

// JobStatus is the client-side view of an extraction job.
type JobStatus string

const (
	StatusPending  JobStatus = "pending"
	StatusPolling  JobStatus = "polling"
	StatusReady    JobStatus = "ready"
	StatusFailed   JobStatus = "failed"
	StatusTimedOut JobStatus = "timed_out"
)

// Terminal reports whether no further transition is allowed.
func (s JobStatus) Terminal() bool {
	return s == StatusReady || s == StatusFailed || s == StatusTimedOut
}

// canTransition encodes pending -> polling -> {ready, failed, timed_out}.
// A trigger that never reaches polling may still fail directly.
func canTransition(from, to JobStatus) bool {
	switch from {
	case StatusPending:
		return to == StatusPolling || to == StatusFailed || to == StatusTimedOut
	case StatusPolling:
		return to.Terminal()
	}
	return false
}

// Job is a snapshot copy; the live record is owned by the Client.
type Job struct {
	ID        string    `json:"id"`
	Operation string    `json:"operation"`
	Status    JobStatus `json:"status"`
	Checks    int       `json:"checks"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// TriggerSpec describes one dataset collection request.
type TriggerSpec struct {
	Operation  string // human label, e.g. "reddit_search"
	DatasetID  string
	DiscoverBy string // keyword or url
	Inputs     []map[string]interface{}
}
