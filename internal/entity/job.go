package entity

import "time"

// JobStatus represents the lifecycle state of a crawl job.
type JobStatus string

const (
	JobStatusPending   JobStatus = "pending"
	JobStatusRunning   JobStatus = "running"
	JobStatusCompleted JobStatus = "completed"
	JobStatusFailed    JobStatus = "failed"
	JobStatusCancelled JobStatus = "cancelled"
)

// IsTerminal reports whether no further status transition is allowed.
func (s JobStatus) IsTerminal() bool {
	return s == JobStatusCompleted || s == JobStatusFailed || s == JobStatusCancelled
}

// JobScope identifies the site section a job crawls. Two jobs with the same
// scope must never run concurrently.
type JobScope struct {
	City     string
	Category string
}

func (s JobScope) String() string {
	return s.City + "/" + s.Category
}

// CrawlJob mirrors the `crawl_jobs` PostgreSQL table schema. Counters are
// monotonically non-decreasing while the job is running and are mutated
// exclusively by the orchestrator.
type CrawlJob struct {
	ID             string
	Scope          JobScope
	MaxPages       int
	Status         JobStatus
	AttemptedPages int
	ScrapedPages   int
	TotalItems     int
	ScrapedItems   int
	NewItems       int
	UpdatedItems   int
	FailedItems    int
	ErrorMessage   string
	CreatedAt      time.Time
	StartedAt      *time.Time
	CompletedAt    *time.Time
}

// Clone returns a copy safe to hand out while the orchestrator keeps
// mutating the original.
func (j *CrawlJob) Clone() *CrawlJob {
	c := *j
	if j.StartedAt != nil {
		t := *j.StartedAt
		c.StartedAt = &t
	}
	if j.CompletedAt != nil {
		t := *j.CompletedAt
		c.CompletedAt = &t
	}
	return &c
}
