package repository

import (
	"context"

	"github.com/sorinflow/divar-crawler/internal/entity"
)

// JobRepository defines the interface for persisting crawl job state and
// progress counters.
type JobRepository interface {
	// Save inserts a new job record.
	Save(ctx context.Context, job *entity.CrawlJob) error
	// Update persists the current status and counters.
	Update(ctx context.Context, job *entity.CrawlJob) error
	// FindByID retrieves a job, nil if unknown.
	FindByID(ctx context.Context, id string) (*entity.CrawlJob, error)
	// List returns recent jobs, newest first.
	List(ctx context.Context, limit int) ([]*entity.CrawlJob, error)
}
