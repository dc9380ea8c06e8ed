package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/sorinflow/divar-crawler/internal/entity"
)

// JobRepoImpl provides the JobRepository implementation using PostgreSQL.
type JobRepoImpl struct {
	db *pgxpool.Pool
}

// NewJobRepo creates a new instance of JobRepoImpl.
func NewJobRepo(db *pgxpool.Pool) *JobRepoImpl {
	return &JobRepoImpl{db: db}
}

func (r *JobRepoImpl) Save(ctx context.Context, job *entity.CrawlJob) error {
	query := `
		INSERT INTO crawl_jobs (
			id, city, category, max_pages, status,
			attempted_pages, scraped_pages, total_items, scraped_items,
			new_items, updated_items, failed_items, error_message,
			created_at, started_at, completed_at
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16);
	`
	_, err := r.db.Exec(ctx, query,
		job.ID, job.Scope.City, job.Scope.Category, job.MaxPages, job.Status,
		job.AttemptedPages, job.ScrapedPages, job.TotalItems, job.ScrapedItems,
		job.NewItems, job.UpdatedItems, job.FailedItems, job.ErrorMessage,
		job.CreatedAt, job.StartedAt, job.CompletedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to save job %s: %w", job.ID, err)
	}
	return nil
}

func (r *JobRepoImpl) Update(ctx context.Context, job *entity.CrawlJob) error {
	query := `
		UPDATE crawl_jobs SET
			status = $2,
			attempted_pages = $3,
			scraped_pages = $4,
			total_items = $5,
			scraped_items = $6,
			new_items = $7,
			updated_items = $8,
			failed_items = $9,
			error_message = $10,
			started_at = $11,
			completed_at = $12
		WHERE id = $1;
	`
	_, err := r.db.Exec(ctx, query,
		job.ID, job.Status,
		job.AttemptedPages, job.ScrapedPages, job.TotalItems, job.ScrapedItems,
		job.NewItems, job.UpdatedItems, job.FailedItems, job.ErrorMessage,
		job.StartedAt, job.CompletedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to update job %s: %w", job.ID, err)
	}
	return nil
}

func (r *JobRepoImpl) FindByID(ctx context.Context, id string) (*entity.CrawlJob, error) {
	query := `
		SELECT id, city, category, max_pages, status,
			attempted_pages, scraped_pages, total_items, scraped_items,
			new_items, updated_items, failed_items, error_message,
			created_at, started_at, completed_at
		FROM crawl_jobs
		WHERE id = $1;
	`
	job, err := scanJob(r.db.QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to find job %s: %w", id, err)
	}
	return job, nil
}

func (r *JobRepoImpl) List(ctx context.Context, limit int) ([]*entity.CrawlJob, error) {
	query := `
		SELECT id, city, category, max_pages, status,
			attempted_pages, scraped_pages, total_items, scraped_items,
			new_items, updated_items, failed_items, error_message,
			created_at, started_at, completed_at
		FROM crawl_jobs
		ORDER BY created_at DESC
		LIMIT $1;
	`
	rows, err := r.db.Query(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list jobs: %w", err)
	}
	defer rows.Close()

	var jobs []*entity.CrawlJob
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, err
		}
		jobs = append(jobs, job)
	}
	return jobs, rows.Err()
}

func scanJob(row pgx.Row) (*entity.CrawlJob, error) {
	var job entity.CrawlJob
	err := row.Scan(
		&job.ID, &job.Scope.City, &job.Scope.Category, &job.MaxPages, &job.Status,
		&job.AttemptedPages, &job.ScrapedPages, &job.TotalItems, &job.ScrapedItems,
		&job.NewItems, &job.UpdatedItems, &job.FailedItems, &job.ErrorMessage,
		&job.CreatedAt, &job.StartedAt, &job.CompletedAt,
	)
	if err != nil {
		return nil, err
	}
	return &job, nil
}
