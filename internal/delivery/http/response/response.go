package response

import (
	"time"

	"github.com/sorinflow/divar-crawler/internal/entity"
	"github.com/sorinflow/divar-crawler/internal/usecase"
)

type StartJobResponse struct {
	Status  string `json:"status"`
	Message string `json:"message"`
	JobID   string `json:"job_id"`
}

// JobResponse is a DTO mirroring entity.CrawlJob.
type JobResponse struct {
	ID             string     `json:"id"`
	City           string     `json:"city"`
	Category       string     `json:"category"`
	MaxPages       int        `json:"max_pages"`
	Status         string     `json:"status"`
	AttemptedPages int        `json:"attempted_pages"`
	ScrapedPages   int        `json:"scraped_pages"`
	TotalItems     int        `json:"total_items"`
	ScrapedItems   int        `json:"scraped_items"`
	NewItems       int        `json:"new_items"`
	UpdatedItems   int        `json:"updated_items"`
	FailedItems    int        `json:"failed_items"`
	ErrorMessage   string     `json:"error_message,omitempty"`
	CreatedAt      time.Time  `json:"created_at"`
	StartedAt      *time.Time `json:"started_at,omitempty"`
	CompletedAt    *time.Time `json:"completed_at,omitempty"`
}

func NewJobResponse(job *entity.CrawlJob) JobResponse {
	return JobResponse{
		ID:             job.ID,
		City:           job.Scope.City,
		Category:       job.Scope.Category,
		MaxPages:       job.MaxPages,
		Status:         string(job.Status),
		AttemptedPages: job.AttemptedPages,
		ScrapedPages:   job.ScrapedPages,
		TotalItems:     job.TotalItems,
		ScrapedItems:   job.ScrapedItems,
		NewItems:       job.NewItems,
		UpdatedItems:   job.UpdatedItems,
		FailedItems:    job.FailedItems,
		ErrorMessage:   job.ErrorMessage,
		CreatedAt:      job.CreatedAt,
		StartedAt:      job.StartedAt,
		CompletedAt:    job.CompletedAt,
	}
}

type JobListResponse struct {
	Jobs  []JobResponse `json:"jobs"`
	Total int           `json:"total"`
}

type AuthResponse struct {
	Status      string `json:"status"`
	Message     string `json:"message"`
	PhoneNumber string `json:"phone_number"`
	State       string `json:"state"`
}

type SessionStatusResponse struct {
	PhoneNumber string     `json:"phone_number"`
	State       string     `json:"state"`
	ExpiresAt   *time.Time `json:"expires_at,omitempty"`
}

func NewSessionStatusResponse(s usecase.SessionStatus) SessionStatusResponse {
	return SessionStatusResponse{
		PhoneNumber: s.PhoneNumber,
		State:       string(s.State),
		ExpiresAt:   s.ExpiresAt,
	}
}

// ProxyResponse is a DTO mirroring entity.ProxyRecord. Credentials are not
// echoed back.
type ProxyResponse struct {
	ID               int64      `json:"id"`
	Address          string     `json:"address"`
	Port             int        `json:"port"`
	Protocol         string     `json:"protocol"`
	IsActive         bool       `json:"is_active"`
	IsWorking        bool       `json:"is_working"`
	SuccessCount     int        `json:"success_count"`
	FailCount        int        `json:"fail_count"`
	ConsecutiveFails int        `json:"consecutive_fails"`
	AvgResponseMS    float64    `json:"avg_response_ms"`
	LastChecked      *time.Time `json:"last_checked,omitempty"`
}

func NewProxyResponse(p *entity.ProxyRecord) ProxyResponse {
	return ProxyResponse{
		ID:               p.ID,
		Address:          p.Address,
		Port:             p.Port,
		Protocol:         p.Protocol,
		IsActive:         p.IsActive,
		IsWorking:        p.IsWorking,
		SuccessCount:     p.SuccessCount,
		FailCount:        p.FailCount,
		ConsecutiveFails: p.ConsecutiveFails,
		AvgResponseMS:    p.AvgResponseMS,
		LastChecked:      p.LastChecked,
	}
}

type ProxyListResponse struct {
	Proxies []ProxyResponse `json:"proxies"`
	Total   int             `json:"total"`
}

type ProxyTestResponse struct {
	ID         int64   `json:"id"`
	Working    bool    `json:"working"`
	ResponseMS float64 `json:"response_ms"`
	Message    string  `json:"message,omitempty"`
}

type ProxyImportResponse struct {
	Imported int    `json:"imported"`
	Skipped  int    `json:"skipped"`
	Message  string `json:"message"`
}
