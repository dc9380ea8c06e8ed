package usecase

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/time/rate"

	"github.com/sorinflow/divar-crawler/internal/entity"
	"github.com/sorinflow/divar-crawler/internal/extractor"
	"github.com/sorinflow/divar-crawler/internal/repository"
	"github.com/sorinflow/divar-crawler/pkg/metrics"
)

var (
	// ErrInvalidScope means the city or category slug is unknown.
	ErrInvalidScope = errors.New("scope does not resolve to a known city and category")
	// ErrScopeBusy means a job with the identical scope is already running.
	ErrScopeBusy = errors.New("a job for this scope is already running")
	// ErrJobNotFound is returned for operations on unknown job IDs.
	ErrJobNotFound = errors.New("job not found")
)

// OrchestratorConfig tunes the job driver. Zero values are replaced by the
// defaults in NewOrchestrator.
type OrchestratorConfig struct {
	BaseURL string
	// RequestsPerMinute caps outbound fetches across the whole process.
	RequestsPerMinute int
	// JitterMax is added randomly on top of the rate-limit interval so the
	// request cadence carries no fixed fingerprint.
	JitterMax time.Duration
	// DetailConcurrency bounds parallel detail-page fetches per job.
	DetailConcurrency int
	// PageProxyRetries is the number of extra proxies tried per page fetch.
	PageProxyRetries int
	// MaxPageFailures is the consecutive full-page failure count that
	// aborts a job.
	MaxPageFailures int
	// SessionWaitInterval is the poll interval while a job is paused
	// waiting for a restored session.
	SessionWaitInterval time.Duration
}

func (c *OrchestratorConfig) applyDefaults() {
	if c.RequestsPerMinute <= 0 {
		c.RequestsPerMinute = 20
	}
	if c.DetailConcurrency <= 0 {
		c.DetailConcurrency = 3
	}
	if c.PageProxyRetries <= 0 {
		c.PageProxyRetries = 2
	}
	if c.MaxPageFailures <= 0 {
		c.MaxPageFailures = 3
	}
	if c.SessionWaitInterval <= 0 {
		c.SessionWaitInterval = 15 * time.Second
	}
}

// StartOptions are per-job switches.
type StartOptions struct {
	DownloadImages bool
}

type jobHandle struct {
	mu     sync.Mutex
	job    *entity.CrawlJob
	cancel context.CancelFunc
}

func (h *jobHandle) snapshot() *entity.CrawlJob {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.job.Clone()
}

// Orchestrator drives crawl jobs to completion: sequential index pages, a
// bounded worker pool for detail pages, proxy rotation with outcome
// feedback, session invalidation on auth rejection, and cooperative
// cancellation observed at page and listing boundaries.
type Orchestrator struct {
	cfg       OrchestratorConfig
	pool      *ProxyPool
	sessions  *SessionManager
	fetcher   repository.PageFetcher
	extractor *extractor.Extractor
	listings  repository.ListingRepository
	jobsRepo  repository.JobRepository
	images    repository.ImageSink

	limiter *rate.Limiter
	rng     *rand.Rand
	rngMu   sync.Mutex

	mu            sync.Mutex
	jobs          map[string]*jobHandle
	runningScopes map[string]string

	wg sync.WaitGroup
}

// NewOrchestrator wires the job driver to its collaborators.
func NewOrchestrator(
	cfg OrchestratorConfig,
	pool *ProxyPool,
	sessions *SessionManager,
	fetcher repository.PageFetcher,
	ex *extractor.Extractor,
	listings repository.ListingRepository,
	jobsRepo repository.JobRepository,
	images repository.ImageSink,
) *Orchestrator {
	cfg.applyDefaults()
	interval := time.Minute / time.Duration(cfg.RequestsPerMinute)
	return &Orchestrator{
		cfg:           cfg,
		pool:          pool,
		sessions:      sessions,
		fetcher:       fetcher,
		extractor:     ex,
		listings:      listings,
		jobsRepo:      jobsRepo,
		images:        images,
		limiter:       rate.NewLimiter(rate.Every(interval), 1),
		rng:           rand.New(rand.NewSource(time.Now().UnixNano())),
		jobs:          make(map[string]*jobHandle),
		runningScopes: make(map[string]string),
	}
}

// StartJob creates and launches a job for the scope, rejecting unknown
// scopes and scope collisions with an already-running job.
func (o *Orchestrator) StartJob(ctx context.Context, scope entity.JobScope, maxPages int, opts StartOptions) (string, error) {
	if !entity.ValidScope(scope) {
		return "", ErrInvalidScope
	}
	if maxPages <= 0 {
		maxPages = 1
	}

	job := &entity.CrawlJob{
		ID:        uuid.NewString(),
		Scope:     scope,
		MaxPages:  maxPages,
		Status:    entity.JobStatusPending,
		CreatedAt: time.Now(),
	}

	o.mu.Lock()
	if holder, busy := o.runningScopes[scope.String()]; busy {
		o.mu.Unlock()
		return "", fmt.Errorf("%w: job %s", ErrScopeBusy, holder)
	}
	o.runningScopes[scope.String()] = job.ID
	o.mu.Unlock()

	if err := o.jobsRepo.Save(ctx, job); err != nil {
		o.mu.Lock()
		delete(o.runningScopes, scope.String())
		o.mu.Unlock()
		return "", fmt.Errorf("failed to persist job: %w", err)
	}

	jobCtx, cancel := context.WithCancel(context.Background())
	handle := &jobHandle{job: job, cancel: cancel}
	o.mu.Lock()
	o.jobs[job.ID] = handle
	o.mu.Unlock()

	o.wg.Add(1)
	go o.run(jobCtx, handle, opts)

	slog.Info("Job started", "job_id", job.ID, "scope", scope.String(), "max_pages", maxPages)
	return job.ID, nil
}

// CancelJob signals cooperative cancellation. Cancelling a terminal job is
// a no-op, not an error; an in-flight fetch is allowed to complete.
func (o *Orchestrator) CancelJob(ctx context.Context, jobID string) error {
	o.mu.Lock()
	handle, ok := o.jobs[jobID]
	o.mu.Unlock()
	if ok {
		if handle.snapshot().Status.IsTerminal() {
			return nil
		}
		handle.cancel()
		return nil
	}

	job, err := o.jobsRepo.FindByID(ctx, jobID)
	if err != nil {
		return fmt.Errorf("failed to look up job: %w", err)
	}
	if job == nil {
		return ErrJobNotFound
	}
	// Known only to storage, so it is not running in this process.
	return nil
}

// GetJob returns a point-in-time snapshot of the job.
func (o *Orchestrator) GetJob(ctx context.Context, jobID string) (*entity.CrawlJob, error) {
	o.mu.Lock()
	handle, ok := o.jobs[jobID]
	o.mu.Unlock()
	if ok {
		return handle.snapshot(), nil
	}
	job, err := o.jobsRepo.FindByID(ctx, jobID)
	if err != nil {
		return nil, fmt.Errorf("failed to look up job: %w", err)
	}
	if job == nil {
		return nil, ErrJobNotFound
	}
	return job, nil
}

// ListJobs returns recent jobs, newest first.
func (o *Orchestrator) ListJobs(ctx context.Context, limit int) ([]*entity.CrawlJob, error) {
	return o.jobsRepo.List(ctx, limit)
}

// Shutdown cancels every running job, waits for them to finalize and
// flushes the pool counters.
func (o *Orchestrator) Shutdown(ctx context.Context) error {
	o.mu.Lock()
	for _, handle := range o.jobs {
		handle.cancel()
	}
	o.mu.Unlock()

	done := make(chan struct{})
	go func() {
		o.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		return ctx.Err()
	}
	return o.pool.Flush(ctx)
}

func (o *Orchestrator) run(ctx context.Context, h *jobHandle, opts StartOptions) {
	defer o.wg.Done()

	job := h.snapshot()

	now := time.Now()
	h.mu.Lock()
	h.job.Status = entity.JobStatusRunning
	h.job.StartedAt = &now
	h.mu.Unlock()
	o.persist(h)

	consecutiveFailures := 0
	for page := 1; page <= job.MaxPages; page++ {
		if ctx.Err() != nil {
			o.finalize(h, entity.JobStatusCancelled, "")
			return
		}

		h.mu.Lock()
		h.job.AttemptedPages++
		h.mu.Unlock()

		pageURL := o.indexURL(job.Scope, page)
		pg, err := o.fetchWithSession(ctx, pageURL)
		if err != nil {
			if ctx.Err() != nil {
				o.finalize(h, entity.JobStatusCancelled, "")
				return
			}
			consecutiveFailures++
			slog.Error("Index page fetch failed", "job_id", job.ID, "page", page, "error", err, "consecutive", consecutiveFailures)
			if consecutiveFailures >= o.cfg.MaxPageFailures {
				o.finalize(h, entity.JobStatusFailed, fmt.Sprintf("aborted after %d consecutive page failures: %v", consecutiveFailures, err))
				return
			}
			continue
		}

		cards, err := o.extractor.Cards(pg.HTML)
		if err != nil {
			consecutiveFailures++
			slog.Error("Index page parse failed", "job_id", job.ID, "page", page, "error", err)
			if consecutiveFailures >= o.cfg.MaxPageFailures {
				o.finalize(h, entity.JobStatusFailed, fmt.Sprintf("aborted after %d consecutive page failures: %v", consecutiveFailures, err))
				return
			}
			continue
		}
		consecutiveFailures = 0

		if len(cards) == 0 {
			slog.Info("No more listings", "job_id", job.ID, "page", page)
			break
		}

		h.mu.Lock()
		h.job.TotalItems += len(cards)
		h.mu.Unlock()

		o.processPage(ctx, h, cards, opts)

		h.mu.Lock()
		h.job.ScrapedPages++
		h.mu.Unlock()
		metrics.ScrapedPagesTotal.Inc()
		o.persist(h)
	}

	if ctx.Err() != nil {
		o.finalize(h, entity.JobStatusCancelled, "")
		return
	}
	o.finalize(h, entity.JobStatusCompleted, "")
}

// processPage runs detail fetches through the bounded worker pool.
// Cancellation stops new listings from starting; workers already fetching
// run to completion.
func (o *Orchestrator) processPage(ctx context.Context, h *jobHandle, cards []entity.ListingCard, opts StartOptions) {
	sem := make(chan struct{}, o.cfg.DetailConcurrency)
	var wg sync.WaitGroup
	for _, card := range cards {
		if ctx.Err() != nil {
			break
		}
		wg.Add(1)
		sem <- struct{}{}
		go func(card entity.ListingCard) {
			defer wg.Done()
			defer func() { <-sem }()
			o.processListing(ctx, h, card, opts)
		}(card)
	}
	wg.Wait()
}

func (o *Orchestrator) processListing(ctx context.Context, h *jobHandle, card entity.ListingCard, opts StartOptions) {
	jobID := h.snapshot().ID

	pg, err := o.fetchWithSession(ctx, card.URL)
	if err != nil {
		if ctx.Err() != nil {
			return
		}
		o.countItem(h, func(j *entity.CrawlJob) { j.FailedItems++ })
		metrics.ScrapedItemsTotal.WithLabelValues("failed").Inc()
		slog.Warn("Detail fetch failed", "job_id", jobID, "listing", card.DivarID, "error", err)
		return
	}

	listing, err := o.extractor.Extract(pg.HTML, card.URL)
	if err != nil {
		o.countItem(h, func(j *entity.CrawlJob) { j.FailedItems++ })
		metrics.ScrapedItemsTotal.WithLabelValues("failed").Inc()
		slog.Warn("Listing skipped", "job_id", jobID, "listing", card.DivarID, "error", err)
		return
	}

	scope := h.snapshot().Scope
	if listing.CityName == "" {
		listing.CityName = entity.Cities[scope.City]
	}
	if cat, ok := entity.Categories[scope.Category]; ok {
		listing.CategoryName = cat.Name
		listing.ListingType = cat.Type
	}

	result, err := o.listings.Upsert(ctx, listing)
	if err != nil {
		o.countItem(h, func(j *entity.CrawlJob) { j.FailedItems++ })
		metrics.ScrapedItemsTotal.WithLabelValues("failed").Inc()
		slog.Error("Listing upsert failed", "job_id", jobID, "listing", listing.DivarID, "error", err)
		return
	}

	o.countItem(h, func(j *entity.CrawlJob) {
		j.ScrapedItems++
		if result == repository.UpsertCreated {
			j.NewItems++
		} else {
			j.UpdatedItems++
		}
	})
	metrics.ScrapedItemsTotal.WithLabelValues(string(result)).Inc()

	if opts.DownloadImages {
		for _, img := range listing.Images {
			if _, err := o.images.StoreImage(ctx, listing.DivarID, img); err != nil {
				slog.Warn("Image download failed", "job_id", jobID, "listing", listing.DivarID, "url", img, "error", err)
			}
		}
	}
}

// fetchWithSession acquires a session and a proxy and fetches the page,
// retrying transient failures on a different proxy. An auth rejection
// invalidates the session and pauses here, polling for a restored session,
// until one appears or the job is cancelled.
func (o *Orchestrator) fetchWithSession(ctx context.Context, url string) (*repository.Page, error) {
	for {
		session, err := o.sessions.AcquireSession(ctx)
		if err != nil {
			if !errors.Is(err, ErrNoValidSession) {
				return nil, err
			}
			slog.Warn("Job paused, waiting for a valid session", "url", url)
			if werr := o.sleep(ctx, o.cfg.SessionWaitInterval); werr != nil {
				return nil, werr
			}
			continue
		}

		pg, err := o.fetchWithRetry(ctx, url, session)
		if err == nil {
			return pg, nil
		}
		if repository.KindOf(err) == repository.FetchAuthRejected {
			if ierr := o.sessions.Invalidate(ctx, session.PhoneNumber, "auth rejection during fetch"); ierr != nil {
				slog.Error("Failed to invalidate session", "phone", session.PhoneNumber, "error", ierr)
			}
			continue
		}
		return nil, err
	}
}

// fetchWithRetry enforces the inter-request interval and rotates proxies on
// transient failures, up to PageProxyRetries extra attempts. Auth and
// not-found classifications are returned immediately.
func (o *Orchestrator) fetchWithRetry(ctx context.Context, url string, session *entity.SessionBundle) (*repository.Page, error) {
	var lastErr error
	attempts := 1 + o.cfg.PageProxyRetries
	for attempt := 0; attempt < attempts; attempt++ {
		if err := o.waitTurn(ctx); err != nil {
			return nil, err
		}

		proxy, err := o.pool.Acquire()
		if err != nil {
			if !errors.Is(err, ErrNoProxyAvailable) {
				return nil, err
			}
			proxy = nil // direct connection fallback
		}

		// Cancellation is observed between fetches, never by tearing down
		// an in-flight request; the fetcher carries its own page timeout.
		start := time.Now()
		pg, fetchErr := o.fetcher.FetchPage(context.WithoutCancel(ctx), url, proxy, session)
		elapsed := time.Since(start)
		metrics.FetchDuration.Observe(elapsed.Seconds())
		if cerr := ctx.Err(); cerr != nil {
			return nil, cerr
		}

		if proxy != nil {
			// Auth rejections and 404s reached the target; only transport
			// classes count against the proxy.
			kind := repository.KindOf(fetchErr)
			proxyOK := fetchErr == nil || kind == repository.FetchAuthRejected || kind == repository.FetchNotFound
			if rerr := o.pool.ReportOutcome(ctx, proxy.ID, proxyOK, elapsed); rerr != nil {
				slog.Warn("Proxy outcome report failed", "proxy_id", proxy.ID, "error", rerr)
			}
		}

		if fetchErr == nil {
			return pg, nil
		}
		switch repository.KindOf(fetchErr) {
		case repository.FetchAuthRejected, repository.FetchNotFound:
			return nil, fetchErr
		}
		lastErr = fetchErr
		slog.Warn("Transient fetch failure, rotating proxy", "url", url, "attempt", attempt+1, "error", fetchErr)
	}
	return nil, lastErr
}

// waitTurn blocks for the rate-limit interval plus a random jitter.
func (o *Orchestrator) waitTurn(ctx context.Context) error {
	if err := o.limiter.Wait(ctx); err != nil {
		return err
	}
	if o.cfg.JitterMax <= 0 {
		return nil
	}
	o.rngMu.Lock()
	jitter := time.Duration(o.rng.Int63n(int64(o.cfg.JitterMax)))
	o.rngMu.Unlock()
	return o.sleep(ctx, jitter)
}

func (o *Orchestrator) sleep(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

func (o *Orchestrator) indexURL(scope entity.JobScope, page int) string {
	url := fmt.Sprintf("%s/s/%s/%s", o.cfg.BaseURL, scope.City, scope.Category)
	if page > 1 {
		url = fmt.Sprintf("%s?page=%d", url, page)
	}
	return url
}

func (o *Orchestrator) countItem(h *jobHandle, apply func(*entity.CrawlJob)) {
	h.mu.Lock()
	apply(h.job)
	h.mu.Unlock()
	o.persist(h)
}

// persist writes the current counters; storage failures are logged, the
// in-memory job remains authoritative for this process.
func (o *Orchestrator) persist(h *jobHandle) {
	snap := h.snapshot()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := o.jobsRepo.Update(ctx, snap); err != nil {
		slog.Error("Failed to persist job progress", "job_id", snap.ID, "error", err)
	}
}

// finalize releases the scope before the terminal status becomes visible,
// so a caller seeing the job as done can immediately start the next one.
func (o *Orchestrator) finalize(h *jobHandle, status entity.JobStatus, errMsg string) {
	o.mu.Lock()
	delete(o.runningScopes, h.snapshot().Scope.String())
	o.mu.Unlock()

	now := time.Now()
	h.mu.Lock()
	h.job.Status = status
	h.job.CompletedAt = &now
	if errMsg != "" {
		h.job.ErrorMessage = errMsg
	}
	id := h.job.ID
	h.mu.Unlock()
	o.persist(h)
	metrics.JobsTotal.WithLabelValues(string(status)).Inc()
	slog.Info("Job finalized", "job_id", id, "status", string(status), "error", errMsg)
}
