package usecase

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sorinflow/divar-crawler/internal/entity"
	"github.com/sorinflow/divar-crawler/internal/extractor"
	"github.com/sorinflow/divar-crawler/internal/repository"
)

const testBaseURL = "https://divar.ir"

func indexHTML(ids ...string) string {
	var b strings.Builder
	b.WriteString("<html><body>")
	for _, id := range ids {
		fmt.Fprintf(&b, `<a class="kt-post-card__action" href="/v/listing/%s"><h2 class="kt-post-card__title">آگهی %s</h2></a>`, id, id)
	}
	b.WriteString("</body></html>")
	return b.String()
}

func detailHTML(id string) string {
	return fmt.Sprintf(`<html><body>
<h1 class="kt-page-title__title">آگهی %s</h1>
<div class="kt-base-row"><span class="kt-base-row__title">متراژ</span><span class="kt-base-row__end">۸۵ متر</span></div>
</body></html>`, id)
}

// fakeFetcher serves canned HTML by URL and can be switched into an
// auth-rejecting mode at runtime.
type fakeFetcher struct {
	mu        sync.Mutex
	pages     map[string]string
	rejectAll bool
	fetches   int
}

func newFakeFetcher() *fakeFetcher {
	return &fakeFetcher{pages: map[string]string{}}
}

func (f *fakeFetcher) set(url, html string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.pages[url] = html
}

func (f *fakeFetcher) setRejectAll(v bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.rejectAll = v
}

func (f *fakeFetcher) FetchPage(ctx context.Context, url string, proxy *entity.ProxyRecord, session *entity.SessionBundle) (*repository.Page, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.fetches++
	if f.rejectAll {
		return nil, &repository.FetchError{Kind: repository.FetchAuthRejected, URL: url}
	}
	html, ok := f.pages[url]
	if !ok {
		return nil, &repository.FetchError{Kind: repository.FetchNotFound, URL: url}
	}
	return &repository.Page{URL: url, HTML: html, FetchedAt: time.Now()}, nil
}

type fakeListingRepo struct {
	mu       sync.Mutex
	listings map[string]*entity.Listing
}

func newFakeListingRepo() *fakeListingRepo {
	return &fakeListingRepo{listings: map[string]*entity.Listing{}}
}

func (r *fakeListingRepo) Upsert(ctx context.Context, l *entity.Listing) (repository.UpsertResult, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, exists := r.listings[l.DivarID]
	r.listings[l.DivarID] = l
	if exists {
		return repository.UpsertUpdated, nil
	}
	return repository.UpsertCreated, nil
}

func (r *fakeListingRepo) FindByDivarID(ctx context.Context, id string) (*entity.Listing, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.listings[id], nil
}

type fakeJobRepo struct {
	mu   sync.Mutex
	jobs map[string]*entity.CrawlJob
}

func newFakeJobRepo() *fakeJobRepo {
	return &fakeJobRepo{jobs: map[string]*entity.CrawlJob{}}
}

func (r *fakeJobRepo) Save(ctx context.Context, job *entity.CrawlJob) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.jobs[job.ID] = job.Clone()
	return nil
}

func (r *fakeJobRepo) Update(ctx context.Context, job *entity.CrawlJob) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.jobs[job.ID] = job.Clone()
	return nil
}

func (r *fakeJobRepo) FindByID(ctx context.Context, id string) (*entity.CrawlJob, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if job, ok := r.jobs[id]; ok {
		return job.Clone(), nil
	}
	return nil, nil
}

func (r *fakeJobRepo) List(ctx context.Context, limit int) ([]*entity.CrawlJob, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]*entity.CrawlJob, 0, len(r.jobs))
	for _, job := range r.jobs {
		out = append(out, job.Clone())
	}
	return out, nil
}

type fakeImageSink struct{}

func (fakeImageSink) StoreImage(ctx context.Context, listingID, url string) (string, error) {
	return "/tmp/" + listingID, nil
}

type orchestratorFixture struct {
	orch     *Orchestrator
	fetcher  *fakeFetcher
	listings *fakeListingRepo
	jobs     *fakeJobRepo
	sessions *SessionManager
}

func newOrchestratorFixture(t *testing.T) *orchestratorFixture {
	t.Helper()

	fetcher := newFakeFetcher()
	listings := newFakeListingRepo()
	jobs := newFakeJobRepo()

	sessionRepo := &fakeSessionRepo{stored: []*entity.SessionBundle{{
		ID:          1,
		PhoneNumber: testPhone,
		Token:       "tok",
		IsValid:     true,
		CreatedAt:   time.Now().Add(-time.Hour),
	}}}
	sessions := newTestSessionManager(sessionRepo, &fakeOtpGateway{}, newFakeCooldown())
	require.NoError(t, sessions.Load(context.Background()))

	pool := NewProxyPool(&fakeProxyRepo{}, &fakeProber{})
	require.NoError(t, pool.Load(context.Background()))

	ex, err := extractor.New(testBaseURL)
	require.NoError(t, err)

	orch := NewOrchestrator(OrchestratorConfig{
		BaseURL:             testBaseURL,
		RequestsPerMinute:   60000,
		DetailConcurrency:   3,
		SessionWaitInterval: 10 * time.Millisecond,
	}, pool, sessions, fetcher, ex, listings, jobs, fakeImageSink{})

	return &orchestratorFixture{
		orch:     orch,
		fetcher:  fetcher,
		listings: listings,
		jobs:     jobs,
		sessions: sessions,
	}
}

func (f *orchestratorFixture) seedPages(t *testing.T, scope entity.JobScope, pages [][]string) {
	t.Helper()
	base := fmt.Sprintf("%s/s/%s/%s", testBaseURL, scope.City, scope.Category)
	for i, ids := range pages {
		url := base
		if i > 0 {
			url = fmt.Sprintf("%s?page=%d", base, i+1)
		}
		f.fetcher.set(url, indexHTML(ids...))
		for _, id := range ids {
			f.fetcher.set(fmt.Sprintf("%s/v/listing/%s", testBaseURL, id), detailHTML(id))
		}
	}
}

func waitForStatus(t *testing.T, orch *Orchestrator, jobID string, want entity.JobStatus) *entity.CrawlJob {
	t.Helper()
	deadline := time.Now().Add(10 * time.Second)
	for time.Now().Before(deadline) {
		job, err := orch.GetJob(context.Background(), jobID)
		require.NoError(t, err)
		if job.Status == want {
			return job
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("job %s never reached status %s", jobID, want)
	return nil
}

func TestOrchestrator_RejectsInvalidScope(t *testing.T) {
	f := newOrchestratorFixture(t)
	_, err := f.orch.StartJob(context.Background(), entity.JobScope{City: "atlantis", Category: "buy-apartment"}, 1, StartOptions{})
	assert.ErrorIs(t, err, ErrInvalidScope)

	_, err = f.orch.StartJob(context.Background(), entity.JobScope{City: "tehran", Category: "buy-castles"}, 1, StartOptions{})
	assert.ErrorIs(t, err, ErrInvalidScope)
}

func TestOrchestrator_RunsJobToCompletion(t *testing.T) {
	f := newOrchestratorFixture(t)
	scope := entity.JobScope{City: "tehran", Category: "buy-apartment"}
	f.seedPages(t, scope, [][]string{
		{"aaa01", "aaa02", "aaa03", "aaa04", "aaa05"},
		{"bbb01", "bbb02", "bbb03", "bbb04", "bbb05"},
	})

	jobID, err := f.orch.StartJob(context.Background(), scope, 2, StartOptions{})
	require.NoError(t, err)

	job := waitForStatus(t, f.orch, jobID, entity.JobStatusCompleted)
	assert.Equal(t, 2, job.AttemptedPages)
	assert.Equal(t, 2, job.ScrapedPages)
	assert.Equal(t, 10, job.TotalItems)
	assert.Equal(t, 10, job.ScrapedItems)
	assert.Equal(t, 10, job.NewItems)
	assert.Equal(t, 0, job.UpdatedItems)
	assert.Equal(t, 0, job.FailedItems)
	assert.NotNil(t, job.StartedAt)
	assert.NotNil(t, job.CompletedAt)

	// Every listing landed in storage with scope fallbacks applied.
	stored, err := f.listings.FindByDivarID(context.Background(), "aaa01")
	require.NoError(t, err)
	require.NotNil(t, stored)
	assert.Equal(t, "تهران", stored.CityName)
	assert.Equal(t, "خرید آپارتمان", stored.CategoryName)
	assert.Equal(t, "buy", stored.ListingType)
}

func TestOrchestrator_SecondRunCountsUpdates(t *testing.T) {
	f := newOrchestratorFixture(t)
	scope := entity.JobScope{City: "tehran", Category: "buy-apartment"}
	f.seedPages(t, scope, [][]string{{"ccc01", "ccc02"}})

	jobID, err := f.orch.StartJob(context.Background(), scope, 1, StartOptions{})
	require.NoError(t, err)
	first := waitForStatus(t, f.orch, jobID, entity.JobStatusCompleted)
	assert.Equal(t, 2, first.NewItems)

	jobID, err = f.orch.StartJob(context.Background(), scope, 1, StartOptions{})
	require.NoError(t, err)
	second := waitForStatus(t, f.orch, jobID, entity.JobStatusCompleted)
	assert.Equal(t, 0, second.NewItems)
	assert.Equal(t, 2, second.UpdatedItems)
}

func TestOrchestrator_StopsAtEmptyPage(t *testing.T) {
	f := newOrchestratorFixture(t)
	scope := entity.JobScope{City: "tehran", Category: "rent-apartment"}
	f.seedPages(t, scope, [][]string{
		{"ddd01", "ddd02"},
		{}, // results exhausted before max_pages
		{"eee01"},
	})

	jobID, err := f.orch.StartJob(context.Background(), scope, 3, StartOptions{})
	require.NoError(t, err)

	job := waitForStatus(t, f.orch, jobID, entity.JobStatusCompleted)
	assert.Equal(t, 2, job.AttemptedPages)
	assert.Equal(t, 1, job.ScrapedPages)
	assert.Equal(t, 2, job.ScrapedItems)
}

func TestOrchestrator_ScopeMutualExclusion(t *testing.T) {
	f := newOrchestratorFixture(t)
	scope := entity.JobScope{City: "tehran", Category: "buy-villa"}
	f.seedPages(t, scope, [][]string{{"fff01"}})

	// Hold the scope by pausing the fetcher on auth rejection.
	f.fetcher.setRejectAll(true)
	jobID, err := f.orch.StartJob(context.Background(), scope, 1, StartOptions{})
	require.NoError(t, err)

	_, err = f.orch.StartJob(context.Background(), scope, 1, StartOptions{})
	assert.ErrorIs(t, err, ErrScopeBusy)

	// A different scope is fine.
	other := entity.JobScope{City: "karaj", Category: "buy-villa"}
	f.seedPages(t, other, [][]string{{"ggg01"}})
	otherID, err := f.orch.StartJob(context.Background(), other, 1, StartOptions{})
	require.NoError(t, err)

	require.NoError(t, f.orch.CancelJob(context.Background(), jobID))
	require.NoError(t, f.orch.CancelJob(context.Background(), otherID))
	waitForStatus(t, f.orch, jobID, entity.JobStatusCancelled)
	waitForStatus(t, f.orch, otherID, entity.JobStatusCancelled)

	// The scope frees up once the holder is terminal. The rejected session
	// must be replaced by a fresh login before a job can make progress.
	f.fetcher.setRejectAll(false)
	require.NoError(t, f.sessions.RequestOtp(context.Background(), testPhone))
	_, err = f.sessions.VerifyOtp(context.Background(), testPhone, "654321")
	require.NoError(t, err)

	jobID, err = f.orch.StartJob(context.Background(), scope, 1, StartOptions{})
	require.NoError(t, err)
	waitForStatus(t, f.orch, jobID, entity.JobStatusCompleted)
}

func TestOrchestrator_AuthRejectionPausesAndInvalidates(t *testing.T) {
	f := newOrchestratorFixture(t)
	scope := entity.JobScope{City: "tehran", Category: "buy-residential"}
	f.seedPages(t, scope, [][]string{{"hhh01"}})
	f.fetcher.setRejectAll(true)

	jobID, err := f.orch.StartJob(context.Background(), scope, 1, StartOptions{})
	require.NoError(t, err)

	// The session is demoted and the job parks in the waiting loop,
	// still counting as running rather than failed.
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if _, err := f.sessions.AcquireSession(context.Background()); err != nil {
			break
		}
		time.Sleep(5 * time.Millisecond)
	}
	_, err = f.sessions.AcquireSession(context.Background())
	assert.ErrorIs(t, err, ErrNoValidSession)

	time.Sleep(50 * time.Millisecond)
	job, err := f.orch.GetJob(context.Background(), jobID)
	require.NoError(t, err)
	assert.Equal(t, entity.JobStatusRunning, job.Status)

	require.NoError(t, f.orch.CancelJob(context.Background(), jobID))
	waitForStatus(t, f.orch, jobID, entity.JobStatusCancelled)
}

func TestOrchestrator_FailsAfterConsecutivePageFailures(t *testing.T) {
	f := newOrchestratorFixture(t)
	scope := entity.JobScope{City: "tehran", Category: "rent-villa"}
	// No pages seeded: every index fetch is a not-found failure.

	jobID, err := f.orch.StartJob(context.Background(), scope, 10, StartOptions{})
	require.NoError(t, err)

	job := waitForStatus(t, f.orch, jobID, entity.JobStatusFailed)
	assert.Equal(t, 3, job.AttemptedPages)
	assert.Equal(t, 0, job.ScrapedPages)
	assert.NotEmpty(t, job.ErrorMessage)
}

func TestOrchestrator_MalformedListingCountsFailed(t *testing.T) {
	f := newOrchestratorFixture(t)
	scope := entity.JobScope{City: "tehran", Category: "buy-old-house"}
	f.seedPages(t, scope, [][]string{{"iii01", "iii02"}})
	// One detail page loses its required fields.
	f.fetcher.set(testBaseURL+"/v/listing/iii02", "<html><body><p>removed</p></body></html>")

	jobID, err := f.orch.StartJob(context.Background(), scope, 1, StartOptions{})
	require.NoError(t, err)

	job := waitForStatus(t, f.orch, jobID, entity.JobStatusCompleted)
	assert.Equal(t, 2, job.TotalItems)
	assert.Equal(t, 1, job.ScrapedItems)
	assert.Equal(t, 1, job.FailedItems)
	assert.LessOrEqual(t, job.ScrapedPages, job.AttemptedPages)
}

func TestOrchestrator_CancelUnknownJob(t *testing.T) {
	f := newOrchestratorFixture(t)
	err := f.orch.CancelJob(context.Background(), "no-such-job")
	assert.ErrorIs(t, err, ErrJobNotFound)
}

func TestOrchestrator_GetJobFallsBackToStorage(t *testing.T) {
	f := newOrchestratorFixture(t)
	stored := &entity.CrawlJob{ID: "from-storage", Status: entity.JobStatusCompleted}
	require.NoError(t, f.jobs.Save(context.Background(), stored))

	job, err := f.orch.GetJob(context.Background(), "from-storage")
	require.NoError(t, err)
	assert.Equal(t, entity.JobStatusCompleted, job.Status)

	_, err = f.orch.GetJob(context.Background(), "missing")
	assert.ErrorIs(t, err, ErrJobNotFound)
}

func TestOrchestrator_Shutdown(t *testing.T) {
	f := newOrchestratorFixture(t)
	scope := entity.JobScope{City: "tehran", Category: "rent-residential"}
	f.seedPages(t, scope, [][]string{{"jjj01"}})
	f.fetcher.setRejectAll(true)

	jobID, err := f.orch.StartJob(context.Background(), scope, 1, StartOptions{})
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, f.orch.Shutdown(ctx))

	job, err := f.orch.GetJob(context.Background(), jobID)
	require.NoError(t, err)
	assert.Equal(t, entity.JobStatusCancelled, job.Status)
}
