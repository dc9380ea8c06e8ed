package usecase

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/sorinflow/divar-crawler/internal/entity"
	"github.com/sorinflow/divar-crawler/internal/repository"
	"github.com/sorinflow/divar-crawler/pkg/metrics"
)

var (
	// ErrNoProxyAvailable means no record is both active and working; the
	// caller falls back to a direct connection or aborts.
	ErrNoProxyAvailable = errors.New("no active working proxy available")
	// ErrProxyNotFound is returned for reports against an unknown record.
	ErrProxyNotFound = errors.New("proxy not found")
)

// ProxyProber performs a synchronous connectivity probe through a proxy,
// outside the normal acquire/report cycle.
type ProxyProber interface {
	Probe(ctx context.Context, proxy *entity.ProxyRecord) (time.Duration, error)
}

const (
	defaultFailThreshold = 3
	defaultTopK          = 3
	// latencySmoothing is the EWMA weight of the newest observation.
	latencySmoothing = 0.2
)

// ProxyPool is the process-wide scored proxy set. It is loaded from storage
// once at startup, mutated only through outcome reports and probes, and
// flushed at teardown.
type ProxyPool struct {
	repo   repository.ProxyRepository
	prober ProxyProber

	failThreshold int
	topK          int

	mu      sync.Mutex
	proxies map[int64]*entity.ProxyRecord
	rng     *rand.Rand
}

// NewProxyPool creates an empty pool; call Load before serving acquires.
func NewProxyPool(repo repository.ProxyRepository, prober ProxyProber) *ProxyPool {
	return &ProxyPool{
		repo:          repo,
		prober:        prober,
		failThreshold: defaultFailThreshold,
		topK:          defaultTopK,
		proxies:       make(map[int64]*entity.ProxyRecord),
		rng:           rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

// Load replaces the in-memory set with the active records from storage.
func (p *ProxyPool) Load(ctx context.Context) error {
	records, err := p.repo.LoadActive(ctx)
	if err != nil {
		return fmt.Errorf("failed to load proxies: %w", err)
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.proxies = make(map[int64]*entity.ProxyRecord, len(records))
	for _, rec := range records {
		p.proxies[rec.ID] = rec
	}
	slog.Info("Proxy pool loaded", "count", len(records))
	return nil
}

// Acquire selects a proxy for one outbound request: weighted random among
// the top-K lowest rolling-latency working records, least-recently-used
// breaking ties, so consecutive requests do not pin a single egress.
func (p *ProxyPool) Acquire() (*entity.ProxyRecord, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	candidates := make([]*entity.ProxyRecord, 0, len(p.proxies))
	for _, rec := range p.proxies {
		if rec.IsActive && rec.IsWorking {
			candidates = append(candidates, rec)
		}
	}
	if len(candidates) == 0 {
		return nil, ErrNoProxyAvailable
	}

	sort.Slice(candidates, func(i, j int) bool {
		if candidates[i].AvgResponseMS != candidates[j].AvgResponseMS {
			return candidates[i].AvgResponseMS < candidates[j].AvgResponseMS
		}
		return candidates[i].LastUsed.Before(candidates[j].LastUsed)
	})
	if len(candidates) > p.topK {
		candidates = candidates[:p.topK]
	}

	chosen := p.weightedPick(candidates)
	chosen.LastUsed = time.Now()

	cp := *chosen
	return &cp, nil
}

// weightedPick favors lower latency without starving the rest of the top-K.
// Untried records (no latency yet) weigh the same as the fastest.
func (p *ProxyPool) weightedPick(candidates []*entity.ProxyRecord) *entity.ProxyRecord {
	if len(candidates) == 1 {
		return candidates[0]
	}
	var floor float64
	for _, rec := range candidates {
		if rec.AvgResponseMS > 0 && (floor == 0 || rec.AvgResponseMS < floor) {
			floor = rec.AvgResponseMS
		}
	}
	weights := make([]float64, len(candidates))
	var sum float64
	for i, rec := range candidates {
		ms := rec.AvgResponseMS
		if ms == 0 {
			ms = floor
		}
		weights[i] = 1.0 / (1.0 + ms)
		sum += weights[i]
	}
	r := p.rng.Float64() * sum
	for i, w := range weights {
		r -= w
		if r <= 0 {
			return candidates[i]
		}
	}
	return candidates[len(candidates)-1]
}

// ReportOutcome feeds back one observed fetch result. A run of consecutive
// failures trips the working flag; a successful outcome restores it. The
// passage of time alone never does.
func (p *ProxyPool) ReportOutcome(ctx context.Context, proxyID int64, success bool, latency time.Duration) error {
	p.mu.Lock()
	rec, ok := p.proxies[proxyID]
	if !ok {
		p.mu.Unlock()
		return ErrProxyNotFound
	}

	now := time.Now()
	rec.LastChecked = &now
	flipped := false
	if success {
		rec.SuccessCount++
		rec.ConsecutiveFails = 0
		p.observeLatency(rec, latency)
		if !rec.IsWorking {
			rec.IsWorking = true
			flipped = true
		}
		metrics.ProxyOutcomesTotal.WithLabelValues("success").Inc()
	} else {
		rec.FailCount++
		rec.ConsecutiveFails++
		metrics.ProxyOutcomesTotal.WithLabelValues("failure").Inc()
		if rec.IsWorking && rec.ConsecutiveFails >= p.failThreshold {
			rec.IsWorking = false
			flipped = true
			metrics.ProxyTripsTotal.Inc()
			slog.Warn("Proxy marked not working", "proxy_id", proxyID, "consecutive_fails", rec.ConsecutiveFails)
		}
	}
	cp := *rec
	p.mu.Unlock()

	if flipped {
		if err := p.repo.Update(ctx, &cp); err != nil {
			slog.Error("Failed to persist proxy state change", "proxy_id", proxyID, "error", err)
		}
	}
	return nil
}

// Test probes a proxy synchronously and applies the result, restoring a
// tripped record on success. Used by health probing and user-triggered tests.
func (p *ProxyPool) Test(ctx context.Context, proxyID int64) (time.Duration, error) {
	p.mu.Lock()
	rec, ok := p.proxies[proxyID]
	if !ok {
		p.mu.Unlock()
		return 0, ErrProxyNotFound
	}
	cp := *rec
	p.mu.Unlock()

	latency, probeErr := p.prober.Probe(ctx, &cp)

	p.mu.Lock()
	rec, ok = p.proxies[proxyID]
	if !ok {
		p.mu.Unlock()
		return 0, ErrProxyNotFound
	}
	now := time.Now()
	rec.LastChecked = &now
	if probeErr == nil {
		rec.SuccessCount++
		rec.ConsecutiveFails = 0
		rec.IsWorking = true
		p.observeLatency(rec, latency)
	} else {
		rec.FailCount++
		rec.IsWorking = false
	}
	cp = *rec
	p.mu.Unlock()

	if err := p.repo.Update(ctx, &cp); err != nil {
		slog.Error("Failed to persist proxy test result", "proxy_id", proxyID, "error", err)
	}
	if probeErr != nil {
		return 0, fmt.Errorf("proxy test failed: %w", probeErr)
	}
	return latency, nil
}

// Add stores a new record and admits it into the pool.
func (p *ProxyPool) Add(ctx context.Context, rec *entity.ProxyRecord) error {
	if rec.Protocol == "" {
		rec.Protocol = "http"
	}
	rec.IsActive = true
	rec.IsWorking = true
	rec.CreatedAt = time.Now()
	if err := p.repo.Save(ctx, rec); err != nil {
		return fmt.Errorf("failed to save proxy: %w", err)
	}
	p.mu.Lock()
	cp := *rec
	p.proxies[rec.ID] = &cp
	p.mu.Unlock()
	return nil
}

// ImportList bulk-adds proxies from a newline-separated list in the form
// ip:port or ip:port:user:pass. Malformed lines and known address:port
// pairs are skipped, never fatal.
func (p *ProxyPool) ImportList(ctx context.Context, list string) (imported, skipped int, err error) {
	known := make(map[string]bool)
	p.mu.Lock()
	for _, rec := range p.proxies {
		known[fmt.Sprintf("%s:%d", rec.Address, rec.Port)] = true
	}
	p.mu.Unlock()

	for _, line := range strings.Split(list, "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		parts := strings.Split(line, ":")
		if len(parts) < 2 {
			skipped++
			continue
		}
		port, perr := strconv.Atoi(parts[1])
		if perr != nil || port < 1 || port > 65535 {
			skipped++
			continue
		}
		key := fmt.Sprintf("%s:%d", parts[0], port)
		if known[key] {
			skipped++
			continue
		}
		rec := &entity.ProxyRecord{Address: parts[0], Port: port}
		if len(parts) > 2 {
			rec.Username = parts[2]
		}
		if len(parts) > 3 {
			rec.Password = parts[3]
		}
		if aerr := p.Add(ctx, rec); aerr != nil {
			return imported, skipped, aerr
		}
		known[key] = true
		imported++
	}
	slog.Info("Proxy list imported", "imported", imported, "skipped", skipped)
	return imported, skipped, nil
}

// SetActive toggles the admin flag. Deactivated records stay in the map so
// in-flight reports against them still resolve; records that were inactive
// at load time are re-admitted from storage on the way in.
func (p *ProxyPool) SetActive(ctx context.Context, proxyID int64, active bool) error {
	p.mu.Lock()
	rec, ok := p.proxies[proxyID]
	if ok {
		rec.IsActive = active
	}
	p.mu.Unlock()
	if !ok {
		stored, err := p.repo.List(ctx)
		if err != nil {
			return fmt.Errorf("failed to look up proxy: %w", err)
		}
		var found *entity.ProxyRecord
		for _, s := range stored {
			if s.ID == proxyID {
				found = s
				break
			}
		}
		if found == nil {
			return ErrProxyNotFound
		}
		found.IsActive = active
		p.mu.Lock()
		p.proxies[proxyID] = found
		p.mu.Unlock()
	}
	return p.repo.SetActive(ctx, proxyID, active)
}

// List returns a snapshot of every pooled record.
func (p *ProxyPool) List() []*entity.ProxyRecord {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]*entity.ProxyRecord, 0, len(p.proxies))
	for _, rec := range p.proxies {
		cp := *rec
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Flush persists the rolling counters of every record, called at teardown.
func (p *ProxyPool) Flush(ctx context.Context) error {
	for _, rec := range p.List() {
		if err := p.repo.Update(ctx, rec); err != nil {
			return fmt.Errorf("failed to flush proxy %d: %w", rec.ID, err)
		}
	}
	return nil
}

func (p *ProxyPool) observeLatency(rec *entity.ProxyRecord, latency time.Duration) {
	ms := float64(latency.Milliseconds())
	if rec.AvgResponseMS == 0 {
		rec.AvgResponseMS = ms
		return
	}
	rec.AvgResponseMS = rec.AvgResponseMS*(1-latencySmoothing) + ms*latencySmoothing
}
