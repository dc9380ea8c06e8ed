package chromedp

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/sorinflow/divar-crawler/internal/entity"
)

// ProxyProberImpl issues a lightweight HTTP request through a proxy to
// measure whether it relays traffic at all. A full browser launch is too
// expensive for a health probe.
type ProxyProberImpl struct {
	probeURL string
	timeout  time.Duration
}

// NewProxyProber creates a new instance of ProxyProberImpl.
func NewProxyProber(probeURL string, timeout time.Duration) *ProxyProberImpl {
	return &ProxyProberImpl{probeURL: probeURL, timeout: timeout}
}

// Probe fetches the probe URL through the proxy and returns the observed
// round-trip latency.
func (p *ProxyProberImpl) Probe(ctx context.Context, proxy *entity.ProxyRecord) (time.Duration, error) {
	proxyURL, err := url.Parse(proxy.URL())
	if err != nil {
		return 0, fmt.Errorf("invalid proxy url: %w", err)
	}

	client := &http.Client{
		Timeout: p.timeout,
		Transport: &http.Transport{
			Proxy:             http.ProxyURL(proxyURL),
			DisableKeepAlives: true,
		},
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodHead, p.probeURL, nil)
	if err != nil {
		return 0, err
	}

	startTime := time.Now()
	resp, err := client.Do(req)
	elapsed := time.Since(startTime)
	if err != nil {
		return elapsed, err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 500 {
		return elapsed, fmt.Errorf("probe returned status %d", resp.StatusCode)
	}
	return elapsed, nil
}
