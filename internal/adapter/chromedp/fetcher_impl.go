package chromedp

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"

	"github.com/chromedp/cdproto/cdp"
	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/chromedp"

	"github.com/sorinflow/divar-crawler/internal/entity"
	"github.com/sorinflow/divar-crawler/internal/repository"
)

const defaultUserAgent = `Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36`

// PageFetcherImpl renders pages with a headless Chrome instance. Each fetch
// gets its own allocator because the proxy flag is baked into the Chrome
// process at launch.
type PageFetcherImpl struct {
	timeout   time.Duration
	loginPath string
	userAgent string
}

// NewPageFetcher creates a new instance of PageFetcherImpl. loginPath is the
// path the source redirects to when it no longer accepts the session cookies.
func NewPageFetcher(pageLoadTimeout time.Duration, loginPath string) *PageFetcherImpl {
	return &PageFetcherImpl{
		timeout:   pageLoadTimeout,
		loginPath: loginPath,
		userAgent: defaultUserAgent,
	}
}

// FetchPage navigates to url and returns the rendered HTML. A nil proxy means
// a direct connection; a nil session means an anonymous fetch.
func (f *PageFetcherImpl) FetchPage(ctx context.Context, url string, proxy *entity.ProxyRecord, session *entity.SessionBundle) (*repository.Page, error) {
	opts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.Flag("headless", true),
		chromedp.Flag("disable-gpu", true),
		chromedp.Flag("no-sandbox", true),
		chromedp.Flag("disable-dev-shm-usage", true),
		chromedp.UserAgent(f.userAgent),
	)
	if proxy != nil {
		opts = append(opts, chromedp.ProxyServer(proxy.URL()))
	}

	allocCtx, cancelAlloc := chromedp.NewExecAllocator(ctx, opts...)
	defer cancelAlloc()

	taskCtx, cancel := chromedp.NewContext(allocCtx)
	defer cancel()

	taskCtx, cancel = context.WithTimeout(taskCtx, f.timeout)
	defer cancel()

	var status int64
	chromedp.ListenTarget(taskCtx, func(ev interface{}) {
		if resp, ok := ev.(*network.EventResponseReceived); ok {
			if resp.Type == network.ResourceTypeDocument && status == 0 {
				status = resp.Response.Status
			}
		}
	})

	var html, finalURL string
	startTime := time.Now()

	tasks := chromedp.Tasks{network.Enable()}
	if session != nil {
		tasks = append(tasks, injectCookies(session.Cookies))
	}
	tasks = append(tasks,
		chromedp.Navigate(url),
		chromedp.WaitReady("body", chromedp.ByQuery),
		chromedp.Location(&finalURL),
		chromedp.OuterHTML("html", &html, chromedp.ByQuery),
	)

	err := chromedp.Run(taskCtx, tasks...)
	elapsed := time.Since(startTime)

	if err != nil {
		return nil, f.classify(url, err, status)
	}
	if kind, rejected := f.rejection(status, finalURL); rejected {
		return nil, &repository.FetchError{Kind: kind, URL: url}
	}

	slog.Debug("Page fetched", "url", url, "status", status, "elapsed_ms", elapsed.Milliseconds())
	return &repository.Page{
		URL:       url,
		HTML:      html,
		FetchedAt: time.Now(),
		ElapsedMS: elapsed.Milliseconds(),
	}, nil
}

// injectCookies sets the bundle's cookie set on the browser before navigation.
func injectCookies(cookies []entity.Cookie) chromedp.Action {
	return chromedp.ActionFunc(func(ctx context.Context) error {
		for _, c := range cookies {
			param := network.SetCookie(c.Name, c.Value).
				WithDomain(strings.TrimPrefix(c.Domain, ".")).
				WithPath(c.Path)
			if c.Expires.After(time.Now()) {
				timestamp := cdp.TimeSinceEpoch(c.Expires)
				param = param.WithExpires(&timestamp)
			}
			if err := param.Do(ctx); err != nil {
				return err
			}
		}
		return nil
	})
}

func (f *PageFetcherImpl) classify(url string, err error, status int64) error {
	kind := repository.FetchUnknown
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		kind = repository.FetchTimeout
	case status == 403 || status == 429:
		kind = repository.FetchBlocked
	case status == 404 || status == 410:
		kind = repository.FetchNotFound
	case status == 401:
		kind = repository.FetchAuthRejected
	}
	return &repository.FetchError{Kind: kind, URL: url, Err: err}
}

// rejection detects failures that render a page anyway, such as a block
// screen or a redirect back to the login form.
func (f *PageFetcherImpl) rejection(status int64, finalURL string) (repository.FetchErrorKind, bool) {
	switch status {
	case 401:
		return repository.FetchAuthRejected, true
	case 403, 429:
		return repository.FetchBlocked, true
	case 404, 410:
		return repository.FetchNotFound, true
	}
	if f.loginPath != "" && strings.Contains(finalURL, f.loginPath) {
		return repository.FetchAuthRejected, true
	}
	return "", false
}
