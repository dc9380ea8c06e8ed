package chromedp

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/chromedp/cdproto/storage"
	"github.com/chromedp/chromedp"

	"github.com/sorinflow/divar-crawler/internal/entity"
	"github.com/sorinflow/divar-crawler/internal/repository"
)

const (
	loginButtonXPath   = `//button[contains(., 'ورود')]`
	confirmButtonXPath = `//button[contains(., 'تأیید')]`
	phoneInputSel      = `input[name="mobile"]`
	codeInputSel       = `input[name="code"]`
	tokenCookieName    = "token"
)

// loginFlow keeps one browser alive between the phone submission and the
// code submission, since the code form only exists on that page.
type loginFlow struct {
	taskCtx     context.Context
	cancelTask  context.CancelFunc
	cancelAlloc context.CancelFunc
	startedAt   time.Time
}

func (f *loginFlow) close() {
	f.cancelTask()
	f.cancelAlloc()
}

// OtpGatewayImpl drives the source site's phone login form in a headless
// Chrome instance.
type OtpGatewayImpl struct {
	loginURL string
	probeURL string
	timeout  time.Duration
	fetcher  *PageFetcherImpl

	mu    sync.Mutex
	flows map[string]*loginFlow
}

// NewOtpGateway creates a new instance of OtpGatewayImpl. probeURL must be a
// page that redirects to the login form when the cookies are stale.
func NewOtpGateway(loginURL, probeURL string, timeout time.Duration, fetcher *PageFetcherImpl) *OtpGatewayImpl {
	return &OtpGatewayImpl{
		loginURL: loginURL,
		probeURL: probeURL,
		timeout:  timeout,
		fetcher:  fetcher,
		flows:    make(map[string]*loginFlow),
	}
}

// RequestOtp opens the login form, submits the phone number and leaves the
// browser on the code entry step.
func (g *OtpGatewayImpl) RequestOtp(ctx context.Context, phoneNumber string) error {
	opts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.Flag("headless", true),
		chromedp.Flag("disable-gpu", true),
		chromedp.Flag("no-sandbox", true),
		chromedp.Flag("disable-dev-shm-usage", true),
		chromedp.UserAgent(defaultUserAgent),
	)
	// The flow outlives this call, so the browser hangs off the background
	// context rather than the request context.
	allocCtx, cancelAlloc := chromedp.NewExecAllocator(context.Background(), opts...)
	taskCtx, cancelTask := chromedp.NewContext(allocCtx)

	flow := &loginFlow{
		taskCtx:     taskCtx,
		cancelTask:  cancelTask,
		cancelAlloc: cancelAlloc,
		startedAt:   time.Now(),
	}

	stepCtx, cancel := context.WithTimeout(taskCtx, g.timeout)
	defer cancel()

	err := chromedp.Run(stepCtx,
		chromedp.Navigate(g.loginURL),
		chromedp.WaitReady("body", chromedp.ByQuery),
		clickIfPresent(loginButtonXPath),
		chromedp.WaitVisible(phoneInputSel, chromedp.ByQuery),
		chromedp.SendKeys(phoneInputSel, phoneNumber, chromedp.ByQuery),
		chromedp.Click(confirmButtonXPath, chromedp.BySearch),
		chromedp.WaitVisible(codeInputSel, chromedp.ByQuery),
	)
	if err != nil {
		flow.close()
		return fmt.Errorf("failed to request code for %s: %w", phoneNumber, err)
	}

	g.mu.Lock()
	if prev, ok := g.flows[phoneNumber]; ok {
		prev.close()
	}
	g.flows[phoneNumber] = flow
	g.mu.Unlock()

	slog.Info("Verification code requested", "phone", phoneNumber)
	return nil
}

// VerifyOtp submits the code in the browser left by RequestOtp and captures
// the resulting cookie set. The flow is torn down whether or not the code
// is accepted.
func (g *OtpGatewayImpl) VerifyOtp(ctx context.Context, phoneNumber, code string) (*entity.SessionBundle, error) {
	g.mu.Lock()
	flow, ok := g.flows[phoneNumber]
	delete(g.flows, phoneNumber)
	g.mu.Unlock()
	if !ok {
		return nil, errors.New("no login flow in progress for this phone number")
	}
	defer flow.close()

	stepCtx, cancel := context.WithTimeout(flow.taskCtx, g.timeout)
	defer cancel()

	var cookies []entity.Cookie
	err := chromedp.Run(stepCtx,
		chromedp.SendKeys(codeInputSel, code, chromedp.ByQuery),
		chromedp.Click(loginButtonXPath, chromedp.BySearch),
		chromedp.Sleep(3*time.Second),
		chromedp.ActionFunc(func(ctx context.Context) error {
			raw, err := storage.GetCookies().Do(ctx)
			if err != nil {
				return err
			}
			for _, c := range raw {
				cookie := entity.Cookie{
					Name:   c.Name,
					Value:  c.Value,
					Domain: c.Domain,
					Path:   c.Path,
				}
				if c.Expires > 0 {
					cookie.Expires = time.Unix(int64(c.Expires), 0)
				}
				cookies = append(cookies, cookie)
			}
			return nil
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to submit code for %s: %w", phoneNumber, err)
	}

	bundle := &entity.SessionBundle{
		PhoneNumber: phoneNumber,
		Cookies:     cookies,
		IsValid:     true,
		CreatedAt:   time.Now(),
		UpdatedAt:   time.Now(),
	}
	token := bundle.TokenCookie()
	if token == nil {
		// The site keeps the code form up when the code is wrong, so no
		// token cookie ever appears.
		return nil, repository.ErrOtpCodeInvalid
	}
	bundle.Token = token.Value
	if !token.Expires.IsZero() {
		expiresAt := token.Expires
		bundle.ExpiresAt = &expiresAt
	}

	slog.Info("Login completed", "phone", phoneNumber, "cookies", len(cookies))
	return bundle, nil
}

// Probe loads an authenticated page with the bundle's cookies and reports
// whether the source still accepts them.
func (g *OtpGatewayImpl) Probe(ctx context.Context, bundle *entity.SessionBundle) error {
	_, err := g.fetcher.FetchPage(ctx, g.probeURL, nil, bundle)
	if err != nil {
		if repository.KindOf(err) == repository.FetchAuthRejected {
			return repository.ErrSessionRejected
		}
		return err
	}
	return nil
}

// clickIfPresent clicks a node when it exists and is a no-op otherwise. The
// landing page skips the initial login button for direct login URLs.
func clickIfPresent(xpath string) chromedp.Action {
	return chromedp.ActionFunc(func(ctx context.Context) error {
		clickCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
		defer cancel()
		if err := chromedp.Click(xpath, chromedp.BySearch).Do(clickCtx); err != nil {
			slog.Debug("Landing login button not found, continuing", "error", err)
		}
		return nil
	})
}
