package usecase

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/sorinflow/divar-crawler/internal/entity"
	"github.com/sorinflow/divar-crawler/internal/repository"
	"github.com/sorinflow/divar-crawler/pkg/metrics"
)

var (
	// ErrRateLimited means the same number requested a code inside the
	// cool-down window. The message is shown to the user as-is.
	ErrRateLimited = errors.New("a code was recently sent to this number, try again later")
	// ErrNoValidSession means no bundle is currently authenticated.
	ErrNoValidSession = errors.New("no authenticated session available")
	// ErrCodeExpired means the OTP challenge outlived its validity window.
	ErrCodeExpired = errors.New("verification code expired, request a new one")
	// ErrNoPendingOtp means verification arrived without a prior request.
	ErrNoPendingOtp = errors.New("no verification pending for this number")
)

type otpChallenge struct {
	requestedAt time.Time
	deadline    time.Time
}

// SessionStatus is a read-only snapshot of one phone number's auth state.
type SessionStatus struct {
	PhoneNumber string
	State       entity.SessionState
	ExpiresAt   *time.Time
}

// SessionManager owns the OTP login state machine and the stored cookie
// bundles. It is the process-wide singleton consulted by the orchestrator
// for a valid bundle and notified the moment a fetch reveals rejection.
type SessionManager struct {
	repo     repository.SessionRepository
	gateway  repository.OtpGateway
	cooldown repository.CooldownStore

	cooldownWindow time.Duration
	otpValidity    time.Duration

	mu      sync.Mutex
	bundles map[string]*entity.SessionBundle
	pending map[string]otpChallenge
}

// NewSessionManager creates a manager; call Load before serving acquires.
func NewSessionManager(repo repository.SessionRepository, gateway repository.OtpGateway, cooldown repository.CooldownStore, cooldownWindow, otpValidity time.Duration) *SessionManager {
	return &SessionManager{
		repo:           repo,
		gateway:        gateway,
		cooldown:       cooldown,
		cooldownWindow: cooldownWindow,
		otpValidity:    otpValidity,
		bundles:        make(map[string]*entity.SessionBundle),
		pending:        make(map[string]otpChallenge),
	}
}

// Load restores valid bundles from storage, keeping the newest per phone
// number as the current one.
func (m *SessionManager) Load(ctx context.Context) error {
	bundles, err := m.repo.LoadValid(ctx)
	if err != nil {
		return fmt.Errorf("failed to load sessions: %w", err)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, b := range bundles {
		cur, ok := m.bundles[b.PhoneNumber]
		if !ok || b.CreatedAt.After(cur.CreatedAt) {
			m.bundles[b.PhoneNumber] = b
		}
	}
	slog.Info("Sessions loaded", "count", len(m.bundles))
	return nil
}

// RequestOtp starts the login flow for a phone number. Transitions
// Anonymous to OtpRequested; refused while the cool-down window is open.
func (m *SessionManager) RequestOtp(ctx context.Context, phoneNumber string) error {
	limited, err := m.cooldown.InCooldown(ctx, phoneNumber)
	if err != nil {
		return fmt.Errorf("failed to check otp cooldown: %w", err)
	}
	if limited {
		return ErrRateLimited
	}

	if err := m.gateway.RequestOtp(ctx, phoneNumber); err != nil {
		return fmt.Errorf("failed to request otp: %w", err)
	}
	if err := m.cooldown.SetCooldown(ctx, phoneNumber, m.cooldownWindow); err != nil {
		slog.Warn("Failed to record otp cooldown", "phone", phoneNumber, "error", err)
	}

	now := time.Now()
	m.mu.Lock()
	m.pending[phoneNumber] = otpChallenge{requestedAt: now, deadline: now.Add(m.otpValidity)}
	m.mu.Unlock()

	slog.Info("OTP requested", "phone", phoneNumber)
	return nil
}

// VerifyOtp completes the login flow. Expiry of the challenge is an
// explicit deadline checked here, not a background timer. On success the
// new bundle becomes current and any previous one for the number is demoted.
func (m *SessionManager) VerifyOtp(ctx context.Context, phoneNumber, code string) (*entity.SessionBundle, error) {
	m.mu.Lock()
	challenge, ok := m.pending[phoneNumber]
	m.mu.Unlock()
	if !ok {
		return nil, ErrNoPendingOtp
	}
	if time.Now().After(challenge.deadline) {
		m.mu.Lock()
		delete(m.pending, phoneNumber)
		m.mu.Unlock()
		return nil, ErrCodeExpired
	}

	bundle, err := m.gateway.VerifyOtp(ctx, phoneNumber, code)
	if err != nil {
		if errors.Is(err, repository.ErrOtpCodeInvalid) {
			return nil, err
		}
		return nil, fmt.Errorf("failed to verify otp: %w", err)
	}

	now := time.Now()
	bundle.PhoneNumber = phoneNumber
	bundle.IsValid = true
	bundle.CreatedAt = now
	bundle.UpdatedAt = now
	if bundle.ExpiresAt == nil {
		if tc := bundle.TokenCookie(); tc != nil && !tc.Expires.IsZero() {
			exp := tc.Expires
			bundle.ExpiresAt = &exp
		}
	}

	if err := m.repo.Save(ctx, bundle); err != nil {
		return nil, fmt.Errorf("failed to persist session: %w", err)
	}

	m.mu.Lock()
	if prev, ok := m.bundles[phoneNumber]; ok && prev.IsValid {
		prev.IsValid = false
		prev.InvalidReason = "replaced by new login"
		prev.UpdatedAt = now
		if uerr := m.repo.Update(ctx, prev); uerr != nil {
			slog.Warn("Failed to demote replaced session", "phone", phoneNumber, "error", uerr)
		}
	}
	m.bundles[phoneNumber] = bundle
	delete(m.pending, phoneNumber)
	m.mu.Unlock()

	slog.Info("OTP verified, session established", "phone", phoneNumber)
	cp := *bundle
	return &cp, nil
}

// AcquireSession returns a currently authenticated bundle. Bundles past
// their known expiry are demoted on the way out; an Expired bundle is
// never returned.
func (m *SessionManager) AcquireSession(ctx context.Context) (*entity.SessionBundle, error) {
	m.mu.Lock()
	var stale []*entity.SessionBundle
	var chosen *entity.SessionBundle
	now := time.Now()
	for _, b := range m.bundles {
		if !b.IsValid {
			continue
		}
		if b.ExpiresAt != nil && now.After(*b.ExpiresAt) {
			b.IsValid = false
			b.InvalidReason = "token expired"
			b.UpdatedAt = now
			stale = append(stale, b)
			continue
		}
		if chosen == nil || b.CreatedAt.After(chosen.CreatedAt) {
			chosen = b
		}
	}
	var cp *entity.SessionBundle
	if chosen != nil {
		c := *chosen
		cp = &c
	}
	m.mu.Unlock()

	for _, b := range stale {
		metrics.SessionInvalidationsTotal.WithLabelValues("expired").Inc()
		if err := m.repo.Update(ctx, b); err != nil {
			slog.Warn("Failed to persist session expiry", "phone", b.PhoneNumber, "error", err)
		}
	}
	if cp == nil {
		return nil, ErrNoValidSession
	}
	return cp, nil
}

// RefreshSession probes the current bundle. Success only extends
// confidence; a rejection demotes the bundle and is reported to the
// caller as repository.ErrSessionRejected.
func (m *SessionManager) RefreshSession(ctx context.Context) error {
	bundle, err := m.AcquireSession(ctx)
	if err != nil {
		return err
	}
	if err := m.gateway.Probe(ctx, bundle); err != nil {
		if errors.Is(err, repository.ErrSessionRejected) {
			if ierr := m.Invalidate(ctx, bundle.PhoneNumber, "rejected during refresh probe"); ierr != nil {
				return ierr
			}
			return err
		}
		return fmt.Errorf("session probe failed: %w", err)
	}
	m.mu.Lock()
	if cur, ok := m.bundles[bundle.PhoneNumber]; ok {
		cur.UpdatedAt = time.Now()
	}
	m.mu.Unlock()
	return nil
}

// Invalidate demotes the current bundle for a phone number the moment a
// rejection is detected, so no later job reuses it. The bundle is kept for
// history, never deleted.
func (m *SessionManager) Invalidate(ctx context.Context, phoneNumber, reason string) error {
	m.mu.Lock()
	bundle, ok := m.bundles[phoneNumber]
	if !ok || !bundle.IsValid {
		m.mu.Unlock()
		return nil
	}
	bundle.IsValid = false
	bundle.InvalidReason = reason
	bundle.UpdatedAt = time.Now()
	cp := *bundle
	m.mu.Unlock()

	metrics.SessionInvalidationsTotal.WithLabelValues("rejected").Inc()
	slog.Warn("Session invalidated", "phone", phoneNumber, "reason", reason)
	if err := m.repo.Update(ctx, &cp); err != nil {
		return fmt.Errorf("failed to persist session invalidation: %w", err)
	}
	return nil
}

// Logout is an explicit, user-initiated invalidation.
func (m *SessionManager) Logout(ctx context.Context, phoneNumber string) error {
	return m.Invalidate(ctx, phoneNumber, "logout")
}

// State reports the four-state machine position for a phone number.
func (m *SessionManager) State(phoneNumber string) entity.SessionState {
	m.mu.Lock()
	defer m.mu.Unlock()
	if c, ok := m.pending[phoneNumber]; ok && time.Now().Before(c.deadline) {
		return entity.SessionOtpRequested
	}
	if b, ok := m.bundles[phoneNumber]; ok {
		if b.IsValid {
			return entity.SessionAuthenticated
		}
		return entity.SessionExpired
	}
	return entity.SessionAnonymous
}

// Status returns API-facing snapshots of every known phone number.
func (m *SessionManager) Status() []SessionStatus {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]SessionStatus, 0, len(m.bundles))
	for phone, b := range m.bundles {
		state := entity.SessionExpired
		if b.IsValid {
			state = entity.SessionAuthenticated
		}
		out = append(out, SessionStatus{PhoneNumber: phone, State: state, ExpiresAt: b.ExpiresAt})
	}
	return out
}
