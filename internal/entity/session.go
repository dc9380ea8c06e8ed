package entity

import "time"

// SessionState tracks the OTP login state machine for one phone number.
type SessionState string

const (
	SessionAnonymous     SessionState = "anonymous"
	SessionOtpRequested  SessionState = "otp_requested"
	SessionAuthenticated SessionState = "authenticated"
	SessionExpired       SessionState = "expired"
)

// Cookie is one entry of an authenticated cookie set.
type Cookie struct {
	Name    string    `json:"name"`
	Value   string    `json:"value"`
	Domain  string    `json:"domain"`
	Path    string    `json:"path"`
	Expires time.Time `json:"expires"`
}

// SessionBundle mirrors the `session_bundles` PostgreSQL table schema.
// A bundle is demoted to invalid when a rejection is detected, never
// mutated back; at most one bundle per phone number is current.
type SessionBundle struct {
	ID          int64
	PhoneNumber string
	Cookies     []Cookie
	Token       string
	IsValid     bool
	// ExpiresAt is nil until a token cookie or a server rejection reveals it.
	ExpiresAt     *time.Time
	InvalidReason string
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// TokenCookie returns the auth token cookie, if present in the set.
func (b *SessionBundle) TokenCookie() *Cookie {
	for i := range b.Cookies {
		if b.Cookies[i].Name == "token" {
			return &b.Cookies[i]
		}
	}
	return nil
}
