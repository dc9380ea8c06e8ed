package repository

import (
	"context"
	"time"
)

// CooldownStore tracks the per-phone-number window during which another
// OTP request must be refused.
type CooldownStore interface {
	// SetCooldown starts the window for a phone number.
	SetCooldown(ctx context.Context, phoneNumber string, window time.Duration) error
	// InCooldown reports whether the window is still open.
	InCooldown(ctx context.Context, phoneNumber string) (bool, error)
}
