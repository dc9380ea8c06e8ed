package redis

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const otpCooldownPrefix = "otp_cooldown:"

// CooldownStoreImpl provides a concrete implementation for the CooldownStore interface using Redis.
type CooldownStoreImpl struct {
	client *redis.Client
}

// NewCooldownStore creates a new instance of CooldownStoreImpl.
func NewCooldownStore(client *redis.Client) *CooldownStoreImpl {
	return &CooldownStoreImpl{client: client}
}

func (r *CooldownStoreImpl) generateKey(phone string) string {
	return fmt.Sprintf("%s%s", otpCooldownPrefix, phone)
}

// SetCooldown marks a phone number as recently challenged. SETEX is atomic
// and expires the key on its own, so no cleanup pass is needed.
func (r *CooldownStoreImpl) SetCooldown(ctx context.Context, phone string, window time.Duration) error {
	return r.client.SetEx(ctx, r.generateKey(phone), "1", window).Err()
}

// InCooldown reports whether a phone number is still inside its cooldown window.
func (r *CooldownStoreImpl) InCooldown(ctx context.Context, phone string) (bool, error) {
	val, err := r.client.Exists(ctx, r.generateKey(phone)).Result()
	if err != nil {
		return false, err
	}
	return val == 1, nil
}
