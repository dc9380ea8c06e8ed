package repository

import (
	"context"

	"github.com/sorinflow/divar-crawler/internal/entity"
)

// SessionRepository defines the interface for persisting authenticated
// cookie bundles. Expired bundles are retained for history, never deleted
// by the manager.
type SessionRepository interface {
	// Save inserts a new bundle and fills in its ID.
	Save(ctx context.Context, bundle *entity.SessionBundle) error
	// Update persists validity and expiry changes.
	Update(ctx context.Context, bundle *entity.SessionBundle) error
	// LoadValid returns all bundles still flagged valid.
	LoadValid(ctx context.Context) ([]*entity.SessionBundle, error)
}
