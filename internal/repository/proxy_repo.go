package repository

import (
	"context"

	"github.com/sorinflow/divar-crawler/internal/entity"
)

// ProxyRepository defines the interface for the persistent proxy inventory.
// Health state lives in the pool; the repository only loads and flushes it.
type ProxyRepository interface {
	// LoadActive returns all records with is_active set.
	LoadActive(ctx context.Context) ([]*entity.ProxyRecord, error)
	// Save inserts a new record and fills in its ID.
	Save(ctx context.Context, proxy *entity.ProxyRecord) error
	// Update persists counters and the derived working flag.
	Update(ctx context.Context, proxy *entity.ProxyRecord) error
	// SetActive toggles the admin-controlled flag. Deactivation is the
	// only form of delete while a record may be referenced in flight.
	SetActive(ctx context.Context, id int64, active bool) error
	// List returns every record regardless of flags.
	List(ctx context.Context) ([]*entity.ProxyRecord, error)
}
