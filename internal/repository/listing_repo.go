package repository

import (
	"context"

	"github.com/sorinflow/divar-crawler/internal/entity"
)

// UpsertResult tells the caller whether an upsert inserted a new row or
// refreshed an existing one.
type UpsertResult string

const (
	UpsertCreated UpsertResult = "created"
	UpsertUpdated UpsertResult = "updated"
)

// ListingRepository defines the interface for storing extracted listings,
// keyed by the source site's immutable listing identifier.
type ListingRepository interface {
	// Upsert stores the listing. Re-upserting the same identifier must
	// leave exactly one row reflecting the latest values.
	Upsert(ctx context.Context, listing *entity.Listing) (UpsertResult, error)
	// FindByDivarID retrieves a stored listing, nil if unknown.
	FindByDivarID(ctx context.Context, divarID string) (*entity.Listing, error)
}
