package repository

import "context"

// ImageSink stores a discovered image URL and returns a local reference.
// Failures are logged by the caller and are never job-fatal.
type ImageSink interface {
	StoreImage(ctx context.Context, listingID, url string) (string, error)
}
