package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/sorinflow/divar-crawler/internal/entity"
)

// FetchErrorKind classifies a failed page fetch so callers can decide
// between proxy retry, session invalidation and skipping.
type FetchErrorKind string

const (
	FetchTimeout      FetchErrorKind = "timeout"
	FetchBlocked      FetchErrorKind = "blocked"
	FetchAuthRejected FetchErrorKind = "auth_rejected"
	FetchNotFound     FetchErrorKind = "not_found"
	FetchUnknown      FetchErrorKind = "unknown"
)

// FetchError wraps a transport failure with its classification.
type FetchError struct {
	Kind FetchErrorKind
	URL  string
	Err  error
}

func (e *FetchError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("fetch %s: %s: %v", e.URL, e.Kind, e.Err)
	}
	return fmt.Sprintf("fetch %s: %s", e.URL, e.Kind)
}

func (e *FetchError) Unwrap() error { return e.Err }

// KindOf extracts the classification from an error chain, FetchUnknown if
// the error is not a FetchError.
func KindOf(err error) FetchErrorKind {
	var fe *FetchError
	if errors.As(err, &fe) {
		return fe.Kind
	}
	return FetchUnknown
}

// Page is a rendered page returned by the transport.
type Page struct {
	URL       string
	HTML      string
	FetchedAt time.Time
	ElapsedMS int64
}

// PageFetcher abstracts the browser transport. A nil proxy means a direct
// connection; a nil session means an anonymous fetch.
type PageFetcher interface {
	FetchPage(ctx context.Context, url string, proxy *entity.ProxyRecord, session *entity.SessionBundle) (*Page, error)
}
