package journal

import (
	"context"
	"io"
	"time"
)

// Response is the raw result of an authenticated GET.
type Response struct {
	StatusCode int
	Body       []byte
}

// Success reports whether the status code is 2xx.
func (r Response) Success() bool {
	return r.StatusCode >= 200 && r.StatusCode < 300
}

// Fetcher issues authenticated GET requests against the remote API.
type Fetcher interface {
	Get(ctx context.Context, url string, query map[string]string) (Response, error)
}

// DocumentStore upserts entries keyed by id with field-level merge semantics.
type DocumentStore interface {
	Upsert(ctx context.Context, id any, doc Entry) error
	Close(ctx context.Context) error
}

// BlobStore writes raw artifacts and returns a URI.
type BlobStore interface {
	PutObject(ctx context.Context, path string, contentType string, data io.Reader) (string, error)
}

// Publisher pushes entry-synced notifications to Pub/Sub (or similar).
type Publisher interface {
	Publish(ctx context.Context, topic string, payload any) (string, error)
}

// Hasher computes digests of raw response bodies.
type Hasher interface {
	Hash(data []byte) (string, error)
}

// Clock returns the current time (useful for testing).
type Clock interface {
	Now() time.Time
}

// IDGenerator produces run IDs.
type IDGenerator interface {
	NewID() (string, error)
}
