package solves

import (
	"context"
	"io"
	"time"
)

// Source fetches the most recent accepted submissions for a user.
type Source interface {
	RecentAccepted(ctx context.Context, username string) (Batch, error)
}

// EntryStore persists daily entries.
type EntryStore interface {
	// Insert always creates a new entry.
	Insert(ctx context.Context, entry Entry) (Entry, error)
	// Merge adds entry.Problems to the entry keyed by (Username, Day),
	// creating it when absent, and returns the post-merge entry. It must be
	// atomic per key across processes.
	Merge(ctx context.Context, entry Entry) (Entry, error)
	// Find lists entries for a user on a normalized day, oldest fetch first.
	Find(ctx context.Context, username string, day time.Time) ([]Entry, error)
	Ping(ctx context.Context) error
}

// Publisher pushes run notifications to Pub/Sub (or similar).
type Publisher interface {
	Publish(ctx context.Context, topic string, payload any) (string, error)
}

// BlobStore writes raw artifacts and returns a URI.
type BlobStore interface {
	PutObject(ctx context.Context, path string, contentType string, r io.Reader) (string, error)
}

// Hasher produces a hex digest of raw upstream payloads.
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
