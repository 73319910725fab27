package index

import (
	"context"

	"github.com/poiesic/convodex/core"
)

// Payload is the metadata stored alongside each vector. Field names are part
// of the index contract; the time filter matches on create_time.
type Payload struct {
	Text       string  `json:"text"`
	ID         string  `json:"id"`
	Title      string  `json:"title"`
	CreateTime float64 `json:"create_time"`
	UpdateTime float64 `json:"update_time"`
}

// Point is one entry in the vector index.
type Point struct {
	ID      core.ID
	Vector  []float32
	Payload Payload
}

// Match is one similarity search result.
type Match struct {
	ID      core.ID
	Score   float32
	Payload Payload
}

// TimeRange is an inclusive filter on a point's creation timestamp.
// A nil bound leaves that side open.
type TimeRange struct {
	Start *float64
	End   *float64
}

// Contains reports whether createTime falls inside the range.
func (r *TimeRange) Contains(createTime float64) bool {
	if r == nil {
		return true
	}
	if r.Start != nil && createTime < *r.Start {
		return false
	}
	if r.End != nil && createTime > *r.End {
		return false
	}
	return true
}

// CollectionStats describes the collection for operational visibility.
type CollectionStats struct {
	PointCount   uint64
	IndexedCount uint64
	SegmentCount uint64
	Status       string
}

// Client wraps a vector index backend.
// Implementations must be safe for concurrent reads; writes are serialized by
// the store's exclusivity lock, not by the client.
type Client interface {
	// EnsureCollection is idempotent: it creates the collection with the
	// configured dimension and cosine distance only when absent, and fails
	// when an existing collection has a conflicting dimension.
	EnsureCollection(ctx context.Context) error

	// Upsert writes points, overwriting ids that already exist. The call is
	// all-or-nothing from the caller's perspective: callers must not assume
	// partial-upsert recovery.
	Upsert(ctx context.Context, points []Point) error

	// Search returns up to limit matches ordered by descending score.
	// When scoreThreshold > 0, every returned score is >= scoreThreshold.
	// A non-nil timeRange restricts matches by creation timestamp.
	Search(ctx context.Context, vector []float32, limit int, scoreThreshold float32, timeRange *TimeRange) ([]Match, error)

	// Stats returns collection statistics.
	Stats(ctx context.Context) (*CollectionStats, error)

	// Close releases backend resources.
	Close() error
}
