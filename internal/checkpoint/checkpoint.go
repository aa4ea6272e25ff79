package checkpoint

import (
	"context"
	"sync"
	"time"
)

// Checkpoint records the last successfully delivered version of a blob
type Checkpoint struct {
	ETag        string
	Size        int64
	ProcessedAt time.Time
}

// Store is a durable key/value mapping used for blob-version dedup. Keys are
// partitioned by container so workers operating on disjoint containers never
// contend. Put is idempotent: repeating it with the same values is a no-op.
//
// Known limitation: eligibility is decided on etag+size, so append-only
// growth that a backend reports without an etag change is not detected.
type Store interface {
	// Get returns the stored checkpoint, or nil when none exists.
	Get(ctx context.Context, containerKey, blobPath string) (*Checkpoint, error)

	// Put creates or replaces the checkpoint for the blob.
	Put(ctx context.Context, containerKey, blobPath string, cp Checkpoint) error
}

// Eligible reports whether a blob must be (re)processed: no checkpoint
// exists, or the stored etag/size differs from the current listing snapshot.
func Eligible(cp *Checkpoint, etag string, size int64) bool {
	return cp == nil || cp.ETag != etag || cp.Size != size
}

// MemoryStore is an in-process Store used by tests and dry runs
type MemoryStore struct {
	mu      sync.Mutex
	entries map[string]Checkpoint
}

// NewMemoryStore creates an empty in-memory checkpoint store
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{entries: make(map[string]Checkpoint)}
}

func (s *MemoryStore) Get(ctx context.Context, containerKey, blobPath string) (*Checkpoint, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	cp, ok := s.entries[containerKey+"\x00"+blobPath]
	if !ok {
		return nil, nil
	}
	return &cp, nil
}

func (s *MemoryStore) Put(ctx context.Context, containerKey, blobPath string, cp Checkpoint) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.entries[containerKey+"\x00"+blobPath] = cp
	return nil
}
