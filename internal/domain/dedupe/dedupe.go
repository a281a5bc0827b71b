// Package dedupe drops waggle records that a reconnecting decoder sends
// twice.
package dedupe

import (
	"context"
	"sync"
)

// DefaultMaxSize bounds how many waggle ids are remembered.
const DefaultMaxSize = 10000

// Deduper records seen waggle keys.
type Deduper interface {
	// SeenAndRecord atomically checks if key was seen and records it if not.
	// Returns true if key was already seen.
	SeenAndRecord(ctx context.Context, key string) bool

	// Unrecord forgets key, used when a recorded waggle could not be queued.
	Unrecord(ctx context.Context, key string)

	Size() int
}

// Key builds the dedupe key for a waggle. Waggle ids are only unique per
// camera.
func Key(cameraID, waggleID string) string {
	return cameraID + "\x00" + waggleID
}

// inMemoryDeduper keeps the most recent maxSize keys and evicts the oldest
// first.
type inMemoryDeduper struct {
	mu      sync.Mutex
	seen    map[string]struct{}
	ring    []string
	next    int
	maxSize int
}

// NewInMemoryDeduper creates a bounded in-memory deduper.
func NewInMemoryDeduper(opts ...Option) Deduper {
	d := &inMemoryDeduper{maxSize: DefaultMaxSize}
	for _, opt := range opts {
		opt(d)
	}
	d.seen = make(map[string]struct{}, d.maxSize)
	d.ring = make([]string, 0, d.maxSize)
	return d
}

func (d *inMemoryDeduper) SeenAndRecord(_ context.Context, key string) bool {
	d.mu.Lock()
	defer d.mu.Unlock()

	if _, ok := d.seen[key]; ok {
		return true
	}

	if len(d.ring) < d.maxSize {
		d.ring = append(d.ring, key)
	} else {
		// the slot may hold a key that was unrecorded since
		delete(d.seen, d.ring[d.next])
		d.ring[d.next] = key
		d.next = (d.next + 1) % d.maxSize
	}
	d.seen[key] = struct{}{}
	return false
}

func (d *inMemoryDeduper) Unrecord(_ context.Context, key string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	delete(d.seen, key)
}

func (d *inMemoryDeduper) Size() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.seen)
}
