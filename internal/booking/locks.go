package booking

import (
	"sync"

	"github.com/google/uuid"
)

// resourceLocks serializes mutations per resource id within this process.
// The check-then-insert sequence in CreateReservation and the freeing of a
// slot in CancelReservation acquire the same lock, so they can never
// interleave for one resource. On Postgres the store's row locks extend
// the guarantee across instances; here the map is the single-instance
// guard and the one used by SQLite-backed tests.
type resourceLocks struct {
	mu    sync.Mutex
	locks map[uuid.UUID]*sync.Mutex
}

func newResourceLocks() *resourceLocks {
	return &resourceLocks{locks: make(map[uuid.UUID]*sync.Mutex)}
}

// acquire locks the mutex for the resource and returns its release func.
// The map holds one mutex per resource ever touched; resources number in
// the hundreds, not millions, so entries are never evicted.
func (l *resourceLocks) acquire(id uuid.UUID) func() {
	l.mu.Lock()
	m, ok := l.locks[id]
	if !ok {
		m = &sync.Mutex{}
		l.locks[id] = m
	}
	l.mu.Unlock()

	m.Lock()
	return m.Unlock
}
