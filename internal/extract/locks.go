package extract

import "sync"

// Locks serializes pipeline runs per ticket key. Two concurrent runs for the
// same key would race on the shared working directory and archive, so the
// second caller fails fast instead of queueing.
type Locks struct {
	mu   sync.Mutex
	held map[string]struct{}
}

// NewLocks returns an empty lock set. One instance is shared by every
// orchestrator the process constructs.
func NewLocks() *Locks {
	return &Locks{held: make(map[string]struct{})}
}

// TryAcquire claims key, reporting false when a run already holds it.
func (l *Locks) TryAcquire(key string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	if _, busy := l.held[key]; busy {
		return false
	}
	l.held[key] = struct{}{}
	return true
}

// Release frees key for the next run.
func (l *Locks) Release(key string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.held, key)
}
