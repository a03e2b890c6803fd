package attendance

import (
	"sync"
)

// OperationLock serializes check-in and check-out for one session. It is
// non-blocking: a second operation fails fast instead of queueing.
//
// The generation counter moves on every acquire and release, so a refresh
// that read it before fetching can tell whether an operation overlapped
// the fetch.
type OperationLock struct {
	mu         sync.Mutex
	held       bool
	op         string
	generation uint64
}

// TryAcquire takes the lock for op. The returned release func is
// idempotent.
func (l *OperationLock) TryAcquire(op string) (release func(), ok bool) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.held {
		return func() {}, false
	}
	return l.acquireLocked(op), true
}

// TryAcquireAt takes the lock only if nothing acquired or released it
// since generation was read. A refresh uses it to apply its result
// atomically with respect to operations.
func (l *OperationLock) TryAcquireAt(op string, generation uint64) (release func(), ok bool) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.held || l.generation != generation {
		return func() {}, false
	}
	return l.acquireLocked(op), true
}

func (l *OperationLock) acquireLocked(op string) func() {
	l.held = true
	l.op = op
	l.generation++

	var once sync.Once
	return func() {
		once.Do(func() {
			l.mu.Lock()
			defer l.mu.Unlock()
			l.held = false
			l.op = ""
			l.generation++
		})
	}
}

// Held reports whether an operation is in flight, and which.
func (l *OperationLock) Held() (string, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.op, l.held
}

// Generation returns the current lock generation.
func (l *OperationLock) Generation() uint64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.generation
}
