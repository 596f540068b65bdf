// Package util holds small shared helpers.
package util

import "sync"

// KeyMutex serializes work per key without a global lock, so operations on
// unrelated keys (agents, proposals, approvals) never contend.
type KeyMutex struct {
	mu    sync.Mutex
	locks map[string]*keyLock
}

type keyLock struct {
	mu   sync.Mutex
	refs int
}

// NewKeyMutex creates an empty keyed mutex pool.
func NewKeyMutex() *KeyMutex {
	return &KeyMutex{locks: make(map[string]*keyLock)}
}

// Lock acquires the mutex for key, creating it on first use.
func (k *KeyMutex) Lock(key string) {
	k.mu.Lock()
	l, ok := k.locks[key]
	if !ok {
		l = &keyLock{}
		k.locks[key] = l
	}
	l.refs++
	k.mu.Unlock()

	l.mu.Lock()
}

// Unlock releases the mutex for key. Locks with no waiters are removed so
// the pool does not grow with the number of keys ever seen.
func (k *KeyMutex) Unlock(key string) {
	k.mu.Lock()
	l, ok := k.locks[key]
	if !ok {
		k.mu.Unlock()
		panic("util: unlock of unheld key " + key)
	}
	l.refs--
	if l.refs == 0 {
		delete(k.locks, key)
	}
	k.mu.Unlock()

	l.mu.Unlock()
}
