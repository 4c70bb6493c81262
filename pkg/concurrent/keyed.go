package concurrent

import "sync"

// KeyedMutex 按key串行化的互斥锁，不同key之间互不阻塞.
// Entries are reference counted and removed once the last holder unlocks,
// so the map does not grow with the key space.
type KeyedMutex struct {
	mu      sync.Mutex
	entries map[string]*keyedEntry
}

type keyedEntry struct {
	lock sync.Mutex
	refs int
}

func NewKeyedMutex() *KeyedMutex {
	return &KeyedMutex{
		entries: make(map[string]*keyedEntry),
	}
}

func (in *KeyedMutex) Lock(key string) {
	in.mu.Lock()
	entry := in.entries[key]
	if entry == nil {
		entry = &keyedEntry{}
		in.entries[key] = entry
	}
	entry.refs++
	in.mu.Unlock()

	entry.lock.Lock()
}

func (in *KeyedMutex) Unlock(key string) {
	in.mu.Lock()
	entry := in.entries[key]
	if entry == nil {
		in.mu.Unlock()
		panic("concurrent: unlock of unheld keyed mutex " + key)
	}
	entry.refs--
	if entry.refs == 0 {
		delete(in.entries, key)
	}
	in.mu.Unlock()

	entry.lock.Unlock()
}
