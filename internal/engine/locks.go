package engine

import "sync"

// keyedMutex serializes work per id (participant or question) without
// blocking unrelated ids. Entries are dropped once nobody holds or waits.
type keyedMutex struct {
	mu    sync.Mutex
	locks map[int64]*refLock
}

type refLock struct {
	sync.Mutex
	refs int
}

// Lock blocks until key is free and returns its unlock function.
func (k *keyedMutex) Lock(key int64) (unlock func()) {
	k.mu.Lock()
	if k.locks == nil {
		k.locks = make(map[int64]*refLock)
	}
	l, ok := k.locks[key]
	if !ok {
		l = &refLock{}
		k.locks[key] = l
	}
	l.refs++
	k.mu.Unlock()

	l.Lock()
	return func() {
		l.Unlock()
		k.mu.Lock()
		l.refs--
		if l.refs == 0 {
			delete(k.locks, key)
		}
		k.mu.Unlock()
	}
}

func (k *keyedMutex) size() int {
	k.mu.Lock()
	defer k.mu.Unlock()
	return len(k.locks)
}
