package proactive

import (
	"strconv"
	"sync"

	"github.com/hrygo/routinesense/store"
)

func patternKey(userID int32, normalizedTitle string, frequency store.PatternFrequency) string {
	return strconv.FormatInt(int64(userID), 10) + "\x00" + normalizedTitle + "\x00" + string(frequency)
}

// keyLocker serializes work on one pattern key within the process.
// Entries are dropped once no goroutine holds or waits on them.
type keyLocker struct {
	mu    sync.Mutex
	locks map[string]*keyLock
}

type keyLock struct {
	mu   sync.Mutex
	refs int
}

func newKeyLocker() *keyLocker {
	return &keyLocker{locks: make(map[string]*keyLock)}
}

// Lock locks key and returns its unlock function.
func (k *keyLocker) Lock(key string) func() {
	k.mu.Lock()
	l, ok := k.locks[key]
	if !ok {
		l = &keyLock{}
		k.locks[key] = l
	}
	l.refs++
	k.mu.Unlock()

	l.mu.Lock()
	return func() {
		l.mu.Unlock()
		k.mu.Lock()
		l.refs--
		if l.refs == 0 {
			delete(k.locks, key)
		}
		k.mu.Unlock()
	}
}

func (k *keyLocker) size() int {
	k.mu.Lock()
	defer k.mu.Unlock()
	return len(k.locks)
}
