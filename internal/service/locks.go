package service

import (
	"hash/fnv"
	"sync"
)

const stripeCount = 64

// KeyedMutex serializes work on one session while leaving different sessions
// fully parallel. One instance is shared by the event processor, the session
// service and the dispatcher so commands and events contend on the same lock.
//
// Session keys get a dedicated map entry for the process lifetime; that
// population is small and long-lived. Unbounded key spaces (external message
// ids) go through the fixed stripe set instead so the map never grows with
// traffic.
type KeyedMutex struct {
	mu      sync.Mutex
	locks   map[string]*sync.Mutex
	stripes [stripeCount]sync.Mutex
}

func NewKeyedMutex() *KeyedMutex {
	return &KeyedMutex{
		locks: make(map[string]*sync.Mutex),
	}
}

// lock acquires the mutex for key and returns it for the caller to unlock.
func (k *KeyedMutex) lock(key string) *sync.Mutex {
	k.mu.Lock()
	m, ok := k.locks[key]
	if !ok {
		m = &sync.Mutex{}
		k.locks[key] = m
	}
	k.mu.Unlock()

	m.Lock()
	return m
}

// lockStriped acquires one of a fixed set of mutexes chosen by hashing key.
// Two distinct keys may share a stripe and serialize needlessly, which is
// safe; what matters is that equal keys always map to the same mutex.
func (k *KeyedMutex) lockStriped(key string) *sync.Mutex {
	h := fnv.New32a()
	_, _ = h.Write([]byte(key))
	m := &k.stripes[h.Sum32()%stripeCount]
	m.Lock()
	return m
}
