package store

import (
	"hash/fnv"
	"sync"
)

const lockStripes = 64

// keyLocks serializes operations per artifact key without a global lock.
// Distinct keys may share a stripe; callers never hold two stripes at once.
type keyLocks struct {
	stripes [lockStripes]sync.Mutex
}

func (k *keyLocks) lock(key string) func() {
	h := fnv.New32a()
	h.Write([]byte(key))
	m := &k.stripes[h.Sum32()%lockStripes]
	m.Lock()
	return m.Unlock
}
