package ingest

import (
	"hash/fnv"
	"sync"
)

const lockShards = 256

// keyLock is a striped mutex keyed by string. It narrows the window of the
// de-dup check-then-insert race: two concurrent views from the same viewer
// key serialize on the same shard, while unrelated keys almost never contend.
type keyLock struct {
	shards [lockShards]sync.Mutex
}

func (l *keyLock) shard(key string) *sync.Mutex {
	h := fnv.New32a()
	h.Write([]byte(key))
	return &l.shards[h.Sum32()%lockShards]
}

func (l *keyLock) Lock(key string) func() {
	m := l.shard(key)
	m.Lock()
	return m.Unlock
}
