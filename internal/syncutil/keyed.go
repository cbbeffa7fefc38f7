// Package syncutil provides small concurrency helpers shared by the registries.
package syncutil

import (
	"hash/fnv"
	"sync"
)

const shardCount = 64

// KeyedMutex serializes operations per key without a global lock. Keys are
// striped onto a fixed set of mutexes, so two distinct keys may occasionally
// share a stripe; correctness only requires that equal keys always do.
type KeyedMutex struct {
	shards [shardCount]sync.Mutex
}

func NewKeyedMutex() *KeyedMutex {
	return &KeyedMutex{}
}

func (k *KeyedMutex) shard(key string) *sync.Mutex {
	h := fnv.New32a()
	h.Write([]byte(key))
	return &k.shards[h.Sum32()%shardCount]
}

func (k *KeyedMutex) Lock(key string) {
	k.shard(key).Lock()
}

func (k *KeyedMutex) Unlock(key string) {
	k.shard(key).Unlock()
}
