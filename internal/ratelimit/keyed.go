package ratelimit

import (
	"container/list"
	"sync"
)

const defaultMaxKeys = 1024

// Keyed holds one TokenBucket per key. At most MaxKeys buckets are retained;
// the least recently used bucket is evicted to make room.
type Keyed struct {
	clock    Clock
	capacity int64
	rate     int64
	maxKeys  int

	mu      sync.Mutex
	buckets map[string]*list.Element
	lru     *list.List
}

type keyedEntry struct {
	key    string
	bucket *TokenBucket
}

func NewKeyed(clock Clock, capacity, rate int64, maxKeys int) *Keyed {
	if maxKeys <= 0 {
		maxKeys = defaultMaxKeys
	}
	return &Keyed{
		clock:    clock,
		capacity: capacity,
		rate:     rate,
		maxKeys:  maxKeys,
		buckets:  make(map[string]*list.Element),
		lru:      list.New(),
	}
}

// Allow consumes one token from key's bucket.
func (k *Keyed) Allow(key string) bool {
	return k.bucket(key).Allow(1)
}

// Len reports how many buckets are currently tracked.
func (k *Keyed) Len() int {
	k.mu.Lock()
	defer k.mu.Unlock()
	return len(k.buckets)
}

func (k *Keyed) bucket(key string) *TokenBucket {
	k.mu.Lock()
	defer k.mu.Unlock()

	if elem, ok := k.buckets[key]; ok {
		k.lru.MoveToFront(elem)
		return elem.Value.(*keyedEntry).bucket
	}
	if len(k.buckets) >= k.maxKeys {
		if oldest := k.lru.Back(); oldest != nil {
			k.lru.Remove(oldest)
			delete(k.buckets, oldest.Value.(*keyedEntry).key)
		}
	}
	entry := &keyedEntry{key: key, bucket: NewTokenBucket(k.clock, k.capacity, k.rate)}
	k.buckets[key] = k.lru.PushFront(entry)
	return entry.bucket
}
