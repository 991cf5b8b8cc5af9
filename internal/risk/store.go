package risk

import (
	"sync"
	"sync/atomic"
	"time"
)

// NumShards is the fixed shard count. Power of two so shard selection is a
// single mask.
const NumShards = 1024

// DefaultShardSoftCap is the advisory per-shard entry limit. Overflowing a
// shard still admits the entry — eviction policy is an open question
// upstream — but the overflow is counted so growth is visible.
const DefaultShardSoftCap = 500

// decayWindowNanos is the inactivity window after which an entity's
// velocity accumulator resets.
const decayWindowNanos = int64(time.Second)

// FNV-1a 64-bit parameters.
const (
	fnvOffsetBasis = 0xCBF29CE484222325
	fnvPrime       = 0x100000001B3
)

// EntityState is the rolling risk state for one entity. Padded to a full
// cache line; mutated only while holding its shard lock.
type EntityState struct {
	LastSeenNanos int64
	Velocity      float64
	Structuring   float64
	_             [40]byte
}

// shard pairs a mutex with its slice of the entity map. The struct is
// padded to a cache line so adjacent shard mutexes never share one.
type shard struct {
	mu      sync.Mutex
	entries map[string]*EntityState
	_       [48]byte
}

// Store is the sharded per-entity risk state store.
type Store struct {
	shards [NumShards]shard

	softCap     int
	softCapHits atomic.Uint64
	entities    atomic.Int64
}

// NewStore creates a store. softCap is the advisory per-shard entry limit;
// zero disables the check entirely.
func NewStore(softCap int) *Store {
	s := &Store{softCap: softCap}
	for i := range s.shards {
		s.shards[i].entries = make(map[string]*EntityState)
	}
	return s
}

// Hash is FNV-1a over the key with the 64-bit offset basis and prime.
func Hash(key []byte) uint64 {
	h := uint64(fnvOffsetBasis)
	for _, c := range key {
		h ^= uint64(c)
		h *= fnvPrime
	}
	return h
}

// ShardIndex returns the shard a key maps to.
func ShardIndex(key []byte) uint64 { return Hash(key) & (NumShards - 1) }

// Touch records one observation of the entity at the given monotonic
// timestamp and returns the updated velocity accumulator. A first
// observation inserts a zeroed cold state; inactivity longer than the
// decay window resets the accumulator before the increment.
func (s *Store) Touch(key []byte, nowNanos int64) float64 {
	sh := &s.shards[ShardIndex(key)]

	sh.mu.Lock()
	e := sh.entries[string(key)]
	if e == nil {
		if s.softCap > 0 && len(sh.entries) >= s.softCap {
			s.softCapHits.Add(1)
		}
		e = &EntityState{}
		sh.entries[string(key)] = e
		s.entities.Add(1)
	}

	if nowNanos-e.LastSeenNanos > decayWindowNanos {
		e.Velocity = 0
	}
	e.LastSeenNanos = nowNanos
	e.Velocity++
	v := e.Velocity
	sh.mu.Unlock()

	return v
}

// Stats is a point-in-time snapshot of store occupancy.
type Stats struct {
	Entities    int64
	SoftCapHits uint64
}

// Stats returns current occupancy counters.
func (s *Store) Stats() Stats {
	return Stats{
		Entities:    s.entities.Load(),
		SoftCapHits: s.softCapHits.Load(),
	}
}
