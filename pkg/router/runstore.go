package router

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/callkaidsroofing/gem/pkg/contracts"
)

// RunStore persists router run records for audit. RunBrain writes one
// record per run after it finishes; the router itself never reads them
// back, and enqueue_and_wait polls receipts rather than this store. The
// in-memory ring buffer is always present; a Redis mirror is optional.
type RunStore interface {
	Put(ctx context.Context, rec contracts.RunRecord)
	Get(ctx context.Context, runID string) (contracts.RunRecord, bool)
}

// MemoryRunStore is a fixed-capacity ring buffer of the most recent runs,
// the default RunStore when REDIS_URL isn't configured.
type MemoryRunStore struct {
	mu       sync.Mutex
	capacity int
	order    []string
	byID     map[string]contracts.RunRecord
}

// NewMemoryRunStore builds a ring buffer holding at most capacity runs.
func NewMemoryRunStore(capacity int) *MemoryRunStore {
	if capacity <= 0 {
		capacity = 1000
	}
	return &MemoryRunStore{
		capacity: capacity,
		byID:     make(map[string]contracts.RunRecord, capacity),
	}
}

func (s *MemoryRunStore) Put(_ context.Context, rec contracts.RunRecord) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.byID[rec.RunID]; !exists {
		s.order = append(s.order, rec.RunID)
		if len(s.order) > s.capacity {
			oldest := s.order[0]
			s.order = s.order[1:]
			delete(s.byID, oldest)
		}
	}
	s.byID[rec.RunID] = rec
}

func (s *MemoryRunStore) Get(_ context.Context, runID string) (contracts.RunRecord, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.byID[runID]
	return rec, ok
}

// RedisRunStore mirrors run records into Redis (`SETEX run:<id>`) so a
// Get after a router restart — or on a second replica — can still find a
// run's record. It wraps a MemoryRunStore rather than
// replacing it: reads prefer the in-process cache and only fall back to
// Redis on a miss, since the common case (the process that wrote the run
// is the one polling it) never needs the round-trip.
type RedisRunStore struct {
	mem *MemoryRunStore
	rdb *redis.Client
	ttl time.Duration
}

// NewRedisRunStore builds a RunStore backed by rdb with entries expiring
// after ttl, falling back to an in-process ring buffer of the same
// capacity for fast local reads.
func NewRedisRunStore(rdb *redis.Client, ttl time.Duration, capacity int) *RedisRunStore {
	if ttl <= 0 {
		ttl = time.Hour
	}
	return &RedisRunStore{mem: NewMemoryRunStore(capacity), rdb: rdb, ttl: ttl}
}

func (s *RedisRunStore) Put(ctx context.Context, rec contracts.RunRecord) {
	s.mem.Put(ctx, rec)
	body, err := json.Marshal(rec)
	if err != nil {
		return
	}
	_ = s.rdb.Set(ctx, "run:"+rec.RunID, body, s.ttl).Err()
}

func (s *RedisRunStore) Get(ctx context.Context, runID string) (contracts.RunRecord, bool) {
	if rec, ok := s.mem.Get(ctx, runID); ok {
		return rec, true
	}
	body, err := s.rdb.Get(ctx, "run:"+runID).Bytes()
	if err != nil {
		return contracts.RunRecord{}, false
	}
	var rec contracts.RunRecord
	if err := json.Unmarshal(body, &rec); err != nil {
		return contracts.RunRecord{}, false
	}
	return rec, true
}
