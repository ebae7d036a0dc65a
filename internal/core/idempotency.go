package core

import (
	"container/list"
	"context"
	"fmt"
	"time"

	"PerpParity/internal/observability"
)

// DBIdempotencyChecker looks up already persisted events.
type DBIdempotencyChecker interface {
	IsDuplicate(ctx context.Context, eventType string, idempotencyKey string) (bool, error)
}

// IdempotencyChecker deduplicates observed events in two tiers: an in-memory
// LRU of recent keys, then the persisted event log.
type IdempotencyChecker struct {
	lru       *IdempotencyLRU
	dbChecker DBIdempotencyChecker
	dbTimeout time.Duration
	metrics   *observability.Metrics
}

func NewIdempotencyChecker(capacity int, dbChecker DBIdempotencyChecker, metrics *observability.Metrics) *IdempotencyChecker {
	if capacity <= 0 {
		capacity = 100_000
	}
	return &IdempotencyChecker{
		lru:       NewIdempotencyLRU(capacity),
		dbChecker: dbChecker,
		dbTimeout: 2 * time.Second,
		metrics:   metrics,
	}
}

func compositeKey(eventType, idempotencyKey string) string {
	return fmt.Sprintf("%s:%s", eventType, idempotencyKey)
}

// IsDuplicate reports whether the event was already applied.
// A failing Postgres lookup counts as "not seen".
func (ic *IdempotencyChecker) IsDuplicate(eventType string, idempotencyKey string) bool {
	key := compositeKey(eventType, idempotencyKey)

	if ic.lru.Contains(key) {
		ic.recordDuplicate(eventType, "lru")
		return true
	}

	if ic.dbChecker == nil {
		return false
	}

	ctx, cancel := context.WithTimeout(context.Background(), ic.dbTimeout)
	defer cancel()
	isDup, err := ic.dbChecker.IsDuplicate(ctx, eventType, idempotencyKey)
	if err != nil {
		if ic.metrics != nil {
			ic.metrics.DedupTier2Errors.Inc()
		}
		return false
	}
	if isDup {
		ic.recordDuplicate(eventType, "postgres")
		ic.lru.Add(key)
	}
	return isDup
}

// SeenRecently checks the LRU tier only. Replay uses it: every replayed
// event is already in Postgres.
func (ic *IdempotencyChecker) SeenRecently(eventType string, idempotencyKey string) bool {
	if ic.lru.Contains(compositeKey(eventType, idempotencyKey)) {
		ic.recordDuplicate(eventType, "lru")
		return true
	}
	return false
}

// MarkProcessed adds the key to the LRU after the event was applied.
func (ic *IdempotencyChecker) MarkProcessed(eventType string, idempotencyKey string) {
	ic.lru.Add(compositeKey(eventType, idempotencyKey))
	if ic.metrics != nil {
		ic.metrics.DedupLRUSize.Set(float64(ic.lru.Size()))
	}
}

func (ic *IdempotencyChecker) recordDuplicate(eventType, tier string) {
	if ic.metrics != nil {
		ic.metrics.IdempotencyDuplicates.WithLabelValues(eventType, tier).Inc()
	}
}

// IdempotencyLRU is an LRU set of composite keys.
// Not thread-safe; only the core's processing goroutine touches it.
type IdempotencyLRU struct {
	capacity int
	cache    map[string]*list.Element
	lruList  *list.List

	evictions int64
}

func NewIdempotencyLRU(capacity int) *IdempotencyLRU {
	return &IdempotencyLRU{
		capacity: capacity,
		cache:    make(map[string]*list.Element, capacity),
		lruList:  list.New(),
	}
}

// Contains checks membership and promotes the key.
func (lru *IdempotencyLRU) Contains(key string) bool {
	elem, ok := lru.cache[key]
	if ok {
		lru.lruList.MoveToFront(elem)
	}
	return ok
}

func (lru *IdempotencyLRU) Add(key string) {
	if elem, ok := lru.cache[key]; ok {
		lru.lruList.MoveToFront(elem)
		return
	}
	lru.cache[key] = lru.lruList.PushFront(key)
	if lru.lruList.Len() > lru.capacity {
		lru.evictOldest()
	}
}

func (lru *IdempotencyLRU) evictOldest() {
	elem := lru.lruList.Back()
	if elem == nil {
		return
	}
	lru.lruList.Remove(elem)
	delete(lru.cache, elem.Value.(string))
	lru.evictions++
}

func (lru *IdempotencyLRU) Size() int {
	return lru.lruList.Len()
}

func (lru *IdempotencyLRU) Evictions() int64 {
	return lru.evictions
}
