// Package memory implements bitemporal.Storage as a sharded, in-process
// append-only log. It is the reference backend used by the engine's
// conformance suite and by short-lived demos; persisted backends (dynamodb,
// sql) implement the same contract against durable storage.
package memory

import (
	"context"
	"hash/fnv"
	"sort"
	"sync"
	"time"

	bt "github.com/tempograph/bitemporal"
)

var _ bt.Storage = (*Storage)(nil)

const defaultShards = 32

// Storage is an in-memory, sharded implementation of bitemporal.Storage.
// Each entity id's version log lives entirely within one shard, so writes to
// unrelated entities never contend with each other (same sharding scheme as
// bitemporal.TemporalIndex).
type Storage struct {
	shards []*shard
}

type shard struct {
	mu      sync.RWMutex
	records map[bt.EntityID][]*bt.VersionedRecord
}

// New constructs an empty in-memory Storage with the default shard count.
func New() *Storage {
	return NewShards(defaultShards)
}

// NewShards constructs an in-memory Storage with an explicit shard count,
// for tests that want to force collisions or exercise a single shard's lock.
func NewShards(n int) *Storage {
	if n < 1 {
		n = 1
	}
	shards := make([]*shard, n)
	for i := range shards {
		shards[i] = &shard{records: map[bt.EntityID][]*bt.VersionedRecord{}}
	}
	return &Storage{shards: shards}
}

func (s *Storage) shardFor(id bt.EntityID) *shard {
	h := fnv.New64a()
	_, _ = h.Write([]byte(id.Type.String()))
	_, _ = h.Write([]byte{0})
	_, _ = h.Write([]byte(id.ID))
	return s.shards[h.Sum64()%uint64(len(s.shards))]
}

// Append writes a new, immutable VersionedRecord to the entity's log.
func (s *Storage) Append(_ context.Context, record *bt.VersionedRecord) error {
	sh := s.shardFor(record.EntityID)
	sh.mu.Lock()
	defer sh.mu.Unlock()

	cp := *record
	sh.records[record.EntityID] = append(sh.records[record.EntityID], &cp)
	return nil
}

// Supersede stamps the record identified by (id, versionID) as historical.
func (s *Storage) Supersede(_ context.Context, id bt.EntityID, versionID string, txEnd time.Time) error {
	sh := s.shardFor(id)
	sh.mu.Lock()
	defer sh.mu.Unlock()

	records, ok := sh.records[id]
	if !ok {
		return bt.ErrNotFound
	}
	for _, r := range records {
		if r.VersionID == versionID && r.IsCurrent() {
			end := txEnd
			r.TxTimeEnd = &end
			return nil
		}
	}
	return bt.ErrNotFound
}

// Get returns every version ever recorded for id, current and historical.
func (s *Storage) Get(_ context.Context, id bt.EntityID) ([]*bt.VersionedRecord, error) {
	sh := s.shardFor(id)
	sh.mu.RLock()
	defer sh.mu.RUnlock()

	records := sh.records[id]
	out := make([]*bt.VersionedRecord, len(records))
	copy(out, records)
	return out, nil
}

// Scan applies an OptimizedQuery's entity id/type equality in-process
// across every shard. The in-memory backend has no secondary indexes, so
// every OptimizedQuery degrades to a full scan narrowed only by entity
// id/type (the sql backend narrows the same way; the dynamodb backend hands
// the temporal key condition to DynamoDB). The point-in-time/range bound and any
// property filters are left for the Executor to re-apply against the
// decoded records it gets back (bitemporal.filterByTemporalKeyCondition,
// filterByProperties), the same residual check every backend gets
// regardless of how much it could push down itself.
func (s *Storage) Scan(_ context.Context, oq *bt.OptimizedQuery) (*bt.Page, error) {
	var matched []*bt.VersionedRecord
	for _, sh := range s.shards {
		sh.mu.RLock()
		for _, records := range sh.records {
			for _, r := range records {
				if !r.IsCurrent() {
					continue
				}
				if evalFilter(r, oq.ExpressionValues) {
					matched = append(matched, r)
				}
			}
		}
		sh.mu.RUnlock()
	}

	sort.Slice(matched, func(i, j int) bool {
		if oq.ScanAscending {
			return matched[i].ValidTimeStart.Before(matched[j].ValidTimeStart)
		}
		return matched[i].ValidTimeStart.After(matched[j].ValidTimeStart)
	})

	if oq.Limit > 0 && len(matched) > oq.Limit {
		matched = matched[:oq.Limit]
	}

	return &bt.Page{Records: matched}, nil
}

// evalFilter applies the subset of expression values the in-memory backend
// understands: entity id and entity type equality. Property filters and
// relationship type/target type are evaluated by the Engine's executor
// against decoded payloads, not here; this check narrows the candidate set
// the executor fans out over.
func evalFilter(r *bt.VersionedRecord, values map[string]interface{}) bool {
	if v, ok := values[":eid"]; ok {
		if s, ok := v.(string); ok && r.EntityID.String() != s {
			return false
		}
	}
	if v, ok := values[":etype"]; ok {
		if s, ok := v.(string); ok && r.EntityID.Type.String() != s {
			return false
		}
	}
	return true
}
