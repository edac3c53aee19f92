package bitemporal

import (
	"context"
	"sort"
	"time"

	"github.com/go-kit/log"
	"github.com/go-kit/log/level"
)

// Engine composes the consistency checker, temporal index, storage backend,
// and query executor behind the external interface described in §6. It owns
// transaction_time stamping: callers never supply tx_time_start directly
// (§9 Open Question 1, "the engine, not the caller, owns transaction time").
type Engine struct {
	cfg      *Config
	storage  Storage
	index    *TemporalIndex
	checker  *ConsistencyChecker
	executor *Executor
	logger   log.Logger
}

// NewEngine composes an Engine around a Storage backend. A nil logger
// defaults to a no-op logger.
func NewEngine(storage Storage, cfg *Config, logger log.Logger) *Engine {
	if cfg == nil {
		cfg = NewConfig()
	}
	if logger == nil {
		logger = log.NewNopLogger()
	}
	maxConcurrency := cfg.MaxConcurrentQueries
	if !cfg.EnableParallel {
		maxConcurrency = 1
	}
	return &Engine{
		cfg:      cfg,
		storage:  storage,
		index:    NewTemporalIndex(),
		checker:  NewConsistencyChecker(cfg.Clock),
		executor: NewExecutorWithConcurrency(storage, cfg, maxConcurrency),
		logger:   logger,
	}
}

// Store appends a new version of an entity valid over validRange. The
// engine stamps transaction_time_start with its own clock and, before any
// write, checks I1 (well-formed bounds), I2 (no overlap with a current
// version of the entity, rejected with TemporalOverlap) and I4 (cross-write
// transaction-time monotonicity); each of these failures is fatal for the
// proposed write. Store never supersedes an existing version: an
// overlapping current version makes Store fail until it has been
// superseded with Supersede. I3 gap enforcement is not checked here, even
// for entity types that opt into it; only ValidateConsistency reports gaps.
func (e *Engine) Store(ctx context.Context, id EntityID, payload Payload, validRange TemporalRange) (*VersionedRecord, error) {
	if err := validRange.Validate(); err != nil {
		return nil, err
	}
	start := validRange.Start
	if start == nil {
		return nil, newError(KindInvalidTemporalRange, id, zeroTime(), "valid time start is required")
	}

	if err := e.checker.ValidateRange(id, *start, orFarFuture(validRange.End)); err != nil {
		return nil, err
	}

	now := e.cfg.Clock.Now()
	if err := e.checker.ValidateTxTime(id, now); err != nil {
		return nil, err
	}
	record := &VersionedRecord{
		EntityID:       id,
		VersionID:      NewVersionID(),
		TxTimeStart:    now,
		ValidTimeStart: *start,
		ValidTimeEnd:   validRange.End,
		Payload:        payload,
	}
	if err := record.Validate(); err != nil {
		return nil, err
	}

	entry := entryFromRecord(record)
	if err := e.index.Add(entry); err != nil {
		return nil, err
	}

	if err := withRetry(ctx, e.cfg, func() error { return e.storage.Append(ctx, record) }); err != nil {
		return nil, err
	}

	level.Debug(e.logger).Log("msg", "stored version", "entity_id", id.String(), "version_id", record.VersionID)
	return record, nil
}

// Supersede marks versionID historical as of now, per I4 (transaction-time
// monotonicity: the new TxTimeEnd must exceed the record's TxTimeStart).
func (e *Engine) Supersede(ctx context.Context, id EntityID, versionID string) error {
	now := e.cfg.Clock.Now()
	if err := e.checker.ValidateTxTime(id, now); err != nil {
		return err
	}
	if err := e.index.Supersede(id, versionID, now); err != nil {
		return err
	}
	if err := withRetry(ctx, e.cfg, func() error { return e.storage.Supersede(ctx, id, versionID, now) }); err != nil {
		return err
	}
	e.checker.ClearValidated(id)
	level.Debug(e.logger).Log("msg", "superseded version", "entity_id", id.String(), "version_id", versionID)
	return nil
}

// QueryAt returns the entity's state as of a single point in valid time,
// using only current (non-superseded) versions.
func (e *Engine) QueryAt(ctx context.Context, id EntityID, t time.Time) ([]*QueryResult, error) {
	entries := e.index.At(id, t)
	return e.resolveResults(ctx, id, entries)
}

// QueryBetween returns every current version whose valid range intersects
// [start, end].
func (e *Engine) QueryBetween(ctx context.Context, id EntityID, start, end time.Time) ([]*QueryResult, error) {
	entries, err := e.index.Between(id, start, end)
	if err != nil {
		return nil, err
	}
	return e.resolveResults(ctx, id, entries)
}

// QueryEvolution returns the entity's full valid-time history within r,
// ordered ascending by valid_time_start.
func (e *Engine) QueryEvolution(ctx context.Context, id EntityID, r TemporalRange) ([]*QueryResult, error) {
	entries := e.index.Evolution(id, r)
	return e.resolveResults(ctx, id, entries)
}

// QueryLatest returns the entity's current version with the greatest
// (possibly unbounded) valid_time_end.
func (e *Engine) QueryLatest(ctx context.Context, id EntityID) (*QueryResult, error) {
	entry, found := e.index.Latest(id)
	if !found {
		return nil, newError(KindEntityNotFound, id, zeroTime(), "no current version for entity")
	}
	results, err := e.resolveResults(ctx, id, []IndexEntry{entry})
	if err != nil {
		return nil, err
	}
	return results[0], nil
}

// resolveResults fetches the full records backing index entries from
// Storage and projects them to QueryResults.
func (e *Engine) resolveResults(ctx context.Context, id EntityID, entries []IndexEntry) ([]*QueryResult, error) {
	if len(entries) == 0 {
		return nil, nil
	}
	var records []*VersionedRecord
	err := withRetry(ctx, e.cfg, func() error {
		r, err := e.storage.Get(ctx, id)
		if err != nil {
			return err
		}
		records = r
		return nil
	})
	if err != nil {
		return nil, err
	}
	byVersion := make(map[string]*VersionedRecord, len(records))
	for _, r := range records {
		byVersion[r.VersionID] = r
	}

	out := make([]*QueryResult, 0, len(entries))
	for _, entry := range entries {
		r, ok := byVersion[entry.VersionID]
		if !ok {
			return nil, newError(KindVersionNotFound, id, entry.ValidTimeStart, "indexed version missing from storage: "+entry.VersionID)
		}
		out = append(out, resultFromRecord(r))
	}
	return out, nil
}

// Execute runs a declarative Query end to end: compile, then fan out
// relationship filters through the Executor.
func (e *Engine) Execute(ctx context.Context, q *Query) ([]*QueryResult, []byte, error) {
	oq, err := Compile(q)
	if err != nil {
		return nil, nil, err
	}
	page, err := e.executor.Execute(ctx, oq, q.RelationshipFilters)
	if err != nil {
		return nil, nil, err
	}
	results := projectPage(page)
	applySort(results, oq.PostSort)
	return results, page.NextToken, nil
}

// ExecuteBatch runs several declarative queries concurrently, bounded by the
// same concurrency limit as a single Execute's fan-out.
func (e *Engine) ExecuteBatch(ctx context.Context, queries []*Query) ([][]*QueryResult, error) {
	compiled := make([]*OptimizedQuery, len(queries))
	for i, q := range queries {
		oq, err := Compile(q)
		if err != nil {
			return nil, err
		}
		compiled[i] = oq
	}

	pages, err := e.executor.ExecuteBatch(ctx, compiled)
	if err != nil {
		return nil, err
	}

	out := make([][]*QueryResult, len(pages))
	for i, page := range pages {
		results := projectPage(page)
		applySort(results, compiled[i].PostSort)
		out[i] = results
	}
	return out, nil
}

// ValidateConsistency audits every current entry in the temporal index for
// overlaps (I2), gaps (I3, honoring the engine's configured per-entity gap
// enforcement, §9 Open Question 2) and ill-formed bounds (I1). I4 is not
// re-checked here; it is enforced at write time by ValidateTxTime.
func (e *Engine) ValidateConsistency(_ context.Context) CheckResult {
	entries := e.index.AllCurrent()
	return e.checker.Check(entries, e.cfg.gapEnforced)
}

func projectPage(page *Page) []*QueryResult {
	out := make([]*QueryResult, 0, len(page.Records))
	for _, r := range page.Records {
		out = append(out, resultFromRecord(r))
	}
	return out
}

// applySort applies the PostSort fields the compiler could not lower into a
// secondary index, degrading to an in-memory sort (§4.5). Fields apply in
// insertion order: each later field breaks ties left by the earlier ones.
func applySort(results []*QueryResult, fields []SortField) {
	if len(fields) == 0 {
		return
	}
	sort.SliceStable(results, func(i, j int) bool {
		for _, field := range fields {
			vi, vj := sortKey(results[i], field.Name), sortKey(results[j], field.Name)
			if vi.Equal(vj) {
				continue
			}
			if field.Direction == SortDescending {
				return vi.After(vj)
			}
			return vi.Before(vj)
		}
		return false
	})
}

func sortKey(r *QueryResult, field string) time.Time {
	switch field {
	case "valid_time_end":
		if r.ValidTimeEnd != nil {
			return *r.ValidTimeEnd
		}
		return time.Date(9999, 1, 1, 0, 0, 0, 0, time.UTC)
	default:
		return r.ValidTimeStart
	}
}

func orFarFuture(end *time.Time) time.Time {
	if end != nil {
		return *end
	}
	return time.Date(9999, 1, 1, 0, 0, 0, 0, time.UTC)
}
