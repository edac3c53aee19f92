package bitemporal

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"
)

// defaultMaxConcurrentQueries bounds the fan-out width of Execute's
// relationship-filter subqueries when a Config does not override it (§5
// "bounded concurrency... default width 10").
const defaultMaxConcurrentQueries = 10

// Executor runs a compiled query against Storage, fanning out one subquery
// per relationship filter under a bounded concurrency limit, then
// intersecting the per-filter result sets against the primary scan (§4.7).
// Every Scan it issues goes through the same retry-with-backoff policy the
// Engine applies to its own direct storage calls (§5).
type Executor struct {
	storage        Storage
	cfg            *Config
	maxConcurrency int
}

// NewExecutor constructs an Executor with the default concurrency bound.
func NewExecutor(storage Storage, cfg *Config) *Executor {
	if cfg == nil {
		cfg = NewConfig()
	}
	return &Executor{storage: storage, cfg: cfg, maxConcurrency: defaultMaxConcurrentQueries}
}

// NewExecutorWithConcurrency constructs an Executor with an explicit fan-out
// width, primarily for tests that want to force serialization or exercise
// the semaphore boundary.
func NewExecutorWithConcurrency(storage Storage, cfg *Config, maxConcurrency int) *Executor {
	if cfg == nil {
		cfg = NewConfig()
	}
	if maxConcurrency < 1 {
		maxConcurrency = 1
	}
	return &Executor{storage: storage, cfg: cfg, maxConcurrency: maxConcurrency}
}

// scan runs a single Scan under the configured retry policy.
func (x *Executor) scan(ctx context.Context, oq *OptimizedQuery) (*Page, error) {
	var page *Page
	err := withRetry(ctx, x.cfg, func() error {
		p, err := x.storage.Scan(ctx, oq)
		if err != nil {
			return err
		}
		page = p
		return nil
	})
	if err != nil {
		return nil, err
	}
	return page, nil
}

// Execute runs a single query to completion: the primary scan, plus one
// bounded-concurrency subquery per relationship filter, intersected by
// entity id. Execute is cooperatively cancellable: ctx is threaded through
// every subquery, and the first subquery to fail cancels the rest (§5
// "cooperative cancellation").
func (x *Executor) Execute(ctx context.Context, oq *OptimizedQuery, relFilters []RelationshipFilter) (*Page, error) {
	primary, err := x.scan(ctx, oq)
	if err != nil {
		return nil, err
	}

	candidates := filterByTemporalKeyCondition(primary.Records, oq.ExpressionValues)
	candidates = filterByProperties(candidates, oq.ResidualFilters)

	if len(relFilters) == 0 {
		return &Page{Records: candidates, NextToken: primary.NextToken}, nil
	}

	matchSets, err := x.relationshipMatches(ctx, candidates, relFilters)
	if err != nil {
		return nil, err
	}

	var kept []*VersionedRecord
	for _, r := range candidates {
		if matchSets[r.EntityID] {
			kept = append(kept, r)
		}
	}
	return &Page{Records: kept, NextToken: primary.NextToken}, nil
}

// filterByTemporalKeyCondition re-applies the At/Between point-in-time bound
// compiler.go lowered into the key condition's ":ts"/":start"/":end"
// placeholders. The dynamodb backend hands the key condition to DynamoDB;
// the in-memory and sql backends do not evaluate it and return every
// current row for the matched entity/type regardless of valid time, so
// for them this check is the only thing standing
// between a compiled At/Between query and a correct answer there. It is a
// pure client-side re-check, applied uniformly across every backend the
// same way filterByProperties is, so no backend's weaker Scan can silently
// violate the bi-temporal read guarantee.
func filterByTemporalKeyCondition(records []*VersionedRecord, values map[string]interface{}) []*VersionedRecord {
	if ts, ok := unixValue(values, ":ts"); ok {
		return filterRecords(records, func(r *VersionedRecord) bool {
			return !r.ValidTimeStart.After(ts) && (r.ValidTimeEnd == nil || !r.ValidTimeEnd.Before(ts))
		})
	}
	start, hasStart := unixValue(values, ":start")
	end, hasEnd := unixValue(values, ":end")
	if hasStart && hasEnd {
		return filterRecords(records, func(r *VersionedRecord) bool {
			return !r.ValidTimeStart.After(end) && (r.ValidTimeEnd == nil || !r.ValidTimeEnd.Before(start))
		})
	}
	return records
}

func filterRecords(records []*VersionedRecord, keep func(*VersionedRecord) bool) []*VersionedRecord {
	out := make([]*VersionedRecord, 0, len(records))
	for _, r := range records {
		if keep(r) {
			out = append(out, r)
		}
	}
	return out
}

// unixValue reads an ExpressionValues entry compiler.go stored as a Unix
// timestamp (int64 via time.Unix) and converts it back to a time.Time.
func unixValue(values map[string]interface{}, key string) (time.Time, bool) {
	v, ok := values[key]
	if !ok {
		return time.Time{}, false
	}
	sec, ok := v.(int64)
	if !ok {
		return time.Time{}, false
	}
	return unixTime(sec), true
}

// filterByProperties applies every residual property filter against each
// record's decoded payload properties, keeping only records that satisfy
// all of them. A record whose payload has no Properties (or fails to
// decode as a node/edge) never matches a non-empty filter set — property
// filters are defined over attribute values, not absence of them.
func filterByProperties(records []*VersionedRecord, filters []PropertyFilter) []*VersionedRecord {
	if len(filters) == 0 {
		return records
	}
	out := make([]*VersionedRecord, 0, len(records))
	for _, r := range records {
		props, ok := payloadProperties(r.Payload)
		if !ok || len(props) == 0 {
			continue
		}
		if matchesAllFilters(props, filters) {
			out = append(out, r)
		}
	}
	return out
}

func payloadProperties(p Payload) (Attributes, bool) {
	switch p.Kind {
	case PayloadKindNode:
		n, err := p.DecodeNode()
		if err != nil {
			return nil, false
		}
		return n.Properties, true
	case PayloadKindEdge:
		e, err := p.DecodeEdge()
		if err != nil {
			return nil, false
		}
		return e.Properties, true
	default:
		return nil, false
	}
}

func matchesAllFilters(props Attributes, filters []PropertyFilter) bool {
	for _, f := range filters {
		if !propertyFilterMatches(props[f.Name], f) {
			return false
		}
	}
	return true
}

// propertyFilterMatches evaluates a single PropertyFilter against a decoded
// attribute value. Ordering comparisons fall back to string comparison of
// the %v representation when both sides aren't numeric, matching JSON's own
// untyped-number decoding (every numeric attribute decodes as float64).
func propertyFilterMatches(actual interface{}, f PropertyFilter) bool {
	switch f.Operator {
	case OpEqual:
		return fmt.Sprint(actual) == fmt.Sprint(f.Value)
	case OpNotEqual:
		return fmt.Sprint(actual) != fmt.Sprint(f.Value)
	case OpGreater, OpGreaterEq, OpLess, OpLessEq:
		an, aok := actual.(float64)
		bn, bok := f.Value.(float64)
		if aok && bok {
			switch f.Operator {
			case OpGreater:
				return an > bn
			case OpGreaterEq:
				return an >= bn
			case OpLess:
				return an < bn
			default:
				return an <= bn
			}
		}
		as, bs := fmt.Sprint(actual), fmt.Sprint(f.Value)
		switch f.Operator {
		case OpGreater:
			return as > bs
		case OpGreaterEq:
			return as >= bs
		case OpLess:
			return as < bs
		default:
			return as <= bs
		}
	case OpContains:
		return strings.Contains(fmt.Sprint(actual), fmt.Sprint(f.Value))
	case OpBeginsWith:
		return strings.HasPrefix(fmt.Sprint(actual), fmt.Sprint(f.Value))
	case OpEndsWith:
		return strings.HasSuffix(fmt.Sprint(actual), fmt.Sprint(f.Value))
	case OpIn:
		values, ok := f.Value.([]interface{})
		if !ok {
			return false
		}
		for _, v := range values {
			if fmt.Sprint(actual) == fmt.Sprint(v) {
				return true
			}
		}
		return false
	case OpNotIn:
		values, ok := f.Value.([]interface{})
		if !ok {
			return true
		}
		for _, v := range values {
			if fmt.Sprint(actual) == fmt.Sprint(v) {
				return false
			}
		}
		return true
	default:
		return false
	}
}

// relationshipMatches partitions relFilters into chunks of
// x.cfg.RelationshipBatchSize and spawns up to x.maxConcurrency workers,
// each processing its chunk's filters sequentially (§4.7: "partition the
// relationship filters into chunks of relationship_batch_size; spawn up to
// max_concurrent_queries workers; each worker processes its chunk
// sequentially"). It returns the set of entity ids that satisfied every
// filter across every chunk (the filters are ANDed — "a record must satisfy
// every relationship filter to be included").
func (x *Executor) relationshipMatches(ctx context.Context, candidates []*VersionedRecord, relFilters []RelationshipFilter) (map[EntityID]bool, error) {
	chunks := chunkRelationshipFilters(relFilters, x.cfg.RelationshipBatchSize)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(x.maxConcurrency)

	var mu sync.Mutex
	counts := map[EntityID]int{}

	for _, chunk := range chunks {
		chunk := chunk
		g.Go(func() error {
			for _, rf := range chunk {
				matched, err := x.matchRelationship(gctx, candidates, rf)
				if err != nil {
					return err
				}
				mu.Lock()
				for id := range matched {
					counts[id]++
				}
				mu.Unlock()
			}
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}

	out := make(map[EntityID]bool, len(counts))
	for id, n := range counts {
		if n == len(relFilters) {
			out[id] = true
		}
	}
	return out, nil
}

// chunkRelationshipFilters partitions filters into consecutive chunks of at
// most size filters each (e.g. 250 filters at size 100 yields chunks of
// 100, 100, 50 — three worker chunks, scenario §8.6). size <= 0 degrades to
// a single chunk holding every filter.
func chunkRelationshipFilters(filters []RelationshipFilter, size int) [][]RelationshipFilter {
	if size <= 0 || size >= len(filters) {
		if len(filters) == 0 {
			return nil
		}
		return [][]RelationshipFilter{filters}
	}
	var chunks [][]RelationshipFilter
	for i := 0; i < len(filters); i += size {
		end := i + size
		if end > len(filters) {
			end = len(filters)
		}
		chunks = append(chunks, filters[i:end])
	}
	return chunks
}

// matchRelationship scans for edges satisfying a single relationship filter
// and returns the set of source- or target-side entity ids that qualify.
func (x *Executor) matchRelationship(ctx context.Context, candidates []*VersionedRecord, rf RelationshipFilter) (map[EntityID]bool, error) {
	values := map[string]interface{}{":rel_type": rf.RelationshipType}
	filter := "relationship_type = :rel_type"
	if rf.TargetType != nil {
		values[":target_type"] = rf.TargetType.String()
		filter += " AND target_type = :target_type"
	}
	for _, pf := range rf.PropertyFilters {
		placeholder := ":" + pf.Name
		values[placeholder] = pf.Value
		filter += " AND " + pf.Name + " = " + placeholder
	}

	oq := &OptimizedQuery{
		TableName:        defaultTableName,
		FilterExpression: filter,
		ExpressionValues: values,
		ScanAscending:    true,
	}

	page, err := x.scan(ctx, oq)
	if err != nil {
		return nil, err
	}

	var edges []EdgePayload
	for _, e := range page.Records {
		if e.Payload.Kind != PayloadKindEdge {
			continue
		}
		edge, err := e.Payload.DecodeEdge()
		if err != nil {
			continue
		}
		if edge.Label != rf.RelationshipType {
			continue
		}
		edges = append(edges, edge)
	}

	out := map[EntityID]bool{}
	for _, candidate := range candidates {
		for _, edge := range edges {
			if edgeSatisfies(candidate.EntityID, edge, rf.Direction) {
				out[candidate.EntityID] = true
				break
			}
		}
	}
	return out, nil
}

func edgeSatisfies(id EntityID, edge EdgePayload, dir RelationshipDirection) bool {
	switch dir {
	case DirectionOutgoing:
		return edge.SourceID == id.ID
	case DirectionIncoming:
		return edge.TargetID == id.ID
	default:
		return edge.SourceID == id.ID || edge.TargetID == id.ID
	}
}

// ExecuteBatch runs queries concurrently, bounded by the same concurrency
// limit as a single Execute's relationship fan-out, and returns results in
// input order. The first query to fail cancels the others still running.
func (x *Executor) ExecuteBatch(ctx context.Context, queries []*OptimizedQuery) ([]*Page, error) {
	results := make([]*Page, len(queries))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(x.maxConcurrency)

	for i, q := range queries {
		i, q := i, q
		g.Go(func() error {
			page, err := x.scan(gctx, q)
			if err != nil {
				return err
			}
			results[i] = page
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}
	return results, nil
}
