package bitemporal

import (
	"sort"
	"sync"
	"time"
)

// ViolationType enumerates the kinds of consistency violation a batch check
// can report.
type ViolationType string

// Recognized violation types.
const (
	ViolationTemporalOverlap              ViolationType = "TemporalOverlap"
	ViolationTemporalGap                  ViolationType = "TemporalGap"
	ViolationInvalidRange                 ViolationType = "InvalidRange"
	ViolationMissingData                  ViolationType = "MissingData"
	ViolationTransactionTimeInconsistency ViolationType = "TransactionTimeInconsistency"
)

// Violation describes a single consistency problem found during a batch
// check.
type Violation struct {
	Type      ViolationType
	EntityID  EntityID
	Timestamp time.Time
	Reason    string
}

// CheckResult is the outcome of a batch consistency check.
type CheckResult struct {
	Passed     bool
	Violations []Violation
}

// ConsistencyChecker validates batches of temporal index entries and
// proposed new ranges. It is pure with respect to wall-clock time: "now" is
// only ever supplied by the caller or the injected Clock (Design Notes:
// "inject the clock as an explicit collaborator").
type ConsistencyChecker struct {
	clock Clock

	mu           sync.Mutex
	validated    map[EntityID][]TemporalRange // validated-range cache, per entity
	latestTxTime time.Time                    // high-water mark across every write this checker has accepted
}

// NewConsistencyChecker constructs a checker holding clock (DefaultClock when
// nil). None of its operations read the clock: Check, ValidateRange and
// ValidateTxTime take every time they need from their arguments.
func NewConsistencyChecker(clock Clock) *ConsistencyChecker {
	if clock == nil {
		clock = DefaultClock{}
	}
	return &ConsistencyChecker{clock: clock, validated: map[EntityID][]TemporalRange{}}
}

// Check runs three passes over entries — pairwise current-overlap within
// entity, per-entity sorted gap scan, and tx-time sanity — and returns every
// violation found. gapEnforced reports, per entity id, whether I3 gap
// enforcement is opted into for that entity (§9 Open Question: per-entity
// flag, default off).
func (c *ConsistencyChecker) Check(entries []IndexEntry, gapEnforced func(EntityID) bool) CheckResult {
	var violations []Violation
	violations = append(violations, c.checkOverlaps(entries)...)
	violations = append(violations, c.checkGaps(entries, gapEnforced)...)
	violations = append(violations, c.checkTransactionTimes(entries)...)

	return CheckResult{Passed: len(violations) == 0, Violations: violations}
}

// checkOverlaps implements I2: at most one current record per entity may
// cover any single instant of valid time.
func (c *ConsistencyChecker) checkOverlaps(entries []IndexEntry) []Violation {
	var violations []Violation
	for i, a := range entries {
		if !a.IsCurrent() {
			continue
		}
		for _, b := range entries[i+1:] {
			if a.EntityID != b.EntityID || !b.IsCurrent() {
				continue
			}
			if a.ValidRange().Overlaps(b.ValidRange()) {
				violations = append(violations, Violation{
					Type:      ViolationTemporalOverlap,
					EntityID:  a.EntityID,
					Timestamp: a.ValidTimeStart,
					Reason:    "temporal overlap between versions " + a.VersionID + " and " + b.VersionID,
				})
			}
		}
	}
	return violations
}

// checkGaps implements I3: when enabled for an entity, the union of its
// current records' valid ranges must have no hole.
func (c *ConsistencyChecker) checkGaps(entries []IndexEntry, gapEnforced func(EntityID) bool) []Violation {
	byEntity := map[EntityID][]IndexEntry{}
	for _, e := range entries {
		if e.IsCurrent() {
			byEntity[e.EntityID] = append(byEntity[e.EntityID], e)
		}
	}

	var violations []Violation
	for id, es := range byEntity {
		if gapEnforced != nil && !gapEnforced(id) {
			continue
		}
		sort.Slice(es, func(i, j int) bool {
			return es[i].ValidTimeStart.Before(es[j].ValidTimeStart)
		})
		for i := 0; i+1 < len(es); i++ {
			cur, next := es[i], es[i+1]
			if cur.ValidTimeEnd == nil {
				continue // open-ended: nothing after it can be a gap
			}
			if cur.ValidTimeEnd.Before(next.ValidTimeStart) {
				violations = append(violations, Violation{
					Type:      ViolationTemporalGap,
					EntityID:  id,
					Timestamp: *cur.ValidTimeEnd,
					Reason:    "temporal gap between " + cur.ValidTimeEnd.String() + " and " + next.ValidTimeStart.String(),
				})
			}
		}
	}
	return violations
}

// checkTransactionTimes implements I1 well-formedness sanity (each entry's
// own tx-time/valid-time bounds are properly ordered) as a non-blocking
// audit pass over a batch of entries. It does not enforce I4's
// cross-write monotonicity; that is ValidateTxTime's job, run at write time
// before an entry ever reaches this audit.
func (c *ConsistencyChecker) checkTransactionTimes(entries []IndexEntry) []Violation {
	var violations []Violation
	for _, e := range entries {
		if e.TxTimeEnd != nil && !e.TxTimeStart.Before(*e.TxTimeEnd) {
			violations = append(violations, Violation{
				Type:      ViolationTransactionTimeInconsistency,
				EntityID:  e.EntityID,
				Timestamp: e.TxTimeStart,
				Reason:    "transaction time end is before or equal to start time",
			})
		}
		if e.ValidTimeEnd != nil && !e.ValidTimeStart.Before(*e.ValidTimeEnd) {
			violations = append(violations, Violation{
				Type:      ViolationInvalidRange,
				EntityID:  e.EntityID,
				Timestamp: e.ValidTimeStart,
				Reason:    "valid time end is before or equal to start time",
			})
		}
	}
	return violations
}

// ValidateRange is consulted before a write: it rejects InvalidRange
// (start >= end) and TemporalOverlap (overlaps a previously validated range
// for the entity) before any I/O happens, and caches the range on success
// for fast duplicate rejection.
func (c *ConsistencyChecker) ValidateRange(id EntityID, start, end time.Time) error {
	if !start.Before(end) {
		return newError(KindInvalidTemporalRange, id, start, "start time must be before end time")
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	candidate := NewRange(start, end)
	for _, existing := range c.validated[id] {
		if candidate.Overlaps(existing) {
			return newError(KindTemporalOverlap, id, start, "range overlaps a previously validated range")
		}
	}
	c.validated[id] = append(c.validated[id], candidate)
	return nil
}

// ClearValidated drops the validated-range cache for id, e.g. after a
// successful supersession changes what is current for that entity.
func (c *ConsistencyChecker) ClearValidated(id EntityID) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.validated, id)
}

// ValidateTxTime enforces I4 at write time: now must not precede the latest
// transaction time this checker has already accepted for any entity. A
// write that fails this check is rejected before it ever reaches the index
// or Storage, per §4.2/§7 ("any I1/I4 failure is fatal for the proposed
// write"). On success, now becomes (or extends) the high-water mark, so a
// clock running backwards — a stale replica, a corrected test clock — is
// caught on its very next write.
func (c *ConsistencyChecker) ValidateTxTime(id EntityID, now time.Time) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if now.Before(c.latestTxTime) {
		return newError(KindTransactionTimeInconsistency, id, now,
			"transaction time is before the latest transaction time already recorded")
	}
	if now.After(c.latestTxTime) {
		c.latestTxTime = now
	}
	return nil
}
