// Package bitemporal implements a bi-temporal knowledge graph storage and
// query engine: a version-indexed data model, a temporal index with
// overlap/gap/transaction-time consistency checking, a query compiler that
// lowers declarative filters into key-range lookups, and a parallel query
// executor that fans out relationship-filtered subqueries.
package bitemporal

import (
	"encoding/json"
	"fmt"
	"time"
)

// EntityType is a closed, tagged variant identifying the kind of entity an
// EntityID names. The zero value is not a valid entity type.
type EntityType struct {
	name string
}

// Recognized entity type variants.
var (
	NodeEntity         = EntityType{"Node"}
	EdgeEntity         = EntityType{"Edge"}
	PersonEntity       = EntityType{"Person"}
	OrganizationEntity = EntityType{"Organization"}
	LocationEntity     = EntityType{"Location"}
	EventEntity        = EntityType{"Event"}
	TopicEntity        = EntityType{"Topic"}
	DocumentEntity     = EntityType{"Document"}
	VertexEntity       = EntityType{"Vertex"}
)

// CustomEntityType constructs the open Custom(name) variant. The engine does
// not interpret name beyond using it for equality and string rendering.
func CustomEntityType(name string) EntityType {
	return EntityType{"Custom:" + name}
}

// String renders the entity type for use in keys, logs, and filter values.
func (t EntityType) String() string {
	if t.name == "" {
		return "Unknown"
	}
	return t.name
}

// IsZero reports whether t is the uninitialized entity type.
func (t EntityType) IsZero() bool {
	return t.name == ""
}

// MarshalJSON renders the entity type as its string name.
func (t EntityType) MarshalJSON() ([]byte, error) {
	return json.Marshal(t.name)
}

// UnmarshalJSON parses the entity type from its string name.
func (t *EntityType) UnmarshalJSON(b []byte) error {
	var s string
	if err := json.Unmarshal(b, &s); err != nil {
		return err
	}
	t.name = s
	return nil
}

// EntityID identifies a single entity as a (entity_type, id) pair. id is an
// opaque, engine-uninterpreted string; ULIDs and UUIDs are recommended but
// not required.
type EntityID struct {
	Type EntityType
	ID   string
}

// NewEntityID constructs an EntityID.
func NewEntityID(t EntityType, id string) EntityID {
	return EntityID{Type: t, ID: id}
}

// String renders the entity id for logging and error messages.
func (e EntityID) String() string {
	return fmt.Sprintf("%s/%s", e.Type.String(), e.ID)
}

// IsZero reports whether e is the unset entity id.
func (e EntityID) IsZero() bool {
	return e.Type.IsZero() && e.ID == ""
}

// TemporalRange is a pair of bounds, either of which may be unbounded (nil).
// Start is inclusive; End is exclusive. An unbounded End denotes "valid
// until superseded". If both bounds are present, Start must not be after
// End.
type TemporalRange struct {
	Start *time.Time
	End   *time.Time
}

// NewRange constructs a bounded range. It does not validate Start <= End;
// callers that need validation should use Validate.
func NewRange(start, end time.Time) TemporalRange {
	return TemporalRange{Start: &start, End: &end}
}

// NewOpenStartRange constructs a range unbounded below, ending at end.
func NewOpenStartRange(end time.Time) TemporalRange {
	return TemporalRange{End: &end}
}

// NewOpenEndRange constructs a range unbounded above, starting at start.
// This is the "valid until superseded" shape.
func NewOpenEndRange(start time.Time) TemporalRange {
	return TemporalRange{Start: &start}
}

// Unbounded constructs a range with no bounds in either direction.
func Unbounded() TemporalRange {
	return TemporalRange{}
}

// Validate checks the start <= end invariant when both bounds are present.
func (r TemporalRange) Validate() error {
	if r.Start != nil && r.End != nil && r.Start.After(*r.End) {
		return newError(KindInvalidTemporalRange, EntityID{}, *r.Start,
			"range start must not be after end")
	}
	return nil
}

// Contains reports whether t falls within the range: start-inclusive,
// end-exclusive, matching the record model's valid-time convention (§3).
func (r TemporalRange) Contains(t time.Time) bool {
	if r.Start != nil && t.Before(*r.Start) {
		return false
	}
	if r.End != nil && !t.Before(*r.End) {
		return false
	}
	return true
}

// Overlaps reports whether r and other share any instant under the
// closed-open convention: two ranges that merely touch at a shared endpoint
// (one's End equals the other's Start) do not overlap, they are adjacent.
// Overlaps is symmetric, and reflexive for every range except an empty one
// (Start equal to End), which shares no instant even with itself.
func (r TemporalRange) Overlaps(other TemporalRange) bool {
	if r.End != nil && other.Start != nil && !r.End.After(*other.Start) {
		return false
	}
	if other.End != nil && r.Start != nil && !other.End.After(*r.Start) {
		return false
	}
	return true
}

// AdjacentTo reports whether the end of one range equals the start of the
// other, with neither range unbounded on the touching side. AdjacentTo and
// Overlaps are disjoint: adjacent ranges never overlap.
func (r TemporalRange) AdjacentTo(other TemporalRange) bool {
	if r.End != nil && other.Start != nil && r.End.Equal(*other.Start) {
		return true
	}
	if other.End != nil && r.Start != nil && other.End.Equal(*r.Start) {
		return true
	}
	return false
}

// DistanceTo returns the gap between r and other in nanoseconds: zero if the
// ranges overlap or are adjacent, otherwise the duration separating them.
// Only the two facing bounds matter: a range unbounded on the side facing
// other always overlaps it, while one unbounded only on the far side can
// still be a positive distance away.
func (r TemporalRange) DistanceTo(other TemporalRange) time.Duration {
	if r.Overlaps(other) || r.AdjacentTo(other) {
		return 0
	}
	if r.End != nil && other.Start != nil && r.End.Before(*other.Start) {
		return other.Start.Sub(*r.End)
	}
	if other.End != nil && r.Start != nil && other.End.Before(*r.Start) {
		return r.Start.Sub(*other.End)
	}
	return 0
}
