package bitemporal

import "time"

// PropertyOperator is a comparison operator usable in a property filter.
type PropertyOperator string

// Recognized property operators.
const (
	OpEqual      PropertyOperator = "="
	OpNotEqual   PropertyOperator = "!="
	OpGreater    PropertyOperator = ">"
	OpGreaterEq  PropertyOperator = ">="
	OpLess       PropertyOperator = "<"
	OpLessEq     PropertyOperator = "<="
	OpContains   PropertyOperator = "contains"
	OpBeginsWith PropertyOperator = "begins_with"
	OpEndsWith   PropertyOperator = "ends_with"
	OpIn         PropertyOperator = "in"
	OpNotIn      PropertyOperator = "not_in"
)

// RelationshipDirection constrains which side of an edge a relationship
// filter traverses.
type RelationshipDirection string

// Recognized relationship directions.
const (
	DirectionOutgoing RelationshipDirection = "outgoing"
	DirectionIncoming RelationshipDirection = "incoming"
	DirectionAny      RelationshipDirection = "any"
)

// SortDirection is ascending or descending.
type SortDirection string

// Recognized sort directions.
const (
	SortAscending  SortDirection = "asc"
	SortDescending SortDirection = "desc"
)

// PropertyFilter is a residual filter compared against a decoded payload
// property.
type PropertyFilter struct {
	Name     string
	Operator PropertyOperator
	Value    interface{}
}

// RelationshipFilter joins through relationship edges reachable from the
// queried entity.
type RelationshipFilter struct {
	RelationshipType string
	Direction        RelationshipDirection
	TargetType       *EntityType
	PropertyFilters  []PropertyFilter
}

// SortField orders results by a named field.
type SortField struct {
	Name      string
	Direction SortDirection
}

// temporalMode distinguishes which of At/Between the builder was given;
// they are mutually exclusive (§4.4).
type temporalMode int

const (
	temporalModeNone temporalMode = iota
	temporalModeAt
	temporalModeBetween
)

// Query is the pure, declarative query a QueryBuilder assembles. It has no
// side effects and is not yet lowered into backend key conditions — see
// Compile.
type Query struct {
	EntityID   *EntityID
	EntityType *EntityType

	mode  temporalMode
	at    time.Time
	start time.Time
	end   time.Time

	PropertyFilters     []PropertyFilter
	RelationshipFilters []RelationshipFilter
	SortFields          []SortField

	PageSize  int
	PageToken []byte

	Ascending bool

	atSet, betweenSet bool
}

// At returns the query's point-in-time bound and whether one was set.
func (q *Query) At() (time.Time, bool) {
	return q.at, q.mode == temporalModeAt
}

// Between returns the query's range bound and whether one was set.
func (q *Query) Between() (time.Time, time.Time, bool) {
	return q.start, q.end, q.mode == temporalModeBetween
}

// QueryBuilder is a fluent, side-effect-free constructor for a Query.
// Recognized configuration mirrors §4.4: entity_id, entity_type, at/between
// (mutually exclusive), property_filter, relationship_filter, sort_field,
// page_size/page_token, ascending.
type QueryBuilder struct {
	q   Query
	err error
}

// NewQueryBuilder constructs an empty builder with ascending scan direction,
// the default per §4.4.
func NewQueryBuilder() *QueryBuilder {
	return &QueryBuilder{q: Query{Ascending: true}}
}

// EntityID restricts the query to a single entity.
func (b *QueryBuilder) EntityID(id EntityID) *QueryBuilder {
	b.q.EntityID = &id
	return b
}

// EntityType restricts the query by entity type.
func (b *QueryBuilder) EntityType(t EntityType) *QueryBuilder {
	b.q.EntityType = &t
	return b
}

// At sets a point-in-time bound. At and Between are mutually exclusive;
// calling both before Build raises InvalidTemporalRange.
func (b *QueryBuilder) At(t time.Time) *QueryBuilder {
	b.q.mode = temporalModeAt
	b.q.at = t
	b.q.atSet = true
	return b
}

// Between sets a range bound [start, end]. At and Between are mutually
// exclusive.
func (b *QueryBuilder) Between(start, end time.Time) *QueryBuilder {
	if start.After(end) && b.err == nil {
		b.err = newError(KindInvalidTemporalRange, EntityID{}, start, "start time must not be after end time")
	}
	b.q.mode = temporalModeBetween
	b.q.start = start
	b.q.end = end
	b.q.betweenSet = true
	return b
}

// PropertyFilterOp adds a residual property filter.
func (b *QueryBuilder) PropertyFilterOp(name string, op PropertyOperator, value interface{}) *QueryBuilder {
	b.q.PropertyFilters = append(b.q.PropertyFilters, PropertyFilter{Name: name, Operator: op, Value: value})
	return b
}

// RelationshipFilter adds a relationship filter that joins through edges of
// relType in the given direction, optionally constrained to targetType.
func (b *QueryBuilder) RelationshipFilter(relType string, direction RelationshipDirection, targetType *EntityType) *QueryBuilder {
	b.q.RelationshipFilters = append(b.q.RelationshipFilters, RelationshipFilter{
		RelationshipType: relType,
		Direction:        direction,
		TargetType:       targetType,
	})
	return b
}

// SortField adds a sort field; multiple calls apply in insertion order.
func (b *QueryBuilder) SortField(name string, direction SortDirection) *QueryBuilder {
	b.q.SortFields = append(b.q.SortFields, SortField{Name: name, Direction: direction})
	return b
}

// PageSize sets the requested page size.
func (b *QueryBuilder) PageSize(n int) *QueryBuilder {
	b.q.PageSize = n
	return b
}

// PageToken sets the opaque continuation token from a prior page.
func (b *QueryBuilder) PageToken(tok []byte) *QueryBuilder {
	b.q.PageToken = tok
	return b
}

// Ascending sets the scan direction.
func (b *QueryBuilder) Ascending(asc bool) *QueryBuilder {
	b.q.Ascending = asc
	return b
}

// Build validates the accumulated configuration and returns the canonical
// Query. Invalid configurations (Between with start after end, or both At
// and Between set) raise InvalidTemporalRange before any I/O, per §4.4.
func (b *QueryBuilder) Build() (*Query, error) {
	if b.err != nil {
		return nil, b.err
	}
	if b.q.atSet && b.q.betweenSet {
		return nil, newError(KindInvalidTemporalRange, EntityID{}, time.Time{}, "at and between are mutually exclusive")
	}
	q := b.q
	return &q, nil
}
