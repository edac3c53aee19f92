package bitemporal

import (
	"fmt"
	"strings"
)

// OptimizedQuery is the canonical, lowered form of a Query: a key condition
// expressible as a primary-key range scan plus a residual filter expression
// applied server-side after key-range pruning (§4.5).
type OptimizedQuery struct {
	TableName string

	KeyCondition string
	SortKeyExtra string // additional key-range clause; Compile never sets it

	FilterExpression string
	ExpressionValues map[string]interface{}

	ScanAscending bool
	Limit         int

	ExclusiveStartKey []byte

	// PostSort holds sort fields that have no secondary index and so
	// degrade to an in-memory post-sort after the backend returns items
	// (§4.5 "Sort fields with no secondary index degrade to in-memory
	// post-sort").
	PostSort []SortField

	// ResidualFilters holds the property filters FilterExpression already
	// encodes for backends that evaluate it natively (DynamoDB's
	// FilterExpression, a SQL WHERE clause). Backends with no expression
	// evaluator of their own (the in-memory adapter) return every
	// key-range-matching record and leave these for the Executor to apply
	// against the decoded payload after the scan returns (§4.5's residual
	// filter, applied the same way regardless of which side evaluates it).
	ResidualFilters []PropertyFilter
}

const defaultTableName = "temporal_entities"

// Compile lowers a built Query into an OptimizedQuery. Property and
// relationship filters are never placed in the key condition; they flow
// into FilterExpression with ":<name>"-style placeholders.
func Compile(q *Query) (*OptimizedQuery, error) {
	out := &OptimizedQuery{
		TableName:        defaultTableName,
		ExpressionValues: map[string]interface{}{},
		ScanAscending:    q.Ascending,
		Limit:            q.PageSize,
		ExclusiveStartKey: q.PageToken,
		PostSort:          q.SortFields,
	}

	if q.EntityID != nil {
		out.KeyCondition = "entity_id = :eid"
		out.ExpressionValues[":eid"] = q.EntityID.String()
	}

	if t, ok := q.At(); ok {
		out.addKeyClause("valid_time_start <= :ts AND valid_time_end >= :ts")
		out.ExpressionValues[":ts"] = t.Unix()
		out.ScanAscending = true
	} else if start, end, ok := q.Between(); ok {
		if start.After(end) {
			return nil, newError(KindInvalidTemporalRange, entityIDOrZero(q), start, "start time must not be after end time")
		}
		out.addKeyClause("valid_time_start <= :end AND valid_time_end >= :start")
		out.ExpressionValues[":start"] = start.Unix()
		out.ExpressionValues[":end"] = end.Unix()
		out.ScanAscending = true
	}

	var filterConditions []string

	if q.EntityType != nil {
		filterConditions = append(filterConditions, "entity_type = :etype")
		out.ExpressionValues[":etype"] = q.EntityType.String()
	}

	for _, f := range q.PropertyFilters {
		cond, err := compilePropertyFilter(f, out.ExpressionValues)
		if err != nil {
			return nil, err
		}
		filterConditions = append(filterConditions, cond)
	}
	out.ResidualFilters = q.PropertyFilters

	if len(q.RelationshipFilters) > 0 {
		var relConds []string
		for i, f := range q.RelationshipFilters {
			relConds = append(relConds, compileRelationshipFilter(i, f, out.ExpressionValues))
		}
		filterConditions = append(filterConditions, "("+strings.Join(relConds, " AND ")+")")
	}

	if len(filterConditions) > 0 {
		out.FilterExpression = strings.Join(filterConditions, " AND ")
	}

	return out, nil
}

func (q *OptimizedQuery) addKeyClause(clause string) {
	if q.KeyCondition == "" {
		q.KeyCondition = clause
		return
	}
	q.KeyCondition = q.KeyCondition + " AND " + clause
}

func compilePropertyFilter(f PropertyFilter, values map[string]interface{}) (string, error) {
	placeholder := ":" + f.Name
	values[placeholder] = f.Value
	switch f.Operator {
	case OpEqual:
		return fmt.Sprintf("%s = %s", f.Name, placeholder), nil
	case OpNotEqual:
		return fmt.Sprintf("%s <> %s", f.Name, placeholder), nil
	case OpGreater:
		return fmt.Sprintf("%s > %s", f.Name, placeholder), nil
	case OpGreaterEq:
		return fmt.Sprintf("%s >= %s", f.Name, placeholder), nil
	case OpLess:
		return fmt.Sprintf("%s < %s", f.Name, placeholder), nil
	case OpLessEq:
		return fmt.Sprintf("%s <= %s", f.Name, placeholder), nil
	case OpContains:
		return fmt.Sprintf("contains(%s, %s)", f.Name, placeholder), nil
	case OpBeginsWith:
		return fmt.Sprintf("begins_with(%s, %s)", f.Name, placeholder), nil
	case OpEndsWith:
		return fmt.Sprintf("ends_with(%s, %s)", f.Name, placeholder), nil
	case OpIn:
		return fmt.Sprintf("%s IN %s", f.Name, placeholder), nil
	case OpNotIn:
		return fmt.Sprintf("NOT %s IN %s", f.Name, placeholder), nil
	default:
		return "", newError(KindInvalidTemporalRange, EntityID{}, zeroTime(), "unknown property operator: "+string(f.Operator))
	}
}

func compileRelationshipFilter(i int, f RelationshipFilter, values map[string]interface{}) string {
	relPlaceholder := fmt.Sprintf(":rel_type_%d", i)
	values[relPlaceholder] = f.RelationshipType

	var cond string
	switch f.Direction {
	case DirectionOutgoing:
		cond = fmt.Sprintf("relationship_type = %s AND source_id = :entity_id", relPlaceholder)
	case DirectionIncoming:
		cond = fmt.Sprintf("relationship_type = %s AND target_id = :entity_id", relPlaceholder)
	default:
		cond = fmt.Sprintf("relationship_type = %s AND (source_id = :entity_id OR target_id = :entity_id)", relPlaceholder)
	}

	if f.TargetType != nil {
		targetPlaceholder := fmt.Sprintf(":target_type_%d", i)
		values[targetPlaceholder] = f.TargetType.String()
		cond = cond + fmt.Sprintf(" AND target_type = %s", targetPlaceholder)
	}

	for _, pf := range f.PropertyFilters {
		placeholder := ":" + pf.Name
		values[placeholder] = pf.Value
		cond = cond + fmt.Sprintf(" AND %s = %s", pf.Name, placeholder)
	}

	return cond
}

func entityIDOrZero(q *Query) EntityID {
	if q.EntityID != nil {
		return *q.EntityID
	}
	return EntityID{}
}

