package bitemporal

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestCompileAtSetsKeyCondition(t *testing.T) {
	q, err := NewQueryBuilder().EntityID(NewEntityID(PersonEntity, "alice")).At(day(10)).Build()
	require.NoError(t, err)

	oq, err := Compile(q)
	require.NoError(t, err)
	require.Contains(t, oq.KeyCondition, "valid_time_start <= :ts")
	require.True(t, oq.ScanAscending)
}

func TestQueryBuilderBetweenRejectsInvertedRange(t *testing.T) {
	_, err := NewQueryBuilder().Between(day(10), day(1)).Build()
	require.Error(t, err)
}

func TestCompilePropertyFilter(t *testing.T) {
	q, err := NewQueryBuilder().
		EntityType(PersonEntity).
		PropertyFilterOp("age", OpGreaterEq, 21).
		Build()
	require.NoError(t, err)

	oq, err := Compile(q)
	require.NoError(t, err)
	require.Contains(t, oq.FilterExpression, "age >= :age")
	require.Equal(t, 21, oq.ExpressionValues[":age"])
}

func TestCompileRelationshipFilter(t *testing.T) {
	q, err := NewQueryBuilder().
		RelationshipFilter("friend_of", DirectionOutgoing, nil).
		Build()
	require.NoError(t, err)

	oq, err := Compile(q)
	require.NoError(t, err)
	require.Contains(t, oq.FilterExpression, "relationship_type = :rel_type_0")
	require.Equal(t, "friend_of", oq.ExpressionValues[":rel_type_0"])
}

func TestQueryBuilderMutualExclusivity(t *testing.T) {
	_, err := NewQueryBuilder().At(day(1)).Between(day(2), day(3)).Build()
	require.Error(t, err)
	require.True(t, IsKind(err, KindInvalidTemporalRange))
}
