package bitemporal_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	bt "github.com/tempograph/bitemporal"
	"github.com/tempograph/bitemporal/memory"
)

type stepClock struct{ now time.Time }

func (c *stepClock) Now() time.Time { return c.now }
func (c *stepClock) advance(d time.Duration) {
	c.now = c.now.Add(d)
}

func newTestEngine(t *testing.T) (*bt.Engine, *stepClock) {
	t.Helper()
	clock := &stepClock{now: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)}
	engine := bt.NewEngine(memory.New(), bt.NewConfig(bt.WithClock(clock)), nil)
	return engine, clock
}

func TestEngineStoreThenSupersede(t *testing.T) {
	engine, clock := newTestEngine(t)
	ctx := context.Background()
	id := bt.NewEntityID(bt.PersonEntity, "alice")

	payload, err := bt.NewNodePayload(bt.NodePayload{ID: "alice", EntityType: bt.PersonEntity, Label: "Alice v1"})
	require.NoError(t, err)
	validStart := clock.now
	record, err := engine.Store(ctx, id, payload, bt.NewOpenEndRange(validStart))
	require.NoError(t, err)

	clock.advance(time.Hour)
	require.NoError(t, engine.Supersede(ctx, id, record.VersionID))

	result := engine.ValidateConsistency(ctx)
	require.True(t, result.Passed)
}

func TestEngineQueryOperations(t *testing.T) {
	engine, clock := newTestEngine(t)
	ctx := context.Background()
	id := bt.NewEntityID(bt.PersonEntity, "bob")

	v1Payload, err := bt.NewNodePayload(bt.NodePayload{ID: "bob", EntityType: bt.PersonEntity, Label: "Bob"})
	require.NoError(t, err)
	start := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	end := time.Date(2024, 1, 10, 0, 0, 0, 0, time.UTC)
	_, err = engine.Store(ctx, id, v1Payload, bt.NewRange(start, end))
	require.NoError(t, err)

	results, err := engine.QueryAt(ctx, id, start.AddDate(0, 0, 2))
	require.NoError(t, err)
	require.Len(t, results, 1)

	results, err = engine.QueryAt(ctx, id, end)
	require.NoError(t, err)
	require.Empty(t, results)

	between, err := engine.QueryBetween(ctx, id, start, end.AddDate(0, 0, 5))
	require.NoError(t, err)
	require.Len(t, between, 1)

	evolution, err := engine.QueryEvolution(ctx, id, bt.Unbounded())
	require.NoError(t, err)
	require.Len(t, evolution, 1)

	latest, err := engine.QueryLatest(ctx, id)
	require.NoError(t, err)
	require.Equal(t, id, latest.EntityID)

	_ = clock
}

func TestEngineStoreRejectsNonMonotonicTxTime(t *testing.T) {
	engine, clock := newTestEngine(t)
	ctx := context.Background()

	alice := bt.NewEntityID(bt.PersonEntity, "alice")
	alicePayload, err := bt.NewNodePayload(bt.NodePayload{ID: "alice", EntityType: bt.PersonEntity, Label: "Alice"})
	require.NoError(t, err)
	_, err = engine.Store(ctx, alice, alicePayload, bt.NewOpenEndRange(clock.now))
	require.NoError(t, err)

	clock.advance(-time.Hour)

	bob := bt.NewEntityID(bt.PersonEntity, "bob")
	bobPayload, err := bt.NewNodePayload(bt.NodePayload{ID: "bob", EntityType: bt.PersonEntity, Label: "Bob"})
	require.NoError(t, err)
	_, err = engine.Store(ctx, bob, bobPayload, bt.NewOpenEndRange(clock.now))
	require.Error(t, err)
	require.True(t, bt.IsKind(err, bt.KindTransactionTimeInconsistency))
}

func TestEngineStoreRejectsOverlap(t *testing.T) {
	engine, _ := newTestEngine(t)
	ctx := context.Background()
	id := bt.NewEntityID(bt.PersonEntity, "carol")

	payload, err := bt.NewNodePayload(bt.NodePayload{ID: "carol", EntityType: bt.PersonEntity, Label: "Carol"})
	require.NoError(t, err)

	start := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	end := time.Date(2024, 1, 10, 0, 0, 0, 0, time.UTC)
	_, err = engine.Store(ctx, id, payload, bt.NewRange(start, end))
	require.NoError(t, err)

	overlapStart := time.Date(2024, 1, 5, 0, 0, 0, 0, time.UTC)
	_, err = engine.Store(ctx, id, payload, bt.NewRange(overlapStart, end.AddDate(0, 0, 5)))
	require.Error(t, err)
	require.True(t, bt.IsKind(err, bt.KindTemporalOverlap))
}

func TestEngineExecuteWithRelationshipFilter(t *testing.T) {
	engine, _ := newTestEngine(t)
	ctx := context.Background()

	alice := bt.NewEntityID(bt.PersonEntity, "alice")
	bob := bt.NewEntityID(bt.PersonEntity, "bob")
	edgeID := bt.NewEntityID(bt.EdgeEntity, "alice-bob")

	alicePayload, err := bt.NewNodePayload(bt.NodePayload{ID: "alice", EntityType: bt.PersonEntity, Label: "Alice"})
	require.NoError(t, err)
	_, err = engine.Store(ctx, alice, alicePayload, bt.NewOpenEndRange(time.Now()))
	require.NoError(t, err)

	bobPayload, err := bt.NewNodePayload(bt.NodePayload{ID: "bob", EntityType: bt.PersonEntity, Label: "Bob"})
	require.NoError(t, err)
	_, err = engine.Store(ctx, bob, bobPayload, bt.NewOpenEndRange(time.Now()))
	require.NoError(t, err)

	edgePayload, err := bt.NewEdgePayload(bt.EdgePayload{
		ID: "alice-bob", SourceID: "alice", TargetID: "bob", Label: "friend_of",
	})
	require.NoError(t, err)
	_, err = engine.Store(ctx, edgeID, edgePayload, bt.NewOpenEndRange(time.Now()))
	require.NoError(t, err)

	q, err := bt.NewQueryBuilder().
		EntityType(bt.PersonEntity).
		RelationshipFilter("friend_of", bt.DirectionOutgoing, nil).
		Build()
	require.NoError(t, err)

	results, _, err := engine.Execute(ctx, q)
	require.NoError(t, err)
	require.Len(t, results, 1)
	require.Equal(t, alice, results[0].EntityID)
}

func TestEngineExecuteHonorsAtBound(t *testing.T) {
	engine, _ := newTestEngine(t)
	ctx := context.Background()

	id := bt.NewEntityID(bt.PersonEntity, "heidi")
	payload, err := bt.NewNodePayload(bt.NodePayload{ID: "heidi", EntityType: bt.PersonEntity, Label: "Heidi"})
	require.NoError(t, err)

	start := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	end := time.Date(2024, 1, 10, 0, 0, 0, 0, time.UTC)
	_, err = engine.Store(ctx, id, payload, bt.NewRange(start, end))
	require.NoError(t, err)

	inRange, err := bt.NewQueryBuilder().EntityType(bt.PersonEntity).At(start.AddDate(0, 0, 2)).Build()
	require.NoError(t, err)
	results, _, err := engine.Execute(ctx, inRange)
	require.NoError(t, err)
	require.Len(t, results, 1)

	outOfRange, err := bt.NewQueryBuilder().EntityType(bt.PersonEntity).At(end.AddDate(0, 0, 5)).Build()
	require.NoError(t, err)
	results, _, err = engine.Execute(ctx, outOfRange)
	require.NoError(t, err)
	require.Empty(t, results)
}

func TestEngineExecuteHonorsBetweenBound(t *testing.T) {
	engine, _ := newTestEngine(t)
	ctx := context.Background()

	id := bt.NewEntityID(bt.PersonEntity, "ivan")
	payload, err := bt.NewNodePayload(bt.NodePayload{ID: "ivan", EntityType: bt.PersonEntity, Label: "Ivan"})
	require.NoError(t, err)

	start := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	end := time.Date(2024, 1, 10, 0, 0, 0, 0, time.UTC)
	_, err = engine.Store(ctx, id, payload, bt.NewRange(start, end))
	require.NoError(t, err)

	overlapping, err := bt.NewQueryBuilder().EntityType(bt.PersonEntity).Between(start, end.AddDate(0, 0, 5)).Build()
	require.NoError(t, err)
	results, _, err := engine.Execute(ctx, overlapping)
	require.NoError(t, err)
	require.Len(t, results, 1)

	disjoint, err := bt.NewQueryBuilder().EntityType(bt.PersonEntity).Between(end.AddDate(0, 0, 10), end.AddDate(0, 0, 20)).Build()
	require.NoError(t, err)
	results, _, err = engine.Execute(ctx, disjoint)
	require.NoError(t, err)
	require.Empty(t, results)
}

func TestEngineExecuteWithPropertyFilter(t *testing.T) {
	engine, _ := newTestEngine(t)
	ctx := context.Background()

	alice := bt.NewEntityID(bt.PersonEntity, "alice")
	bob := bt.NewEntityID(bt.PersonEntity, "bob")

	alicePayload, err := bt.NewNodePayload(bt.NodePayload{
		ID: "alice", EntityType: bt.PersonEntity, Label: "Alice",
		Properties: bt.Attributes{"age": 30.0},
	})
	require.NoError(t, err)
	_, err = engine.Store(ctx, alice, alicePayload, bt.NewOpenEndRange(time.Now()))
	require.NoError(t, err)

	bobPayload, err := bt.NewNodePayload(bt.NodePayload{
		ID: "bob", EntityType: bt.PersonEntity, Label: "Bob",
		Properties: bt.Attributes{"age": 12.0},
	})
	require.NoError(t, err)
	_, err = engine.Store(ctx, bob, bobPayload, bt.NewOpenEndRange(time.Now()))
	require.NoError(t, err)

	q, err := bt.NewQueryBuilder().
		EntityType(bt.PersonEntity).
		PropertyFilterOp("age", bt.OpGreaterEq, 21.0).
		Build()
	require.NoError(t, err)

	results, _, err := engine.Execute(ctx, q)
	require.NoError(t, err)
	require.Len(t, results, 1)
	require.Equal(t, alice, results[0].EntityID)
}
