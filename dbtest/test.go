// Package dbtest is a shared, black-box conformance suite for
// bitemporal.Storage implementations. Each backend package (memory, sql,
// dynamodb) runs it against its own constructor so the same behavioral
// contract is enforced everywhere a Storage lives.
package dbtest

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	bt "github.com/tempograph/bitemporal"
)

var shortForm = "2006-01-02"

func mustParseTime(value string) time.Time {
	t, err := time.Parse(shortForm, value)
	if err != nil {
		panic(err)
	}
	return t
}

var (
	t1 = mustParseTime("2022-01-01")
	t2 = mustParseTime("2022-01-02")
	t3 = mustParseTime("2022-01-03")
	t4 = mustParseTime("2022-01-04")
)

// StorageFn constructs a fresh, empty Storage under test, plus a cleanup
// function called after the test completes.
type StorageFn func(t *testing.T) (storage bt.Storage, closeFn func())

// Run executes the full conformance suite against newStorage.
func Run(t *testing.T, newStorage StorageFn) {
	t.Run("AppendAndGet", func(t *testing.T) { testAppendAndGet(t, newStorage) })
	t.Run("Supersede", func(t *testing.T) { testSupersede(t, newStorage) })
	t.Run("ScanByEntityID", func(t *testing.T) { testScanByEntityID(t, newStorage) })
	t.Run("EngineStoreAndQueryAt", func(t *testing.T) { testEngineStoreAndQueryAt(t, newStorage) })
	t.Run("EngineQueryBetween", func(t *testing.T) { testEngineQueryBetween(t, newStorage) })
	t.Run("EngineQueryLatest", func(t *testing.T) { testEngineQueryLatest(t, newStorage) })
	t.Run("EngineValidateConsistency", func(t *testing.T) { testEngineValidateConsistency(t, newStorage) })
}

func nodeRecord(t *testing.T, id bt.EntityID, label string, validStart time.Time, validEnd *time.Time) *bt.VersionedRecord {
	payload, err := bt.NewNodePayload(bt.NodePayload{
		ID:             id.ID,
		EntityType:     id.Type,
		Label:          label,
		Properties:     bt.Attributes{"label": label},
		ValidTimeStart: validStart,
		ValidTimeEnd:   validEnd,
	})
	require.NoError(t, err)
	return &bt.VersionedRecord{
		EntityID:       id,
		VersionID:      bt.NewVersionID(),
		TxTimeStart:    t1,
		ValidTimeStart: validStart,
		ValidTimeEnd:   validEnd,
		Payload:        payload,
	}
}

func testAppendAndGet(t *testing.T, newStorage StorageFn) {
	storage, closeFn := newStorage(t)
	defer closeFn()
	ctx := context.Background()

	id := bt.NewEntityID(bt.PersonEntity, "alice")
	record := nodeRecord(t, id, "Alice", t1, nil)
	require.NoError(t, storage.Append(ctx, record))

	got, err := storage.Get(ctx, id)
	require.NoError(t, err)
	require.Len(t, got, 1)
	require.Equal(t, record.VersionID, got[0].VersionID)
	require.True(t, got[0].IsCurrent())
}

func testSupersede(t *testing.T, newStorage StorageFn) {
	storage, closeFn := newStorage(t)
	defer closeFn()
	ctx := context.Background()

	id := bt.NewEntityID(bt.PersonEntity, "bob")
	record := nodeRecord(t, id, "Bob", t1, nil)
	require.NoError(t, storage.Append(ctx, record))

	require.NoError(t, storage.Supersede(ctx, id, record.VersionID, t2))

	got, err := storage.Get(ctx, id)
	require.NoError(t, err)
	require.Len(t, got, 1)
	require.False(t, got[0].IsCurrent())
	require.True(t, got[0].TxTimeEnd.Equal(t2))

	err = storage.Supersede(ctx, id, record.VersionID, t3)
	require.Error(t, err)
}

func testScanByEntityID(t *testing.T, newStorage StorageFn) {
	storage, closeFn := newStorage(t)
	defer closeFn()
	ctx := context.Background()

	alice := bt.NewEntityID(bt.PersonEntity, "alice")
	carol := bt.NewEntityID(bt.PersonEntity, "carol")
	require.NoError(t, storage.Append(ctx, nodeRecord(t, alice, "Alice", t1, nil)))
	require.NoError(t, storage.Append(ctx, nodeRecord(t, carol, "Carol", t1, nil)))

	page, err := storage.Scan(ctx, &bt.OptimizedQuery{
		ExpressionValues: map[string]interface{}{":eid": alice.String()},
		ScanAscending:    true,
	})
	require.NoError(t, err)
	require.Len(t, page.Records, 1)
	require.Equal(t, alice, page.Records[0].EntityID)
}

func newTestEngine(t *testing.T, newStorage StorageFn) (*bt.Engine, func()) {
	storage, closeFn := newStorage(t)
	cfg := bt.NewConfig(bt.WithClock(fixedClock{t1}))
	return bt.NewEngine(storage, cfg, nil), closeFn
}

type fixedClock struct{ now time.Time }

func (c fixedClock) Now() time.Time { return c.now }

func testEngineStoreAndQueryAt(t *testing.T, newStorage StorageFn) {
	engine, closeFn := newTestEngine(t, newStorage)
	defer closeFn()
	ctx := context.Background()

	id := bt.NewEntityID(bt.PersonEntity, "dave")
	payload, err := bt.NewNodePayload(bt.NodePayload{ID: "dave", EntityType: bt.PersonEntity, Label: "Dave"})
	require.NoError(t, err)

	_, err = engine.Store(ctx, id, payload, bt.NewOpenEndRange(t1))
	require.NoError(t, err)

	results, err := engine.QueryAt(ctx, id, t2)
	require.NoError(t, err)
	require.Len(t, results, 1)

	results, err = engine.QueryAt(ctx, id, t1.Add(-24*time.Hour))
	require.NoError(t, err)
	require.Empty(t, results)
}

func testEngineQueryBetween(t *testing.T, newStorage StorageFn) {
	engine, closeFn := newTestEngine(t, newStorage)
	defer closeFn()
	ctx := context.Background()

	id := bt.NewEntityID(bt.PersonEntity, "erin")
	payload, err := bt.NewNodePayload(bt.NodePayload{ID: "erin", EntityType: bt.PersonEntity, Label: "Erin"})
	require.NoError(t, err)

	_, err = engine.Store(ctx, id, payload, bt.NewRange(t1, t2))
	require.NoError(t, err)

	results, err := engine.QueryBetween(ctx, id, t1, t3)
	require.NoError(t, err)
	require.Len(t, results, 1)

	results, err = engine.QueryBetween(ctx, id, t3, t4)
	require.NoError(t, err)
	require.Empty(t, results)
}

func testEngineQueryLatest(t *testing.T, newStorage StorageFn) {
	engine, closeFn := newTestEngine(t, newStorage)
	defer closeFn()
	ctx := context.Background()

	id := bt.NewEntityID(bt.PersonEntity, "frank")
	payload, err := bt.NewNodePayload(bt.NodePayload{ID: "frank", EntityType: bt.PersonEntity, Label: "Frank"})
	require.NoError(t, err)

	_, err = engine.Store(ctx, id, payload, bt.NewOpenEndRange(t1))
	require.NoError(t, err)

	latest, err := engine.QueryLatest(ctx, id)
	require.NoError(t, err)
	require.Equal(t, id, latest.EntityID)
}

func testEngineValidateConsistency(t *testing.T, newStorage StorageFn) {
	engine, closeFn := newTestEngine(t, newStorage)
	defer closeFn()
	ctx := context.Background()

	id := bt.NewEntityID(bt.PersonEntity, "grace")
	payload, err := bt.NewNodePayload(bt.NodePayload{ID: "grace", EntityType: bt.PersonEntity, Label: "Grace"})
	require.NoError(t, err)

	_, err = engine.Store(ctx, id, payload, bt.NewOpenEndRange(t1))
	require.NoError(t, err)

	result := engine.ValidateConsistency(ctx)
	require.True(t, result.Passed)
	require.Empty(t, result.Violations)
}
