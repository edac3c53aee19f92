package bitemporal

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestTemporalIndexAddRejectsOverlap(t *testing.T) {
	idx := NewTemporalIndexShards(1)
	id := NewEntityID(PersonEntity, "alice")

	require.NoError(t, idx.Add(IndexEntry{
		EntityID: id, VersionID: "v1", ValidTimeStart: day(1),
	}))

	err := idx.Add(IndexEntry{
		EntityID: id, VersionID: "v2", ValidTimeStart: day(5),
	})
	require.Error(t, err)
	require.True(t, IsKind(err, KindTemporalOverlap))
}

func TestTemporalIndexAtAndBetween(t *testing.T) {
	idx := NewTemporalIndexShards(4)
	id := NewEntityID(PersonEntity, "bob")
	end := day(20)

	require.NoError(t, idx.Add(IndexEntry{
		EntityID: id, VersionID: "v1", ValidTimeStart: day(10), ValidTimeEnd: &end,
	}))

	require.Len(t, idx.At(id, day(15)), 1)
	require.Empty(t, idx.At(id, day(25)))

	between, err := idx.Between(id, day(5), day(12))
	require.NoError(t, err)
	require.Len(t, between, 1)

	_, err = idx.Between(id, day(20), day(5))
	require.Error(t, err)
}

func TestTemporalIndexLatestPrefersUnbounded(t *testing.T) {
	idx := NewTemporalIndexShards(1)
	id := NewEntityID(PersonEntity, "carol")
	end1 := day(20)

	require.NoError(t, idx.Add(IndexEntry{
		EntityID: id, VersionID: "v1", ValidTimeStart: day(1), ValidTimeEnd: &end1,
	}))
	end1b := day(19)
	_ = end1b

	idx2 := NewTemporalIndexShards(1)
	require.NoError(t, idx2.Add(IndexEntry{
		EntityID: id, VersionID: "v2", ValidTimeStart: day(21),
	}))
	require.NoError(t, idx2.Add(IndexEntry{
		EntityID: id, VersionID: "v3", ValidTimeStart: day(1), ValidTimeEnd: &end1,
	}))

	latest, ok := idx2.Latest(id)
	require.True(t, ok)
	require.Equal(t, "v2", latest.VersionID)
}

func TestTemporalIndexSupersede(t *testing.T) {
	idx := NewTemporalIndexShards(1)
	id := NewEntityID(PersonEntity, "dave")

	require.NoError(t, idx.Add(IndexEntry{EntityID: id, VersionID: "v1", ValidTimeStart: day(1)}))

	now := time.Now()
	require.NoError(t, idx.Supersede(id, "v1", now))

	err := idx.Supersede(id, "v1", now)
	require.Error(t, err)

	err = idx.Supersede(NewEntityID(PersonEntity, "unknown"), "v1", now)
	require.Error(t, err)
	require.True(t, IsKind(err, KindEntityNotFound))
}
