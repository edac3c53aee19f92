package bitemporal

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func day(n int) time.Time {
	return time.Date(2024, 1, n, 0, 0, 0, 0, time.UTC)
}

func TestTemporalRangeContains(t *testing.T) {
	r := NewRange(day(10), day(20))

	require.True(t, r.Contains(day(10)))
	require.True(t, r.Contains(day(15)))
	require.False(t, r.Contains(day(20)))
	require.False(t, r.Contains(day(9)))

	require.True(t, Unbounded().Contains(day(1)))
}

func TestTemporalRangeOverlaps(t *testing.T) {
	a := NewRange(day(10), day(20))
	b := NewRange(day(20), day(30))
	require.False(t, a.Overlaps(b))
	require.False(t, b.Overlaps(a))

	c := NewRange(day(15), day(25))
	require.True(t, a.Overlaps(c))
	require.True(t, c.Overlaps(a))

	d := NewRange(day(21), day(25))
	require.False(t, a.Overlaps(d))
}

func TestTemporalRangeAdjacentTo(t *testing.T) {
	a := NewRange(day(10), day(20))
	b := NewRange(day(20), day(30))
	require.True(t, a.AdjacentTo(b))
	require.True(t, b.AdjacentTo(a))

	c := NewRange(day(21), day(30))
	require.False(t, a.AdjacentTo(c))
}

func TestTemporalRangeDistanceTo(t *testing.T) {
	a := NewRange(day(10), day(20))
	b := NewRange(day(20), day(30))
	require.Equal(t, time.Duration(0), a.DistanceTo(b))

	c := NewRange(day(22), day(30))
	require.Equal(t, 2*24*time.Hour, a.DistanceTo(c))
}

func TestEntityTypeJSONRoundTrip(t *testing.T) {
	b, err := PersonEntity.MarshalJSON()
	require.NoError(t, err)

	var et EntityType
	require.NoError(t, et.UnmarshalJSON(b))
	require.Equal(t, PersonEntity, et)
}

func TestEntityIDIsZero(t *testing.T) {
	require.True(t, EntityID{}.IsZero())
	require.False(t, NewEntityID(PersonEntity, "alice").IsZero())
}
