package bitemporal

import (
	"testing"

	"github.com/stretchr/testify/require"
)

// TestChunkRelationshipFiltersSchedulesThreeWorkerChunks is scenario §8.6:
// 250 relationship filters at relationship_batch_size=100 schedules three
// worker chunks.
func TestChunkRelationshipFiltersSchedulesThreeWorkerChunks(t *testing.T) {
	filters := make([]RelationshipFilter, 250)
	for i := range filters {
		filters[i] = RelationshipFilter{RelationshipType: "friend_of"}
	}

	chunks := chunkRelationshipFilters(filters, 100)
	require.Len(t, chunks, 3)
	require.Len(t, chunks[0], 100)
	require.Len(t, chunks[1], 100)
	require.Len(t, chunks[2], 50)
}

func TestChunkRelationshipFiltersDegradesToOneChunk(t *testing.T) {
	filters := make([]RelationshipFilter, 5)
	require.Len(t, chunkRelationshipFilters(filters, 0), 1)
	require.Len(t, chunkRelationshipFilters(filters, 100), 1)
	require.Nil(t, chunkRelationshipFilters(nil, 100))
}
