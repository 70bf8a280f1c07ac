package retrieve

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"corpusrag/internal/graphrag/graphstore"
	"corpusrag/internal/graphrag/types"
)

func TestExtractProperNouns(t *testing.T) {
	got := ExtractProperNouns("Trace the relationship between Acme Corp and Beta LLC")
	require.Contains(t, got, "Acme Corp")
	require.Contains(t, got, "Beta LLC")
	require.NotContains(t, got, "Trace", "a standalone sentence-leading verb is not an entity name")
}

func TestExtractProperNouns_KeepsStopwordLedPhrases(t *testing.T) {
	got := ExtractProperNouns("Does The Master Agreement survive termination?")
	require.Contains(t, got, "The Master Agreement")
	require.NotContains(t, got, "Does")
}

func TestSeedEntities_NameMatchOutranksVectorOnly(t *testing.T) {
	store := graphstore.NewMemoryStore()
	store.LoadEntity(types.Entity{EntityID: "e1", Name: "Acme Corp", Embedding: []float32{0.9, 0.1, 0}})
	store.LoadEntity(types.Entity{EntityID: "e2", Name: "Widgetco", Embedding: []float32{1, 0, 0}})

	got, err := SeedEntities(context.Background(), store, "What did Acme Corp agree to?", []float32{1, 0, 0}, 5)
	require.NoError(t, err)
	require.NotEmpty(t, got)
	require.Equal(t, "e1", got[0].EntityID, "a query-text name match must outrank a merely-similar embedding")
	require.Equal(t, 1.0, got[0].Score)
}

func TestSeedWeightsAndSeedIDs(t *testing.T) {
	entities := []EntityScore{{EntityID: "e1", Score: 0.5}, {EntityID: "e2", Score: 0.2}}
	w := SeedWeights(entities)
	require.Equal(t, 0.5, w["e1"])
	require.Equal(t, []string{"e1", "e2"}, SeedIDs(entities))
}
