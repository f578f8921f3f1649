package service

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lumiscan/lumiscan-api/internal/core"
	"github.com/lumiscan/lumiscan-api/internal/domain/model"
)

func TestLexicalScorer_Score(t *testing.T) {
	ctx := context.Background()
	scorer := NewLexicalScorer()

	item := &model.KnowledgeItem{
		ID:          "p1",
		Kind:        model.KnowledgeKindProcedure,
		DisplayName: "Laser resurfacing",
		Category:    "texture",
		SideEffects: "redness swelling",
	}

	t.Run("overlapping text scores above zero", func(t *testing.T) {
		result, err := scorer.Score(ctx, core.ScoreParams{
			Item:        item,
			Label:       "texture",
			Observation: "uneven texture with redness",
		})
		require.NoError(t, err)
		assert.Greater(t, result.Score, 0.0)
		assert.LessOrEqual(t, result.Score, 1.0)
		assert.NotEmpty(t, result.Rationale)
	})

	t.Run("full overlap scores one", func(t *testing.T) {
		result, err := scorer.Score(ctx, core.ScoreParams{
			Item:  item,
			Label: "texture",
		})
		require.NoError(t, err)
		assert.Equal(t, 1.0, result.Score)
	})

	t.Run("disjoint text scores zero", func(t *testing.T) {
		result, err := scorer.Score(ctx, core.ScoreParams{
			Item:        item,
			Label:       "pigmentation",
			Observation: "dark spots under eyes",
		})
		require.NoError(t, err)
		assert.Equal(t, 0.0, result.Score)
	})

	t.Run("scoring is deterministic", func(t *testing.T) {
		params := core.ScoreParams{Item: item, Label: "texture", Observation: "redness"}
		first, err := scorer.Score(ctx, params)
		require.NoError(t, err)
		second, err := scorer.Score(ctx, params)
		require.NoError(t, err)
		assert.Equal(t, first.Score, second.Score)
	})

	t.Run("nil item is rejected", func(t *testing.T) {
		_, err := scorer.Score(ctx, core.ScoreParams{Label: "texture"})
		require.Error(t, err)
	})

	t.Run("item without text gets zero with a rationale", func(t *testing.T) {
		result, err := scorer.Score(ctx, core.ScoreParams{
			Item:  &model.KnowledgeItem{ID: "empty"},
			Label: "texture",
		})
		require.NoError(t, err)
		assert.Equal(t, 0.0, result.Score)
		assert.Contains(t, result.Rationale, "no descriptive text")
	})
}
