package service

import (
	"context"
	"fmt"
	"strings"

	"github.com/lumiscan/lumiscan-api/internal/core"
	"github.com/lumiscan/lumiscan-api/internal/domain/model"
	apperrors "github.com/lumiscan/lumiscan-api/internal/errors"
)

// LexicalScorer is the default RelevanceScorer: a deterministic
// token-overlap heuristic between the candidate's text and the improvement
// area text. Deployments can swap in a model-backed scorer behind the same
// port.
type LexicalScorer struct{}

var _ core.RelevanceScorer = (*LexicalScorer)(nil)

// NewLexicalScorer constructs the default scorer.
func NewLexicalScorer() *LexicalScorer {
	return &LexicalScorer{}
}

// Score rates the overlap between the area text and the item text on
// [0, 1]. Label tokens weigh double since the label names the concern.
func (s *LexicalScorer) Score(_ context.Context, params core.ScoreParams) (core.ScoreResult, error) {
	if params.Item == nil {
		return core.ScoreResult{}, apperrors.Validation("item is required")
	}

	itemTokens := tokenize(itemText(params.Item))
	if len(itemTokens) == 0 {
		return core.ScoreResult{Score: 0, Rationale: "no descriptive text to compare"}, nil
	}

	labelTokens := tokenize(params.Label)
	obsTokens := tokenize(params.Observation)

	var hits, total float64
	for tok := range labelTokens {
		total += 2
		if itemTokens[tok] {
			hits += 2
		}
	}
	for tok := range obsTokens {
		if labelTokens[tok] {
			continue
		}
		total++
		if itemTokens[tok] {
			hits++
		}
	}
	if total == 0 {
		return core.ScoreResult{Score: 0, Rationale: "no area text to compare"}, nil
	}

	score := hits / total
	return core.ScoreResult{
		Score:     score,
		Rationale: fmt.Sprintf("matches %s for %q", params.Item.Category, params.Label),
	}, nil
}

func itemText(item *model.KnowledgeItem) string {
	parts := []string{item.DisplayName, item.Category, item.SideEffects}
	if item.Procedure != nil {
		parts = append(parts, item.Procedure.ClinicalGrade)
	}
	if item.SelfCare != nil {
		parts = append(parts, item.SelfCare.ProductType, item.SelfCare.Steps)
	}
	return strings.Join(parts, " ")
}

func tokenize(text string) map[string]bool {
	tokens := make(map[string]bool)
	for _, field := range strings.Fields(strings.ToLower(text)) {
		tok := strings.Trim(field, ".,;:!?()\"'")
		if len(tok) < 3 {
			continue
		}
		tokens[tok] = true
	}
	return tokens
}
