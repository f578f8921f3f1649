package service

import (
	"context"
	"fmt"
	"log/slog"
	"sort"

	"github.com/lumiscan/lumiscan-api/config"
	"github.com/lumiscan/lumiscan-api/internal/core"
	"github.com/lumiscan/lumiscan-api/internal/domain/model"
	apperrors "github.com/lumiscan/lumiscan-api/internal/errors"
	"github.com/lumiscan/lumiscan-api/internal/observability/statsd"
)

// neutralScore is assigned when the scorer cannot produce a verdict for a
// candidate. A scoring failure never aborts the batch.
const neutralScore = 0.5

// MatchServiceOptions groups dependencies for MatchService.
type MatchServiceOptions struct {
	Repo    core.KnowledgeRepository // Required: knowledge corpus
	Scorer  core.RelevanceScorer     // Required: candidate scorer
	Config  config.MatchConfig       // Required: K and pool sizing
	Logger  *slog.Logger             // Optional: structured logger
	Metrics statsd.Sink              // Optional: metrics sink (StatsD-compatible)
}

// MatchService selects the knowledge items most relevant to a set of
// improvement areas.
type MatchService struct {
	repo    core.KnowledgeRepository
	scorer  core.RelevanceScorer
	config  config.MatchConfig
	logger  *slog.Logger
	metrics statsd.Sink
}

// NewMatchService constructs a new MatchService.
func NewMatchService(opts MatchServiceOptions) (*MatchService, error) {
	if opts.Repo == nil {
		return nil, fmt.Errorf("KnowledgeRepository is required")
	}
	if opts.Scorer == nil {
		return nil, fmt.Errorf("RelevanceScorer is required")
	}

	var logger *slog.Logger
	if opts.Logger != nil {
		logger = opts.Logger.With("component", "match_service")
	}

	return &MatchService{
		repo:    opts.Repo,
		scorer:  opts.Scorer,
		config:  opts.Config,
		logger:  logger,
		metrics: opts.Metrics,
	}, nil
}

// candidate pairs a corpus item with the improvement area it was first
// collected for.
type candidate struct {
	item *model.KnowledgeItem
	area model.ImprovementArea
}

// Match returns the top-K corpus items for the given improvement areas.
// Candidates are collected per area across both corpus kinds, deduplicated
// by id with the first-encountered area winning, scored, and stably sorted
// by score descending so ties keep collection order.
func (s *MatchService) Match(ctx context.Context, areas []model.ImprovementArea) ([]model.MatchResult, error) {
	if len(areas) == 0 {
		return nil, apperrors.Validation("at least one improvement area is required")
	}

	candidates, err := s.collect(ctx, areas)
	if err != nil {
		return nil, err
	}
	if len(candidates) == 0 {
		return nil, nil
	}

	scored := s.scoreAll(ctx, candidates)

	sort.SliceStable(scored, func(i, j int) bool {
		return scored[i].Score > scored[j].Score
	})
	if len(scored) > s.config.TopK {
		scored = scored[:s.config.TopK]
	}
	for i := range scored {
		scored[i].DisplayOrder = i + 1
	}

	if s.metrics != nil {
		s.metrics.Count("match.batch", 1, map[string]string{"result": "success"})
		s.metrics.Gauge("match.results", float64(len(scored)), nil)
	}
	return scored, nil
}

// collect gathers up to multiplier x K candidates per area across both
// kinds, deduplicated by item id.
func (s *MatchService) collect(ctx context.Context, areas []model.ImprovementArea) ([]candidate, error) {
	poolPerArea := s.config.TopK * s.config.CandidateMultiplier
	seen := make(map[string]bool)
	var out []candidate

	for _, area := range areas {
		collected := 0
		for _, kind := range []model.KnowledgeKind{model.KnowledgeKindProcedure, model.KnowledgeKindSelfCare} {
			if collected >= poolPerArea {
				break
			}
			items, err := s.repo.Search(ctx, core.KnowledgeSearchParams{
				Kind:    kind,
				Keyword: area.Label,
				Limit:   poolPerArea - collected,
			})
			if err != nil {
				return nil, fmt.Errorf("search %s corpus: %w", kind, err)
			}
			for _, item := range items {
				if seen[item.ID] {
					continue
				}
				seen[item.ID] = true
				out = append(out, candidate{item: item, area: area})
				collected++
			}
		}
	}
	return out, nil
}

// scoreAll scores every candidate, substituting the neutral score when the
// scorer fails.
func (s *MatchService) scoreAll(ctx context.Context, candidates []candidate) []model.MatchResult {
	results := make([]model.MatchResult, 0, len(candidates))
	for _, c := range candidates {
		res, err := s.scorer.Score(ctx, core.ScoreParams{
			Item:        c.item,
			Label:       c.area.Label,
			Observation: c.area.Observation,
		})
		if err == nil && (res.Score < 0 || res.Score > 1) {
			// Scores outside [0, 1] are treated as scorer failures.
			err = fmt.Errorf("score %v out of range", res.Score)
		}
		if err != nil {
			if s.logger != nil {
				s.logger.WarnContext(ctx, "scoring failed, assigning neutral score",
					"item_id", c.item.ID, "error", err)
			}
			if s.metrics != nil {
				s.metrics.Count("match.score_fallback", 1, nil)
			}
			res = core.ScoreResult{
				Score:     neutralScore,
				Rationale: fmt.Sprintf("relevance to %q could not be assessed", c.area.Label),
			}
		}
		results = append(results, model.MatchResult{
			ItemID:    c.item.ID,
			Kind:      c.item.Kind,
			Score:     res.Score,
			Rationale: res.Rationale,
		})
	}
	return results
}
