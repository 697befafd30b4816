package memory

import (
	"context"
	"sort"

	"github.com/lifeops/lifeops/pkg/model"
	"github.com/lifeops/lifeops/pkg/utils/logging"
	"github.com/m-mizutani/goerr/v2"
)

// SearchInput is a semantic search request. Zero Limit and nil Threshold take the defaults
// (5 and 0.7).
type SearchInput struct {
	Query     string
	OwnerID   string
	Type      model.MemoryType
	Category  model.MemoryCategory
	Tags      []string
	Limit     int
	Threshold *float64
}

// Search embeds the query and returns up to Limit non-deleted memories matching the
// filters whose similarity is at least Threshold, most similar first. No hit is not an
// error.
func (u *UseCase) Search(ctx context.Context, input SearchInput) ([]*model.ScoredMemory, error) {
	if input.Query == "" {
		return nil, goerr.Wrap(model.ErrValidation, "search query is empty")
	}

	limit := input.Limit
	if limit <= 0 {
		limit = DefaultSearchLimit
	}
	threshold := DefaultSearchThreshold
	if input.Threshold != nil {
		threshold = *input.Threshold
	}

	embedding, err := u.embed(ctx, input.Query)
	if err != nil {
		return nil, goerr.Wrap(err, "failed to embed search query")
	}

	filter := &model.MemoryFilter{
		OwnerID:  input.OwnerID,
		Type:     input.Type,
		Category: input.Category,
		Tags:     input.Tags,
	}
	candidates, err := u.repo.SearchMemories(ctx, filter, embedding, limit)
	if err != nil {
		return nil, goerr.Wrap(err, "failed to search memories", goerr.V("owner", input.OwnerID))
	}

	results := make([]*model.ScoredMemory, 0, len(candidates))
	for _, c := range candidates {
		if c.Similarity < threshold || !filter.Match(c.Memory) {
			continue
		}
		results = append(results, c)
	}
	sort.SliceStable(results, func(i, j int) bool {
		return results[i].Similarity > results[j].Similarity
	})

	logging.From(ctx).Debug("memory search",
		"owner", input.OwnerID,
		"candidates", len(candidates),
		"results", len(results),
		"threshold", threshold,
	)
	return results, nil
}
