package service

import (
	"context"
	"sort"
	"strings"

	"github.com/claimguard-jp/claimguard/internal/domain"
)

const (
	lexicalWeight = 0.85
	vectorWeight  = 1.0

	// Candidates below this combined score are noise, not matches.
	minCombinedScore = 0.25

	defaultCandidateLimit = 50
)

// EmbeddingClient defines the interface for generating embeddings
type EmbeddingClient interface {
	GenerateEmbedding(ctx context.Context, text string) ([]float32, error)
}

// DictionarySearchRepository is the read-only dictionary lookup the
// resolver ranks over.
type DictionarySearchRepository interface {
	SearchSimilar(ctx context.Context, orgID, text string, embedding []float32, limit int) ([]*domain.RankedCandidate, error)
}

// Resolver ranks an organization's dictionary entries against submitted
// text using a hybrid lexical+vector score. It is read-only and
// side-effect-free; memoization is the caller's concern.
type Resolver struct {
	repo      DictionarySearchRepository
	embedding EmbeddingClient // nil when no embedding capability is configured
	limit     int
}

func NewResolver(repo DictionarySearchRepository, embedding EmbeddingClient) *Resolver {
	return &Resolver{
		repo:      repo,
		embedding: embedding,
		limit:     defaultCandidateLimit,
	}
}

// Resolve returns ranked candidate phrases for text, highest combined
// score first. Entries without an embedding rank on the lexical signal
// alone. An embedding failure degrades to lexical-only rather than
// failing the resolve.
func (r *Resolver) Resolve(ctx context.Context, text, orgID string) ([]*domain.RankedCandidate, error) {
	query := strings.TrimSpace(text)
	if query == "" {
		return []*domain.RankedCandidate{}, nil
	}

	var embedding []float32
	if r.embedding != nil {
		var err error
		embedding, err = r.embedding.GenerateEmbedding(ctx, query)
		if err != nil {
			embedding = nil
		}
	}

	candidates, err := r.repo.SearchSimilar(ctx, orgID, query, embedding, r.limit)
	if err != nil {
		return nil, err
	}

	ranked := make([]*domain.RankedCandidate, 0, len(candidates))
	for _, c := range candidates {
		c.Score = lexicalWeight*c.LexicalScore + vectorWeight*c.VectorScore
		if c.Score < minCombinedScore {
			continue
		}
		ranked = append(ranked, c)
	}

	sort.Slice(ranked, func(i, j int) bool {
		if ranked[i].Score != ranked[j].Score {
			return ranked[i].Score > ranked[j].Score
		}
		return ranked[i].Phrase < ranked[j].Phrase
	})

	return ranked, nil
}
