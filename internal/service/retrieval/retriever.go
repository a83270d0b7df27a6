package retrieval

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/cloudwego/eino/components/embedding"
	"go.uber.org/zap"

	"github.com/asetia/portfolio-assistant/internal/model/rag"
)

// Matches below the floor carry no usable signal and are dropped; an empty
// result tells the caller there is no grounding available.
const relevanceFloor = 0.25

// Index abstracts the vector store so the retriever can be exercised without
// a live Postgres.
type Index interface {
	Query(ctx context.Context, vec []float32, category string, limit int) ([]rag.Match, error)
}

// Retriever answers similarity queries over the portfolio chunk index with
// metadata-aware prioritization.
type Retriever struct {
	embedder embedding.Embedder
	index    Index
	log      *zap.Logger
}

func NewRetriever(embedder embedding.Embedder, index Index, log *zap.Logger) *Retriever {
	return &Retriever{embedder: embedder, index: index, log: log}
}

// Search embeds the query, runs a category-aware similarity search and
// returns at most topK matches sorted by descending score. Ties keep the
// index-return order. An empty result is not an error.
func (r *Retriever) Search(ctx context.Context, query string, topK int) (rag.Result, error) {
	if r.embedder == nil || r.index == nil {
		return nil, nil
	}
	if topK <= 0 {
		topK = 5
	}

	vec, err := r.embedQuery(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("embed query: %w", err)
	}

	category := inferCategory(query)

	var matches []rag.Match
	if category != "" {
		constrained, err := r.index.Query(ctx, vec, category, topK*2)
		if err != nil {
			return nil, err
		}
		matches = constrained
	}

	// Backfill from the unconstrained index so an over-narrow category never
	// starves the context window.
	if len(matches) < topK {
		general, err := r.index.Query(ctx, vec, "", topK*2)
		if err != nil {
			return nil, err
		}
		matches = append(matches, general...)
	}

	result := rank(matches, topK)

	r.log.Debug("retrieval complete",
		zap.String("category", category),
		zap.Int("matches", len(result)))
	return result, nil
}

// rank dedupes by chunk id, drops matches below the relevance floor and
// returns the top k by score. The sort is stable so equal scores preserve
// arrival order.
func rank(matches []rag.Match, topK int) rag.Result {
	seen := make(map[string]bool, len(matches))
	result := make(rag.Result, 0, len(matches))
	for _, m := range matches {
		if seen[m.Chunk.ID] || m.Score < relevanceFloor {
			continue
		}
		seen[m.Chunk.ID] = true
		result = append(result, m)
	}

	sort.SliceStable(result, func(i, j int) bool {
		return result[i].Score > result[j].Score
	})

	if len(result) > topK {
		result = result[:topK]
	}
	return result
}

func (r *Retriever) embedQuery(ctx context.Context, query string) ([]float32, error) {
	vecs, err := r.embedder.EmbedStrings(ctx, []string{query})
	if err != nil {
		return nil, err
	}
	if len(vecs) == 0 {
		return nil, fmt.Errorf("provider returned no embedding")
	}

	vec := make([]float32, len(vecs[0]))
	for i, v := range vecs[0] {
		vec[i] = float32(v)
	}
	return vec, nil
}

var categoryKeywords = map[string][]string{
	rag.CategoryCareer: {
		"role", "job", "work", "worked", "company", "career", "experience",
		"employer", "position", "hired", "responsibilit",
	},
	rag.CategoryProjects: {
		"project", "built", "build", "portfolio", "app", "side", "open source",
		"github", "demo", "hack",
	},
}

// inferCategory maps query keywords to a document category, empty when the
// intent is ambiguous.
func inferCategory(query string) string {
	lowered := strings.ToLower(query)

	best := ""
	bestHits := 0
	for _, category := range []string{rag.CategoryCareer, rag.CategoryProjects} {
		hits := 0
		for _, kw := range categoryKeywords[category] {
			if strings.Contains(lowered, kw) {
				hits++
			}
		}
		if hits > bestHits {
			best, bestHits = category, hits
		}
	}
	return best
}

// FormatContext renders retrieved chunks for prompt inclusion, each annotated
// with its source document and section path.
func FormatContext(result rag.Result) string {
	if len(result) == 0 {
		return ""
	}

	parts := make([]string, 0, len(result))
	for i, match := range result {
		header := fmt.Sprintf("[%d] From %s", i+1, match.Chunk.Source)
		if match.Chunk.Section != "" {
			header += " - " + match.Chunk.Section
		}
		parts = append(parts, header+":\n"+strings.TrimSpace(match.Chunk.Content))
	}
	return strings.Join(parts, "\n\n")
}
