package retrieval

import (
	"context"
	"testing"

	"github.com/cloudwego/eino/components/embedding"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/asetia/portfolio-assistant/internal/model/rag"
)

type fakeEmbedder struct {
	calls int
}

func (f *fakeEmbedder) EmbedStrings(_ context.Context, texts []string, _ ...embedding.Option) ([][]float64, error) {
	f.calls++
	out := make([][]float64, len(texts))
	for i := range texts {
		out[i] = []float64{0.1, 0.2, 0.3}
	}
	return out, nil
}

type fakeIndex struct {
	byCategory map[string][]rag.Match
	queries    []string
}

func (f *fakeIndex) Query(_ context.Context, _ []float32, category string, _ int) ([]rag.Match, error) {
	f.queries = append(f.queries, category)
	return f.byCategory[category], nil
}

func match(id string, score float64, category string) rag.Match {
	return rag.Match{
		Chunk: rag.Chunk{ID: id, Content: "content " + id, Source: "resume.md", Category: category},
		Score: score,
	}
}

func TestSearchOrdersByScoreDescending(t *testing.T) {
	idx := &fakeIndex{byCategory: map[string][]rag.Match{
		"": {
			match("low", 0.40, ""),
			match("high", 0.91, ""),
			match("mid", 0.67, ""),
		},
	}}
	r := NewRetriever(&fakeEmbedder{}, idx, zap.NewNop())

	result, err := r.Search(context.Background(), "tell me about yourself", 5)
	require.NoError(t, err)
	require.Len(t, result, 3)

	assert.Equal(t, "high", result[0].Chunk.ID)
	assert.Equal(t, 0.91, result[0].Score)
	assert.Equal(t, "mid", result[1].Chunk.ID)
	assert.Equal(t, "low", result[2].Chunk.ID)

	for i := 1; i < len(result); i++ {
		assert.LessOrEqual(t, result[i].Score, result[i-1].Score)
	}
}

func TestSearchDropsMatchesBelowFloor(t *testing.T) {
	idx := &fakeIndex{byCategory: map[string][]rag.Match{
		"": {
			match("a", 0.24, ""),
			match("b", 0.10, ""),
		},
	}}
	r := NewRetriever(&fakeEmbedder{}, idx, zap.NewNop())

	result, err := r.Search(context.Background(), "weather on mars", 5)
	require.NoError(t, err)
	assert.Empty(t, result)
}

func TestSearchBackfillsWhenCategoryIsSparse(t *testing.T) {
	idx := &fakeIndex{byCategory: map[string][]rag.Match{
		rag.CategoryCareer: {
			match("career-1", 0.80, rag.CategoryCareer),
		},
		"": {
			match("career-1", 0.80, rag.CategoryCareer),
			match("general-1", 0.70, ""),
			match("general-2", 0.60, ""),
		},
	}}
	r := NewRetriever(&fakeEmbedder{}, idx, zap.NewNop())

	result, err := r.Search(context.Background(), "what was your last job", 3)
	require.NoError(t, err)

	require.Equal(t, []string{rag.CategoryCareer, ""}, idx.queries)
	require.Len(t, result, 3)
	assert.Equal(t, "career-1", result[0].Chunk.ID)
	assert.Equal(t, "general-1", result[1].Chunk.ID)
}

func TestSearchKeepsHighScoringCareerChunkAheadOfProjects(t *testing.T) {
	career := match("career-chunk", 0.91, rag.CategoryCareer)
	projects := match("projects-chunk", 0.40, rag.CategoryProjects)
	idx := &fakeIndex{byCategory: map[string][]rag.Match{
		rag.CategoryCareer: {career},
		"":                 {career, projects},
	}}
	r := NewRetriever(&fakeEmbedder{}, idx, zap.NewNop())

	result, err := r.Search(context.Background(), "tell me about your work experience", 3)
	require.NoError(t, err)

	require.Len(t, result, 2)
	assert.Equal(t, "career-chunk", result[0].Chunk.ID)
	assert.Equal(t, 0.91, result[0].Score)
	assert.Equal(t, "projects-chunk", result[1].Chunk.ID)
}

func TestSearchDedupesAcrossQueries(t *testing.T) {
	shared := match("dup", 0.85, rag.CategoryProjects)
	idx := &fakeIndex{byCategory: map[string][]rag.Match{
		rag.CategoryProjects: {shared},
		"":                   {shared, match("other", 0.50, "")},
	}}
	r := NewRetriever(&fakeEmbedder{}, idx, zap.NewNop())

	result, err := r.Search(context.Background(), "what projects have you built", 5)
	require.NoError(t, err)

	ids := make([]string, 0, len(result))
	for _, m := range result {
		ids = append(ids, m.Chunk.ID)
	}
	assert.Equal(t, []string{"dup", "other"}, ids)
}

func TestSearchTruncatesToTopK(t *testing.T) {
	idx := &fakeIndex{byCategory: map[string][]rag.Match{
		"": {
			match("a", 0.9, ""), match("b", 0.8, ""), match("c", 0.7, ""),
			match("d", 0.6, ""), match("e", 0.5, ""),
		},
	}}
	r := NewRetriever(&fakeEmbedder{}, idx, zap.NewNop())

	result, err := r.Search(context.Background(), "hello there", 2)
	require.NoError(t, err)
	require.Len(t, result, 2)
	assert.Equal(t, "a", result[0].Chunk.ID)
	assert.Equal(t, "b", result[1].Chunk.ID)
}

func TestInferCategory(t *testing.T) {
	cases := []struct {
		query string
		want  string
	}{
		{"what was your last job", rag.CategoryCareer},
		{"tell me about your work experience", rag.CategoryCareer},
		{"what projects have you built", rag.CategoryProjects},
		{"show me your portfolio apps", rag.CategoryProjects},
		{"what is your favorite color", ""},
	}
	for _, tc := range cases {
		t.Run(tc.query, func(t *testing.T) {
			assert.Equal(t, tc.want, inferCategory(tc.query))
		})
	}
}

func TestFormatContext(t *testing.T) {
	result := rag.Result{
		{Chunk: rag.Chunk{ID: "1", Content: "Led backend team.", Source: "resume.md", Section: "Experience"}, Score: 0.9},
		{Chunk: rag.Chunk{ID: "2", Content: "Built a chat app.", Source: "projects.md"}, Score: 0.8},
	}

	got := FormatContext(result)
	assert.Contains(t, got, "[1] From resume.md - Experience:\nLed backend team.")
	assert.Contains(t, got, "[2] From projects.md:\nBuilt a chat app.")

	assert.Empty(t, FormatContext(nil))
}

func TestSearchNilDependenciesReturnsEmpty(t *testing.T) {
	r := NewRetriever(nil, nil, zap.NewNop())
	result, err := r.Search(context.Background(), "anything", 5)
	require.NoError(t, err)
	assert.Empty(t, result)
}
