package rerank

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/coreindex/coreindex/internal/search"
)

type fakeReranker struct {
	scores    map[string]float64
	err       error
	available bool
	closed    bool
}

func (f *fakeReranker) Rerank(_ context.Context, _ string, cands []*search.SearchResult, topK int) ([]*search.SearchResult, error) {
	if f.err != nil {
		return nil, f.err
	}
	out := make([]*search.SearchResult, len(cands))
	for i, c := range cands {
		clone := *c
		clone.Metadata = map[string]any{"rerank_score": f.scores[c.FilePath]}
		out[i] = &clone
	}
	if topK > 0 && topK < len(out) {
		out = out[:topK]
	}
	return out, nil
}

func (f *fakeReranker) Available(context.Context) bool { return f.available }
func (f *fakeReranker) Close() error                    { f.closed = true; return nil }

func TestHybridReranker_BlendsBothScoresOnSuccess(t *testing.T) {
	primary := &fakeReranker{scores: map[string]float64{"filea.go": 1.0, "fileb.go": 0.0}, available: true}
	fallback := &fakeReranker{scores: map[string]float64{"filea.go": 0.0, "fileb.go": 1.0}, available: true}

	h := NewHybridReranker(primary, fallback, HybridConfig{PrimaryWeight: 0.5, FallbackWeight: 0.5})
	out, err := h.Rerank(context.Background(), "q", candidates("a", "b"), 2)
	require.NoError(t, err)
	require.Len(t, out, 2)

	// Both candidates should land at combined score 0.5; ordering among
	// ties is stable but the key assertion is that both scores blended.
	for _, r := range out {
		assert.Equal(t, 0.5, r.Metadata["rerank_score"])
	}
}

func TestHybridReranker_FallsBackOnPrimaryError(t *testing.T) {
	primary := &fakeReranker{err: newError(ErrKindNetwork, "test", errors.New("boom"))}
	fallback := &fakeReranker{scores: map[string]float64{"filea.go": 0.7}, available: true}

	h := NewHybridReranker(primary, fallback, DefaultHybridConfig())
	out, err := h.Rerank(context.Background(), "q", candidates("a"), 1)
	require.NoError(t, err)
	require.Len(t, out, 1)
	assert.Equal(t, 0.7, out[0].Metadata["rerank_score"])
}

func TestHybridReranker_PrimaryErrorNoFallbackPropagatesKind(t *testing.T) {
	primary := &fakeReranker{err: newError(ErrKindAuthFailed, "test", errors.New("denied"))}
	h := NewHybridReranker(primary, nil, DefaultHybridConfig())

	_, err := h.Rerank(context.Background(), "q", candidates("a"), 1)
	require.Error(t, err)
	assert.Equal(t, ErrKindAuthFailed, KindOf(err))
}

func TestHybridReranker_FallbackErrorKeepsPrimaryOrdering(t *testing.T) {
	primary := &fakeReranker{scores: map[string]float64{"filea.go": 0.9}, available: true}
	fallback := &fakeReranker{err: errors.New("fallback down")}

	h := NewHybridReranker(primary, fallback, DefaultHybridConfig())
	out, err := h.Rerank(context.Background(), "q", candidates("a"), 1)
	require.NoError(t, err)
	require.Len(t, out, 1)
	assert.Equal(t, "filea.go", out[0].FilePath)
}

func TestHybridReranker_CloseClosesBoth(t *testing.T) {
	primary := &fakeReranker{available: true}
	fallback := &fakeReranker{available: true}
	h := NewHybridReranker(primary, fallback, DefaultHybridConfig())

	require.NoError(t, h.Close())
	assert.True(t, primary.closed)
	assert.True(t, fallback.closed)
}
