package search

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jinford/doc-rag/internal/core/embedding"
	"github.com/jinford/doc-rag/internal/core/ingestion"
)

var testSpec = embedding.Spec{Model: "stub-model", Dimension: 3}

type stubEmbedder struct {
	spec   embedding.Spec
	vector []float32
	err    error
	called int
}

func (e *stubEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	e.called++
	if e.err != nil {
		return nil, e.err
	}
	return e.vector, nil
}

func (e *stubEmbedder) BatchEmbed(ctx context.Context, texts []string) ([][]float32, error) {
	return nil, errors.New("not used")
}

func (e *stubEmbedder) Spec() embedding.Spec { return e.spec }

type stubStore struct {
	results       []*RetrievalResult
	manifest      ingestion.Manifest
	queryErr      error
	manifestErr   error
	lastK         int
	queries       int
	manifestCalls int
}

func (s *stubStore) Query(ctx context.Context, vector []float32, k int) ([]*RetrievalResult, error) {
	s.queries++
	s.lastK = k
	if s.queryErr != nil {
		return nil, s.queryErr
	}
	return s.results, nil
}

func (s *stubStore) Manifest(ctx context.Context) (ingestion.Manifest, error) {
	s.manifestCalls++
	return s.manifest, s.manifestErr
}

func (s *stubStore) Close() error { return nil }

func newStubs() (*stubStore, *stubEmbedder) {
	store := &stubStore{
		manifest: ingestion.Manifest{Model: testSpec.Model, Dimension: testSpec.Dimension},
	}
	embedder := &stubEmbedder{spec: testSpec, vector: []float32{1, 0, 0}}
	return store, embedder
}

func newTestRetriever(t *testing.T, store Store, embedder embedding.Embedder, opts ...RetrieverOption) *Retriever {
	t.Helper()
	opts = append(opts, WithRetrieverLogger(slog.New(slog.NewTextHandler(io.Discard, nil))))
	r, err := NewRetriever(store, embedder, testSpec, opts...)
	require.NoError(t, err)
	return r
}

func TestRetrieveRelevanceGate(t *testing.T) {
	tests := []struct {
		name      string
		metric    ScoreMetric
		top       float64
		threshold float64
		wantPass  bool
	}{
		{name: "距離: 閾値未満は通過", metric: MetricDistance, top: 0.3, threshold: 0.6, wantPass: true},
		{name: "距離: 閾値ちょうどは通過", metric: MetricDistance, top: 0.6, threshold: 0.6, wantPass: true},
		{name: "距離: 閾値超過は棄却", metric: MetricDistance, top: 0.6000001, threshold: 0.6, wantPass: false},
		{name: "類似度: 閾値超過は通過", metric: MetricSimilarity, top: 0.9, threshold: 0.6, wantPass: true},
		{name: "類似度: 閾値ちょうどは通過", metric: MetricSimilarity, top: 0.6, threshold: 0.6, wantPass: true},
		{name: "類似度: 閾値未満は棄却", metric: MetricSimilarity, top: 0.59, threshold: 0.6, wantPass: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store, embedder := newStubs()
			store.results = []*RetrievalResult{
				{Text: "top", SourceID: "a", Score: tt.top},
				{Text: "weak", SourceID: "b", Score: 10},
			}
			r := newTestRetriever(t, store, embedder, WithScoreMetric(tt.metric))

			results, err := r.Retrieve(context.Background(), "question", 3, tt.threshold)
			require.NoError(t, err)

			if tt.wantPass {
				require.Len(t, results, 2, "最上位以外は個別に判定しない")
				assert.Equal(t, "top", results[0].Text)
			} else {
				assert.Empty(t, results)
			}
		})
	}
}

func TestRetrieveKeepsStoreOrder(t *testing.T) {
	store, embedder := newStubs()
	store.results = []*RetrievalResult{
		{Text: "first", Score: 0.1},
		{Text: "tie-a", Score: 0.2},
		{Text: "tie-b", Score: 0.2},
	}
	r := newTestRetriever(t, store, embedder)

	results, err := r.Retrieve(context.Background(), "question", 3, 0.6)
	require.NoError(t, err)
	require.Len(t, results, 3)
	assert.Equal(t, []string{"first", "tie-a", "tie-b"}, []string{results[0].Text, results[1].Text, results[2].Text})
	assert.Equal(t, 3, store.lastK)
}

func TestRetrieveTruncatesToK(t *testing.T) {
	store, embedder := newStubs()
	store.results = []*RetrievalResult{{Text: "a", Score: 0.1}, {Text: "b", Score: 0.2}, {Text: "c", Score: 0.3}}
	r := newTestRetriever(t, store, embedder)

	results, err := r.Retrieve(context.Background(), "question", 2, 0.6)
	require.NoError(t, err)
	assert.Len(t, results, 2)
}

func TestRetrieveEmptyStore(t *testing.T) {
	store, embedder := newStubs()
	r := newTestRetriever(t, store, embedder)

	results, err := r.Retrieve(context.Background(), "question", 3, 0.6)
	require.NoError(t, err)
	assert.Empty(t, results)
}

func TestRetrieveStoreUnavailableIsDistinct(t *testing.T) {
	store, embedder := newStubs()
	store.queryErr = errors.New("connection refused")
	r := newTestRetriever(t, store, embedder)

	results, err := r.Retrieve(context.Background(), "question", 3, 0.6)
	assert.ErrorIs(t, err, ErrStoreUnavailable)
	assert.Nil(t, results)
}

func TestRetrieveStoreMismatchKeepsKind(t *testing.T) {
	store, embedder := newStubs()
	store.queryErr = fmt.Errorf("%w: query has 3 dimensions, index has 4", embedding.ErrEmbeddingMismatch)
	r := newTestRetriever(t, store, embedder)

	_, err := r.Retrieve(context.Background(), "question", 3, 0.6)
	assert.ErrorIs(t, err, embedding.ErrEmbeddingMismatch)
	assert.NotErrorIs(t, err, ErrStoreUnavailable)
}

func TestRetrieveEmbedderFailure(t *testing.T) {
	store, embedder := newStubs()
	embedder.err = errors.New("timeout")
	r := newTestRetriever(t, store, embedder)

	_, err := r.Retrieve(context.Background(), "question", 3, 0.6)
	assert.ErrorIs(t, err, embedding.ErrEmbedderUnavailable)
	assert.Equal(t, 0, store.queries)
}

func TestRetrieveRejectsWrongDimension(t *testing.T) {
	store, embedder := newStubs()
	embedder.vector = []float32{1, 0}
	r := newTestRetriever(t, store, embedder)

	_, err := r.Retrieve(context.Background(), "question", 3, 0.6)
	assert.ErrorIs(t, err, embedding.ErrEmbeddingMismatch)
	assert.Equal(t, 0, store.queries)
}

func TestRetrieveManifestMismatchIsCached(t *testing.T) {
	store, embedder := newStubs()
	store.manifest = ingestion.Manifest{Model: "other-model", Dimension: 1536}
	r := newTestRetriever(t, store, embedder)

	for range 2 {
		_, err := r.Retrieve(context.Background(), "question", 3, 0.6)
		assert.ErrorIs(t, err, embedding.ErrEmbeddingMismatch)
	}
	assert.Equal(t, 1, store.manifestCalls)
	assert.Equal(t, 0, embedder.called)
}

func TestCheckCompatibilityStoreErrorNotCached(t *testing.T) {
	store, embedder := newStubs()
	store.manifestErr = errors.New("index file not found")
	r := newTestRetriever(t, store, embedder)

	err := r.CheckCompatibility(context.Background())
	assert.ErrorIs(t, err, ErrStoreUnavailable)

	store.manifestErr = nil
	assert.NoError(t, r.CheckCompatibility(context.Background()))
	assert.Equal(t, 2, store.manifestCalls)
}

func TestRetrieveInvalidQuery(t *testing.T) {
	store, embedder := newStubs()
	r := newTestRetriever(t, store, embedder)

	_, err := r.Retrieve(context.Background(), "  ", 3, 0.6)
	assert.ErrorIs(t, err, ErrInvalidQuery)

	_, err = r.Retrieve(context.Background(), "question", 0, 0.6)
	assert.ErrorIs(t, err, ErrInvalidQuery)
}

func TestNewRetrieverRejectsMismatchedEmbedder(t *testing.T) {
	store, _ := newStubs()
	embedder := &stubEmbedder{spec: embedding.Spec{Model: "stub-model", Dimension: 4}}

	_, err := NewRetriever(store, embedder, testSpec)
	assert.ErrorIs(t, err, embedding.ErrEmbeddingMismatch)
}

func TestParseScoreMetric(t *testing.T) {
	m, err := ParseScoreMetric("Similarity")
	require.NoError(t, err)
	assert.Equal(t, MetricSimilarity, m)

	m, err = ParseScoreMetric("")
	require.NoError(t, err)
	assert.Equal(t, MetricDistance, m)

	_, err = ParseScoreMetric("manhattan")
	assert.Error(t, err)
}
