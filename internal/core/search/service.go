package search

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/jinford/doc-rag/internal/core/embedding"
)

// Retriever は質問に関連するチャンクをベクトルストアから取得する
type Retriever struct {
	store    Store
	embedder embedding.Embedder
	spec     embedding.Spec
	metric   ScoreMetric
	logger   *slog.Logger

	mu        sync.Mutex
	checked   bool
	compatErr error
}

// RetrieverOption は Retriever のオプション設定
type RetrieverOption func(*Retriever)

// WithScoreMetric はストアが返すスコアの極性を設定する
func WithScoreMetric(metric ScoreMetric) RetrieverOption {
	return func(r *Retriever) {
		r.metric = metric
	}
}

// WithRetrieverLogger はロガーを設定する
func WithRetrieverLogger(logger *slog.Logger) RetrieverOption {
	return func(r *Retriever) {
		r.logger = logger
	}
}

// NewRetriever は新しい Retriever を作成する
// embedder の構成が spec と一致しない場合はエラーを返す
func NewRetriever(store Store, embedder embedding.Embedder, spec embedding.Spec, opts ...RetrieverOption) (*Retriever, error) {
	if err := spec.Validate(); err != nil {
		return nil, err
	}
	if err := spec.CheckCompatible(embedder.Spec()); err != nil {
		return nil, fmt.Errorf("embedder does not match index spec: %w", err)
	}

	r := &Retriever{
		store:    store,
		embedder: embedder,
		spec:     spec,
		metric:   MetricDistance,
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(r)
	}
	if r.logger == nil {
		r.logger = slog.Default()
	}

	return r, nil
}

// Metric は判定に使うスコアの極性を返す
func (r *Retriever) Metric() ScoreMetric {
	return r.metric
}

// CheckCompatibility はストアに記録されたEmbedding構成と spec を照合する
// 不一致の結果はキャッシュされ、以降のすべての検索が ErrEmbeddingMismatch で失敗する
func (r *Retriever) CheckCompatibility(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.checked {
		return r.compatErr
	}

	manifest, err := r.store.Manifest(ctx)
	if err != nil {
		// ストア障害はキャッシュしない（次回の検索で再確認する）
		return wrapStoreError(err)
	}

	r.checked = true
	stored := embedding.Spec{Model: manifest.Model, Dimension: manifest.Dimension}
	if err := r.spec.CheckCompatible(stored); err != nil {
		r.compatErr = fmt.Errorf("index was built with %s, query uses %s: %w", stored, r.spec, err)
		r.logger.Error("embedding configuration does not match index", "index", stored.String(), "query", r.spec.String())
	}

	return r.compatErr
}

// Retrieve は質問に近いチャンクを最大 k 件、関連度の高い順に返す
// 最上位の結果が閾値を満たさない場合は空のスライスを返す
func (r *Retriever) Retrieve(ctx context.Context, question string, k int, threshold float64) ([]*RetrievalResult, error) {
	if strings.TrimSpace(question) == "" {
		return nil, fmt.Errorf("%w: question is empty", ErrInvalidQuery)
	}
	if k <= 0 {
		return nil, fmt.Errorf("%w: k must be positive, got %d", ErrInvalidQuery, k)
	}

	if err := r.CheckCompatibility(ctx); err != nil {
		return nil, err
	}

	vector, err := r.embedder.Embed(ctx, question)
	if err != nil {
		if errors.Is(err, embedding.ErrEmbedderUnavailable) {
			return nil, err
		}
		return nil, fmt.Errorf("%w: failed to embed question: %w", embedding.ErrEmbedderUnavailable, err)
	}
	if err := r.spec.CheckVector(vector); err != nil {
		return nil, err
	}

	results, err := r.store.Query(ctx, vector, k)
	if err != nil {
		return nil, wrapStoreError(err)
	}
	if len(results) > k {
		results = results[:k]
	}

	if len(results) == 0 {
		r.logger.Debug("no results from vector store")
		return []*RetrievalResult{}, nil
	}

	top := results[0].Score
	if !r.metric.Passes(top, threshold) {
		r.logger.Debug("top result rejected by relevance gate",
			"score", top,
			"threshold", threshold,
			"metric", r.metric,
		)
		return []*RetrievalResult{}, nil
	}

	return results, nil
}

// wrapStoreError はストアのエラーを ErrStoreUnavailable として返す
// ストアが検出した次元の不一致は ErrEmbeddingMismatch のまま返す
func wrapStoreError(err error) error {
	if errors.Is(err, ErrStoreUnavailable) || errors.Is(err, embedding.ErrEmbeddingMismatch) {
		return err
	}
	return fmt.Errorf("%w: %w", ErrStoreUnavailable, err)
}
