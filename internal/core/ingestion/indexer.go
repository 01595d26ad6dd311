package ingestion

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/jinford/doc-rag/internal/core/embedding"
)

const (
	// DefaultEmbeddingBatchSize はEmbedding APIのデフォルトバッチサイズ
	DefaultEmbeddingBatchSize = 64
	// DefaultEmbeddingConcurrency は同時に処理するバッチ数のデフォルト値
	DefaultEmbeddingConcurrency = 4
	// MinBatchSize は最小バッチサイズ（MaxBatchSize()が0を返した場合のフォールバック）
	MinBatchSize = 1
)

// batchLimiter は1リクエストあたりの最大バッチサイズを公開する Embedder が実装する
type batchLimiter interface {
	MaxBatchSize() int
}

// Indexer はチャンクをEmbeddingしてベクトルストアに書き込む
type Indexer struct {
	embedder    embedding.Embedder
	spec        embedding.Spec
	batchSize   int
	concurrency int
	logger      *slog.Logger
}

// IndexerOption は Indexer のオプション設定
type IndexerOption func(*Indexer)

// WithBatchSize はバッチサイズを上書きする
func WithBatchSize(size int) IndexerOption {
	return func(i *Indexer) {
		i.batchSize = size
	}
}

// WithConcurrency は同時実行バッチ数を上書きする
func WithConcurrency(n int) IndexerOption {
	return func(i *Indexer) {
		i.concurrency = n
	}
}

// WithIndexerLogger はロガーを設定する
func WithIndexerLogger(logger *slog.Logger) IndexerOption {
	return func(i *Indexer) {
		i.logger = logger
	}
}

// NewIndexer は新しい Indexer を作成する
// spec と Embedder の構成が一致しない場合はこの時点でエラーを返す
func NewIndexer(embedder embedding.Embedder, spec embedding.Spec, opts ...IndexerOption) (*Indexer, error) {
	if err := spec.Validate(); err != nil {
		return nil, err
	}
	if err := spec.CheckCompatible(embedder.Spec()); err != nil {
		return nil, fmt.Errorf("embedder does not match index spec: %w", err)
	}

	idx := &Indexer{
		embedder:    embedder,
		spec:        spec,
		batchSize:   DefaultEmbeddingBatchSize,
		concurrency: DefaultEmbeddingConcurrency,
		logger:      slog.Default(),
	}
	for _, opt := range opts {
		opt(idx)
	}

	if limiter, ok := embedder.(batchLimiter); ok {
		if limit := limiter.MaxBatchSize(); limit > 0 && idx.batchSize > limit {
			idx.batchSize = limit
		}
	}
	if idx.batchSize < MinBatchSize {
		idx.batchSize = MinBatchSize
	}
	if idx.concurrency < 1 {
		idx.concurrency = 1
	}
	if idx.logger == nil {
		idx.logger = slog.Default()
	}

	return idx, nil
}

// Build は全チャンクをEmbeddingし、ストアのインデックスを丸ごと置き換える
// いずれかのチャンクで失敗した場合は構築全体を中止し ErrIndexBuildFailed を返す
func (idx *Indexer) Build(ctx context.Context, chunks []*Chunk, store IndexWriter) (*BuildReport, error) {
	if len(chunks) == 0 {
		return nil, ErrEmptyCorpus
	}

	startTime := time.Now()
	buildID := uuid.New()

	idx.logger.Info("starting index build",
		"buildID", buildID,
		"chunks", len(chunks),
		"batchSize", idx.batchSize,
		"concurrency", idx.concurrency,
		"embedding", idx.spec.String(),
	)

	vectors := make([][]float32, len(chunks))
	batches := 0

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(idx.concurrency)

	for start := 0; start < len(chunks); start += idx.batchSize {
		end := min(start+idx.batchSize, len(chunks))
		batches++

		g.Go(func() error {
			batchVectors, err := idx.embedBatch(gctx, chunks[start:end])
			if err != nil {
				return err
			}
			copy(vectors[start:end], batchVectors)
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		var buildErr *BuildError
		if errors.As(err, &buildErr) {
			return nil, buildErr
		}
		return nil, NewBuildError("embed", nil, err)
	}

	entries := make([]*IndexEntry, len(chunks))
	for i, chunk := range chunks {
		entries[i] = &IndexEntry{
			Vector:      vectors[i],
			Text:        chunk.Text,
			SourceID:    chunk.SourceID,
			StartOffset: chunk.StartOffset,
		}
	}

	manifest := Manifest{
		BuildID:   buildID,
		Model:     idx.spec.Model,
		Dimension: idx.spec.Dimension,
		Entries:   len(entries),
		BuiltAt:   time.Now().UTC(),
	}

	if err := store.ReplaceAll(ctx, manifest, entries); err != nil {
		return nil, NewBuildError("write", nil, err)
	}

	report := &BuildReport{
		BuildID:   buildID,
		Chunks:    len(chunks),
		Entries:   len(entries),
		Batches:   batches,
		Model:     idx.spec.Model,
		Dimension: idx.spec.Dimension,
		Duration:  time.Since(startTime),
	}

	idx.logger.Info("index build completed",
		"buildID", buildID,
		"entries", report.Entries,
		"batches", report.Batches,
		"duration", report.Duration,
	)

	return report, nil
}

// embedBatch は1バッチ分のEmbeddingを生成する
// バッチ呼び出しが失敗した場合は1件ずつ再実行して原因のチャンクを特定する
func (idx *Indexer) embedBatch(ctx context.Context, batch []*Chunk) ([][]float32, error) {
	texts := make([]string, len(batch))
	for i, chunk := range batch {
		texts[i] = chunk.Text
	}

	vectors, err := idx.embedder.BatchEmbed(ctx, texts)
	if err == nil && len(vectors) != len(batch) {
		return nil, NewBuildError("embed", batch[0], fmt.Errorf("embedder returned %d vectors for %d texts", len(vectors), len(batch)))
	}
	if err != nil {
		if ctx.Err() != nil {
			return nil, NewBuildError("embed", batch[0], ctx.Err())
		}

		idx.logger.Warn("batch embedding failed, isolating failing chunk",
			"batchSize", len(batch),
			"firstChunk", batch[0].Provenance(),
			"error", err,
		)

		vectors, err = idx.embedOneByOne(ctx, batch)
		if err != nil {
			return nil, err
		}
	}

	for i, vector := range vectors {
		if err := idx.spec.CheckVector(vector); err != nil {
			return nil, NewBuildError("embed", batch[i], err)
		}
	}

	return vectors, nil
}

func (idx *Indexer) embedOneByOne(ctx context.Context, batch []*Chunk) ([][]float32, error) {
	vectors := make([][]float32, len(batch))
	for i, chunk := range batch {
		vector, err := idx.embedder.Embed(ctx, chunk.Text)
		if err != nil {
			return nil, NewBuildError("embed", chunk, err)
		}
		vectors[i] = vector
	}
	return vectors, nil
}
