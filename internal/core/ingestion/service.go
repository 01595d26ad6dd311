package ingestion

import (
	"context"
	"fmt"
	"log/slog"
	"time"
)

// IndexService はコーパス全体からインデックスを構築するユースケースを提供する
// 読み込み → チャンク分割 → Embedding・書き込み を1回のバッチジョブとして実行する
type IndexService struct {
	source   DocumentSource
	splitter Splitter
	indexer  *Indexer
	store    IndexWriter
	logger   *slog.Logger
}

type indexServiceOptions struct {
	logger *slog.Logger
}

// IndexServiceOption は IndexService のオプション設定
type IndexServiceOption func(*indexServiceOptions)

// WithIndexLogger は IndexService にロガーを設定する
func WithIndexLogger(logger *slog.Logger) IndexServiceOption {
	return func(o *indexServiceOptions) {
		o.logger = logger
	}
}

// NewIndexService は新しいIndexServiceを作成する
func NewIndexService(
	source DocumentSource,
	splitter Splitter,
	indexer *Indexer,
	store IndexWriter,
	opts ...IndexServiceOption,
) *IndexService {
	options := indexServiceOptions{logger: slog.Default()}
	for _, opt := range opts {
		opt(&options)
	}
	if options.logger == nil {
		options.logger = slog.Default()
	}

	return &IndexService{
		source:   source,
		splitter: splitter,
		indexer:  indexer,
		store:    store,
		logger:   options.logger,
	}
}

// Build はコーパスを読み込み、インデックスを再構築する
// ドキュメントが1件もない場合はストアに触れずに ErrEmptyCorpus を返す
func (s *IndexService) Build(ctx context.Context) (*BuildReport, error) {
	startTime := time.Now()

	docs, err := s.source.Load(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to load documents: %w", err)
	}
	if len(docs) == 0 {
		return nil, ErrEmptyCorpus
	}
	s.logger.Info("documents loaded", "documents", len(docs))

	chunks, err := s.splitter.Split(docs)
	if err != nil {
		return nil, fmt.Errorf("failed to split documents: %w", err)
	}
	if len(chunks) == 0 {
		// テキストを含まないドキュメントのみの場合
		return nil, fmt.Errorf("%w: %d documents contained no text", ErrEmptyCorpus, len(docs))
	}
	s.logger.Info("documents split into chunks", "documents", len(docs), "chunks", len(chunks))

	report, err := s.indexer.Build(ctx, chunks, s.store)
	if err != nil {
		return nil, err
	}

	report.Documents = len(docs)
	report.Duration = time.Since(startTime)

	return report, nil
}
