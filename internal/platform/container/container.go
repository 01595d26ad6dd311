package container

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/jackc/pgx/v5/pgxpool"
	goredis "github.com/redis/go-redis/v9"
	"github.com/samber/mo"

	"github.com/jinford/doc-rag/internal/core/ask"
	"github.com/jinford/doc-rag/internal/core/embedding"
	"github.com/jinford/doc-rag/internal/core/ingestion"
	"github.com/jinford/doc-rag/internal/core/ingestion/chunk"
	"github.com/jinford/doc-rag/internal/core/search"
	"github.com/jinford/doc-rag/internal/infra/document"
	"github.com/jinford/doc-rag/internal/infra/openai"
	"github.com/jinford/doc-rag/internal/infra/postgres"
	"github.com/jinford/doc-rag/internal/infra/redis"
	"github.com/jinford/doc-rag/internal/infra/sqlite"
	"github.com/jinford/doc-rag/internal/infra/tokenizer"
	"github.com/jinford/doc-rag/internal/platform/config"
	"github.com/jinford/doc-rag/internal/platform/database"
)

// VectorStore はインデックスの書き込みと検索の両方を提供するストア
type VectorStore interface {
	ingestion.IndexWriter
	search.Store
}

// ServiceContainer は設定から各サービスの依存関係を組み立てる。
// 外部への接続は必要になった時点で行う。
type ServiceContainer struct {
	cfg     *config.Config
	options containerOptions

	pool    *pgxpool.Pool
	redis   *goredis.Client
	closers []func() error
}

type containerOptions struct {
	logger       *slog.Logger
	embedder     embedding.Embedder
	generator    ask.Generator
	store        VectorStore
	source       ingestion.DocumentSource
	tokenCounter ask.TokenCounter
}

// ContainerOption は ServiceContainer 構築時のオプション
type ContainerOption func(*containerOptions)

// WithContainerLogger はロガーを差し替える
func WithContainerLogger(logger *slog.Logger) ContainerOption {
	return func(opts *containerOptions) {
		opts.logger = logger
	}
}

// WithContainerEmbedder はカスタム Embedder を注入する
func WithContainerEmbedder(embedder embedding.Embedder) ContainerOption {
	return func(opts *containerOptions) {
		opts.embedder = embedder
	}
}

// WithContainerGenerator は生成モデルのクライアントを差し替える
func WithContainerGenerator(generator ask.Generator) ContainerOption {
	return func(opts *containerOptions) {
		opts.generator = generator
	}
}

// WithContainerStore はベクトルストアを差し替える
func WithContainerStore(store VectorStore) ContainerOption {
	return func(opts *containerOptions) {
		opts.store = store
	}
}

// WithContainerDocumentSource はコーパスの読み込み元を差し替える
func WithContainerDocumentSource(source ingestion.DocumentSource) ContainerOption {
	return func(opts *containerOptions) {
		opts.source = source
	}
}

// WithContainerTokenCounter は TokenCounter を差し替える
func WithContainerTokenCounter(counter ask.TokenCounter) ContainerOption {
	return func(opts *containerOptions) {
		opts.tokenCounter = counter
	}
}

// New は設定からコンテナを生成する。
func New(cfg *config.Config, opts ...ContainerOption) *ServiceContainer {
	options := containerOptions{logger: slog.Default()}
	for _, opt := range opts {
		opt(&options)
	}
	if options.logger == nil {
		options.logger = slog.Default()
	}

	return &ServiceContainer{
		cfg:     cfg,
		options: options,
	}
}

// Logger はロガーを返す。
func (c *ServiceContainer) Logger() *slog.Logger {
	if c == nil || c.options.logger == nil {
		return slog.Default()
	}
	return c.options.logger
}

// IndexService はインデックス構築用のサービスを生成する。
// 構築時は依存先の初期化失敗をそのままエラーとして返す。
func (c *ServiceContainer) IndexService(ctx context.Context) (*ingestion.IndexService, error) {
	splitter, err := chunk.NewSplitter(c.cfg.Chunking.Size, c.cfg.Chunking.Overlap)
	if err != nil {
		return nil, err
	}

	source := c.options.source
	if source == nil {
		loader, err := document.NewDirectoryLoader(
			c.cfg.Corpus.Dir,
			c.cfg.Corpus.Glob,
			document.WithLoaderLogger(c.Logger()),
		)
		if err != nil {
			return nil, fmt.Errorf("failed to initialize document loader: %w", err)
		}
		source = loader
	}

	embedder, err := c.embedder()
	if err != nil {
		return nil, fmt.Errorf("failed to initialize embedder: %w", err)
	}

	indexer, err := ingestion.NewIndexer(
		embedder,
		c.cfg.EmbeddingSpec(),
		ingestion.WithBatchSize(c.cfg.Embedding.BatchSize),
		ingestion.WithConcurrency(c.cfg.Embedding.Concurrency),
		ingestion.WithIndexerLogger(c.Logger()),
	)
	if err != nil {
		return nil, err
	}

	store, err := c.writerStore(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize vector store: %w", err)
	}

	return ingestion.NewIndexService(
		source,
		splitter,
		indexer,
		store,
		ingestion.WithIndexLogger(c.Logger()),
	), nil
}

// AskService は質問応答用のサービスを生成する。
// 依存先の初期化失敗は mo.Err として AskService に渡し、質問時の診断メッセージにする。
func (c *ServiceContainer) AskService(ctx context.Context) (*ask.AskService, error) {
	template, err := c.cfg.PromptTemplate()
	if err != nil {
		return nil, err
	}

	collaborators := ask.Collaborators{
		Store:     mo.TupleToResult(c.readerStore(ctx)),
		Embedder:  mo.TupleToResult(c.embedder()),
		Generator: mo.TupleToResult(c.generator()),
	}

	opts := []ask.AskServiceOption{ask.WithAskLogger(c.Logger())}
	if counter := c.tokenCounter(); counter != nil {
		opts = append(opts, ask.WithTokenCounter(counter))
	}

	svc := ask.NewAskService(collaborators, ask.Settings{
		Spec:              c.cfg.EmbeddingSpec(),
		TopK:              c.cfg.Retrieval.TopK,
		Threshold:         c.cfg.Retrieval.RelevanceThreshold,
		Metric:            c.cfg.ScoreMetric(),
		Template:          template,
		GenerationTimeout: c.cfg.Generation.Timeout,
		MaxContextTokens:  c.cfg.Retrieval.MaxContextTokens,
	}, opts...)

	// 起動時にインデックスのEmbedding構成を確認しておく（不一致は以降の質問で報告される）
	if retriever, err := svc.Retriever().Get(); err == nil {
		if err := retriever.CheckCompatibility(ctx); err != nil {
			c.Logger().Warn("index compatibility check failed", "error", err)
		}
	}

	return svc, nil
}

// Close は内部リソースを解放する。
func (c *ServiceContainer) Close() error {
	if c == nil {
		return nil
	}
	var errs []error
	for i := len(c.closers) - 1; i >= 0; i-- {
		if err := c.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	c.closers = nil
	return errors.Join(errs...)
}

func (c *ServiceContainer) embedder() (embedding.Embedder, error) {
	if c.options.embedder != nil {
		return c.options.embedder, nil
	}

	base, err := openai.NewEmbedder(
		c.cfg.OpenAI.APIKey,
		openai.WithEmbeddingModel(c.cfg.OpenAI.EmbeddingModel),
		openai.WithEmbeddingDimension(c.cfg.OpenAI.EmbeddingDimension),
		openai.WithEmbeddingBaseURL(c.cfg.OpenAI.BaseURL),
	)
	if err != nil {
		return nil, err
	}

	if c.cfg.Redis.Addr == "" {
		return base, nil
	}

	return redis.NewCachedEmbedder(
		c.redisClient(),
		base,
		redis.WithTTL(c.cfg.Redis.TTL),
		redis.WithLogger(c.Logger()),
	), nil
}

func (c *ServiceContainer) generator() (ask.Generator, error) {
	if c.options.generator != nil {
		return c.options.generator, nil
	}
	client, err := openai.NewClient(
		c.cfg.OpenAI.APIKey,
		c.cfg.OpenAI.LLMModel,
		openai.WithBaseURL(c.cfg.OpenAI.BaseURL),
	)
	if err != nil {
		return nil, err
	}
	return client, nil
}

func (c *ServiceContainer) tokenCounter() ask.TokenCounter {
	if c.options.tokenCounter != nil {
		return c.options.tokenCounter
	}
	counter, err := tokenizer.New(tokenizer.DefaultEncoding)
	if err != nil {
		// 計測は警告用途のみなので、失敗しても質問応答は続ける
		c.Logger().Warn("token counter unavailable, context size will not be measured", "error", err)
		return nil
	}
	return counter
}

// writerStore はインデックス構築用のストアを返す（sqlite ではファイルが無くてもよい）
func (c *ServiceContainer) writerStore(ctx context.Context) (ingestion.IndexWriter, error) {
	if c.options.store != nil {
		return c.options.store, nil
	}

	switch c.cfg.Store.Driver {
	case config.StoreDriverPgvector:
		// スキーマは ReplaceAll の中で作成する
		store, err := c.pgvectorStore(ctx)
		if err != nil {
			return nil, err
		}
		return store, nil
	default:
		store := sqlite.New(c.cfg.Store.Location, sqlite.WithLogger(c.Logger()))
		c.closers = append(c.closers, store.Close)
		return store, nil
	}
}

// readerStore は検索用のストアを返す（インデックスが存在しない場合はエラー）
func (c *ServiceContainer) readerStore(ctx context.Context) (search.Store, error) {
	if c.options.store != nil {
		return c.options.store, nil
	}

	switch c.cfg.Store.Driver {
	case config.StoreDriverPgvector:
		store, err := c.pgvectorStore(ctx)
		if err != nil {
			return nil, err
		}
		return store, nil
	default:
		store, err := sqlite.OpenReader(ctx, c.cfg.Store.Location, sqlite.WithLogger(c.Logger()))
		if err != nil {
			return nil, err
		}
		c.closers = append(c.closers, store.Close)
		return store, nil
	}
}

func (c *ServiceContainer) pgvectorStore(ctx context.Context) (*postgres.VectorStore, error) {
	if c.pool == nil {
		pool, err := database.Connect(ctx, database.ConnectionParams{
			Host:     c.cfg.Database.Host,
			Port:     c.cfg.Database.Port,
			User:     c.cfg.Database.User,
			Password: c.cfg.Database.Password,
			DBName:   c.cfg.Database.DBName,
			SSLMode:  c.cfg.Database.SSLMode,
		})
		if err != nil {
			return nil, fmt.Errorf("%w: %w", search.ErrStoreUnavailable, err)
		}
		c.pool = pool
		c.closers = append(c.closers, func() error {
			pool.Close()
			return nil
		})
	}

	return postgres.NewVectorStore(c.pool, c.cfg.Store.Location, postgres.WithLogger(c.Logger())), nil
}

func (c *ServiceContainer) redisClient() *goredis.Client {
	if c.redis == nil {
		c.redis = goredis.NewClient(&goredis.Options{
			Addr:     c.cfg.Redis.Addr,
			Password: c.cfg.Redis.Password,
			DB:       c.cfg.Redis.DB,
		})
		c.closers = append(c.closers, c.redis.Close)
	}
	return c.redis
}

// IndexManifest は現在のインデックスの構築情報を返す
func (c *ServiceContainer) IndexManifest(ctx context.Context) (ingestion.Manifest, error) {
	store, err := c.readerStore(ctx)
	if err != nil {
		return ingestion.Manifest{}, err
	}
	return store.Manifest(ctx)
}
