package redis

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/jinford/doc-rag/internal/core/embedding"
)

const (
	keyPrefix = "doc-rag:embedding:"

	// DefaultTTL はキャッシュエントリの保持期間
	DefaultTTL = 30 * 24 * time.Hour
)

// CachedEmbedder は Embedding を Redis にキャッシュする Embedder
// Embedding はモデル構成が同じなら決定的なので、モデル名・次元・テキストのハッシュをキーにする
// Redis の障害時は内側の Embedder にそのまま委譲する
type CachedEmbedder struct {
	client *redis.Client
	inner  embedding.Embedder
	ttl    time.Duration
	logger *slog.Logger
}

// Option は CachedEmbedder のオプション設定
type Option func(*CachedEmbedder)

// WithTTL はキャッシュの保持期間を設定する（0 の場合は無期限）
func WithTTL(ttl time.Duration) Option {
	return func(c *CachedEmbedder) {
		c.ttl = ttl
	}
}

// WithLogger はロガーを設定する
func WithLogger(logger *slog.Logger) Option {
	return func(c *CachedEmbedder) {
		c.logger = logger
	}
}

// NewCachedEmbedder は新しい CachedEmbedder を作成する
func NewCachedEmbedder(client *redis.Client, inner embedding.Embedder, opts ...Option) *CachedEmbedder {
	c := &CachedEmbedder{
		client: client,
		inner:  inner,
		ttl:    DefaultTTL,
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.logger == nil {
		c.logger = slog.Default()
	}
	return c
}

// Embed は単一テキストの Embedding を返す
func (c *CachedEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	vectors, err := c.BatchEmbed(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	if len(vectors) == 0 {
		return nil, fmt.Errorf("%w: no embeddings generated", embedding.ErrEmbedderUnavailable)
	}
	return vectors[0], nil
}

// BatchEmbed はキャッシュにないテキストだけを内側の Embedder に問い合わせる
func (c *CachedEmbedder) BatchEmbed(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, fmt.Errorf("no texts provided")
	}

	keys := make([]string, len(texts))
	for i, text := range texts {
		keys[i] = c.key(text)
	}

	vectors := make([][]float32, len(texts))
	var missing []int

	cached, err := c.client.MGet(ctx, keys...).Result()
	if err != nil {
		c.logger.Warn("embedding cache lookup failed", "error", err)
		cached = nil
	}
	for i := range texts {
		if vector, ok := c.decode(cached, i); ok {
			vectors[i] = vector
			continue
		}
		missing = append(missing, i)
	}

	if len(missing) == 0 {
		return vectors, nil
	}

	missingTexts := make([]string, len(missing))
	for j, i := range missing {
		missingTexts[j] = texts[i]
	}

	fresh, err := c.inner.BatchEmbed(ctx, missingTexts)
	if err != nil {
		return nil, err
	}
	if len(fresh) != len(missing) {
		return nil, fmt.Errorf("embedder returned %d vectors for %d texts", len(fresh), len(missing))
	}

	pipe := c.client.Pipeline()
	for j, i := range missing {
		vectors[i] = fresh[j]
		pipe.Set(ctx, keys[i], embedding.EncodeVector(fresh[j]), c.ttl)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		c.logger.Warn("embedding cache write failed", "error", err)
	}

	c.logger.Debug("embedding cache", "hits", len(texts)-len(missing), "misses", len(missing))

	return vectors, nil
}

// Spec は内側の Embedder の構成を返す
func (c *CachedEmbedder) Spec() embedding.Spec {
	return c.inner.Spec()
}

// MaxBatchSize は内側の Embedder の上限を引き継ぐ
func (c *CachedEmbedder) MaxBatchSize() int {
	if limiter, ok := c.inner.(interface{ MaxBatchSize() int }); ok {
		return limiter.MaxBatchSize()
	}
	return 0
}

func (c *CachedEmbedder) key(text string) string {
	sum := sha256.Sum256([]byte(text))
	spec := c.inner.Spec()
	return fmt.Sprintf("%s%s:%d:%s", keyPrefix, spec.Model, spec.Dimension, hex.EncodeToString(sum[:]))
}

func (c *CachedEmbedder) decode(cached []any, i int) ([]float32, bool) {
	if i >= len(cached) || cached[i] == nil {
		return nil, false
	}
	raw, ok := cached[i].(string)
	if !ok {
		return nil, false
	}
	vector, err := embedding.DecodeVector([]byte(raw))
	if err != nil || c.inner.Spec().CheckVector(vector) != nil {
		c.logger.Warn("discarding invalid cached embedding", "error", errors.Join(err, c.inner.Spec().CheckVector(vector)))
		return nil, false
	}
	return vector, true
}

// インターフェース実装の確認
var _ embedding.Embedder = (*CachedEmbedder)(nil)
