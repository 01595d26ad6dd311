package search

import (
	"context"

	"github.com/jinford/doc-rag/internal/core/ingestion"
)

// Store はベクトルストアの読み取りインターフェース
type Store interface {
	// Query は vector に近い順に最大 k 件を返す
	// 同点の場合は書き込み順を保つこと
	Query(ctx context.Context, vector []float32, k int) ([]*RetrievalResult, error)

	// Manifest は構築時に記録されたEmbedding構成を返す
	Manifest(ctx context.Context) (ingestion.Manifest, error)

	Close() error
}
