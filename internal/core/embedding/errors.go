package embedding

import "errors"

var (
	// ErrEmbeddingMismatch はインデックス構築時とクエリ時でEmbedding構成（次元・モデル）が一致しない場合に返されます
	// インデックスを再構築すれば回復できます
	ErrEmbeddingMismatch = errors.New("embedding mismatch")

	// ErrEmbedderUnavailable はEmbeddingモデルへの接続・呼び出しに失敗した場合に返されます
	ErrEmbedderUnavailable = errors.New("embedder unavailable")
)
