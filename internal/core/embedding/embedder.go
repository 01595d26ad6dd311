package embedding

import (
	"context"
	"fmt"
)

// Embedder はテキストのEmbedding生成インターフェース
// インデックス構築時とクエリ時で同じ実装を使うことが前提
type Embedder interface {
	// Embed は単一テキストのEmbeddingを生成する
	Embed(ctx context.Context, text string) ([]float32, error)

	// BatchEmbed はバッチでEmbeddingを生成する（入力と同じ順序で返す）
	BatchEmbed(ctx context.Context, texts []string) ([][]float32, error)

	// Spec はモデル名と次元数を返す
	Spec() Spec
}

// Spec はEmbeddingモデルの構成を表す
// Indexer と Retriever の双方に明示的に渡され、次元の一致を構築時に検証できるようにする
type Spec struct {
	Model     string
	Dimension int
}

// Validate は Spec の値を検証する
func (s Spec) Validate() error {
	if s.Model == "" {
		return fmt.Errorf("%w: embedding model is empty", ErrEmbeddingMismatch)
	}
	if s.Dimension <= 0 {
		return fmt.Errorf("%w: embedding dimension must be positive, got %d", ErrEmbeddingMismatch, s.Dimension)
	}
	return nil
}

// CheckCompatible は別の Spec（ストアに記録された構成など）と一致するか検証する
func (s Spec) CheckCompatible(other Spec) error {
	if s.Dimension != other.Dimension {
		return fmt.Errorf("%w: dimension %d != %d", ErrEmbeddingMismatch, s.Dimension, other.Dimension)
	}
	if s.Model != other.Model {
		return fmt.Errorf("%w: model %q != %q", ErrEmbeddingMismatch, s.Model, other.Model)
	}
	return nil
}

// CheckVector はベクトルの次元が Spec と一致するか検証する
func (s Spec) CheckVector(vector []float32) error {
	if len(vector) != s.Dimension {
		return fmt.Errorf("%w: got %d-dimensional vector, want %d", ErrEmbeddingMismatch, len(vector), s.Dimension)
	}
	return nil
}

func (s Spec) String() string {
	return fmt.Sprintf("%s/%d", s.Model, s.Dimension)
}
