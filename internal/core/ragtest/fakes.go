// Package ragtest はパイプラインのテスト用フェイクを提供します
package ragtest

import (
	"context"
	"errors"
	"slices"
	"strings"
	"sync"
	"unicode"

	"github.com/jinford/doc-rag/internal/core/embedding"
	"github.com/jinford/doc-rag/internal/core/ingestion"
	"github.com/jinford/doc-rag/internal/core/search"
)

// VocabEmbedder は固定語彙の出現回数ベクトルを返す決定的な Embedder です
// 語彙に含まれない単語は無視されます
type VocabEmbedder struct {
	model string
	index map[string]int
	dim   int

	mu    sync.Mutex
	calls int
}

// NewVocabEmbedder は語彙から VocabEmbedder を生成します
func NewVocabEmbedder(model string, vocabulary ...string) *VocabEmbedder {
	index := make(map[string]int, len(vocabulary))
	for i, w := range vocabulary {
		index[strings.ToLower(w)] = i
	}
	return &VocabEmbedder{model: model, index: index, dim: len(vocabulary)}
}

func (e *VocabEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	e.mu.Lock()
	e.calls++
	e.mu.Unlock()

	v := make([]float32, e.dim)
	words := strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
	for _, w := range words {
		if i, ok := e.index[w]; ok {
			v[i]++
		}
	}
	return v, nil
}

func (e *VocabEmbedder) BatchEmbed(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i, text := range texts {
		v, err := e.Embed(ctx, text)
		if err != nil {
			return nil, err
		}
		out[i] = v
	}
	return out, nil
}

func (e *VocabEmbedder) Spec() embedding.Spec {
	return embedding.Spec{Model: e.model, Dimension: e.dim}
}

// Calls は Embed の呼び出し回数を返します
func (e *VocabEmbedder) Calls() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.calls
}

// MemoryStore はコサイン距離で全件探索するインメモリのベクトルストアです
type MemoryStore struct {
	mu       sync.Mutex
	manifest *ingestion.Manifest
	entries  []*ingestion.IndexEntry
	queries  int
	writes   int
}

var (
	_ ingestion.IndexWriter = (*MemoryStore)(nil)
	_ search.Store          = (*MemoryStore)(nil)
)

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{}
}

func (s *MemoryStore) ReplaceAll(ctx context.Context, manifest ingestion.Manifest, entries []*ingestion.IndexEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.writes++
	s.manifest = &manifest
	s.entries = slices.Clone(entries)
	return nil
}

func (s *MemoryStore) Query(ctx context.Context, vector []float32, k int) ([]*search.RetrievalResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.queries++
	if s.manifest == nil {
		return nil, errors.New("index has not been built")
	}

	results := make([]*search.RetrievalResult, 0, len(s.entries))
	for _, e := range s.entries {
		results = append(results, &search.RetrievalResult{
			Text:        e.Text,
			SourceID:    e.SourceID,
			StartOffset: e.StartOffset,
			Score:       embedding.CosineDistance(vector, e.Vector),
		})
	}
	slices.SortStableFunc(results, func(a, b *search.RetrievalResult) int {
		switch {
		case a.Score < b.Score:
			return -1
		case a.Score > b.Score:
			return 1
		}
		return 0
	})
	if len(results) > k {
		results = results[:k]
	}
	return results, nil
}

func (s *MemoryStore) Manifest(ctx context.Context) (ingestion.Manifest, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.manifest == nil {
		return ingestion.Manifest{}, search.ErrStoreUnavailable
	}
	return *s.manifest, nil
}

func (s *MemoryStore) Close() error { return nil }

// Queries は Query の呼び出し回数を返します
func (s *MemoryStore) Queries() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.queries
}

// Writes は ReplaceAll の呼び出し回数を返します
func (s *MemoryStore) Writes() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.writes
}

// Entries は保存されているエントリ数を返します
func (s *MemoryStore) Entries() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.entries)
}

// Generator は呼び出し回数と最後のプロンプトを記録する生成モデルのフェイクです
type Generator struct {
	mu         sync.Mutex
	Reply      string
	Err        error
	Block      bool // true の場合 ctx がキャンセルされるまで待つ
	calls      int
	lastPrompt string
}

func (g *Generator) GenerateCompletion(ctx context.Context, prompt string) (string, error) {
	g.mu.Lock()
	g.calls++
	g.lastPrompt = prompt
	g.mu.Unlock()

	if g.Block {
		<-ctx.Done()
		return "", ctx.Err()
	}
	if g.Err != nil {
		return "", g.Err
	}
	return g.Reply, nil
}

// Calls は GenerateCompletion の呼び出し回数を返します
func (g *Generator) Calls() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.calls
}

// LastPrompt は最後に渡されたプロンプトを返します
func (g *Generator) LastPrompt() string {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.lastPrompt
}
