package chunk

import (
	"fmt"
	"unicode"

	"github.com/jinford/doc-rag/internal/core/ingestion"
)

const (
	// DefaultChunkSize はチャンクの最大文字数のデフォルト値
	DefaultChunkSize = 1000
	// DefaultOverlap は連続するチャンク間で共有する文字数のデフォルト値
	DefaultOverlap = 500
)

// DefaultSeparators は分割境界の優先順位（段落 → 行 → 単語 → 文字単位の強制分割）
var DefaultSeparators = []string{"\n\n", "\n", " ", ""}

// Splitter はドキュメントを重なりのある固定長チャンクに分割します
// 長さ・オフセットはすべて文字（rune）単位で扱います
type Splitter struct {
	chunkSize  int
	overlap    int
	separators [][]rune
}

// NewSplitter は新しい Splitter を作成します
// overlap >= chunkSize の場合は分割が進まなくなるため ErrInvalidConfig を返します
func NewSplitter(chunkSize, overlap int) (*Splitter, error) {
	if chunkSize <= 0 {
		return nil, fmt.Errorf("%w: chunk size must be positive, got %d", ingestion.ErrInvalidConfig, chunkSize)
	}
	if overlap < 0 {
		return nil, fmt.Errorf("%w: overlap must not be negative, got %d", ingestion.ErrInvalidConfig, overlap)
	}
	if overlap >= chunkSize {
		return nil, fmt.Errorf("%w: overlap (%d) must be smaller than chunk size (%d)", ingestion.ErrInvalidConfig, overlap, chunkSize)
	}

	return &Splitter{
		chunkSize:  chunkSize,
		overlap:    overlap,
		separators: toRunes(DefaultSeparators),
	}, nil
}

// Split はドキュメント群をチャンクに分割します
// 入力が空の場合は ErrEmptyCorpus を返します
func (s *Splitter) Split(docs []*ingestion.Document) ([]*ingestion.Chunk, error) {
	if len(docs) == 0 {
		return nil, ingestion.ErrEmptyCorpus
	}

	var chunks []*ingestion.Chunk
	for _, doc := range docs {
		chunks = append(chunks, s.SplitDocument(doc)...)
	}
	return chunks, nil
}

// SplitDocument は単一ドキュメントをチャンクに分割します
func (s *Splitter) SplitDocument(doc *ingestion.Document) []*ingestion.Chunk {
	text := []rune(doc.Content)

	var spans []span
	if len(text) <= s.chunkSize {
		spans = []span{{start: 0, end: len(text)}}
	} else {
		spans = s.splitSpan(text, span{start: 0, end: len(text)}, s.separators)
	}

	chunks := make([]*ingestion.Chunk, 0, len(spans))
	for _, sp := range spans {
		sp = trimSpace(text, sp)
		if sp.len() == 0 {
			continue
		}
		chunks = append(chunks, &ingestion.Chunk{
			Text:        string(text[sp.start:sp.end]),
			SourceID:    doc.ID,
			StartOffset: sp.start,
		})
	}
	return chunks
}

// span は元テキスト上の半開区間 [start, end)
type span struct {
	start int
	end   int
}

func (sp span) len() int {
	return sp.end - sp.start
}

// splitSpan は区間を区切り文字で分割し、短い断片はまとめ、長すぎる断片は次の区切り文字で再帰的に分割する
func (s *Splitter) splitSpan(text []rune, sp span, separators [][]rune) []span {
	sep, rest := pickSeparator(text, sp, separators)
	pieces := splitOn(text, sp, sep)

	var out, good []span
	for _, p := range pieces {
		if p.len() < s.chunkSize {
			good = append(good, p)
			continue
		}
		if len(good) > 0 {
			out = append(out, s.merge(good)...)
			good = nil
		}
		if len(rest) == 0 {
			out = append(out, p)
		} else {
			out = append(out, s.splitSpan(text, p, rest)...)
		}
	}
	if len(good) > 0 {
		out = append(out, s.merge(good)...)
	}
	return out
}

// merge は連続した断片を chunkSize 以内にまとめ、直前チャンクの末尾 overlap 文字分を次のチャンクに引き継ぐ
func (s *Splitter) merge(pieces []span) []span {
	var out []span
	var current []span
	total := 0

	for _, p := range pieces {
		if total+p.len() > s.chunkSize && len(current) > 0 {
			out = append(out, span{start: current[0].start, end: current[len(current)-1].end})
			for total > s.overlap || (total+p.len() > s.chunkSize && total > 0) {
				total -= current[0].len()
				current = current[1:]
			}
		}
		current = append(current, p)
		total += p.len()
	}

	if len(current) > 0 {
		out = append(out, span{start: current[0].start, end: current[len(current)-1].end})
	}
	return out
}

// pickSeparator は区間内に現れる最初の区切り文字と、再帰用の残りの区切り文字を返す
func pickSeparator(text []rune, sp span, separators [][]rune) ([]rune, [][]rune) {
	for i, sep := range separators {
		if len(sep) == 0 {
			return sep, nil
		}
		if indexOf(text, sp, sep) >= 0 {
			return sep, separators[i+1:]
		}
	}
	return separators[len(separators)-1], nil
}

// splitOn は区切り文字の直前で区間を分割する（区切り文字は後続の断片の先頭に残す）
func splitOn(text []rune, sp span, sep []rune) []span {
	if len(sep) == 0 {
		pieces := make([]span, 0, sp.len())
		for i := sp.start; i < sp.end; i++ {
			pieces = append(pieces, span{start: i, end: i + 1})
		}
		return pieces
	}

	var pieces []span
	start := sp.start
	for i := sp.start; i+len(sep) <= sp.end; {
		if hasPrefixAt(text, i, sep) {
			if i > start {
				pieces = append(pieces, span{start: start, end: i})
			}
			start = i
			i += len(sep)
			continue
		}
		i++
	}
	if start < sp.end {
		pieces = append(pieces, span{start: start, end: sp.end})
	}
	return pieces
}

func indexOf(text []rune, sp span, sep []rune) int {
	for i := sp.start; i+len(sep) <= sp.end; i++ {
		if hasPrefixAt(text, i, sep) {
			return i
		}
	}
	return -1
}

func hasPrefixAt(text []rune, at int, sep []rune) bool {
	for j, r := range sep {
		if text[at+j] != r {
			return false
		}
	}
	return true
}

// trimSpace は区間の前後の空白を除く（オフセットは元テキスト上の位置を保つ）
func trimSpace(text []rune, sp span) span {
	for sp.start < sp.end && unicode.IsSpace(text[sp.start]) {
		sp.start++
	}
	for sp.end > sp.start && unicode.IsSpace(text[sp.end-1]) {
		sp.end--
	}
	return sp
}

func toRunes(separators []string) [][]rune {
	out := make([][]rune, 0, len(separators))
	for _, sep := range separators {
		out = append(out, []rune(sep))
	}
	return out
}
