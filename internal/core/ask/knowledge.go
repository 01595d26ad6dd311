package ask

import (
	"strings"

	"github.com/jinford/doc-rag/internal/core/search"
)

// KnowledgeSeparator は知識ブロック内のチャンク区切り
const KnowledgeSeparator = "\n\n----\n\n"

// KnowledgeBlock は生成モデルに渡すコンテキスト文字列
type KnowledgeBlock string

// IsEmpty はコンテキストが存在しないかを返す
func (b KnowledgeBlock) IsEmpty() bool {
	return b == ""
}

// AssembleKnowledgeBlock は検索結果のテキストを受け取った順に連結する
// 切り詰めは行わない（サイズは TOP_K と CHUNK_SIZE で調整する）
func AssembleKnowledgeBlock(results []*search.RetrievalResult) KnowledgeBlock {
	if len(results) == 0 {
		return ""
	}

	texts := make([]string, 0, len(results))
	for _, r := range results {
		texts = append(texts, r.Text)
	}
	return KnowledgeBlock(strings.Join(texts, KnowledgeSeparator))
}
