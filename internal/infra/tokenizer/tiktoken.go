package tokenizer

import (
	"fmt"

	"github.com/pkoukk/tiktoken-go"

	"github.com/jinford/doc-rag/internal/core/ask"
)

// DefaultEncoding は OpenAI の埋め込み・チャットモデルが使うエンコーディング
const DefaultEncoding = "cl100k_base"

// Counter は tiktoken によるトークンカウンタ
type Counter struct {
	enc      *tiktoken.Tiktoken
	encoding string
}

var _ ask.TokenCounter = (*Counter)(nil)

// New は指定したエンコーディングのトークンカウンタを作成する
// 空文字列の場合は DefaultEncoding を使う
func New(encoding string) (*Counter, error) {
	if encoding == "" {
		encoding = DefaultEncoding
	}
	enc, err := tiktoken.GetEncoding(encoding)
	if err != nil {
		return nil, fmt.Errorf("failed to load tiktoken encoding %s: %w", encoding, err)
	}
	return &Counter{enc: enc, encoding: encoding}, nil
}

// CountTokens はテキストのトークン数を返す
func (c *Counter) CountTokens(text string) int {
	return len(c.enc.Encode(text, nil, nil))
}

// Encoding は使用中のエンコーディング名を返す
func (c *Counter) Encoding() string {
	return c.encoding
}
