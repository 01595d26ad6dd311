package ingestion

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Document はコーパスから読み込まれたドキュメントを表す（読み込み後は不変）
type Document struct {
	ID      string // 安定した識別子（ファイルパス、PDFはページ付き）
	Content string // 抽出済みテキスト
}

// Chunk はドキュメントの連続した部分文字列を表す（作成後は不変）
// オフセットと長さは文字（rune）単位
type Chunk struct {
	Text        string // チャンク本文
	SourceID    string // 元ドキュメントの識別子（参照のみ）
	StartOffset int    // 元ドキュメント内の開始位置
}

// Provenance はチャンクの出所を診断用に整形する
func (c *Chunk) Provenance() string {
	return fmt.Sprintf("%s@%d", c.SourceID, c.StartOffset)
}

// IndexEntry はベクトルストアに永続化される単位
type IndexEntry struct {
	Vector      []float32
	Text        string
	SourceID    string
	StartOffset int
}

// Manifest はインデックス構築ごとにストアへ記録されるメタデータ
// クエリ時の Embedding 構成の一致検証に使用する
type Manifest struct {
	BuildID   uuid.UUID
	Model     string
	Dimension int
	Entries   int
	BuiltAt   time.Time
}

// BuildReport はインデックス構築の結果を表す
type BuildReport struct {
	BuildID   uuid.UUID
	Documents int
	Chunks    int
	Entries   int
	Batches   int
	Model     string
	Dimension int
	Duration  time.Duration
}
