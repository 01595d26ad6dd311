package ingestion

import "context"

// DocumentSource はコーパスからドキュメント一覧を取得するインターフェース
// ディレクトリが存在しない場合は空の結果ではなくエラーを返すこと
type DocumentSource interface {
	Load(ctx context.Context) ([]*Document, error)
}

// Splitter はドキュメントをチャンクに分割するインターフェース
type Splitter interface {
	Split(docs []*Document) ([]*Chunk, error)
}

// IndexWriter はベクトルストアへの書き込みインターフェース
type IndexWriter interface {
	// ReplaceAll は既存のインデックスを entries で丸ごと置き換える
	// 失敗時に部分的なインデックスを残してはならない
	ReplaceAll(ctx context.Context, manifest Manifest, entries []*IndexEntry) error
}
