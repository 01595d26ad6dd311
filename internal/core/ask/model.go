package ask

// Outcome は1回の質問応答の終了状態を表す
type Outcome string

const (
	// OutcomeAnswered は生成モデルの回答をそのまま返した
	OutcomeAnswered Outcome = "answered"
	// OutcomeNoContext は関連するコンテキストが見つからず定型の回答を返した（生成モデルは呼ばない）
	OutcomeNoContext Outcome = "no_context"
	// OutcomeCollaboratorUnavailable は起動時に初期化できなかった依存先がある
	OutcomeCollaboratorUnavailable Outcome = "collaborator_unavailable"
	// OutcomeStoreUnavailable はクエリ時にベクトルストアへ問い合わせできなかった
	OutcomeStoreUnavailable Outcome = "store_unavailable"
	// OutcomeEmbeddingMismatch はインデックスとクエリのEmbedding構成が一致しない
	OutcomeEmbeddingMismatch Outcome = "embedding_mismatch"
	// OutcomeGenerationTimeout は生成モデルの呼び出しがタイムアウトした
	OutcomeGenerationTimeout Outcome = "generation_timeout"
	// OutcomeFailed はその他の実行時エラー
	OutcomeFailed Outcome = "failed"
)

// ユーザーに表示する定型メッセージ
const (
	RefusalMessage          = "I could not find a relevant answer in the knowledge base. Try rephrasing your question."
	unavailableMessage      = "Error: the %s could not be initialized. Check the logs."
	StoreUnavailableMessage = "Error: the vector store could not be queried. Check the logs."
	MismatchMessage         = "Error: the index was built with a different embedding configuration. Rebuild the index."
	TimeoutMessage          = "Error: the language model did not respond in time. Try again later."
	FailedMessage           = "Error: the question could not be answered. Check the logs."
)

// AskResult は質問応答の結果を表す
// Answer には Outcome に関わらずユーザーに表示する文字列が入る
type AskResult struct {
	Outcome Outcome           // 終了状態
	Answer  string            // 回答または定型メッセージ
	Sources []SourceReference // 参照したソース情報（Answered の場合のみ）
	Err     error             // 失敗時の原因（ログ用）
}

// SourceReference は回答の根拠となったソース参照を表す
type SourceReference struct {
	SourceID    string  // ドキュメントID
	StartOffset int     // 開始位置（文字数）
	Score       float64 // 関連度スコア
}

// Answered は生成モデルの回答が得られたかを返す
func (r *AskResult) Answered() bool {
	return r.Outcome == OutcomeAnswered
}
