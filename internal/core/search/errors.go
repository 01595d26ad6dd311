package search

import "errors"

var (
	// ErrStoreUnavailable はベクトルストアを開けない・問い合わせできない場合に返されます
	// 「関連する結果がない」とは区別して扱うこと
	ErrStoreUnavailable = errors.New("vector store unavailable")

	// ErrInvalidQuery は質問や k が不正な場合に返されます
	ErrInvalidQuery = errors.New("invalid query")
)
