package ingestion

import (
	"errors"
	"fmt"
)

var (
	// ErrInvalidConfig はチャンク分割パラメータが不正な場合に返されます（起動時に検出、構築は中止）
	ErrInvalidConfig = errors.New("invalid chunking config")

	// ErrEmptyCorpus は入力ドキュメントが存在しない場合に返されます（インデックスは作成しない）
	ErrEmptyCorpus = errors.New("empty corpus")

	// ErrIndexBuildFailed は Embedding 生成またはストア書き込みに失敗した場合に返されます
	// 部分的なインデックスは有効とみなされません
	ErrIndexBuildFailed = errors.New("index build failed")
)

// BuildError はインデックス構築の失敗を、原因となったチャンクの出所とともに表します
type BuildError struct {
	Op    string // 操作名（embed, write など）
	Chunk *Chunk // 失敗したチャンク（書き込み失敗など特定できない場合は nil）
	Err   error
}

func (e *BuildError) Error() string {
	if e.Chunk != nil {
		return fmt.Sprintf("%s: %s: %s (source=%s, offset=%d)", ErrIndexBuildFailed, e.Op, e.Err, e.Chunk.SourceID, e.Chunk.StartOffset)
	}
	return fmt.Sprintf("%s: %s: %s", ErrIndexBuildFailed, e.Op, e.Err)
}

func (e *BuildError) Unwrap() []error {
	return []error{ErrIndexBuildFailed, e.Err}
}

// NewBuildError は新しいBuildErrorを作成します
func NewBuildError(op string, chunk *Chunk, err error) *BuildError {
	return &BuildError{
		Op:    op,
		Chunk: chunk,
		Err:   err,
	}
}
