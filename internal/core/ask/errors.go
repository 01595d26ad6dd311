package ask

import (
	"errors"
	"fmt"
)

var (
	// ErrCollaboratorUnavailable は起動時に依存先（ストア・Embedding・生成モデル）を初期化できなかった場合に返されます
	ErrCollaboratorUnavailable = errors.New("collaborator unavailable")

	// ErrGenerationTimeout は生成モデルの呼び出しがタイムアウトした場合に返されます
	ErrGenerationTimeout = errors.New("generation timed out")

	// ErrInvalidTemplate はプロンプトテンプレートにプレースホルダーが欠けている場合に返されます
	ErrInvalidTemplate = errors.New("invalid prompt template")

	errNotConfigured = errors.New("not configured")
)

// Collaborator は外部依存先の種類
type Collaborator string

const (
	CollaboratorStore     Collaborator = "vector store"
	CollaboratorEmbedder  Collaborator = "embedding model"
	CollaboratorGenerator Collaborator = "language model"
)

// UnavailableError はどの依存先が利用できないかを表します
type UnavailableError struct {
	Collaborator Collaborator
	Err          error
}

func (e *UnavailableError) Error() string {
	return fmt.Sprintf("%s: %s: %v", ErrCollaboratorUnavailable, e.Collaborator, e.Err)
}

func (e *UnavailableError) Unwrap() []error {
	return []error{ErrCollaboratorUnavailable, e.Err}
}
