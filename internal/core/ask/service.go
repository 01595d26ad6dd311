package ask

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/samber/mo"

	"github.com/jinford/doc-rag/internal/core/embedding"
	"github.com/jinford/doc-rag/internal/core/search"
)

// Generator は生成モデルの通信インターフェース
type Generator interface {
	GenerateCompletion(ctx context.Context, prompt string) (string, error)
}

// TokenCounter はテキストのトークン数を数える
type TokenCounter interface {
	CountTokens(text string) int
}

// Collaborators は起動時に初期化した依存先
// 初期化に失敗した依存先は mo.Err として渡す
type Collaborators struct {
	Store     mo.Result[search.Store]
	Embedder  mo.Result[embedding.Embedder]
	Generator mo.Result[Generator]
}

// Settings は質問応答の設定
type Settings struct {
	Spec              embedding.Spec
	TopK              int
	Threshold         float64
	Metric            search.ScoreMetric
	Template          PromptTemplate
	GenerationTimeout time.Duration // 0 以下の場合はタイムアウトなし
	MaxContextTokens  int           // 0 以下の場合は計測しない
}

// AskService は質問応答のビジネスロジックを提供する
type AskService struct {
	unavailable *UnavailableError
	retriever   mo.Result[*search.Retriever]
	generator   Generator
	settings    Settings
	tokens      TokenCounter
	logger      *slog.Logger
}

type AskServiceOption func(*AskService)

// WithAskLogger は AskService にロガーを設定する
func WithAskLogger(logger *slog.Logger) AskServiceOption {
	return func(s *AskService) {
		s.logger = logger
	}
}

// WithTokenCounter は知識ブロックのトークン数計測に使うカウンタを設定する
func WithTokenCounter(counter TokenCounter) AskServiceOption {
	return func(s *AskService) {
		s.tokens = counter
	}
}

// NewAskService は新しいAskServiceを作成する
// 依存先の可用性はここで一度だけ確認し、以降のクエリはその結果に従う
func NewAskService(collaborators Collaborators, settings Settings, opts ...AskServiceOption) *AskService {
	if settings.Template.IsZero() {
		settings.Template = MustParsePromptTemplate(DefaultPromptTemplate)
	}
	if settings.Metric == "" {
		settings.Metric = search.MetricDistance
	}

	svc := &AskService{
		settings: settings,
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(svc)
	}
	if svc.logger == nil {
		svc.logger = slog.Default()
	}

	// ストア → Embedding → 生成モデルの順に確認する
	if err := checkAvailable(CollaboratorStore, collaborators.Store); err != nil {
		svc.unavailable = err
	} else if err := checkAvailable(CollaboratorEmbedder, collaborators.Embedder); err != nil {
		svc.unavailable = err
	} else if err := checkAvailable(CollaboratorGenerator, collaborators.Generator); err != nil {
		svc.unavailable = err
	}
	if svc.unavailable != nil {
		svc.logger.Warn("collaborator failed to initialize",
			"collaborator", svc.unavailable.Collaborator,
			"error", svc.unavailable.Err,
		)
		return svc
	}

	svc.generator = collaborators.Generator.MustGet()
	svc.retriever = mo.TupleToResult(search.NewRetriever(
		collaborators.Store.MustGet(),
		collaborators.Embedder.MustGet(),
		settings.Spec,
		search.WithScoreMetric(settings.Metric),
		search.WithRetrieverLogger(svc.logger),
	))

	return svc
}

// checkAvailable は初期化に失敗した、または渡されなかった依存先を UnavailableError として返す
func checkAvailable[T any](collaborator Collaborator, result mo.Result[T]) *UnavailableError {
	value, err := result.Get()
	if err != nil {
		return &UnavailableError{Collaborator: collaborator, Err: err}
	}
	if any(value) == nil {
		return &UnavailableError{Collaborator: collaborator, Err: errNotConfigured}
	}
	return nil
}

// Retriever は内部で使う Retriever を返す（依存先が利用できない場合は mo.Err）
func (s *AskService) Retriever() mo.Result[*search.Retriever] {
	if s.unavailable != nil {
		return mo.Err[*search.Retriever](s.unavailable)
	}
	return s.retriever
}

// Ask は質問に対してRAGベースで回答を生成する
// 質問が空の場合を除き、失敗はエラーではなく AskResult の Outcome として返す
func (s *AskService) Ask(ctx context.Context, question string) (*AskResult, error) {
	if strings.TrimSpace(question) == "" {
		return nil, fmt.Errorf("question is required")
	}

	if s.unavailable != nil {
		return &AskResult{
			Outcome: OutcomeCollaboratorUnavailable,
			Answer:  fmt.Sprintf(unavailableMessage, s.unavailable.Collaborator),
			Err:     s.unavailable,
		}, nil
	}

	retriever, err := s.retriever.Get()
	if err != nil {
		return s.failure(err), nil
	}

	s.logger.Info("retrieving context", "question", question, "k", s.settings.TopK)

	results, err := retriever.Retrieve(ctx, question, s.settings.TopK, s.settings.Threshold)
	if err != nil {
		return s.failure(err), nil
	}

	block := AssembleKnowledgeBlock(results)
	if block.IsEmpty() {
		s.logger.Info("no relevant context found")
		return &AskResult{Outcome: OutcomeNoContext, Answer: RefusalMessage}, nil
	}

	if s.tokens != nil && s.settings.MaxContextTokens > 0 {
		if n := s.tokens.CountTokens(string(block)); n > s.settings.MaxContextTokens {
			s.logger.Warn("knowledge block exceeds context budget",
				"tokens", n,
				"maxTokens", s.settings.MaxContextTokens,
			)
		}
	}

	prompt := s.settings.Template.Render(question, block)

	s.logger.Info("generating answer with LLM", "results", len(results))
	answer, err := s.generate(ctx, prompt)
	if err != nil {
		return s.failure(err), nil
	}

	sources := make([]SourceReference, 0, len(results))
	for _, r := range results {
		sources = append(sources, SourceReference{
			SourceID:    r.SourceID,
			StartOffset: r.StartOffset,
			Score:       r.Score,
		})
	}

	s.logger.Info("ask completed successfully",
		"answerLength", len(answer),
		"sources", len(sources),
	)

	return &AskResult{
		Outcome: OutcomeAnswered,
		Answer:  answer,
		Sources: sources,
	}, nil
}

// generate は生成モデルを1回だけ呼び出す（リトライしない）
func (s *AskService) generate(ctx context.Context, prompt string) (string, error) {
	genCtx := ctx
	if s.settings.GenerationTimeout > 0 {
		var cancel context.CancelFunc
		genCtx, cancel = context.WithTimeout(ctx, s.settings.GenerationTimeout)
		defer cancel()
	}

	answer, err := s.generator.GenerateCompletion(genCtx, prompt)
	if err != nil {
		if ctx.Err() == nil && errors.Is(genCtx.Err(), context.DeadlineExceeded) {
			return "", fmt.Errorf("%w after %s: %w", ErrGenerationTimeout, s.settings.GenerationTimeout, err)
		}
		return "", fmt.Errorf("failed to generate answer: %w", err)
	}
	return answer, nil
}

// failure はクエリ時のエラーを Outcome と定型メッセージに変換する
func (s *AskService) failure(err error) *AskResult {
	result := &AskResult{Err: err}

	// 不一致はストア障害より先に判定する
	switch {
	case errors.Is(err, embedding.ErrEmbeddingMismatch):
		result.Outcome, result.Answer = OutcomeEmbeddingMismatch, MismatchMessage
	case errors.Is(err, search.ErrStoreUnavailable):
		result.Outcome, result.Answer = OutcomeStoreUnavailable, StoreUnavailableMessage
	case errors.Is(err, ErrGenerationTimeout):
		result.Outcome, result.Answer = OutcomeGenerationTimeout, TimeoutMessage
	default:
		result.Outcome, result.Answer = OutcomeFailed, FailedMessage
	}

	s.logger.Error("ask failed", "outcome", result.Outcome, "error", err)
	return result
}
