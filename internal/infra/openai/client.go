package openai

import (
	"context"
	"errors"
	"fmt"

	"github.com/openai/openai-go/v3"
	"github.com/openai/openai-go/v3/option"
	"github.com/openai/openai-go/v3/shared"

	"github.com/jinford/doc-rag/internal/core/ask"
)

const (
	// DefaultModel はデフォルトで使用するOpenAIモデル
	DefaultModel = "gpt-4o-mini"
)

var (
	// ErrAPIKeyNotSet はAPIキーが設定されていない場合のエラー
	ErrAPIKeyNotSet = errors.New("OpenAI API key not set: please set OPENAI_API_KEY environment variable")

	// ErrEmptyCompletion は回答の選択肢が返らなかった場合のエラー
	ErrEmptyCompletion = errors.New("no completion choices returned")
)

// Client は OpenAI 互換の Chat Completions API を使用した生成モデルクライアント
// 1回の質問につき1回だけ呼び出し、リトライやストリーミングは行わない
type Client struct {
	client openai.Client
	model  string
}

type clientOptions struct {
	baseURL string
}

// ClientOption は Client のオプション設定
type ClientOption func(*clientOptions)

// WithBaseURL は OpenAI 互換サーバー（Ollama など）のURLを指定する
func WithBaseURL(baseURL string) ClientOption {
	return func(o *clientOptions) {
		o.baseURL = baseURL
	}
}

// NewClient はAPIキーとモデルを指定して Client を作成する
func NewClient(apiKey, model string, opts ...ClientOption) (*Client, error) {
	var options clientOptions
	for _, opt := range opts {
		opt(&options)
	}

	if apiKey == "" && options.baseURL == "" {
		return nil, ErrAPIKeyNotSet
	}
	if model == "" {
		model = DefaultModel
	}

	requestOpts := []option.RequestOption{
		option.WithAPIKey(apiKey),
		option.WithMaxRetries(0),
	}
	if options.baseURL != "" {
		requestOpts = append(requestOpts, option.WithBaseURL(options.baseURL))
	}

	return &Client{
		client: openai.NewClient(requestOpts...),
		model:  model,
	}, nil
}

// ModelName はモデル名を返す
func (c *Client) ModelName() string {
	return c.model
}

// GenerateCompletion はプロンプトを1回送信し、回答テキストを加工せずに返す
// タイムアウトは呼び出し側の ctx に従う
func (c *Client) GenerateCompletion(ctx context.Context, prompt string) (string, error) {
	params := openai.ChatCompletionNewParams{
		Model: shared.ChatModel(c.model),
		Messages: []openai.ChatCompletionMessageParamUnion{
			openai.UserMessage(prompt),
		},
	}

	completion, err := c.client.Chat.Completions.New(ctx, params)
	if err != nil {
		return "", fmt.Errorf("OpenAI API call failed: %w", err)
	}

	if len(completion.Choices) == 0 {
		return "", ErrEmptyCompletion
	}

	return completion.Choices[0].Message.Content, nil
}

// インターフェース実装の確認
var _ ask.Generator = (*Client)(nil)
