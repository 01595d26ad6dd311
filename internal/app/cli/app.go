package cli

import (
	"io"

	"github.com/urfave/cli/v3"

	"github.com/jinford/doc-rag/internal/platform/container"
)

// App はコマンドラインアプリケーション
type App struct {
	containerOptions []container.ContainerOption
	logOutput        io.Writer
}

// AppOption は App のオプション設定
type AppOption func(*App)

// WithContainerOptions はコンテナ構築時のオプションを追加する
func WithContainerOptions(opts ...container.ContainerOption) AppOption {
	return func(a *App) {
		a.containerOptions = append(a.containerOptions, opts...)
	}
}

// WithLogOutput はログの出力先を設定する
func WithLogOutput(w io.Writer) AppOption {
	return func(a *App) {
		a.logOutput = w
	}
}

// NewApp はルートコマンドを作成する
func NewApp(opts ...AppOption) *cli.Command {
	a := &App{}
	for _, opt := range opts {
		opt(a)
	}

	return &cli.Command{
		Name:  "doc-rag",
		Usage: "ドキュメントコーパスに基づいて質問に回答する RAG ツール",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:  "env",
				Usage: "環境変数ファイルパス",
				Value: ".env",
			},
			&cli.StringFlag{
				Name:  "config",
				Usage: "YAML設定ファイルパス（環境変数が優先）",
			},
		},
		Commands: []*cli.Command{
			{
				Name:  "index",
				Usage: "インデックス管理コマンド",
				Commands: []*cli.Command{
					{
						Name:   "build",
						Usage:  "コーパスからインデックスを再構築",
						Action: a.IndexBuildAction,
					},
					{
						Name:   "status",
						Usage:  "インデックスの構築情報を表示",
						Action: a.IndexStatusAction,
					},
				},
			},
			{
				Name:      "ask",
				Usage:     "質問に回答",
				ArgsUsage: "<question>",
				Flags:     []cli.Flag{showSourcesFlag()},
				Action:    a.AskAction,
			},
			{
				Name:   "chat",
				Usage:  "対話モードで質問に回答",
				Flags:  []cli.Flag{showSourcesFlag()},
				Action: a.ChatAction,
			},
		},
	}
}

func showSourcesFlag() *cli.BoolFlag {
	return &cli.BoolFlag{
		Name:  "show-sources",
		Usage: "回答の根拠となったチャンクの出所を表示",
	}
}
