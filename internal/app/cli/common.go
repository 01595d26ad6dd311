package cli

import (
	"context"
	"fmt"
	"io"
	"log/slog"

	"github.com/urfave/cli/v3"

	"github.com/jinford/doc-rag/internal/platform/config"
	"github.com/jinford/doc-rag/internal/platform/container"
	"github.com/jinford/doc-rag/internal/platform/logger"
)

// AppContext はコマンド実行に必要な共通コンテキストを保持する
type AppContext struct {
	Config    *config.Config
	Container *container.ServiceContainer
	Out       io.Writer
}

// newAppContext は設定を読み込み、ロガーとコンテナを初期化して AppContext を作成する
// quiet の場合は出力先が指定されていない限りログを破棄する（TUI の画面を崩さないため）
func (a *App) newAppContext(ctx context.Context, cmd *cli.Command, quiet bool) (*AppContext, error) {
	cfg, err := config.Load(cmd.String("env"), cmd.String("config"))
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	logCfg, err := logger.ParseConfig(cfg.Log.Level, cfg.Log.Format)
	if err != nil {
		return nil, err
	}
	switch {
	case a.logOutput != nil:
		logCfg.Output = a.logOutput
	case quiet:
		logCfg.Format = "off"
	}
	appLogger := logger.New(logCfg)

	opts := append([]container.ContainerOption{container.WithContainerLogger(appLogger)}, a.containerOptions...)

	return &AppContext{
		Config:    cfg,
		Container: container.New(cfg, opts...),
		Out:       cmd.Root().Writer,
	}, nil
}

// Close はAppContextが保持するリソースをクリーンアップする
func (ac *AppContext) Close() {
	if ac.Container != nil {
		if err := ac.Container.Close(); err != nil {
			ac.Logger().Warn("failed to release resources", "error", err)
		}
	}
}

// Logger はAppContextのロガーを返す
func (ac *AppContext) Logger() *slog.Logger {
	if ac.Container != nil {
		return ac.Container.Logger()
	}
	return slog.Default()
}
