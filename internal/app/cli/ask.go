package cli

import (
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/urfave/cli/v3"

	coreask "github.com/jinford/doc-rag/internal/core/ask"
	"github.com/jinford/doc-rag/internal/interface/tui"
)

// AskAction は質問応答コマンドのアクション
// 回答・拒否メッセージ・診断メッセージはいずれも標準出力に表示する
func (a *App) AskAction(ctx context.Context, cmd *cli.Command) error {
	showSources := cmd.Bool("show-sources")

	// 質問文の取得（引用符なしで複数語を渡してもよい）
	question := strings.TrimSpace(strings.Join(cmd.Args().Slice(), " "))
	if question == "" {
		return fmt.Errorf("question is required")
	}

	appCtx, err := a.newAppContext(ctx, cmd, false)
	if err != nil {
		return err
	}
	defer appCtx.Close()

	svc, err := appCtx.Container.AskService(ctx)
	if err != nil {
		return err
	}

	result, err := svc.Ask(ctx, question)
	if err != nil {
		return err
	}

	printResult(appCtx.Out, result, showSources)

	switch result.Outcome {
	case coreask.OutcomeAnswered, coreask.OutcomeNoContext:
		return nil
	default:
		// メッセージは表示済み。終了コードのみ非ゼロにする
		return fmt.Errorf("%s: %w", result.Outcome, result.Err)
	}
}

// ChatAction は対話モードを開始する
func (a *App) ChatAction(ctx context.Context, cmd *cli.Command) error {
	appCtx, err := a.newAppContext(ctx, cmd, true)
	if err != nil {
		return err
	}
	defer appCtx.Close()

	svc, err := appCtx.Container.AskService(ctx)
	if err != nil {
		return err
	}

	return tui.Run(ctx, svc, cmd.Bool("show-sources"))
}

func printResult(w io.Writer, result *coreask.AskResult, showSources bool) {
	fmt.Fprintln(w, result.Answer)

	// --show-sourcesフラグが指定されている場合、参照ソースも出力
	if showSources && len(result.Sources) > 0 {
		fmt.Fprintln(w, "\n--- Sources ---")
		for i, source := range result.Sources {
			fmt.Fprintf(w, "[%d] %s @%d score: %.4f\n",
				i+1,
				source.SourceID,
				source.StartOffset,
				source.Score,
			)
		}
	}
}
