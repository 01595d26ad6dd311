package cli

import (
	"context"
	"fmt"
	"time"

	"github.com/urfave/cli/v3"

	"github.com/jinford/doc-rag/internal/core/embedding"
)

// IndexBuildAction はインデックス構築コマンドのアクション
// 構築の失敗はすべてエラーとして返し、終了コードを非ゼロにする
func (a *App) IndexBuildAction(ctx context.Context, cmd *cli.Command) error {
	appCtx, err := a.newAppContext(ctx, cmd, false)
	if err != nil {
		return err
	}
	defer appCtx.Close()

	log := appCtx.Logger()
	log.Info("インデックス構築を開始",
		"corpus", appCtx.Config.Corpus.Dir,
		"glob", appCtx.Config.Corpus.Glob,
		"store", appCtx.Config.Store.Driver,
		"location", appCtx.Config.Store.Location,
	)

	svc, err := appCtx.Container.IndexService(ctx)
	if err != nil {
		return err
	}

	report, err := svc.Build(ctx)
	if err != nil {
		log.Error("インデックス構築に失敗しました", "error", err)
		return fmt.Errorf("index build failed: %w", err)
	}

	fmt.Fprintf(appCtx.Out, "Indexed %d chunks from %d documents into %s (%s, %d dims) in %s\n",
		report.Entries,
		report.Documents,
		appCtx.Config.Store.Location,
		report.Model,
		report.Dimension,
		report.Duration.Round(time.Millisecond),
	)
	fmt.Fprintf(appCtx.Out, "Build ID: %s\n", report.BuildID)

	log.Info("インデックス構築が完了しました", "buildID", report.BuildID, "entries", report.Entries)
	return nil
}

// IndexStatusAction はインデックスの構築情報を表示する
func (a *App) IndexStatusAction(ctx context.Context, cmd *cli.Command) error {
	appCtx, err := a.newAppContext(ctx, cmd, false)
	if err != nil {
		return err
	}
	defer appCtx.Close()

	manifest, err := appCtx.Container.IndexManifest(ctx)
	if err != nil {
		return fmt.Errorf("failed to read index: %w", err)
	}

	fmt.Fprintf(appCtx.Out, "Location:  %s (%s)\n", appCtx.Config.Store.Location, appCtx.Config.Store.Driver)
	fmt.Fprintf(appCtx.Out, "Build ID:  %s\n", manifest.BuildID)
	fmt.Fprintf(appCtx.Out, "Built at:  %s\n", manifest.BuiltAt.Local().Format("2006-01-02 15:04:05"))
	fmt.Fprintf(appCtx.Out, "Model:     %s (%d dims)\n", manifest.Model, manifest.Dimension)
	fmt.Fprintf(appCtx.Out, "Entries:   %d\n", manifest.Entries)

	if err := appCtx.Config.EmbeddingSpec().CheckCompatible(embedding.Spec{Model: manifest.Model, Dimension: manifest.Dimension}); err != nil {
		fmt.Fprintf(appCtx.Out, "Warning:   configured embedding %s does not match the index\n", appCtx.Config.EmbeddingSpec())
	}
	return nil
}
