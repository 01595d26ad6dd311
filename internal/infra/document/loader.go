package document

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/go-enry/go-enry/v2"

	"github.com/jinford/doc-rag/internal/core/ingestion"
)

const (
	// DefaultGlob はデフォルトで読み込むファイルパターン
	DefaultGlob = "*.pdf"
	// IgnoreFileName はコーパスのルートに置く除外パターンファイル
	IgnoreFileName = ".ragignore"
)

// ErrCorpusNotFound はコーパスのディレクトリが存在しない場合に返されます
var ErrCorpusNotFound = errors.New("corpus directory not found")

// DirectoryLoader はディレクトリ配下のファイルをドキュメントとして読み込む
// PDF はページごとに1ドキュメント、それ以外のテキストファイルは1ファイル1ドキュメントになる
type DirectoryLoader struct {
	dir    string
	glob   string
	logger *slog.Logger
}

// LoaderOption は DirectoryLoader のオプション設定
type LoaderOption func(*DirectoryLoader)

// WithLoaderLogger はロガーを設定する
func WithLoaderLogger(logger *slog.Logger) LoaderOption {
	return func(l *DirectoryLoader) {
		l.logger = logger
	}
}

// NewDirectoryLoader は新しい DirectoryLoader を作成する
// glob はファイル名（ベース名）に対して照合する
func NewDirectoryLoader(dir, glob string, opts ...LoaderOption) (*DirectoryLoader, error) {
	if glob == "" {
		glob = DefaultGlob
	}
	if _, err := filepath.Match(glob, ""); err != nil {
		return nil, fmt.Errorf("invalid corpus glob %q: %w", glob, err)
	}

	l := &DirectoryLoader{
		dir:    dir,
		glob:   glob,
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(l)
	}
	if l.logger == nil {
		l.logger = slog.Default()
	}
	return l, nil
}

// Load はディレクトリを再帰的に走査してドキュメントを返す
// ディレクトリが存在しない場合は ErrCorpusNotFound を返す
func (l *DirectoryLoader) Load(ctx context.Context) ([]*ingestion.Document, error) {
	info, err := os.Stat(l.dir)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("%w: %s", ErrCorpusNotFound, l.dir)
		}
		return nil, fmt.Errorf("failed to stat corpus directory: %w", err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("%w: %s is not a directory", ErrCorpusNotFound, l.dir)
	}

	ignore, err := newIgnoreFilter(l.dir)
	if err != nil {
		return nil, err
	}

	var docs []*ingestion.Document
	err = filepath.WalkDir(l.dir, func(path string, d fs.DirEntry, walkErr error) error {
		if walkErr != nil {
			return walkErr
		}
		if err := ctx.Err(); err != nil {
			return err
		}

		rel, err := filepath.Rel(l.dir, path)
		if err != nil {
			return err
		}
		rel = filepath.ToSlash(rel)
		if rel == "." {
			return nil
		}

		if d.IsDir() {
			if ignore.ShouldIgnore(rel+"/") || enry.IsVendor(rel+"/") {
				l.logger.Debug("skipping directory", "path", rel)
				return filepath.SkipDir
			}
			return nil
		}

		if !d.Type().IsRegular() || d.Name() == IgnoreFileName {
			return nil
		}
		if matched, _ := filepath.Match(l.glob, d.Name()); !matched {
			return nil
		}
		if ignore.ShouldIgnore(rel) {
			l.logger.Debug("skipping ignored file", "path", rel)
			return nil
		}

		loaded, err := l.loadFile(path, rel)
		if err != nil {
			return err
		}
		docs = append(docs, loaded...)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to walk corpus directory: %w", err)
	}

	l.logger.Info("corpus loaded", "dir", l.dir, "glob", l.glob, "documents", len(docs))
	return docs, nil
}

func (l *DirectoryLoader) loadFile(path, rel string) ([]*ingestion.Document, error) {
	if strings.EqualFold(filepath.Ext(path), ".pdf") {
		pages, err := readPDFPages(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read pdf %s: %w", rel, err)
		}

		docs := make([]*ingestion.Document, 0, len(pages))
		for i, text := range pages {
			if strings.TrimSpace(text) == "" {
				continue
			}
			docs = append(docs, &ingestion.Document{
				ID:      fmt.Sprintf("%s#page=%d", rel, i+1),
				Content: text,
			})
		}
		return docs, nil
	}

	content, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", rel, err)
	}
	if enry.IsBinary(content) {
		l.logger.Warn("skipping binary file", "path", rel)
		return nil, nil
	}

	return []*ingestion.Document{{ID: rel, Content: string(content)}}, nil
}

// インターフェース実装の確認
var _ ingestion.DocumentSource = (*DirectoryLoader)(nil)
