package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"github.com/jinford/doc-rag/internal/core/embedding"
	"github.com/jinford/doc-rag/internal/core/ingestion"
	"github.com/jinford/doc-rag/internal/core/search"
)

const schema = `
CREATE TABLE manifest (
	build_id  TEXT    NOT NULL,
	model     TEXT    NOT NULL,
	dimension INTEGER NOT NULL,
	entries   INTEGER NOT NULL,
	built_at  TEXT    NOT NULL
);
CREATE TABLE entries (
	seq          INTEGER PRIMARY KEY,
	text         TEXT    NOT NULL,
	source_id    TEXT    NOT NULL,
	start_offset INTEGER NOT NULL,
	embedding    BLOB    NOT NULL
);
`

// Store は SQLite ファイルに保存するベクトルストア
// 検索は全件のコサイン距離による厳密探索で、スコアは距離（小さいほど近い）
type Store struct {
	path   string
	logger *slog.Logger

	mu sync.Mutex
	db *sql.DB
}

// Option は Store のオプション設定
type Option func(*Store)

// WithLogger はロガーを設定する
func WithLogger(logger *slog.Logger) Option {
	return func(s *Store) {
		s.logger = logger
	}
}

// New は path を保存先とする Store を作成する（ファイルは開かない）
func New(path string, opts ...Option) *Store {
	s := &Store{
		path:   path,
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.logger == nil {
		s.logger = slog.Default()
	}
	return s
}

// OpenReader は既存のインデックスを開く
// ファイルが存在しない・インデックスとして読めない場合は ErrStoreUnavailable を返す
func OpenReader(ctx context.Context, path string, opts ...Option) (*Store, error) {
	s := New(path, opts...)
	if _, err := s.conn(ctx); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *Store) conn(ctx context.Context) (*sql.DB, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.db != nil {
		return s.db, nil
	}

	if _, err := os.Stat(s.path); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("%w: index %s does not exist, build it first", search.ErrStoreUnavailable, s.path)
		}
		return nil, fmt.Errorf("%w: %w", search.ErrStoreUnavailable, err)
	}

	db, err := sql.Open("sqlite", "file:"+s.path+"?mode=ro")
	if err != nil {
		return nil, fmt.Errorf("%w: failed to open index: %w", search.ErrStoreUnavailable, err)
	}

	var n int
	if err := db.QueryRowContext(ctx, "SELECT COUNT(*) FROM manifest").Scan(&n); err != nil {
		db.Close()
		return nil, fmt.Errorf("%w: %s is not a valid index: %w", search.ErrStoreUnavailable, s.path, err)
	}

	s.db = db
	return db, nil
}

// ReplaceAll は一時ファイルにインデックスを書き込み、成功した場合のみ既存ファイルと置き換える
func (s *Store) ReplaceAll(ctx context.Context, manifest ingestion.Manifest, entries []*ingestion.IndexEntry) error {
	if err := os.MkdirAll(filepath.Dir(s.path), 0o755); err != nil {
		return fmt.Errorf("failed to create index directory: %w", err)
	}

	tmp := fmt.Sprintf("%s.tmp-%s", s.path, uuid.NewString())
	if err := writeIndex(ctx, tmp, manifest, entries); err != nil {
		removeAll(tmp)
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.db != nil {
		s.db.Close()
		s.db = nil
	}
	if err := os.Rename(tmp, s.path); err != nil {
		removeAll(tmp)
		return fmt.Errorf("failed to replace index: %w", err)
	}

	s.logger.Info("index written", "path", s.path, "entries", len(entries), "buildID", manifest.BuildID)
	return nil
}

func writeIndex(ctx context.Context, path string, manifest ingestion.Manifest, entries []*ingestion.IndexEntry) error {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return fmt.Errorf("failed to create index file: %w", err)
	}
	defer db.Close()

	if _, err := db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("failed to create schema: %w", err)
	}

	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	stmt, err := tx.PrepareContext(ctx, "INSERT INTO entries (seq, text, source_id, start_offset, embedding) VALUES (?, ?, ?, ?, ?)")
	if err != nil {
		return fmt.Errorf("failed to prepare insert: %w", err)
	}
	defer stmt.Close()

	for i, e := range entries {
		if _, err := stmt.ExecContext(ctx, i, e.Text, e.SourceID, e.StartOffset, embedding.EncodeVector(e.Vector)); err != nil {
			return fmt.Errorf("failed to insert entry %d (source=%s): %w", i, e.SourceID, err)
		}
	}

	if _, err := tx.ExecContext(ctx,
		"INSERT INTO manifest (build_id, model, dimension, entries, built_at) VALUES (?, ?, ?, ?, ?)",
		manifest.BuildID.String(), manifest.Model, manifest.Dimension, manifest.Entries, manifest.BuiltAt.UTC().Format(time.RFC3339Nano),
	); err != nil {
		return fmt.Errorf("failed to insert manifest: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit index: %w", err)
	}
	return nil
}

func removeAll(path string) {
	for _, p := range []string{path, path + "-journal", path + "-wal", path + "-shm"} {
		_ = os.Remove(p)
	}
}

// Manifest は構築時に記録された構成を返す
func (s *Store) Manifest(ctx context.Context) (ingestion.Manifest, error) {
	db, err := s.conn(ctx)
	if err != nil {
		return ingestion.Manifest{}, err
	}

	var (
		m       ingestion.Manifest
		buildID string
		builtAt string
	)
	err = db.QueryRowContext(ctx, "SELECT build_id, model, dimension, entries, built_at FROM manifest LIMIT 1").
		Scan(&buildID, &m.Model, &m.Dimension, &m.Entries, &builtAt)
	if err != nil {
		return ingestion.Manifest{}, fmt.Errorf("%w: failed to read manifest: %w", search.ErrStoreUnavailable, err)
	}

	if m.BuildID, err = uuid.Parse(buildID); err != nil {
		return ingestion.Manifest{}, fmt.Errorf("%w: invalid build id: %w", search.ErrStoreUnavailable, err)
	}
	if m.BuiltAt, err = time.Parse(time.RFC3339Nano, builtAt); err != nil {
		return ingestion.Manifest{}, fmt.Errorf("%w: invalid build time: %w", search.ErrStoreUnavailable, err)
	}
	return m, nil
}

// Query は vector とのコサイン距離が小さい順に最大 k 件を返す（同距離は書き込み順）
func (s *Store) Query(ctx context.Context, vector []float32, k int) ([]*search.RetrievalResult, error) {
	db, err := s.conn(ctx)
	if err != nil {
		return nil, err
	}

	rows, err := db.QueryContext(ctx, "SELECT text, source_id, start_offset, embedding FROM entries ORDER BY seq")
	if err != nil {
		return nil, fmt.Errorf("%w: failed to query entries: %w", search.ErrStoreUnavailable, err)
	}
	defer rows.Close()

	var results []*search.RetrievalResult
	for rows.Next() {
		var (
			r    search.RetrievalResult
			blob []byte
		)
		if err := rows.Scan(&r.Text, &r.SourceID, &r.StartOffset, &blob); err != nil {
			return nil, fmt.Errorf("%w: failed to scan entry: %w", search.ErrStoreUnavailable, err)
		}

		stored, err := embedding.DecodeVector(blob)
		if err != nil {
			return nil, fmt.Errorf("%w: %w", search.ErrStoreUnavailable, err)
		}
		if len(stored) != len(vector) {
			return nil, fmt.Errorf("%w: query has %d dimensions, index has %d", embedding.ErrEmbeddingMismatch, len(vector), len(stored))
		}

		r.Score = embedding.CosineDistance(vector, stored)
		results = append(results, &r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%w: %w", search.ErrStoreUnavailable, err)
	}

	slices.SortStableFunc(results, func(a, b *search.RetrievalResult) int {
		switch {
		case a.Score < b.Score:
			return -1
		case a.Score > b.Score:
			return 1
		}
		return 0
	})
	if len(results) > k {
		results = results[:k]
	}
	return results, nil
}

// Close はデータベース接続を閉じる
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.db == nil {
		return nil
	}
	err := s.db.Close()
	s.db = nil
	return err
}

// インターフェース実装の確認
var (
	_ ingestion.IndexWriter = (*Store)(nil)
	_ search.Store          = (*Store)(nil)
)
