package postgres

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"
	pgvector "github.com/pgvector/pgvector-go"

	"github.com/jinford/doc-rag/internal/core/embedding"
	"github.com/jinford/doc-rag/internal/core/ingestion"
	"github.com/jinford/doc-rag/internal/core/search"
	"github.com/jinford/doc-rag/internal/platform/database"
)

const schema = `
CREATE EXTENSION IF NOT EXISTS vector;

CREATE TABLE IF NOT EXISTS rag_manifests (
	collection TEXT PRIMARY KEY,
	build_id   UUID        NOT NULL,
	model      TEXT        NOT NULL,
	dimension  INTEGER     NOT NULL,
	entries    INTEGER     NOT NULL,
	built_at   TIMESTAMPTZ NOT NULL
);

CREATE TABLE IF NOT EXISTS rag_entries (
	collection   TEXT    NOT NULL,
	seq          INTEGER NOT NULL,
	text         TEXT    NOT NULL,
	source_id    TEXT    NOT NULL,
	start_offset INTEGER NOT NULL,
	embedding    vector  NOT NULL,
	PRIMARY KEY (collection, seq)
);
`

// insertBatchSize は1回の pgx.Batch で送る INSERT の件数
const insertBatchSize = 500

// VectorStore は pgvector を使った PostgreSQL のベクトルストア
// コレクション単位でインデックスを持ち、スコアはコサイン距離（<=>）を返す
type VectorStore struct {
	pool       *pgxpool.Pool
	txProvider *database.TransactionProvider
	collection string
	logger     *slog.Logger
}

// Option は VectorStore のオプション設定
type Option func(*VectorStore)

// WithLogger はロガーを設定する
func WithLogger(logger *slog.Logger) Option {
	return func(s *VectorStore) {
		s.logger = logger
	}
}

// NewVectorStore は新しい VectorStore を作成する
func NewVectorStore(pool *pgxpool.Pool, collection string, opts ...Option) *VectorStore {
	s := &VectorStore{
		pool:       pool,
		txProvider: database.NewTransactionProvider(pool),
		collection: collection,
		logger:     slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.logger == nil {
		s.logger = slog.Default()
	}
	return s
}

// EnsureSchema は拡張とテーブルを作成する
func (s *VectorStore) EnsureSchema(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, schema); err != nil {
		return fmt.Errorf("failed to create schema: %w", err)
	}
	return nil
}

// ReplaceAll はコレクションのインデックスを1トランザクションで置き換える
// 同じコレクションへの構築はアドバイザリロックで直列化される
func (s *VectorStore) ReplaceAll(ctx context.Context, manifest ingestion.Manifest, entries []*ingestion.IndexEntry) error {
	if err := s.EnsureSchema(ctx); err != nil {
		return err
	}

	_, err := database.Transact(ctx, s.txProvider, func(a *database.Adapter) (struct{}, error) {
		if err := a.Locks.Acquire(ctx, database.GenerateLockID("doc-rag", "index", s.collection)); err != nil {
			return struct{}{}, err
		}

		if _, err := a.Tx.Exec(ctx, "DELETE FROM rag_entries WHERE collection = $1", s.collection); err != nil {
			return struct{}{}, fmt.Errorf("failed to clear collection: %w", err)
		}

		for start := 0; start < len(entries); start += insertBatchSize {
			end := min(start+insertBatchSize, len(entries))
			if err := s.insertEntries(ctx, a.Tx, start, entries[start:end]); err != nil {
				return struct{}{}, err
			}
		}

		_, err := a.Tx.Exec(ctx, `
			INSERT INTO rag_manifests (collection, build_id, model, dimension, entries, built_at)
			VALUES ($1, $2, $3, $4, $5, $6)
			ON CONFLICT (collection) DO UPDATE SET
				build_id = EXCLUDED.build_id,
				model = EXCLUDED.model,
				dimension = EXCLUDED.dimension,
				entries = EXCLUDED.entries,
				built_at = EXCLUDED.built_at`,
			s.collection, manifest.BuildID.String(), manifest.Model, manifest.Dimension, manifest.Entries, manifest.BuiltAt,
		)
		if err != nil {
			return struct{}{}, fmt.Errorf("failed to upsert manifest: %w", err)
		}
		return struct{}{}, nil
	})
	if err != nil {
		return err
	}

	s.logger.Info("index written", "collection", s.collection, "entries", len(entries), "buildID", manifest.BuildID)
	return nil
}

func (s *VectorStore) insertEntries(ctx context.Context, tx pgx.Tx, offset int, entries []*ingestion.IndexEntry) error {
	batch := &pgx.Batch{}
	for i, e := range entries {
		batch.Queue(
			"INSERT INTO rag_entries (collection, seq, text, source_id, start_offset, embedding) VALUES ($1, $2, $3, $4, $5, $6::vector)",
			s.collection, offset+i, e.Text, e.SourceID, e.StartOffset, pgvector.NewVector(e.Vector),
		)
	}

	results := tx.SendBatch(ctx, batch)
	for i := range entries {
		if _, err := results.Exec(); err != nil {
			results.Close()
			return fmt.Errorf("failed to insert entry %d (source=%s): %w", offset+i, entries[i].SourceID, err)
		}
	}
	return results.Close()
}

// Manifest は構築時に記録された構成を返す
func (s *VectorStore) Manifest(ctx context.Context) (ingestion.Manifest, error) {
	var (
		m       ingestion.Manifest
		buildID pgtype.UUID
	)
	err := s.pool.QueryRow(ctx,
		"SELECT build_id, model, dimension, entries, built_at FROM rag_manifests WHERE collection = $1",
		s.collection,
	).Scan(&buildID, &m.Model, &m.Dimension, &m.Entries, &m.BuiltAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return ingestion.Manifest{}, fmt.Errorf("%w: collection %q has not been built", search.ErrStoreUnavailable, s.collection)
	}
	if err != nil {
		return ingestion.Manifest{}, fmt.Errorf("%w: failed to read manifest: %w", search.ErrStoreUnavailable, err)
	}

	m.BuildID = uuid.UUID(buildID.Bytes)
	return m, nil
}

// Query は vector とのコサイン距離が小さい順に最大 k 件を返す（同距離は書き込み順）
func (s *VectorStore) Query(ctx context.Context, vector []float32, k int) ([]*search.RetrievalResult, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT text, source_id, start_offset, embedding <=> $2::vector AS distance
		FROM rag_entries
		WHERE collection = $1
		ORDER BY distance, seq
		LIMIT $3`,
		s.collection, pgvector.NewVector(vector), k,
	)
	if err != nil {
		return nil, s.queryError(err)
	}
	defer rows.Close()

	var results []*search.RetrievalResult
	for rows.Next() {
		var r search.RetrievalResult
		if err := rows.Scan(&r.Text, &r.SourceID, &r.StartOffset, &r.Score); err != nil {
			return nil, fmt.Errorf("%w: failed to scan entry: %w", search.ErrStoreUnavailable, err)
		}
		results = append(results, &r)
	}
	if err := rows.Err(); err != nil {
		return nil, s.queryError(err)
	}
	return results, nil
}

// queryError は次元不一致（pgvector の "different vector dimensions"）を区別する
func (s *VectorStore) queryError(err error) error {
	var pgErr interface{ SQLState() string }
	if errors.As(err, &pgErr) && pgErr.SQLState() == "22000" {
		return fmt.Errorf("%w: %w", embedding.ErrEmbeddingMismatch, err)
	}
	return fmt.Errorf("%w: failed to query entries: %w", search.ErrStoreUnavailable, err)
}

// Close は接続プールを閉じる
func (s *VectorStore) Close() error {
	s.pool.Close()
	return nil
}

// インターフェース実装の確認
var (
	_ ingestion.IndexWriter = (*VectorStore)(nil)
	_ search.Store          = (*VectorStore)(nil)
)
