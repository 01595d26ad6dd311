package postgres

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/ory/dockertest/v3"
	"github.com/ory/dockertest/v3/docker"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jinford/doc-rag/internal/core/embedding"
	"github.com/jinford/doc-rag/internal/core/ingestion"
	"github.com/jinford/doc-rag/internal/core/ingestion/chunk"
	"github.com/jinford/doc-rag/internal/core/ragtest"
	"github.com/jinford/doc-rag/internal/core/search"
)

// startPostgres は pgvector 入りの PostgreSQL コンテナを起動します
// Docker が使えない環境や -short 指定時はスキップします
func startPostgres(t *testing.T) *pgxpool.Pool {
	t.Helper()

	if testing.Short() {
		t.Skip("skipping pgvector integration test in short mode")
	}

	pool, err := dockertest.NewPool(os.Getenv("DOCKER_HOST"))
	if err != nil {
		t.Skipf("docker is not available: %v", err)
	}
	if err := pool.Client.Ping(); err != nil {
		t.Skipf("docker is not available: %v", err)
	}
	pool.MaxWait = 90 * time.Second

	resource, err := pool.RunWithOptions(&dockertest.RunOptions{
		Repository: "pgvector/pgvector",
		Tag:        "pg16",
		Env: []string{
			"POSTGRES_USER=rag",
			"POSTGRES_PASSWORD=rag",
			"POSTGRES_DB=docrag",
		},
	}, func(hc *docker.HostConfig) {
		hc.AutoRemove = true
		hc.RestartPolicy = docker.RestartPolicy{Name: "no"}
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = pool.Purge(resource) })
	_ = resource.Expire(300)

	connString := fmt.Sprintf("postgres://rag:rag@%s/docrag?sslmode=disable", resource.GetHostPort("5432/tcp"))

	var db *pgxpool.Pool
	err = pool.Retry(func() error {
		var err error
		db, err = pgxpool.New(context.Background(), connString)
		if err != nil {
			return err
		}
		if err := db.Ping(context.Background()); err != nil {
			db.Close()
			return err
		}
		return nil
	})
	require.NoError(t, err)
	t.Cleanup(db.Close)

	return db
}

type emptySource struct{}

func (emptySource) Load(ctx context.Context) ([]*ingestion.Document, error) { return nil, nil }

func tableExists(t *testing.T, db *pgxpool.Pool, name string) bool {
	t.Helper()
	var exists bool
	err := db.QueryRow(context.Background(), "SELECT to_regclass($1) IS NOT NULL", name).Scan(&exists)
	require.NoError(t, err)
	return exists
}

func testEntries() []*ingestion.IndexEntry {
	return []*ingestion.IndexEntry{
		{Vector: []float32{1, 0}, Text: "east", SourceID: "a.pdf#page=1", StartOffset: 0},
		{Vector: []float32{0, 1}, Text: "north", SourceID: "a.pdf#page=1", StartOffset: 500},
		{Vector: []float32{2, 0}, Text: "east again", SourceID: "b.pdf#page=2", StartOffset: 10},
	}
}

func testManifest() ingestion.Manifest {
	return ingestion.Manifest{
		BuildID:   uuid.New(),
		Model:     "stub-model",
		Dimension: 2,
		Entries:   3,
		BuiltAt:   time.Now().UTC().Truncate(time.Microsecond),
	}
}

func TestVectorStoreIntegration(t *testing.T) {
	db := startPostgres(t)
	ctx := context.Background()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	store := NewVectorStore(db, "docs", WithLogger(logger))

	t.Run("空のコーパスではテーブルを作らない", func(t *testing.T) {
		embedder := ragtest.NewVocabEmbedder("stub-model", "east", "north")
		splitter, err := chunk.NewSplitter(100, 10)
		require.NoError(t, err)
		indexer, err := ingestion.NewIndexer(embedder, embedder.Spec(), ingestion.WithIndexerLogger(logger))
		require.NoError(t, err)

		svc := ingestion.NewIndexService(emptySource{}, splitter, indexer, store, ingestion.WithIndexLogger(logger))
		_, err = svc.Build(ctx)
		assert.ErrorIs(t, err, ingestion.ErrEmptyCorpus)
		assert.False(t, tableExists(t, db, "rag_entries"))
		assert.False(t, tableExists(t, db, "rag_manifests"))
		assert.Zero(t, embedder.Calls())
	})

	t.Run("未構築のコレクションは利用不可", func(t *testing.T) {
		require.NoError(t, store.EnsureSchema(ctx))
		_, err := store.Manifest(ctx)
		assert.ErrorIs(t, err, search.ErrStoreUnavailable)
	})

	manifest := testManifest()
	require.NoError(t, store.ReplaceAll(ctx, manifest, testEntries()))

	t.Run("マニフェストを読み出せる", func(t *testing.T) {
		got, err := store.Manifest(ctx)
		require.NoError(t, err)
		assert.Equal(t, manifest.BuildID, got.BuildID)
		assert.Equal(t, manifest.Model, got.Model)
		assert.Equal(t, manifest.Dimension, got.Dimension)
		assert.True(t, manifest.BuiltAt.Equal(got.BuiltAt))
	})

	t.Run("距離順かつ同距離は書き込み順", func(t *testing.T) {
		results, err := store.Query(ctx, []float32{1, 0}, 3)
		require.NoError(t, err)
		require.Len(t, results, 3)
		assert.Equal(t, "east", results[0].Text)
		assert.Equal(t, "east again", results[1].Text)
		assert.Equal(t, "north", results[2].Text)
		assert.InDelta(t, 0, results[0].Score, 1e-6)
		assert.InDelta(t, 1, results[2].Score, 1e-6)
	})

	t.Run("再構築で重複しない", func(t *testing.T) {
		require.NoError(t, store.ReplaceAll(ctx, testManifest(), testEntries()))
		results, err := store.Query(ctx, []float32{0, 1}, 10)
		require.NoError(t, err)
		assert.Len(t, results, 3)
	})

	t.Run("別コレクションとは独立", func(t *testing.T) {
		other := NewVectorStore(db, "other", WithLogger(logger))
		results, err := other.Query(ctx, []float32{1, 0}, 3)
		require.NoError(t, err)
		assert.Empty(t, results)
	})

	t.Run("次元不一致", func(t *testing.T) {
		_, err := store.Query(ctx, []float32{1, 0, 0}, 3)
		assert.ErrorIs(t, err, embedding.ErrEmbeddingMismatch)
	})
}
