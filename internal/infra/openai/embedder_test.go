package openai

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jinford/doc-rag/internal/core/embedding"
)

func TestNewEmbedderOptionsOverrideDefaults(t *testing.T) {
	embedder, err := NewEmbedder("dummy-key",
		WithEmbeddingModel("custom-model"),
		WithEmbeddingDimension(42),
	)
	require.NoError(t, err)

	spec := embedder.Spec()
	assert.Equal(t, "custom-model", spec.Model)
	assert.Equal(t, 42, spec.Dimension)
	assert.Equal(t, MaxEmbeddingBatchSize, embedder.MaxBatchSize())
}

func TestNewEmbedderRequiresAPIKey(t *testing.T) {
	_, err := NewEmbedder("")
	assert.ErrorIs(t, err, ErrAPIKeyNotSet)

	_, err = NewEmbedder("", WithEmbeddingBaseURL("http://localhost:11434/v1/"))
	assert.NoError(t, err, "互換サーバーではAPIキーなしを許可")
}

func TestNewEmbedderRejectsInvalidDimension(t *testing.T) {
	_, err := NewEmbedder("dummy-key", WithEmbeddingDimension(0))
	assert.ErrorIs(t, err, embedding.ErrEmbeddingMismatch)
}

type embeddingRequest struct {
	Model      string          `json:"model"`
	Input      json.RawMessage `json:"input"`
	Dimensions int             `json:"dimensions"`
}

func newEmbeddingServer(t *testing.T, requests *atomic.Int32) *httptest.Server {
	t.Helper()

	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requests.Add(1)
		require.True(t, strings.HasSuffix(r.URL.Path, "/embeddings"), r.URL.Path)

		var req embeddingRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))

		var inputs []string
		if err := json.Unmarshal(req.Input, &inputs); err != nil {
			var single string
			require.NoError(t, json.Unmarshal(req.Input, &single))
			inputs = []string{single}
		}

		// 順序が入れ替わっても index で並べ直されることを確認するため逆順で返す
		data := make([]map[string]any, 0, len(inputs))
		for i := len(inputs) - 1; i >= 0; i-- {
			data = append(data, map[string]any{
				"object":    "embedding",
				"index":     i,
				"embedding": []float64{float64(len(inputs[i])), float64(i)},
			})
		}

		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{
			"object": "list",
			"data":   data,
			"model":  req.Model,
			"usage":  map[string]any{"prompt_tokens": 1, "total_tokens": 1},
		})
	}))
}

func TestEmbedderBatchEmbedKeepsInputOrder(t *testing.T) {
	var requests atomic.Int32
	server := newEmbeddingServer(t, &requests)
	defer server.Close()

	embedder, err := NewEmbedder("dummy-key",
		WithEmbeddingBaseURL(server.URL+"/v1/"),
		WithEmbeddingDimension(2),
	)
	require.NoError(t, err)

	vectors, err := embedder.BatchEmbed(context.Background(), []string{"a", "bbb", "cc"})
	require.NoError(t, err)
	require.Len(t, vectors, 3)

	assert.Equal(t, []float32{1, 0}, vectors[0])
	assert.Equal(t, []float32{3, 1}, vectors[1])
	assert.Equal(t, []float32{2, 2}, vectors[2])
	assert.Equal(t, int32(1), requests.Load())
}

func TestEmbedderEmbedIsDeterministic(t *testing.T) {
	var requests atomic.Int32
	server := newEmbeddingServer(t, &requests)
	defer server.Close()

	embedder, err := NewEmbedder("dummy-key", WithEmbeddingBaseURL(server.URL+"/v1/"), WithEmbeddingDimension(2))
	require.NoError(t, err)

	first, err := embedder.Embed(context.Background(), "The sky is blue.")
	require.NoError(t, err)
	second, err := embedder.Embed(context.Background(), "The sky is blue.")
	require.NoError(t, err)

	assert.Equal(t, first, second)
}

func TestEmbedderBatchEmbedValidation(t *testing.T) {
	embedder, err := NewEmbedder("dummy-key")
	require.NoError(t, err)

	_, err = embedder.BatchEmbed(context.Background(), nil)
	assert.Error(t, err)

	_, err = embedder.BatchEmbed(context.Background(), make([]string, MaxEmbeddingBatchSize+1))
	assert.Error(t, err)
}

func TestEmbedderServerErrorIsUnavailable(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`{"error":{"message":"bad input","type":"invalid_request_error"}}`))
	}))
	defer server.Close()

	embedder, err := NewEmbedder("dummy-key", WithEmbeddingBaseURL(server.URL+"/v1/"))
	require.NoError(t, err)

	_, err = embedder.Embed(context.Background(), "text")
	assert.ErrorIs(t, err, embedding.ErrEmbedderUnavailable)
}
