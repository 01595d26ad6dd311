package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/jinford/doc-rag/internal/core/ask"
	"github.com/jinford/doc-rag/internal/core/embedding"
	"github.com/jinford/doc-rag/internal/core/ingestion"
	"github.com/jinford/doc-rag/internal/core/search"
)

// ストアの種類
const (
	StoreDriverSQLite   = "sqlite"
	StoreDriverPgvector = "pgvector"
)

// Config はアプリケーション全体の設定を保持します
// 優先順位は 環境変数 > YAML ファイル > デフォルト値
type Config struct {
	Corpus     CorpusConfig     `yaml:"corpus"`
	Chunking   ChunkingConfig   `yaml:"chunking"`
	Retrieval  RetrievalConfig  `yaml:"retrieval"`
	Store      StoreConfig      `yaml:"store"`
	Prompt     PromptConfig     `yaml:"prompt"`
	Embedding  EmbeddingConfig  `yaml:"embedding"`
	Generation GenerationConfig `yaml:"generation"`
	OpenAI     OpenAIConfig     `yaml:"openai"`
	Database   DatabaseConfig   `yaml:"database"`
	Redis      RedisConfig      `yaml:"redis"`
	Log        LogConfig        `yaml:"log"`
}

// CorpusConfig はコーパスの場所
type CorpusConfig struct {
	Dir  string `yaml:"dir"`
	Glob string `yaml:"glob"`
}

// ChunkingConfig はチャンク分割の設定
type ChunkingConfig struct {
	Size    int `yaml:"size"`
	Overlap int `yaml:"overlap"`
}

// RetrievalConfig は検索と関連度判定の設定
type RetrievalConfig struct {
	TopK               int     `yaml:"top_k"`
	RelevanceThreshold float64 `yaml:"relevance_threshold"`
	ScoreMetric        string  `yaml:"score_metric"`       // "distance" or "similarity"
	MaxContextTokens   int     `yaml:"max_context_tokens"` // 知識ブロックの目安（超過時は警告のみ）
}

// StoreConfig はベクトルストアの設定
// Location は sqlite ではファイルパス、pgvector ではコレクション名
type StoreConfig struct {
	Driver   string `yaml:"driver"`
	Location string `yaml:"location"`
}

// PromptConfig はプロンプトテンプレートの設定
type PromptConfig struct {
	Template     string `yaml:"template"`
	TemplateFile string `yaml:"template_file"`
}

// EmbeddingConfig はインデックス構築時のEmbedding設定
type EmbeddingConfig struct {
	BatchSize   int `yaml:"batch_size"`
	Concurrency int `yaml:"concurrency"`
}

// GenerationConfig は生成モデル呼び出しの設定
type GenerationConfig struct {
	Timeout time.Duration `yaml:"timeout"`
}

// OpenAIConfig はOpenAI互換API設定（Embeddings + LLM）
type OpenAIConfig struct {
	APIKey             string `yaml:"api_key"`
	BaseURL            string `yaml:"base_url"`
	EmbeddingModel     string `yaml:"embedding_model"`
	EmbeddingDimension int    `yaml:"embedding_dimension"`
	LLMModel           string `yaml:"llm_model"`
}

// DatabaseConfig はデータベース接続設定（pgvector 使用時のみ）
type DatabaseConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	User     string `yaml:"user"`
	Password string `yaml:"password"`
	DBName   string `yaml:"dbname"`
	SSLMode  string `yaml:"sslmode"`
}

// RedisConfig はEmbeddingキャッシュの設定（Addr が空ならキャッシュしない）
type RedisConfig struct {
	Addr     string        `yaml:"addr"`
	Password string        `yaml:"password"`
	DB       int           `yaml:"db"`
	TTL      time.Duration `yaml:"ttl"`
}

// LogConfig はログ出力の設定
type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// Default はデフォルト設定を返します
func Default() *Config {
	return &Config{
		Corpus:    CorpusConfig{Dir: "base", Glob: "*.pdf"},
		Chunking:  ChunkingConfig{Size: 1000, Overlap: 500},
		Retrieval: RetrievalConfig{TopK: 3, RelevanceThreshold: 0.6, ScoreMetric: string(search.MetricDistance), MaxContextTokens: 6000},
		Store:     StoreConfig{Driver: StoreDriverSQLite, Location: "db/index.db"},
		Embedding: EmbeddingConfig{
			BatchSize:   ingestion.DefaultEmbeddingBatchSize,
			Concurrency: ingestion.DefaultEmbeddingConcurrency,
		},
		Generation: GenerationConfig{Timeout: 120 * time.Second},
		OpenAI: OpenAIConfig{
			EmbeddingModel:     "text-embedding-3-small",
			EmbeddingDimension: 1536,
			LLMModel:           "gpt-4o-mini",
		},
		Database: DatabaseConfig{
			Host:    "localhost",
			Port:    5432,
			User:    "docrag",
			DBName:  "docrag",
			SSLMode: "disable",
		},
		Redis: RedisConfig{TTL: 30 * 24 * time.Hour},
		Log:   LogConfig{Level: "info", Format: "json"},
	}
}

// Load は .env ファイル・YAML ファイル・環境変数から設定を読み込みます
// envFilePath と yamlPath は空文字列なら読み込みません
func Load(envFilePath, yamlPath string) (*Config, error) {
	// .envファイルが存在する場合は読み込む
	if envFilePath != "" {
		if err := godotenv.Load(envFilePath); err != nil {
			// ファイルが存在しない場合はエラーとしない（環境変数のみで動作可能）
			if !os.IsNotExist(err) {
				return nil, fmt.Errorf("failed to load .env file: %w", err)
			}
		}
	}

	cfg := Default()

	if yamlPath != "" {
		data, err := os.ReadFile(yamlPath)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config file %s: %w", yamlPath, err)
		}
	}

	if err := cfg.applyEnv(); err != nil {
		return nil, err
	}

	return cfg, nil
}

func (c *Config) applyEnv() error {
	env := &envReader{}

	c.Corpus.Dir = env.String("CORPUS_DIR", c.Corpus.Dir)
	c.Corpus.Glob = env.String("CORPUS_GLOB", c.Corpus.Glob)

	c.Chunking.Size = env.Int("CHUNK_SIZE", c.Chunking.Size)
	c.Chunking.Overlap = env.Int("CHUNK_OVERLAP", c.Chunking.Overlap)

	c.Retrieval.TopK = env.Int("TOP_K", c.Retrieval.TopK)
	c.Retrieval.RelevanceThreshold = env.Float("RELEVANCE_THRESHOLD", c.Retrieval.RelevanceThreshold)
	c.Retrieval.ScoreMetric = env.String("SCORE_METRIC", c.Retrieval.ScoreMetric)
	c.Retrieval.MaxContextTokens = env.Int("MAX_CONTEXT_TOKENS", c.Retrieval.MaxContextTokens)

	c.Store.Driver = env.String("STORE_DRIVER", c.Store.Driver)
	c.Store.Location = env.String("STORE_LOCATION", c.Store.Location)

	c.Prompt.Template = env.String("PROMPT_TEMPLATE", c.Prompt.Template)
	c.Prompt.TemplateFile = env.String("PROMPT_TEMPLATE_FILE", c.Prompt.TemplateFile)

	c.Embedding.BatchSize = env.Int("EMBED_BATCH_SIZE", c.Embedding.BatchSize)
	c.Embedding.Concurrency = env.Int("EMBED_CONCURRENCY", c.Embedding.Concurrency)

	c.Generation.Timeout = env.Duration("GENERATION_TIMEOUT", c.Generation.Timeout)

	c.OpenAI.APIKey = env.String("OPENAI_API_KEY", c.OpenAI.APIKey)
	c.OpenAI.BaseURL = env.String("OPENAI_BASE_URL", c.OpenAI.BaseURL)
	c.OpenAI.EmbeddingModel = env.String("OPENAI_EMBEDDING_MODEL", c.OpenAI.EmbeddingModel)
	c.OpenAI.EmbeddingDimension = env.Int("OPENAI_EMBEDDING_DIMENSION", c.OpenAI.EmbeddingDimension)
	c.OpenAI.LLMModel = env.String("OPENAI_LLM_MODEL", c.OpenAI.LLMModel)

	c.Database.Host = env.String("DB_HOST", c.Database.Host)
	c.Database.Port = env.Int("DB_PORT", c.Database.Port)
	c.Database.User = env.String("DB_USER", c.Database.User)
	c.Database.Password = env.String("DB_PASSWORD", c.Database.Password)
	c.Database.DBName = env.String("DB_NAME", c.Database.DBName)
	c.Database.SSLMode = env.String("DB_SSLMODE", c.Database.SSLMode)

	c.Redis.Addr = env.String("REDIS_ADDR", c.Redis.Addr)
	c.Redis.Password = env.String("REDIS_PASSWORD", c.Redis.Password)
	c.Redis.DB = env.Int("REDIS_DB", c.Redis.DB)
	c.Redis.TTL = env.Duration("REDIS_TTL", c.Redis.TTL)

	c.Log.Level = env.String("LOG_LEVEL", c.Log.Level)
	c.Log.Format = env.String("LOG_FORMAT", c.Log.Format)

	return errors.Join(env.errs...)
}

// Validate は設定値の整合性を検証します
// チャンク分割の設定が不正な場合は ingestion.ErrInvalidConfig を含むエラーを返します
func (c *Config) Validate() error {
	var errs []error

	if c.Chunking.Size <= 0 || c.Chunking.Overlap < 0 || c.Chunking.Overlap >= c.Chunking.Size {
		errs = append(errs, fmt.Errorf("%w: chunk_size=%d chunk_overlap=%d (need 0 <= overlap < size)",
			ingestion.ErrInvalidConfig, c.Chunking.Size, c.Chunking.Overlap))
	}
	if c.Retrieval.TopK <= 0 {
		errs = append(errs, fmt.Errorf("top_k must be positive, got %d", c.Retrieval.TopK))
	}
	if _, err := search.ParseScoreMetric(c.Retrieval.ScoreMetric); err != nil {
		errs = append(errs, err)
	}
	switch c.Store.Driver {
	case StoreDriverSQLite, StoreDriverPgvector:
	default:
		errs = append(errs, fmt.Errorf("unknown store driver: %q", c.Store.Driver))
	}
	if c.Store.Location == "" {
		errs = append(errs, errors.New("store location is empty"))
	}
	if c.Corpus.Dir == "" {
		errs = append(errs, errors.New("corpus dir is empty"))
	}
	if err := c.EmbeddingSpec().Validate(); err != nil {
		errs = append(errs, err)
	}
	if _, err := c.PromptTemplate(); err != nil {
		errs = append(errs, err)
	}
	if c.Embedding.BatchSize <= 0 || c.Embedding.Concurrency <= 0 {
		errs = append(errs, fmt.Errorf("embedding batch size and concurrency must be positive"))
	}

	return errors.Join(errs...)
}

// EmbeddingSpec はインデックス構築とクエリで共有するEmbedding構成を返します
func (c *Config) EmbeddingSpec() embedding.Spec {
	return embedding.Spec{
		Model:     c.OpenAI.EmbeddingModel,
		Dimension: c.OpenAI.EmbeddingDimension,
	}
}

// ScoreMetric はスコアの極性を返します（不正な値はデフォルトの距離）
func (c *Config) ScoreMetric() search.ScoreMetric {
	metric, err := search.ParseScoreMetric(c.Retrieval.ScoreMetric)
	if err != nil {
		return search.MetricDistance
	}
	return metric
}

// PromptTemplate はプロンプトテンプレートを返します
// TemplateFile が指定されていればファイルの内容を優先します
func (c *Config) PromptTemplate() (ask.PromptTemplate, error) {
	text := c.Prompt.Template
	if c.Prompt.TemplateFile != "" {
		data, err := os.ReadFile(c.Prompt.TemplateFile)
		if err != nil {
			return ask.PromptTemplate{}, fmt.Errorf("failed to read prompt template: %w", err)
		}
		text = string(data)
	}
	if strings.TrimSpace(text) == "" {
		text = ask.DefaultPromptTemplate
	}
	return ask.ParsePromptTemplate(text)
}

// envReader は環境変数を型変換しながら読み込み、変換エラーを蓄積します
type envReader struct {
	errs []error
}

// String は環境変数を取得し、存在しない場合はデフォルト値を返します
func (r *envReader) String(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// Int は環境変数を整数として取得します
func (r *envReader) Int(key string, defaultValue int) int {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := strconv.Atoi(strings.TrimSpace(valueStr))
	if err != nil {
		r.errs = append(r.errs, fmt.Errorf("invalid %s: %w", key, err))
		return defaultValue
	}
	return value
}

// Float は環境変数を浮動小数点数として取得します
func (r *envReader) Float(key string, defaultValue float64) float64 {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := strconv.ParseFloat(strings.TrimSpace(valueStr), 64)
	if err != nil {
		r.errs = append(r.errs, fmt.Errorf("invalid %s: %w", key, err))
		return defaultValue
	}
	return value
}

// Duration は環境変数を time.Duration として取得します（"90s" など）
func (r *envReader) Duration(key string, defaultValue time.Duration) time.Duration {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := time.ParseDuration(strings.TrimSpace(valueStr))
	if err != nil {
		r.errs = append(r.errs, fmt.Errorf("invalid %s: %w", key, err))
		return defaultValue
	}
	return value
}
