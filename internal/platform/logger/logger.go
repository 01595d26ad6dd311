package logger

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
)

// Config はロガーの設定
type Config struct {
	Level  slog.Level
	Format string    // "json", "text" or "off"
	Output io.Writer // nil の場合は標準エラー出力（標準出力は回答の表示に使う）
}

// DefaultConfig はデフォルトのロガー設定
func DefaultConfig() Config {
	return Config{
		Level:  slog.LevelInfo,
		Format: "json",
	}
}

// ParseConfig は文字列のレベルとフォーマットから設定を作成します
func ParseConfig(level, format string) (Config, error) {
	cfg := DefaultConfig()

	if level != "" {
		if err := cfg.Level.UnmarshalText([]byte(strings.TrimSpace(level))); err != nil {
			return cfg, fmt.Errorf("invalid log level %q: %w", level, err)
		}
	}

	switch f := strings.ToLower(strings.TrimSpace(format)); f {
	case "":
	case "json", "text", "off":
		cfg.Format = f
	default:
		return cfg, fmt.Errorf("invalid log format %q", format)
	}

	return cfg, nil
}

// New は新しいロガーを作成し、デフォルトロガーとして設定します
func New(cfg Config) *slog.Logger {
	var handler slog.Handler

	out := cfg.Output
	if out == nil {
		out = os.Stderr
	}

	opts := &slog.HandlerOptions{
		Level: cfg.Level,
	}

	switch cfg.Format {
	case "text":
		handler = slog.NewTextHandler(out, opts)
	case "off":
		handler = slog.NewTextHandler(io.Discard, opts)
	default: // "json"
		handler = slog.NewJSONHandler(out, opts)
	}

	logger := slog.New(handler)
	slog.SetDefault(logger)

	return logger
}
