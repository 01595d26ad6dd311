package search

import (
	"fmt"
	"strings"
)

// RetrievalResult はベクトル検索の結果1件を表す
type RetrievalResult struct {
	Text        string  `json:"text"`
	SourceID    string  `json:"sourceID"`
	StartOffset int     `json:"startOffset"`
	Score       float64 `json:"score"`
}

// ScoreMetric はスコアの極性を表す
type ScoreMetric string

const (
	// MetricDistance は距離（小さいほど関連度が高い）
	MetricDistance ScoreMetric = "distance"
	// MetricSimilarity は類似度（大きいほど関連度が高い）
	MetricSimilarity ScoreMetric = "similarity"
)

// ParseScoreMetric は文字列から ScoreMetric を解釈する
func ParseScoreMetric(s string) (ScoreMetric, error) {
	switch ScoreMetric(strings.ToLower(strings.TrimSpace(s))) {
	case MetricDistance, "":
		return MetricDistance, nil
	case MetricSimilarity:
		return MetricSimilarity, nil
	default:
		return "", fmt.Errorf("unknown score metric: %q", s)
	}
}

// Passes は最上位スコアが閾値を満たすかを判定する
// 境界値ちょうどは通過とする
func (m ScoreMetric) Passes(top, threshold float64) bool {
	if m == MetricSimilarity {
		return top >= threshold
	}
	return top <= threshold
}
