package provider

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/hitoshi/newswatch/internal/model"
)

// Chain は複数のプロバイダークライアントを優先順で試行するフォールバックチェーン。
// サーキットオープン中のプロバイダーをスキップし、全プロバイダーが失敗しても
// 決定的ヒューリスティックにフォールバックするため、ExpandKeywordsと
// ScoreRelevanceは必ず使用可能な結果を返す（エラーを返さない）。
type Chain struct {
	clients   []*Client
	heuristic Heuristic
	logger    *slog.Logger
	metrics   MetricsRecorder
	now       func() time.Time
}

// NewChain はフォールバックチェーンを生成する。
// clientsは優先度の高い順（コストの低い順）に並べる。
func NewChain(clients []*Client, logger *slog.Logger, metrics MetricsRecorder) *Chain {
	return &Chain{
		clients: clients,
		logger:  logger,
		metrics: metrics,
		now:     time.Now,
	}
}

// ExpandKeywords はシードキーワードをAIで展開し、元のキーワードとの和集合を返す。
// 和集合は大文字小文字を区別せず重複排除し、シードを先頭に相対順序を保持する。
// 全プロバイダーが失敗またはサーキットオープンの場合はシードのみを返す。
// 戻り値の第2要素は使用したプロバイダー名。
func (c *Chain) ExpandKeywords(ctx context.Context, seed []string) ([]string, string) {
	for _, client := range c.clients {
		if client.Health().IsOpen(c.now()) {
			c.logger.Info("サーキットオープン中のプロバイダーをスキップします",
				slog.String("provider", client.Name()),
				slog.String("op", "expand"),
			)
			continue
		}

		c.recordCall(client.Name(), "expand")
		suggestions, err := client.Expand(ctx, seed)
		if err != nil {
			c.recordFailure(client, err)
			continue
		}

		return MergeKeywords(seed, suggestions), client.Name()
	}

	c.recordHeuristic("expand")
	c.logger.Info("全プロバイダーが利用不可のためヒューリスティック展開にフォールバックします")
	return c.heuristic.Expand(seed), HeuristicName
}

// ScoreRelevance は記事の関連度を0〜100で評価する。
// 全プロバイダーが失敗またはサーキットオープンの場合はヒューリスティック評価を返す。
// 戻り値の第2要素は使用したプロバイダー名。
func (c *Chain) ScoreRelevance(ctx context.Context, article model.Article, keywords []string) (int, string) {
	for _, client := range c.clients {
		if client.Health().IsOpen(c.now()) {
			continue
		}

		c.recordCall(client.Name(), "score")
		score, err := client.Score(ctx, article, keywords)
		if err != nil {
			c.recordFailure(client, err)
			continue
		}

		return score, client.Name()
	}

	c.recordHeuristic("score")
	return c.heuristic.Score(article.Title, article.Summary, keywords), HeuristicName
}

func (c *Chain) recordCall(provider, op string) {
	if c.metrics != nil {
		c.metrics.RecordProviderCall(provider, op)
	}
}

func (c *Chain) recordFailure(client *Client, err error) {
	if c.metrics == nil {
		return
	}
	kind := string(model.ProviderErrUnavailable)
	var perr *model.ProviderError
	if errors.As(err, &perr) {
		kind = string(perr.Kind)
	}
	c.metrics.RecordProviderFailure(client.Name(), kind)

	// この失敗でサーキットがオープンした場合は記録する
	if client.Health().IsOpen(c.now()) {
		c.metrics.RecordCircuitOpen(client.Name())
	}
}

func (c *Chain) recordHeuristic(op string) {
	if c.metrics != nil {
		c.metrics.RecordHeuristicFallback(op)
	}
}

// MergeKeywords はシードと提案キーワードの和集合を返す。
// 大文字小文字を区別せず重複排除し、シードの相対順序を先頭に保持する。
func MergeKeywords(seed, suggested []string) []string {
	merged := make([]string, 0, len(seed)+len(suggested))
	merged = append(merged, seed...)
	merged = append(merged, suggested...)
	return dedupeKeywords(merged)
}
