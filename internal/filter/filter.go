// Package filter は取得した記事の関連度スコアリングと閾値による絞り込みを行う。
package filter

import (
	"context"
	"log/slog"
	"sync"

	"github.com/hitoshi/newswatch/internal/model"
)

// Scorer は記事の関連度スコアリングのインターフェース。
// スコア(0〜100)と使用したプロバイダー名を返す。スコアリングは必ず成功する。
type Scorer interface {
	ScoreRelevance(ctx context.Context, article model.Article, keywords []string) (int, string)
}

// Result はフィルタリングの結果。
type Result struct {
	// Articles は閾値以上の関連度を持つ記事。入力の順序を維持する。
	Articles []model.Article
	// Provider は最も多くのスコアリングに使用されたプロバイダー名。
	Provider string
}

// RelevanceFilter は記事集合を並行にスコアリングし、閾値未満を除外する。
type RelevanceFilter struct {
	scorer  Scorer
	workers int
	logger  *slog.Logger
}

// NewRelevanceFilter はRelevanceFilterを生成する。
// workersが0以下の場合は4とする。
func NewRelevanceFilter(scorer Scorer, workers int, logger *slog.Logger) *RelevanceFilter {
	if workers <= 0 {
		workers = 4
	}
	return &RelevanceFilter{
		scorer:  scorer,
		workers: workers,
		logger:  logger,
	}
}

// Apply は各記事をスコアリングし、threshold以上の記事のみを返す。
// スコアリングは並行実行されるが、結果は入力の順序を維持する。
func (f *RelevanceFilter) Apply(ctx context.Context, articles []model.Article, keywords []string, threshold int) Result {
	if len(articles) == 0 {
		return Result{}
	}

	scored := make([]model.Article, len(articles))
	providers := make([]string, len(articles))

	// semaphoreパターンで並列数を制御
	sem := make(chan struct{}, f.workers)
	var wg sync.WaitGroup

	for i := range articles {
		wg.Add(1)
		sem <- struct{}{} // semaphore取得（ブロック）

		go func(i int) {
			defer wg.Done()
			defer func() { <-sem }() // semaphore解放

			article := articles[i]
			score, provider := f.scorer.ScoreRelevance(ctx, article, keywords)
			article.RelevanceScore = &score
			scored[i] = article
			providers[i] = provider
		}(i)
	}
	wg.Wait()

	result := Result{Provider: dominantProvider(providers)}
	for _, article := range scored {
		if article.RelevanceScore == nil || *article.RelevanceScore < threshold {
			f.logger.Debug("関連度が閾値未満のため記事を除外します",
				slog.String("url", article.URL),
				slog.Int("threshold", threshold),
			)
			continue
		}
		result.Articles = append(result.Articles, article)
	}

	f.logger.Info("関連度フィルタリングが完了しました",
		slog.Int("input", len(articles)),
		slog.Int("accepted", len(result.Articles)),
		slog.Int("threshold", threshold),
		slog.String("provider", result.Provider),
	)

	return result
}

// dominantProvider は最も使用回数の多いプロバイダー名を返す。
// 同数の場合は先に登場したものを優先する。
func dominantProvider(providers []string) string {
	counts := make(map[string]int, len(providers))
	var best string
	bestCount := 0
	for _, p := range providers {
		if p == "" {
			continue
		}
		counts[p]++
		if counts[p] > bestCount {
			best = p
			bestCount = counts[p]
		}
	}
	return best
}
