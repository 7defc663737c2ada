package source

import (
	"context"
	"errors"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/hitoshi/newswatch/internal/model"
)

// MetricsRecorder はフェッチ結果のメトリクス記録のインターフェース。
type MetricsRecorder interface {
	// RecordSourceFailure はソース失敗を記録する。
	RecordSourceFailure(source string)
}

// Fetcher は複数ソースからの並行取得とマージを行う。
// ソースのスライス順が優先度順となり、重複記事のマージと
// 同時刻記事の順序付けに使用される。
type Fetcher struct {
	sources          []Source
	perSourceTimeout time.Duration
	logger           *slog.Logger
	metrics          MetricsRecorder
}

// NewFetcher はFetcherを生成する。sourcesは優先度の高い順に渡すこと。
func NewFetcher(sources []Source, perSourceTimeout time.Duration, logger *slog.Logger, metrics MetricsRecorder) *Fetcher {
	return &Fetcher{
		sources:          sources,
		perSourceTimeout: perSourceTimeout,
		logger:           logger,
		metrics:          metrics,
	}
}

// SourceCount は登録されているソース数を返す。
func (f *Fetcher) SourceCount() int {
	return len(f.sources)
}

// Fetch は全ソースを並行に問い合わせ、結果をマージして返す。
// 一部のソースが失敗しても成功したソースの記事を返す。
// 失敗したソース名はFetchResult.FailedSourcesに優先度順で記録される。
func (f *Fetcher) Fetch(ctx context.Context, keywords []string, maxArticles int) model.FetchResult {
	results := make([][]model.Article, len(f.sources))
	failures := make([]error, len(f.sources))

	var wg sync.WaitGroup
	for i, src := range f.sources {
		wg.Add(1)
		go func(i int, src Source) {
			defer wg.Done()

			srcCtx, cancel := context.WithTimeout(ctx, f.perSourceTimeout)
			defer cancel()

			articles, err := src.Query(srcCtx, keywords, maxArticles)
			if err != nil {
				failures[i] = err
				return
			}
			results[i] = articles
		}(i, src)
	}
	wg.Wait()

	var result model.FetchResult
	for i, src := range f.sources {
		if failures[i] == nil {
			continue
		}
		result.FailedSources = append(result.FailedSources, src.Name())

		kind := model.SourceErrUnreachable
		var srcErr *model.SourceError
		if errors.As(failures[i], &srcErr) {
			kind = srcErr.Kind
		}
		f.logger.Warn("ソースの取得に失敗しました",
			slog.String("source", src.Name()),
			slog.String("kind", string(kind)),
			slog.String("error", failures[i].Error()),
		)
		if f.metrics != nil {
			f.metrics.RecordSourceFailure(src.Name())
		}
	}

	result.Articles = mergeArticles(results, maxArticles)
	return result
}

// mergeArticles は優先度順のソース別結果をマージする。
// URLで重複排除し、重複時は優先度の高いソースの記事を残して
// 一致キーワードを統合する。マージ後は公開日時の降順に並べ、
// 同時刻の記事はソース優先度順を維持する。
func mergeArticles(results [][]model.Article, maxArticles int) []model.Article {
	seen := make(map[string]int)
	var merged []model.Article

	for _, articles := range results {
		for _, article := range articles {
			if idx, ok := seen[article.URL]; ok {
				merged[idx].MatchedKeywords = unionKeywords(merged[idx].MatchedKeywords, article.MatchedKeywords)
				continue
			}
			seen[article.URL] = len(merged)
			merged = append(merged, article)
		}
	}

	// 安定ソートにより同時刻の記事はソース優先度順が保たれる
	sort.SliceStable(merged, func(i, j int) bool {
		return merged[i].PublishedAt.After(merged[j].PublishedAt)
	})

	if maxArticles > 0 && len(merged) > maxArticles {
		merged = merged[:maxArticles]
	}
	return merged
}

// unionKeywords は2つのキーワード集合を順序を保ちながら統合する。
// 大文字小文字を区別せずに重複を排除する。
func unionKeywords(a, b []string) []string {
	seen := make(map[string]struct{}, len(a)+len(b))
	var union []string
	for _, list := range [][]string{a, b} {
		for _, kw := range list {
			key := normalizeKeyword(kw)
			if key == "" {
				continue
			}
			if _, ok := seen[key]; ok {
				continue
			}
			seen[key] = struct{}{}
			union = append(union, kw)
		}
	}
	return union
}
