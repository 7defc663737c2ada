package filter

import (
	"bytes"
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/hitoshi/newswatch/internal/model"
)

func newTestLogger(buf *bytes.Buffer) *slog.Logger {
	return slog.New(slog.NewJSONHandler(buf, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
}

// mockScorer はScorerインターフェースのモック実装。
type mockScorer struct {
	scoreFunc func(ctx context.Context, article model.Article, keywords []string) (int, string)
}

func (m *mockScorer) ScoreRelevance(ctx context.Context, article model.Article, keywords []string) (int, string) {
	return m.scoreFunc(ctx, article, keywords)
}

// scoreByURL はURLごとに固定スコアを返すモックを生成する。
func scoreByURL(scores map[string]int, provider string) *mockScorer {
	return &mockScorer{
		scoreFunc: func(_ context.Context, article model.Article, _ []string) (int, string) {
			return scores[article.URL], provider
		},
	}
}

func articlesWithURLs(urls ...string) []model.Article {
	articles := make([]model.Article, len(urls))
	for i, u := range urls {
		articles[i] = model.Article{Title: "記事 " + u, URL: u}
	}
	return articles
}

func TestRelevanceFilter_Apply_DropsBelowThreshold(t *testing.T) {
	scorer := scoreByURL(map[string]int{
		"https://example.com/a": 50,
		"https://example.com/b": 71,
		"https://example.com/c": 100,
		"https://example.com/d": 69,
	}, "openai")

	var buf bytes.Buffer
	f := NewRelevanceFilter(scorer, 4, newTestLogger(&buf))

	articles := articlesWithURLs(
		"https://example.com/a",
		"https://example.com/b",
		"https://example.com/c",
		"https://example.com/d",
	)

	result := f.Apply(context.Background(), articles, []string{"AI"}, 70)

	if len(result.Articles) != 2 {
		t.Fatalf("通過した記事数 = %d, want 2", len(result.Articles))
	}
	// 入力の順序を維持する
	if result.Articles[0].URL != "https://example.com/b" {
		t.Errorf("1件目のURL = %s, want https://example.com/b", result.Articles[0].URL)
	}
	if result.Articles[1].URL != "https://example.com/c" {
		t.Errorf("2件目のURL = %s, want https://example.com/c", result.Articles[1].URL)
	}
}

func TestRelevanceFilter_Apply_ThresholdIsInclusive(t *testing.T) {
	scorer := scoreByURL(map[string]int{"https://example.com/a": 70}, "openai")

	var buf bytes.Buffer
	f := NewRelevanceFilter(scorer, 4, newTestLogger(&buf))

	result := f.Apply(context.Background(), articlesWithURLs("https://example.com/a"), []string{"AI"}, 70)

	if len(result.Articles) != 1 {
		t.Errorf("閾値と同値のスコアは通過すべき: 通過数 = %d, want 1", len(result.Articles))
	}
}

func TestRelevanceFilter_Apply_SetsRelevanceScore(t *testing.T) {
	scorer := scoreByURL(map[string]int{"https://example.com/a": 85}, "openai")

	var buf bytes.Buffer
	f := NewRelevanceFilter(scorer, 4, newTestLogger(&buf))

	result := f.Apply(context.Background(), articlesWithURLs("https://example.com/a"), []string{"AI"}, 0)

	if len(result.Articles) != 1 {
		t.Fatalf("通過した記事数 = %d, want 1", len(result.Articles))
	}
	if result.Articles[0].RelevanceScore == nil || *result.Articles[0].RelevanceScore != 85 {
		t.Errorf("RelevanceScore = %v, want 85", result.Articles[0].RelevanceScore)
	}
}

func TestRelevanceFilter_Apply_EmptyInput(t *testing.T) {
	scorer := &mockScorer{
		scoreFunc: func(_ context.Context, _ model.Article, _ []string) (int, string) {
			t.Error("空の入力ではスコアリングを呼び出してはならない")
			return 0, ""
		},
	}

	var buf bytes.Buffer
	f := NewRelevanceFilter(scorer, 4, newTestLogger(&buf))

	result := f.Apply(context.Background(), nil, []string{"AI"}, 70)

	if len(result.Articles) != 0 {
		t.Errorf("記事数 = %d, want 0", len(result.Articles))
	}
}

func TestRelevanceFilter_Apply_BoundsConcurrency(t *testing.T) {
	const workers = 2

	var current, max int32
	var mu sync.Mutex

	scorer := &mockScorer{
		scoreFunc: func(_ context.Context, _ model.Article, _ []string) (int, string) {
			n := atomic.AddInt32(&current, 1)
			mu.Lock()
			if n > max {
				max = n
			}
			mu.Unlock()
			defer atomic.AddInt32(&current, -1)
			return 80, "openai"
		},
	}

	var buf bytes.Buffer
	f := NewRelevanceFilter(scorer, workers, newTestLogger(&buf))

	articles := articlesWithURLs(
		"https://example.com/1",
		"https://example.com/2",
		"https://example.com/3",
		"https://example.com/4",
		"https://example.com/5",
		"https://example.com/6",
	)

	result := f.Apply(context.Background(), articles, []string{"AI"}, 0)

	if len(result.Articles) != 6 {
		t.Errorf("記事数 = %d, want 6", len(result.Articles))
	}
	mu.Lock()
	defer mu.Unlock()
	if max > workers {
		t.Errorf("最大並列数 = %d, want %d 以下", max, workers)
	}
}

func TestRelevanceFilter_Apply_ReportsDominantProvider(t *testing.T) {
	var calls int32
	scorer := &mockScorer{
		scoreFunc: func(_ context.Context, _ model.Article, _ []string) (int, string) {
			// 1回目はheuristic、以降はopenai
			if atomic.AddInt32(&calls, 1) == 1 {
				return 80, "heuristic"
			}
			return 80, "openai"
		},
	}

	var buf bytes.Buffer
	f := NewRelevanceFilter(scorer, 1, newTestLogger(&buf))

	articles := articlesWithURLs(
		"https://example.com/1",
		"https://example.com/2",
		"https://example.com/3",
	)

	result := f.Apply(context.Background(), articles, []string{"AI"}, 0)

	if result.Provider != "openai" {
		t.Errorf("Provider = %s, want openai (最多使用のプロバイダー)", result.Provider)
	}
}

func TestRelevanceFilter_Apply_IdempotentOnOwnOutput(t *testing.T) {
	scorer := scoreByURL(map[string]int{
		"https://example.com/a": 90,
		"https://example.com/b": 40,
		"https://example.com/c": 75,
	}, "openai")

	var buf bytes.Buffer
	f := NewRelevanceFilter(scorer, 2, newTestLogger(&buf))

	articles := articlesWithURLs(
		"https://example.com/a",
		"https://example.com/b",
		"https://example.com/c",
	)

	first := f.Apply(context.Background(), articles, []string{"AI"}, 70)
	second := f.Apply(context.Background(), first.Articles, []string{"AI"}, 70)

	// 自身の出力への再適用は同じ集合を同じ順序で返す
	if len(second.Articles) != len(first.Articles) {
		t.Fatalf("再適用後の記事数 = %d, want %d", len(second.Articles), len(first.Articles))
	}
	for i := range first.Articles {
		if second.Articles[i].URL != first.Articles[i].URL {
			t.Errorf("%d件目のURL = %s, want %s", i, second.Articles[i].URL, first.Articles[i].URL)
		}
		if *second.Articles[i].RelevanceScore != *first.Articles[i].RelevanceScore {
			t.Errorf("%d件目のスコア = %d, want %d",
				i, *second.Articles[i].RelevanceScore, *first.Articles[i].RelevanceScore)
		}
	}
}

func TestDominantProvider_TieKeepsFirstSeen(t *testing.T) {
	got := dominantProvider([]string{"openai", "ollama"})
	if got != "openai" {
		t.Errorf("dominantProvider = %s, want openai (同数の場合は先に登場した方)", got)
	}
}
