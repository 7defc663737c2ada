package source

import (
	"context"
	"net/http"
	"time"

	"github.com/hitoshi/newswatch/internal/model"
	"github.com/hitoshi/newswatch/internal/security"
)

// FeedConfig は汎用RSSソースの設定。
type FeedConfig struct {
	// Name はソースの識別名。
	Name string
	// FeedURL はフィードのURL。
	FeedURL string
	// Timeout はHTTPリクエストのタイムアウト。
	Timeout time.Duration
	// MaxBodySize はレスポンスボディの最大サイズ。
	MaxBodySize int64
	// FreshnessWindow は記事の鮮度ウィンドウ。ゼロの場合は鮮度で絞り込まない。
	FreshnessWindow time.Duration
}

// FeedSource は固定URLのRSS/Atomフィードを利用するソース。
// フィードは検索機能を持たないため、取得後にキーワードで絞り込む。
type FeedSource struct {
	config    FeedConfig
	client    *http.Client
	sanitizer Sanitizer
	now       func() time.Time
}

// NewFeedSource はFeedSourceを生成する。
func NewFeedSource(config FeedConfig, guard security.SSRFGuardService, sanitizer Sanitizer) *FeedSource {
	return &FeedSource{
		config:    config,
		client:    guard.NewSafeClient(config.Timeout, config.MaxBodySize),
		sanitizer: sanitizer,
		now:       time.Now,
	}
}

// Name はソースの識別名を返す。
func (s *FeedSource) Name() string {
	return s.config.Name
}

// Query はフィードを取得し、いずれかのキーワードに一致する記事を返す。
func (s *FeedSource) Query(ctx context.Context, keywords []string, limit int) ([]model.Article, error) {
	feed, err := fetchFeed(ctx, s.client, s.Name(), s.config.FeedURL, s.config.MaxBodySize)
	if err != nil {
		return nil, err
	}

	now := s.now()
	cutoff := freshnessCutoff(now, s.config.FreshnessWindow)
	limit = clampLimit(limit)

	articles := make([]model.Article, 0, limit)
	for _, article := range convertFeedItems(feed.Items, s.Name(), s.sanitizer, now) {
		if !cutoff.IsZero() && article.PublishedAt.Before(cutoff) {
			continue
		}
		matched := matchKeywords(article, keywords)
		if len(keywords) > 0 && len(matched) == 0 {
			continue
		}
		article.MatchedKeywords = matched
		articles = append(articles, article)
		if len(articles) >= limit {
			break
		}
	}

	return articles, nil
}
