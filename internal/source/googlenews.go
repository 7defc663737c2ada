package source

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/hitoshi/newswatch/internal/model"
	"github.com/hitoshi/newswatch/internal/security"
)

// GoogleNewsName はGoogle Newsソースの識別名。
const GoogleNewsName = "google_news"

// googleNewsBaseURL はGoogle News RSS検索のエンドポイント。
const googleNewsBaseURL = "https://news.google.com/rss/search"

// GoogleNewsConfig はGoogle Newsソースの設定。
type GoogleNewsConfig struct {
	// Lang は検索結果の言語コード (hlパラメータ)。
	Lang string
	// Country は検索結果の国コード (glパラメータ)。
	Country string
	// Timeout はHTTPリクエストのタイムアウト。
	Timeout time.Duration
	// MaxBodySize はレスポンスボディの最大サイズ。
	MaxBodySize int64
	// FreshnessWindow は記事の鮮度ウィンドウ。ゼロの場合は鮮度で絞り込まない。
	FreshnessWindow time.Duration
}

// GoogleNewsSource はGoogle News RSS検索を利用するソース。
// Google Newsのリンクはリダイレクト用URLのため、urlクエリパラメータから
// 元記事のURLを復元する。
type GoogleNewsSource struct {
	config    GoogleNewsConfig
	endpoint  string
	client    *http.Client
	sanitizer Sanitizer
	now       func() time.Time
}

// NewGoogleNewsSource はGoogleNewsSourceを生成する。
func NewGoogleNewsSource(config GoogleNewsConfig, guard security.SSRFGuardService, sanitizer Sanitizer) *GoogleNewsSource {
	return &GoogleNewsSource{
		config:    config,
		endpoint:  googleNewsBaseURL,
		client:    guard.NewSafeClient(config.Timeout, config.MaxBodySize),
		sanitizer: sanitizer,
		now:       time.Now,
	}
}

// Name はソースの識別名を返す。
func (s *GoogleNewsSource) Name() string {
	return GoogleNewsName
}

// Query はキーワードのOR結合クエリでGoogle News RSSを検索する。
func (s *GoogleNewsSource) Query(ctx context.Context, keywords []string, limit int) ([]model.Article, error) {
	if len(keywords) == 0 {
		return nil, model.NewSourceError(s.Name(), model.SourceErrMalformedFeed, fmt.Errorf("キーワードが指定されていません"))
	}

	feed, err := fetchFeed(ctx, s.client, s.Name(), s.searchURL(keywords), s.config.MaxBodySize)
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
		article.URL = unwrapRedirectURL(article.URL)
		article.MatchedKeywords = matchKeywords(article, keywords)
		articles = append(articles, article)
		if len(articles) >= limit {
			break
		}
	}

	return articles, nil
}

// searchURL はキーワードからGoogle News RSS検索のURLを構築する。
func (s *GoogleNewsSource) searchURL(keywords []string) string {
	params := url.Values{}
	params.Set("q", buildSearchQuery(keywords))
	params.Set("hl", s.config.Lang)
	params.Set("gl", s.config.Country)
	params.Set("ceid", s.config.Country+":"+s.config.Lang)
	return s.endpoint + "?" + params.Encode()
}

// unwrapRedirectURL はGoogle Newsのリダイレクト用URLから元記事のURLを復元する。
// urlクエリパラメータが無い場合は元のリンクをそのまま返す。
func unwrapRedirectURL(link string) string {
	parsed, err := url.Parse(link)
	if err != nil {
		return link
	}
	if !strings.HasSuffix(parsed.Hostname(), "news.google.com") {
		return link
	}
	if original := parsed.Query().Get("url"); original != "" {
		return original
	}
	return link
}
