package source

import (
	"bytes"
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"golang.org/x/net/html"

	"github.com/hitoshi/newswatch/internal/model"
	"github.com/hitoshi/newswatch/internal/security"
)

// ScrapeConfig はWebスクレイピングソースの設定。
type ScrapeConfig struct {
	// Name はソースの識別名。
	Name string
	// PageURL はスクレイピング対象のページURL。
	PageURL string
	// ItemSelector は記事要素を選択するCSSセレクタ。空の場合は"article"。
	ItemSelector string
	// TitleSelector は記事要素内のタイトルを選択するCSSセレクタ。空の場合は"h1, h2, h3"。
	TitleSelector string
	// LinkSelector は記事要素内のリンクを選択するCSSセレクタ。空の場合は"a[href]"。
	LinkSelector string
	// Timeout はHTTPリクエストのタイムアウト。
	Timeout time.Duration
	// MaxBodySize はレスポンスボディの最大サイズ。
	MaxBodySize int64
}

// ScrapeSource はHTMLページをスクレイピングするソース。
// ページのheadにRSS/Atomの代替リンクが宣言されている場合は、
// スクレイピングよりも構造が安定しているフィード経由の取得を優先する。
type ScrapeSource struct {
	config    ScrapeConfig
	client    *http.Client
	sanitizer Sanitizer
	now       func() time.Time
}

// NewScrapeSource はScrapeSourceを生成する。
func NewScrapeSource(config ScrapeConfig, guard security.SSRFGuardService, sanitizer Sanitizer) *ScrapeSource {
	if config.ItemSelector == "" {
		config.ItemSelector = "article"
	}
	if config.TitleSelector == "" {
		config.TitleSelector = "h1, h2, h3"
	}
	if config.LinkSelector == "" {
		config.LinkSelector = "a[href]"
	}
	return &ScrapeSource{
		config:    config,
		client:    guard.NewSafeClient(config.Timeout, config.MaxBodySize),
		sanitizer: sanitizer,
		now:       time.Now,
	}
}

// Name はソースの識別名を返す。
func (s *ScrapeSource) Name() string {
	return s.config.Name
}

// Query はページを取得し、フィード自動検出またはスクレイピングで記事を抽出する。
func (s *ScrapeSource) Query(ctx context.Context, keywords []string, limit int) ([]model.Article, error) {
	body, err := fetchBody(ctx, s.client, s.Name(), s.config.PageURL, s.config.MaxBodySize)
	if err != nil {
		return nil, err
	}

	limit = clampLimit(limit)

	// フィードの代替リンクがあればフィード経由で取得
	if feedURL := discoverFeedURL(body, s.config.PageURL); feedURL != "" {
		if articles, err := s.queryFeed(ctx, feedURL, keywords, limit); err == nil {
			return articles, nil
		}
		// フィード取得に失敗した場合はスクレイピングにフォールバック
	}

	return s.scrape(body, keywords, limit)
}

// queryFeed は自動検出されたフィードから記事を取得する。
func (s *ScrapeSource) queryFeed(ctx context.Context, feedURL string, keywords []string, limit int) ([]model.Article, error) {
	feed, err := fetchFeed(ctx, s.client, s.Name(), feedURL, s.config.MaxBodySize)
	if err != nil {
		return nil, err
	}

	articles := make([]model.Article, 0, limit)
	for _, article := range convertFeedItems(feed.Items, s.Name(), s.sanitizer, s.now()) {
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

// scrape はHTMLから記事要素を抽出する。
// スクレイピングでは公開日時を取得できないため、取得時刻を公開日時とする。
func (s *ScrapeSource) scrape(body []byte, keywords []string, limit int) ([]model.Article, error) {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
	if err != nil {
		return nil, model.NewSourceError(s.Name(), model.SourceErrMalformedFeed, fmt.Errorf("HTMLのパースに失敗: %w", err))
	}

	baseU, err := url.Parse(s.config.PageURL)
	if err != nil {
		return nil, model.NewSourceError(s.Name(), model.SourceErrMalformedFeed, fmt.Errorf("ページURLのパースに失敗: %w", err))
	}

	now := s.now()
	articles := make([]model.Article, 0, limit)

	doc.Find(s.config.ItemSelector).EachWithBreak(func(_ int, sel *goquery.Selection) bool {
		title := strings.TrimSpace(sel.Find(s.config.TitleSelector).First().Text())
		href, ok := sel.Find(s.config.LinkSelector).First().Attr("href")
		if title == "" || !ok || href == "" {
			return true
		}

		ref, err := url.Parse(href)
		if err != nil {
			return true
		}

		article := model.Article{
			Title:       title,
			URL:         baseU.ResolveReference(ref).String(),
			Source:      s.Name(),
			PublishedAt: now,
		}
		if s.sanitizer != nil {
			article.Title = s.sanitizer.Sanitize(article.Title)
		}

		matched := matchKeywords(article, keywords)
		if len(keywords) > 0 && len(matched) == 0 {
			return true
		}
		article.MatchedKeywords = matched

		articles = append(articles, article)
		return len(articles) < limit
	})

	return articles, nil
}

// discoverFeedURL はHTMLのheadタグからRSS/Atomの代替リンクを検出する。
// 最初に見つかったフィードのURLを絶対URLで返す。見つからない場合は空文字列。
func discoverFeedURL(htmlBody []byte, baseURL string) string {
	baseU, err := url.Parse(baseURL)
	if err != nil {
		return ""
	}

	tokenizer := html.NewTokenizer(bytes.NewReader(htmlBody))
	inHead := false

	for {
		tt := tokenizer.Next()
		switch tt {
		case html.ErrorToken:
			return ""

		case html.StartTagToken, html.SelfClosingTagToken:
			tn, hasAttr := tokenizer.TagName()
			tagName := string(tn)

			if tagName == "head" {
				inHead = true
				continue
			}

			if tagName == "body" {
				// bodyに入ったらheadの解析を終了
				return ""
			}

			if !inHead || tagName != "link" || !hasAttr {
				continue
			}

			var rel, linkType, href string
			for {
				key, val, more := tokenizer.TagAttr()
				switch strings.ToLower(string(key)) {
				case "rel":
					rel = strings.ToLower(string(val))
				case "type":
					linkType = strings.ToLower(string(val))
				case "href":
					href = string(val)
				}
				if !more {
					break
				}
			}

			if rel != "alternate" || href == "" {
				continue
			}
			if linkType != "application/rss+xml" && linkType != "application/atom+xml" {
				continue
			}

			ref, err := url.Parse(href)
			if err != nil {
				continue
			}
			return baseU.ResolveReference(ref).String()

		case html.EndTagToken:
			tn, _ := tokenizer.TagName()
			if string(tn) == "head" {
				return ""
			}
		}
	}
}
