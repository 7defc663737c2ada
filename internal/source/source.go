// Package source はニュースソースのアダプターとマルチソースフェッチャーを提供する。
// 各ソースはキーワード検索で候補記事を返し、フェッチャーが並行取得とマージを行う。
package source

import (
	"context"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/mmcdole/gofeed"

	"github.com/hitoshi/newswatch/internal/model"
)

// Source は単一のコンテンツソースを表すインターフェース。
// 失敗時は*model.SourceErrorを返すこと。
type Source interface {
	// Name はソースの識別名を返す。failed_sourcesの記録に使用される。
	Name() string

	// Query はキーワード集合で候補記事を検索する。
	// limitは返す記事数の上限。タイムアウトはctx経由で伝播される。
	Query(ctx context.Context, keywords []string, limit int) ([]model.Article, error)
}

// Sanitizer は要約テキストのサニタイズのインターフェース。
type Sanitizer interface {
	Sanitize(raw string) string
}

// maxSummaryLen はソースが返す要約の最大文字数。
const maxSummaryLen = 300

// convertFeedItems はgofeedの記事をmodel.Articleに変換する。
// 要約はサニタイズして切り詰める。公開日時が無い記事は現在時刻を使用する。
func convertFeedItems(items []*gofeed.Item, sourceName string, sanitizer Sanitizer, now time.Time) []model.Article {
	articles := make([]model.Article, 0, len(items))

	for _, item := range items {
		if item == nil || item.Link == "" {
			continue
		}

		article := model.Article{
			Title:       strings.TrimSpace(item.Title),
			URL:         item.Link,
			Source:      sourceName,
			PublishedAt: now,
		}

		if item.PublishedParsed != nil {
			article.PublishedAt = *item.PublishedParsed
		} else if item.UpdatedParsed != nil {
			article.PublishedAt = *item.UpdatedParsed
		}

		summary := item.Description
		if summary == "" {
			summary = item.Content
		}
		if sanitizer != nil {
			summary = sanitizer.Sanitize(summary)
		}
		if utf8.RuneCountInString(summary) > maxSummaryLen {
			summary = string([]rune(summary)[:maxSummaryLen]) + "..."
		}
		article.Summary = summary

		if item.Author != nil && item.Author.Name != "" {
			article.Author = item.Author.Name
		} else if len(item.Authors) > 0 && item.Authors[0] != nil {
			article.Author = item.Authors[0].Name
		}

		articles = append(articles, article)
	}

	return articles
}

// matchKeywords は記事のタイトルと要約に含まれるキーワードを返す。
// 大文字小文字は区別しない。
func matchKeywords(article model.Article, keywords []string) []string {
	text := strings.ToLower(article.Title + " " + article.Summary)

	var matched []string
	for _, kw := range keywords {
		k := strings.ToLower(strings.TrimSpace(kw))
		if k != "" && strings.Contains(text, k) {
			matched = append(matched, kw)
		}
	}
	return matched
}

// normalizeKeyword は重複判定用にキーワードを正規化する。
func normalizeKeyword(kw string) string {
	return strings.ToLower(strings.TrimSpace(kw))
}

// buildSearchQuery はキーワード集合をOR結合の検索クエリに変換する。
// 展開キーワードが多い場合でもクエリが長くなりすぎないよう最大6語に制限する。
func buildSearchQuery(keywords []string) string {
	const maxQueryTerms = 6
	terms := keywords
	if len(terms) > maxQueryTerms {
		terms = terms[:maxQueryTerms]
	}
	return strings.Join(terms, " OR ")
}
