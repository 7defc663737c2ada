// Package model はドメインモデルを定義する。
package model

import "time"

// Article はソースから取得した記事を表す。
// コアでは永続化しない一時データであり、URLが1回のフェッチサイクル内での重複排除キーになる。
type Article struct {
	Title           string
	URL             string
	Source          string
	Summary         string
	Author          string
	PublishedAt     time.Time
	MatchedKeywords []string
	RelevanceScore  *int
}

// FetchResult はマルチソースフェッチのマージ結果を表す。
// 一部のソースが失敗しても残りのソースの記事を返す（部分失敗の契約）。
type FetchResult struct {
	Articles      []Article
	FailedSources []string
}

// AllSourcesFailed は全ソースが失敗したかどうかを返す。
// totalSourcesには構成されたソース数を渡す。
func (r *FetchResult) AllSourcesFailed(totalSources int) bool {
	return totalSources > 0 && len(r.FailedSources) >= totalSources
}
