package source

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/mmcdole/gofeed"

	"github.com/hitoshi/newswatch/internal/model"
)

// fetchBody はURLからレスポンスボディを取得する。
// maxBodySizeを超える部分は読み捨てられる。
func fetchBody(ctx context.Context, client *http.Client, sourceName, rawURL string, maxBodySize int64) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, model.NewSourceError(sourceName, model.SourceErrUnreachable, fmt.Errorf("リクエストの生成に失敗: %w", err))
	}
	req.Header.Set("User-Agent", "newswatch/1.0")
	req.Header.Set("Accept", "application/rss+xml, application/atom+xml, application/xml, text/html, */*")

	resp, err := client.Do(req)
	if err != nil {
		return nil, classifyFetchError(sourceName, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, model.NewSourceError(sourceName, model.SourceErrUnreachable, fmt.Errorf("ステータスコード %d", resp.StatusCode))
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodySize))
	if err != nil {
		return nil, classifyFetchError(sourceName, err)
	}

	return body, nil
}

// fetchFeed はフィードURLを取得してパースする。
func fetchFeed(ctx context.Context, client *http.Client, sourceName, feedURL string, maxBodySize int64) (*gofeed.Feed, error) {
	body, err := fetchBody(ctx, client, sourceName, feedURL, maxBodySize)
	if err != nil {
		return nil, err
	}

	feed, err := gofeed.NewParser().ParseString(string(body))
	if err != nil {
		return nil, model.NewSourceError(sourceName, model.SourceErrMalformedFeed, fmt.Errorf("フィードのパースに失敗: %w", err))
	}

	return feed, nil
}

// classifyFetchError はHTTPエラーをSourceErrorに分類する。
// コンテキストのタイムアウトはtimeout、それ以外はunreachableとして扱う。
func classifyFetchError(sourceName string, err error) *model.SourceError {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return model.NewSourceError(sourceName, model.SourceErrTimeout, err)
	}

	var netErr interface{ Timeout() bool }
	if errors.As(err, &netErr) && netErr.Timeout() {
		return model.NewSourceError(sourceName, model.SourceErrTimeout, err)
	}

	return model.NewSourceError(sourceName, model.SourceErrUnreachable, err)
}

// clampLimit は記事数の上限を正の値に正規化する。
func clampLimit(limit int) int {
	const defaultLimit = 50
	if limit <= 0 {
		return defaultLimit
	}
	return limit
}

// freshnessCutoff は鮮度ウィンドウの開始時刻を返す。
func freshnessCutoff(now time.Time, window time.Duration) time.Time {
	if window <= 0 {
		return time.Time{}
	}
	return now.Add(-window)
}
