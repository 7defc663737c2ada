package sink

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"
	"google.golang.org/api/sheets/v4"

	"github.com/hitoshi/newswatch/internal/model"
)

// SheetsSinkName はGoogleスプレッドシートシンクの識別名。
const SheetsSinkName = "google_sheets"

// sheetRange は記事の書き込み対象範囲。A:Gの7列を使用する。
const sheetRange = "A:G"

// sheetHeader は1行目に書き込むヘッダー行。
var sheetHeader = []interface{}{
	"日時", "タイトル", "URL", "ソース", "要約", "一致キーワード", "関連度",
}

// SheetsService はスプレッドシートAPIのうちシンクが使用する操作のインターフェース。
type SheetsService interface {
	// GetValues は指定範囲のセル値を取得する。
	GetValues(ctx context.Context, spreadsheetID, readRange string) ([][]interface{}, error)
	// AppendValues は指定範囲の末尾に行を追加する。
	AppendValues(ctx context.Context, spreadsheetID, writeRange string, rows [][]interface{}) error
}

// googleSheetsService はsheets/v4クライアントによるSheetsServiceの実装。
type googleSheetsService struct {
	service *sheets.Service
}

// NewSheetsService はGoogle Sheets APIクライアントを生成する。
// credentialsFileが空の場合はApplication Default Credentialsを使用する。
func NewSheetsService(ctx context.Context, credentialsFile string) (SheetsService, error) {
	var opts []option.ClientOption
	if credentialsFile != "" {
		opts = append(opts, option.WithCredentialsFile(credentialsFile))
	}

	service, err := sheets.NewService(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("Sheetsクライアントの生成に失敗しました: %w", err)
	}
	return &googleSheetsService{service: service}, nil
}

func (g *googleSheetsService) GetValues(ctx context.Context, spreadsheetID, readRange string) ([][]interface{}, error) {
	resp, err := g.service.Spreadsheets.Values.Get(spreadsheetID, readRange).Context(ctx).Do()
	if err != nil {
		return nil, err
	}
	return resp.Values, nil
}

func (g *googleSheetsService) AppendValues(ctx context.Context, spreadsheetID, writeRange string, rows [][]interface{}) error {
	_, err := g.service.Spreadsheets.Values.Append(spreadsheetID, writeRange, &sheets.ValueRange{
		Values: rows,
	}).ValueInputOption("RAW").Context(ctx).Do()
	return err
}

// SheetsSink は記事をGoogleスプレッドシートに追記するシンク。
// 既存行のURL列を参照して重複書き込みを防ぐ。
type SheetsSink struct {
	service       SheetsService
	spreadsheetID string
	now           func() time.Time
}

// NewSheetsSink はSheetsSinkを生成する。
func NewSheetsSink(service SheetsService, spreadsheetID string) *SheetsSink {
	return &SheetsSink{
		service:       service,
		spreadsheetID: spreadsheetID,
		now:           time.Now,
	}
}

// Name はシンクの識別名を返す。
func (s *SheetsSink) Name() string {
	return SheetsSinkName
}

// Write は記事集合をスプレッドシートに追記する。
// シートが空の場合はヘッダー行を先に書き込む。既存のURLはスキップされる。
func (s *SheetsSink) Write(ctx context.Context, campaign *model.Campaign, articles []model.Article) error {
	existing, err := s.service.GetValues(ctx, s.spreadsheetID, sheetRange)
	if err != nil {
		return classifySheetsError(s.Name(), err)
	}

	var rows [][]interface{}
	if len(existing) == 0 {
		rows = append(rows, sheetHeader)
	}

	seen := existingURLs(existing)
	timestamp := s.now().Format("2006-01-02 15:04")

	for _, article := range articles {
		if _, ok := seen[article.URL]; ok {
			continue
		}
		seen[article.URL] = struct{}{}

		score := ""
		if article.RelevanceScore != nil {
			score = fmt.Sprintf("%d", *article.RelevanceScore)
		}
		rows = append(rows, []interface{}{
			timestamp,
			article.Title,
			article.URL,
			article.Source,
			article.Summary,
			strings.Join(article.MatchedKeywords, ", "),
			score,
		})
	}

	if len(rows) == 0 {
		return nil
	}

	if err := s.service.AppendValues(ctx, s.spreadsheetID, sheetRange, rows); err != nil {
		return classifySheetsError(s.Name(), err)
	}
	return nil
}

// existingURLs は既存行のURL列(3列目)の集合を返す。ヘッダー行は除外する。
func existingURLs(values [][]interface{}) map[string]struct{} {
	urls := make(map[string]struct{}, len(values))
	for i, row := range values {
		if i == 0 || len(row) < 3 {
			continue
		}
		if url, ok := row[2].(string); ok && url != "" {
			urls[url] = struct{}{}
		}
	}
	return urls
}

// classifySheetsError はGoogle APIエラーをSinkErrorに分類する。
func classifySheetsError(name string, err error) *model.SinkError {
	var apiErr *googleapi.Error
	if errors.As(err, &apiErr) {
		switch {
		case apiErr.Code == 401 || apiErr.Code == 403:
			return model.NewSinkError(name, model.SinkErrAuth, err)
		case apiErr.Code == 429:
			return model.NewSinkError(name, model.SinkErrQuota, err)
		}
	}
	return model.NewSinkError(name, model.SinkErrUnreachable, err)
}
