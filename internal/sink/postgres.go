package sink

import (
	"context"
	"database/sql"
	"time"

	sq "github.com/Masterminds/squirrel"
	"github.com/lib/pq"

	"github.com/hitoshi/newswatch/internal/model"
)

// PostgresSinkName はPostgreSQLシンクの識別名。
const PostgresSinkName = "postgres"

// PostgresSink は記事をarticlesテーブルに書き込むシンク。
// (campaign_id, url)の一意制約により再書き込みは重複しない。
type PostgresSink struct {
	db  *sql.DB
	now func() time.Time
}

// NewPostgresSink はPostgresSinkを生成する。
func NewPostgresSink(db *sql.DB) *PostgresSink {
	return &PostgresSink{db: db, now: time.Now}
}

// Name はシンクの識別名を返す。
func (s *PostgresSink) Name() string {
	return PostgresSinkName
}

// Write は記事集合を1つのINSERT文で書き込む。
// 既存の(campaign_id, url)の組は無視される。
func (s *PostgresSink) Write(ctx context.Context, campaign *model.Campaign, articles []model.Article) error {
	if len(articles) == 0 {
		return nil
	}

	query, args, err := buildArticleInsert(campaign.ID, articles, s.now())
	if err != nil {
		return model.NewSinkError(s.Name(), model.SinkErrUnreachable, err)
	}

	if _, err := s.db.ExecContext(ctx, query, args...); err != nil {
		return classifyPostgresError(s.Name(), err)
	}

	return nil
}

// buildArticleInsert は記事集合の一括INSERT文を構築する。
// 既存の(campaign_id, url)の組を無視することで冪等性を保証する。
func buildArticleInsert(campaignID string, articles []model.Article, now time.Time) (string, []interface{}, error) {
	builder := sq.Insert("articles").
		Columns("campaign_id", "title", "url", "source", "summary", "author",
			"published_at", "matched_keywords", "relevance_score", "created_at").
		PlaceholderFormat(sq.Dollar).
		Suffix("ON CONFLICT (campaign_id, url) DO NOTHING")

	for _, article := range articles {
		var score sql.NullInt64
		if article.RelevanceScore != nil {
			score = sql.NullInt64{Int64: int64(*article.RelevanceScore), Valid: true}
		}
		builder = builder.Values(
			campaignID,
			article.Title,
			article.URL,
			article.Source,
			article.Summary,
			article.Author,
			article.PublishedAt,
			pq.Array(article.MatchedKeywords),
			score,
			now,
		)
	}

	return builder.ToSql()
}

// classifyPostgresError はPostgreSQLエラーをSinkErrorに分類する。
func classifyPostgresError(name string, err error) *model.SinkError {
	if pqErr, ok := err.(*pq.Error); ok {
		// 28xxx: 認証・権限エラー
		if len(pqErr.Code) >= 2 && pqErr.Code[:2] == "28" {
			return model.NewSinkError(name, model.SinkErrAuth, err)
		}
		// 53xxx: リソース不足
		if len(pqErr.Code) >= 2 && pqErr.Code[:2] == "53" {
			return model.NewSinkError(name, model.SinkErrQuota, err)
		}
	}
	return model.NewSinkError(name, model.SinkErrUnreachable, err)
}
