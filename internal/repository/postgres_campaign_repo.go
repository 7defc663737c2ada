package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/lib/pq"

	"github.com/hitoshi/newswatch/internal/model"
)

// PostgresCampaignRepo はPostgreSQLを使用したキャンペーンストア。
type PostgresCampaignRepo struct {
	db *sql.DB
}

// NewPostgresCampaignRepo はPostgresCampaignRepoを生成する。
func NewPostgresCampaignRepo(db *sql.DB) *PostgresCampaignRepo {
	return &PostgresCampaignRepo{db: db}
}

const campaignColumns = `id, name, keywords, frequency, max_articles, relevance_threshold,
	        sink_refs, status, last_run_at, total_articles, created_at, updated_at`

// ListActive はアクティブなキャンペーンの一覧を取得する。
func (r *PostgresCampaignRepo) ListActive(ctx context.Context) ([]*model.Campaign, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT `+campaignColumns+`
		 FROM campaigns
		 WHERE status != $1
		 ORDER BY created_at`,
		model.CampaignStatusPaused,
	)
	if err != nil {
		return nil, fmt.Errorf("アクティブキャンペーンの取得に失敗しました: %w", err)
	}
	defer rows.Close()

	return scanCampaigns(rows)
}

// List は全キャンペーンの一覧を取得する。
func (r *PostgresCampaignRepo) List(ctx context.Context) ([]*model.Campaign, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT `+campaignColumns+`
		 FROM campaigns
		 ORDER BY created_at`,
	)
	if err != nil {
		return nil, fmt.Errorf("キャンペーン一覧の取得に失敗しました: %w", err)
	}
	defer rows.Close()

	return scanCampaigns(rows)
}

// FindByID は指定IDのキャンペーンを取得する。
// 直近の実行レポートもあわせて読み込む。
func (r *PostgresCampaignRepo) FindByID(ctx context.Context, id string) (*model.Campaign, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT `+campaignColumns+`
		 FROM campaigns WHERE id = $1`,
		id,
	)

	campaign, err := scanCampaign(row)
	if err == sql.ErrNoRows {
		return nil, model.ErrCampaignNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("キャンペーンの取得に失敗しました: %w", err)
	}

	reports, err := r.ListReports(ctx, id, 1)
	if err != nil {
		return nil, err
	}
	if len(reports) > 0 {
		campaign.LastRunReport = reports[0]
	}

	return campaign, nil
}

// Create はキャンペーンを作成する。
func (r *PostgresCampaignRepo) Create(ctx context.Context, campaign *model.Campaign) error {
	sinkRefs, err := json.Marshal(campaign.SinkRefs)
	if err != nil {
		return fmt.Errorf("出力先参照のエンコードに失敗しました: %w", err)
	}

	_, err = r.db.ExecContext(ctx,
		`INSERT INTO campaigns (id, name, keywords, frequency, max_articles, relevance_threshold,
		                        sink_refs, status, last_run_at, total_articles, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)`,
		campaign.ID, campaign.Name, pq.Array(campaign.Keywords),
		campaign.Frequency, campaign.MaxArticles, campaign.RelevanceThreshold,
		sinkRefs, campaign.Status, nullTime(campaign.LastRunAt), campaign.TotalArticles,
		campaign.CreatedAt, campaign.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("キャンペーンの作成に失敗しました: %w", err)
	}
	return nil
}

// UpdateStatus はキャンペーンの状態を更新する。
func (r *PostgresCampaignRepo) UpdateStatus(ctx context.Context, id string, status model.CampaignStatus) error {
	result, err := r.db.ExecContext(ctx,
		`UPDATE campaigns SET status = $2, updated_at = $3 WHERE id = $1`,
		id, status, time.Now(),
	)
	if err != nil {
		return fmt.Errorf("キャンペーン状態の更新に失敗しました: %w", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("更新行数の取得に失敗しました: %w", err)
	}
	if affected == 0 {
		return model.ErrCampaignNotFound
	}
	return nil
}

// UpdateRunState は実行完了時の状態とレポートを同一トランザクションで保存する。
// 実行中に一時停止されたキャンペーンはpausedのまま維持される。
func (r *PostgresCampaignRepo) UpdateRunState(ctx context.Context, campaign *model.Campaign, report *model.RunReport) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("トランザクションの開始に失敗しました: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx,
		`INSERT INTO run_reports (id, campaign_id, started_at, finished_at,
		                          articles_fetched, articles_accepted,
		                          failed_sources, failed_sinks, ai_provider, outcome, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`,
		report.ID, report.CampaignID, report.StartedAt, report.FinishedAt,
		report.ArticlesFetched, report.ArticlesAccepted,
		pq.Array(report.FailedSources), pq.Array(report.FailedSinks),
		report.AIProvider, report.Outcome, time.Now(),
	)
	if err != nil {
		return fmt.Errorf("実行レポートの保存に失敗しました: %w", err)
	}

	_, err = tx.ExecContext(ctx,
		`UPDATE campaigns SET
		    last_run_at = $2,
		    total_articles = total_articles + $3,
		    status = CASE WHEN status = $4 THEN status ELSE $5 END,
		    updated_at = $6
		 WHERE id = $1`,
		campaign.ID, report.FinishedAt, report.ArticlesAccepted,
		model.CampaignStatusPaused, campaign.Status, time.Now(),
	)
	if err != nil {
		return fmt.Errorf("キャンペーン実行状態の更新に失敗しました: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("トランザクションのコミットに失敗しました: %w", err)
	}
	return nil
}

// ListReports は指定キャンペーンの実行レポートを新しい順に取得する。
func (r *PostgresCampaignRepo) ListReports(ctx context.Context, campaignID string, limit int) ([]*model.RunReport, error) {
	if limit <= 0 {
		limit = 20
	}

	rows, err := r.db.QueryContext(ctx,
		`SELECT id, campaign_id, started_at, finished_at,
		        articles_fetched, articles_accepted,
		        failed_sources, failed_sinks, ai_provider, outcome
		 FROM run_reports
		 WHERE campaign_id = $1
		 ORDER BY started_at DESC
		 LIMIT $2`,
		campaignID, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("実行レポートの取得に失敗しました: %w", err)
	}
	defer rows.Close()

	var reports []*model.RunReport
	for rows.Next() {
		report := &model.RunReport{}
		var failedSources, failedSinks pq.StringArray

		err := rows.Scan(
			&report.ID, &report.CampaignID, &report.StartedAt, &report.FinishedAt,
			&report.ArticlesFetched, &report.ArticlesAccepted,
			&failedSources, &failedSinks, &report.AIProvider, &report.Outcome,
		)
		if err != nil {
			return nil, fmt.Errorf("実行レポートの読み取りに失敗しました: %w", err)
		}

		report.FailedSources = failedSources
		report.FailedSinks = failedSinks
		reports = append(reports, report)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("実行レポートの走査に失敗しました: %w", err)
	}

	return reports, nil
}

// rowScanner はsql.Rowとsql.Rowsの共通スキャンインターフェース。
type rowScanner interface {
	Scan(dest ...interface{}) error
}

// scanCampaign は1行をキャンペーンに変換する。
func scanCampaign(row rowScanner) (*model.Campaign, error) {
	campaign := &model.Campaign{}
	var keywords pq.StringArray
	var sinkRefs []byte
	var lastRunAt sql.NullTime

	err := row.Scan(
		&campaign.ID, &campaign.Name, &keywords, &campaign.Frequency,
		&campaign.MaxArticles, &campaign.RelevanceThreshold,
		&sinkRefs, &campaign.Status, &lastRunAt, &campaign.TotalArticles,
		&campaign.CreatedAt, &campaign.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	campaign.Keywords = keywords
	if lastRunAt.Valid {
		campaign.LastRunAt = &lastRunAt.Time
	}
	if len(sinkRefs) > 0 {
		if err := json.Unmarshal(sinkRefs, &campaign.SinkRefs); err != nil {
			return nil, fmt.Errorf("出力先参照のデコードに失敗しました: %w", err)
		}
	}

	return campaign, nil
}

// scanCampaigns は複数行をキャンペーンのスライスに変換する。
func scanCampaigns(rows *sql.Rows) ([]*model.Campaign, error) {
	var campaigns []*model.Campaign
	for rows.Next() {
		campaign, err := scanCampaign(rows)
		if err != nil {
			return nil, fmt.Errorf("キャンペーンの読み取りに失敗しました: %w", err)
		}
		campaigns = append(campaigns, campaign)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("キャンペーンの走査に失敗しました: %w", err)
	}
	return campaigns, nil
}

// nullTime は*time.Timeをsql.NullTimeに変換する。
func nullTime(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: *t, Valid: true}
}
