// Package repository はキャンペーンと実行レポートの永続化インターフェースを定義する。
package repository

import (
	"context"

	"github.com/hitoshi/newswatch/internal/model"
)

// CampaignStore はキャンペーンデータの永続化インターフェース。
// PostgreSQL実装とYAMLファイル実装がある。
type CampaignStore interface {
	// ListActive は実行対象のキャンペーンの一覧を取得する。
	// 一時停止中(paused)のみ除外する。直近の実行が失敗した(error)キャンペーンは
	// 次の実行期限で再実行されるよう含まれ、実行中(running)の二重実行は
	// 実行ロックの競合スキップで抑止される。
	ListActive(ctx context.Context) ([]*model.Campaign, error)

	// List は全キャンペーンの一覧を取得する。
	List(ctx context.Context) ([]*model.Campaign, error)

	// FindByID は指定IDのキャンペーンを取得する。
	// 見つからない場合はmodel.ErrCampaignNotFoundを返す。
	FindByID(ctx context.Context, id string) (*model.Campaign, error)

	// Create はキャンペーンを作成する。
	Create(ctx context.Context, campaign *model.Campaign) error

	// UpdateStatus はキャンペーンの状態を更新する。
	UpdateStatus(ctx context.Context, id string, status model.CampaignStatus) error

	// UpdateRunState は実行完了時の状態を記録する。
	// last_run_at・累計記事数・状態の更新とレポートの保存を原子的に行う。
	// 実行中に一時停止されたキャンペーンの状態はpausedのまま維持される。
	UpdateRunState(ctx context.Context, campaign *model.Campaign, report *model.RunReport) error

	// ListReports は指定キャンペーンの実行レポートを新しい順に取得する。
	ListReports(ctx context.Context, campaignID string, limit int) ([]*model.RunReport, error)
}
