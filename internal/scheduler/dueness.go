// Package scheduler はキャンペーンの定期実行スケジューリングを提供する。
// ティッカーで実行期限を迎えたキャンペーンを検出し、
// semaphoreパターンで全体の最大並列数を制御しながらランナーに引き渡す。
package scheduler

import (
	"time"

	"github.com/hitoshi/newswatch/internal/model"
)

// IsDue はキャンペーンが実行期限を迎えているかを判定する。
// 一度も実行されていないキャンペーンは即座に実行対象となる。
// 停止期間中に複数の実行機会を逃していても、追い付き実行は行わず
// 次の1回分だけが実行対象となる。
func IsDue(campaign *model.Campaign, now time.Time) bool {
	if campaign.Status == model.CampaignStatusPaused {
		return false
	}
	if campaign.LastRunAt == nil {
		return true
	}
	return now.Sub(*campaign.LastRunAt) >= campaign.Frequency.Interval()
}

// DueCampaigns は実行期限を迎えたキャンペーンのみを返す。
func DueCampaigns(campaigns []*model.Campaign, now time.Time) []*model.Campaign {
	var due []*model.Campaign
	for _, c := range campaigns {
		if IsDue(c, now) {
			due = append(due, c)
		}
	}
	return due
}
