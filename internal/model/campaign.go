// Package model はドメインモデルを定義する。
package model

import "time"

// Frequency はキャンペーンの実行頻度を表す。
type Frequency string

const (
	// Frequency15Min は15分間隔の実行頻度。
	Frequency15Min Frequency = "15min"
	// FrequencyHourly は1時間間隔の実行頻度。
	FrequencyHourly Frequency = "hourly"
	// FrequencyDaily は1日間隔の実行頻度。
	FrequencyDaily Frequency = "daily"
	// FrequencyWeekly は1週間間隔の実行頻度。
	FrequencyWeekly Frequency = "weekly"
)

// Interval は頻度に対応する実行間隔を返す。
// 未知の頻度は安全側に倒してdailyと同じ間隔を返す。
func (f Frequency) Interval() time.Duration {
	switch f {
	case Frequency15Min:
		return 15 * time.Minute
	case FrequencyHourly:
		return time.Hour
	case FrequencyDaily:
		return 24 * time.Hour
	case FrequencyWeekly:
		return 7 * 24 * time.Hour
	default:
		return 24 * time.Hour
	}
}

// Valid は既知の頻度かどうかを返す。
func (f Frequency) Valid() bool {
	switch f {
	case Frequency15Min, FrequencyHourly, FrequencyDaily, FrequencyWeekly:
		return true
	}
	return false
}

// CampaignStatus はキャンペーンの状態を表す。
type CampaignStatus string

const (
	// CampaignStatusActive はスケジュール対象のアクティブ状態。
	CampaignStatusActive CampaignStatus = "active"
	// CampaignStatusPaused は一時停止状態。dueの判定対象にならない。
	CampaignStatusPaused CampaignStatus = "paused"
	// CampaignStatusRunning は実行中の状態。
	CampaignStatusRunning CampaignStatus = "running"
	// CampaignStatusError は直近の実行が失敗した状態。
	CampaignStatusError CampaignStatus = "error"
)

// SinkKind は出力先の種別を表す。
type SinkKind string

const (
	// SinkKindSheets はGoogleスプレッドシートへの出力。
	SinkKindSheets SinkKind = "google_sheets"
	// SinkKindPostgres はPostgreSQLのarticlesテーブルへの出力。
	SinkKindPostgres SinkKind = "postgres"
)

// SinkRef はキャンペーンに紐付く出力先の参照を表す。
// TargetはシンクごとのID（スプレッドシートIDなど）を保持する。
type SinkRef struct {
	Kind   SinkKind `yaml:"kind" json:"kind"`
	Target string   `yaml:"target" json:"target"`
}

// Campaign は監視キャンペーンを表す。
// キーワード集合・実行頻度・出力先を持ち、スケジューラによって定期実行される。
type Campaign struct {
	ID                 string
	Name               string
	Keywords           []string
	Frequency          Frequency
	MaxArticles        int
	RelevanceThreshold int
	SinkRefs           []SinkRef

	Status        CampaignStatus
	LastRunAt     *time.Time
	LastRunReport *RunReport
	TotalArticles int

	CreatedAt time.Time
	UpdatedAt time.Time
}

// RunOutcome はキャンペーン実行の結果種別を表す。
type RunOutcome string

const (
	// OutcomeSuccess は全シンクへの書き込みまで完了した成功。
	OutcomeSuccess RunOutcome = "success"
	// OutcomePartial は一部のシンクへの書き込みに失敗した部分成功。
	OutcomePartial RunOutcome = "partial"
	// OutcomeFailed は実行失敗。
	OutcomeFailed RunOutcome = "failed"
	// OutcomeSkipped はロック競合による実行スキップ。エラーではない。
	OutcomeSkipped RunOutcome = "skipped"
)

// RunReport は1回のキャンペーン実行の結果レポートを表す。
// 生成後は不変として扱う。
type RunReport struct {
	ID               string
	CampaignID       string
	StartedAt        time.Time
	FinishedAt       time.Time
	ArticlesFetched  int
	ArticlesAccepted int
	FailedSources    []string
	FailedSinks      []string
	AIProvider       string
	Outcome          RunOutcome
}

// Duration は実行の所要時間を返す。
func (r *RunReport) Duration() time.Duration {
	return r.FinishedAt.Sub(r.StartedAt)
}
