package runner

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/hitoshi/newswatch/internal/filter"
	"github.com/hitoshi/newswatch/internal/model"
	"github.com/hitoshi/newswatch/internal/repository"
	"github.com/hitoshi/newswatch/internal/sink"
)

// KeywordExpander はキーワード展開のインターフェース。
// 展開は必ず成功し、元キーワードを含む集合と使用プロバイダー名を返す。
type KeywordExpander interface {
	ExpandKeywords(ctx context.Context, seed []string) ([]string, string)
}

// Fetcher は記事取得のインターフェース。
type Fetcher interface {
	Fetch(ctx context.Context, keywords []string, maxArticles int) model.FetchResult
	SourceCount() int
}

// Filter は関連度フィルタリングのインターフェース。
type Filter interface {
	Apply(ctx context.Context, articles []model.Article, keywords []string, threshold int) filter.Result
}

// SinkResolver はSinkRefからシンクを解決するインターフェース。
type SinkResolver interface {
	Resolve(ref model.SinkRef) (sink.Sink, error)
}

// MetricsRecorder は実行メトリクス記録のインターフェース。
type MetricsRecorder interface {
	RecordRun(outcome model.RunOutcome, duration time.Duration)
	RecordArticles(fetched, accepted int)
}

// Runner はキャンペーン1回分の実行を統括する。
type Runner struct {
	store    repository.CampaignStore
	expander KeywordExpander
	fetcher  Fetcher
	filter   Filter
	sinks    SinkResolver
	locks    *LockRegistry
	logger   *slog.Logger
	metrics  MetricsRecorder
	deadline time.Duration
	now      func() time.Time
}

// New はRunnerを生成する。metricsはnil可。
func New(
	store repository.CampaignStore,
	expander KeywordExpander,
	fetcher Fetcher,
	f Filter,
	sinks SinkResolver,
	locks *LockRegistry,
	logger *slog.Logger,
	metrics MetricsRecorder,
) *Runner {
	return &Runner{
		store:    store,
		expander: expander,
		fetcher:  fetcher,
		filter:   f,
		sinks:    sinks,
		locks:    locks,
		logger:   logger,
		metrics:  metrics,
		now:      time.Now,
	}
}

// SetRunDeadline は実行全体の期限を上書きする。
// ゼロ以下の場合はキャンペーンの実行間隔を期限とする。
func (r *Runner) SetRunDeadline(d time.Duration) {
	r.deadline = d
}

// runDeadline はキャンペーンの実行期限を返す。
func (r *Runner) runDeadline(campaign *model.Campaign) time.Duration {
	if r.deadline > 0 {
		return r.deadline
	}
	return campaign.Frequency.Interval()
}

// Run はキャンペーンを1回実行し、実行レポートを返す。
// 同一キャンペーンが実行中の場合はスキップレポートと*model.RunnerError
// (lock_contended)を返す（レポートは永続化しない）。
// 実行自体の失敗はレポートのoutcomeとして表現され、それ以外のエラーは永続化の失敗のみ。
func (r *Runner) Run(ctx context.Context, campaign *model.Campaign) (*model.RunReport, error) {
	startedAt := r.now()

	if !r.locks.TryAcquire(campaign.ID) {
		r.logger.Info("キャンペーンは実行中のためスキップします",
			slog.String("campaign_id", campaign.ID),
			slog.String("campaign", campaign.Name),
		)
		report := r.newReport(campaign, startedAt)
		report.FinishedAt = r.now()
		report.Outcome = model.OutcomeSkipped
		r.recordMetrics(report)
		return report, &model.RunnerError{CampaignID: campaign.ID, Kind: model.RunnerErrLockContended}
	}
	defer r.locks.Release(campaign.ID)

	if err := r.store.UpdateStatus(ctx, campaign.ID, model.CampaignStatusRunning); err != nil {
		r.logger.Warn("実行中状態への更新に失敗しました",
			slog.String("campaign_id", campaign.ID),
			slog.String("error", err.Error()),
		)
	}

	runCtx, cancel := context.WithTimeout(ctx, r.runDeadline(campaign))
	defer cancel()

	report := r.execute(runCtx, campaign, startedAt)
	r.recordMetrics(report)

	campaign.Status = statusForOutcome(report.Outcome)
	if err := r.store.UpdateRunState(ctx, campaign, report); err != nil {
		return report, err
	}

	r.logger.Info("キャンペーンの実行が完了しました",
		slog.String("campaign_id", campaign.ID),
		slog.String("campaign", campaign.Name),
		slog.String("outcome", string(report.Outcome)),
		slog.Int("fetched", report.ArticlesFetched),
		slog.Int("accepted", report.ArticlesAccepted),
		slog.Duration("duration", report.Duration()),
	)

	return report, nil
}

// execute はロック取得後の実行本体。必ずレポートを返す。
func (r *Runner) execute(ctx context.Context, campaign *model.Campaign, startedAt time.Time) *model.RunReport {
	report := r.newReport(campaign, startedAt)

	keywords, provider := r.expander.ExpandKeywords(ctx, campaign.Keywords)
	report.AIProvider = provider

	result := r.fetcher.Fetch(ctx, keywords, campaign.MaxArticles)
	report.ArticlesFetched = len(result.Articles)
	report.FailedSources = result.FailedSources

	if result.AllSourcesFailed(r.fetcher.SourceCount()) {
		report.FinishedAt = r.now()
		report.Outcome = model.OutcomeFailed
		runErr := &model.RunnerError{CampaignID: campaign.ID, Kind: model.RunnerErrAllSourcesFailed}
		r.logger.Error("全ソースの取得に失敗しました",
			slog.String("campaign_id", campaign.ID),
			slog.String("error", runErr.Error()),
			slog.Any("failed_sources", report.FailedSources),
		)
		return report
	}

	filtered := r.filter.Apply(ctx, result.Articles, keywords, campaign.RelevanceThreshold)
	report.ArticlesAccepted = len(filtered.Articles)
	if filtered.Provider != "" {
		report.AIProvider = filtered.Provider
	}

	if ctx.Err() != nil {
		report.FinishedAt = r.now()
		report.Outcome = model.OutcomeFailed
		runErr := &model.RunnerError{CampaignID: campaign.ID, Kind: model.RunnerErrDeadlineExceeded}
		r.logger.Error("実行期限を超過しました",
			slog.String("campaign_id", campaign.ID),
			slog.String("error", runErr.Error()),
			slog.Duration("deadline", r.runDeadline(campaign)),
		)
		return report
	}

	report.FailedSinks = r.writeSinks(ctx, campaign, filtered.Articles)

	report.FinishedAt = r.now()
	if len(report.FailedSinks) > 0 {
		report.Outcome = model.OutcomePartial
	} else {
		report.Outcome = model.OutcomeSuccess
	}
	return report
}

// writeSinks は受理された記事を全シンクに書き込み、失敗したシンク名を返す。
// 1つのシンクの失敗が他のシンクへの書き込みを妨げない。
func (r *Runner) writeSinks(ctx context.Context, campaign *model.Campaign, articles []model.Article) []string {
	var failed []string
	for _, ref := range campaign.SinkRefs {
		s, err := r.sinks.Resolve(ref)
		if err != nil {
			r.logger.Error("シンクの解決に失敗しました",
				slog.String("campaign_id", campaign.ID),
				slog.String("kind", string(ref.Kind)),
				slog.String("error", err.Error()),
			)
			failed = append(failed, string(ref.Kind))
			continue
		}

		if err := s.Write(ctx, campaign, articles); err != nil {
			r.logger.Error("シンクへの書き込みに失敗しました",
				slog.String("campaign_id", campaign.ID),
				slog.String("sink", s.Name()),
				slog.String("error", err.Error()),
			)
			failed = append(failed, s.Name())
		}
	}
	return failed
}

func (r *Runner) newReport(campaign *model.Campaign, startedAt time.Time) *model.RunReport {
	return &model.RunReport{
		ID:         uuid.NewString(),
		CampaignID: campaign.ID,
		StartedAt:  startedAt,
	}
}

func (r *Runner) recordMetrics(report *model.RunReport) {
	if r.metrics == nil {
		return
	}
	r.metrics.RecordRun(report.Outcome, report.Duration())
	r.metrics.RecordArticles(report.ArticlesFetched, report.ArticlesAccepted)
}

// statusForOutcome は実行結果からキャンペーンの次状態を決定する。
func statusForOutcome(outcome model.RunOutcome) model.CampaignStatus {
	if outcome == model.OutcomeFailed {
		return model.CampaignStatusError
	}
	return model.CampaignStatusActive
}
