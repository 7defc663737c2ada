package scheduler

import (
	"context"
	"log/slog"
	"runtime/debug"
	"sync"
	"time"

	"github.com/hitoshi/newswatch/internal/model"
	"github.com/hitoshi/newswatch/internal/repository"
)

// CampaignRunner はキャンペーン1回分の実行インターフェース。
type CampaignRunner interface {
	// Run はキャンペーンを1回実行する。実行中の場合はスキップレポートを返す。
	Run(ctx context.Context, campaign *model.Campaign) (*model.RunReport, error)
}

// MetricsRecorder はスケジューラメトリクス記録のインターフェース。
type MetricsRecorder interface {
	// RecordRunDeferred は並列上限により実行が先送りされたことを記録する。
	RecordRunDeferred()
}

// Scheduler はキャンペーンの定期実行を制御する。
// ティック間で共有されるsemaphoreにより、全キャンペーン合計の
// 同時実行数を制御する。上限到達時の実行期限超過キャンペーンは
// ブロックせず次のティックに持ち越される。
type Scheduler struct {
	store   repository.CampaignStore
	runner  CampaignRunner
	logger  *slog.Logger
	metrics MetricsRecorder

	maxConcurrentRuns int
	drainTimeout      time.Duration

	sem chan struct{}
	wg  sync.WaitGroup
	now func() time.Time

	mu       sync.Mutex
	inflight map[string]string // campaign ID -> name
}

// New はSchedulerを生成する。
// maxConcurrentRunsが0以下の場合はデフォルト値5を使用する。metricsはnil可。
func New(
	store repository.CampaignStore,
	runner CampaignRunner,
	logger *slog.Logger,
	metrics MetricsRecorder,
	maxConcurrentRuns int,
	drainTimeout time.Duration,
) *Scheduler {
	if maxConcurrentRuns <= 0 {
		maxConcurrentRuns = 5
	}
	return &Scheduler{
		store:             store,
		runner:            runner,
		logger:            logger,
		metrics:           metrics,
		maxConcurrentRuns: maxConcurrentRuns,
		drainTimeout:      drainTimeout,
		sem:               make(chan struct{}, maxConcurrentRuns),
		now:               time.Now,
		inflight:          make(map[string]string),
	}
}

// normalizeTickInterval はティック間隔を最短実行頻度(15分)以下に丸める。
// 間隔が最短頻度より長いと15分キャンペーンの実行期限検出が遅延するため。
func normalizeTickInterval(d time.Duration) time.Duration {
	shortest := model.Frequency15Min.Interval()
	if d <= 0 {
		return time.Minute
	}
	if d > shortest {
		return shortest
	}
	return d
}

// Start はティッカーでスケジューラを起動する。
// コンテキストがキャンセルされるまで実行を継続し、
// 停止時は実行中のキャンペーンの完了をdrainTimeoutまで待機する。
func (s *Scheduler) Start(ctx context.Context, tickInterval time.Duration) {
	if normalized := normalizeTickInterval(tickInterval); normalized != tickInterval {
		s.logger.Warn("ティック間隔が最短実行頻度を超えているため丸めます",
			slog.Duration("configured", tickInterval),
			slog.Duration("normalized", normalized),
		)
		tickInterval = normalized
	}

	ticker := time.NewTicker(tickInterval)
	defer ticker.Stop()

	s.logger.Info("キャンペーンスケジューラを開始しました",
		slog.Duration("tick_interval", tickInterval),
		slog.Int("max_concurrent_runs", s.maxConcurrentRuns),
	)

	// 起動直後に1回実行
	s.Tick(ctx)

	for {
		select {
		case <-ctx.Done():
			s.drain()
			return
		case <-ticker.C:
			s.Tick(ctx)
		}
	}
}

// Tick は実行期限を迎えたキャンペーンを検出し、ランナーに引き渡す。
// 並列上限に達している場合、超過分は次のティックまで先送りされる。
func (s *Scheduler) Tick(ctx context.Context) {
	campaigns, err := s.store.ListActive(ctx)
	if err != nil {
		s.logger.Error("キャンペーン一覧の取得に失敗しました",
			slog.String("error", err.Error()),
		)
		return
	}

	due := DueCampaigns(campaigns, s.now())
	if len(due) == 0 {
		return
	}

	s.logger.Info("実行期限を迎えたキャンペーンを検出しました",
		slog.Int("due_count", len(due)),
	)

	for _, campaign := range due {
		select {
		case s.sem <- struct{}{}: // semaphore取得（非ブロック）
		default:
			// 上限到達。次のティックで再検出される
			s.logger.Warn("並列実行数が上限に達したため実行を先送りします",
				slog.String("campaign_id", campaign.ID),
				slog.String("campaign", campaign.Name),
			)
			if s.metrics != nil {
				s.metrics.RecordRunDeferred()
			}
			continue
		}

		// 停止シグナルで実行中のランが中断されないよう、キャンセルを切り離す。
		// 実行自体の期限はランナー側で設定される
		runCtx := context.WithoutCancel(ctx)

		s.wg.Add(1)
		s.trackRun(campaign)
		go func(c *model.Campaign) {
			defer s.wg.Done()
			defer s.untrackRun(c)
			defer func() { <-s.sem }() // semaphore解放
			defer s.recoverPanic(c)

			if _, err := s.runner.Run(runCtx, c); err != nil {
				// ロック競合はランナー側でスキップとして記録済み
				if model.IsLockContended(err) {
					return
				}
				s.logger.Error("キャンペーン実行結果の保存に失敗しました",
					slog.String("campaign_id", c.ID),
					slog.String("error", err.Error()),
				)
			}
		}(campaign)
	}
}

// recoverPanic はランナーのpanicを回収する。
// 1つのキャンペーンの異常がスケジューラ全体を停止させないようにする。
func (s *Scheduler) recoverPanic(campaign *model.Campaign) {
	if r := recover(); r != nil {
		s.logger.Error("キャンペーン実行中にpanicが発生しました",
			slog.String("campaign_id", campaign.ID),
			slog.Any("panic", r),
			slog.String("stack", string(debug.Stack())),
		)
	}
}

// trackRun は実行中キャンペーンとして記録する。
func (s *Scheduler) trackRun(campaign *model.Campaign) {
	s.mu.Lock()
	s.inflight[campaign.ID] = campaign.Name
	s.mu.Unlock()
}

// untrackRun は実行中キャンペーンの記録を削除する。
func (s *Scheduler) untrackRun(campaign *model.Campaign) {
	s.mu.Lock()
	delete(s.inflight, campaign.ID)
	s.mu.Unlock()
}

// inflightSnapshot は実行中キャンペーンのスナップショットを返す。
func (s *Scheduler) inflightSnapshot() map[string]string {
	s.mu.Lock()
	defer s.mu.Unlock()
	snapshot := make(map[string]string, len(s.inflight))
	for id, name := range s.inflight {
		snapshot[id] = name
	}
	return snapshot
}

// drain は実行中のキャンペーンの完了をdrainTimeoutまで待機する。
// 待機時間を超過したキャンペーンは放棄し、1件ずつ失敗として記録する。
func (s *Scheduler) drain() {
	s.logger.Info("キャンペーンスケジューラを停止します",
		slog.Duration("drain_timeout", s.drainTimeout),
	)

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		s.logger.Info("全キャンペーンの実行が完了しました")
	case <-time.After(s.drainTimeout):
		abandoned := s.inflightSnapshot()
		s.logger.Warn("実行中のキャンペーンが残っていますが待機時間を超過したため停止します",
			slog.Int("abandoned_count", len(abandoned)),
		)
		for id, name := range abandoned {
			s.logger.Error("キャンペーンの実行を放棄しました",
				slog.String("campaign_id", id),
				slog.String("campaign", name),
				slog.String("outcome", string(model.OutcomeFailed)),
			)
		}
	}
}
