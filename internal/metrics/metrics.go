// Package metrics はPrometheusメトリクスの収集と公開を提供する。
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/hitoshi/newswatch/internal/model"
)

// Collector はPrometheusメトリクスを収集する実装。
// ランナー・スケジューラ・プロバイダー・ソースの各メトリクスインターフェースを満たす。
type Collector struct {
	runsTotal         *prometheus.CounterVec
	runDuration       prometheus.Histogram
	runsDeferred      prometheus.Counter
	articlesFetched   prometheus.Counter
	articlesAccepted  prometheus.Counter
	providerCalls     *prometheus.CounterVec
	providerFailures  *prometheus.CounterVec
	circuitOpens      *prometheus.CounterVec
	heuristicFallback *prometheus.CounterVec
	sourceFailures    *prometheus.CounterVec
}

// NewCollector は新しいCollectorを生成し、指定されたレジストリにメトリクスを登録する。
func NewCollector(reg prometheus.Registerer) *Collector {
	c := &Collector{
		runsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "newswatch_runs_total",
			Help: "キャンペーン実行の結果別合計数",
		}, []string{"outcome"}),
		runDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "newswatch_run_duration_seconds",
			Help:    "キャンペーン実行の所要時間（秒）",
			Buckets: []float64{1, 5, 15, 30, 60, 120, 300, 600},
		}),
		runsDeferred: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "newswatch_runs_deferred_total",
			Help: "並列上限により先送りされた実行の合計数",
		}),
		articlesFetched: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "newswatch_articles_fetched_total",
			Help: "取得された記事の合計数",
		}),
		articlesAccepted: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "newswatch_articles_accepted_total",
			Help: "関連度フィルタを通過した記事の合計数",
		}),
		providerCalls: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "newswatch_provider_calls_total",
			Help: "AIプロバイダー呼び出しの合計数",
		}, []string{"provider", "op"}),
		providerFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "newswatch_provider_failures_total",
			Help: "AIプロバイダー呼び出し失敗の種別別合計数",
		}, []string{"provider", "kind"}),
		circuitOpens: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "newswatch_provider_circuit_opens_total",
			Help: "プロバイダーのサーキットオープンの合計数",
		}, []string{"provider"}),
		heuristicFallback: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "newswatch_heuristic_fallback_total",
			Help: "ヒューリスティックへのフォールバックの操作別合計数",
		}, []string{"op"}),
		sourceFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "newswatch_source_failures_total",
			Help: "ソース取得失敗のソース別合計数",
		}, []string{"source"}),
	}

	reg.MustRegister(
		c.runsTotal,
		c.runDuration,
		c.runsDeferred,
		c.articlesFetched,
		c.articlesAccepted,
		c.providerCalls,
		c.providerFailures,
		c.circuitOpens,
		c.heuristicFallback,
		c.sourceFailures,
	)

	return c
}

// RecordRun はキャンペーン実行の結果と所要時間を記録する。
func (c *Collector) RecordRun(outcome model.RunOutcome, duration time.Duration) {
	c.runsTotal.WithLabelValues(string(outcome)).Inc()
	c.runDuration.Observe(duration.Seconds())
}

// RecordArticles は取得・受理された記事数を記録する。
func (c *Collector) RecordArticles(fetched, accepted int) {
	c.articlesFetched.Add(float64(fetched))
	c.articlesAccepted.Add(float64(accepted))
}

// RecordRunDeferred は並列上限による実行の先送りを記録する。
func (c *Collector) RecordRunDeferred() {
	c.runsDeferred.Inc()
}

// RecordProviderCall はプロバイダー呼び出しを記録する。
func (c *Collector) RecordProviderCall(provider, op string) {
	c.providerCalls.WithLabelValues(provider, op).Inc()
}

// RecordProviderFailure はプロバイダー呼び出しの失敗を記録する。
func (c *Collector) RecordProviderFailure(provider string, kind string) {
	c.providerFailures.WithLabelValues(provider, kind).Inc()
}

// RecordCircuitOpen はサーキットオープンを記録する。
func (c *Collector) RecordCircuitOpen(provider string) {
	c.circuitOpens.WithLabelValues(provider).Inc()
}

// RecordHeuristicFallback はヒューリスティックへのフォールバックを記録する。
func (c *Collector) RecordHeuristicFallback(op string) {
	c.heuristicFallback.WithLabelValues(op).Inc()
}

// RecordSourceFailure はソース取得の失敗を記録する。
func (c *Collector) RecordSourceFailure(source string) {
	c.sourceFailures.WithLabelValues(source).Inc()
}

// Handler はPrometheusスクレイプ用のHTTPハンドラーを返す。
func Handler(gatherer prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})
}
