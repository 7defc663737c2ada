package metrics

import (
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/hitoshi/newswatch/internal/model"
)

// TestNewCollector_ReturnsNonNil はCollectorが正常に生成されることを検証する。
func TestNewCollector_ReturnsNonNil(t *testing.T) {
	reg := prometheus.NewRegistry()
	c := NewCollector(reg)

	if c == nil {
		t.Fatal("expected non-nil Collector")
	}
}

// counterValue は指定メトリクスの合計値を取得する。
func counterValue(t *testing.T, reg *prometheus.Registry, name string) float64 {
	t.Helper()

	metrics, err := reg.Gather()
	if err != nil {
		t.Fatalf("failed to gather metrics: %v", err)
	}

	var total float64
	for _, mf := range metrics {
		if mf.GetName() != name {
			continue
		}
		for _, m := range mf.GetMetric() {
			total += m.GetCounter().GetValue()
		}
	}
	return total
}

// TestRecordRun_IncrementsOutcomeCounter は実行結果カウンタが増加することを検証する。
func TestRecordRun_IncrementsOutcomeCounter(t *testing.T) {
	reg := prometheus.NewRegistry()
	c := NewCollector(reg)

	c.RecordRun(model.OutcomeSuccess, 2*time.Second)
	c.RecordRun(model.OutcomeFailed, time.Second)
	c.RecordRun(model.OutcomeSuccess, time.Second)

	if got := counterValue(t, reg, "newswatch_runs_total"); got != 3 {
		t.Errorf("newswatch_runs_total = %v, want 3", got)
	}
}

// TestRecordArticles_AddsCounts は記事数カウンタが加算されることを検証する。
func TestRecordArticles_AddsCounts(t *testing.T) {
	reg := prometheus.NewRegistry()
	c := NewCollector(reg)

	c.RecordArticles(10, 4)
	c.RecordArticles(5, 2)

	if got := counterValue(t, reg, "newswatch_articles_fetched_total"); got != 15 {
		t.Errorf("newswatch_articles_fetched_total = %v, want 15", got)
	}
	if got := counterValue(t, reg, "newswatch_articles_accepted_total"); got != 6 {
		t.Errorf("newswatch_articles_accepted_total = %v, want 6", got)
	}
}

// TestRecordProviderMetrics はプロバイダー関連カウンタが増加することを検証する。
func TestRecordProviderMetrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	c := NewCollector(reg)

	c.RecordProviderCall("openai", "score")
	c.RecordProviderFailure("openai", "timeout")
	c.RecordCircuitOpen("openai")
	c.RecordHeuristicFallback("expand")
	c.RecordSourceFailure("google_news")
	c.RecordRunDeferred()

	checks := map[string]float64{
		"newswatch_provider_calls_total":         1,
		"newswatch_provider_failures_total":      1,
		"newswatch_provider_circuit_opens_total": 1,
		"newswatch_heuristic_fallback_total":     1,
		"newswatch_source_failures_total":        1,
		"newswatch_runs_deferred_total":          1,
	}
	for name, want := range checks {
		if got := counterValue(t, reg, name); got != want {
			t.Errorf("%s = %v, want %v", name, got, want)
		}
	}
}

// TestHandler_ExposesMetrics は/metricsハンドラーがメトリクスを公開することを検証する。
func TestHandler_ExposesMetrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	c := NewCollector(reg)
	c.RecordRun(model.OutcomeSuccess, time.Second)

	server := httptest.NewServer(Handler(reg))
	defer server.Close()

	resp, err := http.Get(server.URL)
	if err != nil {
		t.Fatalf("metrics endpoint request failed: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		t.Errorf("status = %d, want 200", resp.StatusCode)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("failed to read body: %v", err)
	}
	if !strings.Contains(string(body), "newswatch_runs_total") {
		t.Error("レスポンスに newswatch_runs_total が含まれるべき")
	}
}
