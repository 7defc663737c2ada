package runner

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/hitoshi/newswatch/internal/filter"
	"github.com/hitoshi/newswatch/internal/model"
	"github.com/hitoshi/newswatch/internal/sink"
)

func newTestLogger(buf *bytes.Buffer) *slog.Logger {
	return slog.New(slog.NewJSONHandler(buf, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
}

// mockStore はCampaignStoreのモック実装。
type mockStore struct {
	updateStatusFunc   func(ctx context.Context, id string, status model.CampaignStatus) error
	updateRunStateFunc func(ctx context.Context, campaign *model.Campaign, report *model.RunReport) error

	statusUpdates []model.CampaignStatus
	savedReports  []*model.RunReport
}

func (m *mockStore) ListActive(ctx context.Context) ([]*model.Campaign, error) { return nil, nil }
func (m *mockStore) List(ctx context.Context) ([]*model.Campaign, error)       { return nil, nil }
func (m *mockStore) FindByID(ctx context.Context, id string) (*model.Campaign, error) {
	return nil, model.ErrCampaignNotFound
}
func (m *mockStore) Create(ctx context.Context, campaign *model.Campaign) error { return nil }

func (m *mockStore) UpdateStatus(ctx context.Context, id string, status model.CampaignStatus) error {
	m.statusUpdates = append(m.statusUpdates, status)
	if m.updateStatusFunc != nil {
		return m.updateStatusFunc(ctx, id, status)
	}
	return nil
}

func (m *mockStore) UpdateRunState(ctx context.Context, campaign *model.Campaign, report *model.RunReport) error {
	m.savedReports = append(m.savedReports, report)
	if m.updateRunStateFunc != nil {
		return m.updateRunStateFunc(ctx, campaign, report)
	}
	return nil
}

func (m *mockStore) ListReports(ctx context.Context, campaignID string, limit int) ([]*model.RunReport, error) {
	return nil, nil
}

// mockExpander はKeywordExpanderのモック実装。
type mockExpander struct {
	expandFunc func(ctx context.Context, seed []string) ([]string, string)
}

func (m *mockExpander) ExpandKeywords(ctx context.Context, seed []string) ([]string, string) {
	if m.expandFunc != nil {
		return m.expandFunc(ctx, seed)
	}
	return seed, "openai"
}

// mockFetcher はFetcherのモック実装。
type mockFetcher struct {
	fetchFunc   func(ctx context.Context, keywords []string, maxArticles int) model.FetchResult
	sourceCount int
}

func (m *mockFetcher) Fetch(ctx context.Context, keywords []string, maxArticles int) model.FetchResult {
	return m.fetchFunc(ctx, keywords, maxArticles)
}

func (m *mockFetcher) SourceCount() int { return m.sourceCount }

// mockFilter はFilterのモック実装。
type mockFilter struct {
	applyFunc func(ctx context.Context, articles []model.Article, keywords []string, threshold int) filter.Result
}

func (m *mockFilter) Apply(ctx context.Context, articles []model.Article, keywords []string, threshold int) filter.Result {
	if m.applyFunc != nil {
		return m.applyFunc(ctx, articles, keywords, threshold)
	}
	return filter.Result{Articles: articles, Provider: "openai"}
}

// mockSink はSinkのモック実装。
type mockSink struct {
	name      string
	writeFunc func(ctx context.Context, campaign *model.Campaign, articles []model.Article) error
	written   [][]model.Article
}

func (m *mockSink) Name() string { return m.name }

func (m *mockSink) Write(ctx context.Context, campaign *model.Campaign, articles []model.Article) error {
	if m.writeFunc != nil {
		return m.writeFunc(ctx, campaign, articles)
	}
	m.written = append(m.written, articles)
	return nil
}

// mockResolver はSinkResolverのモック実装。
type mockResolver struct {
	sinks map[model.SinkKind]sink.Sink
}

func (m *mockResolver) Resolve(ref model.SinkRef) (sink.Sink, error) {
	s, ok := m.sinks[ref.Kind]
	if !ok {
		return nil, errors.New("未登録のシンク種別")
	}
	return s, nil
}

func activeCampaign() *model.Campaign {
	return &model.Campaign{
		ID:                 "c-1",
		Name:               "AI監視",
		Keywords:           []string{"AI"},
		Frequency:          model.FrequencyHourly,
		MaxArticles:        10,
		RelevanceThreshold: 70,
		SinkRefs:           []model.SinkRef{{Kind: model.SinkKindPostgres, Target: ""}},
		Status:             model.CampaignStatusActive,
	}
}

func fetchResultWith(urls ...string) model.FetchResult {
	var articles []model.Article
	for _, u := range urls {
		articles = append(articles, model.Article{Title: "記事", URL: u, PublishedAt: time.Now()})
	}
	return model.FetchResult{Articles: articles}
}

func newTestRunner(store *mockStore, fetcher *mockFetcher, resolver *mockResolver) *Runner {
	var buf bytes.Buffer
	return New(
		store,
		&mockExpander{},
		fetcher,
		&mockFilter{},
		resolver,
		NewLockRegistry(),
		newTestLogger(&buf),
		nil,
	)
}

func TestRunner_Run_Success(t *testing.T) {
	store := &mockStore{}
	pgSink := &mockSink{name: "postgres"}
	fetcher := &mockFetcher{
		sourceCount: 1,
		fetchFunc: func(_ context.Context, _ []string, _ int) model.FetchResult {
			return fetchResultWith("https://example.com/a", "https://example.com/b")
		},
	}
	resolver := &mockResolver{sinks: map[model.SinkKind]sink.Sink{model.SinkKindPostgres: pgSink}}

	r := newTestRunner(store, fetcher, resolver)

	report, err := r.Run(context.Background(), activeCampaign())
	if err != nil {
		t.Fatalf("Run がエラーを返した: %v", err)
	}

	if report.Outcome != model.OutcomeSuccess {
		t.Errorf("Outcome = %s, want success", report.Outcome)
	}
	if report.ArticlesFetched != 2 || report.ArticlesAccepted != 2 {
		t.Errorf("fetched = %d, accepted = %d, want 2, 2", report.ArticlesFetched, report.ArticlesAccepted)
	}
	if len(pgSink.written) != 1 {
		t.Errorf("シンクへの書き込み回数 = %d, want 1", len(pgSink.written))
	}
	if len(store.savedReports) != 1 {
		t.Errorf("保存されたレポート数 = %d, want 1", len(store.savedReports))
	}
	// 実行開始時にrunning状態になる
	if len(store.statusUpdates) != 1 || store.statusUpdates[0] != model.CampaignStatusRunning {
		t.Errorf("状態更新 = %v, want [running]", store.statusUpdates)
	}
}

func TestRunner_Run_AllSourcesFailed_OutcomeFailed(t *testing.T) {
	store := &mockStore{}
	fetcher := &mockFetcher{
		sourceCount: 2,
		fetchFunc: func(_ context.Context, _ []string, _ int) model.FetchResult {
			return model.FetchResult{FailedSources: []string{"s1", "s2"}}
		},
	}
	resolver := &mockResolver{sinks: map[model.SinkKind]sink.Sink{}}

	r := newTestRunner(store, fetcher, resolver)

	campaign := activeCampaign()
	report, err := r.Run(context.Background(), campaign)
	if err != nil {
		t.Fatalf("Run がエラーを返した: %v", err)
	}

	if report.Outcome != model.OutcomeFailed {
		t.Errorf("Outcome = %s, want failed", report.Outcome)
	}
	if len(report.FailedSources) != 2 {
		t.Errorf("FailedSources = %v, want 2件", report.FailedSources)
	}
	// 失敗レポートも永続化される
	if len(store.savedReports) != 1 {
		t.Errorf("保存されたレポート数 = %d, want 1", len(store.savedReports))
	}
	if campaign.Status != model.CampaignStatusError {
		t.Errorf("キャンペーン状態 = %s, want error", campaign.Status)
	}
}

func TestRunner_Run_PartialSourceFailure_StillSucceeds(t *testing.T) {
	store := &mockStore{}
	pgSink := &mockSink{name: "postgres"}
	fetcher := &mockFetcher{
		sourceCount: 2,
		fetchFunc: func(_ context.Context, _ []string, _ int) model.FetchResult {
			result := fetchResultWith("https://example.com/a")
			result.FailedSources = []string{"s2"}
			return result
		},
	}
	resolver := &mockResolver{sinks: map[model.SinkKind]sink.Sink{model.SinkKindPostgres: pgSink}}

	r := newTestRunner(store, fetcher, resolver)

	report, err := r.Run(context.Background(), activeCampaign())
	if err != nil {
		t.Fatalf("Run がエラーを返した: %v", err)
	}

	// 一部ソースの失敗は実行の失敗ではない
	if report.Outcome != model.OutcomeSuccess {
		t.Errorf("Outcome = %s, want success", report.Outcome)
	}
	if len(report.FailedSources) != 1 || report.FailedSources[0] != "s2" {
		t.Errorf("FailedSources = %v, want [s2]", report.FailedSources)
	}
}

func TestRunner_Run_SinkFailure_OutcomePartial(t *testing.T) {
	store := &mockStore{}
	okSink := &mockSink{name: "postgres"}
	ngSink := &mockSink{
		name: "google_sheets",
		writeFunc: func(_ context.Context, _ *model.Campaign, _ []model.Article) error {
			return model.NewSinkError("google_sheets", model.SinkErrQuota, errors.New("rate limit"))
		},
	}
	fetcher := &mockFetcher{
		sourceCount: 1,
		fetchFunc: func(_ context.Context, _ []string, _ int) model.FetchResult {
			return fetchResultWith("https://example.com/a")
		},
	}
	resolver := &mockResolver{sinks: map[model.SinkKind]sink.Sink{
		model.SinkKindPostgres: okSink,
		model.SinkKindSheets:   ngSink,
	}}

	r := newTestRunner(store, fetcher, resolver)

	campaign := activeCampaign()
	campaign.SinkRefs = []model.SinkRef{
		{Kind: model.SinkKindPostgres},
		{Kind: model.SinkKindSheets, Target: "sheet-1"},
	}

	report, err := r.Run(context.Background(), campaign)
	if err != nil {
		t.Fatalf("Run がエラーを返した: %v", err)
	}

	if report.Outcome != model.OutcomePartial {
		t.Errorf("Outcome = %s, want partial", report.Outcome)
	}
	if len(report.FailedSinks) != 1 || report.FailedSinks[0] != "google_sheets" {
		t.Errorf("FailedSinks = %v, want [google_sheets]", report.FailedSinks)
	}
	// 1つのシンクの失敗が他のシンクを妨げない
	if len(okSink.written) != 1 {
		t.Errorf("正常シンクへの書き込み回数 = %d, want 1", len(okSink.written))
	}
}

func TestRunner_Run_LockContention_Skips(t *testing.T) {
	store := &mockStore{}
	fetcher := &mockFetcher{
		sourceCount: 1,
		fetchFunc: func(_ context.Context, _ []string, _ int) model.FetchResult {
			t.Error("ロック競合時はフェッチを実行してはならない")
			return model.FetchResult{}
		},
	}
	resolver := &mockResolver{sinks: map[model.SinkKind]sink.Sink{}}

	locks := NewLockRegistry()
	var buf bytes.Buffer
	r := New(store, &mockExpander{}, fetcher, &mockFilter{}, resolver, locks, newTestLogger(&buf), nil)

	campaign := activeCampaign()
	locks.TryAcquire(campaign.ID)

	report, err := r.Run(context.Background(), campaign)
	if !model.IsLockContended(err) {
		t.Fatalf("ロック競合エラーが返されるべき: %v", err)
	}

	if report.Outcome != model.OutcomeSkipped {
		t.Errorf("Outcome = %s, want skipped", report.Outcome)
	}
	// スキップレポートは永続化されない
	if len(store.savedReports) != 0 {
		t.Errorf("保存されたレポート数 = %d, want 0", len(store.savedReports))
	}
	// 先行実行のロックは解放されない
	if !locks.Held(campaign.ID) {
		t.Error("スキップによって先行実行のロックが解放されてはならない")
	}
}

func TestRunner_Run_ReleasesLockAfterCompletion(t *testing.T) {
	store := &mockStore{}
	fetcher := &mockFetcher{
		sourceCount: 1,
		fetchFunc: func(_ context.Context, _ []string, _ int) model.FetchResult {
			return fetchResultWith("https://example.com/a")
		},
	}
	resolver := &mockResolver{sinks: map[model.SinkKind]sink.Sink{
		model.SinkKindPostgres: &mockSink{name: "postgres"},
	}}

	locks := NewLockRegistry()
	var buf bytes.Buffer
	r := New(store, &mockExpander{}, fetcher, &mockFilter{}, resolver, locks, newTestLogger(&buf), nil)

	campaign := activeCampaign()
	if _, err := r.Run(context.Background(), campaign); err != nil {
		t.Fatalf("Run がエラーを返した: %v", err)
	}

	if locks.Held(campaign.ID) {
		t.Error("実行完了後はロックが解放されるべき")
	}
}

func TestRunner_Run_ReleasesLockOnFailure(t *testing.T) {
	store := &mockStore{
		updateRunStateFunc: func(_ context.Context, _ *model.Campaign, _ *model.RunReport) error {
			return errors.New("DB接続エラー")
		},
	}
	fetcher := &mockFetcher{
		sourceCount: 1,
		fetchFunc: func(_ context.Context, _ []string, _ int) model.FetchResult {
			return model.FetchResult{FailedSources: []string{"s1"}}
		},
	}
	resolver := &mockResolver{sinks: map[model.SinkKind]sink.Sink{}}

	locks := NewLockRegistry()
	var buf bytes.Buffer
	r := New(store, &mockExpander{}, fetcher, &mockFilter{}, resolver, locks, newTestLogger(&buf), nil)

	campaign := activeCampaign()
	_, err := r.Run(context.Background(), campaign)
	if err == nil {
		t.Error("永続化の失敗はエラーとして返すべき")
	}

	if locks.Held(campaign.ID) {
		t.Error("失敗経路でもロックが解放されるべき")
	}
}

func TestRunner_Run_UsesExpandedKeywords(t *testing.T) {
	var gotKeywords []string
	store := &mockStore{}
	fetcher := &mockFetcher{
		sourceCount: 1,
		fetchFunc: func(_ context.Context, keywords []string, _ int) model.FetchResult {
			gotKeywords = keywords
			return fetchResultWith("https://example.com/a")
		},
	}
	resolver := &mockResolver{sinks: map[model.SinkKind]sink.Sink{
		model.SinkKindPostgres: &mockSink{name: "postgres"},
	}}

	var buf bytes.Buffer
	expander := &mockExpander{
		expandFunc: func(_ context.Context, seed []string) ([]string, string) {
			return append(seed, "人工知能"), "ollama"
		},
	}
	r := New(store, expander, fetcher, &mockFilter{}, resolver, NewLockRegistry(), newTestLogger(&buf), nil)

	report, err := r.Run(context.Background(), activeCampaign())
	if err != nil {
		t.Fatalf("Run がエラーを返した: %v", err)
	}

	if len(gotKeywords) != 2 {
		t.Errorf("フェッチに使われたキーワード = %v, want 展開済みの2件", gotKeywords)
	}
	if report.AIProvider == "" {
		t.Error("レポートに使用プロバイダーが記録されるべき")
	}
}

func TestRunner_Run_DeadlineExceeded_OutcomeFailedAndReleasesLock(t *testing.T) {
	store := &mockStore{}
	fetcher := &mockFetcher{
		sourceCount: 1,
		fetchFunc: func(_ context.Context, _ []string, _ int) model.FetchResult {
			return fetchResultWith("https://example.com/a")
		},
	}
	// フィルタリング中に実行期限を迎えるケース
	slowFilter := &mockFilter{
		applyFunc: func(ctx context.Context, articles []model.Article, _ []string, _ int) filter.Result {
			<-ctx.Done()
			return filter.Result{Articles: articles, Provider: "heuristic"}
		},
	}
	resolver := &mockResolver{sinks: map[model.SinkKind]sink.Sink{
		model.SinkKindPostgres: &mockSink{
			name: "postgres",
			writeFunc: func(_ context.Context, _ *model.Campaign, _ []model.Article) error {
				t.Error("期限超過後はシンクに書き込んではならない")
				return nil
			},
		},
	}}

	locks := NewLockRegistry()
	var buf bytes.Buffer
	r := New(store, &mockExpander{}, fetcher, slowFilter, resolver, locks, newTestLogger(&buf), nil)
	r.SetRunDeadline(20 * time.Millisecond)

	campaign := activeCampaign()
	report, err := r.Run(context.Background(), campaign)
	if err != nil {
		t.Fatalf("Run がエラーを返した: %v", err)
	}

	if report.Outcome != model.OutcomeFailed {
		t.Errorf("Outcome = %s, want failed", report.Outcome)
	}
	if campaign.Status != model.CampaignStatusError {
		t.Errorf("キャンペーン状態 = %s, want error", campaign.Status)
	}
	// 期限超過のレポートも永続化される
	if len(store.savedReports) != 1 {
		t.Errorf("保存されたレポート数 = %d, want 1", len(store.savedReports))
	}
	// 期限超過後もロックは解放され、次の実行が取得できる
	if !locks.TryAcquire(campaign.ID) {
		t.Error("期限超過後はロックが解放され再取得できるべき")
	}
}

func TestRunner_DefaultDeadlineIsFrequencyInterval(t *testing.T) {
	store := &mockStore{}
	r := newTestRunner(store, &mockFetcher{sourceCount: 1}, &mockResolver{})

	campaign := activeCampaign() // hourly
	if got := r.runDeadline(campaign); got != time.Hour {
		t.Errorf("runDeadline = %v, want 1h (実行間隔)", got)
	}

	r.SetRunDeadline(5 * time.Minute)
	if got := r.runDeadline(campaign); got != 5*time.Minute {
		t.Errorf("runDeadline = %v, want 5m (上書き値)", got)
	}
}

func TestLockRegistry(t *testing.T) {
	locks := NewLockRegistry()

	if !locks.TryAcquire("c-1") {
		t.Fatal("未保持のロックは取得できるべき")
	}
	if locks.TryAcquire("c-1") {
		t.Error("保持中のロックの再取得は失敗すべき")
	}
	if !locks.TryAcquire("c-2") {
		t.Error("別キャンペーンのロックは独立して取得できるべき")
	}

	locks.Release("c-1")
	if !locks.TryAcquire("c-1") {
		t.Error("解放後のロックは再取得できるべき")
	}
}

func TestLockRegistry_ConcurrentContention(t *testing.T) {
	locks := NewLockRegistry()

	const goroutines = 16
	const attempts = 200

	var holders int32
	var acquired int32
	var wg sync.WaitGroup

	for g := 0; g < goroutines; g++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < attempts; i++ {
				if !locks.TryAcquire("c-1") {
					continue
				}
				if n := atomic.AddInt32(&holders, 1); n != 1 {
					t.Errorf("同時保持数 = %d, want 常に1", n)
				}
				atomic.AddInt32(&acquired, 1)
				atomic.AddInt32(&holders, -1)
				locks.Release("c-1")
			}
		}()
	}
	wg.Wait()

	if atomic.LoadInt32(&acquired) == 0 {
		t.Error("1回もロックを取得できていない")
	}
	if !locks.TryAcquire("c-1") {
		t.Error("全goroutine終了後はロックが解放されているべき")
	}
}
