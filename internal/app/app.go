package app

import (
	"context"
	"database/sql"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/hitoshi/newswatch/internal/config"
	"github.com/hitoshi/newswatch/internal/database"
	"github.com/hitoshi/newswatch/internal/filter"
	"github.com/hitoshi/newswatch/internal/handler"
	"github.com/hitoshi/newswatch/internal/logger"
	"github.com/hitoshi/newswatch/internal/metrics"
	"github.com/hitoshi/newswatch/internal/model"
	"github.com/hitoshi/newswatch/internal/provider"
	"github.com/hitoshi/newswatch/internal/repository"
	"github.com/hitoshi/newswatch/internal/runner"
	"github.com/hitoshi/newswatch/internal/scheduler"
	"github.com/hitoshi/newswatch/internal/security"
	"github.com/hitoshi/newswatch/internal/sink"
	"github.com/hitoshi/newswatch/internal/source"
	"github.com/hitoshi/newswatch/internal/worker/cleanup"
)

// Init はアプリケーションの初期化を行う。
// 環境変数からConfigを読み込み、JSON構造化ログをセットアップする。
// writerが指定された場合はログ出力先としてそのwriterを使用する。
func Init(w io.Writer) (*config.Config, error) {
	// 1. ログの初期化（設定読み込み前にログを使えるようにする）
	logger.SetupDefault(w)

	// 2. 環境変数から設定を読み込む
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	return cfg, nil
}

// Run はアプリケーションのメインエントリーポイント。
// コマンドライン引数からサブコマンドを解析し、対応するモードで起動する。
// argsにはos.Args[1:]を渡す。
func Run(w io.Writer, args []string) error {
	cmd := ParseCommand(args)

	// healthcheck は軽量サブコマンドのため、フル初期化をスキップする
	if cmd == CommandHealthcheck {
		port := os.Getenv("SERVER_PORT")
		if port == "" {
			port = "8080"
		}
		return runHealthcheck(port)
	}

	cfg, err := Init(w)
	if err != nil {
		return fmt.Errorf("initialization failed: %w", err)
	}

	slog.Info("starting application",
		slog.String("command", string(cmd)),
		slog.String("store_backend", string(cfg.StoreBackend)),
		slog.String("port", cfg.ServerPort),
	)

	switch cmd {
	case CommandWorker:
		return runWorker(cfg)
	case CommandMigrate:
		return runMigrate(cfg)
	case CommandSeed:
		return runSeed(cfg)
	default:
		return runServe(cfg)
	}
}

// openStore は設定されたバックエンドのキャンペーンストアを開く。
// PostgreSQLバックエンドの場合はDB接続も返す（YAMLの場合はnil）。
func openStore(cfg *config.Config) (repository.CampaignStore, *sql.DB, error) {
	switch cfg.StoreBackend {
	case config.StoreBackendYAML:
		store, err := repository.NewYAMLCampaignStore(cfg.CampaignsFile)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to load campaigns file: %w", err)
		}
		return store, nil, nil
	default:
		db, err := database.Open(cfg.DatabaseURL)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to open database: %w", err)
		}
		if err := db.Ping(); err != nil {
			db.Close()
			return nil, nil, fmt.Errorf("failed to connect to database: %w", err)
		}
		slog.Info("database connection established")
		return repository.NewPostgresCampaignRepo(db), db, nil
	}
}

// buildSources はキャンペーン横断で使う記事ソースを優先度順に構築する。
// Googleニュースを最優先とし、設定されたRSSフィードとスクレイプ対象が続く。
func buildSources(cfg *config.Config, guard security.SSRFGuardService, sanitizer source.Sanitizer) []source.Source {
	sources := []source.Source{
		source.NewGoogleNewsSource(source.GoogleNewsConfig{
			Lang:            cfg.GoogleNewsLang,
			Country:         cfg.GoogleNewsCountry,
			Timeout:         cfg.SourceTimeout,
			MaxBodySize:     cfg.SourceMaxBodySize,
			FreshnessWindow: cfg.FreshnessWindow,
		}, guard, sanitizer),
	}

	for i, feedURL := range cfg.RSSFeeds {
		sources = append(sources, source.NewFeedSource(source.FeedConfig{
			Name:            fmt.Sprintf("rss_%d", i+1),
			FeedURL:         feedURL,
			Timeout:         cfg.SourceTimeout,
			MaxBodySize:     cfg.SourceMaxBodySize,
			FreshnessWindow: cfg.FreshnessWindow,
		}, guard, sanitizer))
	}

	for i, pageURL := range cfg.ScrapePages {
		sources = append(sources, source.NewScrapeSource(source.ScrapeConfig{
			Name:        fmt.Sprintf("scrape_%d", i+1),
			PageURL:     pageURL,
			Timeout:     cfg.SourceTimeout,
			MaxBodySize: cfg.SourceMaxBodySize,
		}, guard, sanitizer))
	}

	return sources
}

// buildProviderChain は設定されたプロバイダーの優先順でフォールバックチェーンを構築する。
// 利用できるプロバイダーが1つもなくても、チェーンはヒューリスティックで動作する。
func buildProviderChain(cfg *config.Config, collector *metrics.Collector) *provider.Chain {
	var clients []*provider.Client

	for _, name := range cfg.Providers {
		var p provider.AIProvider

		switch name {
		case "openai", "openrouter":
			if cfg.OpenAIAPIKey == "" {
				slog.Warn("プロバイダーをスキップします（APIキー未設定）",
					slog.String("provider", name),
				)
				continue
			}
			openaiProvider, err := provider.NewOpenAIProvider(provider.OpenAIConfig{
				Name:    name,
				APIKey:  cfg.OpenAIAPIKey,
				Model:   cfg.OpenAIModel,
				BaseURL: cfg.OpenAIBaseURL,
			})
			if err != nil {
				slog.Warn("プロバイダーの初期化に失敗しました",
					slog.String("provider", name),
					slog.String("error", err.Error()),
				)
				continue
			}
			p = openaiProvider
		case "ollama":
			p = provider.NewOllamaProvider(cfg.OllamaURL, cfg.OllamaModel, &http.Client{
				Timeout: cfg.ProviderTimeout,
			})
		default:
			slog.Warn("未知のプロバイダー名をスキップします", slog.String("provider", name))
			continue
		}

		clients = append(clients, provider.NewClient(
			p, cfg.ProviderMinInterval, cfg.ProviderTimeout, cfg.CircuitThreshold, slog.Default(),
		))
	}

	return provider.NewChain(clients, slog.Default(), collector)
}

// buildSinkRegistry は出力先シンクのレジストリを構築する。
// dbがnilの場合、postgresシンクの解決はエラーを返す。
func buildSinkRegistry(ctx context.Context, cfg *config.Config, db *sql.DB) *sink.Registry {
	registry := sink.NewRegistry()

	registry.Register(model.SinkKindPostgres, func(ref model.SinkRef) (sink.Sink, error) {
		if db == nil {
			return nil, fmt.Errorf("postgresシンクにはDB接続が必要です")
		}
		return sink.NewPostgresSink(db), nil
	})

	registry.Register(model.SinkKindSheets, func(ref model.SinkRef) (sink.Sink, error) {
		if cfg.SheetsCredentialsFile == "" {
			return nil, fmt.Errorf("SHEETS_CREDENTIALS_FILEが未設定です")
		}
		service, err := sink.NewSheetsService(ctx, cfg.SheetsCredentialsFile)
		if err != nil {
			return nil, fmt.Errorf("Sheetsサービスの初期化に失敗しました: %w", err)
		}
		return sink.NewSheetsSink(service, ref.Target), nil
	})

	return registry
}

// buildScheduler はキャンペーン実行パイプライン全体をワイヤリングしたスケジューラを返す。
func buildScheduler(ctx context.Context, cfg *config.Config, store repository.CampaignStore, db *sql.DB, collector *metrics.Collector) *scheduler.Scheduler {
	guard := security.NewSSRFGuard()
	sanitizer := security.NewSummarySanitizer()

	fetcher := source.NewFetcher(
		buildSources(cfg, guard, sanitizer),
		cfg.SourceTimeout, slog.Default(), collector,
	)

	chain := buildProviderChain(cfg, collector)
	relevanceFilter := filter.NewRelevanceFilter(chain, cfg.FilterWorkers, slog.Default())
	registry := buildSinkRegistry(ctx, cfg, db)
	locks := runner.NewLockRegistry()

	campaignRunner := runner.New(
		store, chain, fetcher, relevanceFilter, registry,
		locks, slog.Default(), collector,
	)
	campaignRunner.SetRunDeadline(cfg.RunDeadline)

	return scheduler.New(
		store, campaignRunner, slog.Default(), collector,
		cfg.MaxConcurrentRuns, cfg.DrainTimeout,
	)
}

// startCleanupJob は実行レポートの保持期間クリーンアップを日次でバックグラウンド実行する。
// YAMLバックエンド（db=nil）ではレポートが永続化されないため何もしない。
func startCleanupJob(ctx context.Context, cfg *config.Config, db *sql.DB) {
	if db == nil {
		return
	}

	cleanupJob := cleanup.NewCleanupJob(db, slog.Default())
	cleanupJob.RetentionDays = cfg.ReportRetentionDays

	go func() {
		// 起動直後に1回実行
		if err := cleanupJob.Run(ctx); err != nil {
			slog.Error("cleanup job failed", slog.String("error", err.Error()))
		}

		ticker := time.NewTicker(24 * time.Hour)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if err := cleanupJob.Run(ctx); err != nil {
					slog.Error("cleanup job failed", slog.String("error", err.Error()))
				}
			}
		}
	}()
}

// runServe はスケジューラと監視APIサーバーを起動する。
// SIGINTまたはSIGTERMシグナルを受信すると、実行中のキャンペーンの
// 完了を待ってからグレースフルシャットダウンを行う。
func runServe(cfg *config.Config) error {
	store, db, err := openStore(cfg)
	if err != nil {
		return err
	}
	if db != nil {
		defer db.Close()
	}

	reg := prometheus.NewRegistry()
	collector := metrics.NewCollector(reg)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sched := buildScheduler(ctx, cfg, store, db, collector)
	startCleanupJob(ctx, cfg, db)

	router := handler.NewRouter(&handler.RouterDeps{
		Store:          store,
		Logger:         slog.Default(),
		MetricsHandler: metrics.Handler(reg),
	})

	server := &http.Server{
		Addr:         ":" + cfg.ServerPort,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// グレースフルシャットダウンのためのシグナルハンドリング
	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)

	// スケジューラをバックグラウンドで起動
	schedulerDone := make(chan struct{})
	go func() {
		defer close(schedulerDone)
		sched.Start(ctx, cfg.TickInterval)
	}()

	go func() {
		slog.Info("API server starting",
			slog.String("addr", server.Addr),
			slog.Duration("tick_interval", cfg.TickInterval),
			slog.Int("max_concurrent_runs", cfg.MaxConcurrentRuns),
		)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("server listen error", slog.String("error", err.Error()))
		}
	}()

	<-stop
	slog.Info("shutting down...")

	// スケジューラを停止し、実行中のキャンペーンのドレインを待つ
	cancel()
	<-schedulerDone

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server shutdown failed: %w", err)
	}

	slog.Info("stopped gracefully")
	return nil
}

// runWorker はAPIサーバーなしのワーカーモードで起動する。
// スケジューラとクリーンアップジョブのみを実行する。
// SIGINTまたはSIGTERMシグナルを受信するとシャットダウンする。
func runWorker(cfg *config.Config) error {
	store, db, err := openStore(cfg)
	if err != nil {
		return err
	}
	if db != nil {
		defer db.Close()
	}

	reg := prometheus.NewRegistry()
	collector := metrics.NewCollector(reg)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sched := buildScheduler(ctx, cfg, store, db, collector)
	startCleanupJob(ctx, cfg, db)

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		<-stop
		slog.Info("shutting down worker...")
		cancel()
	}()

	slog.Info("worker starting",
		slog.Duration("tick_interval", cfg.TickInterval),
		slog.Int("max_concurrent_runs", cfg.MaxConcurrentRuns),
	)

	// スケジューラをメインgoroutineで実行（ブロッキング）
	sched.Start(ctx, cfg.TickInterval)

	slog.Info("worker stopped gracefully")
	return nil
}

// runMigrate はデータベースマイグレーションを実行する。
// すべての未適用マイグレーションを順番に適用する。
func runMigrate(cfg *config.Config) error {
	if cfg.DatabaseURL == "" {
		return fmt.Errorf("migrate requires DATABASE_URL")
	}

	slog.Info("running database migrations",
		slog.String("database_url", maskDatabaseURL(cfg.DatabaseURL)),
	)

	if err := database.RunMigrations(cfg.DatabaseURL); err != nil {
		return fmt.Errorf("migration failed: %w", err)
	}

	slog.Info("database migrations completed successfully")
	return nil
}

// runSeed はYAMLファイルのキャンペーン定義をPostgreSQLに取り込む。
// CAMPAIGNS_FILEで指定されたYAMLを読み込み、各キャンペーンをDBに作成する。
// 既存IDと衝突したキャンペーンはエラーとして報告し、残りの取り込みは継続する。
func runSeed(cfg *config.Config) error {
	campaignsFile := cfg.CampaignsFile
	if campaignsFile == "" {
		campaignsFile = os.Getenv("CAMPAIGNS_FILE")
	}
	if campaignsFile == "" {
		return fmt.Errorf("seed requires CAMPAIGNS_FILE")
	}
	if cfg.DatabaseURL == "" {
		return fmt.Errorf("seed requires DATABASE_URL")
	}

	yamlStore, err := repository.NewYAMLCampaignStore(campaignsFile)
	if err != nil {
		return fmt.Errorf("failed to load campaigns file: %w", err)
	}

	db, err := database.Open(cfg.DatabaseURL)
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}
	defer db.Close()

	repo := repository.NewPostgresCampaignRepo(db)

	ctx := context.Background()
	campaigns, err := yamlStore.List(ctx)
	if err != nil {
		return fmt.Errorf("failed to list campaigns: %w", err)
	}

	var seeded, failed int
	for _, campaign := range campaigns {
		if err := repo.Create(ctx, campaign); err != nil {
			slog.Error("キャンペーンの取り込みに失敗しました",
				slog.String("campaign_id", campaign.ID),
				slog.String("name", campaign.Name),
				slog.String("error", err.Error()),
			)
			failed++
			continue
		}
		seeded++
	}

	slog.Info("キャンペーンの取り込みが完了しました",
		slog.Int("seeded", seeded),
		slog.Int("failed", failed),
	)

	if failed > 0 {
		return fmt.Errorf("%d campaigns failed to seed", failed)
	}
	return nil
}

// runHealthcheck はヘルスチェックを実行する。
// distroless環境でのDockerヘルスチェック用サブコマンド。
// /health エンドポイントにHTTPリクエストを送り、結果を返す。
func runHealthcheck(port string) error {
	url := fmt.Sprintf("http://localhost:%s/health", port)
	client := &http.Client{Timeout: 5 * time.Second}

	resp, err := client.Get(url)
	if err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("health check returned status %d", resp.StatusCode)
	}

	return nil
}

// maskDatabaseURL はデータベースURLの認証情報をマスクする。
func maskDatabaseURL(url string) string {
	if len(url) > 20 {
		return url[:12] + "***@..."
	}
	return "***"
}
