// Package config はアプリケーション全体の設定を提供する。
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// StoreBackend はキャンペーンストアのバックエンド種別。
type StoreBackend string

const (
	// StoreBackendPostgres はPostgreSQLバックエンド。
	StoreBackendPostgres StoreBackend = "postgres"
	// StoreBackendYAML はYAMLファイルバックエンド（開発用）。
	StoreBackendYAML StoreBackend = "yaml"
)

// Config はアプリケーション全体の設定を保持する。
// 環境変数から起動時に1回読み込み、イミュータブルとして扱う。
type Config struct {
	// Store
	StoreBackend  StoreBackend
	DatabaseURL   string
	CampaignsFile string

	// Scheduler
	TickInterval      time.Duration
	MaxConcurrentRuns int
	DrainTimeout      time.Duration

	// RunDeadline は1回の実行全体の期限。
	// ゼロの場合はキャンペーンの実行間隔を期限とする。
	RunDeadline time.Duration

	// Provider
	Providers           []string
	ProviderTimeout     time.Duration
	ProviderMinInterval time.Duration
	CircuitThreshold    int

	// OpenAI互換プロバイダー（OpenRouterはBaseURLで切り替え）
	OpenAIAPIKey  string
	OpenAIModel   string
	OpenAIBaseURL string

	// Ollama
	OllamaURL   string
	OllamaModel string

	// Source
	SourceTimeout     time.Duration
	SourceMaxBodySize int64
	GoogleNewsLang    string
	GoogleNewsCountry string
	RSSFeeds          []string
	ScrapePages       []string

	// Filter
	FilterWorkers   int
	FreshnessWindow time.Duration

	// Sink
	SheetsCredentialsFile string

	// Reports
	ReportRetentionDays int

	// Server
	ServerPort string
}

// Load は環境変数からConfigを読み込む。
// 選択されたストアバックエンドに必要な環境変数が未設定の場合はエラーを返す。
func Load() (*Config, error) {
	cfg := &Config{}

	cfg.StoreBackend = StoreBackend(getEnvString("STORE_BACKEND", string(StoreBackendPostgres)))

	var missing []string
	switch cfg.StoreBackend {
	case StoreBackendPostgres:
		cfg.DatabaseURL = os.Getenv("DATABASE_URL")
		if cfg.DatabaseURL == "" {
			missing = append(missing, "DATABASE_URL")
		}
	case StoreBackendYAML:
		cfg.CampaignsFile = os.Getenv("CAMPAIGNS_FILE")
		if cfg.CampaignsFile == "" {
			missing = append(missing, "CAMPAIGNS_FILE")
		}
	default:
		return nil, fmt.Errorf("unknown STORE_BACKEND: %q", cfg.StoreBackend)
	}

	if len(missing) > 0 {
		return nil, fmt.Errorf("required environment variables are not set: %v", missing)
	}

	cfg.TickInterval = getEnvDuration("TICK_INTERVAL", 60*time.Second)
	cfg.MaxConcurrentRuns = getEnvInt("MAX_CONCURRENT_RUNS", 5)
	cfg.DrainTimeout = getEnvDuration("DRAIN_TIMEOUT", 30*time.Second)
	cfg.RunDeadline = getEnvDuration("RUN_DEADLINE", 0)

	cfg.Providers = getEnvList("PROVIDERS", []string{"openai", "ollama"})
	cfg.ProviderTimeout = getEnvDuration("PROVIDER_TIMEOUT", 10*time.Second)
	cfg.ProviderMinInterval = getEnvDuration("PROVIDER_MIN_INTERVAL", time.Second)
	cfg.CircuitThreshold = getEnvInt("CIRCUIT_THRESHOLD", 3)

	cfg.OpenAIAPIKey = os.Getenv("OPENAI_API_KEY")
	cfg.OpenAIModel = getEnvString("OPENAI_MODEL", "gpt-4o-mini")
	cfg.OpenAIBaseURL = os.Getenv("OPENAI_BASE_URL")

	cfg.OllamaURL = getEnvString("OLLAMA_URL", "http://localhost:11434")
	cfg.OllamaModel = getEnvString("OLLAMA_MODEL", "llama2")

	cfg.SourceTimeout = getEnvDuration("SOURCE_TIMEOUT", 15*time.Second)
	cfg.SourceMaxBodySize = getEnvInt64("SOURCE_MAX_BODY_SIZE", 5242880)
	cfg.GoogleNewsLang = getEnvString("GOOGLE_NEWS_LANG", "fr")
	cfg.GoogleNewsCountry = getEnvString("GOOGLE_NEWS_COUNTRY", "FR")
	cfg.RSSFeeds = getEnvList("RSS_FEEDS", nil)
	cfg.ScrapePages = getEnvList("SCRAPE_PAGES", nil)

	cfg.FilterWorkers = getEnvInt("FILTER_WORKERS", 4)
	cfg.FreshnessWindow = getEnvDuration("FRESHNESS_WINDOW", 48*time.Hour)

	cfg.SheetsCredentialsFile = os.Getenv("SHEETS_CREDENTIALS_FILE")

	cfg.ReportRetentionDays = getEnvInt("REPORT_RETENTION_DAYS", 90)

	cfg.ServerPort = getEnvString("SERVER_PORT", "8080")

	return cfg, nil
}

func getEnvString(key, defaultVal string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultVal
}

func getEnvInt(key string, defaultVal int) int {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	i, err := strconv.Atoi(v)
	if err != nil {
		return defaultVal
	}
	return i
}

func getEnvInt64(key string, defaultVal int64) int64 {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	i, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return defaultVal
	}
	return i
}

func getEnvDuration(key string, defaultVal time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return defaultVal
	}
	return d
}

// getEnvList はカンマ区切りの環境変数をスライスとして読み込む。
// 空要素は取り除く。
func getEnvList(key string, defaultVal []string) []string {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	parts := strings.Split(v, ",")
	var out []string
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, p)
		}
	}
	if len(out) == 0 {
		return defaultVal
	}
	return out
}
