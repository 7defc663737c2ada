// Package provider はAIプロバイダーの抽象化とフォールバックチェーンを提供する。
// レート制限付きクライアント、サーキットブレーカー、ヒューリスティックフォールバックを含む。
package provider

import (
	"context"

	"github.com/hitoshi/newswatch/internal/model"
)

// AIProvider は単一のAIバックエンドを表すインターフェース。
// 失敗時は*model.ProviderErrorを返すこと。
type AIProvider interface {
	// Name はプロバイダーの識別名を返す。
	Name() string

	// Expand はシードキーワードから関連キーワードの候補を生成する。
	Expand(ctx context.Context, keywords []string) ([]string, error)

	// Score は記事のキーワードに対する関連度を0〜100で評価する。
	Score(ctx context.Context, article model.Article, keywords []string) (int, error)
}

// MetricsRecorder はプロバイダー関連のメトリクス記録のインターフェース。
// nilを許容する（記録しない）。
type MetricsRecorder interface {
	RecordProviderCall(provider, op string)
	RecordProviderFailure(provider string, kind string)
	RecordCircuitOpen(provider string)
	RecordHeuristicFallback(op string)
}
