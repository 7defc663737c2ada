package provider

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"golang.org/x/time/rate"

	"github.com/hitoshi/newswatch/internal/model"
)

// Client はAIProviderをレート制限・タイムアウト・ヘルス更新でラップする。
// 呼び出し間の最低インターバルをトークンバケットで保証し、
// インターバルが満たされるまで呼び出し元をブロックする（呼び出しは破棄しない）。
type Client struct {
	provider  AIProvider
	limiter   *rate.Limiter
	timeout   time.Duration
	threshold int
	health    *Health
	logger    *slog.Logger
	now       func() time.Time
}

// NewClient はClientの新しいインスタンスを生成する。
// minIntervalは呼び出し間の最低インターバル、timeoutは1呼び出しのタイムアウト、
// thresholdはサーキットオープンまでの連続失敗数。
func NewClient(provider AIProvider, minInterval, timeout time.Duration, threshold int, logger *slog.Logger) *Client {
	if threshold <= 0 {
		threshold = 3
	}
	return &Client{
		provider:  provider,
		limiter:   rate.NewLimiter(rate.Every(minInterval), 1),
		timeout:   timeout,
		threshold: threshold,
		health:    &Health{},
		logger:    logger,
		now:       time.Now,
	}
}

// Name はラップするプロバイダーの識別名を返す。
func (c *Client) Name() string {
	return c.provider.Name()
}

// Health はこのプロバイダーのサーキットブレーカー状態を返す。
func (c *Client) Health() *Health {
	return c.health
}

// Expand はレート制限を待ってからキーワード展開を呼び出す。
// 失敗時は*model.ProviderErrorを返し、ヘルス状態を更新する。
func (c *Client) Expand(ctx context.Context, keywords []string) ([]string, error) {
	if err := c.wait(ctx); err != nil {
		return nil, err
	}

	callCtx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	suggestions, err := c.provider.Expand(callCtx, keywords)
	if err != nil {
		return nil, c.recordFailure("expand", err)
	}

	c.health.RecordSuccess()
	return suggestions, nil
}

// Score はレート制限を待ってから関連度評価を呼び出す。
// 失敗時は*model.ProviderErrorを返し、ヘルス状態を更新する。
func (c *Client) Score(ctx context.Context, article model.Article, keywords []string) (int, error) {
	if err := c.wait(ctx); err != nil {
		return 0, err
	}

	callCtx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	score, err := c.provider.Score(callCtx, article, keywords)
	if err != nil {
		return 0, c.recordFailure("score", err)
	}

	c.health.RecordSuccess()
	if score < 0 {
		score = 0
	}
	if score > 100 {
		score = 100
	}
	return score, nil
}

// wait はレート制限のトークン取得を待つ。
// コンテキストがキャンセルされた場合はタイムアウトエラーを返す。
func (c *Client) wait(ctx context.Context) error {
	if err := c.limiter.Wait(ctx); err != nil {
		return model.NewProviderError(c.provider.Name(), model.ProviderErrTimeout, err)
	}
	return nil
}

// recordFailure は失敗をヘルス状態に記録し、*model.ProviderErrorに正規化して返す。
// 連続失敗がしきい値に達した場合はサーキットをオープンする。
func (c *Client) recordFailure(op string, err error) *model.ProviderError {
	perr := c.classify(err)

	opened, cooldown := c.health.RecordFailure(c.threshold, c.now())
	if opened {
		c.logger.Warn("連続失敗によりプロバイダーのサーキットをオープンしました",
			slog.String("provider", c.provider.Name()),
			slog.String("op", op),
			slog.Duration("cooldown", cooldown),
		)
	} else {
		c.logger.Warn("プロバイダー呼び出しに失敗しました",
			slog.String("provider", c.provider.Name()),
			slog.String("op", op),
			slog.String("kind", string(perr.Kind)),
			slog.String("error", perr.Error()),
		)
	}

	return perr
}

// classify はエラーを*model.ProviderErrorに分類する。
// プロバイダーが既に分類済みの場合はそのまま使用する。
func (c *Client) classify(err error) *model.ProviderError {
	var perr *model.ProviderError
	if errors.As(err, &perr) {
		return perr
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return model.NewProviderError(c.provider.Name(), model.ProviderErrTimeout, err)
	}
	return model.NewProviderError(c.provider.Name(), model.ProviderErrUnavailable, err)
}
