package provider

import (
	"sync"
	"time"
)

const (
	// initialCooldown はサーキットオープン時の初回クールダウン（30秒）。
	initialCooldown = 30 * time.Second
	// maxCooldown はクールダウンの上限（120秒）。
	maxCooldown = 120 * time.Second
)

// Health はプロバイダーごとのサーキットブレーカー状態を保持する。
// プロセス全体で共有される一時的な状態であり、アトミックな更新のみを行う
// 短いロックで保護する（長時間のロック保持はしない）。
type Health struct {
	mu                  sync.Mutex
	consecutiveFailures int
	openUntil           time.Time
	openCount           int
}

// RecordSuccess は成功を記録し、サーキットをクローズ状態にリセットする。
func (h *Health) RecordSuccess() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.consecutiveFailures = 0
	h.openCount = 0
	h.openUntil = time.Time{}
}

// RecordFailure は失敗を記録する。連続失敗数がthresholdに達した場合は
// サーキットをオープンし、クールダウン時間を返す。
// クールダウンはオープン回数に応じて指数的に増加する（30秒、60秒、120秒で上限）。
func (h *Health) RecordFailure(threshold int, now time.Time) (opened bool, cooldown time.Duration) {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.consecutiveFailures++
	if h.consecutiveFailures < threshold {
		return false, 0
	}

	cooldown = CooldownForOpenCount(h.openCount)
	h.openCount++
	h.openUntil = now.Add(cooldown)
	h.consecutiveFailures = 0
	return true, cooldown
}

// IsOpen は現在サーキットがオープン中（スキップ対象）かどうかを返す。
// open_untilが経過した場合はクローズ扱いとなり、次の呼び出しが試行される。
func (h *Health) IsOpen(now time.Time) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return !h.openUntil.IsZero() && now.Before(h.openUntil)
}

// ConsecutiveFailures は現在の連続失敗数を返す。テストおよびメトリクス用。
func (h *Health) ConsecutiveFailures() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.consecutiveFailures
}

// CooldownForOpenCount はオープン回数に対応するクールダウン時間を計算する。
// 初回30秒、2倍ずつ増加、最大120秒。
func CooldownForOpenCount(openCount int) time.Duration {
	cooldown := initialCooldown
	for i := 0; i < openCount; i++ {
		cooldown *= 2
		if cooldown > maxCooldown {
			return maxCooldown
		}
	}
	return cooldown
}
