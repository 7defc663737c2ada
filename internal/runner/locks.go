// Package runner はキャンペーン1回分の実行を担う。
// 実行ロック・キーワード展開・取得・フィルタリング・出力・レポート生成を統括する。
package runner

import "sync"

// LockRegistry はキャンペーンごとの実行ロックを管理する。
// 同一キャンペーンの実行は常に高々1つであることを保証する。
type LockRegistry struct {
	mu   sync.Mutex
	held map[string]struct{}
}

// NewLockRegistry はLockRegistryを生成する。
func NewLockRegistry() *LockRegistry {
	return &LockRegistry{held: make(map[string]struct{})}
}

// TryAcquire は指定キャンペーンのロック取得を試みる。
// 既に保持されている場合はブロックせずfalseを返す。
func (l *LockRegistry) TryAcquire(campaignID string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	if _, ok := l.held[campaignID]; ok {
		return false
	}
	l.held[campaignID] = struct{}{}
	return true
}

// Release は指定キャンペーンのロックを解放する。
// 保持されていないロックの解放は何もしない。
func (l *LockRegistry) Release(campaignID string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.held, campaignID)
}

// Held は指定キャンペーンのロックが保持されているかを返す。
func (l *LockRegistry) Held(campaignID string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	_, ok := l.held[campaignID]
	return ok
}
