// Package model はドメインモデルを定義する。
package model

import (
	"errors"
	"fmt"
)

// ProviderErrorKind はAIプロバイダー呼び出し失敗の分類。
type ProviderErrorKind string

const (
	// ProviderErrTimeout はタイムアウトによる失敗。
	ProviderErrTimeout ProviderErrorKind = "timeout"
	// ProviderErrRateLimited はレート制限による失敗。
	ProviderErrRateLimited ProviderErrorKind = "rate_limited"
	// ProviderErrAuth は認証エラーによる失敗。
	ProviderErrAuth ProviderErrorKind = "auth"
	// ProviderErrMalformedResponse は応答の形式不正による失敗。
	ProviderErrMalformedResponse ProviderErrorKind = "malformed_response"
	// ProviderErrUnavailable はバックエンド利用不可による失敗。
	ProviderErrUnavailable ProviderErrorKind = "unavailable"
)

// ProviderError はAIプロバイダー呼び出しの失敗を表す。
// フォールバックチェーンの内側で吸収され、チェーンの外へは伝播しない。
type ProviderError struct {
	Provider string
	Kind     ProviderErrorKind
	Err      error
}

// Error はerrorインターフェースを実装する。
func (e *ProviderError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("provider %s: %s: %v", e.Provider, e.Kind, e.Err)
	}
	return fmt.Sprintf("provider %s: %s", e.Provider, e.Kind)
}

// Unwrap はラップされた原因エラーを返す。
func (e *ProviderError) Unwrap() error { return e.Err }

// NewProviderError はProviderErrorを生成する。
func NewProviderError(provider string, kind ProviderErrorKind, err error) *ProviderError {
	return &ProviderError{Provider: provider, Kind: kind, Err: err}
}

// SourceErrorKind はソースフェッチ失敗の分類。
type SourceErrorKind string

const (
	// SourceErrTimeout はタイムアウトによる失敗。
	SourceErrTimeout SourceErrorKind = "timeout"
	// SourceErrUnreachable はネットワーク到達不能による失敗。
	SourceErrUnreachable SourceErrorKind = "unreachable"
	// SourceErrMalformedFeed はフィードの形式不正による失敗。
	SourceErrMalformedFeed SourceErrorKind = "malformed_feed"
)

// SourceError は単一ソースのフェッチ失敗を表す。
// マルチソースフェッチャーの内側でfailed_sourcesに吸収され、実行を中断しない。
type SourceError struct {
	Source string
	Kind   SourceErrorKind
	Err    error
}

// Error はerrorインターフェースを実装する。
func (e *SourceError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("source %s: %s: %v", e.Source, e.Kind, e.Err)
	}
	return fmt.Sprintf("source %s: %s", e.Source, e.Kind)
}

// Unwrap はラップされた原因エラーを返す。
func (e *SourceError) Unwrap() error { return e.Err }

// NewSourceError はSourceErrorを生成する。
func NewSourceError(source string, kind SourceErrorKind, err error) *SourceError {
	return &SourceError{Source: source, Kind: kind, Err: err}
}

// SinkErrorKind はシンク書き込み失敗の分類。
type SinkErrorKind string

const (
	// SinkErrAuth は認証エラーによる失敗。
	SinkErrAuth SinkErrorKind = "auth"
	// SinkErrQuota はクォータ超過による失敗。
	SinkErrQuota SinkErrorKind = "quota"
	// SinkErrUnreachable は到達不能による失敗。
	SinkErrUnreachable SinkErrorKind = "unreachable"
)

// SinkError は単一シンクへの書き込み失敗を表す。
// シンクごとに記録され、他のシンクへの書き込みを中断しない。
type SinkError struct {
	Sink string
	Kind SinkErrorKind
	Err  error
}

// Error はerrorインターフェースを実装する。
func (e *SinkError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("sink %s: %s: %v", e.Sink, e.Kind, e.Err)
	}
	return fmt.Sprintf("sink %s: %s", e.Sink, e.Kind)
}

// Unwrap はラップされた原因エラーを返す。
func (e *SinkError) Unwrap() error { return e.Err }

// NewSinkError はSinkErrorを生成する。
func NewSinkError(sink string, kind SinkErrorKind, err error) *SinkError {
	return &SinkError{Sink: sink, Kind: kind, Err: err}
}

// RunnerErrorKind はキャンペーン実行失敗の分類。
type RunnerErrorKind string

const (
	// RunnerErrLockContended は実行ロックの競合。正常系のスキップとして扱う。
	RunnerErrLockContended RunnerErrorKind = "lock_contended"
	// RunnerErrDeadlineExceeded は実行デッドラインの超過。
	RunnerErrDeadlineExceeded RunnerErrorKind = "deadline_exceeded"
	// RunnerErrAllSourcesFailed は全ソースのフェッチ失敗。
	RunnerErrAllSourcesFailed RunnerErrorKind = "all_sources_failed"
)

// RunnerError はキャンペーン実行の失敗を表す。
type RunnerError struct {
	CampaignID string
	Kind       RunnerErrorKind
}

// Error はerrorインターフェースを実装する。
func (e *RunnerError) Error() string {
	return fmt.Sprintf("campaign %s: %s", e.CampaignID, e.Kind)
}

// IsLockContended はエラーがロック競合かどうかを判定する。
func IsLockContended(err error) bool {
	var re *RunnerError
	return errors.As(err, &re) && re.Kind == RunnerErrLockContended
}

// ErrCampaignNotFound はキャンペーンが見つからない場合のエラー。
// 実行中にキャンペーンが削除された場合はキャンセルとして扱う。
var ErrCampaignNotFound = errors.New("キャンペーンが見つかりません")

// APIError はAPIレスポンスで返すエラーの詳細情報。
// 原因カテゴリとユーザーへの対処方法を含む。
type APIError struct {
	Code     string
	Message  string
	Category string
	Action   string
}
