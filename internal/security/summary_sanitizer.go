// Package security はアプリケーションのセキュリティ機能を提供する。
//
// SummarySanitizerService はフィード記事の要約からHTMLマークアップを除去する。
// 要約はAIプロバイダーへのプロンプトとシンクの行データに使用されるため、
// タグ・スクリプト・イベント属性を含まないプレーンテキストに正規化する。
// bluemondayのStrictPolicy（全タグ除去）を使用する。
package security

import (
	"html"
	"strings"

	"github.com/microcosm-cc/bluemonday"
)

// SummarySanitizerService は要約テキストのサニタイズ機能のインターフェースを定義する。
type SummarySanitizerService interface {
	// Sanitize はHTMLを含みうるテキストからマークアップを除去し、
	// 空白を正規化したプレーンテキストを返す。
	// 空文字列の入力には空文字列を返す。
	// 同一入力に対して常に同一出力を返す（冪等）。
	Sanitize(raw string) string
}

// summarySanitizer はSummarySanitizerServiceの実装。
// bluemondayのポリシーを保持し、スレッドセーフにサニタイズ処理を行う。
type summarySanitizer struct {
	policy *bluemonday.Policy
}

// NewSummarySanitizer はSummarySanitizerServiceの新しいインスタンスを生成する。
// StrictPolicyは全てのHTML要素と属性を除去し、テキストのみを残す。
func NewSummarySanitizer() *summarySanitizer {
	return &summarySanitizer{
		policy: bluemonday.StrictPolicy(),
	}
}

// Sanitize はHTMLマークアップを除去したプレーンテキストを返す。
// bluemondayはエンティティをエスケープして返すため、除去後にアンエスケープし、
// 連続する空白を1つに正規化する。
func (s *summarySanitizer) Sanitize(raw string) string {
	if raw == "" {
		return ""
	}
	stripped := s.policy.Sanitize(raw)
	unescaped := html.UnescapeString(stripped)
	return strings.Join(strings.Fields(unescaped), " ")
}
