// Package security はアプリケーションのセキュリティ機能を提供する。
//
// TitleSanitizer はフォームテンプレートのタイトルからマークアップを除去し、
// プレーンテキストとしてバックエンドへ送る。
// TokenCipher はセッションストレージに保存するトークンを暗号化する。
package security

import (
	"html"
	"strings"

	"github.com/microcosm-cc/bluemonday"
)

// TitleSanitizer はプレーンテキスト化の機能のインターフェースを定義する。
type TitleSanitizer interface {
	// Sanitize は全てのHTMLタグを除去し、前後の空白を取り除いたテキストを返す。
	// エンティティはデコードした状態で返す。
	Sanitize(raw string) string
}

// titleSanitizer はTitleSanitizerの実装。
// bluemondayのStrictPolicyは全てのタグを除去する。
type titleSanitizer struct {
	policy *bluemonday.Policy
}

// NewTitleSanitizer はTitleSanitizerの新しいインスタンスを生成する。
func NewTitleSanitizer() *titleSanitizer {
	return &titleSanitizer{policy: bluemonday.StrictPolicy()}
}

// Sanitize はタイトルをプレーンテキストに変換する。
func (s *titleSanitizer) Sanitize(raw string) string {
	cleaned := s.policy.Sanitize(raw)
	return strings.TrimSpace(html.UnescapeString(cleaned))
}
