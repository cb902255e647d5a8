// Package backend はワークフローバックエンドへのHTTPクライアントを提供する。
package backend

import "net/http"

// TokenGetter は現在のアクセストークンを返す関数。
// auth.TokenStore.Getterが返す関数を渡す。
type TokenGetter func() (string, bool)

// BuildHeaders はバックエンド呼び出し用のヘッダーを生成する。
// tokenが空の場合はfallbackから取得する。
// Content-Typeは常に設定し、Authorizationはトークンがある場合のみ設定する。
func BuildHeaders(token string, fallback TokenGetter) http.Header {
	h := http.Header{}
	h.Set("Content-Type", "application/json")

	if token == "" && fallback != nil {
		token, _ = fallback()
	}
	if token != "" {
		h.Set("Authorization", "Bearer "+token)
	}
	return h
}
