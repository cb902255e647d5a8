// Package middleware はHTTPミドルウェアを提供する。
package middleware

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/hitoshi/approvalportal/internal/auth"
	"github.com/hitoshi/approvalportal/internal/model"
)

// SessionLoader はセッションIDから有効なセッションを取得するインターフェース。
// auth.Service.CurrentSessionが実装する。期限切れトークンのリフレッシュも行う。
type SessionLoader interface {
	CurrentSession(ctx context.Context, sessionID string) (*model.Session, error)
}

// NewSessionMiddleware はHTTP Only Cookieからセッションを読み込み、
// リクエストコンテキストに注入するミドルウェアを返す。
// セッションがなくてもリクエストは拒否しない。拒否はRequireSessionで行う。
func NewSessionMiddleware(loader SessionLoader) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			cookie, err := r.Cookie(auth.SessionCookieName)
			if err != nil || cookie.Value == "" {
				next.ServeHTTP(w, r)
				return
			}

			session, err := loader.CurrentSession(r.Context(), cookie.Value)
			if err != nil {
				slog.Error("failed to load session",
					slog.String("request_id", RequestIDFromContext(r.Context())),
					slog.String("error", err.Error()),
				)
				next.ServeHTTP(w, r)
				return
			}
			if session == nil {
				next.ServeHTTP(w, r)
				return
			}

			recordSubject(r.Context(), session.Subject)
			ctx := auth.ContextWithSession(r.Context(), session)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// RequireSession は有効なセッションがないリクエストに401を返すミドルウェア。
// NewSessionMiddlewareの後に配置する。
func RequireSession(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		session := auth.SessionFromContext(r.Context())
		if session == nil || session.AccessToken == "" {
			WriteErrorResponse(w, http.StatusUnauthorized, model.NewUnauthorizedError())
			return
		}
		next.ServeHTTP(w, r)
	})
}

// SubjectFromContext はリクエストのセッションのsubjectを返す。未ログインの場合は空文字列。
func SubjectFromContext(ctx context.Context) string {
	if session := auth.SessionFromContext(ctx); session != nil {
		return session.Subject
	}
	return ""
}
