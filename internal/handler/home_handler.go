package handler

import (
	"log/slog"
	"net/http"

	"github.com/hitoshi/approvalportal/internal/auth"
	"github.com/hitoshi/approvalportal/internal/middleware"
	"github.com/hitoshi/approvalportal/internal/model"
	"github.com/hitoshi/approvalportal/internal/role"
)

// Home はアクセストークンのロールに応じた画面へ振り分ける。
// 未ログインの場合はログインを開始し、どのロールも持たない場合は403を返す。
// GET /
func Home(w http.ResponseWriter, r *http.Request) {
	session := auth.SessionFromContext(r.Context())
	if session == nil || session.AccessToken == "" {
		http.Redirect(w, r, "/auth/login", http.StatusSeeOther)
		return
	}

	claims, err := role.ParseClaims(session.AccessToken)
	if err != nil {
		// 解析できないトークンはセッションなしとして扱う
		slog.Warn("malformed access token in session",
			slog.String("request_id", middleware.RequestIDFromContext(r.Context())),
			slog.String("error", err.Error()),
		)
		http.Redirect(w, r, "/auth/login", http.StatusSeeOther)
		return
	}

	target, ok := role.RouteFor(claims)
	if !ok {
		middleware.WriteErrorResponse(w, http.StatusForbidden, model.NewNoRoleError())
		return
	}
	http.Redirect(w, r, target.ViewPath(), http.StatusSeeOther)
}

// requireRole はセッションのアクセストークンが指定ロールを持つ場合のみ通すミドルウェア。
// ロールはURLパラメータroleから取得する。
func requireRole(param func(r *http.Request) string) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			want, ok := role.Parse(param(r))
			if !ok {
				http.NotFound(w, r)
				return
			}
			session := auth.SessionFromContext(r.Context())
			if session == nil {
				middleware.WriteErrorResponse(w, http.StatusUnauthorized, model.NewUnauthorizedError())
				return
			}
			claims, err := role.ParseClaims(session.AccessToken)
			if err != nil {
				middleware.WriteErrorResponse(w, http.StatusUnauthorized, model.NewUnauthorizedError())
				return
			}
			if !claims.HasRole(want) {
				middleware.WriteErrorResponse(w, http.StatusForbidden, model.NewForbiddenError())
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
