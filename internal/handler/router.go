package handler

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/hitoshi/approvalportal/internal/middleware"
	"github.com/hitoshi/approvalportal/internal/role"
)

// RouterDeps はNewRouterに必要な依存関係をまとめた構造体。
type RouterDeps struct {
	// ミドルウェア依存
	Logger            *slog.Logger
	SessionLoader     middleware.SessionLoader
	CORSAllowedOrigin string
	RateLimiter       *middleware.RateLimiter
	CSRF              middleware.CSRFConfig

	// ヘルスチェックとメトリクス
	HealthChecker  HealthChecker
	MetricsHandler http.Handler

	// 認証とサインアウト
	AuthService AuthServiceInterface
	AuthConfig  AuthHandlerConfig
	SignOut     SignOutCoordinator

	// バックエンドプロキシ
	Backend    ProxyBackend
	Tokens     TokenSource
	TemplateID string

	// ロール画面
	TaskViews    map[role.Role]TaskViewService
	Applications ApplicationService
	Templates    TemplateServiceInterface
}

// NewRouter は全エンドポイントのルーティングとミドルウェアチェーンを構成したchi.Routerを返す。
//
// ミドルウェアスタックの実行順序:
//
//	RequestID → Logging → Recovery → SecurityHeaders → CORS → Session → CSRF → RateLimit(General)
//
// 状態変更メソッドには更新系のレート制限を追加で適用する。
// /healthと/metricsはミドルウェアチェーンの外に配置する。
func NewRouter(deps *RouterDeps) http.Handler {
	r := chi.NewRouter()
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}

	r.Get("/health", NewHealthHandler(deps.HealthChecker))
	if deps.MetricsHandler != nil {
		r.Method(http.MethodGet, "/metrics", deps.MetricsHandler)
	}

	authHandler := NewAuthHandler(deps.AuthService, deps.SignOut, deps.AuthConfig)
	proxyHandler := NewProxyHandler(deps.Backend, deps.Tokens, deps.SignOut, deps.TemplateID)
	viewHandler := NewViewHandler(deps.TaskViews, deps.Applications, deps.Templates, deps.SignOut)
	mutation := deps.RateLimiter.MutationMiddleware()

	r.Group(func(r chi.Router) {
		r.Use(middleware.NewRequestIDMiddleware())
		r.Use(middleware.NewLoggingMiddleware(logger))
		r.Use(middleware.NewRecoveryMiddleware())
		r.Use(middleware.NewSecurityHeadersMiddleware())
		r.Use(middleware.NewCORSMiddleware(deps.CORSAllowedOrigin))
		r.Use(middleware.NewSessionMiddleware(deps.SessionLoader))
		r.Use(middleware.NewCSRFMiddleware(deps.CSRF))
		r.Use(deps.RateLimiter.GeneralMiddleware())

		// --- 認証不要のルート ---
		r.Get("/", Home)
		r.Route("/auth", func(r chi.Router) {
			r.Get("/login", authHandler.Login)
			r.Get("/callback", authHandler.Callback)
			r.Get("/session", authHandler.Session)
			r.With(mutation).Post("/logout", authHandler.Logout)
			r.Method(http.MethodGet, "/csrf-token", middleware.NewCSRFTokenHandler(deps.CSRF))
		})
		r.With(mutation).Post("/api/login", authHandler.PasswordLogin)

		// --- 認証が必要なルート ---
		r.Group(func(r chi.Router) {
			r.Use(middleware.RequireSession)

			// バックエンドプロキシ
			r.With(mutation).Post("/api/apply", proxyHandler.Apply)
			r.Route("/api/form-templates", func(r chi.Router) {
				r.Get("/", proxyHandler.ListTemplates)
				r.With(mutation).Post("/", proxyHandler.CreateTemplate)
				r.Get("/{id}", proxyHandler.GetTemplate)
				r.With(mutation).Put("/{id}", proxyHandler.UpdateTemplate)
				r.With(mutation).Delete("/{id}", proxyHandler.DeleteTemplate)
			})
			r.Route("/api/workflow-instances", func(r chi.Router) {
				r.Get("/tasks", proxyHandler.UnassignedTasks)
				r.Get("/assignedtasks", proxyHandler.AssignedTasks)
				r.With(mutation).Post("/approve/{id}", proxyHandler.ApproveTask)
				r.With(mutation).Post("/assign/{id}", proxyHandler.AssignTask)
			})
			r.Get("/api/user/tasks", proxyHandler.UserTasks)

			// ロール画面
			r.Route("/views/{role}", func(r chi.Router) {
				r.Use(requireRole(func(r *http.Request) string { return chi.URLParam(r, "role") }))

				r.Get("/", viewHandler.View)
				r.Get("/tasks", viewHandler.ListTasks)
				r.With(mutation).Post("/tasks/{id}/approve", viewHandler.ApproveTask)
				r.With(mutation).Post("/tasks/{id}/assign", viewHandler.AssignTask)

				r.Group(func(r chi.Router) {
					r.Use(onlyRole(role.User))
					r.Get("/applications", viewHandler.ListApplications)
					r.With(mutation).Post("/applications", viewHandler.SubmitApplication)
				})
				r.Group(func(r chi.Router) {
					r.Use(onlyRole(role.Head))
					r.Get("/templates", viewHandler.ListTemplates)
					r.With(mutation).Post("/templates", viewHandler.CreateTemplate)
					r.Get("/templates/{id}", viewHandler.GetTemplate)
					r.With(mutation).Put("/templates/{id}", viewHandler.UpdateTemplate)
					r.With(mutation).Delete("/templates/{id}", viewHandler.DeleteTemplate)
				})
			})
		})
	})

	return r
}

// onlyRole はURLのロールが指定ロールの場合のみ通す。それ以外は404を返す。
func onlyRole(want role.Role) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if chi.URLParam(r, "role") != string(want) {
				http.NotFound(w, r)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
