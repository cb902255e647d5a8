// Package signout はローカルの認証状態の破棄とIdPのセッション終了を順に行う。
package signout

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/hitoshi/approvalportal/internal/auth"
	"github.com/hitoshi/approvalportal/internal/metrics"
	"github.com/hitoshi/approvalportal/internal/model"
)

// サインアウトのステップ名
const (
	StepClearTokenStore       = "clear_token_store"
	StepClearClientState      = "clear_client_state"
	StepReadIDToken           = "read_id_token"
	StepTerminateLocalSession = "terminate_local_session"
	StepEndSessionRedirect    = "end_session_redirect"
)

// ステップの結果
const (
	OutcomeOK      = "ok"
	OutcomeSkipped = "skipped"
	OutcomeFailed  = "failed"
)

// clearSiteDataValue はブラウザのキャッシュ・Cookie・ストレージを消去させるヘッダー値。
const clearSiteDataValue = `"cache", "cookies", "storage"`

// TokenClearer はトークンストアの消去を行うインターフェース。
type TokenClearer interface {
	Clear(ctx context.Context) error
}

// SessionTerminator はサーバー側セッションの削除と終了URLの生成を行うインターフェース。
// auth.Serviceが実装する。
type SessionTerminator interface {
	TerminateSession(ctx context.Context, sessionID string) error
	EndSessionURL(idToken, postLogoutRedirectURI string) string
}

// Config はサインアウトの設定。
type Config struct {
	BaseURL      string
	CookieDomain string
	CookieSecure bool
}

// StepResult は1ステップの結果。
type StepResult struct {
	Name    string `json:"name"`
	Outcome string `json:"outcome"`
	Detail  string `json:"detail,omitempty"`
}

// Result はサインアウト全体の結果。
type Result struct {
	Steps []StepResult
	// LogoutURL はIdPのログアウトURL。IDトークンがない場合は空。
	LogoutURL string
	// RemoteTerminated はIdPのセッション終了に進めたかどうか。
	RemoteTerminated bool
}

// Outcome は指定したステップの結果を返す。実行されていない場合は空文字列。
func (r Result) Outcome(step string) string {
	for _, s := range r.Steps {
		if s.Name == step {
			return s.Outcome
		}
	}
	return ""
}

// Coordinator はサインアウト手順を実行する。
type Coordinator struct {
	tokens   TokenClearer
	sessions SessionTerminator
	config   Config
	logger   *slog.Logger
	metrics  metrics.MetricsCollector
}

// NewCoordinator はCoordinatorを生成する。
func NewCoordinator(tokens TokenClearer, sessions SessionTerminator, config Config, logger *slog.Logger, m metrics.MetricsCollector) *Coordinator {
	if logger == nil {
		logger = slog.Default()
	}
	if m == nil {
		m = metrics.Nop{}
	}
	return &Coordinator{
		tokens:   tokens,
		sessions: sessions,
		config:   config,
		logger:   logger,
		metrics:  m,
	}
}

// SignOut はサインアウトを実行する。
// 何度呼んでも安全で、各ステップの失敗はResultに記録するのみで次のステップに進む。
// wがnilの場合はクライアント状態の消去をスキップする。
func (c *Coordinator) SignOut(ctx context.Context, w http.ResponseWriter, session *model.Session) Result {
	var res Result
	if session != nil && auth.SessionFromContext(ctx) != session {
		ctx = auth.ContextWithSession(ctx, session)
	}

	// 1. トークンストアの消去
	c.run(ctx, &res, StepClearTokenStore, func() (string, string, error) {
		return OutcomeOK, "", c.tokens.Clear(ctx)
	})

	// 2. Cookieとブラウザストレージの消去
	c.run(ctx, &res, StepClearClientState, func() (string, string, error) {
		if w == nil {
			return OutcomeSkipped, "no response writer", nil
		}
		c.clearClientState(w)
		return OutcomeOK, "", nil
	})

	// 3. IDトークンの読み取り
	var idToken string
	c.run(ctx, &res, StepReadIDToken, func() (string, string, error) {
		switch {
		case session == nil:
			return OutcomeSkipped, "no session", nil
		case session.IDToken == "":
			return OutcomeSkipped, "no id_token in session", nil
		}
		idToken = session.IDToken
		return OutcomeOK, "", nil
	})

	// 4. サーバー側セッションの削除
	c.run(ctx, &res, StepTerminateLocalSession, func() (string, string, error) {
		if session == nil || session.ID == "" {
			return OutcomeSkipped, "no session", nil
		}
		return OutcomeOK, "", c.sessions.TerminateSession(ctx, session.ID)
	})

	// 5. IdPのログアウトURLの生成
	c.run(ctx, &res, StepEndSessionRedirect, func() (string, string, error) {
		if idToken == "" {
			return OutcomeSkipped, "id_token unavailable", nil
		}
		res.LogoutURL = c.sessions.EndSessionURL(idToken, c.config.BaseURL+"/")
		res.RemoteTerminated = res.LogoutURL != ""
		return OutcomeOK, "", nil
	})

	c.metrics.RecordSignOut(res.RemoteTerminated)
	c.logger.Info("sign-out completed",
		slog.Bool("remote_terminated", res.RemoteTerminated),
		slog.Int("steps", len(res.Steps)),
	)
	return res
}

// run は1ステップを実行し、結果を記録する。ステップ内のpanicは失敗として扱う。
func (c *Coordinator) run(ctx context.Context, res *Result, name string, step func() (string, string, error)) {
	outcome, detail := func() (outcome, detail string) {
		defer func() {
			if rec := recover(); rec != nil {
				outcome, detail = OutcomeFailed, fmt.Sprintf("panic: %v", rec)
			}
		}()
		o, d, err := step()
		if err != nil {
			return OutcomeFailed, err.Error()
		}
		return o, d
	}()

	res.Steps = append(res.Steps, StepResult{Name: name, Outcome: outcome, Detail: detail})
	c.metrics.RecordSignOutStep(name, outcome)

	level := slog.LevelInfo
	switch outcome {
	case OutcomeFailed:
		level = slog.LevelError
	case OutcomeSkipped:
		level = slog.LevelWarn
	}
	attrs := []slog.Attr{
		slog.String("step", name),
		slog.String("outcome", outcome),
	}
	if detail != "" {
		attrs = append(attrs, slog.String("detail", detail))
	}
	c.logger.LogAttrs(ctx, level, "sign-out step", attrs...)
}

// clearClientState はこのアプリケーションと旧フロントエンドのCookieを失効させる。
func (c *Coordinator) clearClientState(w http.ResponseWriter) {
	expire := func(name string, httpOnly bool, domain string) {
		http.SetCookie(w, &http.Cookie{
			Name:     name,
			Value:    "",
			Path:     "/",
			Domain:   domain,
			MaxAge:   -1,
			HttpOnly: httpOnly,
			Secure:   c.config.CookieSecure,
			SameSite: http.SameSiteLaxMode,
		})
	}

	expire(auth.SessionCookieName, true, c.config.CookieDomain)
	expire(auth.StateCookieName, true, "")
	expire(auth.CSRFCookieName, false, c.config.CookieDomain)
	for _, name := range auth.LegacyCookieNames {
		expire(name, false, "")
	}

	w.Header().Set("Clear-Site-Data", clearSiteDataValue)
}
