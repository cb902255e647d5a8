package handler

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/hitoshi/approvalportal/internal/auth"
	"github.com/hitoshi/approvalportal/internal/model"
)

// stateCookieMaxAge は認可リクエスト中のstate Cookieの有効期間（秒）。
const stateCookieMaxAge = 600

// AuthServiceInterface は認証ハンドラーが必要とするサービスインターフェース。
type AuthServiceInterface interface {
	GetLoginURL(state string) string
	HandleCallback(ctx context.Context, code string) (*model.Session, error)
	LoginWithPassword(ctx context.Context, username, password string) (*auth.PasswordGrantResult, *model.Session, error)
}

// AuthHandlerConfig は認証ハンドラーの設定。
type AuthHandlerConfig struct {
	BaseURL       string
	CookieDomain  string
	CookieSecure  bool
	SessionMaxAge int // セッションCookieの有効期間（秒）
}

// AuthHandler はOIDC認証関連のHTTPハンドラー。
type AuthHandler struct {
	service AuthServiceInterface
	signOut SignOutCoordinator
	config  AuthHandlerConfig
}

// NewAuthHandler はAuthHandlerを生成する。
func NewAuthHandler(service AuthServiceInterface, signOut SignOutCoordinator, config AuthHandlerConfig) *AuthHandler {
	return &AuthHandler{
		service: service,
		signOut: signOut,
		config:  config,
	}
}

// Login は認可コードフローを開始する。
// GET /auth/login
func (h *AuthHandler) Login(w http.ResponseWriter, r *http.Request) {
	state, err := generateState()
	if err != nil {
		slog.Error("failed to generate oauth state", slog.String("error", err.Error()))
		http.Error(w, "internal server error", http.StatusInternalServerError)
		return
	}

	// stateをCookieに保存（CSRF対策）
	http.SetCookie(w, &http.Cookie{
		Name:     auth.StateCookieName,
		Value:    state,
		Path:     "/",
		MaxAge:   stateCookieMaxAge,
		HttpOnly: true,
		Secure:   h.config.CookieSecure,
		SameSite: http.SameSiteLaxMode,
	})

	http.Redirect(w, r, h.service.GetLoginURL(state), http.StatusTemporaryRedirect)
}

// Callback はIdPからのコールバックを処理する。
// GET /auth/callback?code=xxx&state=yyy
func (h *AuthHandler) Callback(w http.ResponseWriter, r *http.Request) {
	// 1. stateの検証（CSRF対策）
	state := r.URL.Query().Get("state")
	stateCookie, err := r.Cookie(auth.StateCookieName)
	if err != nil || state == "" || stateCookie.Value != state {
		slog.Warn("oauth state mismatch")
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid state parameter"})
		return
	}

	// stateクッキーを削除
	http.SetCookie(w, &http.Cookie{
		Name:     auth.StateCookieName,
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   h.config.CookieSecure,
		SameSite: http.SameSiteLaxMode,
	})

	// 2. IdPがエラーを返した場合
	if idpErr := r.URL.Query().Get("error"); idpErr != "" {
		slog.Warn("identity provider returned an error",
			slog.String("error", idpErr),
			slog.String("error_description", r.URL.Query().Get("error_description")),
		)
		writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "authentication failed"})
		return
	}

	// 3. 認可コードの取得
	code := r.URL.Query().Get("code")
	if code == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "missing authorization code"})
		return
	}

	// 4. トークン交換とセッション発行
	session, err := h.service.HandleCallback(r.Context(), code)
	if err != nil {
		slog.Error("oauth callback failed", slog.String("error", err.Error()))
		writeJSON(w, http.StatusBadGateway, map[string]string{"error": "authentication failed"})
		return
	}

	h.setSessionCookie(w, session.ID)

	// 5. ロール振り分けのためトップへリダイレクト
	http.Redirect(w, r, h.config.BaseURL+"/", http.StatusTemporaryRedirect)
}

// sessionResponse はGET /auth/sessionのレスポンス。
type sessionResponse struct {
	Status  model.SessionStatus `json:"status"`
	Session *model.SessionView  `json:"session"`
}

// Session は現在の認証状態を返す。
// GET /auth/session
func (h *AuthHandler) Session(w http.ResponseWriter, r *http.Request) {
	session := auth.SessionFromContext(r.Context())
	_, stateErr := r.Cookie(auth.StateCookieName)

	status := auth.Status(session, stateErr == nil)
	resp := sessionResponse{Status: status}
	if status == model.SessionStatusAuthenticated {
		resp.Session = session.View()
	}
	writeJSON(w, http.StatusOK, resp)
}

// Logout はサインアウトを実行し、IdPのログアウトURLへリダイレクトする。
// GET|POST /auth/logout
func (h *AuthHandler) Logout(w http.ResponseWriter, r *http.Request) {
	res := h.signOut.SignOut(r.Context(), w, auth.SessionFromContext(r.Context()))

	target := res.LogoutURL
	if target == "" {
		target = h.config.BaseURL + "/"
	}
	http.Redirect(w, r, target, http.StatusSeeOther)
}

// passwordLoginRequest はPOST /api/loginのリクエストボディ。
type passwordLoginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

// PasswordLogin はレガシーのパスワードグラントを実行する。
// IdPのレスポンスをステータスごとそのまま返し、成功時はセッションCookieも設定する。
// POST /api/login
func (h *AuthHandler) PasswordLogin(w http.ResponseWriter, r *http.Request) {
	var req passwordLoginRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<16)).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid_request", "error_description": "request body must be JSON"})
		return
	}

	result, session, err := h.service.LoginWithPassword(r.Context(), req.Username, req.Password)
	if errors.Is(err, auth.ErrInvalidCredentials) {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid_request", "error_description": err.Error()})
		return
	}
	if result == nil {
		slog.Error("password login failed", slog.String("error", err.Error()))
		writeJSON(w, http.StatusBadGateway, map[string]string{"error": "server_error", "error_description": "token endpoint unavailable"})
		return
	}
	if err != nil {
		slog.Error("failed to create session after password login", slog.String("error", err.Error()))
	}
	if session != nil {
		h.setSessionCookie(w, session.ID)
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(result.StatusCode)
	w.Write(result.Body)
}

func (h *AuthHandler) setSessionCookie(w http.ResponseWriter, sessionID string) {
	http.SetCookie(w, &http.Cookie{
		Name:     auth.SessionCookieName,
		Value:    sessionID,
		Path:     "/",
		Domain:   h.config.CookieDomain,
		MaxAge:   h.config.SessionMaxAge,
		HttpOnly: true,
		Secure:   h.config.CookieSecure,
		SameSite: http.SameSiteLaxMode,
	})
}

// generateState はCSRF対策用のランダムなstate値を生成する。
func generateState() (string, error) {
	b := make([]byte, 16)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return hex.EncodeToString(b), nil
}
