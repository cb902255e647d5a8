// Package auth はOIDC認証フロー、セッション管理、トークンストアを提供する。
package auth

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/hitoshi/approvalportal/internal/metrics"
	"github.com/hitoshi/approvalportal/internal/model"
	"github.com/hitoshi/approvalportal/internal/repository"
	"github.com/hitoshi/approvalportal/internal/role"
)

// IdentityProvider はOIDC IdPのインターフェース。
type IdentityProvider interface {
	// GetLoginURL は認可エンドポイントへのURLを生成する。
	GetLoginURL(state string) string
	// ExchangeCode は認可コードをトークンに交換する。
	ExchangeCode(ctx context.Context, code string) (*Tokens, error)
	// Refresh はリフレッシュトークンでトークンを更新する。
	Refresh(ctx context.Context, refreshToken string) (*Tokens, error)
	// PasswordGrant はパスワードグラントを実行し、IdPのレスポンスを返す。
	PasswordGrant(ctx context.Context, username, password string) (*PasswordGrantResult, error)
	// EndSessionURL はIdPのログアウトURLを生成する。
	EndSessionURL(idToken, postLogoutRedirectURI string) string
}

// ErrInvalidCredentials はパスワードグラントに必要な入力が欠けている場合のエラー。
var ErrInvalidCredentials = errors.New("username and password are required")

// ServiceConfig は認証サービスの設定。
type ServiceConfig struct {
	SessionMaxAge int // セッション有効期間（秒）
	Metrics       metrics.MetricsCollector
}

// Service は認証に関するビジネスロジックを提供する。
// セッションはトークンの唯一の保存先であり、ブラウザにはセッションIDのみを渡す。
type Service struct {
	idp         IdentityProvider
	sessionRepo repository.SessionRepository
	config      ServiceConfig
	metrics     metrics.MetricsCollector
	now         func() time.Time
}

// NewService はServiceを生成する。
func NewService(
	idp IdentityProvider,
	sessionRepo repository.SessionRepository,
	config ServiceConfig,
) *Service {
	m := config.Metrics
	if m == nil {
		m = metrics.Nop{}
	}
	return &Service{
		idp:         idp,
		sessionRepo: sessionRepo,
		config:      config,
		metrics:     m,
		now:         time.Now,
	}
}

// GetLoginURL は認可エンドポイントへのURLを生成する。
func (s *Service) GetLoginURL(state string) string {
	return s.idp.GetLoginURL(state)
}

// EndSessionURL はIdPのログアウトURLを生成する。
func (s *Service) EndSessionURL(idToken, postLogoutRedirectURI string) string {
	return s.idp.EndSessionURL(idToken, postLogoutRedirectURI)
}

// HandleCallback は認可コードをトークンに交換し、セッションを発行する。
func (s *Service) HandleCallback(ctx context.Context, code string) (*model.Session, error) {
	if code == "" {
		return nil, fmt.Errorf("authorization code is required")
	}

	tokens, err := s.idp.ExchangeCode(ctx, code)
	if err != nil {
		s.metrics.RecordLogin("authorization_code", false)
		return nil, fmt.Errorf("failed to exchange authorization code: %w", err)
	}

	session, err := s.createSession(ctx, tokens)
	if err != nil {
		s.metrics.RecordLogin("authorization_code", false)
		return nil, fmt.Errorf("failed to create session: %w", err)
	}
	s.metrics.RecordLogin("authorization_code", true)

	slog.Info("user logged in",
		slog.String("subject", session.Subject),
		slog.Bool("has_id_token", session.IDToken != ""),
	)
	return session, nil
}

// LoginWithPassword はレガシーのパスワードグラントを実行する。
// IdPのレスポンスは常に返し、成功した場合のみセッションも発行する。
func (s *Service) LoginWithPassword(ctx context.Context, username, password string) (*PasswordGrantResult, *model.Session, error) {
	if username == "" || password == "" {
		return nil, nil, ErrInvalidCredentials
	}

	result, err := s.idp.PasswordGrant(ctx, username, password)
	if err != nil {
		s.metrics.RecordLogin("password", false)
		return nil, nil, fmt.Errorf("failed to call token endpoint: %w", err)
	}
	if result.Tokens == nil {
		s.metrics.RecordLogin("password", false)
		slog.Warn("password grant rejected", slog.Int("http_status", result.StatusCode))
		return result, nil, nil
	}

	session, err := s.createSession(ctx, result.Tokens)
	if err != nil {
		s.metrics.RecordLogin("password", false)
		return result, nil, fmt.Errorf("failed to create session: %w", err)
	}
	s.metrics.RecordLogin("password", true)

	slog.Info("user logged in with password grant", slog.String("subject", session.Subject))
	return result, session, nil
}

// CurrentSession はセッションIDから有効なセッションを取得する。
// アクセストークンが期限切れの場合はリフレッシュしてから返す。
// セッションが存在しない場合、またはリフレッシュに失敗した場合はnilを返す（未ログイン扱い）。
func (s *Service) CurrentSession(ctx context.Context, sessionID string) (*model.Session, error) {
	if sessionID == "" {
		return nil, nil
	}

	session, err := s.sessionRepo.FindByID(ctx, sessionID)
	if err != nil {
		return nil, fmt.Errorf("failed to find session: %w", err)
	}
	if session == nil {
		return nil, nil
	}

	if session.AccessToken == "" || !session.TokenExpired(s.now()) {
		return session, nil
	}

	if session.RefreshToken == "" {
		slog.Info("access token expired without refresh token, ending session",
			slog.String("subject", session.Subject),
		)
		s.endSession(ctx, session.ID)
		return nil, nil
	}

	tokens, err := s.idp.Refresh(ctx, session.RefreshToken)
	s.metrics.RecordTokenRefresh(err == nil)
	if err != nil {
		slog.Warn("token refresh failed, ending session",
			slog.String("subject", session.Subject),
			slog.String("error", err.Error()),
		)
		s.endSession(ctx, session.ID)
		return nil, nil
	}

	applyTokens(session, tokens)
	if err := s.sessionRepo.Update(ctx, session); err != nil {
		return nil, fmt.Errorf("failed to store refreshed session: %w", err)
	}

	slog.Info("access token refreshed", slog.String("subject", session.Subject))
	return session, nil
}

// Status はセッションの状態を返す。
// セッションがなく認可リクエストが進行中（state Cookieあり）の場合はloadingを返す。
func Status(session *model.Session, loginInFlight bool) model.SessionStatus {
	switch {
	case session != nil && session.AccessToken != "":
		return model.SessionStatusAuthenticated
	case session == nil && loginInFlight:
		return model.SessionStatusLoading
	default:
		return model.SessionStatusUnauthenticated
	}
}

// TerminateSession はセッションを削除する。リダイレクトは行わない。
func (s *Service) TerminateSession(ctx context.Context, sessionID string) error {
	if sessionID == "" {
		return fmt.Errorf("session ID is required")
	}
	if err := s.sessionRepo.DeleteByID(ctx, sessionID); err != nil {
		return fmt.Errorf("failed to delete session: %w", err)
	}
	return nil
}

func (s *Service) endSession(ctx context.Context, sessionID string) {
	if err := s.sessionRepo.DeleteByID(ctx, sessionID); err != nil {
		slog.Error("failed to delete session", slog.String("error", err.Error()))
	}
}

// createSession はトークンからセッションを作成し永続化する。
func (s *Service) createSession(ctx context.Context, tokens *Tokens) (*model.Session, error) {
	sessionID, err := generateSessionID()
	if err != nil {
		return nil, fmt.Errorf("failed to generate session ID: %w", err)
	}

	now := s.now()
	session := &model.Session{
		ID:        sessionID,
		ExpiresAt: now.Add(time.Duration(s.config.SessionMaxAge) * time.Second),
		CreatedAt: now,
	}
	applyTokens(session, tokens)

	if err := s.sessionRepo.Create(ctx, session); err != nil {
		return nil, fmt.Errorf("failed to save session: %w", err)
	}

	return session, nil
}

// applyTokens はトークンをセッションに反映する。
// 空のリフレッシュトークン・IDトークンは既存の値を維持する。
func applyTokens(session *model.Session, tokens *Tokens) {
	session.AccessToken = tokens.AccessToken
	session.TokenExpiry = tokens.Expiry
	if tokens.RefreshToken != "" {
		session.RefreshToken = tokens.RefreshToken
	}
	if tokens.IDToken != "" {
		session.IDToken = tokens.IDToken
	}
	if claims, err := role.ParseClaims(tokens.AccessToken); err == nil {
		session.Subject = claims.Subject
	}
}

// generateSessionID は暗号的に安全なセッションIDを生成する。
func generateSessionID() (string, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return hex.EncodeToString(b), nil
}
