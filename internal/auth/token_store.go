package auth

import (
	"context"
	"fmt"

	"github.com/hitoshi/approvalportal/internal/model"
)

type sessionContextKey struct{}

// ContextWithSession はリクエストのセッションをコンテキストに格納する。
func ContextWithSession(ctx context.Context, session *model.Session) context.Context {
	return context.WithValue(ctx, sessionContextKey{}, session)
}

// SessionFromContext はコンテキストからセッションを取得する。存在しない場合はnilを返す。
func SessionFromContext(ctx context.Context) *model.Session {
	session, _ := ctx.Value(sessionContextKey{}).(*model.Session)
	return session
}

// SessionUpdater はセッションの更新を行うインターフェース。
type SessionUpdater interface {
	Update(ctx context.Context, session *model.Session) error
}

// TokenStore はリクエストに紐づくセッションのアクセストークンを読み書きする。
// コンテキストにセッションがない場合、Getは("", false)を返し、Set/Clearは何もしない。
type TokenStore struct {
	sessions SessionUpdater
}

// NewTokenStore はTokenStoreを生成する。
func NewTokenStore(sessions SessionUpdater) *TokenStore {
	return &TokenStore{sessions: sessions}
}

// Get は現在のアクセストークンを返す。
func (s *TokenStore) Get(ctx context.Context) (string, bool) {
	session := SessionFromContext(ctx)
	if session == nil || session.AccessToken == "" {
		return "", false
	}
	return session.AccessToken, true
}

// Set はアクセストークンを保存する。
func (s *TokenStore) Set(ctx context.Context, token string) error {
	session := SessionFromContext(ctx)
	if session == nil {
		return nil
	}
	session.AccessToken = token
	if err := s.sessions.Update(ctx, session); err != nil {
		return fmt.Errorf("failed to store access token: %w", err)
	}
	return nil
}

// Clear はアクセストークンを消去する。IDトークンは終了セッションURLの生成に使うため残す。
func (s *TokenStore) Clear(ctx context.Context) error {
	session := SessionFromContext(ctx)
	if session == nil || session.AccessToken == "" {
		return nil
	}
	session.AccessToken = ""
	if err := s.sessions.Update(ctx, session); err != nil {
		return fmt.Errorf("failed to clear access token: %w", err)
	}
	return nil
}

// Getter はctxに束縛したトークン取得関数を返す。
// backend.BuildHeadersのフォールバックに渡す。
func (s *TokenStore) Getter(ctx context.Context) func() (string, bool) {
	return func() (string, bool) {
		return s.Get(ctx)
	}
}
