package model

import "time"

// SessionStatus はブラウザから見た認証状態を表す。
type SessionStatus string

const (
	// SessionStatusLoading は認可リクエストが進行中であることを示す。
	// oauth_state Cookieがあり、セッションがまだ発行されていない状態。
	SessionStatusLoading SessionStatus = "loading"
	// SessionStatusUnauthenticated は有効なセッションが存在しないことを示す。
	SessionStatusUnauthenticated SessionStatus = "unauthenticated"
	// SessionStatusAuthenticated は有効なセッションが存在することを示す。
	SessionStatusAuthenticated SessionStatus = "authenticated"
)

// Session はIdPから取得したトークンを保持するサーバー側セッションを表す。
// ブラウザには不透明なセッションIDのみを渡し、トークンはサーバーで保持する。
// 変更できるのはSession Provider（ログイン・リフレッシュ）とサインアウト処理のみ。
type Session struct {
	ID           string
	Subject      string // アクセストークンのsubクレーム
	AccessToken  string
	RefreshToken string
	IDToken      string
	TokenExpiry  time.Time // アクセストークンの有効期限。ゼロ値は期限なし
	ExpiresAt    time.Time // セッション自体の有効期限
	CreatedAt    time.Time
}

// TokenExpired はアクセストークンが期限切れかどうかを判定する。
func (s *Session) TokenExpired(now time.Time) bool {
	if s.TokenExpiry.IsZero() {
		return false
	}
	return !now.Before(s.TokenExpiry)
}

// SessionView はブラウザに公開するセッションのJSON表現。
type SessionView struct {
	AccessToken string `json:"accessToken,omitempty"`
	IDToken     string `json:"id_token,omitempty"`
}

// View はセッションの公開用表現を返す。nilの場合はnilを返す。
func (s *Session) View() *SessionView {
	if s == nil {
		return nil
	}
	return &SessionView{
		AccessToken: s.AccessToken,
		IDToken:     s.IDToken,
	}
}
