package repository

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/hitoshi/approvalportal/internal/model"
)

// sessionTokens はセッションのうち暗号化して保存する部分。
type sessionTokens struct {
	AccessToken  string    `json:"access_token,omitempty"`
	RefreshToken string    `json:"refresh_token,omitempty"`
	IDToken      string    `json:"id_token,omitempty"`
	TokenExpiry  time.Time `json:"token_expiry,omitempty"`
}

// sealTokens はセッションのトークンをJSON化して暗号化する。
// セッションIDを追加データに使い、別セッションへの付け替えを検出する。
func sealTokens(sealer TokenSealer, s *model.Session) ([]byte, error) {
	plain, err := json.Marshal(sessionTokens{
		AccessToken:  s.AccessToken,
		RefreshToken: s.RefreshToken,
		IDToken:      s.IDToken,
		TokenExpiry:  s.TokenExpiry,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to encode session tokens: %w", err)
	}
	sealed, err := sealer.Encrypt(plain, []byte(s.ID))
	if err != nil {
		return nil, fmt.Errorf("failed to seal session tokens: %w", err)
	}
	return sealed, nil
}

// openTokens はsealTokensの出力を復号してセッションに書き戻す。
func openTokens(sealer TokenSealer, s *model.Session, sealed []byte) error {
	plain, err := sealer.Decrypt(sealed, []byte(s.ID))
	if err != nil {
		return fmt.Errorf("failed to open session tokens: %w", err)
	}
	var tokens sessionTokens
	if err := json.Unmarshal(plain, &tokens); err != nil {
		return fmt.Errorf("failed to decode session tokens: %w", err)
	}
	s.AccessToken = tokens.AccessToken
	s.RefreshToken = tokens.RefreshToken
	s.IDToken = tokens.IDToken
	s.TokenExpiry = tokens.TokenExpiry
	return nil
}
