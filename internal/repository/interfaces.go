// Package repository はセッションデータの永続化を提供する。
// トークンは保存前にTokenSealerで暗号化し、平文で保存しない。
package repository

import (
	"context"

	"github.com/hitoshi/approvalportal/internal/model"
)

// SessionRepository はセッションデータの永続化インターフェース。
type SessionRepository interface {
	// Create はセッションを作成する。
	Create(ctx context.Context, session *model.Session) error
	// FindByID は指定IDのセッションを取得する。見つからない場合・期限切れの場合はnilを返す。
	FindByID(ctx context.Context, id string) (*model.Session, error)
	// Update はトークンと有効期限を更新する。リフレッシュとサインアウト時のトークン消去で使う。
	Update(ctx context.Context, session *model.Session) error
	// DeleteByID は指定IDのセッションを削除する。存在しない場合もエラーにしない。
	DeleteByID(ctx context.Context, id string) error
	// DeleteExpired は期限切れセッションを削除し、削除件数を返す。
	DeleteExpired(ctx context.Context) (int64, error)
}

// TokenSealer はセッショントークンの暗号化インターフェース。
// security.TokenCipherが実装する。
type TokenSealer interface {
	Encrypt(plaintext, additionalData []byte) ([]byte, error)
	Decrypt(ciphertext, additionalData []byte) ([]byte, error)
}
