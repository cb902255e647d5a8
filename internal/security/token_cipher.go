package security

import (
	"crypto/rand"
	"crypto/sha256"
	"errors"
	"fmt"
	"io"

	"golang.org/x/crypto/chacha20poly1305"
	"golang.org/x/crypto/hkdf"
)

// tokenKeyInfo はHKDFの鍵導出に使うコンテキスト文字列。
const tokenKeyInfo = "approvalportal session tokens v1"

// ErrCiphertextTooShort は復号対象がnonce長に満たない場合のエラー。
var ErrCiphertextTooShort = errors.New("ciphertext too short")

// TokenCipher はセッショントークンの暗号化・復号を行う。
// 鍵はSESSION_SECRETからHKDF-SHA256で導出し、XChaCha20-Poly1305で暗号化する。
// 出力形式は nonce || ciphertext。
type TokenCipher struct {
	key []byte
}

// NewTokenCipher はsecretから暗号鍵を導出してTokenCipherを生成する。
func NewTokenCipher(secret string) (*TokenCipher, error) {
	if secret == "" {
		return nil, errors.New("session secret is empty")
	}
	key := make([]byte, chacha20poly1305.KeySize)
	r := hkdf.New(sha256.New, []byte(secret), nil, []byte(tokenKeyInfo))
	if _, err := io.ReadFull(r, key); err != nil {
		return nil, fmt.Errorf("failed to derive token key: %w", err)
	}
	return &TokenCipher{key: key}, nil
}

// Encrypt はplaintextを暗号化する。additionalDataには保存先のセッションIDを渡し、
// 別セッションへの暗号文の付け替えを検出できるようにする。
func (c *TokenCipher) Encrypt(plaintext, additionalData []byte) ([]byte, error) {
	aead, err := chacha20poly1305.NewX(c.key)
	if err != nil {
		return nil, fmt.Errorf("failed to create cipher: %w", err)
	}
	nonce := make([]byte, aead.NonceSize(), aead.NonceSize()+len(plaintext)+aead.Overhead())
	if _, err := rand.Read(nonce); err != nil {
		return nil, fmt.Errorf("failed to generate nonce: %w", err)
	}
	return aead.Seal(nonce, nonce, plaintext, additionalData), nil
}

// Decrypt はEncryptの出力を復号する。
func (c *TokenCipher) Decrypt(ciphertext, additionalData []byte) ([]byte, error) {
	aead, err := chacha20poly1305.NewX(c.key)
	if err != nil {
		return nil, fmt.Errorf("failed to create cipher: %w", err)
	}
	if len(ciphertext) < aead.NonceSize() {
		return nil, ErrCiphertextTooShort
	}
	nonce, sealed := ciphertext[:aead.NonceSize()], ciphertext[aead.NonceSize():]
	plaintext, err := aead.Open(nil, nonce, sealed, additionalData)
	if err != nil {
		return nil, fmt.Errorf("failed to decrypt token data: %w", err)
	}
	return plaintext, nil
}
