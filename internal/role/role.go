// Package role はアクセストークンのクレームからロールを判定し、遷移先の画面を決める。
//
// 署名検証はワークフローバックエンドが行うため、ここでは検証せずにデコードのみ行う。
package role

import (
	"errors"
	"fmt"
	"slices"

	"github.com/golang-jwt/jwt/v5"
)

// Role はレルムロールを表す。
type Role string

// 画面に対応するロール
const (
	User     Role = "User"
	Employee Role = "Employee"
	Manager  Role = "Manager"
	HR       Role = "HR"
	Head     Role = "Head"
)

// priority はロール判定の優先順位。先頭ほど優先される。
var priority = []Role{User, Employee, Manager, HR, Head}

// ErrMalformedToken はアクセストークンをデコードできない場合のエラー。
var ErrMalformedToken = errors.New("malformed access token")

// RealmAccess はKeycloakのrealm_accessクレーム。
type RealmAccess struct {
	Roles []string `json:"roles"`
}

// Claims はアクセストークンから取り出すクレーム。
// 読み出しのたびに生のトークンから再計算し、保存しない。
type Claims struct {
	jwt.RegisteredClaims

	PreferredUsername string      `json:"preferred_username,omitempty"`
	Email             string      `json:"email,omitempty"`
	RealmAccess       RealmAccess `json:"realm_access"`
}

// HasRole はクレームにロールが含まれるかを返す。nilの場合はfalse。
func (c *Claims) HasRole(r Role) bool {
	if c == nil {
		return false
	}
	return slices.Contains(c.RealmAccess.Roles, string(r))
}

// ParseClaims は署名を検証せずにアクセストークンのクレームをデコードする。
// 形式が不正な場合はErrMalformedTokenをラップして返す。呼び出し側は未ログインとして扱う。
func ParseClaims(raw string) (*Claims, error) {
	if raw == "" {
		return nil, fmt.Errorf("%w: empty token", ErrMalformedToken)
	}
	claims := &Claims{}
	if _, _, err := jwt.NewParser().ParseUnverified(raw, claims); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedToken, err)
	}
	return claims, nil
}

// RouteFor は優先順位に従って最初に一致したロールを返す。
// クレームがnil、realm_accessがない、いずれのロールにも一致しない場合は("", false)。
func RouteFor(claims *Claims) (Role, bool) {
	if claims == nil {
		return "", false
	}
	for _, r := range priority {
		if claims.HasRole(r) {
			return r, true
		}
	}
	return "", false
}

// Parse は文字列をRoleに変換する。大文字小文字は区別する。
func Parse(s string) (Role, bool) {
	r := Role(s)
	if slices.Contains(priority, r) {
		return r, true
	}
	return "", false
}

// ViewPath はロール画面のパスを返す。
func (r Role) ViewPath() string {
	return "/views/" + string(r)
}

// String はfmt.Stringerを実装する。
func (r Role) String() string {
	return string(r)
}
