package auth

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"golang.org/x/oauth2"
)

// maxTokenResponseSize はトークンエンドポイントのレスポンスとして読み込む最大サイズ。
const maxTokenResponseSize = 1 << 20

// KeycloakConfig はKeycloakプロバイダーの設定。
// エンドポイントはすべてIssuer（レルムURL）から導出する。
type KeycloakConfig struct {
	Issuer         string
	ClientID       string
	ClientSecret   string
	RedirectURL    string
	LegacyClientID string // パスワードグラント用の公開クライアント

	HTTPClient *http.Client
}

// Tokens はトークンエンドポイントから取得したトークン一式。
type Tokens struct {
	AccessToken  string
	RefreshToken string
	IDToken      string
	Expiry       time.Time
}

// PasswordGrantResult はパスワードグラントのIdPレスポンス。
// BodyとStatusCodeはそのままブラウザへ返す。
type PasswordGrantResult struct {
	StatusCode int
	Body       []byte
	Tokens     *Tokens // 2xxかつaccess_tokenを含む場合のみ非nil
}

// KeycloakProvider はKeycloakのOIDCエンドポイントとのやり取りを提供する。
type KeycloakProvider struct {
	config     KeycloakConfig
	oauth      *oauth2.Config
	httpClient *http.Client
}

// NewKeycloakProvider はKeycloakProviderを生成する。
func NewKeycloakProvider(config KeycloakConfig) *KeycloakProvider {
	config.Issuer = strings.TrimRight(config.Issuer, "/")
	httpClient := config.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 15 * time.Second}
	}
	return &KeycloakProvider{
		config: config,
		oauth: &oauth2.Config{
			ClientID:     config.ClientID,
			ClientSecret: config.ClientSecret,
			RedirectURL:  config.RedirectURL,
			Scopes:       []string{"openid", "email", "profile"},
			Endpoint: oauth2.Endpoint{
				AuthURL:   config.Issuer + "/protocol/openid-connect/auth",
				TokenURL:  config.Issuer + "/protocol/openid-connect/token",
				AuthStyle: oauth2.AuthStyleInParams,
			},
		},
		httpClient: httpClient,
	}
}

// TokenURL はトークンエンドポイントのURLを返す。
func (p *KeycloakProvider) TokenURL() string {
	return p.oauth.Endpoint.TokenURL
}

// GetLoginURL は認可エンドポイントへのURLを生成する。
func (p *KeycloakProvider) GetLoginURL(state string) string {
	return p.oauth.AuthCodeURL(state)
}

// EndSessionURL はIdPのログアウトURLを生成する。
func (p *KeycloakProvider) EndSessionURL(idToken, postLogoutRedirectURI string) string {
	params := url.Values{
		"id_token_hint":            {idToken},
		"post_logout_redirect_uri": {postLogoutRedirectURI},
	}
	return p.config.Issuer + "/protocol/openid-connect/logout?" + params.Encode()
}

func (p *KeycloakProvider) clientContext(ctx context.Context) context.Context {
	return context.WithValue(ctx, oauth2.HTTPClient, p.httpClient)
}

// ExchangeCode は認可コードをトークンに交換する。
func (p *KeycloakProvider) ExchangeCode(ctx context.Context, code string) (*Tokens, error) {
	tok, err := p.oauth.Exchange(p.clientContext(ctx), code)
	if err != nil {
		return nil, fmt.Errorf("failed to exchange code: %w", err)
	}
	return tokensFromOAuth2(tok), nil
}

// Refresh はリフレッシュトークンで新しいトークンを取得する。
// IdPがid_tokenを返さない場合、IDTokenは空になる。
func (p *KeycloakProvider) Refresh(ctx context.Context, refreshToken string) (*Tokens, error) {
	if refreshToken == "" {
		return nil, errors.New("refresh token is empty")
	}
	src := p.oauth.TokenSource(p.clientContext(ctx), &oauth2.Token{
		RefreshToken: refreshToken,
		Expiry:       time.Unix(1, 0),
	})
	tok, err := src.Token()
	if err != nil {
		return nil, fmt.Errorf("failed to refresh token: %w", err)
	}
	return tokensFromOAuth2(tok), nil
}

// PasswordGrant はレガシーのログイン経路で使うパスワードグラントを実行する。
// IdPのステータスとボディはエラーの場合も含めて呼び出し側にそのまま返す。
func (p *KeycloakProvider) PasswordGrant(ctx context.Context, username, password string) (*PasswordGrantResult, error) {
	form := url.Values{
		"grant_type": {"password"},
		"client_id":  {p.config.LegacyClientID},
		"username":   {username},
		"password":   {password},
		"scope":      {"email openid"},
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.TokenURL(), strings.NewReader(form.Encode()))
	if err != nil {
		return nil, fmt.Errorf("failed to create token request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("token request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxTokenResponseSize))
	if err != nil {
		return nil, fmt.Errorf("failed to read token response: %w", err)
	}

	result := &PasswordGrantResult{StatusCode: resp.StatusCode, Body: body}
	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		var raw struct {
			AccessToken  string `json:"access_token"`
			RefreshToken string `json:"refresh_token"`
			IDToken      string `json:"id_token"`
			ExpiresIn    int64  `json:"expires_in"`
		}
		if err := json.Unmarshal(body, &raw); err == nil && raw.AccessToken != "" {
			result.Tokens = &Tokens{
				AccessToken:  raw.AccessToken,
				RefreshToken: raw.RefreshToken,
				IDToken:      raw.IDToken,
			}
			if raw.ExpiresIn > 0 {
				result.Tokens.Expiry = time.Now().Add(time.Duration(raw.ExpiresIn) * time.Second)
			}
		}
	}
	return result, nil
}

func tokensFromOAuth2(tok *oauth2.Token) *Tokens {
	t := &Tokens{
		AccessToken:  tok.AccessToken,
		RefreshToken: tok.RefreshToken,
		Expiry:       tok.Expiry,
	}
	if idToken, ok := tok.Extra("id_token").(string); ok {
		t.IDToken = idToken
	}
	return t
}

// compile-time interface check
var _ IdentityProvider = (*KeycloakProvider)(nil)
