package auth

// ブラウザに発行するCookie名
const (
	SessionCookieName = "session_id"
	StateCookieName   = "oauth_state"
	CSRFCookieName    = "csrf_token"
)

// LegacyCookieNames は旧フロントエンドが発行していたCookie名。サインアウト時に消去するのみ。
var LegacyCookieNames = []string{
	"access_token",
	"next-auth.session-token",
	"next-auth.csrf-token",
	"next-auth.callback-url",
}
