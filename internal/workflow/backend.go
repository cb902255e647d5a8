package workflow

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/hitoshi/approvalportal/internal/backend"
	"github.com/hitoshi/approvalportal/internal/model"
)

// Backend はワークフローバックエンドの呼び出しインターフェース。
// backend.Clientが実装する。
type Backend interface {
	Do(ctx context.Context, r backend.Request) (*backend.Response, error)
}

// sessionHeader はセッションのアクセストークンからヘッダーを生成する。
func sessionHeader(session *model.Session) http.Header {
	if session == nil {
		return backend.BuildHeaders("", nil)
	}
	return backend.BuildHeaders(session.AccessToken, nil)
}

// call はバックエンドを呼び出し、2xx以外を*model.APIErrorに変換する。
// failureは401・403以外の失敗時にユーザーへ返すメッセージ。
func call(ctx context.Context, b Backend, logger *slog.Logger, r backend.Request, failure string) (*backend.Response, error) {
	resp, err := b.Do(ctx, r)
	if err != nil {
		logger.Error("workflow backend call failed",
			slog.String("operation", r.Operation),
			slog.String("error", err.Error()),
		)
		return nil, model.NewBackendFailedError(failure)
	}
	if resp.OK() {
		return resp, nil
	}
	switch resp.StatusCode {
	case http.StatusUnauthorized:
		return resp, model.NewUnauthorizedError()
	case http.StatusForbidden:
		return resp, model.NewForbiddenError()
	}
	return resp, model.NewBackendFailedError(failure)
}

// responseData はレスポンスボディをJSONならそのまま、それ以外は文字列として返す。
func responseData(resp *backend.Response) any {
	if resp.IsJSON() && json.Valid(resp.Body) {
		return json.RawMessage(resp.Body)
	}
	if len(resp.Body) == 0 {
		return nil
	}
	return string(resp.Body)
}

// backendMessage はエラーレスポンスから表示用メッセージを取り出す。
// error_description、errorの順に参照し、なければfallbackを返す。
func backendMessage(resp *backend.Response, fallback string) string {
	if resp == nil || !resp.IsJSON() {
		return fallback
	}
	var body struct {
		ErrorDescription string `json:"error_description"`
		Error            any    `json:"error"`
		Message          string `json:"message"`
	}
	if err := json.Unmarshal(resp.Body, &body); err != nil {
		return fallback
	}
	if body.ErrorDescription != "" {
		return body.ErrorDescription
	}
	if s, ok := body.Error.(string); ok && s != "" {
		return s
	}
	if body.Message != "" {
		return body.Message
	}
	return fallback
}
