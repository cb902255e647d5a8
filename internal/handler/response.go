// Package handler はHTTPハンドラーを提供する。
package handler

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/hitoshi/approvalportal/internal/middleware"
	"github.com/hitoshi/approvalportal/internal/model"
	"github.com/hitoshi/approvalportal/internal/signout"
)

// SignOutCoordinator はサインアウト処理のインターフェース。
type SignOutCoordinator interface {
	SignOut(ctx context.Context, w http.ResponseWriter, session *model.Session) signout.Result
}

// writeJSON はJSONレスポンスを書き込む。
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// unauthorizedBody はバックエンドの401を受けてサインアウトした際のレスポンス。
type unauthorizedBody struct {
	Error     string `json:"error"`
	Message   string `json:"message,omitempty"`
	LogoutURL string `json:"logout_url,omitempty"`
}

// handleServiceError はサービス層から返されたエラーを適切なHTTPステータスコードに変換する。
// 認証切れの場合はサインアウトを実行し、IdPのログアウトURLを返す。
func handleServiceError(w http.ResponseWriter, r *http.Request, signOut SignOutCoordinator, session *model.Session, err error) {
	var apiErr *model.APIError
	if !errors.As(err, &apiErr) {
		slog.Error("internal server error",
			slog.String("request_id", middleware.RequestIDFromContext(r.Context())),
			slog.String("error", err.Error()),
		)
		middleware.WriteInternalServerError(w)
		return
	}

	if apiErr.Code == model.ErrCodeUnauthorized && signOut != nil {
		res := signOut.SignOut(r.Context(), w, session)
		writeJSON(w, http.StatusUnauthorized, unauthorizedBody{
			Error:     model.MsgUnauthorized,
			LogoutURL: res.LogoutURL,
		})
		return
	}

	middleware.WriteErrorResponse(w, mapAPIErrorToHTTPStatus(apiErr), apiErr)
}

// mapAPIErrorToHTTPStatus はAPIErrorコードからHTTPステータスコードにマッピングする。
func mapAPIErrorToHTTPStatus(apiErr *model.APIError) int {
	switch apiErr.Code {
	case model.ErrCodeUnauthorized:
		return http.StatusUnauthorized
	case model.ErrCodeForbidden, model.ErrCodeNoRole:
		return http.StatusForbidden
	case model.ErrCodeTemplateNotFound:
		return http.StatusNotFound
	case model.ErrCodeInvalidSchema, model.ErrCodeInvalidTemplate,
		model.ErrCodeInvalidTaskList, model.ErrCodeInvalidSubmission:
		return http.StatusBadRequest
	case model.ErrCodeUnsupportedCapability:
		return http.StatusMethodNotAllowed
	case model.ErrCodeBackendFailed:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}
