package workflow

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strings"

	"github.com/hitoshi/approvalportal/internal/backend"
	"github.com/hitoshi/approvalportal/internal/model"
)

// submissionProcessID はフォーム送信で起動するワークフロープロセスのID。
const submissionProcessID = "myprocess"

// MsgFormSubmitted は申請成功時のメッセージ。
const MsgFormSubmitted = "Form submitted successfully!"

// SubmissionRequest はフォーム送信のバックエンドリクエストを生成する。
// /api/applyのプロキシとUser画面の両方が使う。
func SubmissionRequest(templateID string, header http.Header, body []byte) backend.Request {
	return backend.Request{
		Operation: "submit_form",
		Method:    http.MethodPost,
		Path:      pathFormSubmissions,
		Query: url.Values{
			"processid":  {submissionProcessID},
			"templateId": {templateID},
		},
		Header: header,
		Body:   body,
	}
}

// SubmitResult は申請の結果。
type SubmitResult struct {
	Message string `json:"message"`
	Data    any    `json:"data,omitempty"`
}

// ApplicationView はUser画面の操作を提供する。
type ApplicationView struct {
	backend    Backend
	templateID string
	logger     *slog.Logger
}

// NewApplicationView はApplicationViewを生成する。
func NewApplicationView(b Backend, templateID string, logger *slog.Logger) *ApplicationView {
	if logger == nil {
		logger = slog.Default()
	}
	return &ApplicationView{
		backend:    b,
		templateID: templateID,
		logger:     logger.With(slog.String("role", "User")),
	}
}

// Submit は申請フォームを送信する。
func (v *ApplicationView) Submit(ctx context.Context, session *model.Session, app model.Application) (*SubmitResult, error) {
	app.FirstName = strings.TrimSpace(app.FirstName)
	if app.FirstName == "" {
		return nil, model.NewInvalidSubmissionError("firstName is required")
	}
	if app.Age <= 0 {
		return nil, model.NewInvalidSubmissionError("age must be a positive number")
	}

	body, err := json.Marshal(app)
	if err != nil {
		return nil, fmt.Errorf("failed to encode application: %w", err)
	}

	resp, err := call(ctx, v.backend, v.logger,
		SubmissionRequest(v.templateID, sessionHeader(session), body),
		"Submission failed.")
	if err != nil {
		if resp != nil && resp.StatusCode != http.StatusUnauthorized && resp.StatusCode != http.StatusForbidden {
			return nil, model.NewBackendFailedError(backendMessage(resp, "Submission failed."))
		}
		return nil, err
	}

	v.logger.Info("application submitted", slog.Int("http_status", resp.StatusCode))
	return &SubmitResult{Message: MsgFormSubmitted, Data: responseData(resp)}, nil
}

// ListOwn は自分の申請の一覧を取得する。
func (v *ApplicationView) ListOwn(ctx context.Context, session *model.Session) ([]model.TaskItem, error) {
	resp, err := call(ctx, v.backend, v.logger, backend.Request{
		Operation: "list_user_tasks",
		Method:    http.MethodGet,
		Path:      pathUserTasks,
		Header:    sessionHeader(session),
	}, "Failed to fetch tasks.")
	if err != nil {
		if resp != nil && resp.StatusCode != http.StatusUnauthorized && resp.StatusCode != http.StatusForbidden {
			return nil, model.NewBackendFailedError(backendMessage(resp, "Failed to fetch tasks."))
		}
		return nil, err
	}

	tasks, err := NormalizeOwnTasks(resp.Body)
	if err != nil {
		v.logger.Error("malformed user task list", slog.String("error", err.Error()))
		return nil, model.NewBackendFailedError("Failed to fetch tasks.")
	}
	return tasks, nil
}
