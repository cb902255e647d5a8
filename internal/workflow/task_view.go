package workflow

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/hitoshi/approvalportal/internal/backend"
	"github.com/hitoshi/approvalportal/internal/metrics"
	"github.com/hitoshi/approvalportal/internal/model"
)

// タスク操作の種類
const (
	ActionApprove = "approve"
	ActionAssign  = "assign"
)

// 操作成功時のメッセージ
const (
	MsgTaskApproved = "Task approved successfully"
	MsgTaskAssigned = "Task assigned successfully"
)

// sharedMutationTimeout はまとめて実行するタスク操作1回の上限時間。
// 呼び出し元の切断とは独立して適用する。
const sharedMutationTimeout = 30 * time.Second

// MutationResult はタスク操作の結果。操作後に取得し直した一覧を含む。
// 操作は成功したが一覧の再取得に失敗した場合、Tasksは省略しRefreshErrorに理由を入れる。
type MutationResult struct {
	Message      string             `json:"message"`
	Data         any                `json:"data,omitempty"`
	Tasks        []model.TaskItem   `json:"tasks,omitzero"`
	View         model.TaskListKind `json:"view"`
	RefreshError string             `json:"refresh_error,omitempty"`
}

// TaskView はEmployee・Manager・HRのタスク画面の操作を提供する。
// リクエスト間で状態を持たず、表示のたびにバックエンドから取得する。
type TaskView struct {
	config  TaskViewConfig
	backend Backend
	logger  *slog.Logger
	metrics metrics.MetricsCollector
	group   singleflight.Group
}

// NewTaskView はTaskViewを生成する。
func NewTaskView(config TaskViewConfig, b Backend, logger *slog.Logger, m metrics.MetricsCollector) *TaskView {
	if logger == nil {
		logger = slog.Default()
	}
	if m == nil {
		m = metrics.Nop{}
	}
	return &TaskView{
		config:  config,
		backend: b,
		logger:  logger.With(slog.String("role", string(config.Role))),
		metrics: m,
	}
}

// Config は画面の設定を返す。
func (v *TaskView) Config() TaskViewConfig {
	return v.config
}

// ListTasks はタスク一覧を取得して正規化する。
func (v *TaskView) ListTasks(ctx context.Context, session *model.Session, kind model.TaskListKind) ([]model.TaskItem, error) {
	var path, op string
	switch kind {
	case model.TaskListAssigned:
		if !v.config.Has(CapabilityListAssigned) {
			return nil, model.NewUnsupportedCapabilityError(string(v.config.Role), string(CapabilityListAssigned))
		}
		path, op = v.config.Lists.Assigned, "list_assigned_tasks"
	case model.TaskListUnassigned:
		if !v.config.Has(CapabilityListUnassigned) {
			return nil, model.NewUnsupportedCapabilityError(string(v.config.Role), string(CapabilityListUnassigned))
		}
		path, op = v.config.Lists.Unassigned, "list_unassigned_tasks"
	default:
		return nil, model.NewInvalidTaskListError(string(kind))
	}

	resp, err := call(ctx, v.backend, v.logger, backend.Request{
		Operation: op,
		Method:    http.MethodGet,
		Path:      path,
		Header:    sessionHeader(session),
	}, "Failed to fetch tasks")
	if err != nil {
		return nil, err
	}

	tasks, err := NormalizeTasks(resp.Body, v.config.Fields, kind)
	if err != nil {
		v.logger.Error("malformed task list", slog.String("operation", op), slog.String("error", err.Error()))
		return nil, model.NewBackendFailedError("Failed to fetch tasks")
	}
	return tasks, nil
}

// Approve はタスクを承認し、refreshの一覧を取得し直して返す。
func (v *TaskView) Approve(ctx context.Context, session *model.Session, taskID string, refresh model.TaskListKind) (*MutationResult, error) {
	if !v.config.Has(CapabilityApprove) {
		return nil, model.NewUnsupportedCapabilityError(string(v.config.Role), string(CapabilityApprove))
	}
	body, err := json.Marshal(v.config.ApprovePayload)
	if err != nil {
		return nil, fmt.Errorf("failed to encode approve payload: %w", err)
	}
	return v.mutate(ctx, session, ActionApprove, taskID, v.config.Actions.Approve, body, MsgTaskApproved, refresh)
}

// Assign はタスクを自分に割り当て、refreshの一覧を取得し直して返す。
func (v *TaskView) Assign(ctx context.Context, session *model.Session, taskID string, refresh model.TaskListKind) (*MutationResult, error) {
	if !v.config.Has(CapabilityAssign) {
		return nil, model.NewUnsupportedCapabilityError(string(v.config.Role), string(CapabilityAssign))
	}
	return v.mutate(ctx, session, ActionAssign, taskID, v.config.Actions.Assign, nil, MsgTaskAssigned, refresh)
}

// mutate はタスク操作を実行する。同じセッションからの同一操作が同時に届いた場合は
// バックエンドへの呼び出しを1回にまとめる。
func (v *TaskView) mutate(
	ctx context.Context,
	session *model.Session,
	action, taskID, pathPrefix string,
	body []byte,
	message string,
	refresh model.TaskListKind,
) (*MutationResult, error) {
	taskID = strings.TrimSpace(taskID)
	if taskID == "" {
		return nil, model.NewBackendFailedError(fmt.Sprintf("Failed to %s task", action))
	}
	if _, ok := model.ParseTaskListKind(string(refresh)); !ok {
		return nil, model.NewInvalidTaskListError(string(refresh))
	}

	sessionID := ""
	if session != nil {
		sessionID = session.ID
	}
	key := sessionID + "|" + action + "|" + taskID

	ch := v.group.DoChan(key, func() (any, error) {
		// 合流した他の呼び出し元のため、最初の呼び出し元のキャンセルを引き継がない
		sharedCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), sharedMutationTimeout)
		defer cancel()
		return call(sharedCtx, v.backend, v.logger, backend.Request{
			Operation: action + "_task",
			Method:    http.MethodPost,
			Path:      pathPrefix + url.PathEscape(taskID),
			Header:    sessionHeader(session),
			Body:      body,
		}, fmt.Sprintf("Failed to %s task", action))
	})

	var res singleflight.Result
	select {
	case res = <-ch:
	case <-ctx.Done():
		return nil, fmt.Errorf("task %s interrupted: %w", action, ctx.Err())
	}
	if res.Shared {
		v.metrics.RecordDuplicateMutation(action)
		v.logger.Info("duplicate task mutation collapsed",
			slog.String("action", action),
			slog.String("task_id", taskID),
		)
	}
	if res.Err != nil {
		var apiErr *model.APIError
		if errors.As(res.Err, &apiErr) && apiErr.Code == model.ErrCodeBackendFailed {
			resp, _ := res.Val.(*backend.Response)
			return nil, model.NewBackendFailedError(backendMessage(resp, apiErr.Message))
		}
		return nil, res.Err
	}
	resp := res.Val.(*backend.Response)

	v.logger.Info("task mutation completed",
		slog.String("action", action),
		slog.String("task_id", taskID),
	)

	result := &MutationResult{
		Message: message,
		Data:    responseData(resp),
		View:    refresh,
	}
	tasks, err := v.ListTasks(ctx, session, refresh)
	if err != nil {
		v.logger.Warn("task list refresh failed after mutation",
			slog.String("action", action),
			slog.String("task_id", taskID),
			slog.String("error", err.Error()),
		)
		result.RefreshError = refreshErrorMessage(err)
		var apiErr *model.APIError
		if errors.As(err, &apiErr) && apiErr.Code == model.ErrCodeUnauthorized {
			// 操作は確定済み。結果を添えたまま認証切れを呼び出し元に伝える
			return result, err
		}
		return result, nil
	}
	result.Tasks = tasks
	return result, nil
}

// refreshErrorMessage は再取得エラーを画面向けのメッセージに変換する。
func refreshErrorMessage(err error) string {
	var apiErr *model.APIError
	if errors.As(err, &apiErr) {
		return apiErr.Message
	}
	return "Failed to fetch tasks"
}
