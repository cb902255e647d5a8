package handler

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/hitoshi/approvalportal/internal/auth"
	"github.com/hitoshi/approvalportal/internal/middleware"
	"github.com/hitoshi/approvalportal/internal/model"
	"github.com/hitoshi/approvalportal/internal/role"
	"github.com/hitoshi/approvalportal/internal/workflow"
)

// maxFormBodySize は画面から受け付けるフォーム入力の最大サイズ。
const maxFormBodySize = 64 << 10

// TaskViewService はタスク画面のサービスインターフェース。
type TaskViewService interface {
	Config() workflow.TaskViewConfig
	ListTasks(ctx context.Context, session *model.Session, kind model.TaskListKind) ([]model.TaskItem, error)
	Approve(ctx context.Context, session *model.Session, taskID string, refresh model.TaskListKind) (*workflow.MutationResult, error)
	Assign(ctx context.Context, session *model.Session, taskID string, refresh model.TaskListKind) (*workflow.MutationResult, error)
}

// ApplicationService はUser画面のサービスインターフェース。
type ApplicationService interface {
	Submit(ctx context.Context, session *model.Session, app model.Application) (*workflow.SubmitResult, error)
	ListOwn(ctx context.Context, session *model.Session) ([]model.TaskItem, error)
}

// TemplateServiceInterface はHead画面のサービスインターフェース。
type TemplateServiceInterface interface {
	List(ctx context.Context, session *model.Session) ([]model.FormTemplate, error)
	Get(ctx context.Context, session *model.Session, id int64) (*model.FormTemplate, error)
	Create(ctx context.Context, session *model.Session, input model.FormTemplateInput) (*model.FormTemplate, error)
	Update(ctx context.Context, session *model.Session, id int64, input model.FormTemplateInput) (*model.FormTemplate, error)
	Delete(ctx context.Context, session *model.Session, id int64) error
}

// ViewHandler はロール別画面のHTTPハンドラー。
type ViewHandler struct {
	taskViews    map[role.Role]TaskViewService
	applications ApplicationService
	templates    TemplateServiceInterface
	signOut      SignOutCoordinator
}

// NewViewHandler はViewHandlerを生成する。
func NewViewHandler(
	taskViews map[role.Role]TaskViewService,
	applications ApplicationService,
	templates TemplateServiceInterface,
	signOut SignOutCoordinator,
) *ViewHandler {
	return &ViewHandler{
		taskViews:    taskViews,
		applications: applications,
		templates:    templates,
		signOut:      signOut,
	}
}

type viewResponse struct {
	Role         role.Role             `json:"role"`
	Capabilities []workflow.Capability `json:"capabilities"`
}

// View は画面のロールと利用可能な操作を返す。
// GET /views/{role}
func (h *ViewHandler) View(w http.ResponseWriter, r *http.Request) {
	rl, _ := role.Parse(chi.URLParam(r, "role"))
	writeJSON(w, http.StatusOK, viewResponse{
		Role:         rl,
		Capabilities: workflow.Capabilities(rl),
	})
}

// taskView はURLのロールに対応するタスク画面を返す。
func (h *ViewHandler) taskView(w http.ResponseWriter, r *http.Request) (TaskViewService, bool) {
	rl, _ := role.Parse(chi.URLParam(r, "role"))
	v, ok := h.taskViews[rl]
	if !ok {
		middleware.WriteErrorResponse(w, http.StatusMethodNotAllowed,
			model.NewUnsupportedCapabilityError(string(rl), string(workflow.CapabilityListAssigned)))
		return nil, false
	}
	return v, true
}

// listKind はクエリパラメータviewからタスク一覧の種類を取得する。
func listKind(w http.ResponseWriter, r *http.Request) (model.TaskListKind, bool) {
	v := r.URL.Query().Get("view")
	kind, ok := model.ParseTaskListKind(v)
	if !ok {
		middleware.WriteErrorResponse(w, http.StatusBadRequest, model.NewInvalidTaskListError(v))
		return "", false
	}
	return kind, true
}

type taskListResponse struct {
	View  model.TaskListKind `json:"view"`
	Tasks []model.TaskItem   `json:"tasks"`
}

// ListTasks はタスク一覧を返す。
// GET /views/{role}/tasks?view=assigned|unassigned
func (h *ViewHandler) ListTasks(w http.ResponseWriter, r *http.Request) {
	v, ok := h.taskView(w, r)
	if !ok {
		return
	}
	kind, ok := listKind(w, r)
	if !ok {
		return
	}
	session := auth.SessionFromContext(r.Context())
	tasks, err := v.ListTasks(r.Context(), session, kind)
	if err != nil {
		handleServiceError(w, r, h.signOut, session, err)
		return
	}
	if tasks == nil {
		tasks = []model.TaskItem{}
	}
	writeJSON(w, http.StatusOK, taskListResponse{View: kind, Tasks: tasks})
}

// ApproveTask はタスクを承認する。
// POST /views/{role}/tasks/{id}/approve?view=
func (h *ViewHandler) ApproveTask(w http.ResponseWriter, r *http.Request) {
	h.mutateTask(w, r, TaskViewService.Approve)
}

// AssignTask はタスクを自分に割り当てる。
// POST /views/{role}/tasks/{id}/assign?view=
func (h *ViewHandler) AssignTask(w http.ResponseWriter, r *http.Request) {
	h.mutateTask(w, r, TaskViewService.Assign)
}

type taskMutation func(v TaskViewService, ctx context.Context, session *model.Session, taskID string, refresh model.TaskListKind) (*workflow.MutationResult, error)

func (h *ViewHandler) mutateTask(w http.ResponseWriter, r *http.Request, op taskMutation) {
	v, ok := h.taskView(w, r)
	if !ok {
		return
	}
	kind, ok := listKind(w, r)
	if !ok {
		return
	}
	session := auth.SessionFromContext(r.Context())
	result, err := op(v, r.Context(), session, chi.URLParam(r, "id"), kind)
	if err != nil && result != nil && h.signOut != nil {
		// 操作は確定済みで、一覧の再取得だけが認証切れになった
		res := h.signOut.SignOut(r.Context(), w, session)
		writeJSON(w, http.StatusUnauthorized, unauthorizedBody{
			Error:     model.MsgUnauthorized,
			Message:   result.Message,
			LogoutURL: res.LogoutURL,
		})
		return
	}
	if err != nil {
		handleServiceError(w, r, h.signOut, session, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

// SubmitApplication は申請フォームを送信する。
// POST /views/User/applications
func (h *ViewHandler) SubmitApplication(w http.ResponseWriter, r *http.Request) {
	var app model.Application
	if err := decodeBody(w, r, &app); err != nil {
		middleware.WriteErrorResponse(w, http.StatusBadRequest, model.NewInvalidSubmissionError("malformed request body"))
		return
	}
	session := auth.SessionFromContext(r.Context())
	result, err := h.applications.Submit(r.Context(), session, app)
	if err != nil {
		handleServiceError(w, r, h.signOut, session, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

// ListApplications はログインユーザー自身のタスク一覧を返す。
// GET /views/User/applications
func (h *ViewHandler) ListApplications(w http.ResponseWriter, r *http.Request) {
	session := auth.SessionFromContext(r.Context())
	tasks, err := h.applications.ListOwn(r.Context(), session)
	if err != nil {
		handleServiceError(w, r, h.signOut, session, err)
		return
	}
	if tasks == nil {
		tasks = []model.TaskItem{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"tasks": tasks})
}

// ListTemplates はテンプレート一覧を返す。
// GET /views/Head/templates
func (h *ViewHandler) ListTemplates(w http.ResponseWriter, r *http.Request) {
	session := auth.SessionFromContext(r.Context())
	templates, err := h.templates.List(r.Context(), session)
	if err != nil {
		handleServiceError(w, r, h.signOut, session, err)
		return
	}
	writeJSON(w, http.StatusOK, templates)
}

// CreateTemplate はテンプレートを作成する。
// POST /views/Head/templates
func (h *ViewHandler) CreateTemplate(w http.ResponseWriter, r *http.Request) {
	var input model.FormTemplateInput
	if err := decodeBody(w, r, &input); err != nil {
		middleware.WriteErrorResponse(w, http.StatusBadRequest, model.NewInvalidTemplateError("malformed request body"))
		return
	}
	session := auth.SessionFromContext(r.Context())
	t, err := h.templates.Create(r.Context(), session, input)
	if err != nil {
		handleServiceError(w, r, h.signOut, session, err)
		return
	}
	writeJSON(w, http.StatusCreated, t)
}

// templateID はURLパラメータidを数値として取得する。数値でない場合は404を書き込む。
func templateID(w http.ResponseWriter, r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		middleware.WriteErrorResponse(w, http.StatusNotFound, model.NewTemplateNotFoundError())
		return 0, false
	}
	return id, true
}

// GetTemplate はテンプレートを1件返す。
// GET /views/Head/templates/{id}
func (h *ViewHandler) GetTemplate(w http.ResponseWriter, r *http.Request) {
	id, ok := templateID(w, r)
	if !ok {
		return
	}
	session := auth.SessionFromContext(r.Context())
	t, err := h.templates.Get(r.Context(), session, id)
	if err != nil {
		handleServiceError(w, r, h.signOut, session, err)
		return
	}
	writeJSON(w, http.StatusOK, t)
}

// UpdateTemplate はテンプレートを更新する。
// PUT /views/Head/templates/{id}
func (h *ViewHandler) UpdateTemplate(w http.ResponseWriter, r *http.Request) {
	id, ok := templateID(w, r)
	if !ok {
		return
	}
	var input model.FormTemplateInput
	if err := decodeBody(w, r, &input); err != nil {
		middleware.WriteErrorResponse(w, http.StatusBadRequest, model.NewInvalidTemplateError("malformed request body"))
		return
	}
	session := auth.SessionFromContext(r.Context())
	t, err := h.templates.Update(r.Context(), session, id, input)
	if err != nil {
		handleServiceError(w, r, h.signOut, session, err)
		return
	}
	writeJSON(w, http.StatusOK, t)
}

// DeleteTemplate はテンプレートを削除する。
// DELETE /views/Head/templates/{id}
func (h *ViewHandler) DeleteTemplate(w http.ResponseWriter, r *http.Request) {
	id, ok := templateID(w, r)
	if !ok {
		return
	}
	session := auth.SessionFromContext(r.Context())
	if err := h.templates.Delete(r.Context(), session, id); err != nil {
		handleServiceError(w, r, h.signOut, session, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

var errEmptyBody = errors.New("empty request body")

func decodeBody(w http.ResponseWriter, r *http.Request, v any) error {
	if r.Body == nil {
		return errEmptyBody
	}
	return json.NewDecoder(http.MaxBytesReader(w, r.Body, maxFormBodySize)).Decode(v)
}
