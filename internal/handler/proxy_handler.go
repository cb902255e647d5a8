package handler

import (
	"context"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/hitoshi/approvalportal/internal/auth"
	"github.com/hitoshi/approvalportal/internal/backend"
	"github.com/hitoshi/approvalportal/internal/proxy"
	"github.com/hitoshi/approvalportal/internal/workflow"
)

// maxProxyBodySize はプロキシが受け付けるリクエストボディの最大サイズ。
const maxProxyBodySize = 1 << 20

// ProxyBackend はプロキシが使うバックエンドクライアントのインターフェース。
type ProxyBackend interface {
	Do(ctx context.Context, r backend.Request) (*backend.Response, error)
}

// TokenSource はリクエストのセッションからトークンを取得する関数を返す。
// auth.TokenStoreが実装する。
type TokenSource interface {
	Getter(ctx context.Context) func() (string, bool)
}

// ProxyHandler はワークフローバックエンドへの同一オリジンのプロキシ。
// 1リクエストにつき1回だけ呼び出し、結果を固定のエンベロープに変換する。
type ProxyHandler struct {
	backend    ProxyBackend
	tokens     TokenSource
	signOut    SignOutCoordinator
	templateID string
}

// NewProxyHandler はProxyHandlerを生成する。
func NewProxyHandler(b ProxyBackend, tokens TokenSource, signOut SignOutCoordinator, templateID string) *ProxyHandler {
	return &ProxyHandler{
		backend:    b,
		tokens:     tokens,
		signOut:    signOut,
		templateID: templateID,
	}
}

// header は受信したBearerトークンを転送し、なければセッションのトークンを使う。
func (h *ProxyHandler) header(r *http.Request) http.Header {
	token, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer ")
	if !ok {
		token = ""
	}
	var getter backend.TokenGetter
	if h.tokens != nil {
		getter = h.tokens.Getter(r.Context())
	}
	return backend.BuildHeaders(strings.TrimSpace(token), getter)
}

func readBody(w http.ResponseWriter, r *http.Request) ([]byte, error) {
	if r.Body == nil {
		return nil, nil
	}
	return io.ReadAll(http.MaxBytesReader(w, r.Body, maxProxyBodySize))
}

// forward はバックエンドを呼び出して結果を書き込む。
// 401の場合はサインアウトを実行し、ログアウトURLを付けて返す。
func (h *ProxyHandler) forward(w http.ResponseWriter, r *http.Request, ep proxy.Endpoint, req backend.Request) {
	resp, err := h.backend.Do(r.Context(), req)
	res := proxy.Translate(ep, resp, err)
	if res.Unauthorized && h.signOut != nil {
		out := h.signOut.SignOut(r.Context(), w, auth.SessionFromContext(r.Context()))
		res = res.WithLogoutURL(out.LogoutURL)
	}
	res.Write(w)
}

// Apply は申請フォームをバックエンドのフォーム送信APIへ転送する。
// POST /api/apply
func (h *ProxyHandler) Apply(w http.ResponseWriter, r *http.Request) {
	body, err := readBody(w, r)
	if err != nil {
		proxy.Translate(proxy.ApplySubmit, nil, err).Write(w)
		return
	}
	h.forward(w, r, proxy.ApplySubmit, workflow.SubmissionRequest(h.templateID, h.header(r), body))
}

// ListTemplates はGET /api/form-templatesを転送する。
func (h *ProxyHandler) ListTemplates(w http.ResponseWriter, r *http.Request) {
	h.forward(w, r, proxy.TemplateList, backend.Request{
		Operation: "list_form_templates",
		Method:    http.MethodGet,
		Path:      "/api/form-templates",
		Header:    h.header(r),
	})
}

// CreateTemplate はPOST /api/form-templatesを転送する。
func (h *ProxyHandler) CreateTemplate(w http.ResponseWriter, r *http.Request) {
	body, err := readBody(w, r)
	if err != nil {
		proxy.Translate(proxy.TemplateCreate, nil, err).Write(w)
		return
	}
	h.forward(w, r, proxy.TemplateCreate, backend.Request{
		Operation: "create_form_template",
		Method:    http.MethodPost,
		Path:      "/api/form-templates",
		Header:    h.header(r),
		Body:      body,
	})
}

// templateItem はGET|PUT|DELETE /api/form-templates/{id}を転送する。
func (h *ProxyHandler) templateItem(ep proxy.Endpoint, op, method string, withBody bool) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
		if err != nil {
			writeJSON(w, http.StatusNotFound, map[string]string{"error": ep.NotFound + " not found"})
			return
		}
		var body []byte
		if withBody {
			if body, err = readBody(w, r); err != nil {
				proxy.Translate(ep, nil, err).Write(w)
				return
			}
		}
		h.forward(w, r, ep, backend.Request{
			Operation: op,
			Method:    method,
			Path:      "/api/form-templates/" + strconv.FormatInt(id, 10),
			Header:    h.header(r),
			Body:      body,
		})
	}
}

// GetTemplate はGET /api/form-templates/{id}を転送する。
func (h *ProxyHandler) GetTemplate(w http.ResponseWriter, r *http.Request) {
	h.templateItem(proxy.TemplateGet, "get_form_template", http.MethodGet, false)(w, r)
}

// UpdateTemplate はPUT /api/form-templates/{id}を転送する。
func (h *ProxyHandler) UpdateTemplate(w http.ResponseWriter, r *http.Request) {
	h.templateItem(proxy.TemplateUpdate, "update_form_template", http.MethodPut, true)(w, r)
}

// DeleteTemplate はDELETE /api/form-templates/{id}を転送する。
func (h *ProxyHandler) DeleteTemplate(w http.ResponseWriter, r *http.Request) {
	h.templateItem(proxy.TemplateDelete, "delete_form_template", http.MethodDelete, false)(w, r)
}

func (h *ProxyHandler) simpleGet(ep proxy.Endpoint, op, path string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		h.forward(w, r, ep, backend.Request{
			Operation: op,
			Method:    http.MethodGet,
			Path:      path,
			Header:    h.header(r),
		})
	}
}

// UnassignedTasks はGET /api/workflow-instances/tasksを転送する。
func (h *ProxyHandler) UnassignedTasks(w http.ResponseWriter, r *http.Request) {
	h.simpleGet(proxy.TasksUnassigned, "list_unassigned_tasks", "/api/workflow-instances/tasks")(w, r)
}

// AssignedTasks はGET /api/workflow-instances/assignedtasksを転送する。
func (h *ProxyHandler) AssignedTasks(w http.ResponseWriter, r *http.Request) {
	h.simpleGet(proxy.TasksAssigned, "list_assigned_tasks", "/api/workflow-instances/assignedtasks")(w, r)
}

// UserTasks はGET /api/user/tasksを転送する。
func (h *ProxyHandler) UserTasks(w http.ResponseWriter, r *http.Request) {
	h.simpleGet(proxy.UserTasks, "list_user_tasks", "/api/user/tasks")(w, r)
}

func (h *ProxyHandler) taskAction(ep proxy.Endpoint, op, prefix string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		body, err := readBody(w, r)
		if err != nil {
			proxy.Translate(ep, nil, err).Write(w)
			return
		}
		if len(body) == 0 {
			body = nil
		}
		h.forward(w, r, ep, backend.Request{
			Operation: op,
			Method:    http.MethodPost,
			Path:      prefix + url.PathEscape(chi.URLParam(r, "id")),
			Header:    h.header(r),
			Body:      body,
		})
	}
}

// ApproveTask はPOST /api/workflow-instances/approve/{id}を転送する。
func (h *ProxyHandler) ApproveTask(w http.ResponseWriter, r *http.Request) {
	h.taskAction(proxy.TaskApprove, "approve_task", "/api/workflow-instances/approve/")(w, r)
}

// AssignTask はPOST /api/workflow-instances/assign/{id}を転送する。
func (h *ProxyHandler) AssignTask(w http.ResponseWriter, r *http.Request) {
	h.taskAction(proxy.TaskAssign, "assign_task", "/api/workflow-instances/assign/")(w, r)
}
