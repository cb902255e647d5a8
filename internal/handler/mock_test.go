package handler

import (
	"context"
	"net/http"
	"testing"

	"github.com/golang-jwt/jwt/v5"

	"github.com/hitoshi/approvalportal/internal/auth"
	"github.com/hitoshi/approvalportal/internal/backend"
	"github.com/hitoshi/approvalportal/internal/model"
	"github.com/hitoshi/approvalportal/internal/signout"
	"github.com/hitoshi/approvalportal/internal/workflow"
)

// --- モック定義 ---

type mockAuthService struct {
	getLoginURLFn       func(state string) string
	handleCallbackFn    func(ctx context.Context, code string) (*model.Session, error)
	loginWithPasswordFn func(ctx context.Context, username, password string) (*auth.PasswordGrantResult, *model.Session, error)
}

func (m *mockAuthService) GetLoginURL(state string) string {
	if m.getLoginURLFn != nil {
		return m.getLoginURLFn(state)
	}
	return ""
}

func (m *mockAuthService) HandleCallback(ctx context.Context, code string) (*model.Session, error) {
	if m.handleCallbackFn != nil {
		return m.handleCallbackFn(ctx, code)
	}
	return nil, nil
}

func (m *mockAuthService) LoginWithPassword(ctx context.Context, username, password string) (*auth.PasswordGrantResult, *model.Session, error) {
	if m.loginWithPasswordFn != nil {
		return m.loginWithPasswordFn(ctx, username, password)
	}
	return nil, nil, nil
}

type mockSignOut struct {
	calls     int
	session   *model.Session
	logoutURL string
}

func (m *mockSignOut) SignOut(_ context.Context, w http.ResponseWriter, session *model.Session) signout.Result {
	m.calls++
	m.session = session
	if w != nil {
		w.Header().Set("Clear-Site-Data", `"cookies"`)
	}
	return signout.Result{LogoutURL: m.logoutURL, RemoteTerminated: m.logoutURL != ""}
}

type mockBackend struct {
	doFn     func(ctx context.Context, r backend.Request) (*backend.Response, error)
	requests []backend.Request
}

func (m *mockBackend) Do(ctx context.Context, r backend.Request) (*backend.Response, error) {
	m.requests = append(m.requests, r)
	if m.doFn != nil {
		return m.doFn(ctx, r)
	}
	return &backend.Response{StatusCode: http.StatusOK, ContentType: "application/json", Body: []byte(`[]`)}, nil
}

type mockTokenSource struct {
	token string
}

func (m *mockTokenSource) Getter(context.Context) func() (string, bool) {
	return func() (string, bool) { return m.token, m.token != "" }
}

type mockTaskView struct {
	config      workflow.TaskViewConfig
	listTasksFn func(ctx context.Context, session *model.Session, kind model.TaskListKind) ([]model.TaskItem, error)
	approveFn   func(ctx context.Context, session *model.Session, taskID string, refresh model.TaskListKind) (*workflow.MutationResult, error)
	assignFn    func(ctx context.Context, session *model.Session, taskID string, refresh model.TaskListKind) (*workflow.MutationResult, error)
}

func (m *mockTaskView) Config() workflow.TaskViewConfig { return m.config }

func (m *mockTaskView) ListTasks(ctx context.Context, session *model.Session, kind model.TaskListKind) ([]model.TaskItem, error) {
	if m.listTasksFn != nil {
		return m.listTasksFn(ctx, session, kind)
	}
	return nil, nil
}

func (m *mockTaskView) Approve(ctx context.Context, session *model.Session, taskID string, refresh model.TaskListKind) (*workflow.MutationResult, error) {
	if m.approveFn != nil {
		return m.approveFn(ctx, session, taskID, refresh)
	}
	return nil, nil
}

func (m *mockTaskView) Assign(ctx context.Context, session *model.Session, taskID string, refresh model.TaskListKind) (*workflow.MutationResult, error) {
	if m.assignFn != nil {
		return m.assignFn(ctx, session, taskID, refresh)
	}
	return nil, nil
}

type mockApplications struct {
	submitFn  func(ctx context.Context, session *model.Session, app model.Application) (*workflow.SubmitResult, error)
	listOwnFn func(ctx context.Context, session *model.Session) ([]model.TaskItem, error)
}

func (m *mockApplications) Submit(ctx context.Context, session *model.Session, app model.Application) (*workflow.SubmitResult, error) {
	if m.submitFn != nil {
		return m.submitFn(ctx, session, app)
	}
	return nil, nil
}

func (m *mockApplications) ListOwn(ctx context.Context, session *model.Session) ([]model.TaskItem, error) {
	if m.listOwnFn != nil {
		return m.listOwnFn(ctx, session)
	}
	return nil, nil
}

type mockTemplates struct {
	listFn   func(ctx context.Context, session *model.Session) ([]model.FormTemplate, error)
	getFn    func(ctx context.Context, session *model.Session, id int64) (*model.FormTemplate, error)
	createFn func(ctx context.Context, session *model.Session, input model.FormTemplateInput) (*model.FormTemplate, error)
	updateFn func(ctx context.Context, session *model.Session, id int64, input model.FormTemplateInput) (*model.FormTemplate, error)
	deleteFn func(ctx context.Context, session *model.Session, id int64) error
}

func (m *mockTemplates) List(ctx context.Context, session *model.Session) ([]model.FormTemplate, error) {
	if m.listFn != nil {
		return m.listFn(ctx, session)
	}
	return nil, nil
}

func (m *mockTemplates) Get(ctx context.Context, session *model.Session, id int64) (*model.FormTemplate, error) {
	if m.getFn != nil {
		return m.getFn(ctx, session, id)
	}
	return nil, nil
}

func (m *mockTemplates) Create(ctx context.Context, session *model.Session, input model.FormTemplateInput) (*model.FormTemplate, error) {
	if m.createFn != nil {
		return m.createFn(ctx, session, input)
	}
	return nil, nil
}

func (m *mockTemplates) Update(ctx context.Context, session *model.Session, id int64, input model.FormTemplateInput) (*model.FormTemplate, error) {
	if m.updateFn != nil {
		return m.updateFn(ctx, session, id, input)
	}
	return nil, nil
}

func (m *mockTemplates) Delete(ctx context.Context, session *model.Session, id int64) error {
	if m.deleteFn != nil {
		return m.deleteFn(ctx, session, id)
	}
	return nil
}

type mockSessionLoader struct {
	sessions map[string]*model.Session
}

func (m *mockSessionLoader) CurrentSession(_ context.Context, sessionID string) (*model.Session, error) {
	if s, ok := m.sessions[sessionID]; ok {
		return s, nil
	}
	return nil, nil
}

// --- ヘルパー ---

// tokenWithRoles はrealm_access.rolesを持つ未検証のアクセストークンを生成する。
func tokenWithRoles(t *testing.T, roles ...string) string {
	t.Helper()
	claims := jwt.MapClaims{
		"sub":          "user-1",
		"realm_access": map[string]any{"roles": roles},
	}
	tok, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte("test-key"))
	if err != nil {
		t.Fatalf("failed to sign token: %v", err)
	}
	return tok
}

// sessionWithRoles は指定ロールのアクセストークンを持つセッションを返す。
func sessionWithRoles(t *testing.T, roles ...string) *model.Session {
	t.Helper()
	return &model.Session{
		ID:          "session-1",
		Subject:     "user-1",
		AccessToken: tokenWithRoles(t, roles...),
		IDToken:     "id-token",
	}
}

// withSession はリクエストコンテキストにセッションを注入する。
func withSession(r *http.Request, session *model.Session) *http.Request {
	return r.WithContext(auth.ContextWithSession(r.Context(), session))
}
