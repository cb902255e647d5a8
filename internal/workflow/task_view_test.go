package workflow

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hitoshi/approvalportal/internal/backend"
	"github.com/hitoshi/approvalportal/internal/metrics"
	"github.com/hitoshi/approvalportal/internal/model"
	"github.com/hitoshi/approvalportal/internal/role"
)

type duplicateRecorder struct {
	metrics.Nop
	*countingMetrics
}

func (d duplicateRecorder) RecordDuplicateMutation(action string) {
	d.countingMetrics.RecordDuplicateMutation(action)
}

var testSession = &model.Session{ID: "sess-1", AccessToken: "token-abc"}

func newManagerView(b Backend) *TaskView {
	return NewTaskView(TaskViewConfigs()[role.Manager], b, discardLogger(), nil)
}

func assertAPIErrorCode(t *testing.T, err error, code string) {
	t.Helper()
	var apiErr *model.APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, code, apiErr.Code)
}

func TestTaskViewConfigs_ApprovePayloadPerRole(t *testing.T) {
	configs := TaskViewConfigs()
	assert.Equal(t, map[string]bool{"Manager": true}, configs[role.Manager].ApprovePayload)
	assert.Equal(t, map[string]bool{"HR": true}, configs[role.HR].ApprovePayload)
	assert.Equal(t, map[string]bool{"Employee": true}, configs[role.Employee].ApprovePayload)
	_, hasUser := configs[role.User]
	assert.False(t, hasUser)
}

func TestCapabilities(t *testing.T) {
	assert.ElementsMatch(t, []Capability{CapabilitySubmitForm, CapabilityListOwn}, Capabilities(role.User))
	assert.ElementsMatch(t, []Capability{CapabilityManageTemplates}, Capabilities(role.Head))
	assert.Contains(t, Capabilities(role.HR), CapabilityApprove)
	assert.Nil(t, Capabilities(role.Role("Guest")))
}

func TestTaskView_ListTasks_UsesEndpointAndToken(t *testing.T) {
	b := &mockBackend{doFn: func(_ context.Context, r backend.Request) (*backend.Response, error) {
		return jsonResponse(200, `[{"id":"t1","name":"Leave"}]`), nil
	}}
	v := newManagerView(b)

	tasks, err := v.ListTasks(context.Background(), testSession, model.TaskListUnassigned)
	require.NoError(t, err)

	require.Len(t, b.calls(), 1)
	req := b.calls()[0]
	assert.Equal(t, http.MethodGet, req.Method)
	assert.Equal(t, "/api/workflow-instances/tasks", req.Path)
	assert.Equal(t, "Bearer token-abc", req.Header.Get("Authorization"))
	assert.Equal(t, []model.TaskItem{{ID: "t1", Name: "Leave", Status: "Unassigned", ProcessInstanceID: "N/A"}}, tasks)
}

func TestTaskView_ListTasks_Assigned(t *testing.T) {
	b := &mockBackend{}
	v := newManagerView(b)

	_, err := v.ListTasks(context.Background(), testSession, model.TaskListAssigned)
	require.NoError(t, err)
	assert.Equal(t, "/api/workflow-instances/assignedtasks", b.calls()[0].Path)
}

func TestTaskView_ListTasks_Errors(t *testing.T) {
	tests := []struct {
		name string
		resp *backend.Response
		err  error
		code string
	}{
		{"unauthorized", jsonResponse(401, `{}`), nil, model.ErrCodeUnauthorized},
		{"forbidden", jsonResponse(403, `{}`), nil, model.ErrCodeForbidden},
		{"server error", jsonResponse(500, `{}`), nil, model.ErrCodeBackendFailed},
		{"transport", nil, errors.New("connection refused"), model.ErrCodeBackendFailed},
		{"not an array", jsonResponse(200, `{"oops":true}`), nil, model.ErrCodeBackendFailed},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			b := &mockBackend{doFn: func(context.Context, backend.Request) (*backend.Response, error) {
				return tt.resp, tt.err
			}}
			_, err := newManagerView(b).ListTasks(context.Background(), testSession, model.TaskListAssigned)
			assertAPIErrorCode(t, err, tt.code)
		})
	}
}

func TestTaskView_ListTasks_UnknownKind(t *testing.T) {
	_, err := newManagerView(&mockBackend{}).ListTasks(context.Background(), testSession, model.TaskListKind("archived"))
	assertAPIErrorCode(t, err, model.ErrCodeInvalidTaskList)
}

func TestTaskView_Approve_SendsRoleFlagAndRefreshes(t *testing.T) {
	b := &mockBackend{doFn: func(_ context.Context, r backend.Request) (*backend.Response, error) {
		if r.Method == http.MethodPost {
			return &backend.Response{StatusCode: 200, ContentType: "text/plain", Body: []byte("approved")}, nil
		}
		return jsonResponse(200, `[{"id":"t2","name":"Next"}]`), nil
	}}
	v := newManagerView(b)

	res, err := v.Approve(context.Background(), testSession, "42", model.TaskListAssigned)
	require.NoError(t, err)

	calls := b.calls()
	require.Len(t, calls, 2)
	assert.Equal(t, "/api/workflow-instances/approve/42", calls[0].Path)
	assert.JSONEq(t, `{"Manager":true}`, string(calls[0].Body))
	assert.Equal(t, "/api/workflow-instances/assignedtasks", calls[1].Path, "list re-fetched after the mutation")

	assert.Equal(t, MsgTaskApproved, res.Message)
	assert.Equal(t, "approved", res.Data)
	assert.Equal(t, model.TaskListAssigned, res.View)
	require.Len(t, res.Tasks, 1)
	assert.Equal(t, "t2", res.Tasks[0].ID)
}

func TestTaskView_Approve42Unauthorized_NoRefresh(t *testing.T) {
	b := &mockBackend{doFn: func(context.Context, backend.Request) (*backend.Response, error) {
		return jsonResponse(401, `{"error":"token expired"}`), nil
	}}
	v := newManagerView(b)

	res, err := v.Approve(context.Background(), testSession, "42", model.TaskListAssigned)

	assert.Nil(t, res)
	assertAPIErrorCode(t, err, model.ErrCodeUnauthorized)
	assert.Len(t, b.calls(), 1, "no re-fetch after a rejected mutation")
}

func TestTaskView_Approve_FailureUsesBackendMessage(t *testing.T) {
	b := &mockBackend{doFn: func(context.Context, backend.Request) (*backend.Response, error) {
		return jsonResponse(409, `{"message":"Task already completed"}`), nil
	}}

	_, err := newManagerView(b).Approve(context.Background(), testSession, "7", model.TaskListAssigned)

	var apiErr *model.APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, model.ErrCodeBackendFailed, apiErr.Code)
	assert.Equal(t, "Task already completed", apiErr.Message)
}

func TestTaskView_Assign_NoBody(t *testing.T) {
	b := &mockBackend{}
	v := NewTaskView(TaskViewConfigs()[role.HR], b, discardLogger(), nil)

	res, err := v.Assign(context.Background(), testSession, "9", model.TaskListUnassigned)
	require.NoError(t, err)

	calls := b.calls()
	require.Len(t, calls, 2)
	assert.Equal(t, "/api/workflow-instances/assign/9", calls[0].Path)
	assert.Nil(t, calls[0].Body)
	assert.Equal(t, "/api/workflow-instances/tasks", calls[1].Path)
	assert.Equal(t, MsgTaskAssigned, res.Message)
}

func TestTaskView_UnsupportedCapability(t *testing.T) {
	cfg := TaskViewConfigs()[role.Employee]
	cfg.Capabilities = []Capability{CapabilityListAssigned}
	v := NewTaskView(cfg, &mockBackend{}, discardLogger(), nil)

	_, err := v.Approve(context.Background(), testSession, "1", model.TaskListAssigned)
	assertAPIErrorCode(t, err, model.ErrCodeUnsupportedCapability)

	_, err = v.ListTasks(context.Background(), testSession, model.TaskListUnassigned)
	assertAPIErrorCode(t, err, model.ErrCodeUnsupportedCapability)
}

func TestTaskView_ConcurrentDuplicateApprovesCollapse(t *testing.T) {
	release := make(chan struct{})
	var mu sync.Mutex
	posts := 0
	b := &mockBackend{doFn: func(_ context.Context, r backend.Request) (*backend.Response, error) {
		if r.Method == http.MethodPost {
			mu.Lock()
			posts++
			mu.Unlock()
			<-release
			return jsonResponse(200, `{}`), nil
		}
		return jsonResponse(200, `[]`), nil
	}}
	counter := &countingMetrics{}
	v := NewTaskView(TaskViewConfigs()[role.Manager], b, discardLogger(), duplicateRecorder{countingMetrics: counter})

	var wg sync.WaitGroup
	errs := make([]error, 2)
	for i := range 2 {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = v.Approve(context.Background(), testSession, "42", model.TaskListAssigned)
		}(i)
	}

	// 2つ目の呼び出しがsingleflightに合流するまで待つ
	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return posts == 1
	}, time.Second, 5*time.Millisecond)
	time.Sleep(50 * time.Millisecond)
	close(release)
	wg.Wait()

	require.NoError(t, errs[0])
	require.NoError(t, errs[1])
	mu.Lock()
	assert.Equal(t, 1, posts)
	mu.Unlock()
	assert.Positive(t, counter.count(ActionApprove))
}

func TestTaskView_Approve_RefreshFailureKeepsAcknowledgement(t *testing.T) {
	b := &mockBackend{doFn: func(_ context.Context, r backend.Request) (*backend.Response, error) {
		if r.Method == http.MethodPost {
			return jsonResponse(200, `{}`), nil
		}
		return jsonResponse(500, `{"message":"boom"}`), nil
	}}

	res, err := newManagerView(b).Approve(context.Background(), testSession, "42", model.TaskListAssigned)

	require.NoError(t, err, "a committed approval must not be reported as failed")
	require.NotNil(t, res)
	assert.Equal(t, MsgTaskApproved, res.Message)
	assert.Nil(t, res.Tasks)
	assert.NotEmpty(t, res.RefreshError)
	assert.Len(t, b.calls(), 2)
}

func TestTaskView_Approve_RefreshUnauthorizedReturnsResultAndError(t *testing.T) {
	b := &mockBackend{doFn: func(_ context.Context, r backend.Request) (*backend.Response, error) {
		if r.Method == http.MethodPost {
			return jsonResponse(200, `{}`), nil
		}
		return jsonResponse(401, `{}`), nil
	}}

	res, err := newManagerView(b).Approve(context.Background(), testSession, "42", model.TaskListAssigned)

	assertAPIErrorCode(t, err, model.ErrCodeUnauthorized)
	require.NotNil(t, res)
	assert.Equal(t, MsgTaskApproved, res.Message)
	assert.Nil(t, res.Tasks)
}

func TestTaskView_CollapsedCallerSurvivesFirstCallerCancel(t *testing.T) {
	release := make(chan struct{})
	var mu sync.Mutex
	posts := 0
	var postCtxErr error
	b := &mockBackend{doFn: func(ctx context.Context, r backend.Request) (*backend.Response, error) {
		if r.Method == http.MethodPost {
			mu.Lock()
			posts++
			mu.Unlock()
			<-release
			mu.Lock()
			postCtxErr = ctx.Err()
			mu.Unlock()
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			return jsonResponse(200, `{}`), nil
		}
		return jsonResponse(200, `[]`), nil
	}}
	v := newManagerView(b)

	firstCtx, cancelFirst := context.WithCancel(context.Background())
	firstErr := make(chan error, 1)
	go func() {
		_, err := v.Approve(firstCtx, testSession, "42", model.TaskListAssigned)
		firstErr <- err
	}()
	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return posts == 1
	}, time.Second, 5*time.Millisecond)

	secondErr := make(chan error, 1)
	var secondRes *MutationResult
	go func() {
		res, err := v.Approve(context.Background(), testSession, "42", model.TaskListAssigned)
		secondRes = res
		secondErr <- err
	}()
	time.Sleep(50 * time.Millisecond)

	cancelFirst()
	select {
	case err := <-firstErr:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(time.Second):
		t.Fatal("first caller did not return after its context was cancelled")
	}

	close(release)
	require.NoError(t, <-secondErr)
	require.NotNil(t, secondRes)
	assert.Equal(t, MsgTaskApproved, secondRes.Message)

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, 1, posts)
	assert.NoError(t, postCtxErr, "shared backend call must not inherit the first caller's cancellation")
}
