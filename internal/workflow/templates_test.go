package workflow

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hitoshi/approvalportal/internal/backend"
	"github.com/hitoshi/approvalportal/internal/model"
	"github.com/hitoshi/approvalportal/internal/security"
)

// fakeTemplateBackend はフォームテンプレートAPIのインメモリ実装。
type fakeTemplateBackend struct {
	mu        sync.Mutex
	nextID    int64
	templates map[int64]model.FormTemplate
}

func newFakeTemplateBackend() *httptest.Server {
	f := &fakeTemplateBackend{nextID: 1, templates: map[int64]model.FormTemplate{}}
	return httptest.NewServer(f)
}

func (f *fakeTemplateBackend) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Header.Get("Authorization") != "Bearer token-abc" {
		w.WriteHeader(http.StatusUnauthorized)
		return
	}
	f.mu.Lock()
	defer f.mu.Unlock()

	w.Header().Set("Content-Type", "application/json")
	rest := strings.TrimPrefix(r.URL.Path, "/api/form-templates")
	if rest == "" {
		switch r.Method {
		case http.MethodGet:
			list := make([]model.FormTemplate, 0, len(f.templates))
			for i := int64(1); i < f.nextID; i++ {
				if t, ok := f.templates[i]; ok {
					list = append(list, t)
				}
			}
			json.NewEncoder(w).Encode(list)
		case http.MethodPost:
			var t model.FormTemplate
			body, _ := io.ReadAll(r.Body)
			json.Unmarshal(body, &t)
			id := f.nextID
			f.nextID++
			t.ID = &id
			f.templates[id] = t
			w.WriteHeader(http.StatusCreated)
			json.NewEncoder(w).Encode(t)
		}
		return
	}

	id, err := strconv.ParseInt(strings.TrimPrefix(rest, "/"), 10, 64)
	t, ok := f.templates[id]
	if err != nil || !ok {
		w.WriteHeader(http.StatusNotFound)
		return
	}
	switch r.Method {
	case http.MethodGet:
		json.NewEncoder(w).Encode(t)
	case http.MethodPut:
		var upd model.FormTemplate
		body, _ := io.ReadAll(r.Body)
		json.Unmarshal(body, &upd)
		upd.ID = &id
		f.templates[id] = upd
		json.NewEncoder(w).Encode(upd)
	case http.MethodDelete:
		delete(f.templates, id)
		w.WriteHeader(http.StatusNoContent)
	}
}

func newTemplateServiceFor(t *testing.T) *TemplateService {
	t.Helper()
	srv := newFakeTemplateBackend()
	t.Cleanup(srv.Close)
	client := backend.NewClient(srv.URL, srv.Client(), discardLogger(), nil)
	return NewTemplateService(client, security.NewTitleSanitizer(), discardLogger())
}

func TestTemplateService_RoundTrip(t *testing.T) {
	svc := newTemplateServiceFor(t)
	ctx := context.Background()

	created, err := svc.Create(ctx, testSession, model.FormTemplateInput{
		Title:      "<b>Leave</b> request",
		SchemaJSON: `{ "type": "object", "properties": { "days": { "type": "number" } } }`,
	})
	require.NoError(t, err)
	require.NotNil(t, created.ID)
	assert.Equal(t, "Leave request", created.Title)
	assert.JSONEq(t, `{"type":"object","properties":{"days":{"type":"number"}}}`, string(created.SchemaJSON))

	list, err := svc.List(ctx, testSession)
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, "Leave request", list[0].Title)

	updated, err := svc.Update(ctx, testSession, *created.ID, model.FormTemplateInput{
		Title:      "Leave request v2",
		SchemaJSON: `{"type":"object"}`,
	})
	require.NoError(t, err)
	assert.Equal(t, "Leave request v2", updated.Title)

	got, err := svc.Get(ctx, testSession, *created.ID)
	require.NoError(t, err)
	assert.Equal(t, "Leave request v2", got.Title)

	require.NoError(t, svc.Delete(ctx, testSession, *created.ID))

	_, err = svc.Get(ctx, testSession, *created.ID)
	assertAPIErrorCode(t, err, model.ErrCodeTemplateNotFound)

	list, err = svc.List(ctx, testSession)
	require.NoError(t, err)
	assert.Empty(t, list)
}

func TestTemplateService_InvalidSchema(t *testing.T) {
	svc := newTemplateServiceFor(t)

	for _, schema := range []string{`{not json`, ``, `[1,2]`, `"text"`, `null`} {
		_, err := svc.Create(context.Background(), testSession, model.FormTemplateInput{Title: "T", SchemaJSON: schema})
		var apiErr *model.APIError
		require.ErrorAs(t, err, &apiErr, schema)
		assert.Equal(t, "Invalid JSON schema format", apiErr.Message, schema)
	}
}

func TestTemplateService_EmptyTitleAfterSanitize(t *testing.T) {
	svc := newTemplateServiceFor(t)

	_, err := svc.Create(context.Background(), testSession, model.FormTemplateInput{Title: "<script>x</script>", SchemaJSON: `{}`})
	assertAPIErrorCode(t, err, model.ErrCodeInvalidTemplate)
}

func TestTemplateService_UpdateMissing(t *testing.T) {
	svc := newTemplateServiceFor(t)

	_, err := svc.Update(context.Background(), testSession, 99, model.FormTemplateInput{Title: "T", SchemaJSON: `{}`})
	assertAPIErrorCode(t, err, model.ErrCodeTemplateNotFound)
}

func TestTemplateService_Unauthorized(t *testing.T) {
	svc := newTemplateServiceFor(t)

	_, err := svc.List(context.Background(), &model.Session{ID: "s", AccessToken: "stale"})
	assertAPIErrorCode(t, err, model.ErrCodeUnauthorized)
}
