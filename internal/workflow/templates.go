package workflow

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/hitoshi/approvalportal/internal/backend"
	"github.com/hitoshi/approvalportal/internal/model"
	"github.com/hitoshi/approvalportal/internal/security"
)

// maxTitleLength はテンプレートタイトルの最大文字数。
const maxTitleLength = 200

// TemplateService はHead画面のフォームテンプレート管理を提供する。
// テンプレートの正本はバックエンドが持ち、ここではキャッシュしない。
type TemplateService struct {
	backend   Backend
	sanitizer security.TitleSanitizer
	logger    *slog.Logger
}

// NewTemplateService はTemplateServiceを生成する。
func NewTemplateService(b Backend, sanitizer security.TitleSanitizer, logger *slog.Logger) *TemplateService {
	if logger == nil {
		logger = slog.Default()
	}
	return &TemplateService{
		backend:   b,
		sanitizer: sanitizer,
		logger:    logger.With(slog.String("role", "Head")),
	}
}

// ValidateSchema はユーザーが入力したJSON Schema文字列を検証する。
// JSONオブジェクトとして解析できない場合はInvalidSchemaエラーを返す。
func ValidateSchema(raw string) (json.RawMessage, error) {
	trimmed := bytes.TrimSpace([]byte(raw))
	var obj map[string]any
	if len(trimmed) == 0 || json.Unmarshal(trimmed, &obj) != nil || obj == nil {
		return nil, model.NewInvalidSchemaError()
	}
	var buf bytes.Buffer
	if err := json.Compact(&buf, trimmed); err != nil {
		return nil, model.NewInvalidSchemaError()
	}
	return buf.Bytes(), nil
}

// build は入力からバックエンドに送るテンプレートを組み立てる。
func (s *TemplateService) build(input model.FormTemplateInput) (*model.FormTemplate, error) {
	schema, err := ValidateSchema(input.SchemaJSON)
	if err != nil {
		return nil, err
	}
	title := s.sanitizer.Sanitize(input.Title)
	if title == "" {
		return nil, model.NewInvalidTemplateError("title is required")
	}
	if len([]rune(title)) > maxTitleLength {
		return nil, model.NewInvalidTemplateError(fmt.Sprintf("title must be at most %d characters", maxTitleLength))
	}
	return &model.FormTemplate{Title: title, SchemaJSON: schema}, nil
}

func templatePath(id int64) string {
	return pathFormTemplates + "/" + strconv.FormatInt(id, 10)
}

// do はテンプレートAPIを呼び出す。404はnotFoundがtrueの場合のみTemplateNotFoundに変換する。
func (s *TemplateService) do(ctx context.Context, session *model.Session, op, method, path string, body []byte, failure string, notFound bool) (*backend.Response, error) {
	resp, err := call(ctx, s.backend, s.logger, backend.Request{
		Operation: op,
		Method:    method,
		Path:      path,
		Header:    sessionHeader(session),
		Body:      body,
	}, failure)
	if err != nil && notFound && resp != nil && resp.StatusCode == http.StatusNotFound {
		return nil, model.NewTemplateNotFoundError()
	}
	return resp, err
}

func (s *TemplateService) decodeOne(resp *backend.Response, failure string) (*model.FormTemplate, error) {
	var t model.FormTemplate
	if err := json.Unmarshal(resp.Body, &t); err != nil {
		s.logger.Error("malformed form template", slog.String("error", err.Error()))
		return nil, model.NewBackendFailedError(failure)
	}
	return &t, nil
}

// List はテンプレート一覧を取得する。
func (s *TemplateService) List(ctx context.Context, session *model.Session) ([]model.FormTemplate, error) {
	const failure = "Failed to fetch templates"
	resp, err := s.do(ctx, session, "list_form_templates", http.MethodGet, pathFormTemplates, nil, failure, false)
	if err != nil {
		return nil, err
	}
	var templates []model.FormTemplate
	if err := json.Unmarshal(resp.Body, &templates); err != nil {
		s.logger.Error("malformed form template list", slog.String("error", err.Error()))
		return nil, model.NewBackendFailedError(failure)
	}
	if templates == nil {
		templates = []model.FormTemplate{}
	}
	return templates, nil
}

// Get はテンプレートを1件取得する。
func (s *TemplateService) Get(ctx context.Context, session *model.Session, id int64) (*model.FormTemplate, error) {
	const failure = "Failed to fetch template"
	resp, err := s.do(ctx, session, "get_form_template", http.MethodGet, templatePath(id), nil, failure, true)
	if err != nil {
		return nil, err
	}
	return s.decodeOne(resp, failure)
}

// Create はテンプレートを作成する。
func (s *TemplateService) Create(ctx context.Context, session *model.Session, input model.FormTemplateInput) (*model.FormTemplate, error) {
	const failure = "Failed to create template"
	t, err := s.build(input)
	if err != nil {
		return nil, err
	}
	body, err := json.Marshal(t)
	if err != nil {
		return nil, fmt.Errorf("failed to encode form template: %w", err)
	}
	resp, err := s.do(ctx, session, "create_form_template", http.MethodPost, pathFormTemplates, body, failure, false)
	if err != nil {
		return nil, err
	}
	s.logger.Info("form template created")
	return s.decodeOne(resp, failure)
}

// Update はテンプレートを更新する。
func (s *TemplateService) Update(ctx context.Context, session *model.Session, id int64, input model.FormTemplateInput) (*model.FormTemplate, error) {
	const failure = "Failed to update template"
	t, err := s.build(input)
	if err != nil {
		return nil, err
	}
	body, err := json.Marshal(t)
	if err != nil {
		return nil, fmt.Errorf("failed to encode form template: %w", err)
	}
	resp, err := s.do(ctx, session, "update_form_template", http.MethodPut, templatePath(id), body, failure, true)
	if err != nil {
		return nil, err
	}
	s.logger.Info("form template updated", slog.Int64("template_id", id))
	return s.decodeOne(resp, failure)
}

// Delete はテンプレートを削除する。
func (s *TemplateService) Delete(ctx context.Context, session *model.Session, id int64) error {
	if _, err := s.do(ctx, session, "delete_form_template", http.MethodDelete, templatePath(id), nil, "Failed to delete template", true); err != nil {
		return err
	}
	s.logger.Info("form template deleted", slog.Int64("template_id", id))
	return nil
}
