// Package model はドメインモデルを定義する。
package model

import "fmt"

// APIError は統一エラーフォーマットを表す。
// UIに表示する原因カテゴリと対処方法を含む。
type APIError struct {
	Code     string // エラーコード
	Message  string // エラーメッセージ
	Category string // カテゴリ: auth, validation, workflow, template, system
	Action   string // ユーザー向け対処方法
}

// Error はerrorインターフェースを実装する。
func (e *APIError) Error() string {
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// 定義済みエラーコード
const (
	ErrCodeUnauthorized          = "UNAUTHORIZED"
	ErrCodeForbidden             = "FORBIDDEN"
	ErrCodeNoRole                = "NO_ROLE"
	ErrCodeTemplateNotFound      = "TEMPLATE_NOT_FOUND"
	ErrCodeInvalidSchema         = "INVALID_SCHEMA"
	ErrCodeInvalidTemplate       = "INVALID_TEMPLATE"
	ErrCodeInvalidTaskList       = "INVALID_TASK_LIST"
	ErrCodeInvalidSubmission     = "INVALID_SUBMISSION"
	ErrCodeUnsupportedCapability = "UNSUPPORTED_CAPABILITY"
	ErrCodeBackendFailed         = "BACKEND_FAILED"
)

// 固定のエラーメッセージ。プロキシのエンベロープと画面の両方で使う。
const (
	MsgUnauthorized = "Unauthorized. Please log in again."
	MsgForbidden    = "Access forbidden. Please check your permissions."
)

// NewUnauthorizedError は認証切れエラーを生成する。
func NewUnauthorizedError() *APIError {
	return &APIError{
		Code:     ErrCodeUnauthorized,
		Message:  MsgUnauthorized,
		Category: "auth",
		Action:   "Sign in again to continue.",
	}
}

// NewForbiddenError は権限不足エラーを生成する。
func NewForbiddenError() *APIError {
	return &APIError{
		Code:     ErrCodeForbidden,
		Message:  MsgForbidden,
		Category: "auth",
		Action:   "Ask an administrator to grant the required role.",
	}
}

// NewNoRoleError はアカウントにどのロールも付与されていない場合のエラーを生成する。
func NewNoRoleError() *APIError {
	return &APIError{
		Code:     ErrCodeNoRole,
		Message:  "No role assigned to this account",
		Category: "auth",
		Action:   "Ask an administrator to assign one of User, Employee, Manager, HR or Head.",
	}
}

// NewTemplateNotFoundError はフォームテンプレートが見つからない場合のエラーを生成する。
func NewTemplateNotFoundError() *APIError {
	return &APIError{
		Code:     ErrCodeTemplateNotFound,
		Message:  "Template not found",
		Category: "template",
		Action:   "Reload the template list.",
	}
}

// NewInvalidSchemaError はJSON Schemaの解析に失敗した場合のエラーを生成する。
func NewInvalidSchemaError() *APIError {
	return &APIError{
		Code:     ErrCodeInvalidSchema,
		Message:  "Invalid JSON schema format",
		Category: "validation",
		Action:   "Enter the schema as a JSON object.",
	}
}

// NewInvalidTemplateError はテンプレート入力が不正な場合のエラーを生成する。
func NewInvalidTemplateError(reason string) *APIError {
	return &APIError{
		Code:     ErrCodeInvalidTemplate,
		Message:  fmt.Sprintf("Invalid template: %s", reason),
		Category: "validation",
		Action:   "Check the template title and schema.",
	}
}

// NewInvalidTaskListError は未知のタスク一覧種別が指定された場合のエラーを生成する。
func NewInvalidTaskListError(kind string) *APIError {
	return &APIError{
		Code:     ErrCodeInvalidTaskList,
		Message:  fmt.Sprintf("Invalid task list: %s", kind),
		Category: "validation",
		Action:   "Use view=assigned or view=unassigned.",
	}
}

// NewInvalidSubmissionError は申請フォームの入力が不正な場合のエラーを生成する。
func NewInvalidSubmissionError(reason string) *APIError {
	return &APIError{
		Code:     ErrCodeInvalidSubmission,
		Message:  fmt.Sprintf("Invalid submission: %s", reason),
		Category: "validation",
		Action:   "Check the form fields and submit again.",
	}
}

// NewUnsupportedCapabilityError はロール画面が対応しない操作を要求された場合のエラーを生成する。
func NewUnsupportedCapabilityError(role, capability string) *APIError {
	return &APIError{
		Code:     ErrCodeUnsupportedCapability,
		Message:  fmt.Sprintf("%s view does not support %s", role, capability),
		Category: "workflow",
		Action:   "Use a view that offers this action.",
	}
}

// NewBackendFailedError はワークフローバックエンドの呼び出し失敗エラーを生成する。
// 詳細はログにのみ記録し、ユーザーには一般的なメッセージを返す。
func NewBackendFailedError(message string) *APIError {
	return &APIError{
		Code:     ErrCodeBackendFailed,
		Message:  message,
		Category: "system",
		Action:   "Please try again.",
	}
}
