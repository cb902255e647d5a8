// Package proxy はワークフローバックエンドのレスポンスをブラウザ向けの
// 固定のJSONエンベロープに変換する。
package proxy

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/hitoshi/approvalportal/internal/backend"
	"github.com/hitoshi/approvalportal/internal/model"
)

// Endpoint はプロキシエンドポイントごとの変換ルール。
type Endpoint struct {
	// Verb と Resource は汎用エラー "Failed to <Verb> <Resource>" に使う。
	Verb     string
	Resource string
	// NotFound は404時のリソース名（例: "Form template"）。空の場合404は汎用エラーになる。
	NotFound string
	// WrapAll は401以外の全レスポンスを{data: ...}で包み、バックエンドのステータスで返す。
	WrapAll bool
	// NoContent は成功時にボディなしの204を返す。
	NoContent bool
}

// FailureMessage は汎用エラーメッセージを返す。
func (e Endpoint) FailureMessage() string {
	return fmt.Sprintf("Failed to %s %s", e.Verb, e.Resource)
}

// Result は変換結果。Bodyがnilの場合はボディを書き込まない。
type Result struct {
	StatusCode   int
	Body         json.RawMessage
	Unauthorized bool // バックエンドが401を返した
}

// errorEnvelope は{error: msg}を返す。
func errorEnvelope(msg string) json.RawMessage {
	b, _ := json.Marshal(map[string]string{"error": msg})
	return b
}

// wrapData は{data: ...}を返す。JSONの場合はそのまま、それ以外は文字列として包む。
func wrapData(resp *backend.Response) (json.RawMessage, bool) {
	var data any
	if resp.IsJSON() {
		if len(resp.Body) == 0 {
			data = nil
		} else if !json.Valid(resp.Body) {
			return nil, false
		} else {
			data = json.RawMessage(resp.Body)
		}
	} else {
		data = string(resp.Body)
	}
	b, err := json.Marshal(map[string]any{"data": data})
	if err != nil {
		return nil, false
	}
	return b, true
}

// Translate はバックエンドの呼び出し結果をエンベロープに変換する。
// errは通信エラー（*backend.StatusError以外）を想定する。
func Translate(ep Endpoint, resp *backend.Response, err error) Result {
	var se *backend.StatusError
	if err != nil && !errors.As(err, &se) {
		return Result{StatusCode: http.StatusInternalServerError, Body: errorEnvelope(ep.FailureMessage())}
	}
	if resp == nil {
		return Result{StatusCode: http.StatusInternalServerError, Body: errorEnvelope(ep.FailureMessage())}
	}

	if resp.StatusCode == http.StatusUnauthorized {
		return Result{
			StatusCode:   http.StatusUnauthorized,
			Body:         errorEnvelope(model.MsgUnauthorized),
			Unauthorized: true,
		}
	}

	if ep.WrapAll {
		body, ok := wrapData(resp)
		if !ok {
			return Result{StatusCode: http.StatusInternalServerError, Body: errorEnvelope(ep.FailureMessage())}
		}
		return Result{StatusCode: resp.StatusCode, Body: body}
	}

	switch {
	case resp.StatusCode == http.StatusForbidden:
		return Result{StatusCode: http.StatusForbidden, Body: errorEnvelope(model.MsgForbidden)}
	case resp.StatusCode == http.StatusNotFound && ep.NotFound != "":
		return Result{StatusCode: http.StatusNotFound, Body: errorEnvelope(ep.NotFound + " not found")}
	case !resp.OK():
		return Result{StatusCode: http.StatusInternalServerError, Body: errorEnvelope(ep.FailureMessage())}
	}

	if ep.NoContent {
		return Result{StatusCode: http.StatusNoContent}
	}

	if resp.IsJSON() && len(resp.Body) > 0 {
		if !json.Valid(resp.Body) {
			return Result{StatusCode: http.StatusInternalServerError, Body: errorEnvelope(ep.FailureMessage())}
		}
		return Result{StatusCode: http.StatusOK, Body: json.RawMessage(resp.Body)}
	}

	body, ok := wrapData(resp)
	if !ok {
		return Result{StatusCode: http.StatusInternalServerError, Body: errorEnvelope(ep.FailureMessage())}
	}
	return Result{StatusCode: http.StatusOK, Body: body}
}

// WithLogoutURL は401のエンベロープにIdPのログアウトURLを追加する。
func (r Result) WithLogoutURL(logoutURL string) Result {
	if !r.Unauthorized || logoutURL == "" {
		return r
	}
	b, err := json.Marshal(map[string]string{
		"error":      model.MsgUnauthorized,
		"logout_url": logoutURL,
	})
	if err != nil {
		return r
	}
	r.Body = b
	return r
}

// Write は変換結果をレスポンスに書き込む。
func (r Result) Write(w http.ResponseWriter) {
	if r.Body == nil {
		w.WriteHeader(r.StatusCode)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(r.StatusCode)
	w.Write(r.Body)
}

// Endpoints はプロキシする各エンドポイントの変換ルール。
var (
	ApplySubmit = Endpoint{Verb: "fetch", Resource: "form submissions", WrapAll: true}

	TemplateList   = Endpoint{Verb: "fetch", Resource: "form templates"}
	TemplateCreate = Endpoint{Verb: "create", Resource: "form template"}
	TemplateGet    = Endpoint{Verb: "fetch", Resource: "form template", NotFound: "Form template"}
	TemplateUpdate = Endpoint{Verb: "update", Resource: "form template", NotFound: "Form template"}
	TemplateDelete = Endpoint{Verb: "delete", Resource: "form template", NotFound: "Form template", NoContent: true}

	TasksUnassigned = Endpoint{Verb: "fetch", Resource: "tasks"}
	TasksAssigned   = Endpoint{Verb: "fetch", Resource: "assigned tasks"}
	TaskApprove     = Endpoint{Verb: "approve", Resource: "task", NotFound: "Task"}
	TaskAssign      = Endpoint{Verb: "assign", Resource: "task", NotFound: "Task"}
	UserTasks       = Endpoint{Verb: "fetch", Resource: "user tasks"}
)
