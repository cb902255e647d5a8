package model

import "encoding/json"

// FormTemplate は動的フォームを記述するJSON Schema形式のテンプレート。
// 正本はバックエンドが持ち、このアプリケーションはコピーを保持しない。
type FormTemplate struct {
	ID         *int64          `json:"id,omitempty"`
	Title      string          `json:"title"`
	SchemaJSON json.RawMessage `json:"schemaJson"`
}

// FormTemplateInput はHead画面のフォーム入力を表す。
// SchemaJSONはユーザーが入力したJSON文字列。
type FormTemplateInput struct {
	Title      string `json:"title"`
	SchemaJSON string `json:"schemaJson"`
}
