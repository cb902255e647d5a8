package model

// Application はUser画面の申請フォームの入力。
// バックエンドのフォーム送信APIにそのままJSONとして送る。
type Application struct {
	FirstName string `json:"firstName"`
	Age       int    `json:"age"`
}
