package model

// TaskItem はワークフローエンジンのタスクをアプリケーション側に投影したもの。
// このアプリケーションは所有も更新もせず、表示のたびにバックエンドから取得し直す。
type TaskItem struct {
	ID                string `json:"id"`
	Name              string `json:"name"`
	Status            string `json:"status,omitempty"`
	ProcessInstanceID string `json:"processInstanceId,omitempty"`
}

// タスク正規化時のフォールバック値
const (
	TaskFallbackID     = "N/A"
	TaskFallbackName   = "Unnamed Task"
	TaskStatusUnassign = "Unassigned"
)

// TaskListKind はタスク一覧の種類を表す。
type TaskListKind string

const (
	// TaskListAssigned は自分に割り当て済みのタスク一覧。
	TaskListAssigned TaskListKind = "assigned"
	// TaskListUnassigned は未割り当てのタスク一覧。
	TaskListUnassigned TaskListKind = "unassigned"
)

// ParseTaskListKind は文字列をTaskListKindに変換する。
// 空文字列の場合はassignedを返す。
func ParseTaskListKind(s string) (TaskListKind, bool) {
	switch TaskListKind(s) {
	case "", TaskListAssigned:
		return TaskListAssigned, true
	case TaskListUnassigned:
		return TaskListUnassigned, true
	default:
		return "", false
	}
}
