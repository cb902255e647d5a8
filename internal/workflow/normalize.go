package workflow

import (
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/hitoshi/approvalportal/internal/model"
)

// NormalizeTasks はバックエンドのタスク配列をTaskItemに変換する。
// 欠けている項目はフォールバック値で補い、未割り当て一覧の項目にはUnassignedを設定する。
func NormalizeTasks(raw []byte, fields FieldMapping, kind model.TaskListKind) ([]model.TaskItem, error) {
	items, err := decodeItems(raw)
	if err != nil {
		return nil, err
	}

	nameFallback := fields.NameFallback
	if nameFallback == "" {
		nameFallback = model.TaskFallbackName
	}

	tasks := make([]model.TaskItem, 0, len(items))
	for _, item := range items {
		t := model.TaskItem{
			ID:   firstPresent(item, fields.IDKeys, model.TaskFallbackID),
			Name: firstPresent(item, fields.NameKeys, nameFallback),
		}
		if fields.ProcessInstanceID {
			t.ProcessInstanceID = firstPresent(item, []string{"processInstanceId"}, model.TaskFallbackID)
		}
		if kind == model.TaskListUnassigned {
			t.Status = model.TaskStatusUnassign
		} else if s, ok := present(item["status"]); ok {
			t.Status = s
		}
		tasks = append(tasks, t)
	}
	return tasks, nil
}

// NormalizeOwnTasks はUserの申請一覧を変換する。配列と{tasks: [...]}の両方を受け付ける。
func NormalizeOwnTasks(raw []byte) ([]model.TaskItem, error) {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) > 0 && trimmed[0] == '{' {
		var wrapped struct {
			Tasks json.RawMessage `json:"tasks"`
		}
		if err := json.Unmarshal(trimmed, &wrapped); err != nil {
			return nil, fmt.Errorf("failed to decode tasks object: %w", err)
		}
		if len(wrapped.Tasks) == 0 || string(wrapped.Tasks) == "null" {
			return []model.TaskItem{}, nil
		}
		trimmed = wrapped.Tasks
	}
	return NormalizeTasks(trimmed, FieldMapping{
		IDKeys:            []string{"id", "taskId"},
		NameKeys:          []string{"name", "taskName"},
		NameFallback:      model.TaskFallbackID,
		ProcessInstanceID: true,
	}, model.TaskListAssigned)
}

func decodeItems(raw []byte) ([]map[string]any, error) {
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var items []map[string]any
	if err := dec.Decode(&items); err != nil {
		return nil, fmt.Errorf("failed to decode task list: %w", err)
	}
	if items == nil {
		return nil, fmt.Errorf("task list is not an array")
	}
	return items, nil
}

// firstPresent はkeysの順に最初に値のあるものを文字列で返す。
func firstPresent(item map[string]any, keys []string, fallback string) string {
	for _, k := range keys {
		if s, ok := present(item[k]); ok {
			return s
		}
	}
	return fallback
}

// present は値が空でない場合に文字列表現を返す。null、空文字列、0、falseは空として扱う。
func present(v any) (string, bool) {
	switch val := v.(type) {
	case nil:
		return "", false
	case string:
		return val, val != ""
	case json.Number:
		if f, err := val.Float64(); err == nil && f == 0 {
			return "", false
		}
		return val.String(), true
	case bool:
		if !val {
			return "", false
		}
		return "true", true
	default:
		b, err := json.Marshal(val)
		if err != nil {
			return "", false
		}
		return string(b), true
	}
}
