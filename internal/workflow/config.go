// Package workflow はロールごとの画面が使うワークフローバックエンドの操作を提供する。
//
// Employee・Manager・HRのタスク画面は1つのTaskViewをTaskViewConfigで切り替えて使う。
// Userの申請画面とHeadのテンプレート管理画面はそれぞれ専用の型で扱う。
package workflow

import (
	"slices"

	"github.com/hitoshi/approvalportal/internal/role"
)

// Capability は画面が提供する操作。
type Capability string

const (
	CapabilitySubmitForm      Capability = "submit-form"
	CapabilityListOwn         Capability = "list-own"
	CapabilityListAssigned    Capability = "list-assigned"
	CapabilityListUnassigned  Capability = "list-unassigned"
	CapabilityApprove         Capability = "approve"
	CapabilityAssign          Capability = "assign"
	CapabilityManageTemplates Capability = "manage-templates"
)

// バックエンドのエンドポイント
const (
	pathUnassignedTasks = "/api/workflow-instances/tasks"
	pathAssignedTasks   = "/api/workflow-instances/assignedtasks"
	pathApproveTask     = "/api/workflow-instances/approve/"
	pathAssignTask      = "/api/workflow-instances/assign/"
	pathUserTasks       = "/api/user/tasks"
	pathFormSubmissions = "/api/form-submissions"
	pathFormTemplates   = "/api/form-templates"
)

// ListEndpoints はタスク一覧のエンドポイント。
type ListEndpoints struct {
	Assigned   string
	Unassigned string
}

// ActionEndpoints はタスク操作のエンドポイントの接頭辞。末尾にタスクIDを付ける。
type ActionEndpoints struct {
	Approve string
	Assign  string
}

// FieldMapping はバックエンドのタスク項目を正規化する際のキーと既定値。
type FieldMapping struct {
	IDKeys            []string
	NameKeys          []string
	NameFallback      string
	ProcessInstanceID bool // processInstanceIdを出力に含める
}

// TaskViewConfig はロールごとのタスク画面の設定。
type TaskViewConfig struct {
	Role           role.Role
	Capabilities   []Capability
	Lists          ListEndpoints
	Actions        ActionEndpoints
	ApprovePayload map[string]bool
	Fields         FieldMapping
}

// Has は画面が指定の操作を提供するかを返す。
func (c TaskViewConfig) Has(capability Capability) bool {
	return slices.Contains(c.Capabilities, capability)
}

var taskCapabilities = []Capability{
	CapabilityListAssigned,
	CapabilityListUnassigned,
	CapabilityApprove,
	CapabilityAssign,
}

func taskViewConfig(r role.Role, includeProcessInstance bool) TaskViewConfig {
	return TaskViewConfig{
		Role:         r,
		Capabilities: taskCapabilities,
		Lists: ListEndpoints{
			Assigned:   pathAssignedTasks,
			Unassigned: pathUnassignedTasks,
		},
		Actions: ActionEndpoints{
			Approve: pathApproveTask,
			Assign:  pathAssignTask,
		},
		// 承認ボディは承認者のロール名をキーにする
		ApprovePayload: map[string]bool{string(r): true},
		Fields: FieldMapping{
			IDKeys:            []string{"id", "taskId"},
			NameKeys:          []string{"name", "taskName"},
			ProcessInstanceID: includeProcessInstance,
		},
	}
}

// TaskViewConfigs はタスク画面を持つロールの設定を返す。
func TaskViewConfigs() map[role.Role]TaskViewConfig {
	return map[role.Role]TaskViewConfig{
		role.Employee: taskViewConfig(role.Employee, true),
		role.Manager:  taskViewConfig(role.Manager, true),
		role.HR:       taskViewConfig(role.HR, false),
	}
}

// Capabilities はロールの画面が提供する操作を返す。
func Capabilities(r role.Role) []Capability {
	switch r {
	case role.User:
		return []Capability{CapabilitySubmitForm, CapabilityListOwn}
	case role.Head:
		return []Capability{CapabilityManageTemplates}
	}
	if cfg, ok := TaskViewConfigs()[r]; ok {
		return cfg.Capabilities
	}
	return nil
}
