package goalagent

import (
	"encoding/json"
	"time"

	"OpenMCP-Goals/internal/goal"
	"OpenMCP-Goals/internal/planner"
)

// 读取来源标识。
const (
	ServedFromCache = "cache"
	ServedFromStore = "store"
)

// CreateGoalRequest 描述创建目标所需的参数。
type CreateGoalRequest struct {
	Description string         `json:"description"`
	Priority    goal.Priority  `json:"priority"`
	Repos       []string       `json:"repos,omitempty"`
	Metadata    map[string]any `json:"metadata,omitempty"`
}

// Subtask 是拆解目标时提交的单个子任务定义。
type Subtask struct {
	Description     string        `json:"description"`
	Type            string        `json:"type,omitempty"`
	Priority        goal.Priority `json:"priority,omitempty"`
	Dependencies    []string      `json:"dependencies,omitempty"`
	Repo            string        `json:"repo,omitempty"`
	ExternalTicket  string        `json:"external_ticket,omitempty"`
	EstimatedEffort string        `json:"estimated_effort,omitempty"`
	Tools           []string      `json:"tools,omitempty"`
}

// GoalPatch 描述对目标的部分更新，nil 字段保持不变。
type GoalPatch struct {
	Description *string          `json:"description,omitempty"`
	Priority    *goal.Priority   `json:"priority,omitempty"`
	Status      *goal.GoalStatus `json:"status,omitempty"`
	Repos       *[]string        `json:"repos,omitempty"`
	Metadata    map[string]any   `json:"metadata,omitempty"`
}

// GoalFilter 过滤目标列表，非法的枚举值会被忽略。
type GoalFilter struct {
	Status   goal.GoalStatus `json:"status,omitempty"`
	Priority goal.Priority   `json:"priority,omitempty"`
	Limit    int             `json:"limit,omitempty"`
	Offset   int             `json:"offset,omitempty"`
}

// TaskFilter 过滤任务列表，非法的枚举值会被忽略。
type TaskFilter struct {
	GoalID   string          `json:"goal_id,omitempty"`
	Status   goal.TaskStatus `json:"status,omitempty"`
	Priority goal.Priority   `json:"priority,omitempty"`
	Limit    int             `json:"limit,omitempty"`
	Offset   int             `json:"offset,omitempty"`
}

// CacheStatus 说明一次读取由哪一层提供。
type CacheStatus struct {
	Enabled    bool   `json:"enabled"`
	ServedFrom string `json:"served_from"`
	CacheHit   bool   `json:"cache_hit"`
}

// GoalView 是带任务详情的目标读取结果。
type GoalView struct {
	*goal.Goal
	TaskDetails []*goal.Task `json:"task_details"`
	CacheStatus CacheStatus  `json:"_cache_status"`
}

// TaskView 是带缓存来源标注的任务读取结果。
type TaskView struct {
	*goal.Task
	CacheStatus CacheStatus `json:"_cache_status"`
}

// ExecutionPlan 是目标的分阶段执行计划。
type ExecutionPlan struct {
	GoalID          string `json:"goal_id"`
	GoalDescription string `json:"goal_description"`
	planner.Plan
	Message string `json:"message,omitempty"`
}

// DeleteGoalResult 汇总级联删除的结果。
type DeleteGoalResult struct {
	DeletedGoalID string   `json:"deleted_goal_id"`
	DeletedTasks  int      `json:"deleted_tasks"`
	TaskIDs       []string `json:"task_ids"`
	Success       bool     `json:"success"`
}

// DeleteTaskResult 汇总任务删除结果，DependentTasks 仅作提示，不阻止删除。
type DeleteTaskResult struct {
	DeletedTaskID  string   `json:"deleted_task_id"`
	GoalID         string   `json:"goal_id"`
	DependentTasks []string `json:"dependent_tasks"`
	Success        bool     `json:"success"`
}

// TaskStatusUpdate 是批量更新中的单项。
type TaskStatusUpdate struct {
	TaskID string          `json:"task_id"`
	Status goal.TaskStatus `json:"status"`
	Result json.RawMessage `json:"result,omitempty"`
}

// BatchItem 记录批量操作中单项的结果。
type BatchItem struct {
	TaskID string          `json:"task_id"`
	Status goal.TaskStatus `json:"status,omitempty"`
	Error  string          `json:"error,omitempty"`
}

// BatchUpdateResult 是批量状态更新的结果，部分失败属于正常返回。
type BatchUpdateResult struct {
	BatchID    string      `json:"batch_id"`
	Successful []BatchItem `json:"successful"`
	Failed     []BatchItem `json:"failed"`
	Total      int         `json:"total"`
}

// BatchGetResult 是批量读取的结果。
type BatchGetResult struct {
	BatchID  string      `json:"batch_id"`
	Tasks    []*TaskView `json:"tasks"`
	NotFound []string    `json:"not_found"`
	Failed   []BatchItem `json:"failed"`
	Total    int         `json:"total"`
}

// Stats 是 Agent 的只读运行快照。
type Stats struct {
	Goals          int       `json:"goals"`
	Tasks          int       `json:"tasks"`
	GoalCounter    int       `json:"goal_counter"`
	TaskCounter    int       `json:"task_counter"`
	CacheEnabled   bool      `json:"cache_enabled"`
	CacheAvailable bool      `json:"cache_available"`
	StoreHealthy   bool      `json:"store_healthy"`
	Workers        int       `json:"workers"`
	Timeout        string    `json:"timeout"`
	Timestamp      time.Time `json:"timestamp"`
}
