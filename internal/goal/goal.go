package goal

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	xerrors "OpenMCP-Goals/internal/errors"
)

// Priority 表示目标与任务的优先级。
type Priority string

const (
	PriorityHigh   Priority = "high"
	PriorityMedium Priority = "medium"
	PriorityLow    Priority = "low"
)

var priorityRank = map[Priority]int{
	PriorityHigh:   0,
	PriorityMedium: 1,
	PriorityLow:    2,
}

// Valid 判断优先级是否为支持的枚举值。
func (p Priority) Valid() bool {
	_, ok := priorityRank[p]
	return ok
}

// Rank 返回排序权重，数值越小越优先；未知优先级排在最后。
func (p Priority) Rank() int {
	if rank, ok := priorityRank[p]; ok {
		return rank
	}
	return len(priorityRank)
}

// GoalStatus 表示目标所处的生命周期阶段。
type GoalStatus string

const (
	GoalPlanned    GoalStatus = "planned"
	GoalInProgress GoalStatus = "in_progress"
	GoalCompleted  GoalStatus = "completed"
	GoalCancelled  GoalStatus = "cancelled"
)

// Valid 判断目标状态是否合法。
func (s GoalStatus) Valid() bool {
	switch s {
	case GoalPlanned, GoalInProgress, GoalCompleted, GoalCancelled:
		return true
	default:
		return false
	}
}

// Terminal 判断目标是否已结束。
func (s GoalStatus) Terminal() bool {
	return s == GoalCompleted || s == GoalCancelled
}

// TaskStatus 表示任务的执行状态。
type TaskStatus string

const (
	TaskPending    TaskStatus = "pending"
	TaskInProgress TaskStatus = "in_progress"
	TaskCompleted  TaskStatus = "completed"
	TaskFailed     TaskStatus = "failed"
	TaskBlocked    TaskStatus = "blocked"
)

// Valid 判断任务状态是否合法。
func (s TaskStatus) Valid() bool {
	switch s {
	case TaskPending, TaskInProgress, TaskCompleted, TaskFailed, TaskBlocked:
		return true
	default:
		return false
	}
}

// DefaultTaskType 是未指定类型时任务的默认标签。
const DefaultTaskType = "general"

// Goal 描述一个需要被拆解执行的高层目标。
type Goal struct {
	ID          string         `json:"id"`
	Description string         `json:"description"`
	Priority    Priority       `json:"priority"`
	Status      GoalStatus     `json:"status"`
	Repos       []string       `json:"repos"`
	TaskIDs     []string       `json:"task_ids"`
	CreatedAt   time.Time      `json:"created_at"`
	UpdatedAt   time.Time      `json:"updated_at"`
	Metadata    map[string]any `json:"metadata"`
}

// Task 描述目标下的一个具体工作单元。
type Task struct {
	ID              string          `json:"id"`
	GoalID          string          `json:"goal_id"`
	Description     string          `json:"description"`
	Type            string          `json:"type"`
	Status          TaskStatus      `json:"status"`
	Priority        Priority        `json:"priority"`
	Dependencies    []string        `json:"dependencies"`
	Repo            string          `json:"repo,omitempty"`
	ExternalTicket  string          `json:"external_ticket,omitempty"`
	EstimatedEffort string          `json:"estimated_effort,omitempty"`
	AssignedTools   []string        `json:"assigned_tools"`
	CreatedAt       time.Time       `json:"created_at"`
	UpdatedAt       time.Time       `json:"updated_at"`
	CompletedAt     *time.Time      `json:"completed_at,omitempty"`
	Result          json.RawMessage `json:"result,omitempty"`
}

// Kind 区分 ID 所属的实体类型，同时也是 ID 前缀。
type Kind string

const (
	KindGoal Kind = "GOAL"
	KindTask Kind = "TASK"
)

// FormatID 生成形如 GOAL-0001 的标识。
func FormatID(kind Kind, seq int) string {
	return fmt.Sprintf("%s-%04d", kind, seq)
}

// SequenceOf 解析 ID 中的数字后缀，无法解析时返回 false。
func SequenceOf(id string) (int, bool) {
	idx := strings.LastIndexByte(id, '-')
	if idx < 0 || idx == len(id)-1 {
		return 0, false
	}
	seq, err := strconv.Atoi(id[idx+1:])
	if err != nil || seq < 0 {
		return 0, false
	}
	return seq, true
}

const (
	CodeGoalNotFound   xerrors.Code = "GOAL_NOT_FOUND"
	CodeTaskNotFound   xerrors.Code = "TASK_NOT_FOUND"
	CodeGoalValidation xerrors.Code = "GOAL_VALIDATION_FAILED"
	CodeTaskValidation xerrors.Code = "TASK_VALIDATION_FAILED"
	CodeGoalConflict   xerrors.Code = "GOAL_CONFLICT"
	CodeTaskConflict   xerrors.Code = "TASK_CONFLICT"
)

var (
	// ErrGoalNotFound 表示指定的目标不存在。
	ErrGoalNotFound = xerrors.New(CodeGoalNotFound, "goal not found")
	// ErrTaskNotFound 表示指定的任务不存在。
	ErrTaskNotFound = xerrors.New(CodeTaskNotFound, "task not found")
	// ErrGoalConflict 表示目标 ID 已被占用。
	ErrGoalConflict = xerrors.New(CodeGoalConflict, "goal already exists")
	// ErrTaskConflict 表示任务 ID 已被占用。
	ErrTaskConflict = xerrors.New(CodeTaskConflict, "task already exists")
)

func init() {
	xerrors.Register(CodeGoalNotFound, xerrors.Attributes{
		Message:  "goal not found",
		Category: xerrors.CategoryNotFound,
		Severity: xerrors.SeverityInfo,
	})
	xerrors.Register(CodeTaskNotFound, xerrors.Attributes{
		Message:  "task not found",
		Category: xerrors.CategoryNotFound,
		Severity: xerrors.SeverityInfo,
	})
	xerrors.Register(CodeGoalValidation, xerrors.Attributes{
		Message:  "goal validation failed",
		Category: xerrors.CategoryValidation,
		Severity: xerrors.SeverityInfo,
	})
	xerrors.Register(CodeTaskValidation, xerrors.Attributes{
		Message:  "task validation failed",
		Category: xerrors.CategoryValidation,
		Severity: xerrors.SeverityInfo,
	})
	xerrors.Register(CodeGoalConflict, xerrors.Attributes{
		Message:  "goal already exists",
		Category: xerrors.CategoryStore,
		Severity: xerrors.SeverityWarning,
		Alert:    true,
	})
	xerrors.Register(CodeTaskConflict, xerrors.Attributes{
		Message:  "task already exists",
		Category: xerrors.CategoryStore,
		Severity: xerrors.SeverityWarning,
		Alert:    true,
	})
}

// GoalNotFound 返回携带目标 ID 的未找到错误。
func GoalNotFound(id string) error {
	return xerrors.New(CodeGoalNotFound, fmt.Sprintf("Goal %s not found", id), xerrors.WithMetadata("goal_id", id))
}

// TaskNotFound 返回携带任务 ID 的未找到错误。
func TaskNotFound(id string) error {
	return xerrors.New(CodeTaskNotFound, fmt.Sprintf("Task %s not found", id), xerrors.WithMetadata("task_id", id))
}

// InvalidGoal 返回目标参数校验错误。
func InvalidGoal(format string, args ...any) error {
	return xerrors.Errorf(CodeGoalValidation, format, args...)
}

// InvalidTask 返回任务参数校验错误。
func InvalidTask(format string, args ...any) error {
	return xerrors.Errorf(CodeTaskValidation, format, args...)
}

// Clone 返回目标的深拷贝，避免调用方修改内部状态。
func (g *Goal) Clone() *Goal {
	if g == nil {
		return nil
	}
	clone := *g
	clone.Repos = cloneStrings(g.Repos)
	clone.TaskIDs = cloneStrings(g.TaskIDs)
	clone.Metadata = CloneMetadata(g.Metadata)
	return &clone
}

// Clone 返回任务的深拷贝。
func (t *Task) Clone() *Task {
	if t == nil {
		return nil
	}
	clone := *t
	clone.Dependencies = cloneStrings(t.Dependencies)
	clone.AssignedTools = cloneStrings(t.AssignedTools)
	if t.CompletedAt != nil {
		completed := *t.CompletedAt
		clone.CompletedAt = &completed
	}
	if t.Result != nil {
		clone.Result = append(json.RawMessage(nil), t.Result...)
	}
	return &clone
}

// CloneMetadata 复制元数据的第一层键值。
func CloneMetadata(metadata map[string]any) map[string]any {
	if metadata == nil {
		return nil
	}
	cloned := make(map[string]any, len(metadata))
	for key, value := range metadata {
		cloned[key] = value
	}
	return cloned
}

// MergeMetadata 将 patch 中的键合并进 base，返回新的映射。
func MergeMetadata(base, patch map[string]any) map[string]any {
	merged := make(map[string]any, len(base)+len(patch))
	for key, value := range base {
		merged[key] = value
	}
	for key, value := range patch {
		merged[key] = value
	}
	return merged
}

func cloneStrings(values []string) []string {
	if values == nil {
		return nil
	}
	return append([]string(nil), values...)
}
