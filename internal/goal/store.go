package goal

import (
	"context"
	"encoding/json"
	"time"
)

// GoalUpdate 描述目标的部分更新，nil 字段保持不变。
// Metadata 中的键会合并进已有元数据而不是整体替换。
type GoalUpdate struct {
	Description *string
	Priority    *Priority
	Status      *GoalStatus
	Repos       *[]string
	Metadata    map[string]any
	UpdatedAt   time.Time
}

// Empty 判断更新是否不包含任何字段。
func (u GoalUpdate) Empty() bool {
	return u.Description == nil && u.Priority == nil && u.Status == nil && u.Repos == nil && len(u.Metadata) == 0
}

// TaskUpdate 描述任务的部分更新，nil 字段保持不变。
type TaskUpdate struct {
	Description *string
	Priority    *Priority
	Status      *TaskStatus
	Result      json.RawMessage
	CompletedAt *time.Time
	UpdatedAt   time.Time
}

// Store 抽象了目标与任务的持久化接口。
type Store interface {
	CreateGoal(ctx context.Context, goal *Goal) error
	GetGoal(ctx context.Context, id string) (*Goal, error)
	ListGoals(ctx context.Context, opts ...ListOption) ([]*Goal, error)
	UpdateGoal(ctx context.Context, id string, update GoalUpdate) (*Goal, error)
	// DeleteGoal 级联删除目标及其任务，返回被删除的任务 ID。
	DeleteGoal(ctx context.Context, id string) ([]string, error)

	CreateTask(ctx context.Context, task *Task) error
	GetTask(ctx context.Context, id string) (*Task, error)
	ListTasks(ctx context.Context, opts ...ListOption) ([]*Task, error)
	UpdateTask(ctx context.Context, id string, update TaskUpdate) (*Task, error)
	DeleteTask(ctx context.Context, id string) error

	CountGoals(ctx context.Context) (int, error)
	CountTasks(ctx context.Context) (int, error)
	// IDs 返回指定类型的全部 ID，用于启动时恢复计数器。
	IDs(ctx context.Context, kind Kind) ([]string, error)

	Ping(ctx context.Context) error
	Close() error
}
