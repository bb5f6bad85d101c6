package goal

import (
	"context"
	"sync"
	"time"

	xerrors "OpenMCP-Goals/internal/errors"
)

// MemoryStore 以内存方式保存目标与任务，用于测试和无数据库部署。
type MemoryStore struct {
	mu        sync.RWMutex
	goals     map[string]*Goal
	goalOrder []string
	tasks     map[string]*Task
	taskOrder []string
	closed    bool
}

// NewMemoryStore 创建 MemoryStore。
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		goals: make(map[string]*Goal),
		tasks: make(map[string]*Task),
	}
}

// CreateGoal 实现 Store 接口。
func (m *MemoryStore) CreateGoal(_ context.Context, goal *Goal) error {
	if goal == nil || goal.ID == "" {
		return xerrors.New(xerrors.CodeInvalidArgument, "目标 ID 不能为空")
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.checkOpen(); err != nil {
		return err
	}
	if _, ok := m.goals[goal.ID]; ok {
		return ErrGoalConflict
	}
	clone := goal.Clone()
	clone.TaskIDs = nil
	m.goals[goal.ID] = clone
	m.goalOrder = append(m.goalOrder, goal.ID)
	return nil
}

// GetGoal 返回目标及其任务 ID 列表。
func (m *MemoryStore) GetGoal(_ context.Context, id string) (*Goal, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if err := m.checkOpen(); err != nil {
		return nil, err
	}
	goal, ok := m.goals[id]
	if !ok {
		return nil, GoalNotFound(id)
	}
	return m.hydrate(goal), nil
}

// ListGoals 按创建顺序返回符合条件的目标。
func (m *MemoryStore) ListGoals(_ context.Context, opts ...ListOption) ([]*Goal, error) {
	options := BuildListOptions(opts)
	m.mu.RLock()
	defer m.mu.RUnlock()
	if err := m.checkOpen(); err != nil {
		return nil, err
	}
	matched := make([]*Goal, 0, len(m.goalOrder))
	for _, id := range m.goalOrder {
		goal := m.goals[id]
		if options.MatchGoal(goal) {
			matched = append(matched, goal)
		}
	}
	start, end := options.window(len(matched))
	results := make([]*Goal, 0, end-start)
	for _, goal := range matched[start:end] {
		results = append(results, m.hydrate(goal))
	}
	return results, nil
}

// UpdateGoal 局部更新目标。
func (m *MemoryStore) UpdateGoal(_ context.Context, id string, update GoalUpdate) (*Goal, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.checkOpen(); err != nil {
		return nil, err
	}
	goal, ok := m.goals[id]
	if !ok {
		return nil, GoalNotFound(id)
	}
	if update.Description != nil {
		goal.Description = *update.Description
	}
	if update.Priority != nil {
		goal.Priority = *update.Priority
	}
	if update.Status != nil {
		goal.Status = *update.Status
	}
	if update.Repos != nil {
		goal.Repos = cloneStrings(*update.Repos)
	}
	if len(update.Metadata) > 0 {
		goal.Metadata = MergeMetadata(goal.Metadata, update.Metadata)
	}
	goal.UpdatedAt = updatedAt(update.UpdatedAt)
	return m.hydrate(goal), nil
}

// DeleteGoal 删除目标并级联删除其任务。
func (m *MemoryStore) DeleteGoal(_ context.Context, id string) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.checkOpen(); err != nil {
		return nil, err
	}
	if _, ok := m.goals[id]; !ok {
		return nil, GoalNotFound(id)
	}
	deleted := m.taskIDsOf(id)
	for _, taskID := range deleted {
		delete(m.tasks, taskID)
	}
	m.taskOrder = removeIDs(m.taskOrder, deleted...)
	delete(m.goals, id)
	m.goalOrder = removeIDs(m.goalOrder, id)
	return deleted, nil
}

// CreateTask 保存任务，所属目标必须存在。
func (m *MemoryStore) CreateTask(_ context.Context, task *Task) error {
	if task == nil || task.ID == "" {
		return xerrors.New(xerrors.CodeInvalidArgument, "任务 ID 不能为空")
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.checkOpen(); err != nil {
		return err
	}
	if _, ok := m.goals[task.GoalID]; !ok {
		return GoalNotFound(task.GoalID)
	}
	if _, ok := m.tasks[task.ID]; ok {
		return ErrTaskConflict
	}
	m.tasks[task.ID] = task.Clone()
	m.taskOrder = append(m.taskOrder, task.ID)
	return nil
}

// GetTask 返回任务。
func (m *MemoryStore) GetTask(_ context.Context, id string) (*Task, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if err := m.checkOpen(); err != nil {
		return nil, err
	}
	task, ok := m.tasks[id]
	if !ok {
		return nil, TaskNotFound(id)
	}
	return task.Clone(), nil
}

// ListTasks 按创建顺序返回符合条件的任务。
func (m *MemoryStore) ListTasks(_ context.Context, opts ...ListOption) ([]*Task, error) {
	options := BuildListOptions(opts)
	m.mu.RLock()
	defer m.mu.RUnlock()
	if err := m.checkOpen(); err != nil {
		return nil, err
	}
	matched := make([]*Task, 0, len(m.taskOrder))
	for _, id := range m.taskOrder {
		task := m.tasks[id]
		if options.MatchTask(task) {
			matched = append(matched, task)
		}
	}
	start, end := options.window(len(matched))
	results := make([]*Task, 0, end-start)
	for _, task := range matched[start:end] {
		results = append(results, task.Clone())
	}
	return results, nil
}

// UpdateTask 局部更新任务。
func (m *MemoryStore) UpdateTask(_ context.Context, id string, update TaskUpdate) (*Task, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.checkOpen(); err != nil {
		return nil, err
	}
	task, ok := m.tasks[id]
	if !ok {
		return nil, TaskNotFound(id)
	}
	if update.Description != nil {
		task.Description = *update.Description
	}
	if update.Priority != nil {
		task.Priority = *update.Priority
	}
	if update.Status != nil {
		task.Status = *update.Status
	}
	if update.Result != nil {
		task.Result = append([]byte(nil), update.Result...)
	}
	if update.CompletedAt != nil {
		completed := *update.CompletedAt
		task.CompletedAt = &completed
	}
	task.UpdatedAt = updatedAt(update.UpdatedAt)
	return task.Clone(), nil
}

// DeleteTask 删除单个任务。
func (m *MemoryStore) DeleteTask(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.checkOpen(); err != nil {
		return err
	}
	if _, ok := m.tasks[id]; !ok {
		return TaskNotFound(id)
	}
	delete(m.tasks, id)
	m.taskOrder = removeIDs(m.taskOrder, id)
	return nil
}

// CountGoals 返回目标总数。
func (m *MemoryStore) CountGoals(context.Context) (int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if err := m.checkOpen(); err != nil {
		return 0, err
	}
	return len(m.goals), nil
}

// CountTasks 返回任务总数。
func (m *MemoryStore) CountTasks(context.Context) (int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if err := m.checkOpen(); err != nil {
		return 0, err
	}
	return len(m.tasks), nil
}

// IDs 返回指定类型的全部 ID。
func (m *MemoryStore) IDs(_ context.Context, kind Kind) ([]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if err := m.checkOpen(); err != nil {
		return nil, err
	}
	switch kind {
	case KindGoal:
		return cloneStrings(m.goalOrder), nil
	case KindTask:
		return cloneStrings(m.taskOrder), nil
	default:
		return nil, xerrors.New(xerrors.CodeInvalidArgument, "未知的实体类型: "+string(kind))
	}
}

// Ping 在存储关闭后返回错误。
func (m *MemoryStore) Ping(context.Context) error {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.checkOpen()
}

// Close 标记存储为关闭状态。
func (m *MemoryStore) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	return nil
}

func (m *MemoryStore) checkOpen() error {
	if m.closed {
		return xerrors.New(xerrors.CodeStorageFailure, "memory store closed")
	}
	return nil
}

func (m *MemoryStore) hydrate(goal *Goal) *Goal {
	clone := goal.Clone()
	clone.TaskIDs = m.taskIDsOf(goal.ID)
	return clone
}

func (m *MemoryStore) taskIDsOf(goalID string) []string {
	ids := make([]string, 0)
	for _, id := range m.taskOrder {
		if m.tasks[id].GoalID == goalID {
			ids = append(ids, id)
		}
	}
	return ids
}

func removeIDs(order []string, ids ...string) []string {
	drop := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		drop[id] = struct{}{}
	}
	kept := order[:0]
	for _, id := range order {
		if _, ok := drop[id]; !ok {
			kept = append(kept, id)
		}
	}
	return kept
}

func updatedAt(ts time.Time) time.Time {
	if ts.IsZero() {
		return time.Now().UTC()
	}
	return ts
}

var _ Store = (*MemoryStore)(nil)
