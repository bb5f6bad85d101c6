package goalagent

import (
	"context"
	"encoding/json"
	"log/slog"
	"sort"

	xerrors "OpenMCP-Goals/internal/errors"
	"OpenMCP-Goals/internal/events"
	"OpenMCP-Goals/internal/goal"
	"OpenMCP-Goals/internal/observability/metrics"
	"OpenMCP-Goals/pkg/logger"
)

// GetTask 优先从缓存读取任务。
func (a *Agent) GetTask(ctx context.Context, taskID string) (view *TaskView, err error) {
	ctx, done := a.operation(ctx, "get_task")
	defer func() { done(err) }()

	a.mu.Lock()
	defer a.mu.Unlock()

	t, hit, err := a.loadTaskLocked(ctx, taskID)
	if err != nil {
		return nil, err
	}
	return &TaskView{Task: t, CacheStatus: a.cacheStatus(hit)}, nil
}

// loadTaskLocked 按 cache-aside 读取任务，未命中时回填缓存。
func (a *Agent) loadTaskLocked(ctx context.Context, taskID string) (*goal.Task, bool, error) {
	if t, ok := a.cache.GetTask(ctx, taskID); ok {
		return t, true, nil
	}
	t, err := a.store.GetTask(ctx, taskID)
	if err != nil {
		return nil, false, err
	}
	a.cache.SetTask(ctx, t)
	return t, false, nil
}

// ListTasks 返回符合过滤条件的任务，非法过滤值记录日志后忽略。
func (a *Agent) ListTasks(ctx context.Context, filter TaskFilter) (tasks []*goal.Task, err error) {
	ctx, done := a.operation(ctx, "list_tasks")
	defer func() { done(err) }()

	log := logger.Named("goalagent")
	opts := []goal.ListOption{goal.WithLimit(filter.Limit), goal.WithOffset(filter.Offset)}
	if filter.GoalID != "" {
		opts = append(opts, goal.WithGoalID(filter.GoalID))
	}
	if filter.Status != "" {
		if filter.Status.Valid() {
			opts = append(opts, goal.WithTaskStatus(filter.Status))
		} else {
			log.Warn("忽略非法的状态过滤条件", slog.String("status", string(filter.Status)))
		}
	}
	if filter.Priority != "" {
		if filter.Priority.Valid() {
			opts = append(opts, goal.WithPriority(filter.Priority))
		} else {
			log.Warn("忽略非法的优先级过滤条件", slog.String("priority", string(filter.Priority)))
		}
	}

	a.mu.Lock()
	defer a.mu.Unlock()
	return a.store.ListTasks(ctx, opts...)
}

// UpdateTaskStatus 更新任务状态与结果，并在目标的全部任务完成时自动完成目标。
func (a *Agent) UpdateTaskStatus(ctx context.Context, taskID string, status goal.TaskStatus, result json.RawMessage) (updated *goal.Task, err error) {
	ctx, done := a.operation(ctx, "update_task_status")
	defer func() { done(err) }()

	a.mu.Lock()
	defer a.mu.Unlock()

	current, err := a.store.GetTask(ctx, taskID)
	if err != nil {
		return nil, err
	}
	if !status.Valid() {
		return nil, goal.InvalidTask("Invalid status: %s", status)
	}

	now := a.now().UTC()
	update := goal.TaskUpdate{Status: &status, UpdatedAt: now}
	if len(result) > 0 {
		update.Result = result
	}
	if status == goal.TaskCompleted {
		update.CompletedAt = &now
	}
	updated, err = a.store.UpdateTask(ctx, taskID, update)
	if err != nil {
		return nil, err
	}

	a.cache.SetTask(ctx, updated)
	a.publish(ctx, events.New(events.TaskStatusChanged, updated.GoalID, taskID, string(status), now))
	logger.Audit().Info("task status changed",
		slog.String("task_id", taskID),
		slog.String("goal_id", updated.GoalID),
		slog.String("from", string(current.Status)),
		slog.String("to", string(status)),
	)

	if err := a.completeGoalIfDoneLocked(ctx, updated.GoalID); err != nil {
		// 任务更新已提交，下一次状态更新会重新检查目标。
		logger.Named("goalagent").Error("检查目标完成状态失败",
			slog.String("goal_id", updated.GoalID),
			slog.Any("error", err),
		)
		a.alert("auto_complete_goal", err)
	}
	return updated, nil
}

// completeGoalIfDoneLocked 在目标的全部任务都已完成时将目标置为 completed。
// 已完成或已取消的目标保持不变。
func (a *Agent) completeGoalIfDoneLocked(ctx context.Context, goalID string) error {
	tasks, err := a.store.ListTasks(ctx, goal.WithGoalID(goalID))
	if err != nil {
		return err
	}
	if len(tasks) == 0 {
		return nil
	}
	for _, t := range tasks {
		if t.Status != goal.TaskCompleted {
			return nil
		}
	}

	g, err := a.store.GetGoal(ctx, goalID)
	if err != nil {
		return err
	}
	if g.Status.Terminal() {
		return nil
	}

	now := a.now().UTC()
	status := goal.GoalCompleted
	completed, err := a.store.UpdateGoal(ctx, goalID, goal.GoalUpdate{Status: &status, UpdatedAt: now})
	if err != nil {
		return err
	}
	a.cache.SetGoal(ctx, completed)
	a.publish(ctx, events.New(events.GoalCompleted, goalID, "", string(status), now))
	metrics.ObserveAutoCompletion()
	logger.Audit().Info("goal completed", slog.String("goal_id", goalID), slog.Int("tasks", len(tasks)))
	return nil
}

// GetNextTasks 返回所有依赖均已完成的 pending 任务，按优先级稳定排序。
// 依赖不存在的任务视为未就绪。
func (a *Agent) GetNextTasks(ctx context.Context, goalID string) (ready []*goal.Task, err error) {
	ctx, done := a.operation(ctx, "get_next_tasks")
	defer func() { done(err) }()

	a.mu.Lock()
	defer a.mu.Unlock()

	var opts []goal.ListOption
	if goalID != "" {
		if _, err := a.store.GetGoal(ctx, goalID); err != nil {
			return nil, err
		}
		opts = append(opts, goal.WithGoalID(goalID))
	}
	tasks, err := a.store.ListTasks(ctx, opts...)
	if err != nil {
		return nil, err
	}

	statuses := make(map[string]goal.TaskStatus, len(tasks))
	for _, t := range tasks {
		statuses[t.ID] = t.Status
	}
	statusOf := func(id string) (goal.TaskStatus, bool, error) {
		if s, ok := statuses[id]; ok {
			return s, s != "", nil
		}
		dep, err := a.store.GetTask(ctx, id)
		if err != nil {
			if xerrors.CategoryOf(err) == xerrors.CategoryNotFound {
				statuses[id] = ""
				return "", false, nil
			}
			return "", false, err
		}
		statuses[id] = dep.Status
		return dep.Status, true, nil
	}

	ready = []*goal.Task{}
	for _, t := range tasks {
		if t.Status != goal.TaskPending {
			continue
		}
		met := true
		for _, dep := range t.Dependencies {
			s, found, err := statusOf(dep)
			if err != nil {
				return nil, err
			}
			if !found || s != goal.TaskCompleted {
				met = false
				break
			}
		}
		if met {
			ready = append(ready, t)
		}
	}
	sort.SliceStable(ready, func(i, j int) bool {
		return ready[i].Priority.Rank() < ready[j].Priority.Rank()
	})
	return ready, nil
}

// DeleteTask 删除任务并返回仍依赖它的任务，依赖关系不会阻止删除。
func (a *Agent) DeleteTask(ctx context.Context, taskID string) (result *DeleteTaskResult, err error) {
	ctx, done := a.operation(ctx, "delete_task")
	defer func() { done(err) }()

	a.mu.Lock()
	defer a.mu.Unlock()

	t, err := a.store.GetTask(ctx, taskID)
	if err != nil {
		return nil, err
	}
	all, err := a.store.ListTasks(ctx)
	if err != nil {
		return nil, err
	}
	dependents := []string{}
	for _, other := range all {
		for _, dep := range other.Dependencies {
			if dep == taskID {
				dependents = append(dependents, other.ID)
				break
			}
		}
	}
	if len(dependents) > 0 {
		logger.Named("goalagent").Warn("被删除的任务仍被其他任务依赖",
			slog.String("task_id", taskID),
			slog.Any("dependent_tasks", dependents),
		)
	}

	if err := a.store.DeleteTask(ctx, taskID); err != nil {
		return nil, err
	}
	a.cache.EvictTasks(ctx, taskID)
	// 目标缓存中的 task_ids 已过期。
	a.cache.EvictGoal(ctx, t.GoalID)

	a.publish(ctx, events.New(events.TaskDeleted, t.GoalID, taskID, "", a.now()))
	logger.Audit().Info("task deleted", slog.String("task_id", taskID), slog.String("goal_id", t.GoalID))
	return &DeleteTaskResult{
		DeletedTaskID:  taskID,
		GoalID:         t.GoalID,
		DependentTasks: dependents,
		Success:        true,
	}, nil
}
