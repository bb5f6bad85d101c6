package goalagent

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"OpenMCP-Goals/internal/events"
	"OpenMCP-Goals/internal/goal"
	"OpenMCP-Goals/internal/planner"
	"OpenMCP-Goals/pkg/logger"
)

// CreateGoal 创建处于 planned 状态的目标。未指定优先级时使用 medium。
func (a *Agent) CreateGoal(ctx context.Context, req CreateGoalRequest) (created *goal.Goal, err error) {
	ctx, done := a.operation(ctx, "create_goal")
	defer func() { done(err) }()

	description := strings.TrimSpace(req.Description)
	if description == "" {
		return nil, goal.InvalidGoal("Goal description cannot be empty")
	}
	priority := req.Priority
	if priority == "" {
		priority = goal.PriorityMedium
	}
	if !priority.Valid() {
		return nil, goal.InvalidGoal("Priority must be 'high', 'medium', or 'low'")
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	now := a.now().UTC()
	g := &goal.Goal{
		ID:          a.ids.nextGoal(),
		Description: description,
		Priority:    priority,
		Status:      goal.GoalPlanned,
		Repos:       append([]string{}, req.Repos...),
		TaskIDs:     []string{},
		CreatedAt:   now,
		UpdatedAt:   now,
		Metadata:    goal.CloneMetadata(req.Metadata),
	}
	if g.Metadata == nil {
		g.Metadata = map[string]any{}
	}
	if err := a.store.CreateGoal(ctx, g); err != nil {
		return nil, err
	}

	a.cache.SetGoal(ctx, g)
	a.publish(ctx, events.New(events.GoalCreated, g.ID, "", string(g.Status), now))
	logger.Audit().Info("goal created",
		slog.String("goal_id", g.ID),
		slog.String("priority", string(g.Priority)),
	)
	return g, nil
}

// BreakDownGoal 为目标创建子任务并将目标置为 in_progress。
// 所有子任务在写入前统一校验；指向不存在任务的依赖只记录告警日志。
func (a *Agent) BreakDownGoal(ctx context.Context, goalID string, subtasks []Subtask) (updated *goal.Goal, err error) {
	ctx, done := a.operation(ctx, "break_down_goal")
	defer func() { done(err) }()

	a.mu.Lock()
	defer a.mu.Unlock()

	if _, err := a.store.GetGoal(ctx, goalID); err != nil {
		return nil, err
	}
	if len(subtasks) == 0 {
		return nil, goal.InvalidTask("At least one subtask must be provided")
	}
	for i, st := range subtasks {
		if strings.TrimSpace(st.Description) == "" {
			return nil, goal.InvalidTask("Each subtask must have a description (subtask %d)", i+1)
		}
	}

	log := logger.Named("goalagent")
	now := a.now().UTC()
	created := make([]*goal.Task, 0, len(subtasks))
	for _, st := range subtasks {
		t := newTask(a.ids.nextTask(), goalID, st, now)
		if err := a.store.CreateTask(ctx, t); err != nil {
			return nil, err
		}
		a.cache.SetTask(ctx, t)
		a.publish(ctx, events.New(events.TaskCreated, goalID, t.ID, string(t.Status), now))
		created = append(created, t)
		log.Debug("任务已创建", slog.String("task_id", t.ID), slog.String("goal_id", goalID))
	}
	a.warnMissingDependenciesLocked(ctx, created)

	status := goal.GoalInProgress
	updated, err = a.store.UpdateGoal(ctx, goalID, goal.GoalUpdate{Status: &status, UpdatedAt: now})
	if err != nil {
		return nil, err
	}
	a.cache.SetGoal(ctx, updated)
	a.publish(ctx, events.New(events.GoalUpdated, goalID, "", string(updated.Status), now))
	log.Info("目标已拆解", slog.String("goal_id", goalID), slog.Int("tasks", len(created)))
	return updated, nil
}

func newTask(id, goalID string, st Subtask, now time.Time) *goal.Task {
	priority := st.Priority
	if !priority.Valid() {
		priority = goal.PriorityMedium
	}
	taskType := strings.TrimSpace(st.Type)
	if taskType == "" {
		taskType = goal.DefaultTaskType
	}
	return &goal.Task{
		ID:              id,
		GoalID:          goalID,
		Description:     strings.TrimSpace(st.Description),
		Type:            taskType,
		Status:          goal.TaskPending,
		Priority:        priority,
		Dependencies:    append([]string{}, st.Dependencies...),
		Repo:            st.Repo,
		ExternalTicket:  st.ExternalTicket,
		EstimatedEffort: st.EstimatedEffort,
		AssignedTools:   append([]string{}, st.Tools...),
		CreatedAt:       now,
		UpdatedAt:       now,
	}
}

func (a *Agent) warnMissingDependenciesLocked(ctx context.Context, created []*goal.Task) {
	known := make(map[string]bool, len(created))
	for _, t := range created {
		known[t.ID] = true
	}
	log := logger.Named("goalagent")
	for _, t := range created {
		for _, dep := range t.Dependencies {
			exists, checked := known[dep]
			if !checked {
				_, err := a.store.GetTask(ctx, dep)
				exists = err == nil
				known[dep] = exists
			}
			if !exists {
				log.Warn("依赖任务不存在", slog.String("dependency", dep), slog.String("task_id", t.ID))
			}
		}
	}
}

// GetGoal 优先从缓存读取目标，并附带通过同一缓存路径解析的任务详情。
func (a *Agent) GetGoal(ctx context.Context, goalID string) (view *GoalView, err error) {
	ctx, done := a.operation(ctx, "get_goal")
	defer func() { done(err) }()

	a.mu.Lock()
	defer a.mu.Unlock()

	g, hit := a.cache.GetGoal(ctx, goalID)
	if !hit {
		g, err = a.store.GetGoal(ctx, goalID)
		if err != nil {
			return nil, err
		}
		a.cache.SetGoal(ctx, g)
	}

	details := make([]*goal.Task, 0, len(g.TaskIDs))
	for _, taskID := range g.TaskIDs {
		t, _, err := a.loadTaskLocked(ctx, taskID)
		if err != nil {
			logger.Named("goalagent").Warn("读取任务详情失败",
				slog.String("goal_id", goalID),
				slog.String("task_id", taskID),
				slog.Any("error", err),
			)
			continue
		}
		details = append(details, t)
	}
	return &GoalView{Goal: g, TaskDetails: details, CacheStatus: a.cacheStatus(hit)}, nil
}

// ListGoals 返回符合过滤条件的目标，非法过滤值记录日志后忽略。
func (a *Agent) ListGoals(ctx context.Context, filter GoalFilter) (goals []*goal.Goal, err error) {
	ctx, done := a.operation(ctx, "list_goals")
	defer func() { done(err) }()

	log := logger.Named("goalagent")
	opts := []goal.ListOption{goal.WithLimit(filter.Limit), goal.WithOffset(filter.Offset)}
	if filter.Status != "" {
		if filter.Status.Valid() {
			opts = append(opts, goal.WithGoalStatus(filter.Status))
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
	return a.store.ListGoals(ctx, opts...)
}

// UpdateGoal 局部更新目标，只校验调用方提供的字段。
func (a *Agent) UpdateGoal(ctx context.Context, goalID string, patch GoalPatch) (updated *goal.Goal, err error) {
	ctx, done := a.operation(ctx, "update_goal")
	defer func() { done(err) }()

	a.mu.Lock()
	defer a.mu.Unlock()

	current, err := a.store.GetGoal(ctx, goalID)
	if err != nil {
		return nil, err
	}

	update := goal.GoalUpdate{
		Priority: patch.Priority,
		Status:   patch.Status,
		Repos:    patch.Repos,
		Metadata: patch.Metadata,
	}
	if patch.Description != nil {
		description := strings.TrimSpace(*patch.Description)
		if description == "" {
			return nil, goal.InvalidGoal("Description cannot be empty")
		}
		update.Description = &description
	}
	if patch.Priority != nil && !patch.Priority.Valid() {
		return nil, goal.InvalidGoal("Priority must be 'high', 'medium', or 'low'")
	}
	if patch.Status != nil && !patch.Status.Valid() {
		return nil, goal.InvalidGoal("Invalid status: %s", *patch.Status)
	}

	// 空补丁不写存储也不发事件。
	if update.Empty() {
		return current, nil
	}

	now := a.now().UTC()
	update.UpdatedAt = now
	updated, err = a.store.UpdateGoal(ctx, goalID, update)
	if err != nil {
		return nil, err
	}
	a.cache.SetGoal(ctx, updated)
	a.publish(ctx, events.New(events.GoalUpdated, goalID, "", string(updated.Status), now))
	logger.Audit().Info("goal updated", slog.String("goal_id", goalID), slog.String("status", string(updated.Status)))
	return updated, nil
}

// DeleteGoal 级联删除目标及其任务，并清理对应缓存。
func (a *Agent) DeleteGoal(ctx context.Context, goalID string) (result *DeleteGoalResult, err error) {
	ctx, done := a.operation(ctx, "delete_goal")
	defer func() { done(err) }()

	a.mu.Lock()
	defer a.mu.Unlock()

	taskIDs, err := a.store.DeleteGoal(ctx, goalID)
	if err != nil {
		return nil, err
	}
	if taskIDs == nil {
		taskIDs = []string{}
	}
	a.cache.EvictGoal(ctx, goalID)
	a.cache.EvictTasks(ctx, taskIDs...)

	a.publish(ctx, events.New(events.GoalDeleted, goalID, "", "", a.now()))
	logger.Audit().Info("goal deleted", slog.String("goal_id", goalID), slog.Int("tasks", len(taskIDs)))
	return &DeleteGoalResult{
		DeletedGoalID: goalID,
		DeletedTasks:  len(taskIDs),
		TaskIDs:       taskIDs,
		Success:       true,
	}, nil
}

// GenerateExecutionPlan 按依赖关系把目标的任务划分为执行阶段。
func (a *Agent) GenerateExecutionPlan(ctx context.Context, goalID string) (plan *ExecutionPlan, err error) {
	ctx, done := a.operation(ctx, "generate_execution_plan")
	defer func() { done(err) }()

	a.mu.Lock()
	defer a.mu.Unlock()

	g, err := a.store.GetGoal(ctx, goalID)
	if err != nil {
		return nil, err
	}
	tasks, err := a.store.ListTasks(ctx, goal.WithGoalID(goalID))
	if err != nil {
		return nil, err
	}

	plan = &ExecutionPlan{
		GoalID:          goalID,
		GoalDescription: g.Description,
		Plan:            planner.Build(tasks),
	}
	if len(tasks) == 0 {
		plan.Message = "No tasks defined for this goal"
		return plan, nil
	}

	log := logger.Named("goalagent")
	if n := len(plan.Phases); n > 0 && plan.Phases[n-1].Warning != "" {
		log.Warn("目标存在循环依赖", slog.String("goal_id", goalID), slog.Int("tasks", plan.Phases[n-1].TaskCount))
	}
	log.Info("已生成执行计划", slog.String("goal_id", goalID), slog.Int("phases", plan.TotalPhases))
	return plan, nil
}
