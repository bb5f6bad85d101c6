package tools

import (
	"context"
	"encoding/json"
	"strings"
	"time"

	"OpenMCP-Goals/internal/goal"
	"OpenMCP-Goals/internal/goalagent"
)

var (
	priorityEnum   = []string{"high", "medium", "low"}
	goalStatusEnum = []string{"planned", "in_progress", "completed", "cancelled"}
	taskStatusEnum = []string{"pending", "in_progress", "completed", "failed", "blocked"}
)

type createGoalArgs struct {
	Description string   `json:"description"`
	Priority    string   `json:"priority"`
	Repos       flexible `json:"repos"`
	Metadata    flexible `json:"metadata"`
}

type goalIDArgs struct {
	GoalID string `json:"goal_id"`
}

type taskIDArgs struct {
	TaskID string `json:"task_id"`
}

type breakDownArgs struct {
	GoalID   string   `json:"goal_id"`
	Subtasks flexible `json:"subtasks"`
}

type listGoalsArgs struct {
	Status   string `json:"status"`
	Priority string `json:"priority"`
}

type listTasksArgs struct {
	GoalID   string `json:"goal_id"`
	Status   string `json:"status"`
	Priority string `json:"priority"`
}

type updateGoalArgs struct {
	GoalID      string   `json:"goal_id"`
	Description *string  `json:"description"`
	Priority    *string  `json:"priority"`
	Status      *string  `json:"status"`
	Repos       flexible `json:"repos"`
	Metadata    flexible `json:"metadata"`
}

type updateTaskStatusArgs struct {
	TaskID string   `json:"task_id"`
	Status string   `json:"status"`
	Result flexible `json:"result"`
}

type batchUpdateArgs struct {
	Updates flexible `json:"updates"`
}

type batchGetArgs struct {
	TaskIDs flexible `json:"task_ids"`
}

// AgentStatus 是 get_agent_status 的输出。
type AgentStatus struct {
	CurrentState struct {
		Goals       int `json:"goals"`
		Tasks       int `json:"tasks"`
		GoalCounter int `json:"goal_counter"`
		TaskCounter int `json:"task_counter"`
	} `json:"current_state"`
	AgentConfig struct {
		MaxWorkers   int    `json:"max_workers"`
		Timeout      string `json:"timeout"`
		CacheEnabled bool   `json:"cache_enabled"`
	} `json:"agent_config"`
	Health struct {
		CacheAvailable bool `json:"cache_available"`
		StoreHealthy   bool `json:"store_healthy"`
	} `json:"health"`
	Timestamp time.Time `json:"timestamp"`
}

func (r *Registry) registerGoalTools() {
	r.add(Tool{
		Name:        "create_goal",
		Description: "Create a new high-level goal in planned state.",
		Params: []Param{
			{Name: "description", Type: TypeString, Description: "What the goal should achieve", Required: true},
			{Name: "priority", Type: TypeString, Description: "Goal priority, defaults to medium", Enum: priorityEnum},
			{Name: "repos", Type: TypeArray, Items: "string", Description: "Repositories involved"},
			{Name: "metadata", Type: TypeObject, Description: "Free-form metadata"},
		},
		handler: func(ctx context.Context, raw json.RawMessage) (any, error) {
			var args createGoalArgs
			if err := decodeArgs(raw, &args); err != nil {
				return nil, err
			}
			req := goalagent.CreateGoalRequest{Description: args.Description, Priority: goal.Priority(args.Priority)}
			if err := args.Repos.into("repos", &req.Repos); err != nil {
				return nil, err
			}
			if err := args.Metadata.into("metadata", &req.Metadata); err != nil {
				return nil, err
			}
			return r.agent.CreateGoal(ctx, req)
		},
	})

	r.add(Tool{
		Name:        "break_down_goal",
		Description: "Break a goal down into executable subtasks with optional dependencies.",
		Params: []Param{
			{Name: "goal_id", Type: TypeString, Description: "Goal to break down", Required: true},
			{Name: "subtasks", Type: TypeArray, Items: "object", Description: "Subtasks: description, type, priority, dependencies, repo, external_ticket, estimated_effort, tools", Required: true},
		},
		handler: func(ctx context.Context, raw json.RawMessage) (any, error) {
			var args breakDownArgs
			if err := decodeArgs(raw, &args); err != nil {
				return nil, err
			}
			if err := required("goal_id", args.GoalID); err != nil {
				return nil, err
			}
			var subtasks []goalagent.Subtask
			if err := args.Subtasks.into("subtasks", &subtasks); err != nil {
				return nil, err
			}
			return r.agent.BreakDownGoal(ctx, args.GoalID, subtasks)
		},
	})

	r.add(Tool{
		Name:        "get_goal",
		ReadOnly:    true,
		Description: "Get a goal with its task details.",
		Params:      []Param{{Name: "goal_id", Type: TypeString, Description: "Goal id", Required: true}},
		handler: func(ctx context.Context, raw json.RawMessage) (any, error) {
			var args goalIDArgs
			if err := decodeArgs(raw, &args); err != nil {
				return nil, err
			}
			if err := required("goal_id", args.GoalID); err != nil {
				return nil, err
			}
			return r.agent.GetGoal(ctx, args.GoalID)
		},
	})

	r.add(Tool{
		Name:        "list_goals",
		ReadOnly:    true,
		Description: "List goals, optionally filtered by status and priority.",
		Params: []Param{
			{Name: "status", Type: TypeString, Description: "Goal status filter", Enum: goalStatusEnum},
			{Name: "priority", Type: TypeString, Description: "Priority filter", Enum: priorityEnum},
		},
		handler: func(ctx context.Context, raw json.RawMessage) (any, error) {
			var args listGoalsArgs
			if err := decodeArgs(raw, &args); err != nil {
				return nil, err
			}
			goals, err := r.agent.ListGoals(ctx, goalagent.GoalFilter{
				Status:   goal.GoalStatus(args.Status),
				Priority: goal.Priority(args.Priority),
			})
			if err != nil {
				return nil, err
			}
			return map[string]any{"goals": nonNil(goals), "total": len(goals)}, nil
		},
	})

	r.add(Tool{
		Name:        "update_goal",
		Description: "Update fields of an existing goal. Metadata keys are merged.",
		Params: []Param{
			{Name: "goal_id", Type: TypeString, Description: "Goal id", Required: true},
			{Name: "description", Type: TypeString, Description: "New description"},
			{Name: "priority", Type: TypeString, Description: "New priority", Enum: priorityEnum},
			{Name: "status", Type: TypeString, Description: "New status", Enum: goalStatusEnum},
			{Name: "repos", Type: TypeArray, Items: "string", Description: "Replacement repository list"},
			{Name: "metadata", Type: TypeObject, Description: "Metadata keys to merge"},
		},
		handler: func(ctx context.Context, raw json.RawMessage) (any, error) {
			var args updateGoalArgs
			if err := decodeArgs(raw, &args); err != nil {
				return nil, err
			}
			if err := required("goal_id", args.GoalID); err != nil {
				return nil, err
			}
			patch := goalagent.GoalPatch{Description: args.Description}
			if args.Priority != nil && *args.Priority != "" {
				p := goal.Priority(*args.Priority)
				patch.Priority = &p
			}
			if args.Status != nil && *args.Status != "" {
				s := goal.GoalStatus(*args.Status)
				patch.Status = &s
			}
			if args.Repos.present() {
				var repos []string
				if err := args.Repos.into("repos", &repos); err != nil {
					return nil, err
				}
				patch.Repos = &repos
			}
			if err := args.Metadata.into("metadata", &patch.Metadata); err != nil {
				return nil, err
			}
			return r.agent.UpdateGoal(ctx, args.GoalID, patch)
		},
	})

	r.add(Tool{
		Name:        "delete_goal",
		Description: "Delete a goal and all of its tasks.",
		Params:      []Param{{Name: "goal_id", Type: TypeString, Description: "Goal id", Required: true}},
		handler: func(ctx context.Context, raw json.RawMessage) (any, error) {
			var args goalIDArgs
			if err := decodeArgs(raw, &args); err != nil {
				return nil, err
			}
			if err := required("goal_id", args.GoalID); err != nil {
				return nil, err
			}
			return r.agent.DeleteGoal(ctx, args.GoalID)
		},
	})

	r.add(Tool{
		Name:        "generate_execution_plan",
		ReadOnly:    true,
		Description: "Group a goal's tasks into dependency-ordered execution phases.",
		Params:      []Param{{Name: "goal_id", Type: TypeString, Description: "Goal id", Required: true}},
		handler: func(ctx context.Context, raw json.RawMessage) (any, error) {
			var args goalIDArgs
			if err := decodeArgs(raw, &args); err != nil {
				return nil, err
			}
			if err := required("goal_id", args.GoalID); err != nil {
				return nil, err
			}
			return r.agent.GenerateExecutionPlan(ctx, args.GoalID)
		},
	})

	r.add(Tool{
		Name:        "get_agent_status",
		ReadOnly:    true,
		Description: "Get goal agent statistics and configuration.",
		handler: func(ctx context.Context, _ json.RawMessage) (any, error) {
			stats, err := r.agent.Stats(ctx)
			if err != nil {
				return nil, err
			}
			var status AgentStatus
			status.CurrentState.Goals = stats.Goals
			status.CurrentState.Tasks = stats.Tasks
			status.CurrentState.GoalCounter = stats.GoalCounter
			status.CurrentState.TaskCounter = stats.TaskCounter
			status.AgentConfig.MaxWorkers = stats.Workers
			status.AgentConfig.Timeout = stats.Timeout
			status.AgentConfig.CacheEnabled = stats.CacheEnabled
			status.Health.CacheAvailable = stats.CacheAvailable
			status.Health.StoreHealthy = stats.StoreHealthy
			status.Timestamp = stats.Timestamp
			return status, nil
		},
	})
}

func (r *Registry) registerTaskTools() {
	r.add(Tool{
		Name:        "get_task",
		ReadOnly:    true,
		Description: "Get a single task.",
		Params:      []Param{{Name: "task_id", Type: TypeString, Description: "Task id", Required: true}},
		handler: func(ctx context.Context, raw json.RawMessage) (any, error) {
			var args taskIDArgs
			if err := decodeArgs(raw, &args); err != nil {
				return nil, err
			}
			if err := required("task_id", args.TaskID); err != nil {
				return nil, err
			}
			return r.agent.GetTask(ctx, args.TaskID)
		},
	})

	r.add(Tool{
		Name:        "list_tasks",
		ReadOnly:    true,
		Description: "List tasks, optionally filtered by goal, status and priority.",
		Params: []Param{
			{Name: "goal_id", Type: TypeString, Description: "Owning goal"},
			{Name: "status", Type: TypeString, Description: "Task status filter", Enum: taskStatusEnum},
			{Name: "priority", Type: TypeString, Description: "Priority filter", Enum: priorityEnum},
		},
		handler: func(ctx context.Context, raw json.RawMessage) (any, error) {
			var args listTasksArgs
			if err := decodeArgs(raw, &args); err != nil {
				return nil, err
			}
			tasks, err := r.agent.ListTasks(ctx, goalagent.TaskFilter{
				GoalID:   args.GoalID,
				Status:   goal.TaskStatus(args.Status),
				Priority: goal.Priority(args.Priority),
			})
			if err != nil {
				return nil, err
			}
			return map[string]any{"tasks": nonNil(tasks), "total": len(tasks)}, nil
		},
	})

	r.add(Tool{
		Name:        "get_next_tasks",
		ReadOnly:    true,
		Description: "List pending tasks whose dependencies are all completed, highest priority first.",
		Params:      []Param{{Name: "goal_id", Type: TypeString, Description: "Restrict to one goal"}},
		handler: func(ctx context.Context, raw json.RawMessage) (any, error) {
			var args goalIDArgs
			if err := decodeArgs(raw, &args); err != nil {
				return nil, err
			}
			tasks, err := r.agent.GetNextTasks(ctx, args.GoalID)
			if err != nil {
				return nil, err
			}
			return map[string]any{"next_tasks": nonNil(tasks), "count": len(tasks)}, nil
		},
	})

	r.add(Tool{
		Name:        "update_task_status",
		Description: "Update a task's status and optional result. Completing the last task completes the goal.",
		Params: []Param{
			{Name: "task_id", Type: TypeString, Description: "Task id", Required: true},
			{Name: "status", Type: TypeString, Description: "New status", Required: true, Enum: taskStatusEnum},
			{Name: "result", Type: TypeObject, Description: "Optional result payload"},
		},
		handler: func(ctx context.Context, raw json.RawMessage) (any, error) {
			var args updateTaskStatusArgs
			if err := decodeArgs(raw, &args); err != nil {
				return nil, err
			}
			if err := required("task_id", args.TaskID); err != nil {
				return nil, err
			}
			if err := required("status", args.Status); err != nil {
				return nil, err
			}
			var result json.RawMessage
			if args.Result.present() {
				result = resultPayload(args.Result)
			}
			return r.agent.UpdateTaskStatus(ctx, args.TaskID, goal.TaskStatus(args.Status), result)
		},
	})

	r.add(Tool{
		Name:        "delete_task",
		Description: "Delete a task. Tasks depending on it are reported but not blocked.",
		Params:      []Param{{Name: "task_id", Type: TypeString, Description: "Task id", Required: true}},
		handler: func(ctx context.Context, raw json.RawMessage) (any, error) {
			var args taskIDArgs
			if err := decodeArgs(raw, &args); err != nil {
				return nil, err
			}
			if err := required("task_id", args.TaskID); err != nil {
				return nil, err
			}
			return r.agent.DeleteTask(ctx, args.TaskID)
		},
	})

	r.add(Tool{
		Name:        "batch_update_tasks",
		Description: "Update several task statuses concurrently.",
		Params: []Param{
			{Name: "updates", Type: TypeArray, Items: "object", Description: "Items with task_id, status and optional result", Required: true},
		},
		handler: func(ctx context.Context, raw json.RawMessage) (any, error) {
			var args batchUpdateArgs
			if err := decodeArgs(raw, &args); err != nil {
				return nil, err
			}
			var updates []goalagent.TaskStatusUpdate
			if err := args.Updates.into("updates", &updates); err != nil {
				return nil, err
			}
			return r.agent.BatchUpdateTasks(ctx, updates)
		},
	})

	r.add(Tool{
		Name:        "batch_get_tasks",
		ReadOnly:    true,
		Description: "Retrieve several tasks concurrently.",
		Params: []Param{
			{Name: "task_ids", Type: TypeArray, Items: "string", Description: "Task ids", Required: true},
		},
		handler: func(ctx context.Context, raw json.RawMessage) (any, error) {
			var args batchGetArgs
			if err := decodeArgs(raw, &args); err != nil {
				return nil, err
			}
			var ids []string
			if err := args.TaskIDs.into("task_ids", &ids); err != nil {
				return nil, err
			}
			return r.agent.BatchGetTasks(ctx, ids)
		},
	})
}

// resultPayload 保留合法 JSON；其他文本按字符串保存。
func resultPayload(raw flexible) json.RawMessage {
	if json.Valid(raw) {
		return json.RawMessage(raw)
	}
	encoded, _ := json.Marshal(strings.TrimSpace(string(raw)))
	return encoded
}

func nonNil[T any](items []T) []T {
	if items == nil {
		return []T{}
	}
	return items
}
