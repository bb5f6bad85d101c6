package sqlstore

import (
	"context"
	"database/sql"
	"encoding/json"
	stdErrors "errors"
	"strings"

	xerrors "OpenMCP-Goals/internal/errors"
	"OpenMCP-Goals/internal/goal"
)

const taskColumns = `id, goal_id, description, type, status, priority, dependencies, repo, external_ticket,
        estimated_effort, assigned_tools, result, created_at, updated_at, completed_at`

// CreateTask 插入任务，所属目标不存在时返回 NotFound。
func (s *Store) CreateTask(ctx context.Context, t *goal.Task) error {
	if t == nil || strings.TrimSpace(t.ID) == "" {
		return xerrors.New(xerrors.CodeInvalidArgument, "任务 ID 不能为空")
	}
	deps, err := marshalStrings(t.Dependencies)
	if err != nil {
		return xerrors.Wrap(xerrors.CodeInvalidArgument, err, "编码任务依赖失败")
	}
	tools, err := marshalStrings(t.AssignedTools)
	if err != nil {
		return xerrors.Wrap(xerrors.CodeInvalidArgument, err, "编码任务工具失败")
	}
	var completedAt sql.NullInt64
	if t.CompletedAt != nil {
		completedAt = sql.NullInt64{Int64: t.CompletedAt.UnixMilli(), Valid: true}
	}

	const stmt = `INSERT INTO tasks
        (id, seq, goal_id, description, type, status, priority, dependencies, repo, external_ticket,
        estimated_effort, assigned_tools, result, created_at, updated_at, completed_at)
        VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`

	_, err = s.db.ExecContext(ctx, s.dialect.rebind(stmt),
		t.ID,
		sequence(t.ID),
		t.GoalID,
		t.Description,
		t.Type,
		string(t.Status),
		string(t.Priority),
		deps,
		t.Repo,
		t.ExternalTicket,
		t.EstimatedEffort,
		tools,
		rawJSON(t.Result),
		millis(t.CreatedAt),
		millis(t.UpdatedAt),
		completedAt,
	)
	if err != nil {
		switch {
		case s.dialect.isDuplicate(err):
			return goal.ErrTaskConflict
		case s.dialect.isForeignKey(err):
			return goal.GoalNotFound(t.GoalID)
		}
		return xerrors.Wrap(xerrors.CodeStorageFailure, err, "插入任务失败")
	}
	return nil
}

// GetTask 查询指定任务。
func (s *Store) GetTask(ctx context.Context, id string) (*goal.Task, error) {
	row := s.db.QueryRowContext(ctx, s.dialect.rebind(`SELECT `+taskColumns+` FROM tasks WHERE id = ?`), id)
	t, err := scanTask(row)
	if err != nil {
		if stdErrors.Is(err, sql.ErrNoRows) {
			return nil, goal.TaskNotFound(id)
		}
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "查询任务失败")
	}
	return t, nil
}

// ListTasks 按创建顺序返回符合条件的任务。
func (s *Store) ListTasks(ctx context.Context, opts ...goal.ListOption) ([]*goal.Task, error) {
	options := goal.BuildListOptions(opts)

	query := `SELECT ` + taskColumns + ` FROM tasks`
	clause, args := buildTaskFilter(options)
	if clause != "" {
		query += " WHERE " + clause
	}
	query += " ORDER BY seq, id"
	query, args = appendWindow(query, args, options)

	rows, err := s.db.QueryContext(ctx, s.dialect.rebind(query), args...)
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "查询任务列表失败")
	}
	defer rows.Close()

	tasks := make([]*goal.Task, 0)
	for rows.Next() {
		t, err := scanTask(rows)
		if err != nil {
			return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "解析任务记录失败")
		}
		tasks = append(tasks, t)
	}
	if err := rows.Err(); err != nil {
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "遍历任务失败")
	}
	return tasks, nil
}

// UpdateTask 局部更新任务并返回最新状态。
func (s *Store) UpdateTask(ctx context.Context, id string, update goal.TaskUpdate) (*goal.Task, error) {
	sets := make([]string, 0, 6)
	args := make([]any, 0, 7)

	if update.Description != nil {
		sets = append(sets, "description = ?")
		args = append(args, *update.Description)
	}
	if update.Priority != nil {
		sets = append(sets, "priority = ?")
		args = append(args, string(*update.Priority))
	}
	if update.Status != nil {
		sets = append(sets, "status = ?")
		args = append(args, string(*update.Status))
	}
	if update.Result != nil {
		sets = append(sets, "result = ?")
		args = append(args, rawJSON(update.Result))
	}
	if update.CompletedAt != nil {
		sets = append(sets, "completed_at = ?")
		args = append(args, update.CompletedAt.UnixMilli())
	}
	sets = append(sets, "updated_at = ?")
	args = append(args, millis(update.UpdatedAt), id)

	stmt := `UPDATE tasks SET ` + strings.Join(sets, ", ") + ` WHERE id = ?`
	if _, err := s.db.ExecContext(ctx, s.dialect.rebind(stmt), args...); err != nil {
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "更新任务失败")
	}
	return s.GetTask(ctx, id)
}

// DeleteTask 删除单个任务。
func (s *Store) DeleteTask(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, s.dialect.rebind(`DELETE FROM tasks WHERE id = ?`), id)
	if err != nil {
		return xerrors.Wrap(xerrors.CodeStorageFailure, err, "删除任务失败")
	}
	if affected, _ := res.RowsAffected(); affected == 0 {
		return goal.TaskNotFound(id)
	}
	return nil
}

func buildTaskFilter(opts goal.ListOptions) (string, []any) {
	conditions := make([]string, 0, 3)
	args := make([]any, 0, 3)
	if opts.GoalID != "" {
		conditions = append(conditions, "goal_id = ?")
		args = append(args, opts.GoalID)
	}
	if opts.TaskStatus != "" {
		conditions = append(conditions, "status = ?")
		args = append(args, string(opts.TaskStatus))
	}
	if opts.Priority != "" {
		conditions = append(conditions, "priority = ?")
		args = append(args, string(opts.Priority))
	}
	return strings.Join(conditions, " AND "), args
}

func scanTask(row rowScanner) (*goal.Task, error) {
	var (
		t                    goal.Task
		deps, tools, result  sql.NullString
		createdAt, updatedAt int64
		completedAt          sql.NullInt64
	)
	if err := row.Scan(
		&t.ID,
		&t.GoalID,
		&t.Description,
		&t.Type,
		&t.Status,
		&t.Priority,
		&deps,
		&t.Repo,
		&t.ExternalTicket,
		&t.EstimatedEffort,
		&tools,
		&result,
		&createdAt,
		&updatedAt,
		&completedAt,
	); err != nil {
		return nil, err
	}
	var err error
	if t.Dependencies, err = unmarshalStrings(deps); err != nil {
		return nil, err
	}
	if t.AssignedTools, err = unmarshalStrings(tools); err != nil {
		return nil, err
	}
	if result.Valid && strings.TrimSpace(result.String) != "" {
		t.Result = json.RawMessage(result.String)
	}
	t.CreatedAt = fromMillis(createdAt)
	t.UpdatedAt = fromMillis(updatedAt)
	if completedAt.Valid {
		completed := fromMillis(completedAt.Int64)
		t.CompletedAt = &completed
	}
	return &t, nil
}
