package sqlstore

import (
	"context"
	"database/sql"
	stdErrors "errors"
	"strings"

	xerrors "OpenMCP-Goals/internal/errors"
	"OpenMCP-Goals/internal/goal"
)

const goalColumns = `id, description, priority, status, repos, metadata, created_at, updated_at`

type rowScanner interface {
	Scan(dest ...any) error
}

// CreateGoal 插入新的目标记录。
func (s *Store) CreateGoal(ctx context.Context, g *goal.Goal) error {
	if g == nil || strings.TrimSpace(g.ID) == "" {
		return xerrors.New(xerrors.CodeInvalidArgument, "目标 ID 不能为空")
	}
	repos, err := marshalStrings(g.Repos)
	if err != nil {
		return xerrors.Wrap(xerrors.CodeInvalidArgument, err, "编码目标 repos 失败")
	}
	metadata, err := marshalMetadata(g.Metadata)
	if err != nil {
		return xerrors.Wrap(xerrors.CodeInvalidArgument, err, "编码目标 metadata 失败")
	}

	const stmt = `INSERT INTO goals
        (id, seq, description, priority, status, repos, metadata, created_at, updated_at)
        VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`

	_, err = s.db.ExecContext(ctx, s.dialect.rebind(stmt),
		g.ID,
		sequence(g.ID),
		g.Description,
		string(g.Priority),
		string(g.Status),
		repos,
		metadata,
		millis(g.CreatedAt),
		millis(g.UpdatedAt),
	)
	if err != nil {
		if s.dialect.isDuplicate(err) {
			return goal.ErrGoalConflict
		}
		return xerrors.Wrap(xerrors.CodeStorageFailure, err, "插入目标失败")
	}
	return nil
}

// GetGoal 查询目标及其任务 ID。
func (s *Store) GetGoal(ctx context.Context, id string) (*goal.Goal, error) {
	row := s.db.QueryRowContext(ctx, s.dialect.rebind(`SELECT `+goalColumns+` FROM goals WHERE id = ?`), id)
	g, err := scanGoal(row)
	if err != nil {
		if stdErrors.Is(err, sql.ErrNoRows) {
			return nil, goal.GoalNotFound(id)
		}
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "查询目标失败")
	}
	taskIDs, err := s.taskIDsByGoal(ctx, []string{id})
	if err != nil {
		return nil, err
	}
	g.TaskIDs = taskIDs[id]
	if g.TaskIDs == nil {
		g.TaskIDs = []string{}
	}
	return g, nil
}

// ListGoals 按创建顺序返回符合条件的目标。
func (s *Store) ListGoals(ctx context.Context, opts ...goal.ListOption) ([]*goal.Goal, error) {
	options := goal.BuildListOptions(opts)

	query := `SELECT ` + goalColumns + ` FROM goals`
	conditions := make([]string, 0, 2)
	args := make([]any, 0, 4)
	if options.GoalStatus != "" {
		conditions = append(conditions, "status = ?")
		args = append(args, string(options.GoalStatus))
	}
	if options.Priority != "" {
		conditions = append(conditions, "priority = ?")
		args = append(args, string(options.Priority))
	}
	if len(conditions) > 0 {
		query += " WHERE " + strings.Join(conditions, " AND ")
	}
	query += " ORDER BY seq, id"
	query, args = appendWindow(query, args, options)

	rows, err := s.db.QueryContext(ctx, s.dialect.rebind(query), args...)
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "查询目标列表失败")
	}
	defer rows.Close()

	goals := make([]*goal.Goal, 0)
	ids := make([]string, 0)
	for rows.Next() {
		g, err := scanGoal(rows)
		if err != nil {
			return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "解析目标记录失败")
		}
		goals = append(goals, g)
		ids = append(ids, g.ID)
	}
	if err := rows.Err(); err != nil {
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "遍历目标失败")
	}
	if len(goals) == 0 {
		return goals, nil
	}

	taskIDs, err := s.taskIDsByGoal(ctx, ids)
	if err != nil {
		return nil, err
	}
	for _, g := range goals {
		g.TaskIDs = taskIDs[g.ID]
		if g.TaskIDs == nil {
			g.TaskIDs = []string{}
		}
	}
	return goals, nil
}

// UpdateGoal 局部更新目标，metadata 与已有值合并。
func (s *Store) UpdateGoal(ctx context.Context, id string, update goal.GoalUpdate) (*goal.Goal, error) {
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
	if update.Repos != nil {
		repos, err := marshalStrings(*update.Repos)
		if err != nil {
			return nil, xerrors.Wrap(xerrors.CodeInvalidArgument, err, "编码目标 repos 失败")
		}
		sets = append(sets, "repos = ?")
		args = append(args, repos)
	}
	if len(update.Metadata) > 0 {
		current, err := s.goalMetadata(ctx, id)
		if err != nil {
			return nil, err
		}
		metadata, err := marshalMetadata(goal.MergeMetadata(current, update.Metadata))
		if err != nil {
			return nil, xerrors.Wrap(xerrors.CodeInvalidArgument, err, "编码目标 metadata 失败")
		}
		sets = append(sets, "metadata = ?")
		args = append(args, metadata)
	}
	sets = append(sets, "updated_at = ?")
	args = append(args, millis(update.UpdatedAt), id)

	stmt := `UPDATE goals SET ` + strings.Join(sets, ", ") + ` WHERE id = ?`
	if _, err := s.db.ExecContext(ctx, s.dialect.rebind(stmt), args...); err != nil {
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "更新目标失败")
	}
	return s.GetGoal(ctx, id)
}

// DeleteGoal 在同一事务中删除目标与其任务。
func (s *Store) DeleteGoal(ctx context.Context, id string) ([]string, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "开启删除事务失败")
	}

	rows, err := tx.QueryContext(ctx, s.dialect.rebind(`SELECT id FROM tasks WHERE goal_id = ? ORDER BY seq, id`), id)
	if err != nil {
		tx.Rollback()
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "查询目标任务失败")
	}
	taskIDs := make([]string, 0)
	for rows.Next() {
		var taskID string
		if err := rows.Scan(&taskID); err != nil {
			rows.Close()
			tx.Rollback()
			return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "解析任务 ID 失败")
		}
		taskIDs = append(taskIDs, taskID)
	}
	rows.Close()

	if _, err := tx.ExecContext(ctx, s.dialect.rebind(`DELETE FROM tasks WHERE goal_id = ?`), id); err != nil {
		tx.Rollback()
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "删除目标任务失败")
	}
	res, err := tx.ExecContext(ctx, s.dialect.rebind(`DELETE FROM goals WHERE id = ?`), id)
	if err != nil {
		tx.Rollback()
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "删除目标失败")
	}
	if affected, _ := res.RowsAffected(); affected == 0 {
		tx.Rollback()
		return nil, goal.GoalNotFound(id)
	}
	if err := tx.Commit(); err != nil {
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "提交删除事务失败")
	}
	return taskIDs, nil
}

func (s *Store) goalMetadata(ctx context.Context, id string) (map[string]any, error) {
	var raw sql.NullString
	err := s.db.QueryRowContext(ctx, s.dialect.rebind(`SELECT metadata FROM goals WHERE id = ?`), id).Scan(&raw)
	if err != nil {
		if stdErrors.Is(err, sql.ErrNoRows) {
			return nil, goal.GoalNotFound(id)
		}
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "查询目标 metadata 失败")
	}
	metadata, err := unmarshalMetadata(raw)
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "解析目标 metadata 失败")
	}
	return metadata, nil
}

func (s *Store) taskIDsByGoal(ctx context.Context, goalIDs []string) (map[string][]string, error) {
	placeholders := make([]string, len(goalIDs))
	args := make([]any, len(goalIDs))
	for i, id := range goalIDs {
		placeholders[i] = "?"
		args[i] = id
	}
	query := `SELECT goal_id, id FROM tasks WHERE goal_id IN (` + strings.Join(placeholders, ", ") + `) ORDER BY seq, id`
	rows, err := s.db.QueryContext(ctx, s.dialect.rebind(query), args...)
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "查询目标任务失败")
	}
	defer rows.Close()

	result := make(map[string][]string, len(goalIDs))
	for rows.Next() {
		var goalID, taskID string
		if err := rows.Scan(&goalID, &taskID); err != nil {
			return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "解析任务 ID 失败")
		}
		result[goalID] = append(result[goalID], taskID)
	}
	if err := rows.Err(); err != nil {
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "遍历任务 ID 失败")
	}
	return result, nil
}

func scanGoal(row rowScanner) (*goal.Goal, error) {
	var (
		g                    goal.Goal
		repos, metadata      sql.NullString
		createdAt, updatedAt int64
	)
	if err := row.Scan(&g.ID, &g.Description, &g.Priority, &g.Status, &repos, &metadata, &createdAt, &updatedAt); err != nil {
		return nil, err
	}
	var err error
	if g.Repos, err = unmarshalStrings(repos); err != nil {
		return nil, err
	}
	if g.Metadata, err = unmarshalMetadata(metadata); err != nil {
		return nil, err
	}
	g.CreatedAt = fromMillis(createdAt)
	g.UpdatedAt = fromMillis(updatedAt)
	return &g, nil
}
