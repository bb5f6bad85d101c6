package sqlstore

import (
	"context"
	"database/sql/driver"
	stdErrors "errors"
	"io/fs"
	"path"
	"testing"
	"time"

	xerrors "OpenMCP-Goals/internal/errors"
	"OpenMCP-Goals/internal/goal"

	"github.com/go-sql-driver/mysql"
	"github.com/jackc/pgx/v5/pgconn"
)

var (
	goalCols = []string{"id", "description", "priority", "status", "repos", "metadata", "created_at", "updated_at"}
	taskCols = []string{"id", "goal_id", "description", "type", "status", "priority", "dependencies", "repo", "external_ticket",
		"estimated_effort", "assigned_tools", "result", "created_at", "updated_at", "completed_at"}
)

const (
	selectGoalSQL    = `SELECT id, description, priority, status, repos, metadata, created_at, updated_at FROM goals WHERE id = ?`
	selectTaskIDsSQL = `SELECT goal_id, id FROM tasks WHERE goal_id IN (?) ORDER BY seq, id`
	selectTaskSQL    = `SELECT id, goal_id, description, type, status, priority, dependencies, repo, external_ticket,
        estimated_effort, assigned_tools, result, created_at, updated_at, completed_at FROM tasks WHERE id = ?`
	insertGoalSQL = `INSERT INTO goals (id, seq, description, priority, status, repos, metadata, created_at, updated_at)
        VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`
	insertTaskSQL = `INSERT INTO tasks (id, seq, goal_id, description, type, status, priority, dependencies, repo, external_ticket,
        estimated_effort, assigned_tools, result, created_at, updated_at, completed_at)
        VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`
)

func taskRow(id, goalID string, status goal.TaskStatus, deps string) []driver.Value {
	return []driver.Value{id, goalID, "desc " + id, "general", string(status), "high", deps, "", "", "", "[]", nil, int64(1000), int64(2000), nil}
}

func TestCreateGoalStoresSequence(t *testing.T) {
	t.Parallel()

	store, drv := newScriptedStore(t, MySQL, expectExec(insertGoalSQL, 1))
	now := time.UnixMilli(1700000000000).UTC()
	err := store.CreateGoal(context.Background(), &goal.Goal{
		ID: "GOAL-0012", Description: "ship", Priority: goal.PriorityHigh, Status: goal.GoalPlanned,
		Repos: []string{"api"}, CreatedAt: now, UpdatedAt: now,
	})
	if err != nil {
		t.Fatalf("create goal: %v", err)
	}
	args := drv.argsAt(0)
	if args[1].Value != int64(12) {
		t.Fatalf("expected seq 12, got %v", args[1].Value)
	}
	if args[5].Value != `["api"]` {
		t.Fatalf("unexpected repos encoding: %v", args[5].Value)
	}
	if args[6].Value != nil {
		t.Fatalf("empty metadata should be NULL, got %v", args[6].Value)
	}
	if args[7].Value != now.UnixMilli() {
		t.Fatalf("unexpected created_at: %v", args[7].Value)
	}
}

func TestCreateGoalDuplicate(t *testing.T) {
	t.Parallel()

	store, _ := newScriptedStore(t, MySQL, expectExecErr(insertGoalSQL, &mysql.MySQLError{Number: 1062, Message: "Duplicate entry"}))
	err := store.CreateGoal(context.Background(), &goal.Goal{ID: "GOAL-0001"})
	if !stdErrors.Is(err, goal.ErrGoalConflict) {
		t.Fatalf("expected conflict, got %v", err)
	}
}

func TestGetGoalHydratesTaskIDs(t *testing.T) {
	t.Parallel()

	store, _ := newScriptedStore(t, MySQL,
		expectQuery(selectGoalSQL, goalCols, []driver.Value{"GOAL-0001", "ship", "high", "in_progress", `["api","web"]`, `{"owner":"ops"}`, int64(1000), int64(2000)}),
		expectQuery(selectTaskIDsSQL, []string{"goal_id", "id"},
			[]driver.Value{"GOAL-0001", "TASK-0001"},
			[]driver.Value{"GOAL-0001", "TASK-0002"},
		),
	)
	g, err := store.GetGoal(context.Background(), "GOAL-0001")
	if err != nil {
		t.Fatalf("get goal: %v", err)
	}
	if g.Status != goal.GoalInProgress || len(g.Repos) != 2 || g.Metadata["owner"] != "ops" {
		t.Fatalf("unexpected goal: %+v", g)
	}
	if len(g.TaskIDs) != 2 || g.TaskIDs[1] != "TASK-0002" {
		t.Fatalf("unexpected task ids: %v", g.TaskIDs)
	}
	if g.CreatedAt.UnixMilli() != 1000 {
		t.Fatalf("unexpected created_at: %v", g.CreatedAt)
	}
}

func TestGetGoalNotFound(t *testing.T) {
	t.Parallel()

	store, _ := newScriptedStore(t, MySQL, expectQuery(selectGoalSQL, goalCols))
	_, err := store.GetGoal(context.Background(), "GOAL-0404")
	if !stdErrors.Is(err, goal.ErrGoalNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
	if xerrors.TypeOf(err) != "NotFoundError" {
		t.Fatalf("unexpected type: %s", xerrors.TypeOf(err))
	}
}

func TestCreateTaskMapsDriverErrors(t *testing.T) {
	t.Parallel()

	store, _ := newScriptedStore(t, MySQL,
		expectExecErr(insertTaskSQL, &mysql.MySQLError{Number: 1452, Message: "foreign key"}),
		expectExecErr(insertTaskSQL, &mysql.MySQLError{Number: 1062, Message: "Duplicate entry"}),
		expectExecErr(insertTaskSQL, stdErrors.New("connection reset")),
	)
	ctx := context.Background()
	task := &goal.Task{ID: "TASK-0001", GoalID: "GOAL-0404"}

	if err := store.CreateTask(ctx, task); !stdErrors.Is(err, goal.ErrGoalNotFound) {
		t.Fatalf("expected goal not found, got %v", err)
	}
	if err := store.CreateTask(ctx, task); !stdErrors.Is(err, goal.ErrTaskConflict) {
		t.Fatalf("expected conflict, got %v", err)
	}
	err := store.CreateTask(ctx, task)
	if xerrors.TypeOf(err) != "StoreError" || !xerrors.ShouldAlert(err) {
		t.Fatalf("expected alerting StoreError, got %v", err)
	}
}

func TestUpdateTaskBuildsPartialUpdate(t *testing.T) {
	t.Parallel()

	store, drv := newScriptedStore(t, MySQL,
		expectExec(`UPDATE tasks SET status = ?, completed_at = ?, updated_at = ? WHERE id = ?`, 1),
		expectQuery(selectTaskSQL, taskCols, taskRow("TASK-0001", "GOAL-0001", goal.TaskCompleted, `[]`)),
	)
	status := goal.TaskCompleted
	done := time.UnixMilli(5000).UTC()
	task, err := store.UpdateTask(context.Background(), "TASK-0001", goal.TaskUpdate{Status: &status, CompletedAt: &done, UpdatedAt: done})
	if err != nil {
		t.Fatalf("update task: %v", err)
	}
	if task.Status != goal.TaskCompleted {
		t.Fatalf("unexpected status: %s", task.Status)
	}
	args := drv.argsAt(0)
	if len(args) != 4 || args[0].Value != "completed" || args[1].Value != int64(5000) || args[3].Value != "TASK-0001" {
		t.Fatalf("unexpected args: %+v", args)
	}
}

func TestUpdateGoalMergesMetadata(t *testing.T) {
	t.Parallel()

	store, drv := newScriptedStore(t, MySQL,
		expectQuery(`SELECT metadata FROM goals WHERE id = ?`, []string{"metadata"}, []driver.Value{`{"owner":"ops"}`}),
		expectExec(`UPDATE goals SET metadata = ?, updated_at = ? WHERE id = ?`, 1),
		expectQuery(selectGoalSQL, goalCols, []driver.Value{"GOAL-0001", "ship", "high", "planned", `[]`, `{"owner":"ops","sprint":"7"}`, int64(1), int64(2)}),
		expectQuery(selectTaskIDsSQL, []string{"goal_id", "id"}),
	)
	g, err := store.UpdateGoal(context.Background(), "GOAL-0001", goal.GoalUpdate{Metadata: map[string]any{"sprint": "7"}})
	if err != nil {
		t.Fatalf("update goal: %v", err)
	}
	if g.Metadata["sprint"] != "7" || len(g.TaskIDs) != 0 {
		t.Fatalf("unexpected goal: %+v", g)
	}
	written, _ := drv.argsAt(1)[0].Value.(string)
	if written != `{"owner":"ops","sprint":"7"}` {
		t.Fatalf("metadata not merged before write: %s", written)
	}
}

func TestDeleteGoalCascadesInTransaction(t *testing.T) {
	t.Parallel()

	store, _ := newScriptedStore(t, MySQL,
		expectBegin(),
		expectQuery(`SELECT id FROM tasks WHERE goal_id = ? ORDER BY seq, id`, []string{"id"},
			[]driver.Value{"TASK-0001"}, []driver.Value{"TASK-0002"}),
		expectExec(`DELETE FROM tasks WHERE goal_id = ?`, 2),
		expectExec(`DELETE FROM goals WHERE id = ?`, 1),
		expectCommit(),
	)
	ids, err := store.DeleteGoal(context.Background(), "GOAL-0001")
	if err != nil {
		t.Fatalf("delete goal: %v", err)
	}
	if len(ids) != 2 || ids[0] != "TASK-0001" {
		t.Fatalf("unexpected deleted ids: %v", ids)
	}
}

func TestDeleteGoalMissingRollsBack(t *testing.T) {
	t.Parallel()

	store, _ := newScriptedStore(t, MySQL,
		expectBegin(),
		expectQuery(`SELECT id FROM tasks WHERE goal_id = ? ORDER BY seq, id`, []string{"id"}),
		expectExec(`DELETE FROM tasks WHERE goal_id = ?`, 0),
		expectExec(`DELETE FROM goals WHERE id = ?`, 0),
		expectRollback(),
	)
	if _, err := store.DeleteGoal(context.Background(), "GOAL-0404"); !stdErrors.Is(err, goal.ErrGoalNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestListTasksFiltersAndWindow(t *testing.T) {
	t.Parallel()

	store, drv := newScriptedStore(t, MySQL,
		expectQuery(`SELECT id, goal_id, description, type, status, priority, dependencies, repo, external_ticket,
        estimated_effort, assigned_tools, result, created_at, updated_at, completed_at FROM tasks
        WHERE goal_id = ? AND status = ? ORDER BY seq, id LIMIT ? OFFSET ?`, taskCols,
			taskRow("TASK-0003", "GOAL-0001", goal.TaskPending, `["TASK-0001"]`)),
	)
	tasks, err := store.ListTasks(context.Background(),
		goal.WithGoalID("GOAL-0001"), goal.WithTaskStatus(goal.TaskPending), goal.WithLimit(5), goal.WithOffset(2))
	if err != nil {
		t.Fatalf("list tasks: %v", err)
	}
	if len(tasks) != 1 || tasks[0].Dependencies[0] != "TASK-0001" {
		t.Fatalf("unexpected tasks: %+v", tasks)
	}
	if tasks[0].Result != nil || tasks[0].CompletedAt != nil {
		t.Fatalf("NULL columns should stay empty: %+v", tasks[0])
	}
	args := drv.argsAt(0)
	if len(args) != 4 || args[2].Value != int64(5) || args[3].Value != int64(2) {
		t.Fatalf("unexpected args: %+v", args)
	}
}

func TestDeleteTaskNotFound(t *testing.T) {
	t.Parallel()

	store, _ := newScriptedStore(t, MySQL, expectExec(`DELETE FROM tasks WHERE id = ?`, 0))
	if err := store.DeleteTask(context.Background(), "TASK-0404"); !stdErrors.Is(err, goal.ErrTaskNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestIDsAndCounts(t *testing.T) {
	t.Parallel()

	store, _ := newScriptedStore(t, MySQL,
		expectQuery(`SELECT id FROM goals`, []string{"id"}, []driver.Value{"GOAL-0007"}, []driver.Value{"GOAL-0002"}),
		expectQuery(`SELECT COUNT(*) FROM tasks`, []string{"count"}, []driver.Value{int64(3)}),
	)
	ids, err := store.IDs(context.Background(), goal.KindGoal)
	if err != nil || len(ids) != 2 {
		t.Fatalf("unexpected ids %v err %v", ids, err)
	}
	n, err := store.CountTasks(context.Background())
	if err != nil || n != 3 {
		t.Fatalf("unexpected count %d err %v", n, err)
	}
}

func TestPostgresDialect(t *testing.T) {
	t.Parallel()

	store, _ := newScriptedStore(t, Postgres,
		expectExecErr(`INSERT INTO tasks (id, seq, goal_id, description, type, status, priority, dependencies, repo, external_ticket,
        estimated_effort, assigned_tools, result, created_at, updated_at, completed_at)
        VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16)`, &pgconn.PgError{Code: "23503"}),
		expectExec(`DELETE FROM tasks WHERE id = $1`, 1),
	)
	ctx := context.Background()
	if err := store.CreateTask(ctx, &goal.Task{ID: "TASK-0001", GoalID: "GOAL-0404"}); !stdErrors.Is(err, goal.ErrGoalNotFound) {
		t.Fatalf("expected goal not found, got %v", err)
	}
	if err := store.DeleteTask(ctx, "TASK-0001"); err != nil {
		t.Fatalf("delete task: %v", err)
	}
	if !Postgres.isDuplicate(&pgconn.PgError{Code: "23505"}) || MySQL.isDuplicate(&pgconn.PgError{Code: "23505"}) {
		t.Fatalf("duplicate detection is dialect specific")
	}
}

func TestDialectFor(t *testing.T) {
	for _, name := range []string{"postgres", "PostgreSQL", "pgx"} {
		if d, ok := DialectFor(name); !ok || d.Name() != "postgres" {
			t.Fatalf("DialectFor(%q) = %v, %v", name, d.Name(), ok)
		}
	}
	if _, ok := DialectFor("sqlite"); ok {
		t.Fatalf("sqlite should not be supported")
	}
}

func TestMigrateAppliesPendingFiles(t *testing.T) {
	t.Parallel()

	statements := migrationStatements(t, "mysql", "0001_create_goals_tasks.sql")
	steps := []step{
		expectExec(`CREATE TABLE IF NOT EXISTS schema_migrations (
        version VARCHAR(32) NOT NULL PRIMARY KEY,
        applied_at BIGINT NOT NULL
)`, 0),
		expectQuery(`SELECT version FROM schema_migrations`, []string{"version"}),
		expectBegin(),
	}
	for _, stmt := range statements {
		steps = append(steps, expectExec(stmt, 0))
	}
	steps = append(steps,
		expectExec(`INSERT INTO schema_migrations (version, applied_at) VALUES (?, ?)`, 1),
		expectCommit(),
	)

	store, drv := newScriptedStore(t, MySQL, steps...)
	if err := store.Migrate(context.Background()); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	version := drv.argsAt(2 + len(statements))[0].Value
	if version != "0001" {
		t.Fatalf("unexpected version recorded: %v", version)
	}
}

func TestMigrateSkipsAppliedVersions(t *testing.T) {
	t.Parallel()

	store, _ := newScriptedStore(t, Postgres,
		expectExec(`CREATE TABLE IF NOT EXISTS schema_migrations (
        version VARCHAR(32) NOT NULL PRIMARY KEY,
        applied_at BIGINT NOT NULL
)`, 0),
		expectQuery(`SELECT version FROM schema_migrations`, []string{"version"}, []driver.Value{"0001"}),
	)
	if err := store.Migrate(context.Background()); err != nil {
		t.Fatalf("migrate: %v", err)
	}
}

func migrationStatements(t *testing.T, dir, name string) []string {
	t.Helper()
	content, err := fs.ReadFile(embeddedMigrations, path.Join(dir, name))
	if err != nil {
		t.Fatalf("read migration: %v", err)
	}
	statements := splitSQLStatements(string(content))
	if len(statements) == 0 {
		t.Fatalf("no statements in %s", name)
	}
	return statements
}
