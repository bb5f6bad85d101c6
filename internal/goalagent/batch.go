package goalagent

import (
	"context"
	"log/slog"

	"github.com/google/uuid"

	xerrors "OpenMCP-Goals/internal/errors"
	"OpenMCP-Goals/internal/executor"
	"OpenMCP-Goals/internal/goal"
	"OpenMCP-Goals/internal/observability/metrics"
	"OpenMCP-Goals/pkg/logger"
)

// BatchUpdateTasks 并发更新多个任务的状态。单项失败记录在 Failed 中，不影响其他项。
// 调用方上下文结束时返回已收集的结果和超时错误。
func (a *Agent) BatchUpdateTasks(ctx context.Context, updates []TaskStatusUpdate) (result *BatchUpdateResult, err error) {
	ctx, done := a.operation(ctx, "batch_update_tasks")
	defer func() { done(err) }()

	if len(updates) == 0 {
		return nil, goal.InvalidTask("At least one update must be provided")
	}

	result = &BatchUpdateResult{
		BatchID:    uuid.NewString(),
		Successful: []BatchItem{},
		Failed:     []BatchItem{},
		Total:      len(updates),
	}
	log := logger.Named("goalagent").With(slog.String("batch_id", result.BatchID))
	log.Info("开始批量更新任务", slog.Int("total", len(updates)))

	runnable := make([]TaskStatusUpdate, 0, len(updates))
	for _, u := range updates {
		if u.TaskID == "" || u.Status == "" {
			result.Failed = append(result.Failed, BatchItem{TaskID: u.TaskID, Error: "Missing task_id or status"})
			continue
		}
		runnable = append(runnable, u)
	}

	outcomes, waitErr := executor.Map(ctx, a.pool, runnable, func(ctx context.Context, u TaskStatusUpdate) (*goal.Task, error) {
		return a.UpdateTaskStatus(ctx, u.TaskID, u.Status, u.Result)
	})
	for _, out := range outcomes {
		u := runnable[out.Index]
		if out.Err != nil {
			result.Failed = append(result.Failed, BatchItem{TaskID: u.TaskID, Error: xerrors.MessageOf(out.Err)})
			log.Warn("批量更新单项失败", slog.String("task_id", u.TaskID), slog.Any("error", out.Err))
			continue
		}
		result.Successful = append(result.Successful, BatchItem{TaskID: u.TaskID, Status: out.Value.Status})
	}

	metrics.ObserveBatchItems("batch_update_tasks", "success", len(result.Successful))
	metrics.ObserveBatchItems("batch_update_tasks", "failure", len(result.Failed))
	log.Info("批量更新完成",
		slog.Int("successful", len(result.Successful)),
		slog.Int("failed", len(result.Failed)),
	)
	if waitErr != nil {
		return result, xerrors.Wrap(xerrors.CodeTimeout, waitErr, "批量更新未在超时前完成")
	}
	return result, nil
}

// BatchGetTasks 并发读取多个任务。不存在的 ID 记录在 NotFound 中。
func (a *Agent) BatchGetTasks(ctx context.Context, taskIDs []string) (result *BatchGetResult, err error) {
	ctx, done := a.operation(ctx, "batch_get_tasks")
	defer func() { done(err) }()

	if len(taskIDs) == 0 {
		return nil, goal.InvalidTask("At least one task id must be provided")
	}

	result = &BatchGetResult{
		BatchID:  uuid.NewString(),
		Tasks:    []*TaskView{},
		NotFound: []string{},
		Failed:   []BatchItem{},
		Total:    len(taskIDs),
	}
	log := logger.Named("goalagent").With(slog.String("batch_id", result.BatchID))
	log.Info("开始批量读取任务", slog.Int("total", len(taskIDs)))

	outcomes, waitErr := executor.Map(ctx, a.pool, taskIDs, a.GetTask)
	for _, out := range outcomes {
		id := taskIDs[out.Index]
		switch {
		case out.Err == nil:
			result.Tasks = append(result.Tasks, out.Value)
		case xerrors.CategoryOf(out.Err) == xerrors.CategoryNotFound:
			result.NotFound = append(result.NotFound, id)
		default:
			result.Failed = append(result.Failed, BatchItem{TaskID: id, Error: xerrors.MessageOf(out.Err)})
			log.Error("批量读取单项失败", slog.String("task_id", id), slog.Any("error", out.Err))
		}
	}

	metrics.ObserveBatchItems("batch_get_tasks", "success", len(result.Tasks))
	metrics.ObserveBatchItems("batch_get_tasks", "not_found", len(result.NotFound))
	metrics.ObserveBatchItems("batch_get_tasks", "failure", len(result.Failed))
	if waitErr != nil {
		return result, xerrors.Wrap(xerrors.CodeTimeout, waitErr, "批量读取未在超时前完成")
	}
	return result, nil
}
