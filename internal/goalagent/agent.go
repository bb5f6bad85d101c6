package goalagent

import (
	"context"
	stdErrors "errors"
	"log/slog"
	"sync"
	"time"

	"OpenMCP-Goals/internal/cache"
	xerrors "OpenMCP-Goals/internal/errors"
	"OpenMCP-Goals/internal/events"
	"OpenMCP-Goals/internal/executor"
	"OpenMCP-Goals/internal/goal"
	"OpenMCP-Goals/internal/observability/alerting"
	"OpenMCP-Goals/internal/observability/metrics"
	"OpenMCP-Goals/pkg/logger"
)

// DefaultTimeout 是单个操作的默认超时时间。
const DefaultTimeout = 30 * time.Second

// Agent 管理目标与任务的全部状态迁移。
//
// 所有状态迁移都在 mu 下串行执行。Go 的互斥锁不可重入：公开方法负责加锁，
// 以 Locked 结尾的内部方法假定调用方已持有锁。批量操作的工作单元调用公开方法，
// 因此会各自重新获取锁。
type Agent struct {
	mu        sync.Mutex
	store     goal.Store
	cache     *cache.Layer
	pool      *executor.Pool
	publisher events.Publisher
	alerts    alerting.Dispatcher
	ids       *idGenerator
	now       func() time.Time
	timeout   time.Duration
	workers   int

	closeOnce sync.Once
	closeErr  error
}

// Option 定义可选的 Agent 配置。
type Option func(*Agent)

// WithWorkers 设置批量执行池的工作协程数量。
func WithWorkers(n int) Option {
	return func(a *Agent) {
		a.workers = n
	}
}

// WithTimeout 设置单个操作的超时时间，非正值表示不设超时。
func WithTimeout(timeout time.Duration) Option {
	return func(a *Agent) {
		if timeout <= 0 {
			a.timeout = 0
			return
		}
		a.timeout = timeout
	}
}

// WithPublisher 配置领域事件发布器。
func WithPublisher(p events.Publisher) Option {
	return func(a *Agent) {
		if p != nil {
			a.publisher = p
		}
	}
}

// WithAlerts 配置告警分发器。
func WithAlerts(d alerting.Dispatcher) Option {
	return func(a *Agent) {
		a.alerts = d
	}
}

// WithClock 替换时间来源，主要用于测试。
func WithClock(now func() time.Time) Option {
	return func(a *Agent) {
		if now != nil {
			a.now = now
		}
	}
}

// New 创建 Agent，并从存储中恢复 ID 计数器。layer 为 nil 时缓存视为关闭。
func New(ctx context.Context, store goal.Store, layer *cache.Layer, opts ...Option) (*Agent, error) {
	if store == nil {
		return nil, xerrors.New(xerrors.CodeInitializationFailure, "goal store is required")
	}
	if layer == nil {
		layer = cache.Disabled()
	}
	a := &Agent{
		store:     store,
		cache:     layer,
		publisher: events.Nop{},
		now:       time.Now,
		timeout:   DefaultTimeout,
		workers:   executor.DefaultSize,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(a)
		}
	}

	ids, err := recoverIDs(ctx, store)
	if err != nil {
		return nil, err
	}
	a.ids = ids
	a.pool = executor.NewPool(a.workers)
	a.workers = a.pool.Size()

	logger.Named("goalagent").Info("Goal agent 初始化完成",
		slog.Int("workers", a.workers),
		slog.Bool("cache_enabled", layer.Enabled()),
		slog.Duration("timeout", a.timeout),
		slog.Int("goal_counter", ids.goalSeq),
		slog.Int("task_counter", ids.taskSeq),
	)
	return a, nil
}

// Stats 返回计数、计数器与依赖健康状况。
func (a *Agent) Stats(ctx context.Context) (stats *Stats, err error) {
	ctx, done := a.operation(ctx, "get_agent_status")
	defer func() { done(err) }()

	a.mu.Lock()
	defer a.mu.Unlock()

	goals, err := a.store.CountGoals(ctx)
	if err != nil {
		return nil, err
	}
	tasks, err := a.store.CountTasks(ctx)
	if err != nil {
		return nil, err
	}
	return &Stats{
		Goals:          goals,
		Tasks:          tasks,
		GoalCounter:    a.ids.goalSeq,
		TaskCounter:    a.ids.taskSeq,
		CacheEnabled:   a.cache.Enabled(),
		CacheAvailable: a.cache.Available(ctx),
		StoreHealthy:   a.store.Ping(ctx) == nil,
		Workers:        a.workers,
		Timeout:        a.timeout.String(),
		Timestamp:      a.now().UTC(),
	}, nil
}

// Healthy 探测持久化存储是否可用。
func (a *Agent) Healthy(ctx context.Context) error {
	ctx, cancel := a.withTimeout(ctx)
	defer cancel()
	return a.store.Ping(ctx)
}

// Close 先排空执行池，再依次关闭事件发布器、缓存与存储。重复调用返回首次结果。
func (a *Agent) Close(ctx context.Context) error {
	a.closeOnce.Do(func() {
		log := logger.Named("goalagent")
		log.Info("正在关闭 Goal agent")

		var errs []error
		if err := a.pool.Shutdown(ctx); err != nil {
			errs = append(errs, err)
		}
		if err := a.publisher.Close(); err != nil {
			errs = append(errs, err)
		}
		if err := a.cache.Close(); err != nil {
			errs = append(errs, err)
		}
		if err := a.store.Close(); err != nil {
			errs = append(errs, err)
		}
		a.closeErr = stdErrors.Join(errs...)
		if a.closeErr != nil {
			log.Error("关闭 Goal agent 时出现错误", slog.Any("error", a.closeErr))
		}
	})
	return a.closeErr
}

func (a *Agent) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if a.timeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, a.timeout)
}

// operation 为一次调用派生带超时的上下文，返回的回调负责记录指标和告警。
func (a *Agent) operation(ctx context.Context, name string) (context.Context, func(error)) {
	start := time.Now()
	ctx, cancel := a.withTimeout(ctx)
	return ctx, func(err error) {
		cancel()
		outcome := "success"
		if err != nil {
			outcome = string(xerrors.CategoryOf(err))
		}
		metrics.ObserveOperation(name, outcome, time.Since(start))
		if err == nil {
			return
		}

		log := logger.Named("goalagent")
		switch xerrors.CategoryOf(err) {
		case xerrors.CategoryValidation, xerrors.CategoryNotFound:
			log.Debug("操作被拒绝", slog.String("operation", name), slog.String("error", err.Error()))
		default:
			log.Error("操作失败",
				slog.String("operation", name),
				slog.String("code", string(xerrors.CodeOf(err))),
				slog.Any("error", err),
			)
		}
		a.alert(name, err)
	}
}

func (a *Agent) alert(operation string, err error) {
	if a.alerts == nil || !xerrors.ShouldAlert(err) {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if notifyErr := a.alerts.Notify(ctx, alerting.FromError(operation, err, a.now())); notifyErr != nil {
		logger.Named("goalagent").Warn("发送告警失败", slog.Any("error", notifyErr))
	}
}

// publish 投递领域事件，失败只记录日志。
func (a *Agent) publish(ctx context.Context, event events.Event) {
	if err := a.publisher.Publish(ctx, event); err != nil {
		logger.Named("goalagent").Warn("发布事件失败",
			slog.String("type", string(event.Type)),
			slog.String("goal_id", event.GoalID),
			slog.String("task_id", event.TaskID),
			slog.Any("error", err),
		)
	}
}

func (a *Agent) cacheStatus(hit bool) CacheStatus {
	status := CacheStatus{Enabled: a.cache.Enabled(), ServedFrom: ServedFromStore}
	if hit {
		status.ServedFrom = ServedFromCache
		status.CacheHit = true
	}
	return status
}
