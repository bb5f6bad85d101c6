package executor

import (
	"context"
	"fmt"
	"log/slog"
	"runtime/debug"
	"sync"

	xerrors "OpenMCP-Goals/internal/errors"
	"OpenMCP-Goals/pkg/logger"
)

// ErrPoolClosed 表示执行池已关闭，不再接受新任务。
var ErrPoolClosed = xerrors.New(xerrors.CodeExecutorFailure, "executor pool closed")

// DefaultSize 是未配置时的工作协程数量。
const DefaultSize = 10

// Pool 是固定大小的工作协程池。
type Pool struct {
	jobs   chan func()
	size   int
	wg     sync.WaitGroup
	mu     sync.RWMutex
	closed bool
	once   sync.Once
	done   chan struct{}
}

// NewPool 创建并启动 size 个工作协程。
func NewPool(size int) *Pool {
	if size <= 0 {
		size = DefaultSize
	}
	p := &Pool{
		jobs: make(chan func(), size*4),
		size: size,
		done: make(chan struct{}),
	}
	for i := 0; i < size; i++ {
		p.wg.Add(1)
		go p.worker()
	}
	return p
}

// Size 返回工作协程数量。
func (p *Pool) Size() int { return p.size }

func (p *Pool) worker() {
	defer p.wg.Done()
	for job := range p.jobs {
		job()
	}
}

// Submit 投递一个独立的工作单元。队列已满时阻塞直到 ctx 结束。
// fn 内的 panic 会被恢复并记录，不影响其他工作单元。
func (p *Pool) Submit(ctx context.Context, fn func()) error {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.closed {
		return ErrPoolClosed
	}
	job := func() {
		defer func() {
			if r := recover(); r != nil {
				logger.Named("executor").Error("工作单元 panic",
					slog.Any("panic", r),
					slog.String("stack", string(debug.Stack())),
				)
			}
		}()
		fn()
	}
	select {
	case p.jobs <- job:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Shutdown 拒绝新任务并等待排队与执行中的任务完成。
func (p *Pool) Shutdown(ctx context.Context) error {
	p.once.Do(func() {
		p.mu.Lock()
		p.closed = true
		close(p.jobs)
		p.mu.Unlock()
		go func() {
			p.wg.Wait()
			close(p.done)
		}()
	})
	select {
	case <-p.done:
		return nil
	case <-ctx.Done():
		return xerrors.Wrap(xerrors.CodeTimeout, ctx.Err(), "等待执行池排空超时")
	}
}

// Result 是批量执行中单个元素的结果。
type Result[T any] struct {
	Index int
	Value T
	Err   error
}

// Map 在池中并发执行 fn，每个元素一个工作单元，通过同一个结果通道汇合。
// 结果按完成顺序返回。工作单元使用脱离取消的上下文运行；调用方放弃等待时
// 返回已收集的结果和 ctx 的错误，未完成的单元继续执行至结束。
func Map[In, Out any](ctx context.Context, p *Pool, items []In, fn func(context.Context, In) (Out, error)) ([]Result[Out], error) {
	results := make(chan Result[Out], len(items))
	detached := context.WithoutCancel(ctx)

	for i, item := range items {
		i, item := i, item
		err := p.Submit(ctx, func() {
			res := Result[Out]{Index: i}
			defer func() {
				if r := recover(); r != nil {
					res.Err = xerrors.New(xerrors.CodeExecutorFailure, fmt.Sprintf("工作单元 panic: %v", r))
				}
				results <- res
			}()
			res.Value, res.Err = fn(detached, item)
		})
		if err != nil {
			results <- Result[Out]{Index: i, Err: err}
		}
	}

	collected := make([]Result[Out], 0, len(items))
	for len(collected) < len(items) {
		select {
		case res := <-results:
			collected = append(collected, res)
		case <-ctx.Done():
			return collected, ctx.Err()
		}
	}
	return collected, nil
}
