package goalagent

import (
	"context"

	"golang.org/x/sync/errgroup"

	xerrors "OpenMCP-Goals/internal/errors"
	"OpenMCP-Goals/internal/goal"
)

// idGenerator 分配目标与任务 ID，调用方必须持有 Agent 的锁。
type idGenerator struct {
	goalSeq int
	taskSeq int
}

// recoverIDs 并发扫描已有 ID，从最大数字后缀继续分配。
func recoverIDs(ctx context.Context, store goal.Store) (*idGenerator, error) {
	gen := &idGenerator{}
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		ids, err := store.IDs(gctx, goal.KindGoal)
		if err != nil {
			return err
		}
		gen.goalSeq = maxSequence(ids)
		return nil
	})
	g.Go(func() error {
		ids, err := store.IDs(gctx, goal.KindTask)
		if err != nil {
			return err
		}
		gen.taskSeq = maxSequence(ids)
		return nil
	})
	if err := g.Wait(); err != nil {
		return nil, xerrors.Wrap(xerrors.CodeInitializationFailure, err, "恢复 ID 计数器失败")
	}
	return gen, nil
}

// maxSequence 返回可解析后缀中的最大值，忽略无法解析的 ID。
func maxSequence(ids []string) int {
	highest := 0
	for _, id := range ids {
		if seq, ok := goal.SequenceOf(id); ok && seq > highest {
			highest = seq
		}
	}
	return highest
}

func (g *idGenerator) nextGoal() string {
	g.goalSeq++
	return goal.FormatID(goal.KindGoal, g.goalSeq)
}

func (g *idGenerator) nextTask() string {
	g.taskSeq++
	return goal.FormatID(goal.KindTask, g.taskSeq)
}
