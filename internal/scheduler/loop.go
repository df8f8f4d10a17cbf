package scheduler

import (
	"context"
	"time"

	"perpagent/internal/logger"
)

// Loop 顺序执行任务：执行一轮 → 休眠 Interval → 下一轮。
// 取消只在休眠期间生效，正在执行的一轮总会跑完。
type Loop struct {
	Interval time.Duration

	// sleep 可在测试中替换；返回 false 表示 ctx 已取消。
	sleep func(ctx context.Context, d time.Duration) bool
}

func NewLoop(interval time.Duration) *Loop {
	return &Loop{Interval: interval, sleep: sleepCtx}
}

// Run 阻塞运行直到 ctx 取消，返回 ctx.Err()。
func (l *Loop) Run(ctx context.Context, task func(ctx context.Context)) error {
	if task == nil {
		logger.Warnf("scheduler: task is nil, exit")
		return nil
	}
	if l.Interval <= 0 {
		logger.Warnf("scheduler: invalid interval=%s, exit", l.Interval)
		return nil
	}
	sleep := l.sleep
	if sleep == nil {
		sleep = sleepCtx
	}
	logger.Infof("scheduler: started interval=%s", l.Interval)
	round := 0
	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		round++
		started := time.Now()
		// 任务使用独立于取消信号的 ctx，保证一轮内的下单不会被中途打断。
		task(context.WithoutCancel(ctx))
		logger.Infof("scheduler: round=%d finished in %s, next in %s", round, time.Since(started).Truncate(time.Millisecond), l.Interval)
		if !sleep(ctx, l.Interval) {
			logger.Infof("scheduler: stopped after round=%d", round)
			return ctx.Err()
		}
	}
}

func sleepCtx(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
