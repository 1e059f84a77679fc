// Package scheduler 以固定间隔驱动交易周期：单线程顺序执行，
// 上一轮结束后才开始计时下一轮。
package scheduler

import (
	"context"
	"runtime/debug"
	"time"

	"shortbot/internal/logger"
)

// Run 立即执行一次 fn，然后按 interval 循环，直到 ctx 取消。
// fn 内部 panic 被捕获并记录，循环继续下一轮。
func Run(ctx context.Context, interval time.Duration, fn func(context.Context)) {
	if interval <= 0 {
		interval = time.Minute
	}
	for {
		runOnce(ctx, fn)
		select {
		case <-ctx.Done():
			logger.Infof("调度器退出: %v", ctx.Err())
			return
		case <-time.After(interval):
		}
	}
}

func runOnce(ctx context.Context, fn func(context.Context)) {
	defer func() {
		if r := recover(); r != nil {
			logger.Errorf("周期内发生 panic: %v\n%s", r, debug.Stack())
		}
	}()
	if ctx.Err() != nil {
		return
	}
	fn(ctx)
}
