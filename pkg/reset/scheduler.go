// 文件: pkg/reset/scheduler.go
// 重置调度器
//
// 【职责】
// 1. 按日历计算下一次重置时刻并等待
// 2. 到点后调用 Apply，把重置义务交给引擎逐账户串行应用
// 3. Apply 失败 (如存储不可用) 时指数退避重试，停在"重置待定"状态，
//    绝不丢弃一个交易日的重置义务

package reset

import (
	"context"
	"log"
	"sync"
	"time"
)

// ApplyFunc 应用一次重置
// tradingDay 是本次重置开启的交易日标识；实现必须幂等
type ApplyFunc func(ctx context.Context, firedAt time.Time, tradingDay string) error

// SchedulerConfig 调度器配置
type SchedulerConfig struct {
	RetryBase time.Duration // 退避起始间隔
	RetryCap  time.Duration // 退避上限
}

// DefaultSchedulerConfig 默认配置
func DefaultSchedulerConfig() SchedulerConfig {
	return SchedulerConfig{
		RetryBase: time.Second,
		RetryCap:  time.Minute,
	}
}

// Scheduler 重置调度器
type Scheduler struct {
	cfg   SchedulerConfig
	cal   *Calendar
	apply ApplyFunc

	stopCh chan struct{}
	wg     sync.WaitGroup

	// now 可注入，测试用
	now func() time.Time
}

// NewScheduler 创建调度器
func NewScheduler(cfg SchedulerConfig, cal *Calendar, apply ApplyFunc) *Scheduler {
	return &Scheduler{
		cfg:    cfg,
		cal:    cal,
		apply:  apply,
		stopCh: make(chan struct{}),
		now:    time.Now,
	}
}

// Start 启动调度循环
func (s *Scheduler) Start(ctx context.Context) {
	s.wg.Add(1)
	go s.loop(ctx)
}

// Stop 停止调度
func (s *Scheduler) Stop() {
	close(s.stopCh)
	s.wg.Wait()
}

// loop 调度主循环
func (s *Scheduler) loop(ctx context.Context) {
	defer s.wg.Done()

	for {
		next := s.cal.NextReset(s.now())
		log.Printf("[Reset] next reset scheduled at %s", next)

		t := time.NewTimer(time.Until(next))
		select {
		case <-ctx.Done():
			t.Stop()
			return
		case <-s.stopCh:
			t.Stop()
			return
		case <-t.C:
		}

		if !s.fire(ctx, next) {
			return // 停止信号打断了重试
		}
	}
}

// fire 应用一次重置，失败则退避重试
// 返回 false 表示收到停止信号
func (s *Scheduler) fire(ctx context.Context, firedAt time.Time) bool {
	tradingDay := s.cal.TradingDay(firedAt)
	backoff := s.cfg.RetryBase

	for {
		err := s.apply(ctx, firedAt, tradingDay)
		if err == nil {
			log.Printf("[Reset] applied: trading_day=%s", tradingDay)
			return true
		}

		// 重置待定: 义务保留，退避后再试
		log.Printf("[Reset] apply failed (pending, retry in %s): %v", backoff, err)

		t := time.NewTimer(backoff)
		select {
		case <-ctx.Done():
			t.Stop()
			return false
		case <-s.stopCh:
			t.Stop()
			return false
		case <-t.C:
		}

		backoff *= 2
		if backoff > s.cfg.RetryCap {
			backoff = s.cfg.RetryCap
		}
	}
}
