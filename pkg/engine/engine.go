// 文件: pkg/engine/engine.go
// 风控引擎
//
// 【架构】
// - 每个账户一条串行处理通道: 同账户事件严格按到达顺序处理，
//   不同账户互不阻塞 (单一写入者，消灭账户内竞态)
// - 处理顺序: 锁定检查 → 事件落账 → 构建快照 → 规则评估 → 执行裁定
// - 定时器触发与行情事件走同一条账户通道，宽限到期和事件
//   之间不存在并发
// - 审计是旁路: 记录失败不中断风控
//
// 【核心逻辑】执行失败的兜底
// 强平指令发不出去意味着风险敞口还开着，此时强制挂一条
// 无限期硬锁定，人工确认处理完毕后才解锁。

package engine

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"riskd.com/pkg/audit"
	"riskd.com/pkg/event"
	"riskd.com/pkg/lockout"
	"riskd.com/pkg/money"
	"riskd.com/pkg/pnl"
	"riskd.com/pkg/reset"
	"riskd.com/pkg/rules"
	"riskd.com/pkg/timer"
)

// =============================================================================
// 配置
// =============================================================================

// Config 引擎配置
type Config struct {
	QueueSize int // 每账户事件队列长度
}

// DefaultConfig 默认配置
func DefaultConfig() Config {
	return Config{QueueSize: 1024}
}

// Deps 引擎依赖 (全部必填，GraceRule 可为 nil)
type Deps struct {
	Tracker   *pnl.Tracker
	Rules     *rules.Set
	GraceRule *rules.NoStopLossGraceRule // 宽限定时器的路由目标，未启用止损规则时为 nil
	Locks     *lockout.Manager
	Timers    *timer.Manager
	Calendar  *reset.Calendar
	Markers   reset.MarkerRepository
	Recorder  audit.Recorder
	Executor  Executor
	NextID    func() int64
}

var (
	// ErrEngineStopped 引擎已停止，拒绝新事件
	ErrEngineStopped = errors.New("engine stopped")
)

// =============================================================================
// Engine
// =============================================================================

// task 账户通道中的一个工作单元: 事件或定时器触发，二选一
type task struct {
	ev     *event.RiskEvent
	firing *timer.Firing
}

// Engine 风控引擎
type Engine struct {
	cfg  Config
	deps Deps

	mu       sync.Mutex
	workers  map[string]chan task // 每账户串行通道
	accounts map[string]struct{}  // 出现过的账户，重置时遍历

	stopCh  chan struct{}
	stopped bool
	wg      sync.WaitGroup

	// 可注入时钟，测试用
	now func() time.Time
}

// NewEngine 创建引擎
func NewEngine(cfg Config, deps Deps) *Engine {
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = DefaultConfig().QueueSize
	}
	return &Engine{
		cfg:      cfg,
		deps:     deps,
		workers:  make(map[string]chan task),
		accounts: make(map[string]struct{}),
		stopCh:   make(chan struct{}),
		now:      time.Now,
	}
}

// Start 启动引擎 (定时器路由循环)
func (e *Engine) Start(ctx context.Context) {
	e.wg.Add(1)
	go e.timerLoop(ctx)
	log.Println("[Engine] started")
}

// Stop 停止引擎，等待所有账户通道退出
func (e *Engine) Stop() {
	e.mu.Lock()
	if e.stopped {
		e.mu.Unlock()
		return
	}
	e.stopped = true
	e.mu.Unlock()

	close(e.stopCh)
	e.wg.Wait()
	log.Println("[Engine] stopped")
}

// =============================================================================
// 事件入口
// =============================================================================

// Submit 提交一条风控事件
// 路由到账户串行通道；队列满时阻塞 (背压，不丢事件)
func (e *Engine) Submit(ev *event.RiskEvent) error {
	if err := ev.Validate(); err != nil {
		return err
	}

	ch, err := e.workerFor(ev.AccountID)
	if err != nil {
		return err
	}

	select {
	case ch <- task{ev: ev}:
		return nil
	case <-e.stopCh:
		return ErrEngineStopped
	}
}

// workerFor 取账户通道，首次出现时惰性建 worker
func (e *Engine) workerFor(accountID string) (chan task, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.stopped {
		return nil, ErrEngineStopped
	}

	ch, ok := e.workers[accountID]
	if !ok {
		ch = make(chan task, e.cfg.QueueSize)
		e.workers[accountID] = ch
		e.accounts[accountID] = struct{}{}

		e.wg.Add(1)
		go e.accountLoop(accountID, ch)
	}
	return ch, nil
}

// accountLoop 账户串行处理循环
func (e *Engine) accountLoop(accountID string, ch chan task) {
	defer e.wg.Done()

	for {
		select {
		case <-e.stopCh:
			return
		case t := <-ch:
			if t.ev != nil {
				e.processEvent(context.Background(), t.ev)
			} else if t.firing != nil {
				e.processFiring(context.Background(), *t.firing)
			}
		}
	}
}

// timerLoop 把定时器触发路由到对应账户的串行通道
func (e *Engine) timerLoop(ctx context.Context) {
	defer e.wg.Done()

	for {
		select {
		case <-e.stopCh:
			return
		case <-ctx.Done():
			return
		case firing := <-e.deps.Timers.Fired():
			if !e.routeFiring(firing) {
				return
			}
		}
	}
}

// routeFiring 投递一次定时器触发，返回 false 表示引擎正在停止。
// 停机窗口内放弃的触发要留日志: 锁定到期由重启恢复按落库状态重建，
// 但排查时得能看到它在哪一刻被放弃了。
func (e *Engine) routeFiring(firing timer.Firing) bool {
	ch, err := e.workerFor(firing.AccountID)
	if err != nil {
		log.Printf("[Engine] timer firing dropped during shutdown: account=%s purpose=%s id=%d",
			firing.AccountID, firing.Purpose, firing.ID)
		return false
	}
	f := firing
	select {
	case ch <- task{firing: &f}:
		return true
	case <-e.stopCh:
		log.Printf("[Engine] timer firing dropped during shutdown: account=%s purpose=%s id=%d",
			firing.AccountID, firing.Purpose, firing.ID)
		return false
	}
}

// =============================================================================
// 事件处理 (只在账户串行通道内执行)
// =============================================================================

func (e *Engine) processEvent(ctx context.Context, ev *event.RiskEvent) {
	now := e.now()

	// 锁定中的账户不得开新仓
	if ev.Type == event.PositionOpened {
		if locked, reason := e.anyActiveLock(ctx, ev.AccountID); locked {
			if err := e.deps.Executor.RejectOrder(ctx, ev.AccountID, ev.OrderRef); err != nil {
				log.Printf("[Engine] reject order failed: account=%s, err=%v", ev.AccountID, err)
			}
			e.audit(audit.Entry{
				Kind:      audit.EntryViolation,
				AccountID: ev.AccountID,
				Action:    rules.ActionReject.String(),
				Message:   fmt.Sprintf("order rejected while account locked (%s)", reason),
				Timestamp: now,
			})
			return
		}
	}

	// 先落账再评估: 规则看到的是包含本事件的状态
	if err := e.deps.Tracker.Apply(ctx, ev); err != nil {
		var integrity *pnl.IntegrityError
		if errors.As(err, &integrity) {
			e.audit(audit.Entry{
				Kind:      audit.EntryIntegrityViolation,
				AccountID: ev.AccountID,
				Message:   integrity.Error(),
				Timestamp: now,
			})
			return
		}
		// 存储不可用: 事件被拒绝，上游会重投
		log.Printf("[Engine] apply event failed: account=%s, type=%s, err=%v",
			ev.AccountID, ev.Type, err)
		return
	}

	snap, err := e.snapshot(ctx, ev.AccountID, now)
	if err != nil {
		log.Printf("[Engine] build snapshot failed: account=%s, err=%v", ev.AccountID, err)
		return
	}

	verdicts, faults := e.deps.Rules.EvaluateAll(ev, snap)
	for _, fault := range faults {
		e.audit(audit.Entry{
			Kind:      audit.EntryRuleFault,
			AccountID: ev.AccountID,
			RuleName:  fault.RuleName,
			Message:   fault.Err.Error(),
			Timestamp: now,
		})
	}
	if len(verdicts) == 0 {
		return
	}

	for _, v := range verdicts {
		e.audit(audit.Entry{
			Kind:      audit.EntryViolation,
			AccountID: ev.AccountID,
			RuleName:  v.RuleName,
			Action:    v.Action.String(),
			Message:   v.Message,
			Context:   v.Context,
			Timestamp: now,
		})
		if v.Lockout != nil {
			e.engageLockout(ctx, ev.AccountID, v.RuleName, v.Lockout, now)
		}
	}

	// 多条裁定合并为一次最严重的执行动作
	e.enforce(ctx, ev, rules.MostSevere(verdicts), now)
}

// processFiring 定时器触发 (与该账户的事件严格串行)
func (e *Engine) processFiring(ctx context.Context, firing timer.Firing) {
	now := e.now()

	switch firing.Purpose {
	case timer.GracePeriod:
		if e.deps.GraceRule == nil {
			return
		}
		verdict := e.deps.GraceRule.OnGraceExpired(firing)
		if verdict == nil {
			return // 已撤销
		}
		e.audit(audit.Entry{
			Kind:      audit.EntryViolation,
			AccountID: firing.AccountID,
			RuleName:  verdict.RuleName,
			Action:    verdict.Action.String(),
			Message:   verdict.Message,
			Context:   verdict.Context,
			Timestamp: now,
		})
		e.enforceAction(ctx, firing.AccountID, "", verdict.Action, now)

	case timer.CooldownExpiry:
		e.expireLock(ctx, firing.AccountID, lockout.KindCooldown, now)

	case timer.LockoutExpiry:
		e.expireLock(ctx, firing.AccountID, lockout.KindHard, now)
	}
}

func (e *Engine) expireLock(ctx context.Context, accountID string, kind lockout.Kind, now time.Time) {
	if err := e.deps.Locks.Expire(ctx, accountID, kind); err != nil {
		log.Printf("[Engine] expire lockout failed: account=%s, kind=%s, err=%v", accountID, kind, err)
		return
	}
	e.audit(audit.Entry{
		Kind:      audit.EntryLockoutReleased,
		AccountID: accountID,
		Message:   fmt.Sprintf("%s lockout expired", kind),
		Timestamp: now,
	})
}

// snapshot 构建规则评估用的只读快照
func (e *Engine) snapshot(ctx context.Context, accountID string, now time.Time) (*rules.Snapshot, error) {
	daily, err := e.deps.Tracker.DailyPnL(ctx, accountID, now)
	if err != nil {
		return nil, err
	}
	positions, err := e.deps.Tracker.Positions(ctx, accountID)
	if err != nil {
		return nil, err
	}
	return &rules.Snapshot{
		AccountID:     accountID,
		TradingDay:    e.deps.Calendar.TradingDay(now),
		DailyRealized: daily,
		Positions:     positions,
		Now:           now,
	}, nil
}

// =============================================================================
// 裁定执行
// =============================================================================

func (e *Engine) enforce(ctx context.Context, ev *event.RiskEvent, action rules.Action, now time.Time) {
	e.enforceAction(ctx, ev.AccountID, ev.OrderRef, action, now)
}

func (e *Engine) enforceAction(ctx context.Context, accountID, orderRef string, action rules.Action, now time.Time) {
	switch action {
	case rules.ActionFlatten:
		if err := e.deps.Executor.Flatten(ctx, accountID); err != nil {
			e.onEnforcementFailure(ctx, accountID, err, now)
		}
	case rules.ActionReject:
		if err := e.deps.Executor.RejectOrder(ctx, accountID, orderRef); err != nil {
			e.onEnforcementFailure(ctx, accountID, err, now)
		}
	case rules.ActionPause, rules.ActionAlert:
		// 审计已留痕; 暂停由裁定附带的锁定指令生效
	}
}

// onEnforcementFailure 执行失败兜底: 审计 + 无限期硬锁定，等人工处理
func (e *Engine) onEnforcementFailure(ctx context.Context, accountID string, cause error, now time.Time) {
	e.audit(audit.Entry{
		Kind:      audit.EntryEnforcementFailed,
		AccountID: accountID,
		Message:   cause.Error(),
		Timestamp: now,
	})

	_, err := e.deps.Locks.Engage(ctx, accountID, lockout.KindHard,
		"enforcement failure, manual release required", nil)
	if err != nil && !errors.Is(err, lockout.ErrAlreadyLocked) {
		log.Printf("[Engine] failsafe lockout failed: account=%s, err=%v", accountID, err)
		return
	}
	e.audit(audit.Entry{
		Kind:      audit.EntryLockoutEngaged,
		AccountID: accountID,
		Message:   "failsafe hard lockout engaged after enforcement failure",
		Timestamp: now,
	})
}

// engageLockout 执行裁定附带的锁定指令
func (e *Engine) engageLockout(ctx context.Context, accountID, ruleName string, d *rules.LockoutDirective, now time.Time) {
	var expiresAt *time.Time
	if !d.UntilReset {
		at := now.Add(d.Duration)
		expiresAt = &at
	}

	_, err := e.deps.Locks.Engage(ctx, accountID, d.Kind,
		fmt.Sprintf("rule %s", ruleName), expiresAt)
	if err != nil {
		if errors.Is(err, lockout.ErrAlreadyLocked) {
			return // 已锁定即目标达成
		}
		log.Printf("[Engine] engage lockout failed: account=%s, rule=%s, err=%v", accountID, ruleName, err)
		return
	}
	e.audit(audit.Entry{
		Kind:      audit.EntryLockoutEngaged,
		AccountID: accountID,
		RuleName:  ruleName,
		Message:   fmt.Sprintf("lockout %s engaged by rule %s", d.Kind, ruleName),
		Timestamp: now,
	})
}

// anyActiveLock 任一种类的活跃锁定
func (e *Engine) anyActiveLock(ctx context.Context, accountID string) (bool, string) {
	for _, kind := range []lockout.Kind{lockout.KindHard, lockout.KindCooldown} {
		locked, err := e.deps.Locks.IsLocked(ctx, accountID, kind)
		if err != nil {
			log.Printf("[Engine] lockout check failed: account=%s, err=%v", accountID, err)
			continue
		}
		if locked {
			return true, string(kind)
		}
	}
	return false, ""
}

func (e *Engine) audit(entry audit.Entry) {
	entry.ID = e.deps.NextID()
	e.deps.Recorder.Record(entry)
}

// =============================================================================
// 交易日重置
// =============================================================================

// ApplyReset 交易日重置 (作为 reset.Scheduler 的 ApplyFunc 挂入)
//
// 每账户幂等: 标记表里已记录该交易日的账户直接跳过，
// 进程在重置中途崩溃后重跑不会二次清零。
// 返回错误则调度器按退避重试，重置义务永不丢弃。
//
// 【注意】重置范围 = 内存账户表 ∪ 存储里持有活跃锁定的账户。
// 重启后内存表只含有未平持仓的账户，"已平仓 + 锁到重置"的账户
// (强平止损后的典型状态) 只存在于锁定存储里，漏掉它锁定就永不过期。
func (e *Engine) ApplyReset(ctx context.Context, firedAt time.Time, tradingDay string) error {
	e.mu.Lock()
	seen := make(map[string]struct{}, len(e.accounts))
	accounts := make([]string, 0, len(e.accounts))
	for id := range e.accounts {
		seen[id] = struct{}{}
		accounts = append(accounts, id)
	}
	e.mu.Unlock()

	locked, err := e.deps.Locks.ActiveAccounts(ctx)
	if err != nil {
		return fmt.Errorf("enumerate locked accounts: %w", err)
	}
	for _, id := range locked {
		if _, ok := seen[id]; !ok {
			accounts = append(accounts, id)
		}
	}

	for _, accountID := range accounts {
		marker, err := e.deps.Markers.Get(ctx, accountID)
		if err != nil {
			return fmt.Errorf("read reset marker for %s: %w", accountID, err)
		}
		if marker != nil && marker.LastApplied == tradingDay {
			continue // 本交易日已重置过
		}

		if err := e.deps.Tracker.ResetDay(ctx, accountID, tradingDay); err != nil {
			return fmt.Errorf("reset pnl for %s: %w", accountID, err)
		}
		if err := e.deps.Locks.ExpireUntilReset(ctx, accountID); err != nil {
			return fmt.Errorf("expire lockouts for %s: %w", accountID, err)
		}
		if err := e.deps.Markers.Upsert(ctx, accountID, tradingDay); err != nil {
			return fmt.Errorf("mark reset for %s: %w", accountID, err)
		}

		e.audit(audit.Entry{
			Kind:      audit.EntryReset,
			AccountID: accountID,
			Message:   fmt.Sprintf("trading day %s opened", tradingDay),
			Timestamp: firedAt,
		})
	}
	return nil
}

// =============================================================================
// 崩溃恢复
// =============================================================================

// Recover 重启后重建易失状态，Start 之前调用
//
// - 活跃锁定按落库的到期时刻重挂定时器 (不重新计算时长)
// - 未平持仓按落库的 opened_at 重推止损宽限期
func (e *Engine) Recover(ctx context.Context) error {
	if err := e.deps.Locks.Recover(ctx); err != nil {
		return fmt.Errorf("recover lockouts: %w", err)
	}

	positions, err := e.deps.Tracker.OpenPositions(ctx)
	if err != nil {
		return fmt.Errorf("list open positions: %w", err)
	}

	e.mu.Lock()
	for _, pos := range positions {
		e.accounts[pos.AccountID] = struct{}{}
	}
	e.mu.Unlock()

	if e.deps.GraceRule != nil {
		e.deps.GraceRule.Rearm(positions, e.now())
	}

	log.Printf("[Engine] recovered: %d open positions", len(positions))
	return nil
}

// =============================================================================
// 管理接口
// =============================================================================

// SetRuleEnabled 启用/禁用规则，立即生效
func (e *Engine) SetRuleEnabled(name string, enabled bool) error {
	r := e.deps.Rules.Find(name)
	if r == nil {
		return fmt.Errorf("rule %s not found", name)
	}
	r.SetEnabled(enabled)
	log.Printf("[Engine] rule %s enabled=%v", name, enabled)
	return nil
}

// ReleaseLockout 人工解锁
func (e *Engine) ReleaseLockout(ctx context.Context, accountID string, kind lockout.Kind) error {
	if err := e.deps.Locks.Release(ctx, accountID, kind); err != nil {
		return err
	}
	e.audit(audit.Entry{
		Kind:      audit.EntryLockoutReleased,
		AccountID: accountID,
		Message:   fmt.Sprintf("%s lockout released manually", kind),
		Timestamp: e.now(),
	})
	return nil
}

// LockoutHistory 账户锁定历史
func (e *Engine) LockoutHistory(ctx context.Context, accountID string, limit int) ([]*lockout.Record, error) {
	return e.deps.Locks.History(ctx, accountID, limit)
}

// DailyPnL 查询账户当日已实现盈亏
func (e *Engine) DailyPnL(ctx context.Context, accountID string) (money.Money, error) {
	return e.deps.Tracker.DailyPnL(ctx, accountID, e.now())
}
