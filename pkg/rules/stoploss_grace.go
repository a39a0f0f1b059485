// 文件: pkg/rules/stoploss_grace.go
// 止损宽限规则
//
// 开仓后必须在宽限期内挂出保护性止损单，否则强平。
//
// 【流程】
// POSITION_OPENED  → 挂宽限定时器
// STOP_ORDER_PLACED → 撤定时器，此仓位过关
// POSITION_CLOSED  → 撤定时器
// 定时器触发 (引擎路由到 OnGraceExpired) → 仍没有止损 → FLATTEN 裁定
//
// 定时器不跨进程存活; 重启后引擎用落库的 opened_at 调用 Rearm
// 重新推导仍在宽限期内的仓位。

package rules

import (
	"fmt"
	"sync"
	"time"

	"riskd.com/pkg/event"
	"riskd.com/pkg/pnl"
	"riskd.com/pkg/timer"
)

// NoStopLossGraceRule 止损宽限规则
type NoStopLossGraceRule struct {
	base
	grace  time.Duration
	timers *timer.Manager
	action Action

	mu      sync.Mutex
	pending map[string]*graceEntry // key: accountID|symbol
	byID    map[int64]string       // timer ID → pending key
}

type graceEntry struct {
	accountID string
	symbol    string
	handle    *timer.Handle
}

// NewNoStopLossGraceRule 创建规则，宽限时长必须为正
func NewNoStopLossGraceRule(grace time.Duration, timers *timer.Manager, action Action) (*NoStopLossGraceRule, error) {
	if grace <= 0 {
		return nil, fmt.Errorf("grace period must be positive, got %s", grace)
	}
	if timers == nil {
		return nil, fmt.Errorf("grace rule requires a timer manager")
	}
	return &NoStopLossGraceRule{
		base:    base{name: "no_stoploss_grace", enabled: true},
		grace:   grace,
		timers:  timers,
		action:  action,
		pending: make(map[string]*graceEntry),
		byID:    make(map[int64]string),
	}, nil
}

func graceKey(accountID, symbol string) string {
	return accountID + "|" + symbol
}

func (r *NoStopLossGraceRule) Evaluate(ev *event.RiskEvent, snap *Snapshot) (*Verdict, error) {
	switch ev.Type {
	case event.PositionOpened:
		r.arm(ev.AccountID, ev.Symbol, r.grace)
	case event.StopOrderPlaced, event.PositionClosed:
		r.disarm(ev.AccountID, ev.Symbol)
	}
	// 本规则的裁定只会从定时器路径产生
	return nil, nil
}

// OnGraceExpired 宽限定时器触发 (引擎从定时器通道路由过来)
// 返回 nil 表示该定时器已被撤掉或早已处理，无需动作
func (r *NoStopLossGraceRule) OnGraceExpired(firing timer.Firing) *Verdict {
	r.mu.Lock()
	key, ok := r.byID[firing.ID]
	if !ok {
		r.mu.Unlock()
		return nil
	}
	entry := r.pending[key]
	delete(r.pending, key)
	delete(r.byID, firing.ID)
	r.mu.Unlock()

	return &Verdict{
		RuleName: r.name,
		Action:   r.action,
		Message: fmt.Sprintf("no protective stop observed on %s within %s grace, flattening",
			entry.symbol, r.grace),
		Context: map[string]any{
			"symbol": entry.symbol,
			"grace":  r.grace.String(),
		},
	}
}

// Rearm 崩溃恢复: 按落库的 opened_at 重新推导宽限期
//
// 剩余宽限 = opened_at + grace - now；已超期的立刻触发 (挂零时长定时器)。
// 止损是否已挂无法从持仓行得知，保守起见全部重挂 ——
// 已有止损的账户会再次收到 STOP_ORDER_PLACED 前的一次强平裁定风险，
// 由接入层在恢复后重放在途订单事件来消除。
func (r *NoStopLossGraceRule) Rearm(positions []*pnl.Position, now time.Time) {
	for _, pos := range positions {
		if pos.IsEmpty() {
			continue
		}
		deadline := time.UnixMilli(pos.OpenedAt).Add(r.grace)
		remaining := deadline.Sub(now)
		if remaining < 0 {
			remaining = 0
		}
		r.arm(pos.AccountID, pos.Symbol, remaining)
	}
}

// arm 挂宽限定时器 (同一仓位重复开仓事件只保留最新的一只表)
func (r *NoStopLossGraceRule) arm(accountID, symbol string, d time.Duration) {
	key := graceKey(accountID, symbol)

	r.mu.Lock()
	if old, ok := r.pending[key]; ok {
		delete(r.byID, old.handle.ID)
		r.timers.Cancel(old.handle)
	}
	h := r.timers.Schedule(d, timer.GracePeriod, accountID)
	r.pending[key] = &graceEntry{accountID: accountID, symbol: symbol, handle: h}
	r.byID[h.ID] = key
	r.mu.Unlock()
}

// disarm 撤宽限定时器
func (r *NoStopLossGraceRule) disarm(accountID, symbol string) {
	key := graceKey(accountID, symbol)

	r.mu.Lock()
	entry, ok := r.pending[key]
	if ok {
		delete(r.pending, key)
		delete(r.byID, entry.handle.ID)
	}
	r.mu.Unlock()

	if ok {
		r.timers.Cancel(entry.handle)
	}
}
