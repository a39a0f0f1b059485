// 文件: pkg/pnl/tracker.go
// 盈亏追踪器
//
// 【职责】
// 1. 成交: 更新持仓 + 累加当日已实现盈亏 (同一事务)
// 2. 行情: 刷新未实现盈亏，校验符号约定
// 3. 查询: 当日盈亏 / 持仓快照，供规则引擎读取
//
// 【架构说明】
// - 单一写入者: 只有引擎的账户串行通道会调用写方法
// - 存储是唯一事实来源，重启后不依赖任何内存状态

package pnl

import (
	"context"
	"fmt"
	"time"

	"riskd.com/pkg/event"
	"riskd.com/pkg/money"
)

// DayFunc 把时刻映射到交易日标识
// 交易日边界由重置调度器的日历决定，不是自然日零点
type DayFunc func(t time.Time) string

// Tracker 盈亏追踪器
type Tracker struct {
	repo     Repository
	currency string
	dayOf    DayFunc
	ticks    map[string]money.TickEconomics
}

// NewTracker 创建追踪器
func NewTracker(repo Repository, currency string, dayOf DayFunc) *Tracker {
	return &Tracker{
		repo:     repo,
		currency: currency,
		dayOf:    dayOf,
		ticks:    make(map[string]money.TickEconomics),
	}
}

// RegisterTickEconomics 登记合约经济参数
// 配置错误在启动期暴露，引擎跑起来之后不再接受坏参数
func (t *Tracker) RegisterTickEconomics(te money.TickEconomics) error {
	if err := te.Validate(); err != nil {
		return err
	}
	t.ticks[te.Symbol] = te
	return nil
}

// Apply 应用一条风控事件
func (t *Tracker) Apply(ctx context.Context, ev *event.RiskEvent) error {
	if err := ev.Validate(); err != nil {
		return err
	}

	switch ev.Type {
	case event.PositionOpened, event.PositionUpdated:
		return t.updatePosition(ctx, ev)
	case event.OrderFilled, event.PositionClosed:
		return t.RecordFill(ctx, ev)
	case event.PnLUpdated:
		return t.UpdateUnrealized(ctx, ev)
	}
	// 其他事件 (如 STOP_ORDER_PLACED) 不影响盈亏状态
	return nil
}

// updatePosition 持仓开仓/变动
func (t *Tracker) updatePosition(ctx context.Context, ev *event.RiskEvent) error {
	pos, err := t.repo.GetPosition(ctx, ev.AccountID, ev.Symbol)
	if err != nil {
		return err
	}
	if pos == nil {
		pos = &Position{
			AccountID: ev.AccountID,
			Symbol:    ev.Symbol,
			OpenedAt:  ev.Timestamp.UnixMilli(),
		}
	}

	pos.Size = ev.Size
	if ev.AvgPrice != 0 {
		pos.AvgPrice = ev.AvgPrice
	}

	unrealized, err := t.resolveUnrealized(ev, pos)
	if err != nil {
		return err
	}
	// 写入前校验符号约定，坏数据直接拒绝
	if ev.Price != 0 {
		if err := CheckUnrealizedSign(ev.AccountID, ev.Symbol, pos.Size, pos.AvgPrice, ev.Price, unrealized); err != nil {
			return err
		}
	}
	pos.Unrealized = unrealized

	return t.repo.SavePosition(ctx, pos)
}

// RecordFill 成交: 持仓与当日盈亏必须原子提交
//
// 【核心逻辑】部分提交会让已实现盈亏和日聚合对不上账，
// 所以两条写入放在同一个事务里。
func (t *Tracker) RecordFill(ctx context.Context, ev *event.RiskEvent) error {
	day := t.dayOf(ev.Timestamp)

	return t.repo.Transaction(ctx, func(tx Repository) error {
		pos, err := tx.GetPosition(ctx, ev.AccountID, ev.Symbol)
		if err != nil {
			return err
		}
		if pos == nil {
			pos = &Position{
				AccountID: ev.AccountID,
				Symbol:    ev.Symbol,
				OpenedAt:  ev.Timestamp.UnixMilli(),
			}
		}

		pos.Size = ev.Size
		if ev.AvgPrice != 0 {
			pos.AvgPrice = ev.AvgPrice
		}
		if ev.Type == event.PositionClosed {
			pos.Size = 0
			pos.AvgPrice = 0
			pos.Unrealized = 0
		}
		pos.RealizedPnL += ev.RealizedDelta

		if err := tx.SavePosition(ctx, pos); err != nil {
			return err
		}

		trades := 0
		if ev.FillQty != 0 || ev.Type == event.OrderFilled {
			trades = 1
		}
		return tx.AddRealized(ctx, ev.AccountID, day, t.currency, ev.RealizedDelta, trades)
	})
}

// UpdateUnrealized 刷新未实现盈亏
func (t *Tracker) UpdateUnrealized(ctx context.Context, ev *event.RiskEvent) error {
	pos, err := t.repo.GetPosition(ctx, ev.AccountID, ev.Symbol)
	if err != nil {
		return err
	}
	if pos == nil || pos.IsEmpty() {
		// 无持仓时的未实现盈亏只能是 0
		if ev.Unrealized != 0 {
			return &IntegrityError{
				AccountID: ev.AccountID,
				Symbol:    ev.Symbol,
				Detail:    "unrealized pnl reported for empty position",
			}
		}
		return nil
	}

	unrealized, err := t.resolveUnrealized(ev, pos)
	if err != nil {
		return err
	}
	if ev.Price != 0 {
		if err := CheckUnrealizedSign(ev.AccountID, ev.Symbol, pos.Size, pos.AvgPrice, ev.Price, unrealized); err != nil {
			return err
		}
	}
	pos.Unrealized = unrealized

	if ev.RealizedDelta != 0 {
		// 事件同时带已实现增量 (如部分平仓回报)，走事务一起落库
		day := t.dayOf(ev.Timestamp)
		return t.repo.Transaction(ctx, func(tx Repository) error {
			if err := tx.SavePosition(ctx, pos); err != nil {
				return err
			}
			return tx.AddRealized(ctx, ev.AccountID, day, t.currency, ev.RealizedDelta, 0)
		})
	}
	return t.repo.SavePosition(ctx, pos)
}

// resolveUnrealized 确定未实现盈亏
// 事件自带的值优先；只有价格时按 tick 经济参数换算，参数缺失则报错
func (t *Tracker) resolveUnrealized(ev *event.RiskEvent, pos *Position) (int64, error) {
	if ev.Unrealized != 0 {
		return ev.Unrealized, nil
	}
	if ev.Price == 0 || pos.AvgPrice == 0 || pos.Size == 0 {
		return 0, nil
	}
	te, ok := t.ticks[ev.Symbol]
	if !ok {
		return 0, fmt.Errorf("symbol %s: %w", ev.Symbol, money.ErrNoTickEconomics)
	}
	m, err := te.PnL(ev.Price-pos.AvgPrice, pos.Size)
	if err != nil {
		return 0, err
	}
	return m.Amount, nil
}

// DailyPnL 查询当日已实现盈亏
func (t *Tracker) DailyPnL(ctx context.Context, accountID string, now time.Time) (money.Money, error) {
	record, err := t.repo.GetDaily(ctx, accountID, t.dayOf(now))
	if err != nil {
		return money.Money{}, err
	}
	if record == nil {
		return money.Zero(t.currency), nil
	}
	return money.New(record.RealizedPnL, record.Currency), nil
}

// Positions 账户持仓快照
func (t *Tracker) Positions(ctx context.Context, accountID string) ([]*Position, error) {
	return t.repo.ListPositions(ctx, accountID)
}

// OpenPositions 全部账户的未平持仓 (崩溃恢复用)
func (t *Tracker) OpenPositions(ctx context.Context) ([]*Position, error) {
	return t.repo.ListOpenPositions(ctx)
}

// ResetDay 开启新交易日 (重置调度器调用，幂等)
func (t *Tracker) ResetDay(ctx context.Context, accountID, tradingDay string) error {
	return t.repo.ResetDaily(ctx, accountID, tradingDay, t.currency)
}
