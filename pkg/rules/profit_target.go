// 文件: pkg/rules/profit_target.go
// 当日止盈规则
//
// 到达盈利目标后硬锁定到下一次计划重置 —— 今天已经赚够了，
// 继续交易只会把利润还回去。

package rules

import (
	"fmt"

	"riskd.com/pkg/event"
	"riskd.com/pkg/lockout"
	"riskd.com/pkg/money"
)

// DailyRealizedProfitRule 当日已实现盈利达标即违规
// 附带锁定指令: HARD 锁定到下一次重置
type DailyRealizedProfitRule struct {
	base
	target money.Money
	action Action
}

// NewDailyRealizedProfitRule 创建规则，目标必须严格为正
func NewDailyRealizedProfitRule(target money.Money, action Action) (*DailyRealizedProfitRule, error) {
	if target.Amount <= 0 {
		return nil, fmt.Errorf("daily profit target must be strictly positive, got %s", target)
	}
	return &DailyRealizedProfitRule{
		base:   base{name: "daily_realized_profit", enabled: true},
		target: target,
		action: action,
	}, nil
}

// SetTarget 管理接口改参数
func (r *DailyRealizedProfitRule) SetTarget(target money.Money) error {
	if target.Amount <= 0 {
		return fmt.Errorf("daily profit target must be strictly positive, got %s", target)
	}
	r.mu.Lock()
	r.target = target
	r.mu.Unlock()
	return nil
}

func (r *DailyRealizedProfitRule) Evaluate(ev *event.RiskEvent, snap *Snapshot) (*Verdict, error) {
	if !ev.Type.IsPnLAffecting() {
		return nil, nil
	}

	r.mu.RLock()
	target := r.target
	r.mu.RUnlock()

	cmp, err := snap.DailyRealized.Cmp(target)
	if err != nil {
		return nil, err
	}
	if cmp < 0 {
		return nil, nil
	}

	return &Verdict{
		RuleName: r.name,
		Action:   r.action,
		Message: fmt.Sprintf("daily realized pnl %s reached profit target %s, locked until reset",
			snap.DailyRealized, target),
		Context: map[string]any{
			"daily_pnl": snap.DailyRealized.Amount,
			"target":    target.Amount,
		},
		Lockout: &LockoutDirective{
			Kind:       lockout.KindHard,
			UntilReset: true,
		},
	}, nil
}
