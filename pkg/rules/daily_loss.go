// 文件: pkg/rules/daily_loss.go
// 当日亏损上限规则

package rules

import (
	"fmt"

	"riskd.com/pkg/event"
	"riskd.com/pkg/money"
)

// DailyLossRule 当日已实现亏损达到上限即违规
//
// limit 必须严格为负 (这是亏损线)。
// 判定: daily_realized_pnl <= limit，正好打到线上也算违规。
// 只在影响已实现盈亏的事件上评估。
type DailyLossRule struct {
	base
	limit  money.Money
	action Action
}

// NewDailyLossRule 创建规则
// 构造期校验: 亏损线必须严格为负，配置错误不允许带病启动
func NewDailyLossRule(limit money.Money, action Action) (*DailyLossRule, error) {
	if limit.Amount >= 0 {
		return nil, fmt.Errorf("daily loss limit must be strictly negative, got %s", limit)
	}
	return &DailyLossRule{
		base:   base{name: "daily_loss", enabled: true},
		limit:  limit,
		action: action,
	}, nil
}

// SetLimit 管理接口改参数，校验同构造器
func (r *DailyLossRule) SetLimit(limit money.Money) error {
	if limit.Amount >= 0 {
		return fmt.Errorf("daily loss limit must be strictly negative, got %s", limit)
	}
	r.mu.Lock()
	r.limit = limit
	r.mu.Unlock()
	return nil
}

func (r *DailyLossRule) Evaluate(ev *event.RiskEvent, snap *Snapshot) (*Verdict, error) {
	if !ev.Type.IsPnLAffecting() {
		return nil, nil
	}

	r.mu.RLock()
	limit := r.limit
	r.mu.RUnlock()

	cmp, err := snap.DailyRealized.Cmp(limit)
	if err != nil {
		return nil, err
	}
	if cmp > 0 {
		return nil, nil
	}

	return &Verdict{
		RuleName: r.name,
		Action:   r.action,
		Message: fmt.Sprintf("daily realized pnl %s breached loss limit %s",
			snap.DailyRealized, limit),
		Context: map[string]any{
			"daily_pnl": snap.DailyRealized.Amount,
			"limit":     limit.Amount,
		},
	}, nil
}
