// 文件: pkg/rules/max_position.go
// 持仓规模规则
//
// 两种口径:
// - MaxPositionRule: 单一上限，按合约或按组合总张数
// - MaxContractsPerInstrumentRule: 每个合约各配各的上限

package rules

import (
	"fmt"

	"riskd.com/pkg/event"
)

// =============================================================================
// MaxPositionRule
// =============================================================================

// MaxPositionRule 持仓张数上限
//
// perInstrument = true:  任一合约 abs(size) > max 即违规
// perInstrument = false: 组合 sum(abs(size)) > max 即违规
// 只在持仓/成交事件上评估。
type MaxPositionRule struct {
	base
	maxContracts  int64
	perInstrument bool
	action        Action
}

// NewMaxPositionRule 创建规则，上限必须为正
func NewMaxPositionRule(maxContracts int64, perInstrument bool, action Action) (*MaxPositionRule, error) {
	if maxContracts <= 0 {
		return nil, fmt.Errorf("max contracts must be positive, got %d", maxContracts)
	}
	return &MaxPositionRule{
		base:          base{name: "max_position", enabled: true},
		maxContracts:  maxContracts,
		perInstrument: perInstrument,
		action:        action,
	}, nil
}

// SetMaxContracts 管理接口改参数
func (r *MaxPositionRule) SetMaxContracts(maxContracts int64) error {
	if maxContracts <= 0 {
		return fmt.Errorf("max contracts must be positive, got %d", maxContracts)
	}
	r.mu.Lock()
	r.maxContracts = maxContracts
	r.mu.Unlock()
	return nil
}

func (r *MaxPositionRule) Evaluate(ev *event.RiskEvent, snap *Snapshot) (*Verdict, error) {
	if !ev.Type.IsPositionAffecting() {
		return nil, nil
	}

	r.mu.RLock()
	maxContracts := r.maxContracts
	r.mu.RUnlock()

	if r.perInstrument {
		// 只裁定触发事件的合约，其他合约的仓位不牵连
		for _, pos := range snap.Positions {
			if pos.Symbol != ev.Symbol {
				continue
			}
			if pos.AbsSize() > maxContracts {
				return &Verdict{
					RuleName: r.name,
					Action:   r.action,
					Message: fmt.Sprintf("position size %d exceeds max %d on %s",
						pos.AbsSize(), maxContracts, pos.Symbol),
					Context: map[string]any{
						"symbol": pos.Symbol,
						"size":   pos.AbsSize(),
						"max":    maxContracts,
					},
				}, nil
			}
		}
		return nil, nil
	}

	total := snap.TotalAbsContracts()
	if total <= maxContracts {
		return nil, nil
	}
	return &Verdict{
		RuleName: r.name,
		Action:   r.action,
		Message: fmt.Sprintf("portfolio total %d contracts exceeds max %d",
			total, maxContracts),
		Context: map[string]any{
			"total": total,
			"max":   maxContracts,
		},
	}, nil
}

// =============================================================================
// MaxContractsPerInstrumentRule
// =============================================================================

// MaxContractsPerInstrumentRule 每合约独立上限
// 未配置上限的合约不受本规则约束
type MaxContractsPerInstrumentRule struct {
	base
	limits map[string]int64
	action Action
}

// NewMaxContractsPerInstrumentRule 创建规则，所有上限必须为正
func NewMaxContractsPerInstrumentRule(limits map[string]int64, action Action) (*MaxContractsPerInstrumentRule, error) {
	if len(limits) == 0 {
		return nil, fmt.Errorf("per-instrument limits must not be empty")
	}
	for symbol, limit := range limits {
		if limit <= 0 {
			return nil, fmt.Errorf("limit for %s must be positive, got %d", symbol, limit)
		}
	}
	cp := make(map[string]int64, len(limits))
	for symbol, limit := range limits {
		cp[symbol] = limit
	}
	return &MaxContractsPerInstrumentRule{
		base:   base{name: "max_contracts_per_instrument", enabled: true},
		limits: cp,
		action: action,
	}, nil
}

// SetLimit 管理接口设置单个合约的上限
func (r *MaxContractsPerInstrumentRule) SetLimit(symbol string, limit int64) error {
	if limit <= 0 {
		return fmt.Errorf("limit for %s must be positive, got %d", symbol, limit)
	}
	r.mu.Lock()
	r.limits[symbol] = limit
	r.mu.Unlock()
	return nil
}

func (r *MaxContractsPerInstrumentRule) Evaluate(ev *event.RiskEvent, snap *Snapshot) (*Verdict, error) {
	if !ev.Type.IsPositionAffecting() {
		return nil, nil
	}

	r.mu.RLock()
	limit, ok := r.limits[ev.Symbol]
	r.mu.RUnlock()
	if !ok {
		return nil, nil
	}

	for _, pos := range snap.Positions {
		if pos.Symbol != ev.Symbol {
			continue
		}
		if pos.AbsSize() > limit {
			return &Verdict{
				RuleName: r.name,
				Action:   r.action,
				Message: fmt.Sprintf("position size %d exceeds max %d on %s",
					pos.AbsSize(), limit, pos.Symbol),
				Context: map[string]any{
					"symbol": pos.Symbol,
					"size":   pos.AbsSize(),
					"max":    limit,
				},
			}, nil
		}
	}
	return nil, nil
}
