// 文件: pkg/pnl/position.go
// 持仓数据结构与符号约定校验
//
// 【存储策略】
// - 主存储: MySQL (持久化)
// - 盈亏符号约定是硬性不变量，违反视为数据完整性故障而不是风控违规

package pnl

import (
	"fmt"

	"riskd.com/pkg/money"
)

// =============================================================================
// Position - 账户持仓
// =============================================================================

// Position 账户在某合约上的持仓
//
// 【关键概念区分】
// - 未实现盈亏 (Unrealized): 随价格实时变化，由 PNL_UPDATED 事件刷新
// - 已实现盈亏 (RealizedPnL): 只有平仓/减仓时才产生，累计存 DB
type Position struct {
	ID        uint   `gorm:"primaryKey;autoIncrement"`
	AccountID string `gorm:"column:account_id;type:varchar(32);uniqueIndex:idx_account_symbol"`
	Symbol    string `gorm:"column:symbol;type:varchar(32);uniqueIndex:idx_account_symbol"`

	// ===== 持仓状态 =====
	// Size > 0: 多头
	// Size < 0: 空头
	// Size = 0: 已平仓
	Size     int64 `gorm:"column:size"`
	AvgPrice int64 `gorm:"column:avg_price"` // 开仓均价 (定点)

	// ===== 盈亏 (定点) =====
	RealizedPnL int64 `gorm:"column:realized_pnl"` // 当日累计已实现
	Unrealized  int64 `gorm:"column:unrealized"`   // 最新未实现

	OpenedAt  int64 `gorm:"column:opened_at"` // UnixMilli
	UpdatedAt int64 `gorm:"column:updated_at"`
}

func (Position) TableName() string {
	return "positions"
}

// AbsSize 持仓张数绝对值
func (p *Position) AbsSize() int64 {
	if p.Size < 0 {
		return -p.Size
	}
	return p.Size
}

// IsEmpty 是否无持仓
func (p *Position) IsEmpty() bool {
	return p.Size == 0
}

// =============================================================================
// IntegrityError - 数据完整性故障
// =============================================================================

// IntegrityError 符号约定被违反
//
// 处理策略: 拒绝写入并上报运维，绝不把坏数据硬塞进存储。
type IntegrityError struct {
	AccountID string
	Symbol    string
	Detail    string
}

func (e *IntegrityError) Error() string {
	return fmt.Sprintf("pnl integrity fault: account=%s symbol=%s: %s", e.AccountID, e.Symbol, e.Detail)
}

// CheckUnrealizedSign 校验未实现盈亏符号约定
//
// 不变量: sign(unrealized) == sign(size) * sign(price - avgPrice)
// 多头 + 价格上涨 ⇒ 未实现盈亏非负，空头对称。
// unrealized 为 0 时始终合法 (刚好打平)。
func CheckUnrealizedSign(accountID, symbol string, size, avgPrice, price, unrealized int64) error {
	if unrealized == 0 || size == 0 {
		return nil
	}
	expected := money.Sign(size) * money.Sign(price-avgPrice)
	if money.Sign(unrealized) != expected {
		return &IntegrityError{
			AccountID: accountID,
			Symbol:    symbol,
			Detail: fmt.Sprintf("unrealized sign %d disagrees with size %d at price %d (avg %d)",
				money.Sign(unrealized), size, price, avgPrice),
		}
	}
	return nil
}
