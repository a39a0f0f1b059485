// 文件: pkg/money/money.go
// 金额与合约经济参数定义
//
// 设计目标:
// 1. 金额一律使用 int64 定点数 (乘以 10^8)，杜绝浮点精度问题
// 2. 缺少 tick 经济参数时直接报错，绝不静默按 0 处理
// 3. 币种不一致的运算是编程错误，必须显式失败

package money

import (
	"errors"
	"fmt"
)

// =============================================================================
// 精度常量
// =============================================================================

const (
	// Precision 金额/价格精度因子
	// 所有金额存储为 int64，乘以 10^8
	// 例: 1.5 USD = 150_000_000
	Precision = 100_000_000
)

var (
	// ErrCurrencyMismatch 币种不一致
	ErrCurrencyMismatch = errors.New("currency mismatch")

	// ErrNoTickEconomics 缺少 tick 经济参数 (TickSize/TickValue)
	// 没有这些参数无法把价格差换算成金额，宁可报错也不默认为 0
	ErrNoTickEconomics = errors.New("tick economics not configured")
)

// =============================================================================
// Money - 带币种的定点金额
// =============================================================================

// Money 带币种上下文的签名金额
//
// 【注意】零值 Money 的 Currency 为空，参与运算会报错。
// 这是有意为之: 金额绝不允许"悄悄变成 0"。
type Money struct {
	Amount   int64  `json:"amount"` // 定点数，Precision 缩放
	Currency string `json:"currency"`
}

// New 创建金额
func New(amount int64, currency string) Money {
	return Money{Amount: amount, Currency: currency}
}

// Zero 创建指定币种的零金额
func Zero(currency string) Money {
	return Money{Amount: 0, Currency: currency}
}

// Add 加法，币种必须一致
func (m Money) Add(other Money) (Money, error) {
	if m.Currency == "" || other.Currency == "" {
		return Money{}, fmt.Errorf("add: %w (empty currency)", ErrCurrencyMismatch)
	}
	if m.Currency != other.Currency {
		return Money{}, fmt.Errorf("add %s + %s: %w", m.Currency, other.Currency, ErrCurrencyMismatch)
	}
	return Money{Amount: m.Amount + other.Amount, Currency: m.Currency}, nil
}

// Neg 取反
func (m Money) Neg() Money {
	return Money{Amount: -m.Amount, Currency: m.Currency}
}

// Sign 符号: -1 / 0 / +1
func (m Money) Sign() int {
	return Sign(m.Amount)
}

// IsZero 是否为零
func (m Money) IsZero() bool {
	return m.Amount == 0
}

// Cmp 比较同币种金额: -1 小于, 0 等于, +1 大于
func (m Money) Cmp(other Money) (int, error) {
	if m.Currency != other.Currency {
		return 0, fmt.Errorf("cmp %s vs %s: %w", m.Currency, other.Currency, ErrCurrencyMismatch)
	}
	return Sign(m.Amount - other.Amount), nil
}

// Float64 浮点表示，仅用于日志/展示，不得回流到计算路径
func (m Money) Float64() float64 {
	return float64(m.Amount) / Precision
}

func (m Money) String() string {
	return fmt.Sprintf("%.2f %s", m.Float64(), m.Currency)
}

// Sign int64 符号函数
func Sign(v int64) int {
	switch {
	case v > 0:
		return 1
	case v < 0:
		return -1
	default:
		return 0
	}
}

// =============================================================================
// TickEconomics - 合约 tick 经济参数
// =============================================================================

// TickEconomics 把价格差换算成金额所需的合约参数
//
// 例 (MNQ 微型纳指):
//   TickSize  = 25_000_000  (0.25 点)
//   TickValue = 50_000_000  (每 tick 0.50 USD)
type TickEconomics struct {
	Symbol    string `json:"symbol"`
	TickSize  int64  `json:"tick_size"`  // 最小价格变动 (Precision 缩放)
	TickValue int64  `json:"tick_value"` // 每 tick 每张合约的金额 (Precision 缩放)
	Currency  string `json:"currency"`
}

// Validate 校验参数完整性
func (t TickEconomics) Validate() error {
	if t.TickSize <= 0 || t.TickValue <= 0 || t.Currency == "" {
		return fmt.Errorf("symbol %s: %w", t.Symbol, ErrNoTickEconomics)
	}
	return nil
}

// PnL 把价格差换算成金额
//
// priceDelta: 现价 - 开仓均价 (Precision 缩放)
// size: 持仓张数，正为多头，负为空头
//
// 多头 + 价格上涨 → 正收益；空头对称。
func (t TickEconomics) PnL(priceDelta, size int64) (Money, error) {
	if err := t.Validate(); err != nil {
		return Money{}, err
	}
	ticks := priceDelta / t.TickSize
	return Money{Amount: ticks * t.TickValue * size, Currency: t.Currency}, nil
}
