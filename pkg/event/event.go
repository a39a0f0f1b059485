// 文件: pkg/event/event.go
// 风控事件统一定义
//
// 上游 (券商/行情集成) 负责把各种原始回报归一化成 RiskEvent，
// 风控核心只认这一种形状。同一账户的事件时间戳单调不减。

package event

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// =============================================================================
// 事件类型
// =============================================================================

// Type 事件类型
type Type string

const (
	PositionOpened  Type = "POSITION_OPENED"
	PositionUpdated Type = "POSITION_UPDATED"
	PositionClosed  Type = "POSITION_CLOSED"
	OrderFilled     Type = "ORDER_FILLED"
	PnLUpdated      Type = "PNL_UPDATED"

	// StopOrderPlaced 保护性止损单已挂出
	// 止损宽限规则靠它来确认账户已设置止损
	StopOrderPlaced Type = "STOP_ORDER_PLACED"
)

// IsPnLAffecting 是否影响已实现盈亏
func (t Type) IsPnLAffecting() bool {
	return t == OrderFilled || t == PositionClosed || t == PnLUpdated
}

// IsPositionAffecting 是否影响持仓
func (t Type) IsPositionAffecting() bool {
	switch t {
	case PositionOpened, PositionUpdated, PositionClosed, OrderFilled:
		return true
	}
	return false
}

// =============================================================================
// RiskEvent
// =============================================================================

var (
	// ErrMalformedEvent 事件缺少必要字段，属于数据完整性故障
	// 处理策略: 拒绝该事件并上报，绝不猜测默认值
	ErrMalformedEvent = errors.New("malformed risk event")
)

// RiskEvent 风控事件
//
// 金额字段使用 money.Precision 定点数。
// Size 带符号: 正为多头，负为空头。
type RiskEvent struct {
	ID        int64     `json:"id"` // 雪花 ID，由接入层生成
	Type      Type      `json:"type"`
	AccountID string    `json:"account_id"`
	Symbol    string    `json:"symbol,omitempty"`
	Timestamp time.Time `json:"timestamp"`

	// 持仓/成交相关
	Size     int64 `json:"size,omitempty"`      // 事件后的持仓张数 (带符号)
	FillQty  int64 `json:"fill_qty,omitempty"`  // 本次成交张数 (带符号)
	Price    int64 `json:"price,omitempty"`     // 成交价/现价 (定点)
	AvgPrice int64 `json:"avg_price,omitempty"` // 开仓均价 (定点)

	// 盈亏相关 (定点)
	RealizedDelta int64 `json:"realized_delta,omitempty"` // 本次已实现盈亏增量
	Unrealized    int64 `json:"unrealized,omitempty"`     // 最新未实现盈亏

	// 关联引用
	OrderRef string `json:"order_ref,omitempty"`
}

// Validate 基础校验
func (e *RiskEvent) Validate() error {
	if e.Type == "" {
		return fmt.Errorf("%w: empty type", ErrMalformedEvent)
	}
	if e.AccountID == "" {
		return fmt.Errorf("%w: empty account_id", ErrMalformedEvent)
	}
	if e.Timestamp.IsZero() {
		return fmt.Errorf("%w: zero timestamp", ErrMalformedEvent)
	}
	if e.Type.IsPositionAffecting() && e.Symbol == "" {
		return fmt.Errorf("%w: %s without symbol", ErrMalformedEvent, e.Type)
	}
	return nil
}

// Marshal 序列化为 Kafka/NATS 消息体
func (e *RiskEvent) Marshal() ([]byte, error) {
	return json.Marshal(e)
}

// Unmarshal 从消息体解析并校验
func Unmarshal(data []byte) (*RiskEvent, error) {
	var e RiskEvent
	if err := json.Unmarshal(data, &e); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedEvent, err)
	}
	if err := e.Validate(); err != nil {
		return nil, err
	}
	return &e, nil
}
