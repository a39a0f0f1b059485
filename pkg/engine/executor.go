// 文件: pkg/engine/executor.go
// 执行层接口
//
// 引擎只产出裁定，真正的下单/平仓动作由交易通道实现。
// 接口收窄到风控需要的三个动作，方便对接不同柜台。

package engine

import (
	"context"
	"fmt"
	"sync"
)

// Executor 执行器
//
// 所有方法必须幂等: 引擎在执行失败后会审计并强制锁定账户，
// 但不重试；同一裁定被重复路由时重复执行不能造成二次伤害。
type Executor interface {
	// Flatten 全部市价平仓并撤掉该账户的在途订单
	Flatten(ctx context.Context, accountID string) error

	// ClosePosition 平掉单一合约的持仓
	ClosePosition(ctx context.Context, accountID, symbol string) error

	// RejectOrder 拒绝/撤销一笔订单
	RejectOrder(ctx context.Context, accountID, orderRef string) error
}

// =============================================================================
// MockExecutor - 测试用
// =============================================================================

// ExecutorCall 一次执行调用的记录
type ExecutorCall struct {
	Op        string // flatten / close_position / reject_order
	AccountID string
	Symbol    string
	OrderRef  string
}

// MockExecutor 记录调用序列，可注入失败
type MockExecutor struct {
	mu    sync.Mutex
	calls []ExecutorCall

	// FailFlatten 注入强平失败，测试执行失败 → 强制锁定路径
	FailFlatten error
}

var _ Executor = (*MockExecutor)(nil)

func NewMockExecutor() *MockExecutor {
	return &MockExecutor{}
}

func (e *MockExecutor) Flatten(ctx context.Context, accountID string) error {
	e.record(ExecutorCall{Op: "flatten", AccountID: accountID})
	if e.FailFlatten != nil {
		return fmt.Errorf("flatten %s: %w", accountID, e.FailFlatten)
	}
	return nil
}

func (e *MockExecutor) ClosePosition(ctx context.Context, accountID, symbol string) error {
	e.record(ExecutorCall{Op: "close_position", AccountID: accountID, Symbol: symbol})
	return nil
}

func (e *MockExecutor) RejectOrder(ctx context.Context, accountID, orderRef string) error {
	e.record(ExecutorCall{Op: "reject_order", AccountID: accountID, OrderRef: orderRef})
	return nil
}

func (e *MockExecutor) record(call ExecutorCall) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.calls = append(e.calls, call)
}

// Calls 调用记录拷贝
func (e *MockExecutor) Calls() []ExecutorCall {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]ExecutorCall, len(e.calls))
	copy(out, e.calls)
	return out
}

// CallsOf 按动作筛选
func (e *MockExecutor) CallsOf(op string) []ExecutorCall {
	e.mu.Lock()
	defer e.mu.Unlock()
	var out []ExecutorCall
	for _, c := range e.calls {
		if c.Op == op {
			out = append(out, c)
		}
	}
	return out
}
