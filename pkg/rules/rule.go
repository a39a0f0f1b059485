// 文件: pkg/rules/rule.go
// 风控规则抽象
//
// 【设计模式】Guard 接口 + 规则集合
// - 规则是 (事件, 只读状态快照) → 裁定 的纯函数，不直接改任何状态
// - 所有状态变更由引擎在接受裁定之后执行，保证单一写入者
// - 单条规则的异常被隔离上报，不阻塞其余规则 (isolate-and-report)

package rules

import (
	"fmt"
	"sync"
	"time"

	"riskd.com/pkg/event"
	"riskd.com/pkg/lockout"
	"riskd.com/pkg/money"
	"riskd.com/pkg/pnl"
)

// =============================================================================
// 动作与裁定
// =============================================================================

// Action 违规动作，数值越大越严重
type Action int8

const (
	ActionAlert   Action = iota // 仅告警
	ActionPause                 // 暂停开新仓
	ActionReject                // 拒绝订单
	ActionFlatten               // 强制平仓
)

func (a Action) String() string {
	switch a {
	case ActionAlert:
		return "ALERT"
	case ActionPause:
		return "PAUSE"
	case ActionReject:
		return "REJECT"
	case ActionFlatten:
		return "FLATTEN"
	default:
		return "UNKNOWN"
	}
}

// LockoutDirective 裁定附带的锁定指令，由引擎执行
type LockoutDirective struct {
	Kind       lockout.Kind
	UntilReset bool          // true: 锁到下一次计划重置
	Duration   time.Duration // UntilReset 为 false 时的锁定时长
}

// Verdict 违规裁定
type Verdict struct {
	RuleName string
	Message  string
	Action   Action
	Context  map[string]any // 审计上下文 (触发值、阈值等)

	Lockout *LockoutDirective // 可选
}

// =============================================================================
// Rule 接口
// =============================================================================

// Snapshot 规则评估用的只读状态快照
// 由引擎在事件应用到盈亏追踪器之后构建，规则看到的是事件后的状态
type Snapshot struct {
	AccountID     string
	TradingDay    string
	DailyRealized money.Money
	Positions     []*pnl.Position
	Now           time.Time
}

// TotalAbsContracts 全组合张数合计
func (s *Snapshot) TotalAbsContracts() int64 {
	var total int64
	for _, pos := range s.Positions {
		total += pos.AbsSize()
	}
	return total
}

// Rule 风控规则
//
// Evaluate 返回 (nil, nil) 表示无违规。
// 新增规则只需实现本接口并注册，引擎不用改。
type Rule interface {
	Name() string
	Enabled() bool
	SetEnabled(enabled bool)
	Evaluate(ev *event.RiskEvent, snap *Snapshot) (*Verdict, error)
}

// =============================================================================
// Set - 规则集合
// =============================================================================

// EvalFault 单条规则评估故障 (隔离上报用)
type EvalFault struct {
	RuleName string
	Err      error
}

// Set 规则集合，按注册顺序评估
type Set struct {
	rules []Rule
}

func NewSet(rules ...Rule) *Set {
	return &Set{rules: rules}
}

// Register 追加规则
func (s *Set) Register(r Rule) {
	s.rules = append(s.rules, r)
}

// Find 按名字查找 (管理接口用)
func (s *Set) Find(name string) Rule {
	for _, r := range s.rules {
		if r.Name() == name {
			return r
		}
	}
	return nil
}

// Rules 全部规则 (注册顺序)
func (s *Set) Rules() []Rule {
	return s.rules
}

// EvaluateAll 逐条评估
//
// 【隔离】一条规则 panic 或返回错误不影响其余规则；
// 故障收集到 faults 里由引擎统一上报。裁定按注册顺序返回。
func (s *Set) EvaluateAll(ev *event.RiskEvent, snap *Snapshot) (verdicts []*Verdict, faults []EvalFault) {
	for _, r := range s.rules {
		if !r.Enabled() {
			continue
		}

		verdict, err := s.evaluateOne(r, ev, snap)
		if err != nil {
			faults = append(faults, EvalFault{RuleName: r.Name(), Err: err})
			continue
		}
		if verdict != nil {
			verdicts = append(verdicts, verdict)
		}
	}
	return verdicts, faults
}

// evaluateOne 带 panic 隔离地评估单条规则
func (s *Set) evaluateOne(r Rule, ev *event.RiskEvent, snap *Snapshot) (verdict *Verdict, err error) {
	defer func() {
		if p := recover(); p != nil {
			verdict = nil
			err = fmt.Errorf("rule %s panicked: %v", r.Name(), p)
		}
	}()
	return r.Evaluate(ev, snap)
}

// MostSevere 多条裁定取最严重动作 (FLATTEN > REJECT > PAUSE > ALERT)
func MostSevere(verdicts []*Verdict) Action {
	var most Action
	for _, v := range verdicts {
		if v.Action > most {
			most = v.Action
		}
	}
	return most
}

// =============================================================================
// 公共基座
// =============================================================================

// base 各规则共享的开关与命名
//
// 【注意】管理面 (开关、改参数) 和事件面 (EvaluateAll) 跑在不同 goroutine，
// mu 同时保护 enabled 和各规则自己的可变参数，具体规则的 setter 复用这把锁
type base struct {
	name string

	mu      sync.RWMutex
	enabled bool
}

func (b *base) Name() string { return b.name }

func (b *base) Enabled() bool {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.enabled
}

func (b *base) SetEnabled(enabled bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.enabled = enabled
}
