// 文件: pkg/audit/audit.go
// 风控审计轨迹
//
// 【设计】所有裁定、执行失败、重置都必须留痕。
// Recorder 是接口，引擎不关心落到哪里:
// - MemoryRecorder: 测试与单机调试
// - NATSRecorder:   发布到 NATS 主题，下游合规/告警系统消费

package audit

import (
	"sync"
	"time"
)

// 审计条目类别
const (
	EntryViolation          = "VIOLATION"           // 规则裁定
	EntryEnforcementFailed  = "ENFORCEMENT_FAILED"  // 执行动作失败
	EntryLockoutEngaged     = "LOCKOUT_ENGAGED"     // 锁定生效
	EntryLockoutReleased    = "LOCKOUT_RELEASED"    // 锁定解除 (到期或人工)
	EntryReset              = "RESET"               // 交易日重置
	EntryRuleFault          = "RULE_FAULT"          // 规则评估故障
	EntryIntegrityViolation = "INTEGRITY_VIOLATION" // 数据完整性告警
)

// Entry 审计条目
type Entry struct {
	ID        int64          `json:"id"`
	Kind      string         `json:"kind"`
	AccountID string         `json:"account_id"`
	RuleName  string         `json:"rule_name,omitempty"`
	Action    string         `json:"action,omitempty"`
	Message   string         `json:"message"`
	Context   map[string]any `json:"context,omitempty"`
	Timestamp time.Time      `json:"timestamp"`
}

// Recorder 审计落地接口
//
// Record 不允许阻塞引擎的事件处理；实现要么内存追加，
// 要么异步发布。记录失败只打日志，永远不中断风控流程。
type Recorder interface {
	Record(entry Entry)
}

// =============================================================================
// MemoryRecorder
// =============================================================================

// MemoryRecorder 内存审计 (测试用)
type MemoryRecorder struct {
	mu      sync.Mutex
	entries []Entry
}

func NewMemoryRecorder() *MemoryRecorder {
	return &MemoryRecorder{}
}

var _ Recorder = (*MemoryRecorder)(nil)

func (r *MemoryRecorder) Record(entry Entry) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.entries = append(r.entries, entry)
}

// Entries 拷贝一份当前条目
func (r *MemoryRecorder) Entries() []Entry {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Entry, len(r.entries))
	copy(out, r.entries)
	return out
}

// ByKind 按类别筛选
func (r *MemoryRecorder) ByKind(kind string) []Entry {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []Entry
	for _, e := range r.entries {
		if e.Kind == kind {
			out = append(out, e)
		}
	}
	return out
}
