// 文件: pkg/timer/timer.go
// 倒计时调度器
//
// =============================================================================
// 【架构】一个调度循环复用所有截止时间
//
//   Schedule/Cancel → 最小堆 → schedulerLoop → Fired channel
//
// 宽限期、冷却到期都挂在这里。取消和触发在同一把锁下裁决:
// 一个句柄要么触发要么取消，绝不可能两者都发生。
// 定时器不跨进程存活，重启后由锁定管理器按落库的到期时间重新挂载。
// =============================================================================

package timer

import (
	"container/heap"
	"context"
	"sync"
	"time"
)

// =============================================================================
// 用途与状态
// =============================================================================

// Purpose 定时器用途
type Purpose string

const (
	GracePeriod    Purpose = "GRACE_PERIOD"    // 止损宽限期
	CooldownExpiry Purpose = "COOLDOWN_EXPIRY" // 冷却锁定到期
	LockoutExpiry  Purpose = "LOCKOUT_EXPIRY"  // 硬锁定到期
)

type state int8

const (
	statePending state = iota
	stateFired
	stateCancelled
)

// =============================================================================
// Handle / Firing
// =============================================================================

// Handle 定时器句柄
// 调用方只持有这个不透明引用，状态字段归调度器独占
type Handle struct {
	ID        int64
	AccountID string
	Purpose   Purpose
	FiresAt   time.Time

	state state // 由 Manager.mu 保护
	index int   // 堆内下标
}

// Firing 触发通知，每个句柄至多一条
type Firing struct {
	ID        int64
	AccountID string
	Purpose   Purpose
	FiresAt   time.Time
}

// =============================================================================
// Manager
// =============================================================================

// Config 调度器配置
type Config struct {
	FiredQueueSize int // 触发通知队列大小
}

// DefaultConfig 默认配置
func DefaultConfig() Config {
	return Config{FiredQueueSize: 1024}
}

// Manager 定时器调度器
type Manager struct {
	mu      sync.Mutex
	pending timerHeap
	nextID  func() int64

	wakeCh  chan struct{}
	firedCh chan Firing
	stopCh  chan struct{}
	wg      sync.WaitGroup

	// now 可注入，测试用
	now func() time.Time
}

// NewManager 创建调度器
func NewManager(cfg Config, nextID func() int64) *Manager {
	return &Manager{
		nextID:  nextID,
		wakeCh:  make(chan struct{}, 1),
		firedCh: make(chan Firing, cfg.FiredQueueSize),
		stopCh:  make(chan struct{}),
		now:     time.Now,
	}
}

// Start 启动调度循环
func (m *Manager) Start(ctx context.Context) {
	m.wg.Add(1)
	go m.schedulerLoop(ctx)
}

// Stop 停止调度
func (m *Manager) Stop() {
	close(m.stopCh)
	m.wg.Wait()
}

// Fired 触发通知通道
func (m *Manager) Fired() <-chan Firing {
	return m.firedCh
}

// Schedule 在 d 之后触发
func (m *Manager) Schedule(d time.Duration, purpose Purpose, accountID string) *Handle {
	return m.ScheduleAt(m.now().Add(d), purpose, accountID)
}

// ScheduleAt 在指定时刻触发
// 崩溃恢复时用落库的原始到期时间调用，而不是重新计算
func (m *Manager) ScheduleAt(at time.Time, purpose Purpose, accountID string) *Handle {
	h := &Handle{
		ID:        m.nextID(),
		AccountID: accountID,
		Purpose:   purpose,
		FiresAt:   at,
	}

	m.mu.Lock()
	heap.Push(&m.pending, h)
	m.mu.Unlock()

	// 叫醒调度循环重算最近截止时间
	select {
	case m.wakeCh <- struct{}{}:
	default:
	}
	return h
}

// Cancel 取消定时器
// 返回 true 表示在触发前成功取消；已触发/已取消返回 false (不是错误)
func (m *Manager) Cancel(h *Handle) bool {
	if h == nil {
		return false
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	if h.state != statePending {
		return false
	}
	h.state = stateCancelled
	if h.index >= 0 {
		heap.Remove(&m.pending, h.index)
	}
	return true
}

// schedulerLoop 调度主循环
// 单 goroutine 处理所有到期判定，触发与取消靠 m.mu 串行化
func (m *Manager) schedulerLoop(ctx context.Context) {
	defer m.wg.Done()

	t := time.NewTimer(time.Hour)
	defer t.Stop()

	for {
		wait := m.fireDue()

		if !t.Stop() {
			select {
			case <-t.C:
			default:
			}
		}
		t.Reset(wait)

		select {
		case <-ctx.Done():
			return
		case <-m.stopCh:
			return
		case <-m.wakeCh:
		case <-t.C:
		}
	}
}

// fireDue 触发所有已到期的定时器，返回距下一个截止的等待时长
func (m *Manager) fireDue() time.Duration {
	const idleWait = time.Hour

	for {
		m.mu.Lock()
		if m.pending.Len() == 0 {
			m.mu.Unlock()
			return idleWait
		}

		next := m.pending[0]
		now := m.now()
		if next.FiresAt.After(now) {
			m.mu.Unlock()
			return next.FiresAt.Sub(now)
		}

		heap.Pop(&m.pending)
		// 触发裁决: 到这里句柄必然 pending，在锁内转为 fired，
		// 之后的 Cancel 只能返回 false
		next.state = stateFired
		firing := Firing{
			ID:        next.ID,
			AccountID: next.AccountID,
			Purpose:   next.Purpose,
			FiresAt:   next.FiresAt,
		}
		m.mu.Unlock()

		// 关键通知，阻塞发送保证运行期不丢。
		// Stop 时消费方可能已退出，必须给发送留逃生口，
		// 否则队列一满 schedulerLoop 就卡死，Stop 永远等不到 wg。
		// 放弃的到期由重启恢复按落库状态重建。
		select {
		case m.firedCh <- firing:
		case <-m.stopCh:
			return idleWait
		}
	}
}

// =============================================================================
// 最小堆
// =============================================================================

type timerHeap []*Handle

func (h timerHeap) Len() int           { return len(h) }
func (h timerHeap) Less(i, j int) bool { return h[i].FiresAt.Before(h[j].FiresAt) }
func (h timerHeap) Swap(i, j int) {
	h[i], h[j] = h[j], h[i]
	h[i].index = i
	h[j].index = j
}

func (h *timerHeap) Push(x any) {
	handle := x.(*Handle)
	handle.index = len(*h)
	*h = append(*h, handle)
}

func (h *timerHeap) Pop() any {
	old := *h
	n := len(old)
	handle := old[n-1]
	old[n-1] = nil
	handle.index = -1
	*h = old[:n-1]
	return handle
}
