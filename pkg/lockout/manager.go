// 文件: pkg/lockout/manager.go
// 锁定状态机
//
// 每个 (account, kind) 一台状态机: UNLOCKED → ENGAGED → UNLOCKED
//
// 【不变量】同一账户同一 Kind 至多一条活跃记录。
// 重复 engage 的处理策略 (extend / reject) 是显式配置项，不做隐式默认。
//
// 【崩溃恢复】启动时重载全部 cleared_at IS NULL 的记录，
// 按落库的原始 expires_at 重新挂载定时器，绝不重新计算。

package lockout

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"riskd.com/pkg/timer"
)

// =============================================================================
// 配置
// =============================================================================

// OverlapPolicy 重复锁定策略
type OverlapPolicy int8

const (
	// OverlapReject 已有活跃锁定时拒绝新的 engage
	OverlapReject OverlapPolicy = iota

	// OverlapExtend 确定性延长: 取两者中更晚的到期时间，
	// "锁到重置" (空 expires_at) 视为最晚
	OverlapExtend
)

// Config 锁定管理器配置
type Config struct {
	Policy OverlapPolicy
}

// DefaultConfig 默认拒绝重复锁定
func DefaultConfig() Config {
	return Config{Policy: OverlapReject}
}

var (
	// ErrAlreadyLocked 已有活跃锁定且策略为 reject
	ErrAlreadyLocked = errors.New("account already locked")
)

// =============================================================================
// Manager
// =============================================================================

// cacheInvalidator CachedRepository 额外暴露的缓存失效口
type cacheInvalidator interface {
	Invalidate(ctx context.Context, accountID string, kind Kind)
}

// Manager 锁定管理器
type Manager struct {
	cfg    Config
	repo   Repository
	timers *timer.Manager
	nextID func() int64

	mu      sync.Mutex
	handles map[string]*timer.Handle // key: accountID|kind

	now func() time.Time
}

// NewManager 创建锁定管理器
// timers 可为 nil (纯查询场景)，此时时间型锁定只能靠重置解除
func NewManager(cfg Config, repo Repository, timers *timer.Manager, nextID func() int64) *Manager {
	return &Manager{
		cfg:     cfg,
		repo:    repo,
		timers:  timers,
		nextID:  nextID,
		handles: make(map[string]*timer.Handle),
		now:     time.Now,
	}
}

func handleKey(accountID string, kind Kind) string {
	return accountID + "|" + string(kind)
}

// =============================================================================
// 状态转换
// =============================================================================

// Engage 进入锁定
//
// expiresAt 为 nil 表示锁到下一次计划重置。
// 已有活跃锁定时按 OverlapPolicy 处理: reject 返回 ErrAlreadyLocked，
// extend 确定性延长后返回更新过的记录 —— 永远不会叠出第二条活跃记录。
func (m *Manager) Engage(ctx context.Context, accountID string, kind Kind, reason string, expiresAt *time.Time) (*Record, error) {
	active, err := m.repo.GetActive(ctx, accountID, kind)
	if err != nil {
		return nil, err
	}

	if active != nil {
		if m.cfg.Policy == OverlapReject {
			return nil, fmt.Errorf("account %s kind %s: %w", accountID, kind, ErrAlreadyLocked)
		}
		return m.extend(ctx, active, expiresAt)
	}

	record := &Record{
		ID:        m.nextID(),
		AccountID: accountID,
		Kind:      kind,
		Reason:    reason,
		EngagedAt: m.now().UnixMilli(),
	}
	if expiresAt != nil {
		ms := expiresAt.UnixMilli()
		record.ExpiresAt = &ms
	}

	if err := m.repo.Create(ctx, record); err != nil {
		return nil, err
	}
	m.armTimer(record)

	log.Printf("[Lockout] engaged: account=%s kind=%s reason=%q expires=%v",
		accountID, kind, reason, expiresAt)
	return record, nil
}

// extend 确定性延长已有锁定
// 规则: 空 expires_at (锁到重置) > 更晚的时刻 > 更早的时刻
func (m *Manager) extend(ctx context.Context, active *Record, expiresAt *time.Time) (*Record, error) {
	var newExpiry *int64

	switch {
	case active.ExpiresAt == nil || expiresAt == nil:
		newExpiry = nil // 任一侧锁到重置，结果锁到重置
	default:
		ms := expiresAt.UnixMilli()
		if ms > *active.ExpiresAt {
			newExpiry = &ms
		} else {
			newExpiry = active.ExpiresAt
		}
	}

	if err := m.repo.UpdateExpiry(ctx, active.ID, newExpiry); err != nil {
		return nil, err
	}
	active.ExpiresAt = newExpiry
	m.invalidate(ctx, active.AccountID, active.Kind)

	// 重新挂载定时器
	m.disarmTimer(active.AccountID, active.Kind)
	m.armTimer(active)

	log.Printf("[Lockout] extended: account=%s kind=%s expires_ms=%v",
		active.AccountID, active.Kind, newExpiry)
	return active, nil
}

// IsLocked 是否处于活跃锁定
// 走缓存仓库时这是事件热路径上的 O(1) 查询
func (m *Manager) IsLocked(ctx context.Context, accountID string, kind Kind) (bool, error) {
	active, err := m.repo.GetActive(ctx, accountID, kind)
	if err != nil {
		return false, err
	}
	return active != nil, nil
}

// Release 管理员解除 (带审计理由，只供管理接口调用，规则不得直接触达)
func (m *Manager) Release(ctx context.Context, accountID string, kind Kind) error {
	active, err := m.repo.GetActive(ctx, accountID, kind)
	if err != nil {
		return err
	}
	if active == nil {
		return nil
	}
	cleared, err := m.repo.Clear(ctx, active.ID, m.now().UnixMilli())
	if err != nil {
		return err
	}
	if cleared {
		m.invalidate(ctx, accountID, kind)
		m.disarmTimer(accountID, kind)
		log.Printf("[Lockout] released by admin: account=%s kind=%s", accountID, kind)
	}
	return nil
}

// Expire 时间型锁定到期 (定时器/重置调度器调用)
// 幂等: 已清除的锁定再 expire 是 no-op，不是错误
func (m *Manager) Expire(ctx context.Context, accountID string, kind Kind) error {
	active, err := m.repo.GetActive(ctx, accountID, kind)
	if err != nil {
		return err
	}
	if active == nil {
		return nil
	}
	cleared, err := m.repo.Clear(ctx, active.ID, m.now().UnixMilli())
	if err != nil {
		return err
	}
	if cleared {
		m.invalidate(ctx, accountID, kind)
		m.disarmTimer(accountID, kind)
		log.Printf("[Lockout] expired: account=%s kind=%s", accountID, kind)
	}
	return nil
}

// ExpireUntilReset 计划重置触发: 解除该账户所有"锁到重置"的锁定
func (m *Manager) ExpireUntilReset(ctx context.Context, accountID string) error {
	for _, kind := range []Kind{KindHard, KindCooldown} {
		active, err := m.repo.GetActive(ctx, accountID, kind)
		if err != nil {
			return err
		}
		if active == nil || !active.ExpiresUntilReset() {
			continue
		}
		cleared, err := m.repo.Clear(ctx, active.ID, m.now().UnixMilli())
		if err != nil {
			return err
		}
		if cleared {
			m.invalidate(ctx, accountID, kind)
			log.Printf("[Lockout] cleared at reset: account=%s kind=%s", accountID, kind)
		}
	}
	return nil
}

// History 账户锁定历史 (审计查询)
func (m *Manager) History(ctx context.Context, accountID string, limit int) ([]*Record, error) {
	return m.repo.ListByAccount(ctx, accountID, limit)
}

// ActiveAccounts 当前持有活跃锁定的账户 ID (去重)
//
// 【注意】以存储为准，不看内存。重启后引擎内存里的账户表可能不全，
// 计划重置靠这个接口保证"只剩一条锁到重置的锁定"的账户也在清理范围内。
func (m *Manager) ActiveAccounts(ctx context.Context) ([]string, error) {
	records, err := m.repo.ListActive(ctx)
	if err != nil {
		return nil, fmt.Errorf("list active lockouts: %w", err)
	}

	seen := make(map[string]struct{}, len(records))
	accounts := make([]string, 0, len(records))
	for _, record := range records {
		if _, ok := seen[record.AccountID]; ok {
			continue
		}
		seen[record.AccountID] = struct{}{}
		accounts = append(accounts, record.AccountID)
	}
	return accounts, nil
}

// =============================================================================
// 崩溃恢复
// =============================================================================

// Recover 启动恢复: 重载活跃锁定并重新挂载定时器
//
// 【核心】用落库的原始 expires_at 调 ScheduleAt，不重新计算时长 ——
// 崩溃前还剩 10 分钟的锁定，重启后还是在原时刻到期。
func (m *Manager) Recover(ctx context.Context) error {
	records, err := m.repo.ListActive(ctx)
	if err != nil {
		return fmt.Errorf("recover lockouts: %w", err)
	}

	for _, record := range records {
		m.armTimer(record)
	}
	log.Printf("[Lockout] recovered %d active lockouts", len(records))
	return nil
}

// =============================================================================
// 定时器挂载
// =============================================================================

func (m *Manager) armTimer(record *Record) {
	if m.timers == nil || record.ExpiresAt == nil {
		return
	}

	purpose := timer.LockoutExpiry
	if record.Kind == KindCooldown {
		purpose = timer.CooldownExpiry
	}

	h := m.timers.ScheduleAt(time.UnixMilli(*record.ExpiresAt), purpose, record.AccountID)

	m.mu.Lock()
	m.handles[handleKey(record.AccountID, record.Kind)] = h
	m.mu.Unlock()
}

func (m *Manager) disarmTimer(accountID string, kind Kind) {
	if m.timers == nil {
		return
	}
	m.mu.Lock()
	h := m.handles[handleKey(accountID, kind)]
	delete(m.handles, handleKey(accountID, kind))
	m.mu.Unlock()

	if h != nil {
		m.timers.Cancel(h)
	}
}

func (m *Manager) invalidate(ctx context.Context, accountID string, kind Kind) {
	if c, ok := m.repo.(cacheInvalidator); ok {
		c.Invalidate(ctx, accountID, kind)
	}
}
