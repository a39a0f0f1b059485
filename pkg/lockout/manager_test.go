package lockout

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"riskd.com/pkg/timer"
)

var testID atomic.Int64

func nextTestID() int64 { return testID.Add(1) }

func newTestManager(policy OverlapPolicy) (*Manager, *MemoryRepository) {
	repo := NewMemoryRepository()
	return NewManager(Config{Policy: policy}, repo, nil, nextTestID), repo
}

func TestEngage_AtMostOneActive(t *testing.T) {
	m, repo := newTestManager(OverlapReject)
	ctx := context.Background()

	_, err := m.Engage(ctx, "ACC-1", KindHard, "daily profit target hit", nil)
	require.NoError(t, err)

	// 同 Kind 再 engage → 拒绝，绝不叠出第二条活跃记录
	_, err = m.Engage(ctx, "ACC-1", KindHard, "again", nil)
	assert.ErrorIs(t, err, ErrAlreadyLocked)

	active, err := repo.ListActive(ctx)
	require.NoError(t, err)
	assert.Len(t, active, 1)

	// 不同 Kind 互不影响
	_, err = m.Engage(ctx, "ACC-1", KindCooldown, "cooldown", ptrTime(time.Now().Add(time.Minute)))
	require.NoError(t, err)
}

func TestEngage_ExtendPolicy(t *testing.T) {
	m, repo := newTestManager(OverlapExtend)
	ctx := context.Background()

	early := time.Now().Add(10 * time.Minute)
	late := time.Now().Add(30 * time.Minute)

	first, err := m.Engage(ctx, "ACC-1", KindCooldown, "first", &early)
	require.NoError(t, err)

	// 更晚的到期时间 → 延长
	extended, err := m.Engage(ctx, "ACC-1", KindCooldown, "second", &late)
	require.NoError(t, err)
	assert.Equal(t, first.ID, extended.ID, "extend must reuse the active record")
	require.NotNil(t, extended.ExpiresAt)
	assert.Equal(t, late.UnixMilli(), *extended.ExpiresAt)

	// 更早的到期时间 → 保持原值 (确定性，取更晚者)
	extended, err = m.Engage(ctx, "ACC-1", KindCooldown, "third", &early)
	require.NoError(t, err)
	assert.Equal(t, late.UnixMilli(), *extended.ExpiresAt)

	// "锁到重置"压过一切固定时刻
	extended, err = m.Engage(ctx, "ACC-1", KindCooldown, "until reset", nil)
	require.NoError(t, err)
	assert.Nil(t, extended.ExpiresAt)

	active, err := repo.ListActive(ctx)
	require.NoError(t, err)
	assert.Len(t, active, 1, "extend must never stack records")
}

func TestIsLocked(t *testing.T) {
	m, _ := newTestManager(OverlapReject)
	ctx := context.Background()

	locked, err := m.IsLocked(ctx, "ACC-1", KindHard)
	require.NoError(t, err)
	assert.False(t, locked)

	_, err = m.Engage(ctx, "ACC-1", KindHard, "violation", nil)
	require.NoError(t, err)

	locked, err = m.IsLocked(ctx, "ACC-1", KindHard)
	require.NoError(t, err)
	assert.True(t, locked)
}

func TestExpire_Idempotent(t *testing.T) {
	m, _ := newTestManager(OverlapReject)
	ctx := context.Background()

	expiry := time.Now().Add(time.Minute)
	_, err := m.Engage(ctx, "ACC-1", KindCooldown, "cooldown", &expiry)
	require.NoError(t, err)

	require.NoError(t, m.Expire(ctx, "ACC-1", KindCooldown))

	locked, err := m.IsLocked(ctx, "ACC-1", KindCooldown)
	require.NoError(t, err)
	assert.False(t, locked)

	// 重复 expire 是 no-op，不是错误
	require.NoError(t, m.Expire(ctx, "ACC-1", KindCooldown))
	require.NoError(t, m.Expire(ctx, "ACC-2", KindCooldown)) // 从未锁过也一样
}

func TestRelease_Admin(t *testing.T) {
	m, repo := newTestManager(OverlapReject)
	ctx := context.Background()

	_, err := m.Engage(ctx, "ACC-1", KindHard, "loss limit", nil)
	require.NoError(t, err)

	require.NoError(t, m.Release(ctx, "ACC-1", KindHard))

	locked, err := m.IsLocked(ctx, "ACC-1", KindHard)
	require.NoError(t, err)
	assert.False(t, locked)

	// 历史保留，审计可查
	history, err := repo.ListByAccount(ctx, "ACC-1", 10)
	require.NoError(t, err)
	require.Len(t, history, 1)
	assert.NotNil(t, history[0].ClearedAt)
}

func TestExpireUntilReset(t *testing.T) {
	m, _ := newTestManager(OverlapReject)
	ctx := context.Background()

	// "锁到重置"的硬锁定 + 有固定到期的冷却锁定
	_, err := m.Engage(ctx, "ACC-1", KindHard, "profit target", nil)
	require.NoError(t, err)
	expiry := time.Now().Add(time.Hour)
	_, err = m.Engage(ctx, "ACC-1", KindCooldown, "cooldown", &expiry)
	require.NoError(t, err)

	require.NoError(t, m.ExpireUntilReset(ctx, "ACC-1"))

	// 只有"锁到重置"的被清掉
	locked, _ := m.IsLocked(ctx, "ACC-1", KindHard)
	assert.False(t, locked)
	locked, _ = m.IsLocked(ctx, "ACC-1", KindCooldown)
	assert.True(t, locked)
}

func TestRecover_RearmsAtPersistedExpiry(t *testing.T) {
	repo := NewMemoryRepository()
	ctx := context.Background()

	// 模拟崩溃前落库的锁定: 到期时间在未来 30ms
	expiresAt := time.Now().Add(30 * time.Millisecond).UnixMilli()
	require.NoError(t, repo.Create(ctx, &Record{
		ID:        nextTestID(),
		AccountID: "ACC-1",
		Kind:      KindCooldown,
		Reason:    "pre-crash cooldown",
		EngagedAt: time.Now().Add(-time.Minute).UnixMilli(),
		ExpiresAt: &expiresAt,
	}))

	timers := timer.NewManager(timer.DefaultConfig(), nextTestID)
	timers.Start(ctx)
	defer timers.Stop()

	m := NewManager(DefaultConfig(), repo, timers, nextTestID)
	require.NoError(t, m.Recover(ctx))

	// 定时器必须按原始 expires_at 触发
	select {
	case firing := <-timers.Fired():
		assert.Equal(t, "ACC-1", firing.AccountID)
		assert.Equal(t, timer.CooldownExpiry, firing.Purpose)
		assert.Equal(t, expiresAt, firing.FiresAt.UnixMilli())
	case <-time.After(2 * time.Second):
		t.Fatal("recovered lockout timer did not fire")
	}
}

func ptrTime(t time.Time) *time.Time { return &t }

func TestActiveAccounts_StorageDrivenAndDeduped(t *testing.T) {
	m, _ := newTestManager(OverlapReject)
	ctx := context.Background()

	_, err := m.Engage(ctx, "ACC-1", KindHard, "until reset", nil)
	require.NoError(t, err)
	_, err = m.Engage(ctx, "ACC-1", KindCooldown, "cooldown", ptrTime(time.Now().Add(time.Minute)))
	require.NoError(t, err)
	_, err = m.Engage(ctx, "ACC-2", KindHard, "until reset", nil)
	require.NoError(t, err)

	accounts, err := m.ActiveAccounts(ctx)
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"ACC-1", "ACC-2"}, accounts)

	// 清掉之后不再出现在枚举里
	require.NoError(t, m.ExpireUntilReset(ctx, "ACC-2"))
	accounts, err = m.ActiveAccounts(ctx)
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"ACC-1"}, accounts)
}
