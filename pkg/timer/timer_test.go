package timer

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testID atomic.Int64

func nextTestID() int64 { return testID.Add(1) }

func newTestManager(t *testing.T) *Manager {
	m := NewManager(DefaultConfig(), nextTestID)
	m.Start(context.Background())
	t.Cleanup(m.Stop)
	return m
}

func TestSchedule_Fires(t *testing.T) {
	m := newTestManager(t)

	h := m.Schedule(20*time.Millisecond, GracePeriod, "ACC-1")

	select {
	case firing := <-m.Fired():
		assert.Equal(t, h.ID, firing.ID)
		assert.Equal(t, "ACC-1", firing.AccountID)
		assert.Equal(t, GracePeriod, firing.Purpose)
	case <-time.After(2 * time.Second):
		t.Fatal("timer did not fire")
	}
}

func TestSchedule_FiresInDeadlineOrder(t *testing.T) {
	m := newTestManager(t)

	// 乱序挂载，按截止时间触发
	m.Schedule(60*time.Millisecond, CooldownExpiry, "late")
	m.Schedule(20*time.Millisecond, CooldownExpiry, "early")
	m.Schedule(40*time.Millisecond, CooldownExpiry, "middle")

	var got []string
	for i := 0; i < 3; i++ {
		select {
		case firing := <-m.Fired():
			got = append(got, firing.AccountID)
		case <-time.After(2 * time.Second):
			t.Fatal("missing firing")
		}
	}
	assert.Equal(t, []string{"early", "middle", "late"}, got)
}

func TestCancel_BeforeDeadline(t *testing.T) {
	m := newTestManager(t)

	h := m.Schedule(50*time.Millisecond, GracePeriod, "ACC-1")
	require.True(t, m.Cancel(h))

	// 截止时间过后也不得有任何触发通知
	select {
	case firing := <-m.Fired():
		t.Fatalf("cancelled timer fired: %+v", firing)
	case <-time.After(150 * time.Millisecond):
	}
}

func TestCancel_AfterFiring(t *testing.T) {
	m := newTestManager(t)

	h := m.Schedule(10*time.Millisecond, CooldownExpiry, "ACC-1")

	select {
	case <-m.Fired():
	case <-time.After(2 * time.Second):
		t.Fatal("timer did not fire")
	}

	// 触发之后取消是 no-op，不是错误
	assert.False(t, m.Cancel(h))
}

func TestCancel_Twice(t *testing.T) {
	m := newTestManager(t)

	h := m.Schedule(time.Hour, GracePeriod, "ACC-1")
	assert.True(t, m.Cancel(h))
	assert.False(t, m.Cancel(h))
}

func TestCancel_FireRace_NeverBoth(t *testing.T) {
	m := newTestManager(t)

	// 反复制造取消与触发贴着截止时间赛跑的场景，
	// 验证: 取消成功 ⇒ 无触发；取消失败 ⇒ 恰好一条触发
	for i := 0; i < 50; i++ {
		h := m.Schedule(time.Millisecond, CooldownExpiry, "racer")
		time.Sleep(time.Duration(i%3) * time.Millisecond / 2)
		cancelled := m.Cancel(h)

		if cancelled {
			select {
			case firing := <-m.Fired():
				if firing.ID == h.ID {
					t.Fatal("timer both cancelled and fired")
				}
			case <-time.After(10 * time.Millisecond):
			}
		} else {
			select {
			case firing := <-m.Fired():
				assert.Equal(t, h.ID, firing.ID)
			case <-time.After(2 * time.Second):
				t.Fatal("uncancelled timer never fired")
			}
		}
	}
}

func TestScheduleAt_PastDeadlineFiresImmediately(t *testing.T) {
	m := newTestManager(t)

	// 崩溃恢复场景: 落库的到期时间已经过去，重新挂载后应立刻触发
	h := m.ScheduleAt(time.Now().Add(-time.Minute), LockoutExpiry, "ACC-9")

	select {
	case firing := <-m.Fired():
		assert.Equal(t, h.ID, firing.ID)
		assert.Equal(t, LockoutExpiry, firing.Purpose)
	case <-time.After(2 * time.Second):
		t.Fatal("overdue timer did not fire")
	}
}

func TestStop_NotBlockedByFullFiredQueue(t *testing.T) {
	// 消费方已经不在了，触发队列被填满，Stop 仍要能返回
	m := NewManager(Config{FiredQueueSize: 1}, nextTestID)
	m.Start(context.Background())

	for i := 0; i < 3; i++ {
		m.Schedule(time.Millisecond, LockoutExpiry, "ACC-1")
	}
	require.Eventually(t, func() bool {
		return len(m.Fired()) == 1
	}, 2*time.Second, 5*time.Millisecond)

	done := make(chan struct{})
	go func() {
		m.Stop()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Stop hung on a full fired queue")
	}
}
