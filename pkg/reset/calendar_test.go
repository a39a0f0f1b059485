package reset

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newNYCalendar(t *testing.T) *Calendar {
	cal, err := NewCalendar(DefaultCalendarConfig())
	require.NoError(t, err)
	return cal
}

func TestNextReset_SameDayBeforeResetTime(t *testing.T) {
	cal := newNYCalendar(t)
	ny, _ := time.LoadLocation("America/New_York")

	// 周二 10:00 NY → 当天 17:00
	at := time.Date(2026, 3, 3, 10, 0, 0, 0, ny)
	next := cal.NextReset(at)
	assert.Equal(t, time.Date(2026, 3, 3, 17, 0, 0, 0, ny), next)
}

func TestNextReset_AfterResetTimeRollsToNextDay(t *testing.T) {
	cal := newNYCalendar(t)
	ny, _ := time.LoadLocation("America/New_York")

	// 17:00 整点属于"已过"，下一次在次日
	at := time.Date(2026, 3, 3, 17, 0, 0, 0, ny)
	next := cal.NextReset(at)
	assert.Equal(t, time.Date(2026, 3, 4, 17, 0, 0, 0, ny), next)
}

func TestNextReset_DSTSpringForward(t *testing.T) {
	cal := newNYCalendar(t)
	ny, _ := time.LoadLocation("America/New_York")

	// 2026-03-08 是美国夏令时切换日 (02:00 → 03:00)
	// 切换日前夜的重置在 EST，切换日当天的重置在 EDT，
	// 两者都必须落在本地钟面 17:00
	before := time.Date(2026, 3, 7, 17, 0, 0, 0, ny) // 周六 17:00 EST
	next := cal.NextReset(before)
	assert.Equal(t, time.Date(2026, 3, 8, 17, 0, 0, 0, ny), next)
	assert.Equal(t, 17, next.In(ny).Hour())

	// 钟面 17:00 不变，但 UTC 间隔只有 23 小时
	assert.Equal(t, 23*time.Hour, next.Sub(before))

	// 切换日之后恢复 24 小时间隔
	after := cal.NextReset(next)
	assert.Equal(t, 24*time.Hour, after.Sub(next))
	assert.Equal(t, 17, after.In(ny).Hour())
}

func TestNextReset_DSTFallBack(t *testing.T) {
	cal := newNYCalendar(t)
	ny, _ := time.LoadLocation("America/New_York")

	// 2026-11-01 退出夏令时，间隔变成 25 小时
	before := time.Date(2026, 10, 31, 17, 0, 0, 0, ny)
	next := cal.NextReset(before)
	assert.Equal(t, 25*time.Hour, next.Sub(before))
	assert.Equal(t, 17, next.In(ny).Hour())
}

func TestNextReset_Weekly(t *testing.T) {
	cal, err := NewCalendar(CalendarConfig{
		Timezone: "America/New_York",
		Hour:     17,
		Cadence:  Weekly,
		Weekday:  time.Friday,
	})
	require.NoError(t, err)
	ny, _ := time.LoadLocation("America/New_York")

	at := time.Date(2026, 3, 3, 10, 0, 0, 0, ny) // 周二
	next := cal.NextReset(at)
	assert.Equal(t, time.Friday, next.Weekday())
	assert.Equal(t, time.Date(2026, 3, 6, 17, 0, 0, 0, ny), next)
}

func TestTradingDay_Boundary(t *testing.T) {
	cal := newNYCalendar(t)
	ny, _ := time.LoadLocation("America/New_York")

	// 16:59 属于当天，17:00 起属于下一个交易日
	assert.Equal(t, "2026-03-03", cal.TradingDay(time.Date(2026, 3, 3, 16, 59, 0, 0, ny)))
	assert.Equal(t, "2026-03-04", cal.TradingDay(time.Date(2026, 3, 3, 17, 0, 0, 0, ny)))
	assert.Equal(t, "2026-03-04", cal.TradingDay(time.Date(2026, 3, 3, 23, 30, 0, 0, ny)))
}

func TestNewCalendar_InvalidConfig(t *testing.T) {
	_, err := NewCalendar(CalendarConfig{Timezone: "America/New_York", Hour: 25})
	assert.Error(t, err)

	_, err = NewCalendar(CalendarConfig{Timezone: "Not/AZone", Hour: 17})
	assert.Error(t, err)
}

// =============================================================================
// 调度器重试
// =============================================================================

func TestScheduler_RetriesUntilApplied(t *testing.T) {
	cal := newNYCalendar(t)

	var calls atomic.Int32
	applied := make(chan string, 1)
	apply := func(ctx context.Context, firedAt time.Time, tradingDay string) error {
		// 前两次模拟存储不可用，调度器必须保留重置义务
		if calls.Add(1) <= 2 {
			return errors.New("store unavailable")
		}
		applied <- tradingDay
		return nil
	}

	s := NewScheduler(SchedulerConfig{RetryBase: 5 * time.Millisecond, RetryCap: 20 * time.Millisecond}, cal, apply)

	ok := s.fire(context.Background(), time.Now())
	require.True(t, ok)

	select {
	case day := <-applied:
		assert.NotEmpty(t, day)
	default:
		t.Fatal("reset was never applied")
	}
	assert.Equal(t, int32(3), calls.Load())
}
