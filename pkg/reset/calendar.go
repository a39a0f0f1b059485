// 文件: pkg/reset/calendar.go
// 交易日历
//
// "交易日"是两次计划重置之间的记账周期，不是自然日。
// 例: 17:00 America/New_York 重置时，周二 17:05 的成交记在周三的交易日上。
// 全部计算用 time.LoadLocation 的本地时间完成，DST 切换由标准库处理。

package reset

import (
	"fmt"
	"time"
)

// Cadence 重置频率
type Cadence int8

const (
	Daily  Cadence = iota // 每个交易日一次
	Weekly                // 每周一次 (指定星期几)
)

// CalendarConfig 日历配置
type CalendarConfig struct {
	Timezone string       // IANA 时区名，如 "America/New_York"
	Hour     int          // 重置时刻 (本地钟面时间)
	Minute   int
	Cadence  Cadence
	Weekday  time.Weekday // 仅 Weekly 有效
}

// DefaultCalendarConfig 期货惯例: 17:00 纽约时间，每日
func DefaultCalendarConfig() CalendarConfig {
	return CalendarConfig{
		Timezone: "America/New_York",
		Hour:     17,
		Minute:   0,
		Cadence:  Daily,
	}
}

// Calendar 交易日历
type Calendar struct {
	cfg CalendarConfig
	loc *time.Location
}

// NewCalendar 创建日历，配置错误在启动期暴露
func NewCalendar(cfg CalendarConfig) (*Calendar, error) {
	if cfg.Hour < 0 || cfg.Hour > 23 || cfg.Minute < 0 || cfg.Minute > 59 {
		return nil, fmt.Errorf("invalid reset time %02d:%02d", cfg.Hour, cfg.Minute)
	}
	loc, err := time.LoadLocation(cfg.Timezone)
	if err != nil {
		return nil, fmt.Errorf("load timezone %s: %w", cfg.Timezone, err)
	}
	return &Calendar{cfg: cfg, loc: loc}, nil
}

// NextReset 严格晚于 after 的下一次重置时刻
//
// time.Date 按本地钟面构造，夏令时切换周两侧各自落在正确的
// 墙上时间 (偏移不同，间隔可能是 23/25 小时)。
func (c *Calendar) NextReset(after time.Time) time.Time {
	local := after.In(c.loc)
	y, m, d := local.Date()
	candidate := time.Date(y, m, d, c.cfg.Hour, c.cfg.Minute, 0, 0, c.loc)

	for !candidate.After(after) || (c.cfg.Cadence == Weekly && candidate.Weekday() != c.cfg.Weekday) {
		candidate = candidate.AddDate(0, 0, 1)
		// AddDate 跨 DST 后重新按钟面对齐
		yy, mm, dd := candidate.Date()
		candidate = time.Date(yy, mm, dd, c.cfg.Hour, c.cfg.Minute, 0, 0, c.loc)
	}
	return candidate
}

// TradingDay 时刻 at 所属的交易日标识 (格式 2006-01-02)
// 重置时刻当口及之后的事件记到下一个自然日的标签上
func (c *Calendar) TradingDay(at time.Time) string {
	local := at.In(c.loc)
	y, m, d := local.Date()
	resetToday := time.Date(y, m, d, c.cfg.Hour, c.cfg.Minute, 0, 0, c.loc)

	day := time.Date(y, m, d, 0, 0, 0, 0, c.loc)
	if !at.Before(resetToday) {
		day = day.AddDate(0, 0, 1)
	}
	return day.Format("2006-01-02")
}
