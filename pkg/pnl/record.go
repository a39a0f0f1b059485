// 文件: pkg/pnl/record.go
// 当日盈亏记录
//
// 一个账户每个交易日一行，随每笔影响已实现盈亏的事件 upsert。
// "交易日"边界由重置调度器决定，不是自然日零点。

package pnl

// DailyPnLRecord 当日盈亏记录
type DailyPnLRecord struct {
	ID        uint   `gorm:"primaryKey;autoIncrement"`
	AccountID string `gorm:"column:account_id;type:varchar(32);uniqueIndex:idx_account_day"`

	// TradingDay 交易日标识，格式 2006-01-02 (按重置时区的本地日期)
	TradingDay string `gorm:"column:trading_day;type:varchar(10);uniqueIndex:idx_account_day"`

	RealizedPnL int64  `gorm:"column:realized_pnl"` // 定点
	Currency    string `gorm:"column:currency;type:varchar(16)"`
	TradeCount  int    `gorm:"column:trade_count"`

	// Version 乐观锁版本号，事件路径与调度器并发 upsert 时防丢更新
	Version   int   `gorm:"column:version"`
	UpdatedAt int64 `gorm:"column:updated_at"`
}

func (DailyPnLRecord) TableName() string {
	return "daily_pnl"
}
