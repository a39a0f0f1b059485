// 文件: pkg/pnl/repository.go
// 盈亏存储接口
//
// 【设计模式】Repository Pattern
// - 业务层只依赖接口，不关心具体实现
// - 单测用内存实现，生产用 MySQL 实现

package pnl

import "context"

// Repository 盈亏/持仓存储接口
//
// 跨实体更新 (持仓 + 当日盈亏) 必须走 Transaction 原子提交。
type Repository interface {
	// GetPosition 查询持仓，不存在返回 (nil, nil)
	GetPosition(ctx context.Context, accountID, symbol string) (*Position, error)

	// ListPositions 账户全部持仓
	ListPositions(ctx context.Context, accountID string) ([]*Position, error)

	// ListOpenPositions 全部账户的未平持仓 (size != 0)，崩溃恢复用
	ListOpenPositions(ctx context.Context) ([]*Position, error)

	// SavePosition 写入持仓 (upsert)
	SavePosition(ctx context.Context, pos *Position) error

	// GetDaily 查询当日盈亏记录，不存在返回 (nil, nil)
	GetDaily(ctx context.Context, accountID, tradingDay string) (*DailyPnLRecord, error)

	// AddRealized 累加当日已实现盈亏 (upsert)
	// trades 为本次新增的成交笔数
	AddRealized(ctx context.Context, accountID, tradingDay, currency string, delta int64, trades int) error

	// ResetDaily 开启新交易日: 写入一条零值记录 (幂等)
	ResetDaily(ctx context.Context, accountID, tradingDay, currency string) error

	// Transaction 在一个事务内执行 fn，fn 内用 tx 访问存储
	Transaction(ctx context.Context, fn func(tx Repository) error) error
}
