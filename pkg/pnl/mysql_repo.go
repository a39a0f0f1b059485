// 文件: pkg/pnl/mysql_repo.go
// 盈亏存储 MySQL 实现 (GORM)
//
// 【设计】
// - 使用 GORM 的 clause.OnConflict 做 upsert
// - 版本号自增防丢更新
// - 所有操作带 context 支持超时控制

package pnl

import (
	"context"
	"errors"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// 确保实现了接口
var _ Repository = (*MySQLRepository)(nil)

// MySQLRepository MySQL 实现
type MySQLRepository struct {
	db *gorm.DB
}

// NewMySQLRepository 创建 MySQL 存储
func NewMySQLRepository(db *gorm.DB) *MySQLRepository {
	return &MySQLRepository{db: db}
}

// GetPosition 查询持仓
func (r *MySQLRepository) GetPosition(ctx context.Context, accountID, symbol string) (*Position, error) {
	var pos Position
	err := r.db.WithContext(ctx).
		Where("account_id = ? AND symbol = ?", accountID, symbol).
		First(&pos).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil // 无持仓
		}
		return nil, err
	}
	return &pos, nil
}

// ListPositions 账户全部持仓
func (r *MySQLRepository) ListPositions(ctx context.Context, accountID string) ([]*Position, error) {
	var positions []*Position
	err := r.db.WithContext(ctx).
		Where("account_id = ?", accountID).
		Find(&positions).Error
	return positions, err
}

// ListOpenPositions 全部账户的未平持仓 (崩溃恢复用)
func (r *MySQLRepository) ListOpenPositions(ctx context.Context) ([]*Position, error) {
	var positions []*Position
	err := r.db.WithContext(ctx).
		Where("size <> 0").
		Find(&positions).Error
	return positions, err
}

// SavePosition 写入持仓 (upsert)
func (r *MySQLRepository) SavePosition(ctx context.Context, pos *Position) error {
	pos.UpdatedAt = time.Now().UnixMilli()

	return r.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns: []clause.Column{{Name: "account_id"}, {Name: "symbol"}},
			DoUpdates: clause.Assignments(map[string]interface{}{
				"size":         pos.Size,
				"avg_price":    pos.AvgPrice,
				"realized_pnl": pos.RealizedPnL,
				"unrealized":   pos.Unrealized,
				"opened_at":    pos.OpenedAt,
				"updated_at":   pos.UpdatedAt,
			}),
		}).
		Create(pos).Error
}

// GetDaily 查询当日盈亏记录
func (r *MySQLRepository) GetDaily(ctx context.Context, accountID, tradingDay string) (*DailyPnLRecord, error) {
	var record DailyPnLRecord
	err := r.db.WithContext(ctx).
		Where("account_id = ? AND trading_day = ?", accountID, tradingDay).
		First(&record).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &record, nil
}

// AddRealized 累加当日已实现盈亏 (upsert)
func (r *MySQLRepository) AddRealized(ctx context.Context, accountID, tradingDay, currency string, delta int64, trades int) error {
	now := time.Now().UnixMilli()
	record := &DailyPnLRecord{
		AccountID:   accountID,
		TradingDay:  tradingDay,
		RealizedPnL: delta,
		Currency:    currency,
		TradeCount:  trades,
		UpdatedAt:   now,
	}

	return r.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns: []clause.Column{{Name: "account_id"}, {Name: "trading_day"}},
			DoUpdates: clause.Assignments(map[string]interface{}{
				"realized_pnl": gorm.Expr("realized_pnl + ?", delta),
				"trade_count":  gorm.Expr("trade_count + ?", trades),
				"version":      gorm.Expr("version + 1"),
				"updated_at":   now,
			}),
		}).
		Create(record).Error
}

// ResetDaily 开启新交易日 (幂等: 已有行则不动)
func (r *MySQLRepository) ResetDaily(ctx context.Context, accountID, tradingDay, currency string) error {
	record := &DailyPnLRecord{
		AccountID:  accountID,
		TradingDay: tradingDay,
		Currency:   currency,
		UpdatedAt:  time.Now().UnixMilli(),
	}

	// 已存在当日行说明重置已应用过，DoNothing 保证幂等
	return r.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "account_id"}, {Name: "trading_day"}},
			DoNothing: true,
		}).
		Create(record).Error
}

// Transaction 执行事务
func (r *MySQLRepository) Transaction(ctx context.Context, fn func(tx Repository) error) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return fn(&MySQLRepository{db: tx})
	})
}
