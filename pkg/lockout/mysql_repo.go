// 文件: pkg/lockout/mysql_repo.go
// 锁定记录 MySQL 实现 (GORM)

package lockout

import (
	"context"
	"errors"

	"gorm.io/gorm"
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

// Create 插入新记录
func (r *MySQLRepository) Create(ctx context.Context, record *Record) error {
	return r.db.WithContext(ctx).Create(record).Error
}

// GetActive 查询活跃记录
func (r *MySQLRepository) GetActive(ctx context.Context, accountID string, kind Kind) (*Record, error) {
	var record Record
	err := r.db.WithContext(ctx).
		Where("account_id = ? AND kind = ? AND cleared_at IS NULL", accountID, kind).
		Order("engaged_at DESC").
		First(&record).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &record, nil
}

// ListActive 全部活跃记录
func (r *MySQLRepository) ListActive(ctx context.Context) ([]*Record, error) {
	var records []*Record
	err := r.db.WithContext(ctx).
		Where("cleared_at IS NULL").
		Find(&records).Error
	return records, err
}

// ListByAccount 账户全历史
func (r *MySQLRepository) ListByAccount(ctx context.Context, accountID string, limit int) ([]*Record, error) {
	var records []*Record
	err := r.db.WithContext(ctx).
		Where("account_id = ?", accountID).
		Order("engaged_at DESC").
		Limit(limit).
		Find(&records).Error
	return records, err
}

// Clear 标记清除
// WHERE cleared_at IS NULL 保证幂等: 已清除的记录不会被二次改写
func (r *MySQLRepository) Clear(ctx context.Context, id int64, clearedAt int64) (bool, error) {
	result := r.db.WithContext(ctx).
		Model(&Record{}).
		Where("id = ? AND cleared_at IS NULL", id).
		Update("cleared_at", clearedAt)
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected > 0, nil
}

// UpdateExpiry 延长到期时间
func (r *MySQLRepository) UpdateExpiry(ctx context.Context, id int64, expiresAt *int64) error {
	return r.db.WithContext(ctx).
		Model(&Record{}).
		Where("id = ? AND cleared_at IS NULL", id).
		Update("expires_at", expiresAt).Error
}
