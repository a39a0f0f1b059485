// 文件: pkg/reset/marker.go
// 重置幂等标记
//
// 每账户一行 last_reset_applied。进程在重置后立刻崩溃重启时，
// 靠它判断"这个交易日的重置是否已应用过"，保证至多应用一次。

package reset

import (
	"context"
	"errors"
	"sync"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// Marker 重置标记
type Marker struct {
	AccountID   string `gorm:"column:account_id;type:varchar(32);primaryKey"`
	LastApplied string `gorm:"column:last_applied;type:varchar(10)"` // 交易日标识
	UpdatedAt   int64  `gorm:"column:updated_at"`
}

func (Marker) TableName() string {
	return "reset_markers"
}

// MarkerRepository 标记存储接口
type MarkerRepository interface {
	// Get 不存在返回 (nil, nil)
	Get(ctx context.Context, accountID string) (*Marker, error)

	// Upsert 写入标记
	Upsert(ctx context.Context, accountID, tradingDay string) error
}

// =============================================================================
// MySQL 实现
// =============================================================================

var _ MarkerRepository = (*MySQLMarkerRepository)(nil)

type MySQLMarkerRepository struct {
	db *gorm.DB
}

func NewMySQLMarkerRepository(db *gorm.DB) *MySQLMarkerRepository {
	return &MySQLMarkerRepository{db: db}
}

func (r *MySQLMarkerRepository) Get(ctx context.Context, accountID string) (*Marker, error) {
	var marker Marker
	err := r.db.WithContext(ctx).
		Where("account_id = ?", accountID).
		First(&marker).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &marker, nil
}

func (r *MySQLMarkerRepository) Upsert(ctx context.Context, accountID, tradingDay string) error {
	marker := &Marker{
		AccountID:   accountID,
		LastApplied: tradingDay,
		UpdatedAt:   time.Now().UnixMilli(),
	}
	return r.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns: []clause.Column{{Name: "account_id"}},
			DoUpdates: clause.Assignments(map[string]interface{}{
				"last_applied": tradingDay,
				"updated_at":   marker.UpdatedAt,
			}),
		}).
		Create(marker).Error
}

// =============================================================================
// 内存实现 (单测用)
// =============================================================================

var _ MarkerRepository = (*MemoryMarkerRepository)(nil)

type MemoryMarkerRepository struct {
	mu      sync.RWMutex
	markers map[string]*Marker

	// FailUpserts 注入写失败，测试"重置义务不丢"路径
	FailUpserts error
}

func NewMemoryMarkerRepository() *MemoryMarkerRepository {
	return &MemoryMarkerRepository{markers: make(map[string]*Marker)}
}

func (r *MemoryMarkerRepository) Get(ctx context.Context, accountID string) (*Marker, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	marker, ok := r.markers[accountID]
	if !ok {
		return nil, nil
	}
	cp := *marker
	return &cp, nil
}

func (r *MemoryMarkerRepository) Upsert(ctx context.Context, accountID, tradingDay string) error {
	if r.FailUpserts != nil {
		return r.FailUpserts
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.markers[accountID] = &Marker{
		AccountID:   accountID,
		LastApplied: tradingDay,
		UpdatedAt:   time.Now().UnixMilli(),
	}
	return nil
}
