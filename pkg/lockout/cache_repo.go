// 文件: pkg/lockout/cache_repo.go
// 锁定状态 Redis 缓存层
//
// 【设计模式】装饰器模式 (Decorator Pattern)
// - 包装底层 Repository，透明加速 GetActive 查询
// - is_locked 在事件热路径上每条事件都要查，必须走缓存
//
// 【缓存策略】
// - 读: 先查 Redis，miss 则查 DB 并回填 (负结果也缓存，避免击穿)
// - 写: 先写 DB，成功后删缓存 (Cache Aside)

package lockout

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// 确保实现了接口
var _ Repository = (*CachedRepository)(nil)

const (
	// 活跃锁定: lockout:active:{account}:{kind}
	cacheKeyActive = "lockout:active:%s:%s"

	// 负结果哨兵值
	cacheNone = "none"

	cacheTTL = time.Hour
)

// CachedRepository Redis 缓存装饰器
type CachedRepository struct {
	repo  Repository
	redis *redis.Client
}

// NewCachedRepository 创建带缓存的 Repository
//
// 用法:
//
//	mysqlRepo := NewMySQLRepository(db)
//	cachedRepo := NewCachedRepository(mysqlRepo, redisClient)
//	manager := NewManager(cfg, cachedRepo, timers, nextID)
func NewCachedRepository(repo Repository, rds *redis.Client) *CachedRepository {
	return &CachedRepository{repo: repo, redis: rds}
}

func activeKey(accountID string, kind Kind) string {
	return fmt.Sprintf(cacheKeyActive, accountID, kind)
}

// GetActive 查询活跃记录 (带缓存)
func (r *CachedRepository) GetActive(ctx context.Context, accountID string, kind Kind) (*Record, error) {
	key := activeKey(accountID, kind)

	// 1. 查缓存
	data, err := r.redis.Get(ctx, key).Bytes()
	if err == nil {
		if string(data) == cacheNone {
			return nil, nil
		}
		var record Record
		if json.Unmarshal(data, &record) == nil {
			return &record, nil // Cache hit
		}
	}

	// 2. Cache miss, 查底层
	record, err := r.repo.GetActive(ctx, accountID, kind)
	if err != nil {
		return nil, err
	}

	// 3. 回填缓存
	if record == nil {
		r.redis.Set(ctx, key, cacheNone, cacheTTL)
		return nil, nil
	}
	if data, err := json.Marshal(record); err == nil {
		r.redis.Set(ctx, key, data, cacheTTL)
	}
	return record, nil
}

// Create 插入新记录: 写 DB 后删缓存
func (r *CachedRepository) Create(ctx context.Context, record *Record) error {
	if err := r.repo.Create(ctx, record); err != nil {
		return err
	}
	r.redis.Del(ctx, activeKey(record.AccountID, record.Kind))
	return nil
}

// Clear 标记清除: 写 DB 后删缓存
// Clear 只拿到 id，账户/种类未知，保守起见由调用方 (Manager) 负责
// 在拿着完整 Record 的位置调 Invalidate
func (r *CachedRepository) Clear(ctx context.Context, id int64, clearedAt int64) (bool, error) {
	return r.repo.Clear(ctx, id, clearedAt)
}

// UpdateExpiry 延长到期时间
func (r *CachedRepository) UpdateExpiry(ctx context.Context, id int64, expiresAt *int64) error {
	return r.repo.UpdateExpiry(ctx, id, expiresAt)
}

// Invalidate 失效某账户某 Kind 的缓存
func (r *CachedRepository) Invalidate(ctx context.Context, accountID string, kind Kind) {
	r.redis.Del(ctx, activeKey(accountID, kind))
}

// ListActive 全量查询不走缓存 (只在启动恢复时调用)
func (r *CachedRepository) ListActive(ctx context.Context) ([]*Record, error) {
	return r.repo.ListActive(ctx)
}

// ListByAccount 历史查询不走缓存
func (r *CachedRepository) ListByAccount(ctx context.Context, accountID string, limit int) ([]*Record, error) {
	return r.repo.ListByAccount(ctx, accountID, limit)
}
