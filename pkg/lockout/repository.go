// 文件: pkg/lockout/repository.go
// 锁定记录存储接口

package lockout

import "context"

// Repository 锁定记录存储接口
//
// 【设计模式】Repository Pattern，同 pnl 包:
// MySQL 做持久化，Redis 装饰器做活跃状态查询加速，内存版供单测。
type Repository interface {
	// Create 插入新记录
	Create(ctx context.Context, record *Record) error

	// GetActive 查询账户在某 Kind 上的活跃记录，没有返回 (nil, nil)
	GetActive(ctx context.Context, accountID string, kind Kind) (*Record, error)

	// ListActive 全部活跃记录 (崩溃恢复用)
	ListActive(ctx context.Context) ([]*Record, error)

	// ListByAccount 账户全历史 (审计)
	ListByAccount(ctx context.Context, accountID string, limit int) ([]*Record, error)

	// Clear 标记清除
	// 返回是否真的清除了 (false = 已被清除过，幂等 no-op)
	Clear(ctx context.Context, id int64, clearedAt int64) (bool, error)

	// UpdateExpiry 延长活跃记录的到期时间 (overlap=extend 策略)
	// expiresAt 传 nil 表示改为"锁到重置"
	UpdateExpiry(ctx context.Context, id int64, expiresAt *int64) error
}
