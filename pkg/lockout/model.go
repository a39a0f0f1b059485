// 文件: pkg/lockout/model.go
// 锁定记录定义
//
// 锁定记录只追加、只标记清除，永不删除 —— 审计要看全历史。

package lockout

// =============================================================================
// 锁定种类
// =============================================================================

// Kind 锁定种类
type Kind string

const (
	// KindHard 硬锁定: 锁到固定时刻，或 ExpiresAt 为空时锁到下一次计划重置
	KindHard Kind = "HARD"

	// KindCooldown 冷却锁定: 固定时长，到期自动解除
	KindCooldown Kind = "COOLDOWN"
)

// =============================================================================
// Record - 锁定记录
// =============================================================================

// Record 锁定记录
//
// 不变量: 同一账户同一 Kind 至多一条活跃记录 (ClearedAt 为空即活跃)。
// ExpiresAt 为空表示"锁到下一次计划重置"，由重置调度器负责解除。
type Record struct {
	ID        int64  `gorm:"primaryKey"` // 雪花 ID
	AccountID string `gorm:"column:account_id;type:varchar(32);index"`
	Kind      Kind   `gorm:"column:kind;type:varchar(16)"`
	Reason    string `gorm:"column:reason;type:varchar(255)"`

	EngagedAt int64  `gorm:"column:engaged_at"` // UnixMilli
	ExpiresAt *int64 `gorm:"column:expires_at"` // UnixMilli，空=锁到重置
	ClearedAt *int64 `gorm:"column:cleared_at"` // UnixMilli，空=仍然活跃
}

func (Record) TableName() string {
	return "lockouts"
}

// IsActive 是否活跃
func (r *Record) IsActive() bool {
	return r.ClearedAt == nil
}

// ExpiresUntilReset 是否"锁到重置"
func (r *Record) ExpiresUntilReset() bool {
	return r.ExpiresAt == nil
}
