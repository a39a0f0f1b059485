// 文件: pkg/pnl/memory_repo.go
// 盈亏存储内存实现
// 用于单元测试和本地快速验证，接口语义与 MySQL 版一致

package pnl

import (
	"context"
	"sync"
	"time"
)

var _ Repository = (*MemoryRepository)(nil)

// MemoryRepository 内存实现
type MemoryRepository struct {
	mu        sync.RWMutex
	positions map[string]*Position       // key: accountID|symbol
	daily     map[string]*DailyPnLRecord // key: accountID|tradingDay

	// FailWrites 注入写失败，用于测试存储不可用路径
	FailWrites error
}

func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{
		positions: make(map[string]*Position),
		daily:     make(map[string]*DailyPnLRecord),
	}
}

func posKey(accountID, symbol string) string  { return accountID + "|" + symbol }
func dayKey(accountID, day string) string     { return accountID + "|" + day }

func (r *MemoryRepository) GetPosition(ctx context.Context, accountID, symbol string) (*Position, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	pos, ok := r.positions[posKey(accountID, symbol)]
	if !ok {
		return nil, nil
	}
	cp := *pos
	return &cp, nil
}

func (r *MemoryRepository) ListPositions(ctx context.Context, accountID string) ([]*Position, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []*Position
	for _, pos := range r.positions {
		if pos.AccountID == accountID {
			cp := *pos
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (r *MemoryRepository) ListOpenPositions(ctx context.Context) ([]*Position, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []*Position
	for _, pos := range r.positions {
		if pos.Size != 0 {
			cp := *pos
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (r *MemoryRepository) SavePosition(ctx context.Context, pos *Position) error {
	if r.FailWrites != nil {
		return r.FailWrites
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	cp := *pos
	cp.UpdatedAt = time.Now().UnixMilli()
	r.positions[posKey(pos.AccountID, pos.Symbol)] = &cp
	return nil
}

func (r *MemoryRepository) GetDaily(ctx context.Context, accountID, tradingDay string) (*DailyPnLRecord, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	record, ok := r.daily[dayKey(accountID, tradingDay)]
	if !ok {
		return nil, nil
	}
	cp := *record
	return &cp, nil
}

func (r *MemoryRepository) AddRealized(ctx context.Context, accountID, tradingDay, currency string, delta int64, trades int) error {
	if r.FailWrites != nil {
		return r.FailWrites
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	key := dayKey(accountID, tradingDay)
	record, ok := r.daily[key]
	if !ok {
		record = &DailyPnLRecord{
			AccountID:  accountID,
			TradingDay: tradingDay,
			Currency:   currency,
		}
		r.daily[key] = record
	}
	record.RealizedPnL += delta
	record.TradeCount += trades
	record.Version++
	record.UpdatedAt = time.Now().UnixMilli()
	return nil
}

func (r *MemoryRepository) ResetDaily(ctx context.Context, accountID, tradingDay, currency string) error {
	if r.FailWrites != nil {
		return r.FailWrites
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	key := dayKey(accountID, tradingDay)
	if _, ok := r.daily[key]; ok {
		return nil // 幂等: 当日行已存在
	}
	r.daily[key] = &DailyPnLRecord{
		AccountID:  accountID,
		TradingDay: tradingDay,
		Currency:   currency,
		UpdatedAt:  time.Now().UnixMilli(),
	}
	return nil
}

// Transaction 内存版无隔离，直接执行
func (r *MemoryRepository) Transaction(ctx context.Context, fn func(tx Repository) error) error {
	if r.FailWrites != nil {
		return r.FailWrites
	}
	return fn(r)
}
