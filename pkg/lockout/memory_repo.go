// 文件: pkg/lockout/memory_repo.go
// 锁定记录内存实现，单测用

package lockout

import (
	"context"
	"sort"
	"sync"
)

var _ Repository = (*MemoryRepository)(nil)

// MemoryRepository 内存实现
type MemoryRepository struct {
	mu      sync.RWMutex
	records []*Record
}

func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{}
}

func (r *MemoryRepository) Create(ctx context.Context, record *Record) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	cp := *record
	r.records = append(r.records, &cp)
	return nil
}

func (r *MemoryRepository) GetActive(ctx context.Context, accountID string, kind Kind) (*Record, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var latest *Record
	for _, record := range r.records {
		if record.AccountID == accountID && record.Kind == kind && record.IsActive() {
			if latest == nil || record.EngagedAt > latest.EngagedAt {
				latest = record
			}
		}
	}
	if latest == nil {
		return nil, nil
	}
	cp := *latest
	return &cp, nil
}

func (r *MemoryRepository) ListActive(ctx context.Context) ([]*Record, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var out []*Record
	for _, record := range r.records {
		if record.IsActive() {
			cp := *record
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (r *MemoryRepository) ListByAccount(ctx context.Context, accountID string, limit int) ([]*Record, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var out []*Record
	for _, record := range r.records {
		if record.AccountID == accountID {
			cp := *record
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].EngagedAt > out[j].EngagedAt })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (r *MemoryRepository) Clear(ctx context.Context, id int64, clearedAt int64) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, record := range r.records {
		if record.ID == id {
			if record.ClearedAt != nil {
				return false, nil // 幂等
			}
			record.ClearedAt = &clearedAt
			return true, nil
		}
	}
	return false, nil
}

func (r *MemoryRepository) UpdateExpiry(ctx context.Context, id int64, expiresAt *int64) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, record := range r.records {
		if record.ID == id && record.IsActive() {
			record.ExpiresAt = expiresAt
		}
	}
	return nil
}
