package poller

import (
	"context"
	"sync"

	"github.com/RyanStanLin/IntSchool.Sharp/internal/domain/attendance"
)

// SnapshotCache хранит последний увиденный отчёт по ключу профиля.
// Реализации синхронизируются сами и не зависят от структурного лока поллера.
type SnapshotCache interface {
	// Get возвращает (отчёт, true) если ключ уже наблюдался.
	Get(ctx context.Context, key string) (attendance.Report, bool, error)
	// Put безусловно заменяет отчёт по ключу.
	Put(ctx context.Context, key string, report attendance.Report) error
}

// MemoryCache — SnapshotCache в памяти процесса.
type MemoryCache struct {
	mu      sync.RWMutex
	reports map[string]attendance.Report
}

// NewMemoryCache создаёт пустой кеш.
func NewMemoryCache() *MemoryCache {
	return &MemoryCache{reports: make(map[string]attendance.Report)}
}

// Get implements SnapshotCache.
func (c *MemoryCache) Get(_ context.Context, key string) (attendance.Report, bool, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	r, ok := c.reports[key]
	return r, ok, nil
}

// Put implements SnapshotCache.
func (c *MemoryCache) Put(_ context.Context, key string, report attendance.Report) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.reports[key] = report
	return nil
}

// Len возвращает число закешированных ключей.
func (c *MemoryCache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.reports)
}
