package catalog

import (
	"context"
	"sync"
	"time"

	"github.com/bytedance/sonic"

	xerrors "AgentStudio/internal/errors"
)

// Cache 缓存参考数据。值以 JSON 形式保存，Get 将其解码到 dest。
type Cache interface {
	Get(ctx context.Context, key string, dest any) (bool, error)
	Set(ctx context.Context, key string, value any, ttl time.Duration) error
	Delete(ctx context.Context, key string) error
	Close() error
}

type memoryEntry struct {
	payload   []byte
	expiresAt time.Time
}

// MemoryCache 是进程内缓存，过期条目在读取时淘汰。
type MemoryCache struct {
	mu      sync.Mutex
	entries map[string]memoryEntry
	now     func() time.Time
}

// NewMemoryCache 创建 MemoryCache。
func NewMemoryCache() *MemoryCache {
	return &MemoryCache{entries: make(map[string]memoryEntry), now: time.Now}
}

// Get 实现 Cache 接口。
func (m *MemoryCache) Get(_ context.Context, key string, dest any) (bool, error) {
	m.mu.Lock()
	entry, ok := m.entries[key]
	if ok && !entry.expiresAt.IsZero() && !m.now().Before(entry.expiresAt) {
		delete(m.entries, key)
		ok = false
	}
	m.mu.Unlock()
	if !ok {
		return false, nil
	}
	if err := sonic.Unmarshal(entry.payload, dest); err != nil {
		return false, xerrors.Wrap(xerrors.CodeDecode, err, "解析缓存数据失败")
	}
	return true, nil
}

// Set 实现 Cache 接口。ttl <= 0 表示永不过期。
func (m *MemoryCache) Set(_ context.Context, key string, value any, ttl time.Duration) error {
	payload, err := sonic.Marshal(value)
	if err != nil {
		return xerrors.Wrap(xerrors.CodeStorageFailure, err, "编码缓存数据失败")
	}
	entry := memoryEntry{payload: payload}
	if ttl > 0 {
		entry.expiresAt = m.now().Add(ttl)
	}
	m.mu.Lock()
	m.entries[key] = entry
	m.mu.Unlock()
	return nil
}

// Delete 实现 Cache 接口。
func (m *MemoryCache) Delete(_ context.Context, key string) error {
	m.mu.Lock()
	delete(m.entries, key)
	m.mu.Unlock()
	return nil
}

// Close 对内存实现无需操作。
func (m *MemoryCache) Close() error {
	return nil
}

var _ Cache = (*MemoryCache)(nil)
