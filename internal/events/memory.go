package events

import (
	"context"
	"sync"
)

// MemorySink 在内存中保存事件，主要用于测试和 CLI 的运行摘要。
type MemorySink struct {
	mu     sync.Mutex
	events []Event
}

// NewMemorySink 创建 MemorySink。
func NewMemorySink() *MemorySink {
	return &MemorySink{}
}

// Publish 实现 Sink 接口。
func (m *MemorySink) Publish(_ context.Context, event Event) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.events = append(m.events, event)
	return nil
}

// Events 返回已记录事件的副本。
func (m *MemorySink) Events() []Event {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]Event(nil), m.events...)
}

// ForTask 返回指定任务的事件，按发生顺序排列。
func (m *MemorySink) ForTask(taskID string) []Event {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []Event
	for _, ev := range m.events {
		if ev.TaskID == taskID {
			out = append(out, ev)
		}
	}
	return out
}

// Close 对内存实现无需操作。
func (m *MemorySink) Close() error {
	return nil
}

var _ Sink = (*MemorySink)(nil)
