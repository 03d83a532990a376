// Package cache 提供上游响应与车辆档案的键值缓存
package cache

import (
	"context"
	"sync"
	"time"
)

// Store 抽象键值缓存
type Store interface {
	Get(ctx context.Context, key string) ([]byte, bool, error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	Delete(ctx context.Context, keys ...string) error
}

// 内存缓存条目上限，超过后整体重置
const maxMemoryEntries = 10000

type entry struct {
	value     []byte
	expiresAt time.Time
}

// Memory 进程内缓存
type Memory struct {
	mu      sync.RWMutex
	entries map[string]entry
	now     func() time.Time
}

// NewMemory 创建内存缓存
func NewMemory() *Memory {
	return &Memory{
		entries: make(map[string]entry),
		now:     time.Now,
	}
}

// WithClock 替换时钟（测试用）
func (m *Memory) WithClock(now func() time.Time) *Memory {
	m.now = now
	return m
}

// Get 读取缓存，过期条目视为未命中
func (m *Memory) Get(_ context.Context, key string) ([]byte, bool, error) {
	m.mu.RLock()
	e, ok := m.entries[key]
	m.mu.RUnlock()
	if !ok {
		return nil, false, nil
	}
	if !e.expiresAt.IsZero() && !m.now().Before(e.expiresAt) {
		m.mu.Lock()
		if cur, ok := m.entries[key]; ok && cur.expiresAt.Equal(e.expiresAt) {
			delete(m.entries, key)
		}
		m.mu.Unlock()
		return nil, false, nil
	}
	return e.value, true, nil
}

// Set 写入缓存，ttl<=0 表示不过期
func (m *Memory) Set(_ context.Context, key string, value []byte, ttl time.Duration) error {
	var expiresAt time.Time
	if ttl > 0 {
		expiresAt = m.now().Add(ttl)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.entries) >= maxMemoryEntries {
		m.entries = make(map[string]entry)
	}
	m.entries[key] = entry{value: value, expiresAt: expiresAt}
	return nil
}

// Delete 删除缓存
func (m *Memory) Delete(_ context.Context, keys ...string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, k := range keys {
		delete(m.entries, k)
	}
	return nil
}

// Len 当前条目数
func (m *Memory) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.entries)
}
