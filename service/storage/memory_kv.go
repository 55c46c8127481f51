package storage

import (
	"context"
	"sync"
)

// MemoryStore 进程内实现：一个 Store 对应一份"浏览器本地存储"，
// Tab() 生成的每个视图对应一个打开的标签页。测试与单节点部署用。
type MemoryStore struct {
	mu   sync.Mutex
	data map[string][]byte
	tabs []*MemoryKV
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{data: make(map[string][]byte)}
}

// Tab opens a new view over the shared data.
func (s *MemoryStore) Tab() KV {
	s.mu.Lock()
	defer s.mu.Unlock()
	kv := &MemoryKV{store: s, watchers: make(map[string]map[uint64]func())}
	s.tabs = append(s.tabs, kv)
	return kv
}

func (s *MemoryStore) dropTab(kv *MemoryKV) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i, t := range s.tabs {
		if t == kv {
			s.tabs = append(s.tabs[:i], s.tabs[i+1:]...)
			return
		}
	}
}

func (s *MemoryStore) tabCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.tabs)
}

type MemoryKV struct {
	store    *MemoryStore
	mu       sync.Mutex
	watchers map[string]map[uint64]func()
	watchSeq uint64
	closed   bool
}

func (kv *MemoryKV) Load(ctx context.Context, key string) ([]byte, error) {
	kv.store.mu.Lock()
	defer kv.store.mu.Unlock()
	v, ok := kv.store.data[key]
	if !ok {
		return nil, nil
	}
	return append([]byte(nil), v...), nil
}

func (kv *MemoryKV) Store(ctx context.Context, key string, val []byte) error {
	kv.store.mu.Lock()
	kv.store.data[key] = append([]byte(nil), val...)
	others := kv.otherTabsLocked()
	kv.store.mu.Unlock()

	notify(others, key)
	return nil
}

func (kv *MemoryKV) Delete(ctx context.Context, key string) error {
	kv.store.mu.Lock()
	delete(kv.store.data, key)
	others := kv.otherTabsLocked()
	kv.store.mu.Unlock()

	notify(others, key)
	return nil
}

func (kv *MemoryKV) Watch(key string, fn func()) (cancel func()) {
	kv.mu.Lock()
	defer kv.mu.Unlock()
	kv.watchSeq++
	id := kv.watchSeq
	if kv.watchers[key] == nil {
		kv.watchers[key] = make(map[uint64]func())
	}
	kv.watchers[key][id] = fn
	return func() {
		kv.mu.Lock()
		defer kv.mu.Unlock()
		delete(kv.watchers[key], id)
		if len(kv.watchers[key]) == 0 {
			delete(kv.watchers, key)
		}
	}
}

// Close 清空 watcher 并把本视图从广播名单里摘掉。
func (kv *MemoryKV) Close() error {
	kv.mu.Lock()
	kv.closed = true
	kv.watchers = make(map[string]map[uint64]func())
	kv.mu.Unlock()
	kv.store.dropTab(kv)
	return nil
}

// otherTabsLocked 返回除自己以外的所有 tab；写入方自己的 watcher 不触发。
func (kv *MemoryKV) otherTabsLocked() []*MemoryKV {
	out := make([]*MemoryKV, 0, len(kv.store.tabs))
	for _, t := range kv.store.tabs {
		if t != kv {
			out = append(out, t)
		}
	}
	return out
}

func notify(tabs []*MemoryKV, key string) {
	for _, t := range tabs {
		t.mu.Lock()
		fns := make([]func(), 0, len(t.watchers[key]))
		for _, fn := range t.watchers[key] {
			fns = append(fns, fn)
		}
		closed := t.closed
		t.mu.Unlock()
		if closed {
			continue
		}
		for _, fn := range fns {
			fn()
		}
	}
}
