package notify

import (
	"context"
	"encoding/json"
	"strconv"
	"sync"

	"TProject/logger"
	"TProject/service/storage"
	"TProject/tools/dedup"
)

// Store 通知存储：分类分桶、已读/未读、持久化到 KV、跨 tab 广播。
// 持久化的桶表是跨 tab 的唯一事实来源：收到变更广播的 tab 重新 Load，
// 不信任自己内存里的副本。全局未读数每次变更后重算，从不增量漂移。
type Store struct {
	kv     storage.KV
	key    string // 本用户命名空间下的 categoryNotifications
	ledger *dedup.Ledger

	mu       sync.Mutex
	buckets  map[string][]Event
	unread   int
	detached bool
	unwatch  func()

	// OnChange 每次桶表或未读数变化后回调（可选）。
	OnChange func()
}

func NewStore(kv storage.KV, userID string) *Store {
	s := &Store{
		kv:      kv,
		key:     storage.UserKey(userID, storage.KeyNotifications),
		ledger:  dedup.NewLedger(dedup.DefaultCapacity),
		buckets: map[string][]Event{},
	}
	s.load()
	s.unwatch = kv.Watch(s.key, s.reload)
	return s
}

// OnLiveEvent 公告事件唯一入口：账本去重 → 头插进分类桶 → 截断到容量
// → 重算未读 → 持久化 → 广播（KV 写入自带）。
func (s *Store) OnLiveEvent(a Announcement) {
	s.mu.Lock()
	if s.detached {
		s.mu.Unlock()
		return // 已切换身份，迟到的回调直接丢弃
	}
	s.mu.Unlock()
	id := announcementID(a)
	if s.ledger.SeenOnce(id) {
		return // 重复投递不是错误
	}
	cat := a.CategoryKey
	if cat == "" {
		cat = "general"
	}

	s.mu.Lock()
	for _, n := range s.buckets[cat] {
		if n.ID == id {
			s.mu.Unlock()
			return // 桶内已有同ID（可能来自别的 tab 先落了盘）
		}
	}
	bucket := append([]Event{{
		ID:          id,
		CategoryKey: cat,
		Title:       a.Title,
		Body:        a.Body,
		TimestampMS: a.TimestampMS,
		Read:        false,
		ScopeID:     a.ScopeID,
	}}, s.buckets[cat]...)
	if len(bucket) > BucketCap {
		bucket = bucket[:BucketCap]
	}
	s.buckets[cat] = bucket
	s.recomputeLocked()
	s.persistLocked()
	s.mu.Unlock()
	s.notify()
}

// MarkRead 把一个桶整体置为已读并移除（全读桶不保留，未读数永不为负）。
func (s *Store) MarkRead(categoryKey string) {
	s.mu.Lock()
	if _, ok := s.buckets[categoryKey]; !ok {
		s.mu.Unlock()
		return
	}
	delete(s.buckets, categoryKey)
	s.recomputeLocked()
	s.persistLocked()
	s.mu.Unlock()
	s.notify()
}

// Reset 全部置为已读（条目保留，未读清零）。
func (s *Store) Reset() {
	s.mu.Lock()
	changed := false
	for cat, bucket := range s.buckets {
		for i := range bucket {
			if !bucket[i].Read {
				bucket[i].Read = true
				changed = true
			}
		}
		s.buckets[cat] = bucket
	}
	if changed {
		s.recomputeLocked()
		s.persistLocked()
	}
	s.mu.Unlock()
	if changed {
		s.notify()
	}
}

// Clear 登出时全清。
func (s *Store) Clear() {
	s.mu.Lock()
	s.buckets = map[string][]Event{}
	s.unread = 0
	_ = s.kv.Delete(context.Background(), s.key)
	s.mu.Unlock()
	s.ledger.Reset()
	s.notify()
}

func (s *Store) Unread() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.unread
}

func (s *Store) Bucket(categoryKey string) []Event {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Event(nil), s.buckets[categoryKey]...)
}

func (s *Store) Buckets() map[string][]Event {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[string][]Event, len(s.buckets))
	for k, v := range s.buckets {
		out[k] = append([]Event(nil), v...)
	}
	return out
}

// Detach 停止响应存储广播并注销 watcher（会话切换/注销后调用）。
// detached 标志兜住已经在途的回调。
func (s *Store) Detach() {
	s.mu.Lock()
	s.detached = true
	unwatch := s.unwatch
	s.unwatch = nil
	s.mu.Unlock()
	if unwatch != nil {
		unwatch()
	}
}

// reload 收到其它 tab 的变更广播：从存储重读，不合并内存状态。
func (s *Store) reload() {
	s.mu.Lock()
	if s.detached {
		s.mu.Unlock()
		return
	}
	s.loadLocked()
	s.mu.Unlock()
	s.notify()
}

func (s *Store) load() {
	s.mu.Lock()
	s.loadLocked()
	s.mu.Unlock()
}

func (s *Store) loadLocked() {
	raw, err := s.kv.Load(context.Background(), s.key)
	if err != nil {
		logger.Errorf("load notifications %s: %v", s.key, err)
		return
	}
	if raw == nil {
		s.buckets = map[string][]Event{}
		s.unread = 0
		return
	}
	var stored map[string][]Event
	if err := json.Unmarshal(raw, &stored); err != nil {
		// 坏数据重置为空，不致命
		logger.Warnf("notifications storage corrupt, resetting %s: %v", s.key, err)
		s.buckets = map[string][]Event{}
		s.unread = 0
		_ = s.kv.Delete(context.Background(), s.key)
		return
	}
	// 载入时桶内按ID去重（存储层的最后防线）
	for cat, bucket := range stored {
		seen := map[string]bool{}
		out := bucket[:0]
		for _, n := range bucket {
			if seen[n.ID] {
				continue
			}
			seen[n.ID] = true
			out = append(out, n)
		}
		if len(out) == 0 {
			delete(stored, cat)
			continue
		}
		stored[cat] = out
	}
	s.buckets = stored
	s.recomputeLocked()
}

func (s *Store) recomputeLocked() {
	total := 0
	for _, bucket := range s.buckets {
		for _, n := range bucket {
			if !n.Read {
				total++
			}
		}
	}
	s.unread = total
}

func (s *Store) persistLocked() {
	if len(s.buckets) == 0 {
		_ = s.kv.Delete(context.Background(), s.key)
		return
	}
	raw, err := json.Marshal(s.buckets)
	if err != nil {
		logger.Errorf("marshal notifications %s: %v", s.key, err)
		return
	}
	if err := s.kv.Store(context.Background(), s.key, raw); err != nil {
		logger.Errorf("persist notifications %s: %v", s.key, err)
	}
}

func (s *Store) notify() {
	if s.OnChange != nil {
		s.OnChange()
	}
}

// announcementID 生成稳定的通知ID；没有服务端ID时退回时间戳。
func announcementID(a Announcement) string {
	if a.ID != "" {
		return "announcement-" + a.ID
	}
	return "announcement-" + strconv.FormatInt(a.TimestampMS, 10)
}
