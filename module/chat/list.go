package chat

import (
	"sort"
	"sync"
)

// messageList 会话内的有序消息序列，按 CreatedAtMS 非降序。
// 自己带锁：Store 与 Outbox 都直接操作它。
type messageList struct {
	mu    sync.Mutex
	items []Message
}

func (l *messageList) Snapshot() []Message {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]Message(nil), l.items...)
}

func (l *messageList) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.items)
}

// Append 直接追加到尾部（乐观写入：本地发送按发起顺序排在最后）。
func (l *messageList) Append(m Message) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.items = append(l.items, m)
}

// InsertByTime 按时间戳插入合适位置；乱序到达的实时消息不能盲目追加。
func (l *messageList) InsertByTime(m Message) {
	l.mu.Lock()
	defer l.mu.Unlock()
	i := len(l.items)
	for i > 0 && l.items[i-1].CreatedAtMS > m.CreatedAtMS {
		i--
	}
	l.items = append(l.items, Message{})
	copy(l.items[i+1:], l.items[i:])
	l.items[i] = m
}

// ReplaceID 原位替换：位置不变，内容换成 repl。
func (l *messageList) ReplaceID(id string, repl Message) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	for i := range l.items {
		if l.items[i].ID == id {
			l.items[i] = repl
			return true
		}
	}
	return false
}

func (l *messageList) RemoveID(id string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	for i := range l.items {
		if l.items[i].ID == id {
			l.items = append(l.items[:i], l.items[i+1:]...)
			return true
		}
	}
	return false
}

func (l *messageList) ContainsID(id string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	for i := range l.items {
		if l.items[i].ID == id {
			return true
		}
	}
	return false
}

// PrependPage 把一页更老的消息放到序列头部；page 必须已按时间升序。
func (l *messageList) PrependPage(page []Message) {
	if len(page) == 0 {
		return
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	merged := make([]Message, 0, len(page)+len(l.items))
	merged = append(merged, page...)
	merged = append(merged, l.items...)
	l.items = merged
}

func (l *messageList) Reset(items []Message) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.items = items
}

func sortAscending(msgs []Message) {
	sort.SliceStable(msgs, func(i, j int) bool {
		return msgs[i].CreatedAtMS < msgs[j].CreatedAtMS
	})
}
