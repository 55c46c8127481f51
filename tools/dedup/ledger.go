package dedup

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sync"
)

const DefaultCapacity = 100

// Ledger 有界的"最近见过"ID集合。
// 实时通道是 at-least-once 投递，聊天与通知在入库前都先查这里；
// 重复投递不是错误，直接丢弃即可。
type Ledger struct {
	mu    sync.Mutex
	cap   int
	order []string
	seen  map[string]struct{}
}

func NewLedger(capacity int) *Ledger {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	return &Ledger{
		cap:  capacity,
		seen: make(map[string]struct{}, capacity),
	}
}

// Seen 只查询，不写入。
func (l *Ledger) Seen(id string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	_, ok := l.seen[id]
	return ok
}

// Record 写入一个ID，超出容量时淘汰最老的一个。
func (l *Ledger) Record(id string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.record(id)
}

// SeenOnce 查询并写入：第一次见到返回 false，之后返回 true。
func (l *Ledger) SeenOnce(id string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	if _, ok := l.seen[id]; ok {
		return true
	}
	l.record(id)
	return false
}

func (l *Ledger) record(id string) {
	if _, ok := l.seen[id]; ok {
		return
	}
	l.seen[id] = struct{}{}
	l.order = append(l.order, id)
	for len(l.order) > l.cap {
		oldest := l.order[0]
		l.order = l.order[1:]
		delete(l.seen, oldest)
	}
}

func (l *Ledger) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.order)
}

func (l *Ledger) Reset() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.order = nil
	l.seen = make(map[string]struct{}, l.cap)
}

// CompositeKey derives a stable id for transports that do not carry one:
// sender + timestamp + payload hash.
func CompositeKey(senderID string, tsMS int64, payload []byte) string {
	sum := sha256.Sum256(payload)
	return fmt.Sprintf("%s|%d|%s", senderID, tsMS, hex.EncodeToString(sum[:8]))
}
