package realtime

import (
	"context"
	"sync"

	"TProject/logger"
	"TProject/tools/errs"
)

// MemoryBus 进程内实现：单节点部署与测试用。
// Publish 同步派发到所有已注册 handler，派发顺序即注册顺序。
type MemoryBus struct {
	mu     sync.RWMutex
	subs   map[string][]memSub // subject -> handlers
	closed bool
}

type memSub struct {
	ptr uintptr
	h   Handler
}

func NewMemoryBus() *MemoryBus {
	return &MemoryBus{subs: make(map[string][]memSub)}
}

func (b *MemoryBus) Subscribe(channel, event string, h Handler) error {
	if h == nil {
		return errs.ErrArgs.WrapMsg("nil handler", "channel", channel)
	}
	subject := subjectOf(channel, event)
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return errs.New("bus closed")
	}
	b.subs[subject] = append(b.subs[subject], memSub{ptr: handlerPtr(h), h: h})
	return nil
}

func (b *MemoryBus) Unsubscribe(channel, event string, h Handler) error {
	subject := subjectOf(channel, event)
	ptr := handlerPtr(h)
	b.mu.Lock()
	defer b.mu.Unlock()
	list := b.subs[subject]
	for i, s := range list {
		if s.ptr == ptr {
			b.subs[subject] = append(list[:i], list[i+1:]...)
			if len(b.subs[subject]) == 0 {
				delete(b.subs, subject)
			}
			return nil
		}
	}
	logger.Warnf("unsubscribe: handler not found on %s: %v",
		subject, errs.ErrSubscriptionMismatch.WithDetail(subject))
	return nil
}

func (b *MemoryBus) Publish(ctx context.Context, channel, event string, data []byte, hdr map[string]string) error {
	subject := subjectOf(channel, event)
	b.mu.RLock()
	list := append([]memSub(nil), b.subs[subject]...)
	b.mu.RUnlock()

	msg := Message{Channel: channel, Event: event, Data: data, Header: hdr}
	for _, s := range list {
		if err := s.h(ctx, msg); err != nil {
			logger.Errorf("memory bus handler failed on %s: %v", subject, err)
		}
	}
	return nil
}

func (b *MemoryBus) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.closed = true
	b.subs = make(map[string][]memSub)
	return nil
}
