package realtime

import (
	"context"
	"strings"
	"sync"
	"time"

	"TProject/logger"
	"TProject/tools/dedup"
	"TProject/tools/errs"

	"github.com/nats-io/nats.go"
)

// Config 客户端配置
type Config struct {
	Servers       []string
	Name          string
	ReconnectWait time.Duration
	Timeout       time.Duration
}

// NatsBus 把 NATS Core 映射成 Bus 语义：
// subject = "<channel>.<event>"（频道名里没有 '.'，见 module/channel）。
// 每次 Subscribe 建独立的 nats.Subscription，随 handler 引用一起保存，
// 退订时按引用找回对应的 subscription。
type NatsBus struct {
	cfg Config
	nc  *nats.Conn

	mu   sync.Mutex
	subs map[string][]natsSub // subject -> active subscriptions
}

type natsSub struct {
	ptr uintptr
	sub *nats.Subscription
}

func NewNatsBus(cfg Config) (*NatsBus, error) {
	if len(cfg.Servers) == 0 {
		return nil, errs.New("nats servers missing")
	}
	if cfg.ReconnectWait == 0 {
		cfg.ReconnectWait = 500 * time.Millisecond
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = 3 * time.Second
	}
	opts := []nats.Option{
		nats.Name(cfg.Name),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(cfg.ReconnectWait),
		nats.ReconnectJitter(100*time.Millisecond, 500*time.Millisecond),
		nats.Timeout(cfg.Timeout),
	}
	nc, err := nats.Connect(strings.Join(cfg.Servers, ","), opts...)
	if err != nil {
		return nil, errs.WrapMsg(err, "connect nats")
	}
	return &NatsBus{
		cfg:  cfg,
		nc:   nc,
		subs: make(map[string][]natsSub),
	}, nil
}

func (b *NatsBus) Subscribe(channel, event string, h Handler) error {
	if h == nil {
		return errs.ErrArgs.WrapMsg("nil handler", "channel", channel)
	}
	subject := subjectOf(channel, event)
	// 重连窗口里 NATS 可能重投；每个订阅挂一个幂等账本，
	// 重复消息在进业务 handler 之前就被吃掉。
	wrapped := Chain(h, IdemMiddleware(dedup.NewLedger(dedup.DefaultCapacity)))
	cb := func(m *nats.Msg) {
		_ = wrapped(context.Background(), Message{
			Channel: channel,
			Event:   event,
			Data:    append([]byte(nil), m.Data...),
			Header:  headerToMap(m.Header),
		})
	}
	sub, err := b.nc.Subscribe(subject, cb)
	if err != nil {
		return errs.WrapMsg(err, "subscribe", "subject", subject)
	}
	_ = sub.SetPendingLimits(1_000_000, 64*1024*1024)

	b.mu.Lock()
	b.subs[subject] = append(b.subs[subject], natsSub{ptr: handlerPtr(h), sub: sub})
	b.mu.Unlock()
	return nil
}

func (b *NatsBus) Unsubscribe(channel, event string, h Handler) error {
	subject := subjectOf(channel, event)
	ptr := handlerPtr(h)

	b.mu.Lock()
	list := b.subs[subject]
	var found *nats.Subscription
	for i, s := range list {
		if s.ptr == ptr {
			found = s.sub
			b.subs[subject] = append(list[:i], list[i+1:]...)
			if len(b.subs[subject]) == 0 {
				delete(b.subs, subject)
			}
			break
		}
	}
	b.mu.Unlock()

	if found == nil {
		// 不致命：后续对同频道的 Subscribe 依旧成功
		logger.Warnf("unsubscribe: handler not found on %s: %v",
			subject, errs.ErrSubscriptionMismatch.WithDetail(subject))
		return nil
	}
	return errs.Wrap(found.Unsubscribe())
}

func (b *NatsBus) Publish(ctx context.Context, channel, event string, data []byte, hdr map[string]string) error {
	msg := &nats.Msg{Subject: subjectOf(channel, event), Data: data}
	if len(hdr) > 0 {
		msg.Header = nats.Header{}
		for k, v := range hdr {
			msg.Header.Set(k, v)
		}
	}
	return errs.Wrap(b.nc.PublishMsg(msg))
}

// Close 优雅关闭：先退订全部，再 Drain 连接。
func (b *NatsBus) Close() error {
	b.mu.Lock()
	for subject, list := range b.subs {
		for _, s := range list {
			_ = s.sub.Drain()
		}
		delete(b.subs, subject)
	}
	b.mu.Unlock()
	if b.nc != nil {
		return b.nc.Drain()
	}
	return nil
}

func headerToMap(h nats.Header) map[string]string {
	if len(h) == 0 {
		return nil
	}
	out := make(map[string]string, len(h))
	for k, v := range h {
		if len(v) > 0 {
			out[k] = v[0]
		}
	}
	return out
}
