package chat

import (
	"context"
	"sync"

	"TProject/logger"
	"TProject/module/channel"
	"TProject/service/realtime"
	"TProject/tools/decode"
	"TProject/tools/dedup"
	"TProject/tools/errs"
)

// Store 单个会话的消息视图：分页游标 + 乐观发送 + 去重账本的组合。
// 所有实时事件都从 OnLiveEvent 这一个入口进来，handler 不各自乱改状态。
type Store struct {
	Key    string // 频道名即会话键（module/channel 计算）
	selfID string

	bus    realtime.Bus
	ledger *dedup.Ledger
	cursor *Cursor
	outbox *Outbox
	sender Sender
	list   *messageList

	mu      sync.Mutex
	opened  bool
	handler realtime.Handler // 退订必须用这个引用

	// OnChange 每次消息序列变化后回调（可选；gateway 用它推送增量）。
	OnChange func()
}

type StoreOptions struct {
	ConversationKey string // canonical channel name
	SelfID          string
	PeerID          string // 1:1 会话的对端；群聊留空
	PageSize        int
	History         History
	Sender          Sender
	Bus             realtime.Bus
}

func NewStore(opt StoreOptions) *Store {
	list := &messageList{}
	if opt.PageSize <= 0 {
		opt.PageSize = DefaultPageSize
	}
	return &Store{
		Key:    opt.ConversationKey,
		selfID: opt.SelfID,
		bus:    opt.Bus,
		ledger: dedup.NewLedger(dedup.DefaultCapacity),
		cursor: NewCursor(opt.History, opt.ConversationKey, opt.PageSize),
		outbox: NewOutbox(list, opt.Bus, opt.ConversationKey, opt.SelfID, opt.PeerID),
		sender: opt.Sender,
		list:   list,
	}
}

// Open 拉第一页历史（升序、全部 confirmed），然后挂上实时 handler。
func (s *Store) Open(ctx context.Context) error {
	msgs, loaded, err := s.cursor.loadPage(ctx, 1)
	if err != nil {
		return err
	}
	// 游标有请求在途（比如 LoadOlder 赛跑）时跳过重置，保住已有序列
	if loaded {
		for i := range msgs {
			msgs[i].Delivery = DeliveryConfirmed
		}
		s.list.Reset(msgs)
	}

	s.mu.Lock()
	if s.opened {
		s.mu.Unlock()
		return nil
	}
	h := func(ctx context.Context, msg realtime.Message) error {
		var ev LiveMessage
		if err := decode.JSON(msg.Data, &ev); err != nil {
			logger.Warnf("chat live payload unparsable on %s: %v", s.Key, err)
			return nil
		}
		s.OnLiveEvent(ev)
		return nil
	}
	s.handler = h
	s.opened = true
	s.mu.Unlock()

	if err := s.bus.Subscribe(s.Key, channel.EventChatMessage, h); err != nil {
		return errs.WrapMsg(err, "subscribe conversation", "key", s.Key)
	}
	s.notify()
	return nil
}

// Close 摘掉实时 handler。在途的历史请求不取消，
// 迟到的响应因为 opened=false 被丢弃。
func (s *Store) Close() {
	s.mu.Lock()
	h := s.handler
	wasOpen := s.opened
	s.opened = false
	s.handler = nil
	s.mu.Unlock()

	if wasOpen && h != nil {
		_ = s.bus.Unsubscribe(s.Key, channel.EventChatMessage, h)
	}
}

// Send 乐观发送：BeginSend → 后端确认 → Confirm；失败则 Fail 并上抛可重试错误。
func (s *Store) Send(ctx context.Context, body string) (string, error) {
	localID := s.outbox.BeginSend(body)
	s.notify()

	rcpt, err := s.sender.Send(ctx, s.Key, s.selfID, body)
	if err != nil {
		_ = s.outbox.Fail(localID)
		s.notify()
		return "", errs.ErrNetwork.WrapMsg("send message", "key", s.Key, "err", err)
	}
	if err := s.outbox.Confirm(ctx, localID, rcpt); err != nil {
		return "", err
	}
	s.notify()
	return rcpt.ID, nil
}

// BeginSend / Confirm / Fail 暴露给需要手动驱动乐观状态机的调用方（如 gateway 重发）。
func (s *Store) BeginSend(body string) string {
	id := s.outbox.BeginSend(body)
	s.notify()
	return id
}

func (s *Store) Confirm(ctx context.Context, localID string, rcpt SendReceipt) error {
	err := s.outbox.Confirm(ctx, localID, rcpt)
	s.notify()
	return err
}

func (s *Store) Fail(localID string) error {
	err := s.outbox.Fail(localID)
	s.notify()
	return err
}

// OnLiveEvent 实时消息唯一入口：
// 账本去重 → 自己的回声丢弃 → 按时间戳插入（乱序投递不盲目追加）。
func (s *Store) OnLiveEvent(ev LiveMessage) {
	s.mu.Lock()
	opened := s.opened
	s.mu.Unlock()
	if !opened {
		return // 会话已关闭，迟到事件丢弃
	}

	id := ev.ID
	if id == "" {
		id = dedup.CompositeKey(ev.From, ev.TimestampMS, []byte(ev.Body))
	}
	if s.ledger.Seen(id) {
		return // 重复投递不是错误
	}
	if ev.From == s.selfID {
		return // 自己的发布走乐观路径，不重复消费
	}
	s.ledger.Record(id)

	s.list.InsertByTime(Message{
		ID:              id,
		ConversationKey: s.Key,
		SenderID:        ev.From,
		Body:            ev.Body,
		CreatedAtMS:     ev.TimestampMS,
		Delivery:        DeliveryConfirmed,
	})
	s.notify()
}

// LoadOlder 翻更老的一页并放到头部；已加载过的ID跨页去重。
func (s *Store) LoadOlder(ctx context.Context) (int, error) {
	msgs, err := s.cursor.LoadMore(ctx)
	if err != nil {
		return 0, err
	}
	s.mu.Lock()
	opened := s.opened
	s.mu.Unlock()
	if !opened {
		return 0, nil // 迟到的响应，会话已关闭
	}

	fresh := msgs[:0]
	for _, m := range msgs {
		if s.list.ContainsID(m.ID) {
			continue
		}
		m.Delivery = DeliveryConfirmed
		fresh = append(fresh, m)
	}
	s.list.PrependPage(fresh)
	if len(fresh) > 0 {
		s.notify()
	}
	return len(fresh), nil
}

func (s *Store) Messages() []Message {
	return s.list.Snapshot()
}

func (s *Store) Exhausted() bool { return s.cursor.Exhausted() }

func (s *Store) notify() {
	if s.OnChange != nil {
		s.OnChange()
	}
}
