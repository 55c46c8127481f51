package chat

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"TProject/logger"
	"TProject/module/channel"
	"TProject/service/realtime"
	"TProject/tools/errs"
	"TProject/tools/ids"
)

// Outbox 乐观写入跟踪器。BeginSend 同步塞入一条 pending 占位，
// Confirm 原位换成服务端记录并把确认后的消息发到实时频道
// （发送方自己不消费回声，接收端按 senderId 过滤），
// Fail 移除占位、上抛可重试错误。并发多条发送互不阻塞，各拿各的 token。
type Outbox struct {
	list   *messageList
	bus    realtime.Bus
	key    string
	selfID string
	peerID string

	mu      sync.Mutex
	pending map[string]struct{} // localID 集合
}

func NewOutbox(list *messageList, bus realtime.Bus, conversationKey, selfID, peerID string) *Outbox {
	return &Outbox{
		list:    list,
		bus:     bus,
		key:     conversationKey,
		selfID:  selfID,
		peerID:  peerID,
		pending: make(map[string]struct{}),
	}
}

// BeginSend 创建 pending 记录并追加进会话，返回本地唯一 token。
func (o *Outbox) BeginSend(body string) string {
	localID := ids.GenerateLocal()
	o.mu.Lock()
	o.pending[localID] = struct{}{}
	o.mu.Unlock()

	o.list.Append(Message{
		ID:              localID,
		ConversationKey: o.key,
		SenderID:        o.selfID,
		Body:            body,
		CreatedAtMS:     time.Now().UnixMilli(),
		Delivery:        DeliveryPending,
	})
	return localID
}

// Confirm 用服务端记录原位替换 pending 占位（数组位置不变），
// 然后把确认后的消息发布到实时频道，让对端的订阅者收到。
func (o *Outbox) Confirm(ctx context.Context, localID string, rcpt SendReceipt) error {
	body, ok := o.take(localID)
	if !ok {
		return errs.ErrRecordNotFound.WrapMsg("no pending record", "localId", localID)
	}

	confirmed := Message{
		ID:              rcpt.ID,
		ConversationKey: o.key,
		SenderID:        o.selfID,
		Body:            body,
		CreatedAtMS:     rcpt.CreatedAtMS,
		Delivery:        DeliveryConfirmed,
	}
	if !o.list.ReplaceID(localID, confirmed) {
		return errs.ErrRecordNotFound.WrapMsg("pending record vanished", "localId", localID)
	}

	payload, _ := json.Marshal(LiveMessage{
		ID:          rcpt.ID,
		From:        o.selfID,
		To:          o.peerID,
		Body:        body,
		TimestampMS: rcpt.CreatedAtMS,
	})
	hdr := map[string]string{realtime.HeaderMsgID: rcpt.ID}
	if err := o.bus.Publish(ctx, o.key, channel.EventChatMessage, payload, hdr); err != nil {
		// 本地状态已确认；发布失败只影响对端的实时性，历史拉取能补回来
		logger.Errorf("publish confirmed message failed key=%s id=%s: %v", o.key, rcpt.ID, err)
	}
	return nil
}

// Fail 移除 pending 占位。重发由调用方用同样内容再走一次 BeginSend。
func (o *Outbox) Fail(localID string) error {
	if _, ok := o.take(localID); !ok {
		return errs.ErrRecordNotFound.WrapMsg("no pending record", "localId", localID)
	}
	o.list.RemoveID(localID)
	return nil
}

// PendingCount 供观测用
func (o *Outbox) PendingCount() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return len(o.pending)
}

// take 取出 pending 记录的正文并从集合移除
func (o *Outbox) take(localID string) (string, bool) {
	o.mu.Lock()
	_, ok := o.pending[localID]
	if ok {
		delete(o.pending, localID)
	}
	o.mu.Unlock()
	if !ok {
		return "", false
	}
	for _, m := range o.list.Snapshot() {
		if m.ID == localID {
			return m.Body, true
		}
	}
	return "", false
}
