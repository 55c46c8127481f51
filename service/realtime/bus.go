package realtime

import (
	"context"
	"reflect"
)

// Bus 发布/订阅通道服务的统一门面。
// 投递语义是 at-least-once，跨频道无顺序保证，可能重复投递——
// 去重由消费方的 dedup.Ledger 负责，Bus 不做这件事。
//
// Unsubscribe 按 handler 引用匹配：必须传入当初 Subscribe 时的那个函数值。
// 结构相同但引用不同的 handler 退订不到任何东西（记 SubscriptionMismatch 日志，
// 不算致命——后续对同频道的 Subscribe 依旧成功）。
type Bus interface {
	Subscribe(channel, event string, h Handler) error
	Unsubscribe(channel, event string, h Handler) error
	Publish(ctx context.Context, channel, event string, data []byte, hdr map[string]string) error
	Close() error
}

// HeaderMsgID 携带稳定消息ID的头；消费端据此去重。
const HeaderMsgID = "X-Msg-Id"

func handlerPtr(h Handler) uintptr {
	return reflect.ValueOf(h).Pointer()
}

func subjectOf(channel, event string) string {
	return channel + "." + event
}
