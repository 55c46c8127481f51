package realtime

import (
	"context"

	"TProject/tools/dedup"
)

// IdemMiddleware 消费端幂等：按 X-Msg-Id 头去重，无ID的消息用
// 频道+内容构造弱ID。已见过的消息直接跳过，不作为错误。
func IdemMiddleware(ledger *dedup.Ledger) Middleware {
	return func(next Handler) Handler {
		return func(ctx context.Context, msg Message) error {
			id := msg.Header[HeaderMsgID]
			if id == "" {
				id = dedup.CompositeKey(msg.Channel, 0, msg.Data)
			}
			if ledger.SeenOnce(id) {
				return nil
			}
			return next(ctx, msg)
		}
	}
}
