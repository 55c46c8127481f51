package chat

import "context"

// DeliveryState 消息投递状态
type DeliveryState int8

const (
	DeliveryPending   DeliveryState = iota // 本地乐观写入，等服务端确认
	DeliveryConfirmed                      // 服务端已确认
	DeliveryFailed                         // 发送失败（可由调用方重发）
)

func (s DeliveryState) String() string {
	switch s {
	case DeliveryPending:
		return "pending"
	case DeliveryConfirmed:
		return "confirmed"
	case DeliveryFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// Message 会话内的一条消息。
// pending 阶段 ID 是客户端占位符（ids.GenerateLocal），确认后原位替换成
// 服务端ID——记录的身份属性变了，但在有序序列里的位置不变。
type Message struct {
	ID              string        `json:"id"`
	ConversationKey string        `json:"conversationKey"`
	SenderID        string        `json:"senderId"`
	Body            string        `json:"body"`
	CreatedAtMS     int64         `json:"createdAt"`
	Delivery        DeliveryState `json:"deliveryState"`
}

// LiveMessage 实时通道上的线格式（沿用门户端发布的字段名）。
type LiveMessage struct {
	ID          string `json:"chatId"`
	From        string `json:"from"`
	To          string `json:"to"`
	Body        string `json:"message"`
	TimestampMS int64  `json:"timestamp"`
}

// SendReceipt 发送后端返回的确认
type SendReceipt struct {
	ID          string `json:"id"`
	CreatedAtMS int64  `json:"createdAt"`
}

// History 历史后端：按创建时间倒序分页。返回不足 pageSize 条
// 即表示翻到头了。
type History interface {
	LoadPage(ctx context.Context, conversationKey string, page, pageSize int) ([]Message, error)
}

// Sender 发送后端。失败以可重试错误上抛，不自动重试。
type Sender interface {
	Send(ctx context.Context, conversationKey, senderID, body string) (SendReceipt, error)
}
