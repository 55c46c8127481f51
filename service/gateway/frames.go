package gateway

import (
	"encoding/json"

	"TProject/tools/errs"
)

// 客户端帧类型
const (
	FrameAuth      = "auth"      // {type, token}
	FramePing      = "ping"      // {type}
	FrameOpen      = "open"      // {type, peer | group}
	FrameClose     = "close"     // {type, key}
	FrameSend      = "send"      // {type, peer | group, body}
	FrameLoadOlder = "loadOlder" // {type, key}
	FrameMarkRead  = "markRead"  // {type, category}
	FrameResetRead = "resetRead" // {type}
)

// 服务端帧类型
const (
	FramePong          = "pong"
	FrameReady         = "ready"         // 认证完成，附用户ID与活跃频道
	FrameMessages      = "messages"      // 某会话的完整消息快照
	FrameReceipt       = "receipt"       // 发送确认
	FrameNotifications = "notifications" // 通知桶与未读数快照
	FrameError         = "error"
)

// Frame 客户端上行帧。字段按类型取用，未用的留空。
type Frame struct {
	Type     string `json:"type"`
	Token    string `json:"token,omitempty"`
	Peer     string `json:"peer,omitempty"`
	Group    string `json:"group,omitempty"`
	Key      string `json:"key,omitempty"`
	Body     string `json:"body,omitempty"`
	Category string `json:"category,omitempty"`
}

func ParseFrame(data []byte) (*Frame, error) {
	var f Frame
	if err := json.Unmarshal(data, &f); err != nil {
		return nil, errs.WrapMsg(err, "parse frame")
	}
	if f.Type == "" {
		return nil, errs.ErrArgs.WrapMsg("frame type required")
	}
	return &f, nil
}
