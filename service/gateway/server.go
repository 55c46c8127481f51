package gateway

import (
	"context"
	"net/http"
	"time"

	"TProject/logger"
	"TProject/module/chat"
	"TProject/module/session"
	"TProject/module/user"
	sec "TProject/tools/security"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

const authDeadline = 15 * time.Second

// Server 把实时会话挂到 websocket 上：一条连接一个身份一个 Session。
// 首帧必须是 auth，之后连接上的帧驱动会话操作，会话的变更回调
// 以快照帧推回去。
type Server struct {
	secret   []byte
	backends session.Backends
}

func NewServer(secret []byte, backends session.Backends) *Server {
	return &Server{secret: secret, backends: backends}
}

// Register 挂 ws 路由。
func (s *Server) Register(r gin.IRouter) {
	r.GET("/ws", s.HandleWS)
}

func (s *Server) HandleWS(c *gin.Context) {
	ws, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		logger.Infof("gateway upgrade: %v", err)
		return
	}
	defer func() {
		if cerr := ws.Close(); cerr != nil {
			logger.Infof("gateway close: %v", cerr)
		}
	}()

	cl := newClient(ws)
	defer cl.shutdown()

	if !s.authenticate(c.Request.Context(), cl) {
		return
	}

	// 读循环：只读不写，出错即退出
	for {
		mt, data, rerr := ws.ReadMessage()
		if rerr != nil {
			if websocket.IsCloseError(rerr,
				websocket.CloseNormalClosure,
				websocket.CloseGoingAway,
				websocket.CloseNoStatusReceived,
			) {
				logger.Infof("gateway peer closed user=%s", cl.sess.User().ID)
			} else {
				logger.Infof("gateway read user=%s: %v", cl.sess.User().ID, rerr)
			}
			return
		}
		if mt != websocket.TextMessage && mt != websocket.BinaryMessage {
			continue
		}
		frame, perr := ParseFrame(data)
		if perr != nil {
			cl.push(gin.H{"type": FrameError, "msg": perr.Error()})
			continue
		}
		s.dispatch(c.Request.Context(), cl, frame)
	}
}

// authenticate 等首帧 auth，校验 JWT 后启动会话。
func (s *Server) authenticate(ctx context.Context, cl *client) bool {
	_ = cl.ws.SetReadDeadline(time.Now().Add(authDeadline))
	defer cl.ws.SetReadDeadline(time.Time{})

	_, data, err := cl.ws.ReadMessage()
	if err != nil {
		logger.Infof("gateway auth read: %v", err)
		return false
	}
	frame, err := ParseFrame(data)
	if err != nil || frame.Type != FrameAuth {
		cl.push(gin.H{"type": FrameError, "msg": "first frame must be auth"})
		return false
	}
	claims, err := sec.Verify(sec.DefaultOptions(s.secret), frame.Token, "")
	if err != nil {
		cl.push(gin.H{"type": FrameError, "msg": "invalid token"})
		return false
	}
	uid := claims.UserID()
	if uid == "" {
		cl.push(gin.H{"type": FrameError, "msg": "token has no subject"})
		return false
	}

	sess := session.NewSession(&user.CachedUser{ID: uid}, s.backends)
	cl.sess = sess
	sess.Notifications.OnChange = func() {
		cl.push(gin.H{
			"type":    FrameNotifications,
			"unread":  sess.Notifications.Unread(),
			"buckets": sess.Notifications.Buckets(),
		})
	}
	sess.OnRoleChange = func() {
		cl.push(gin.H{"type": FrameReady, "userId": uid, "channels": sess.ActiveChannels()})
	}
	if err := sess.Start(ctx); err != nil {
		logger.Errorf("gateway session start user=%s: %v", uid, err)
		cl.push(gin.H{"type": FrameError, "msg": "session start failed"})
		return false
	}
	cl.push(gin.H{"type": FrameReady, "userId": uid, "channels": sess.ActiveChannels()})
	return true
}

func (s *Server) dispatch(ctx context.Context, cl *client, f *Frame) {
	switch f.Type {
	case FramePing:
		cl.push(gin.H{"type": FramePong})

	case FrameOpen:
		store, err := s.openByFrame(ctx, cl, f)
		if err != nil {
			cl.push(gin.H{"type": FrameError, "msg": err.Error()})
			return
		}
		key := store.Key
		store.OnChange = func() {
			cl.push(gin.H{"type": FrameMessages, "key": key, "messages": store.Messages(), "exhausted": store.Exhausted()})
		}
		cl.push(gin.H{"type": FrameMessages, "key": key, "messages": store.Messages(), "exhausted": store.Exhausted()})

	case FrameClose:
		cl.sess.CloseConversation(f.Key)

	case FrameSend:
		store, err := s.openByFrame(ctx, cl, f)
		if err != nil {
			cl.push(gin.H{"type": FrameError, "msg": err.Error()})
			return
		}
		id, err := store.Send(ctx, f.Body)
		if err != nil {
			// 乐观占位已回滚并随 OnChange 推送；这里再给个显式错误帧
			cl.push(gin.H{"type": FrameError, "msg": "send failed, retryable", "key": store.Key})
			return
		}
		cl.push(gin.H{"type": FrameReceipt, "key": store.Key, "id": id})

	case FrameLoadOlder:
		store := cl.sess.Conversation(f.Key)
		if store == nil {
			cl.push(gin.H{"type": FrameError, "msg": "conversation not open", "key": f.Key})
			return
		}
		if _, err := store.LoadOlder(ctx); err != nil {
			cl.push(gin.H{"type": FrameError, "msg": "load older failed, retryable", "key": f.Key})
		}

	case FrameMarkRead:
		cl.sess.Notifications.MarkRead(f.Category)

	case FrameResetRead:
		cl.sess.Notifications.Reset()

	default:
		cl.push(gin.H{"type": FrameError, "msg": "unknown frame type: " + f.Type})
	}
}

func (s *Server) openByFrame(ctx context.Context, cl *client, f *Frame) (*chat.Store, error) {
	if f.Group != "" {
		return cl.sess.OpenGroup(ctx, f.Group)
	}
	return cl.sess.OpenConversation(ctx, f.Peer)
}
