package gateway

import (
	"sync"
	"time"

	"TProject/logger"
	"TProject/module/session"
	"TProject/tools/safe"

	"github.com/gorilla/websocket"
)

const (
	outboundBuffer = 64
	writeWait      = 10 * time.Second
)

// client 一条已升级的 ws 连接。写永远走单独的写协程，
// 事件回调只往 out 投递，不直接碰连接。
type client struct {
	ws   *websocket.Conn
	sess *session.Session

	mu     sync.Mutex
	out    chan any
	closed bool
}

func newClient(ws *websocket.Conn) *client {
	c := &client{ws: ws, out: make(chan any, outboundBuffer)}
	safe.Go(c.writePump)
	return c
}

// push 非阻塞投递；队列满了丢帧并记日志，慢客户端不拖住事件回调。
// 投递持锁进行：shutdown 用同一把锁关 out，不会关到投递一半的通道。
func (c *client) push(frame any) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	select {
	case c.out <- frame:
	default:
		logger.Warnf("gateway outbound queue full, dropping frame")
	}
}

func (c *client) writePump() {
	for frame := range c.out {
		_ = c.ws.SetWriteDeadline(time.Now().Add(writeWait))
		if err := c.ws.WriteJSON(frame); err != nil {
			logger.Infof("gateway write: %v", err)
			return
		}
	}
}

// shutdown 停会话、关出站队列。读循环退出后调用一次。
func (c *client) shutdown() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	close(c.out) // push 同锁，此刻没有在途投递
	c.mu.Unlock()

	if c.sess != nil {
		c.sess.Stop()
	}
}
