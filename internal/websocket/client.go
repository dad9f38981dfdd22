package websocket

import (
	"time"

	"github.com/gorilla/websocket"
)

type Client struct {
	Address string
	Conn    *websocket.Conn
	Send    chan OutgoingMessage
	Hub     *Hub
}

const (
	writeWait      = 10 * time.Second    // 单次写超时
	pongWait       = 60 * time.Second    // 读超时
	pingPeriod     = (pongWait * 9) / 10 // 心跳发送周期
	maxMessageSize = 1024 * 4            // 最大4KB
)

func (h *Hub) join(c *Client) {
	select {
	case h.register <- c:
	case <-h.quit:
	}
}

func (h *Hub) leave(c *Client) {
	select {
	case h.unregister <- c:
	case <-h.quit:
	}
}

// 写协程
func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod) // 心跳
	defer func() {
		ticker.Stop()
		c.Hub.leave(c)
		_ = c.Conn.Close()
	}()

	for {
		select {

		// 有消息待发
		case msg, ok := <-c.Send:
			_ = c.Conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				// Hub关闭Send，通知前端
				_ = c.Conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}

			if err := c.Conn.WriteJSON(msg); err != nil {
				return
			}

		// 定时发送 ping 维持连接健康
		case <-ticker.C:
			_ = c.Conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.Conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// 读协程：上行消息交给 Hub.OnIncoming
func (c *Client) readPump() {
	defer func() {
		c.Hub.leave(c)
		_ = c.Conn.Close()
	}()

	c.Conn.SetReadLimit(maxMessageSize)
	_ = c.Conn.SetReadDeadline(time.Now().Add(pongWait))
	c.Conn.SetPongHandler(func(string) error {
		return c.Conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		var msg IncomingMessage
		if err := c.Conn.ReadJSON(&msg); err != nil {
			return
		}

		select {
		case c.Hub.incoming <- IncomingMessage{From: c.Address, Event: msg.Event, Data: msg.Data}:
		case <-c.Hub.quit:
			return
		}
	}
}
