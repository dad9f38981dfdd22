package websocket

import (
	"StakeArena/internal/utils"
	"strings"
	"sync"
)

// Hub 按成员地址管理连接，一个地址只保留最新的一条连接
type Hub struct {
	clients    map[string]*Client // address -> client
	register   chan *Client
	unregister chan *Client
	broadcast  chan broadcastReq
	sendOne    chan sendReq
	incoming   chan IncomingMessage
	OnIncoming func(IncomingMessage)
	quit       chan struct{}
	mu         sync.RWMutex
}

type broadcastReq struct {
	Addresses []string
	Message   OutgoingMessage
}

type sendReq struct {
	Address string
	Message OutgoingMessage
}

func NewHub() *Hub {
	return &Hub{
		clients:    make(map[string]*Client),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		broadcast:  make(chan broadcastReq, 64),
		sendOne:    make(chan sendReq, 64),
		incoming:   make(chan IncomingMessage, 64),
		quit:       make(chan struct{}),
	}
}

func normalize(addr string) string { return strings.ToLower(addr) }

func (h *Hub) Run() {
	utils.Log.Info("websocket hub started")

	for {
		select {
		case c := <-h.register:
			h.mu.Lock()
			key := normalize(c.Address)
			if old, ok := h.clients[key]; ok && old != c {
				close(old.Send)
			}
			h.clients[key] = c
			n := len(h.clients)
			h.mu.Unlock()
			utils.Log.Debug("hub register", "address", c.Address, "connections", n)

		case c := <-h.unregister:
			h.mu.Lock()
			key := normalize(c.Address)
			// 只移除仍是当前连接的 client，被顶替的旧连接已在 register 时关闭
			if cur, ok := h.clients[key]; ok && cur == c {
				delete(h.clients, key)
				close(c.Send)
			}
			n := len(h.clients)
			h.mu.Unlock()
			utils.Log.Debug("hub unregister", "address", c.Address, "connections", n)

		case req := <-h.broadcast:
			h.mu.RLock()
			for _, addr := range req.Addresses {
				if client, ok := h.clients[normalize(addr)]; ok {
					h.deliver(client, req.Message)
				}
			}
			h.mu.RUnlock()

		case req := <-h.sendOne:
			h.mu.RLock()
			if client, ok := h.clients[normalize(req.Address)]; ok {
				h.deliver(client, req.Message)
			}
			h.mu.RUnlock()

		case req := <-h.incoming:
			if h.OnIncoming != nil {
				go h.OnIncoming(req)
			}

		case <-h.quit:
			h.mu.Lock()
			for key, c := range h.clients {
				close(c.Send)
				delete(h.clients, key)
			}
			h.mu.Unlock()
			return
		}
	}
}

// deliver 发送缓冲满时丢弃，通知已落库，客户端可以再拉取
func (h *Hub) deliver(c *Client, msg OutgoingMessage) {
	select {
	case c.Send <- msg:
	default:
		utils.Log.Warn("drop message for slow client", "address", c.Address, "event", msg.Event)
	}
}

// BroadcastToPlayers Broadcast to multiple players
func (h *Hub) BroadcastToPlayers(addrs []string, msg OutgoingMessage) {
	select {
	case h.broadcast <- broadcastReq{Addresses: addrs, Message: msg}:
	case <-h.quit:
	}
}

// SendToPlayer Send to a single player (safe concurrent)
func (h *Hub) SendToPlayer(addr string, msg OutgoingMessage) {
	select {
	case h.sendOne <- sendReq{Address: addr, Message: msg}:
	case <-h.quit:
	}
}

// Online 当前是否有该地址的连接
func (h *Hub) Online(addr string) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	_, ok := h.clients[normalize(addr)]
	return ok
}

func (h *Hub) Close() {
	close(h.quit)
}
