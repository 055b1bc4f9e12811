// Package websocket 向在线客户端实时推送通知。Kafka 消费者把通知载荷交给
// Hub，Hub 按 UserID 投递到对应连接；用户不在线时直接丢弃（通知本身已经
// 持久化，客户端上线后通过 HTTP 拉取）。
package websocket

import (
	"log"
)

// Push 是一条发给特定用户的推送。
type Push struct {
	UserID  uint
	Payload []byte
}

// Hub maintains the set of active clients and routes pushes to them.
type Hub struct {
	// Registered clients, mapping UserID to Client. One connection per user;
	// a new connection replaces the old one.
	clients map[uint]*Client

	register   chan *Client
	unregister chan *Client

	// Pushes aimed at a specific user.
	direct chan Push
}

// NewHub creates a new Hub.
func NewHub() *Hub {
	return &Hub{
		register:   make(chan *Client),
		unregister: make(chan *Client),
		clients:    make(map[uint]*Client),
		direct:     make(chan Push, 256),
	}
}

// DeliverNotification hands a push to the hub for delivery.
// Non-blocking so a slow hub never stalls the caller (the Kafka consumer).
func (h *Hub) DeliverNotification(userID uint, payload []byte) {
	select {
	case h.direct <- Push{UserID: userID, Payload: payload}:
	default:
		log.Printf("警告: Hub 投递通道已满，丢弃给用户 %d 的推送", userID)
	}
}

// Run starts the hub and listens for events on its channels.
func (h *Hub) Run() {
	log.Println("WebSocket Hub Run loop started.")
	for {
		select {
		case client := <-h.register:
			if existingClient, ok := h.clients[client.UserID]; ok {
				log.Printf("警告: 用户 %d 已有连接，关闭旧连接并注册新连接。", client.UserID)
				close(existingClient.send)
			}
			h.clients[client.UserID] = client
			log.Printf("客户端已注册: UserID %d", client.UserID)

		case client := <-h.unregister:
			// Only drop the mapping if it still points at this connection;
			// an old connection may already have been replaced.
			if storedClient, ok := h.clients[client.UserID]; ok && storedClient == client {
				delete(h.clients, client.UserID)
				close(client.send)
				log.Printf("客户端已注销: UserID %d", client.UserID)
			}

		case push := <-h.direct:
			client, ok := h.clients[push.UserID]
			if !ok {
				// 用户不在线,通知已持久化,客户端上线后自行拉取。
				continue
			}
			select {
			case client.send <- push.Payload:
			default:
				// Send buffer full: assume the client is slow or gone.
				log.Printf("警告: UserID %d 的发送通道已满或关闭，移除客户端。", push.UserID)
				close(client.send)
				delete(h.clients, push.UserID)
			}
		}
	}
}
