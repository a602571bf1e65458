package models

import (
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// OrderStream is the set of websocket connections following one order.
type OrderStream struct {
	OrderID     string                          `json:"orderId"`    // Followed order.
	LastStatus  string                          `json:"lastStatus"` // Status carried by the last pushed event.
	UpdatedAt   time.Time                       `json:"updatedAt"`  // Time of the last pushed event.
	Subscribers map[*websocket.Conn]*Subscriber `json:"-"`          // WebSocket update subscribers.
	Mutex       sync.Mutex                      `json:"-"`          // Guards Subscribers and their queues.
}

func NewOrderStream(orderID string) *OrderStream {
	return &OrderStream{
		OrderID:     orderID,
		Subscribers: make(map[*websocket.Conn]*Subscriber),
	}
}

// Subscriber is one connection and its outbound queue. Send is closed exactly once,
// by whoever removes the subscriber from its stream.
type Subscriber struct {
	Conn *websocket.Conn
	Send chan []byte
}

func NewSubscriber(conn *websocket.Conn, buffer int) *Subscriber {
	return &Subscriber{
		Conn: conn,
		Send: make(chan []byte, buffer),
	}
}
