package handlers

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"slices"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/sand/digital-marketplace/backend/internal/events"
	"github.com/sand/digital-marketplace/backend/internal/models"
)

const (
	writeWait  = 5 * time.Second
	sendBuffer = 16
)

// Manager keeps one stream per followed order and pushes order events to its
// subscribers. It implements events.Publisher.
type Manager struct {
	logger   *slog.Logger
	upgrader websocket.Upgrader

	mu      sync.Mutex
	streams map[string]*models.OrderStream
}

var _ events.Publisher = (*Manager)(nil)

func NewWebSocketManager(logger *slog.Logger, allowedOrigins []string) *Manager {
	allowAll := len(allowedOrigins) == 0 || slices.Contains(allowedOrigins, "*")
	return &Manager{
		logger: logger,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin: func(r *http.Request) bool {
				origin := r.Header.Get("Origin")
				return allowAll || origin == "" || slices.Contains(allowedOrigins, origin)
			},
		},
		streams: make(map[string]*models.OrderStream),
	}
}

func (m *Manager) Upgrade(w http.ResponseWriter, r *http.Request) (*websocket.Conn, error) {
	return m.upgrader.Upgrade(w, r, nil)
}

// Subscribe queues snapshot as the first message for conn and starts following orderID.
// The snapshot is queued under the stream lock so no event can overtake it.
func (m *Manager) Subscribe(orderID string, conn *websocket.Conn, snapshot any) error {
	payload, err := json.Marshal(snapshot)
	if err != nil {
		return fmt.Errorf("failed to marshal snapshot for order %s: %w", orderID, err)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	stream, ok := m.streams[orderID]
	if !ok {
		stream = models.NewOrderStream(orderID)
		m.streams[orderID] = stream
	}
	stream.Mutex.Lock()
	defer stream.Mutex.Unlock()

	sub := models.NewSubscriber(conn, sendBuffer)
	sub.Send <- payload
	stream.Subscribers[conn] = sub
	go m.writeLoop(orderID, sub)
	return nil
}

// writeLoop drains one subscriber's queue. It exits when the queue is closed or a write fails.
func (m *Manager) writeLoop(orderID string, sub *models.Subscriber) {
	for payload := range sub.Send {
		_ = sub.Conn.SetWriteDeadline(time.Now().Add(writeWait))
		if err := sub.Conn.WriteMessage(websocket.TextMessage, payload); err != nil {
			m.logger.Warn("Dropping websocket subscriber", "order_id", orderID, "error", err)
			m.Unsubscribe(orderID, sub.Conn)
			return
		}
	}
}

// Unsubscribe stops following orderID and closes conn. The stream is removed once empty.
func (m *Manager) Unsubscribe(orderID string, conn *websocket.Conn) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if stream, ok := m.streams[orderID]; ok {
		stream.Mutex.Lock()
		if sub, ok := stream.Subscribers[conn]; ok {
			delete(stream.Subscribers, conn)
			close(sub.Send)
		}
		empty := len(stream.Subscribers) == 0
		stream.Mutex.Unlock()
		if empty {
			delete(m.streams, orderID)
		}
	}
	_ = conn.Close()
}

func (m *Manager) Subscribers(orderID string) int {
	m.mu.Lock()
	stream, ok := m.streams[orderID]
	m.mu.Unlock()
	if !ok {
		return 0
	}
	stream.Mutex.Lock()
	defer stream.Mutex.Unlock()
	return len(stream.Subscribers)
}

// Publish queues order events for the order's subscribers and never waits on the network.
// A subscriber whose queue is full is dropped; its handler's read loop then cleans up.
func (m *Manager) Publish(ctx context.Context, event events.Event) error {
	if !event.IsOrderEvent() {
		return nil
	}

	m.mu.Lock()
	stream, ok := m.streams[event.Key]
	m.mu.Unlock()
	if !ok {
		return nil
	}

	payload, err := event.Marshal()
	if err != nil {
		return err
	}

	stream.Mutex.Lock()
	defer stream.Mutex.Unlock()

	stream.LastStatus = event.Status
	stream.UpdatedAt = event.Timestamp
	for conn, sub := range stream.Subscribers {
		select {
		case sub.Send <- payload:
		default:
			m.logger.WarnContext(ctx, "Dropping slow websocket subscriber", "order_id", event.Key)
			delete(stream.Subscribers, conn)
			close(sub.Send)
			_ = conn.Close()
		}
	}
	return nil
}

// Close disconnects every subscriber. Used on shutdown.
func (m *Manager) Close() {
	m.mu.Lock()
	defer m.mu.Unlock()

	for orderID, stream := range m.streams {
		stream.Mutex.Lock()
		for conn, sub := range stream.Subscribers {
			delete(stream.Subscribers, conn)
			close(sub.Send)
			_ = conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseGoingAway, "server shutdown"),
				time.Now().Add(time.Second))
			_ = conn.Close()
		}
		stream.Mutex.Unlock()
		delete(m.streams, orderID)
	}
}
