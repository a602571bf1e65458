package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sand/digital-marketplace/backend/internal/entities"
	"github.com/sand/digital-marketplace/backend/internal/events"
	"github.com/sand/digital-marketplace/backend/internal/models"
	"github.com/sand/digital-marketplace/backend/internal/usecases/mocked"
)

func dialOrderStream(t *testing.T, server *httptest.Server, orderID string) (*websocket.Conn, *http.Response, error) {
	t.Helper()
	url := "ws" + strings.TrimPrefix(server.URL, "http") + "/ws/orders/" + orderID
	return websocket.DefaultDialer.Dial(url, nil)
}

func readEvent(t *testing.T, conn *websocket.Conn) map[string]any {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(5*time.Second)))
	_, payload, err := conn.ReadMessage()
	require.NoError(t, err)

	var msg map[string]any
	require.NoError(t, json.Unmarshal(payload, &msg))
	return msg
}

func TestOrderStreamPushesStatusChanges(t *testing.T) {
	env := newHandlerEnv(t, testAdminToken, nil)
	server := httptest.NewServer(env.router)
	defer server.Close()

	_, err := env.wallets.Deposit(context.Background(), mocked.DemoBuyerID, requireAmount(t, "20"), "top up", "")
	require.NoError(t, err)
	order := env.createOrder(t, entities.PaymentMethodWallet, "PRD_EBOOK")

	conn, _, err := dialOrderStream(t, server, order.OrderID)
	require.NoError(t, err)
	defer conn.Close()

	snapshot := readEvent(t, conn)
	assert.Equal(t, "order.snapshot", snapshot["type"])
	assert.Equal(t, 1, env.manager.Subscribers(order.OrderID))

	_, err = env.payments.ProcessWalletPayment(context.Background(), order.OrderID)
	require.NoError(t, err)

	paid := readEvent(t, conn)
	assert.Equal(t, string(events.OrderPaid), paid["type"])
	assert.Equal(t, order.OrderID, paid["key"])

	completed := readEvent(t, conn)
	assert.Equal(t, string(events.OrderCompleted), completed["type"])
}

func TestOrderStreamUnknownOrder(t *testing.T) {
	env := newHandlerEnv(t, testAdminToken, nil)
	server := httptest.NewServer(env.router)
	defer server.Close()

	_, resp, err := dialOrderStream(t, server, "ORD_MISSING")
	require.ErrorIs(t, err, websocket.ErrBadHandshake)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestManagerIgnoresOtherEvents(t *testing.T) {
	env := newHandlerEnv(t, testAdminToken, nil)

	err := env.manager.Publish(context.Background(), events.Event{Type: events.PayoutRequested, Key: "PAY_1"})
	require.NoError(t, err)
	err = env.manager.Publish(context.Background(), events.Event{Type: events.OrderPaid, Key: "ORD_NOBODY"})
	require.NoError(t, err)
	assert.Zero(t, env.manager.Subscribers("ORD_NOBODY"))
}

// acceptConn returns the server side of a fresh websocket connection.
func acceptConn(t *testing.T, manager *Manager) *websocket.Conn {
	t.Helper()
	accepted := make(chan *websocket.Conn, 1)
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := manager.Upgrade(w, r)
		if err != nil {
			return
		}
		accepted <- conn
	}))
	t.Cleanup(server.Close)

	client, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(server.URL, "http"), nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = client.Close() })

	select {
	case conn := <-accepted:
		return conn
	case <-time.After(5 * time.Second):
		t.Fatal("websocket connection was not accepted")
		return nil
	}
}

func TestSubscribeFailureLeavesNoStream(t *testing.T) {
	env := newHandlerEnv(t, testAdminToken, nil)

	err := env.manager.Subscribe("ORD_BROKEN", nil, map[string]any{"order": make(chan int)})
	require.Error(t, err)

	env.manager.mu.Lock()
	defer env.manager.mu.Unlock()
	assert.NotContains(t, env.manager.streams, "ORD_BROKEN")
}

func TestUnsubscribeRemovesEmptyStream(t *testing.T) {
	env := newHandlerEnv(t, testAdminToken, nil)
	conn := acceptConn(t, env.manager)

	require.NoError(t, env.manager.Subscribe("ORD_1", conn, map[string]string{"type": "order.snapshot"}))
	assert.Equal(t, 1, env.manager.Subscribers("ORD_1"))

	env.manager.Unsubscribe("ORD_1", conn)
	env.manager.mu.Lock()
	defer env.manager.mu.Unlock()
	assert.NotContains(t, env.manager.streams, "ORD_1")
}

func TestPublishDropsStalledSubscriberWithoutBlocking(t *testing.T) {
	env := newHandlerEnv(t, testAdminToken, nil)
	conn := acceptConn(t, env.manager)

	// a subscriber whose queue is full and whose writer never drains it
	stalled := models.NewSubscriber(conn, 1)
	stalled.Send <- []byte(`{}`)
	stream := models.NewOrderStream("ORD_STALLED")
	stream.Subscribers[conn] = stalled
	env.manager.mu.Lock()
	env.manager.streams["ORD_STALLED"] = stream
	env.manager.mu.Unlock()

	published := make(chan error, 1)
	go func() {
		published <- env.manager.Publish(context.Background(), events.Event{
			Type:   events.OrderPaid,
			Key:    "ORD_STALLED",
			Status: string(entities.OrderStatusPaid),
		})
	}()

	select {
	case err := <-published:
		require.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("publish blocked on a stalled subscriber")
	}
	assert.Zero(t, env.manager.Subscribers("ORD_STALLED"))
	assert.Equal(t, string(entities.OrderStatusPaid), stream.LastStatus)
}
