package ws

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/kiniela/internal/cache/local"
	"github.com/alanyoungcy/kiniela/internal/domain"
)

func dial(t *testing.T, url string) *websocket.Conn {
	t.Helper()
	conn, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(url, "http"), nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return conn
}

func readEvent(t *testing.T, conn *websocket.Conn) domain.Event {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	kind, data, err := conn.ReadMessage()
	require.NoError(t, err)
	assert.Equal(t, websocket.TextMessage, kind)
	var ev domain.Event
	require.NoError(t, json.Unmarshal(data, &ev))
	return ev
}

func TestHub_ForwardsBusEventsToClients(t *testing.T) {
	bus := local.NewBus(0)
	hub := NewHub(bus, slog.Default(), Config{})
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go hub.Run(ctx)

	srv := httptest.NewServer(http.HandlerFunc(hub.HandleWS))
	defer srv.Close()

	conn := dial(t, srv.URL)
	hello := readEvent(t, conn)
	assert.Equal(t, "hello", hello.Type)

	require.Eventually(t, func() bool { return hub.ClientCount() == 1 }, time.Second, 10*time.Millisecond)

	payload, err := json.Marshal(domain.Event{Type: domain.EventMarketUpdated, Payload: map[string]any{"id": 1}})
	require.NoError(t, err)

	// The hub subscribes asynchronously; republish until the first message lands.
	got := make(chan domain.Event, 1)
	go func() { got <- readEvent(t, conn) }()
	require.Eventually(t, func() bool {
		_ = bus.Publish(ctx, domain.ChannelMarkets, payload)
		select {
		case ev := <-got:
			return ev.Type == domain.EventMarketUpdated
		case <-time.After(20 * time.Millisecond):
			return false
		}
	}, 2*time.Second, 10*time.Millisecond)
}

func TestClient_SubscriptionFilter(t *testing.T) {
	c := &client{subs: map[string]bool{domain.ChannelMarkets: true}}
	assert.True(t, c.isSubscribed(domain.ChannelMarkets))
	assert.False(t, c.isSubscribed(domain.ChannelPurchases))

	c.apply(subscribeMsg{Action: "subscribe", Channels: []string{"*"}})
	assert.True(t, c.isSubscribed(domain.ChannelPurchases))

	c.apply(subscribeMsg{Action: "unsubscribe", Channels: []string{"*", domain.ChannelMarkets}})
	assert.False(t, c.isSubscribed(domain.ChannelMarkets))
}
